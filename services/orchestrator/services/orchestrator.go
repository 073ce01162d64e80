// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/Concierge/services/orchestrator/datatypes"
	"github.com/AleutianAI/Concierge/services/orchestrator/observability"
)

var orchestratorTracer = otel.Tracer("concierge.orchestrator.services.orchestrator")

// TurnStore is the slice of the storage layer the orchestrator needs.
// Implemented by storage.Store.
type TurnStore interface {
	EnsureSession(ctx context.Context, sessionID, userID string) error
	AppendTurn(ctx context.Context, turn *datatypes.Turn) error
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]datatypes.Turn, error)
}

// confirmationActions are the reply options offered with every rewrite
// proposal.
var confirmationActions = []string{"yes", "no", "use original"}

// rephrasePrompt is sent when a confirmation reply could not be interpreted.
const rephrasePrompt = "I wasn't sure how to read that reply. Please rephrase your question, or answer the pending suggestion with 'yes', 'no', or 'use original'."

// Orchestrator drives one message through the request cycle:
// classification, optional rewrite confirmation, branch dispatch, and turn
// persistence.
//
// # State Machine
//
// Idle -> Classifying -> (RewritePending | Dispatching) -> Responding -> Idle.
// None of that state lives in memory between requests: a pending
// confirmation is a queryable property of the session's last persisted
// assistant turn, so RewritePending survives restarts and is consumed the
// moment any turn is appended behind it.
//
// # Concurrency
//
// Messages for the same session are serialized with an in-process per-session
// mutex; messages for different sessions run concurrently. The store's
// append-only ordering is the source of truth for turn order.
type Orchestrator struct {
	classifier Classifier
	rewriter   RewriteAnalyzer
	dispatcher *Dispatcher
	store      TurnStore

	mu    sync.Mutex
	locks map[string]*sessionLock
}

// sessionLock is a per-session mutex with a waiter count so the locks map
// stays bounded by the number of in-flight requests instead of growing one
// entry per session id ever seen.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewOrchestrator wires the routing core together.
func NewOrchestrator(classifier Classifier, rewriter RewriteAnalyzer, dispatcher *Dispatcher, store TurnStore) *Orchestrator {
	return &Orchestrator{
		classifier: classifier,
		rewriter:   rewriter,
		dispatcher: dispatcher,
		store:      store,
		locks:      make(map[string]*sessionLock),
	}
}

// ProcessMessage handles one validated chat request end to end, writing the
// event stream to emitter.
//
// # Description
//
// The user turn is persisted before any routing work. The assistant turn is
// persisted only when a branch reaches a terminal outcome; a failed branch
// or a disconnected client leaves no assistant turn behind.
//
// # Outputs
//
//   - error: the underlying failure, already surfaced to the stream as a
//     terminal error event. Callers use it for metrics and logging only.
func (o *Orchestrator) ProcessMessage(ctx context.Context, req *datatypes.StreamingChatRequest, emitter EventEmitter) error {
	ctx, span := orchestratorTracer.Start(ctx, "Orchestrator.ProcessMessage")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", req.SessionID))

	unlock := o.lockSession(req.SessionID)
	defer unlock()

	emitter.EmitProgress(datatypes.EventStatus, "Processing your message")

	// Step 1: Load recent history. The last turn in it decides whether this
	// message answers a pending rewrite proposal.
	history, err := o.store.RecentTurns(ctx, req.SessionID, datatypes.HistoryWindowTurns)
	if err != nil {
		err = fmt.Errorf("%w: load history: %v", datatypes.ErrRetrievalFailure, err)
		span.RecordError(err)
		emitter.EmitError(UserSafeMessage(err))
		return err
	}
	var lastTurn *datatypes.Turn
	if len(history) > 0 {
		lastTurn = &history[len(history)-1]
	}

	// Step 2: Persist the user turn. Append-only; even a failed request
	// keeps the user's side of the conversation.
	if err := o.store.AppendTurn(ctx, &datatypes.Turn{
		SessionID: req.SessionID,
		Role:      datatypes.RoleUser,
		Content:   req.Message,
	}); err != nil {
		err = fmt.Errorf("%w: persist user turn: %v", datatypes.ErrRetrievalFailure, err)
		span.RecordError(err)
		emitter.EmitError(UserSafeMessage(err))
		return err
	}

	// Step 3: Resolve a pending confirmation, if any.
	outcome := ResolveConfirmation(req.Message, lastTurn)
	switch outcome.Kind {
	case datatypes.ConfirmationUseRewritten, datatypes.ConfirmationUseOriginal:
		// Proposals only ever come from the document search path, so the
		// resolved query dispatches there directly. The literal reply text
		// ("yes", "use original") is never searched.
		span.SetAttributes(attribute.String("routing.confirmation", "resolved"))
		decision := &datatypes.RouteDecision{
			QueryType:   datatypes.QueryTypeDocumentSearch,
			TargetQuery: outcome.Query,
		}
		return o.dispatch(ctx, decision, req, emitter)

	case datatypes.ConfirmationNeedsRephrase:
		span.SetAttributes(attribute.String("routing.confirmation", "needs_rephrase"))
		return o.respondRephrase(ctx, req, emitter)

	case datatypes.ConfirmationNotPending:
		// Fresh message; fall through to classification.
	}

	// Step 4: Classify.
	emitter.EmitProgress(datatypes.EventProcessing, "Figuring out how to help")
	classifyStart := time.Now()
	decision, err := o.classifier.Classify(ctx, req.Message, history)
	if m := observability.DefaultMetrics; m != nil {
		m.RecordClassification(time.Since(classifyStart).Seconds())
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "classification failed")
		emitter.EmitError(UserSafeMessage(err))
		return err
	}
	span.SetAttributes(attribute.String("routing.query_type", string(decision.QueryType)))

	// Step 5: Document searches go through rewrite analysis before
	// dispatch. A proposed rewrite suspends the cycle for confirmation.
	if decision.QueryType == datatypes.QueryTypeDocumentSearch {
		result := o.rewriter.Analyze(ctx, req.Message)
		if result.Kind == datatypes.RewriteProposed {
			return o.proposeRewrite(ctx, result.Proposal, req, emitter)
		}
		decision.TargetQuery = result.CleanQuery
	}

	return o.dispatch(ctx, decision, req, emitter)
}

// dispatch runs the branch and persists the assistant turn on success.
func (o *Orchestrator) dispatch(ctx context.Context, decision *datatypes.RouteDecision, req *datatypes.StreamingChatRequest, emitter EventEmitter) error {
	branchStart := time.Now()
	outcome, err := o.dispatcher.Dispatch(ctx, decision, req.UserID, emitter)
	if m := observability.DefaultMetrics; m != nil {
		m.RecordQuery(string(decision.QueryType), err == nil)
		m.RecordBranchDuration(string(decision.QueryType), time.Since(branchStart).Seconds(), err == nil)
	}
	if err != nil {
		return err
	}
	o.persistAssistantTurn(ctx, req.SessionID, outcome.Content, outcome.Payload)
	return nil
}

// proposeRewrite suspends the request cycle: the proposal is streamed as the
// terminal response and persisted in the assistant turn's payload, where the
// next message will find it.
func (o *Orchestrator) proposeRewrite(ctx context.Context, proposal *datatypes.RewriteProposal, req *datatypes.StreamingChatRequest, emitter EventEmitter) error {
	content := fmt.Sprintf(
		"Did you mean: %q? Reply 'yes' to search the corrected version, 'no' to rephrase, or 'use original' to search your wording as-is.",
		proposal.RewrittenQuery,
	)

	emitter.EmitFinal(&datatypes.ConfirmationRequest{
		OriginalQuery:  proposal.OriginalQuery,
		RewrittenQuery: proposal.RewrittenQuery,
		Reason:         proposal.Reason,
		Actions:        confirmationActions,
	}, map[string]string{"query_type": string(datatypes.QueryTypeConfirmation)})

	o.persistAssistantTurn(ctx, req.SessionID, content, &datatypes.TurnPayload{
		Kind:     datatypes.PayloadKindRewriteProposal,
		Proposal: proposal,
	})
	return nil
}

// respondRephrase answers an uninterpretable confirmation reply. Appending
// this turn is also what consumes the proposal.
func (o *Orchestrator) respondRephrase(ctx context.Context, req *datatypes.StreamingChatRequest, emitter EventEmitter) error {
	emitter.EmitFinal(&datatypes.ClarificationResult{
		ClarificationPrompt: rephrasePrompt,
	}, map[string]string{"query_type": string(datatypes.QueryTypeClarification)})

	o.persistAssistantTurn(ctx, req.SessionID, rephrasePrompt, &datatypes.TurnPayload{
		Kind:      datatypes.PayloadKindRoute,
		QueryType: datatypes.QueryTypeClarification,
	})
	return nil
}

// persistAssistantTurn writes the terminal assistant turn unless the client
// already went away. A disconnect abandons the work without a partial turn.
func (o *Orchestrator) persistAssistantTurn(ctx context.Context, sessionID, content string, payload *datatypes.TurnPayload) {
	if ctx.Err() != nil {
		slog.Info("Client disconnected, not persisting assistant turn", "session_id", sessionID)
		return
	}
	err := o.store.AppendTurn(ctx, &datatypes.Turn{
		SessionID:         sessionID,
		Role:              datatypes.RoleAssistant,
		Content:           content,
		StructuredPayload: payload,
	})
	if err != nil {
		// The response already reached the client; losing the turn record
		// is a degradation, not a request failure.
		slog.Error("Failed to persist assistant turn", "session_id", sessionID, "error", err)
	}
}

// lockSession serializes message processing per session. The entry is
// dropped from the map once the last waiter releases it.
func (o *Orchestrator) lockSession(sessionID string) func() {
	o.mu.Lock()
	l, ok := o.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		o.locks[sessionID] = l
	}
	l.refs++
	o.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		o.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(o.locks, sessionID)
		}
		o.mu.Unlock()
	}
}
