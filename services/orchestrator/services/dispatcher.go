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
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/Concierge/services/orchestrator/datatypes"
)

var dispatcherTracer = otel.Tracer("concierge.orchestrator.services.dispatcher")

// EventEmitter is the stream a branch pipeline writes to. Implemented by the
// SSE writer in the handlers package and by test doubles.
//
// A pipeline emits zero or more progress events and exactly one terminal
// event, either EmitFinal or EmitError; the Dispatcher enforces the terminal
// part.
type EventEmitter interface {
	// EmitProgress sends an observational progress event.
	EmitProgress(eventType, message string) error

	// EmitFinal sends the single terminal final_response event. data is
	// marshaled to JSON; metadata carries at least the query_type.
	EmitFinal(data any, metadata map[string]string) error

	// EmitError sends a terminal error event with a user-safe message.
	EmitError(message string) error
}

// DispatchOutcome is what the orchestrator persists as the assistant turn
// after a branch completed.
type DispatchOutcome struct {
	// Content is the human-readable answer text.
	Content string

	// Payload annotates the turn with the route that produced it.
	Payload *datatypes.TurnPayload
}

// clarificationPrompt is the fixed response of the clarification_needed
// branch. No model call is made; the classifier already decided the message
// was too vague to act on.
const clarificationPrompt = "Could you clarify what you'd like to do? I can answer questions about your orders, search our documentation, or help with a customer service issue."

// unsupportedMessage explains the service's scope for out-of-scope queries.
const unsupportedMessage = "I can help with questions about your orders, searches of our documentation, and customer service inquiries. I can't help with that request."

// Dispatcher routes a classified query to its branch pipeline and guarantees
// the stream's terminal event.
//
// Every branch failure is caught here: the caller gets the error for
// bookkeeping, but the stream always receives either one final_response or
// one error event, never both and never neither. Raw failure detail goes to
// the log, not the stream and not the turn store.
type Dispatcher struct {
	sqlAgent  *SQLAgentService
	docSearch *DocSearchService
	customer  *CustomerServiceHandler
}

// NewDispatcher wires the three capability-backed branches.
func NewDispatcher(sqlAgent *SQLAgentService, docSearch *DocSearchService, customer *CustomerServiceHandler) *Dispatcher {
	return &Dispatcher{sqlAgent: sqlAgent, docSearch: docSearch, customer: customer}
}

// Dispatch runs the branch for decision.QueryType with decision.TargetQuery.
//
// # Outputs
//
//   - *DispatchOutcome: non-nil exactly when the branch reached a
//     final_response; the orchestrator persists it as the assistant turn.
//   - error: the branch failure after the terminal error event has already
//     been emitted. No assistant turn should be persisted for it.
func (d *Dispatcher) Dispatch(ctx context.Context, decision *datatypes.RouteDecision, userID string, emitter EventEmitter) (*DispatchOutcome, error) {
	ctx, span := dispatcherTracer.Start(ctx, "Dispatcher.Dispatch")
	defer span.End()
	span.SetAttributes(attribute.String("routing.query_type", string(decision.QueryType)))

	outcome, err := d.run(ctx, decision, userID, emitter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "branch failed")
		emitter.EmitError(UserSafeMessage(err))
		return nil, err
	}

	emitter.EmitFinal(outcome.data, map[string]string{"query_type": string(decision.QueryType)})
	return &DispatchOutcome{
		Content: outcome.content,
		Payload: &datatypes.TurnPayload{Kind: datatypes.PayloadKindRoute, QueryType: decision.QueryType},
	}, nil
}

type branchResult struct {
	content string
	data    any
}

func (d *Dispatcher) run(ctx context.Context, decision *datatypes.RouteDecision, userID string, emitter EventEmitter) (*branchResult, error) {
	query := decision.TargetQuery

	switch decision.QueryType {
	case datatypes.QueryTypeSQL:
		result, err := d.sqlAgent.Answer(ctx, query, userID, emitter)
		if err != nil {
			return nil, err
		}
		return &branchResult{content: result.NaturalLanguageAnswer, data: result}, nil

	case datatypes.QueryTypeDocumentSearch:
		result, err := d.docSearch.Search(ctx, query, emitter)
		if err != nil {
			return nil, err
		}
		return &branchResult{content: result.Answer, data: result}, nil

	case datatypes.QueryTypeCustomerService:
		result := d.customer.Handle(ctx, query, emitter)
		return &branchResult{content: result.SuggestedResponse, data: result}, nil

	case datatypes.QueryTypeClarification:
		emitter.EmitProgress(datatypes.EventResponding, "Asking for clarification")
		return &branchResult{
			content: clarificationPrompt,
			data:    &datatypes.ClarificationResult{ClarificationPrompt: clarificationPrompt},
		}, nil

	case datatypes.QueryTypeUnsupported:
		// Deliberately no capability calls on this path.
		return &branchResult{
			content: unsupportedMessage,
			data: &datatypes.UnsupportedResult{
				Error:        "unsupported_query_type",
				Message:      unsupportedMessage,
				ReceivedType: string(decision.QueryType),
			},
		}, nil

	default:
		return nil, fmt.Errorf("no branch for query type %q", decision.QueryType)
	}
}

// UserSafeMessage maps an internal failure onto the message shown to the
// user. Raw error detail never crosses this boundary.
func UserSafeMessage(err error) string {
	switch {
	case errors.Is(err, datatypes.ErrInvalidInput):
		return "Your message couldn't be accepted. Check it isn't empty or too long and try again."
	case errors.Is(err, datatypes.ErrUnsafeQuery):
		return "I couldn't run a safe database query for that question. Try rephrasing it."
	case errors.Is(err, datatypes.ErrRetrievalFailure):
		return "The data service is temporarily unavailable. Please try again in a moment."
	case errors.Is(err, datatypes.ErrClassificationUnavailable):
		return "I couldn't process your message right now. Please try again shortly."
	default:
		return "Something went wrong while handling your message. Please try again."
	}
}
