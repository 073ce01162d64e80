// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package services provides the business logic of the orchestrator.
//
// This package contains the routing core: classification, query rewriting,
// confirmation resolution, the branch pipelines, and the session orchestrator
// that ties them together. Services are responsible for:
//   - Orchestrating calls to external capabilities (LLM, Weaviate, SQLite)
//   - Applying the routing and safety rules
//   - Mapping failures onto the error taxonomy at the dispatcher boundary
//
// Services are designed to be:
//   - Testable: Dependencies are injected via constructors
//   - Composable: Services can call other services
//   - Traceable: All methods accept context for distributed tracing
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/Concierge/services/llm"
	"github.com/AleutianAI/Concierge/services/orchestrator/datatypes"
)

// classifierTracer is the OpenTelemetry tracer for classification operations.
var classifierTracer = otel.Tracer("concierge.orchestrator.services.classifier")

// Compile-time interface implementation check.
var _ Classifier = (*LLMClassifier)(nil)

// Classifier routes a user message to exactly one query type.
//
// # Description
//
// Classification is pure with respect to the session: implementations read
// the message and the recent history but never persist anything. The returned
// RouteDecision always carries one of the five classifiable query types;
// query_confirmation is produced by the orchestrator's confirmation handling,
// never by a Classifier.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Classifier interface {
	// Classify determines the query type for message given the recent
	// conversation history (oldest first). Any backend failure or
	// unparseable model output is reported as ClassificationUnavailable.
	Classify(ctx context.Context, message string, history []datatypes.Turn) (*datatypes.RouteDecision, error)
}

// classifierPrompt instructs the model to emit strict JSON with a closed set
// of query types. The set here must stay in sync with
// datatypes.ClassifiableQueryTypes.
const classifierPrompt = `You are the query router for a customer concierge service.

Classify the user's message into exactly one of these categories:
- "sql_query": questions about the user's own orders or purchase data (counts, totals, statuses, dates).
- "document_search": questions answerable from the knowledge base (topics, how-to, factual lookups).
- "customer_service": complaints, account issues, billing questions, requests for human help.
- "clarification_needed": the message is too vague or ambiguous to route.
- "unsupported": anything else (jokes, chit-chat, code generation, out-of-scope requests).

%s

User message: %s

Respond with ONLY a JSON object, no prose:
{"query_type": "<one of the five categories>", "rationale": "<one short sentence>"}`

// LLMClassifier implements Classifier on top of an LLMClient.
type LLMClassifier struct {
	llm llm.LLMClient
}

// NewLLMClassifier creates a classifier backed by the given model client.
func NewLLMClassifier(client llm.LLMClient) *LLMClassifier {
	return &LLMClassifier{llm: client}
}

// Classify implements Classifier.
//
// # Outputs
//
//   - *datatypes.RouteDecision: the chosen query type plus the model's
//     rationale. TargetQuery is the original message; the orchestrator may
//     replace it after confirmation resolution.
//   - error: wraps datatypes.ErrClassificationUnavailable when the model is
//     unreachable, returns no JSON, or names a type outside the closed set.
func (c *LLMClassifier) Classify(ctx context.Context, message string, history []datatypes.Turn) (*datatypes.RouteDecision, error) {
	ctx, span := classifierTracer.Start(ctx, "LLMClassifier.Classify")
	defer span.End()

	contextBlock := ""
	if rendered := formatHistory(history, datatypes.HistoryWindowTurns); rendered != "" {
		contextBlock = "Recent conversation:\n" + rendered
	}

	temperature := float32(0.0)
	raw, err := c.llm.Generate(ctx, fmt.Sprintf(classifierPrompt, contextBlock, message), llm.GenerationParams{
		Temperature: &temperature,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "llm generate failed")
		return nil, fmt.Errorf("%w: %v", datatypes.ErrClassificationUnavailable, err)
	}

	obj, err := extractJSONObject(raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "no JSON in classifier output")
		return nil, fmt.Errorf("%w: classifier returned no JSON", datatypes.ErrClassificationUnavailable)
	}

	var parsed struct {
		QueryType string `json:"query_type"`
		Rationale string `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(obj), &parsed); err != nil {
		return nil, fmt.Errorf("%w: unparseable classifier output: %v", datatypes.ErrClassificationUnavailable, err)
	}

	qt := datatypes.QueryType(strings.TrimSpace(strings.ToLower(parsed.QueryType)))
	if !isClassifiable(qt) {
		return nil, fmt.Errorf("%w: model emitted unknown query type %q", datatypes.ErrClassificationUnavailable, parsed.QueryType)
	}

	span.SetAttributes(attribute.String("routing.query_type", string(qt)))
	return &datatypes.RouteDecision{
		QueryType:   qt,
		Rationale:   parsed.Rationale,
		TargetQuery: message,
	}, nil
}

func isClassifiable(qt datatypes.QueryType) bool {
	for _, valid := range datatypes.ClassifiableQueryTypes() {
		if qt == valid {
			return true
		}
	}
	return false
}

// formatHistory renders the last limit turns as "User:"/"Assistant:" lines,
// oldest first, for inclusion in a prompt.
func formatHistory(history []datatypes.Turn, limit int) string {
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	var b strings.Builder
	for _, turn := range history {
		label := "User"
		if turn.Role == datatypes.RoleAssistant {
			label = "Assistant"
		}
		fmt.Fprintf(&b, "%s: %s\n", label, turn.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

// extractJSONObject returns the first balanced top-level JSON object in s.
// Models wrap JSON in prose or markdown fences often enough that a strict
// json.Unmarshal of the whole response is too brittle.
func extractJSONObject(s string) (string, error) {
	start := strings.Index(s, "{")
	if start < 0 {
		return "", fmt.Errorf("no JSON object found")
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unterminated JSON object")
}
