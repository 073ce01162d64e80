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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Concierge/services/orchestrator/datatypes"
)

func TestClassifyParsesEachQueryType(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     datatypes.QueryType
	}{
		{"sql", `{"query_type": "sql_query", "rationale": "asks about own orders"}`, datatypes.QueryTypeSQL},
		{"docs", `{"query_type": "document_search", "rationale": "knowledge base topic"}`, datatypes.QueryTypeDocumentSearch},
		{"support", `{"query_type": "customer_service", "rationale": "billing complaint"}`, datatypes.QueryTypeCustomerService},
		{"vague", `{"query_type": "clarification_needed", "rationale": "too vague"}`, datatypes.QueryTypeClarification},
		{"joke", `{"query_type": "unsupported", "rationale": "chit-chat"}`, datatypes.QueryTypeUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewLLMClassifier(&fakeLLM{Responses: []string{tt.response}})
			decision, err := c.Classify(context.Background(), "some message", nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, decision.QueryType)
			assert.Equal(t, "some message", decision.TargetQuery)
		})
	}
}

func TestClassifyToleratesProseAroundJSON(t *testing.T) {
	c := NewLLMClassifier(&fakeLLM{Responses: []string{
		"Sure! Here is the classification:\n```json\n{\"query_type\": \"sql_query\", \"rationale\": \"orders\"}\n```",
	}})

	decision, err := c.Classify(context.Background(), "how many orders do I have?", nil)
	require.NoError(t, err)
	assert.Equal(t, datatypes.QueryTypeSQL, decision.QueryType)
}

func TestClassifyRejectsUnknownType(t *testing.T) {
	c := NewLLMClassifier(&fakeLLM{Responses: []string{`{"query_type": "weather_report"}`}})

	_, err := c.Classify(context.Background(), "msg", nil)
	assert.ErrorIs(t, err, datatypes.ErrClassificationUnavailable)
}

func TestClassifyRejectsConfirmationType(t *testing.T) {
	// query_confirmation is produced by confirmation handling, never the
	// classifier, so a model emitting it is treated as unparseable.
	c := NewLLMClassifier(&fakeLLM{Responses: []string{`{"query_type": "query_confirmation"}`}})

	_, err := c.Classify(context.Background(), "msg", nil)
	assert.ErrorIs(t, err, datatypes.ErrClassificationUnavailable)
}

func TestClassifyBackendFailure(t *testing.T) {
	c := NewLLMClassifier(&fakeLLM{Err: errors.New("connection refused")})

	_, err := c.Classify(context.Background(), "msg", nil)
	assert.ErrorIs(t, err, datatypes.ErrClassificationUnavailable)
}

func TestClassifyNonJSONOutput(t *testing.T) {
	c := NewLLMClassifier(&fakeLLM{Responses: []string{"I think this is a SQL question."}})

	_, err := c.Classify(context.Background(), "msg", nil)
	assert.ErrorIs(t, err, datatypes.ErrClassificationUnavailable)
}

func TestClassifyIncludesHistoryWindow(t *testing.T) {
	fake := &fakeLLM{Responses: []string{`{"query_type": "document_search"}`}}
	c := NewLLMClassifier(fake)

	history := make([]datatypes.Turn, 0, 12)
	for i := 0; i < 12; i++ {
		role := datatypes.RoleUser
		if i%2 == 1 {
			role = datatypes.RoleAssistant
		}
		history = append(history, datatypes.Turn{Role: role, Content: string(rune('a' + i))})
	}

	_, err := c.Classify(context.Background(), "msg", history)
	require.NoError(t, err)
	require.Len(t, fake.Prompts, 1)

	prompt := fake.Prompts[0]
	// Only the last 10 turns may appear.
	assert.NotContains(t, prompt, "User: a")
	assert.NotContains(t, prompt, "Assistant: b")
	assert.Contains(t, prompt, "User: c")
	assert.Contains(t, prompt, "Assistant: l")
}

func TestFormatHistoryLabels(t *testing.T) {
	rendered := formatHistory([]datatypes.Turn{
		{Role: datatypes.RoleUser, Content: "hello"},
		{Role: datatypes.RoleAssistant, Content: "hi there"},
	}, 10)
	assert.Equal(t, "User: hello\nAssistant: hi there", rendered)
}

func TestExtractJSONObjectHandlesNestedBraces(t *testing.T) {
	obj, err := extractJSONObject(`prefix {"a": {"b": "c}"}, "d": 1} suffix`)
	require.NoError(t, err)
	assert.Equal(t, `{"a": {"b": "c}"}, "d": 1}`, obj)
}
