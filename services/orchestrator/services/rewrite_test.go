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

func TestDefaultCleaner(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"please tell me about solar panels", "solar panels"},
		{"Can you search for return policy?", "return policy"},
		{"  warranty   terms  ", "warranty terms"},
		{"solar panels", "solar panels"},
		{"please ", "please"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DefaultCleaner(tt.in), "input %q", tt.in)
	}
}

func TestAnalyzeProposesRewrite(t *testing.T) {
	a := NewLLMRewriteAnalyzer(&fakeLLM{Responses: []string{
		`{"clean_topic": "Africa people", "needs_confirmation": true, "rewritten_query": "African people", "rewrite_reason": "grammatical correction"}`,
	}}, nil)

	result := a.Analyze(context.Background(), "tell me about Africa people")
	require.Equal(t, datatypes.RewriteProposed, result.Kind)
	require.NotNil(t, result.Proposal)
	assert.Equal(t, "tell me about Africa people", result.Proposal.OriginalQuery)
	assert.Equal(t, "Africa people", result.Proposal.CleanQuery)
	assert.Equal(t, "African people", result.Proposal.RewrittenQuery)
	assert.Equal(t, "grammatical correction", result.Proposal.Reason)
}

func TestAnalyzeNoRewriteNeeded(t *testing.T) {
	a := NewLLMRewriteAnalyzer(&fakeLLM{Responses: []string{
		`{"clean_topic": "return policy", "needs_confirmation": false, "rewritten_query": "", "rewrite_reason": ""}`,
	}}, nil)

	result := a.Analyze(context.Background(), "please tell me about return policy")
	assert.Equal(t, datatypes.NoRewriteNeeded, result.Kind)
	assert.Equal(t, "return policy", result.CleanQuery)
	assert.Nil(t, result.Proposal)
}

func TestAnalyzeDegradesOnBackendFailure(t *testing.T) {
	a := NewLLMRewriteAnalyzer(&fakeLLM{Err: errors.New("timeout")}, nil)

	result := a.Analyze(context.Background(), "please tell me about solar panels")
	assert.Equal(t, datatypes.NoRewriteNeeded, result.Kind)
	assert.Equal(t, "solar panels", result.CleanQuery)
}

func TestAnalyzeDegradesOnGarbageOutput(t *testing.T) {
	a := NewLLMRewriteAnalyzer(&fakeLLM{Responses: []string{"no json here"}}, nil)

	result := a.Analyze(context.Background(), "warranty terms")
	assert.Equal(t, datatypes.NoRewriteNeeded, result.Kind)
	assert.Equal(t, "warranty terms", result.CleanQuery)
}

func TestAnalyzeIgnoresIdenticalRewrite(t *testing.T) {
	a := NewLLMRewriteAnalyzer(&fakeLLM{Responses: []string{
		`{"clean_topic": "solar panels", "needs_confirmation": true, "rewritten_query": "Solar Panels", "rewrite_reason": "capitalization"}`,
	}}, nil)

	result := a.Analyze(context.Background(), "solar panels")
	assert.Equal(t, datatypes.NoRewriteNeeded, result.Kind)
}

func TestAnalyzeUsesCustomCleaner(t *testing.T) {
	upper := func(q string) string { return "CLEANED" }
	a := NewLLMRewriteAnalyzer(&fakeLLM{Err: errors.New("down")}, upper)

	result := a.Analyze(context.Background(), "anything")
	assert.Equal(t, "CLEANED", result.CleanQuery)
}
