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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/Concierge/services/orchestrator/datatypes"
)

func proposalTurn() *datatypes.Turn {
	return &datatypes.Turn{
		Role:    datatypes.RoleAssistant,
		Content: "Did you mean: African people?",
		StructuredPayload: &datatypes.TurnPayload{
			Kind: datatypes.PayloadKindRewriteProposal,
			Proposal: &datatypes.RewriteProposal{
				OriginalQuery:  "Africa people",
				CleanQuery:     "Africa people",
				RewrittenQuery: "African people",
				Reason:         "grammatical correction",
			},
		},
	}
}

func TestResolveConfirmationAffirmative(t *testing.T) {
	for _, reply := range []string{"yes", "Yes", "YES!", "  yeah ", "sure", "ok", "Okay.", "go ahead", "y"} {
		outcome := ResolveConfirmation(reply, proposalTurn())
		assert.Equal(t, datatypes.ConfirmationUseRewritten, outcome.Kind, "reply %q", reply)
		assert.Equal(t, "African people", outcome.Query, "reply %q", reply)
	}
}

func TestResolveConfirmationUseOriginal(t *testing.T) {
	for _, reply := range []string{"use original", "Use the original", "as-is", "as is", "no, use original", "keep the original"} {
		outcome := ResolveConfirmation(reply, proposalTurn())
		assert.Equal(t, datatypes.ConfirmationUseOriginal, outcome.Kind, "reply %q", reply)
		assert.Equal(t, "Africa people", outcome.Query, "reply %q", reply)
	}
}

func TestResolveConfirmationUseOriginalIsCleaned(t *testing.T) {
	// A filler-laden original resolves to its cleaned form, not the raw text.
	turn := proposalTurn()
	turn.StructuredPayload.Proposal.OriginalQuery = "tell me about Africa people"
	turn.StructuredPayload.Proposal.CleanQuery = "Africa people"

	outcome := ResolveConfirmation("use original", turn)
	assert.Equal(t, datatypes.ConfirmationUseOriginal, outcome.Kind)
	assert.Equal(t, "Africa people", outcome.Query)
}

func TestResolveConfirmationUseOriginalWithoutCleanQuery(t *testing.T) {
	// Proposals persisted before CleanQuery existed fall back to the raw
	// original rather than searching an empty string.
	turn := proposalTurn()
	turn.StructuredPayload.Proposal.CleanQuery = ""

	outcome := ResolveConfirmation("use original", turn)
	assert.Equal(t, datatypes.ConfirmationUseOriginal, outcome.Kind)
	assert.Equal(t, "Africa people", outcome.Query)
}

func TestResolveConfirmationBareNegative(t *testing.T) {
	for _, reply := range []string{"no", "No.", "nope", "nah", "n"} {
		outcome := ResolveConfirmation(reply, proposalTurn())
		assert.Equal(t, datatypes.ConfirmationNeedsRephrase, outcome.Kind, "reply %q", reply)
		assert.Empty(t, outcome.Query)
	}
}

func TestResolveConfirmationUnrecognizedUnderProposal(t *testing.T) {
	outcome := ResolveConfirmation("what about my billing?", proposalTurn())
	assert.Equal(t, datatypes.ConfirmationNeedsRephrase, outcome.Kind)
}

func TestResolveConfirmationAffirmativePrefixIsNotAMatch(t *testing.T) {
	// A longer message starting with "yes" is not a confirmation.
	outcome := ResolveConfirmation("yes I also wanted to ask about billing", proposalTurn())
	assert.Equal(t, datatypes.ConfirmationNeedsRephrase, outcome.Kind)
}

func TestResolveConfirmationNoProposal(t *testing.T) {
	tests := []struct {
		name string
		turn *datatypes.Turn
	}{
		{"nil turn", nil},
		{"plain assistant turn", &datatypes.Turn{Role: datatypes.RoleAssistant, Content: "here are your orders"}},
		{"user turn", &datatypes.Turn{Role: datatypes.RoleUser, Content: "hello"}},
		{
			"route payload, not a proposal",
			&datatypes.Turn{
				Role:              datatypes.RoleAssistant,
				StructuredPayload: &datatypes.TurnPayload{Kind: datatypes.PayloadKindRoute, QueryType: datatypes.QueryTypeSQL},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome := ResolveConfirmation("yes", tt.turn)
			assert.Equal(t, datatypes.ConfirmationNotPending, outcome.Kind)
		})
	}
}
