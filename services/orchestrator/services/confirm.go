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
	"strings"

	"github.com/AleutianAI/Concierge/services/orchestrator/datatypes"
)

// Confirmation reply phrasing. Matching is exact against the normalized
// reply, not substring-based, so that a fresh message which merely starts
// with "yes" ("yes I also wanted to ask about billing") is not swallowed as
// a confirmation.
var (
	useOriginalReplies = map[string]struct{}{
		"original":            {},
		"use original":        {},
		"use the original":    {},
		"no, use original":    {},
		"no, use the original": {},
		"keep original":       {},
		"keep the original":   {},
		"as-is":               {},
		"as is":               {},
		"search as-is":        {},
		"search as is":        {},
	}
	affirmativeReplies = map[string]struct{}{
		"yes":         {},
		"y":           {},
		"yes please":  {},
		"yeah":        {},
		"yep":         {},
		"yup":         {},
		"sure":        {},
		"ok":          {},
		"okay":        {},
		"correct":     {},
		"that's right": {},
		"sounds good": {},
		"go ahead":    {},
		"use rewritten":     {},
		"use the rewritten": {},
	}
)

// ResolveConfirmation interprets a user reply against the rewrite proposal
// carried by the immediately preceding assistant turn.
//
// # Description
//
// Pure function, no model call. priorTurn is the latest persisted turn of the
// session; only that turn is eligible to hold a live proposal, which is how a
// proposal gets consumed at most once: after any turn is appended behind it,
// it stops being the latest turn and the proposal is dead.
//
// # Outputs
//
// The outcome kind follows a fixed policy:
//   - no live proposal → ConfirmationNotPending (the reply is a fresh message)
//   - explicit original/as-is phrasing → ConfirmationUseOriginal
//   - affirmative → ConfirmationUseRewritten
//   - anything else, bare negatives included → ConfirmationNeedsRephrase;
//     guessing which variant a "no" or an unrecognized reply meant is worse
//     than asking again.
//
// Query is populated for UseRewritten and UseOriginal and is always taken
// from the proposal, never from the reply text.
func ResolveConfirmation(reply string, priorTurn *datatypes.Turn) datatypes.ConfirmationOutcome {
	proposal := priorTurn.PendingProposal()
	if proposal == nil {
		return datatypes.ConfirmationOutcome{Kind: datatypes.ConfirmationNotPending}
	}

	normalized := normalizeReply(reply)

	if _, ok := useOriginalReplies[normalized]; ok {
		// Declining the correction still gets the filler-stripped form of the
		// original, never the raw message text.
		query := proposal.CleanQuery
		if query == "" {
			query = proposal.OriginalQuery
		}
		return datatypes.ConfirmationOutcome{
			Kind:  datatypes.ConfirmationUseOriginal,
			Query: query,
		}
	}
	if _, ok := affirmativeReplies[normalized]; ok {
		return datatypes.ConfirmationOutcome{
			Kind:  datatypes.ConfirmationUseRewritten,
			Query: proposal.RewrittenQuery,
		}
	}
	return datatypes.ConfirmationOutcome{Kind: datatypes.ConfirmationNeedsRephrase}
}

// normalizeReply lowercases, trims whitespace and strips trailing sentence
// punctuation. Internal punctuation (the comma in "no, use original") is
// kept so the phrase tables can match it.
func normalizeReply(reply string) string {
	r := strings.ToLower(strings.TrimSpace(reply))
	r = strings.TrimRight(r, ".!?")
	return strings.TrimSpace(r)
}
