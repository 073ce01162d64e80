// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "encoding/json"

// =============================================================================
// Query Types
// =============================================================================

// QueryType is the classification bucket that determines which branch
// pipeline handles a message. The set is closed; anything outside it is a
// parse error, never a new route.
type QueryType string

const (
	QueryTypeSQL             QueryType = "sql_query"
	QueryTypeDocumentSearch  QueryType = "document_search"
	QueryTypeCustomerService QueryType = "customer_service"
	QueryTypeClarification   QueryType = "clarification_needed"
	QueryTypeConfirmation    QueryType = "query_confirmation"
	QueryTypeUnsupported     QueryType = "unsupported"
)

// IsValid reports whether q is one of the six defined query types.
func (q QueryType) IsValid() bool {
	switch q {
	case QueryTypeSQL, QueryTypeDocumentSearch, QueryTypeCustomerService,
		QueryTypeClarification, QueryTypeConfirmation, QueryTypeUnsupported:
		return true
	}
	return false
}

// ClassifiableQueryTypes returns the types the intent classifier may emit.
// query_confirmation is produced only by the rewrite analyzer downstream of
// a document_search classification, never by the classifier itself.
func ClassifiableQueryTypes() []QueryType {
	return []QueryType{
		QueryTypeSQL,
		QueryTypeDocumentSearch,
		QueryTypeCustomerService,
		QueryTypeClarification,
		QueryTypeUnsupported,
	}
}

// RouteDecision is the output of classification.
//
// # Fields
//
//   - QueryType: One of the closed set above.
//   - Rationale: Optional classifier explanation, kept for observability only.
//   - TargetQuery: The string actually used downstream. Either the original
//     message or a resolved rewritten query; never the literal confirmation
//     reply text.
type RouteDecision struct {
	QueryType   QueryType `json:"query_type"`
	Rationale   string    `json:"rationale,omitempty"`
	TargetQuery string    `json:"target_query"`
}

// =============================================================================
// Rewrite Types
// =============================================================================

// RewriteProposal is a suggested grammatical correction awaiting user
// confirmation. It lives inside the structured payload of the assistant turn
// that presented it and has no existence independent of that turn.
//
// CleanQuery is the filler-stripped form of OriginalQuery, captured at
// proposal time. Declining the rewrite searches CleanQuery, never the raw
// message text.
type RewriteProposal struct {
	OriginalQuery  string `json:"original_query"`
	CleanQuery     string `json:"clean_query"`
	RewrittenQuery string `json:"rewritten_query"`
	Reason         string `json:"reason"`
}

// RewriteKind tags the two RewriteResult variants.
type RewriteKind int

const (
	// NoRewriteNeeded: the query is usable after light cleaning.
	NoRewriteNeeded RewriteKind = iota

	// RewriteProposed: a correction was found and needs one round-trip of
	// user confirmation before it may be searched.
	RewriteProposed
)

// RewriteResult is the tagged output of the rewrite analyzer.
//
// Exactly one of CleanQuery (NoRewriteNeeded) or Proposal (RewriteProposed)
// is meaningful for a given Kind.
type RewriteResult struct {
	Kind       RewriteKind
	CleanQuery string
	Proposal   *RewriteProposal
}

// =============================================================================
// Confirmation Types
// =============================================================================

// ConfirmationKind tags the confirmation resolver outcomes.
type ConfirmationKind int

const (
	// ConfirmationUseRewritten: affirmative reply; dispatch the proposal's
	// rewritten query.
	ConfirmationUseRewritten ConfirmationKind = iota

	// ConfirmationUseOriginal: explicit "use original"/"as-is" reply;
	// dispatch the proposal's cleaned original query.
	ConfirmationUseOriginal

	// ConfirmationNeedsRephrase: bare negative or unrecognized reply under a
	// live proposal. Safer than silently misinterpreting.
	ConfirmationNeedsRephrase

	// ConfirmationNotPending: the immediately preceding assistant turn
	// carried no live proposal. The reply is a fresh message.
	ConfirmationNotPending
)

// ConfirmationOutcome is the resolver result. Query is populated for the
// UseRewritten and UseOriginal variants.
type ConfirmationOutcome struct {
	Kind  ConfirmationKind
	Query string
}

// =============================================================================
// Turn Payloads
// =============================================================================

// Turn payload kinds stored in the turns table.
const (
	// PayloadKindRewriteProposal marks an assistant turn holding an
	// unresolved rewrite proposal.
	PayloadKindRewriteProposal = "rewrite_proposal"

	// PayloadKindRoute marks an assistant turn produced by a branch
	// pipeline, tagged with the query type that produced it.
	PayloadKindRoute = "route"
)

// TurnPayload is the machine-readable annotation attached to an assistant
// turn. A pending confirmation is a queryable property of the last persisted
// turn, not ambient memory.
type TurnPayload struct {
	Kind      string           `json:"kind"`
	QueryType QueryType        `json:"query_type,omitempty"`
	Proposal  *RewriteProposal `json:"rewrite_proposal,omitempty"`
}

// ParseTurnPayload decodes a stored payload. Returns nil for empty input so
// callers can treat plain turns and annotated turns uniformly.
func ParseTurnPayload(raw []byte) (*TurnPayload, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var p TurnPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
