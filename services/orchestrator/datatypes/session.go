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

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Session owns an ordered list of turns and the user_id/session_id pair used
// to scope data access. Deleting a session cascades to its turns.
type Session struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Title     string `json:"title"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
	TurnCount int    `json:"turn_count"`
}

// Turn is one message in a session. Turns are immutable once written; a
// session is an append-only ordered sequence of turns. Role alternation is
// typical but not enforced, so readers must tolerate consecutive same-role
// turns.
type Turn struct {
	ID                string       `json:"id"`
	SessionID         string       `json:"session_id"`
	Role              string       `json:"role"`
	Content           string       `json:"content"`
	StructuredPayload *TurnPayload `json:"structured_payload,omitempty"`
	CreatedAt         int64        `json:"created_at"`
}

// PendingProposal returns the rewrite proposal carried by this turn, or nil.
// Only an assistant turn whose payload kind is rewrite_proposal qualifies.
func (t *Turn) PendingProposal() *RewriteProposal {
	if t == nil || t.Role != RoleAssistant {
		return nil
	}
	if t.StructuredPayload == nil || t.StructuredPayload.Kind != PayloadKindRewriteProposal {
		return nil
	}
	return t.StructuredPayload.Proposal
}

// TurnFeedback is a user rating attached to an assistant turn. Feedback is
// stored separately so turns stay immutable.
type TurnFeedback struct {
	TurnID    string `json:"turn_id"`
	Rating    string `json:"rating"`
	Comment   string `json:"comment,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// Order is one row of the demo orders table served by the SQL branch.
type Order struct {
	ID          int64   `json:"id"`
	UserID      string  `json:"user_id"`
	ProductName string  `json:"product_name"`
	Quantity    int     `json:"quantity"`
	Price       float64 `json:"price"`
	OrderDate   string  `json:"order_date"`
	Status      string  `json:"status"`
}
