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
// Stream Event Types
// =============================================================================

// Event type names on the wire. Each branch pipeline emits an ordered,
// deterministic sequence of progress events ending in exactly one
// EventFinalResponse (or EventError). Progress events are observational
// only; clients must not use them for control flow.
const (
	EventStatus        = "status"
	EventProcessing    = "processing"
	EventCategorizing  = "categorizing"
	EventResponding    = "responding"
	EventSQLRouting    = "sql_routing"
	EventSQLGenerating = "sql_generating"
	EventSQLValidating = "sql_validating"
	EventSQLExecuting  = "sql_executing"
	EventFinalResponse = "final_response"
	EventError         = "error"
)

// StreamEvent is one SSE event in a chat stream.
//
// # Description
//
// Progress events carry a human-readable Message. The terminal
// final_response event carries a structured Data payload whose shape depends
// on the query type (see the result types below), plus the query type in
// Metadata.
//
// Id, CreatedAt, Hash and PrevHash are populated by the SSE writer: every
// event gets a UUID, a UnixMilli timestamp, a SHA-256 content hash and the
// hash of the previous event, forming a verifiable chain per stream.
type StreamEvent struct {
	Id        string            `json:"id,omitempty"`
	Type      string            `json:"event_type"`
	Message   string            `json:"message,omitempty"`
	Data      json.RawMessage   `json:"data,omitempty"`
	Error     string            `json:"error,omitempty"`
	SessionId string            `json:"session_id,omitempty"`
	CreatedAt int64             `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Hash      string            `json:"hash,omitempty"`
	PrevHash  string            `json:"prev_hash,omitempty"`
}

// =============================================================================
// Final Response Payloads
// =============================================================================

// SQLQueryResult is the final_response payload for the sql_query branch.
type SQLQueryResult struct {
	OriginalQuestion      string           `json:"original_question"`
	GeneratedSQL          string           `json:"generated_sql"`
	QueryResults          []map[string]any `json:"query_results"`
	RowCount              int              `json:"row_count"`
	NaturalLanguageAnswer string           `json:"natural_language_answer"`
}

// RetrievedDocument is one ranked hit in a document search response.
type RetrievedDocument struct {
	DocumentID     string  `json:"document_id"`
	Title          string  `json:"title"`
	Snippet        string  `json:"snippet"`
	RelevanceScore float64 `json:"relevance_score"`
}

// DocumentSearchResult is the final_response payload for the document_search
// branch. TotalResults always equals len(RetrievedDocuments), including when
// both are zero.
type DocumentSearchResult struct {
	OriginalQuery      string              `json:"original_query"`
	RetrievedDocuments []RetrievedDocument `json:"retrieved_documents"`
	Answer             string              `json:"answer"`
	TotalResults       int                 `json:"total_results"`
}

// CustomerServiceResult is the final_response payload for the
// customer_service branch.
type CustomerServiceResult struct {
	OriginalInquiry   string `json:"original_inquiry"`
	Category          string `json:"category"`
	SuggestedResponse string `json:"suggested_response"`
}

// ConfirmationRequest is the final_response payload when a rewrite proposal
// suspends the request cycle. Actions always holds the three reply options
// presented to the user.
type ConfirmationRequest struct {
	OriginalQuery  string   `json:"original_query"`
	RewrittenQuery string   `json:"rewritten_query"`
	Reason         string   `json:"reason"`
	Actions        []string `json:"actions"`
}

// ClarificationResult is the final_response payload for the
// clarification_needed branch.
type ClarificationResult struct {
	ClarificationPrompt string `json:"clarification_prompt"`
}

// UnsupportedResult is the final_response payload for out-of-scope queries.
type UnsupportedResult struct {
	Error        string `json:"error"`
	Message      string `json:"message"`
	ReceivedType string `json:"received_type"`
}
