// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the orchestrator service.
//
// This file contains the streaming chat request type and its validation.
// Routing decision types live in routing.go, stream event types in events.go.
package datatypes

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Constants for Security Compliance
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single chat message.
	// Unbounded message input mitigation.
	MaxMessageContentBytes = 32 * 1024 // 32KB

	// MaxIdentifierLength bounds session_id and user_id values.
	MaxIdentifierLength = 128

	// HistoryWindowTurns is how many prior turns are given to the classifier
	// as conversation context.
	HistoryWindowTurns = 10
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for chat datatypes.
// Initialized in init() with custom validators.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()

	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
	_ = chatValidate.RegisterValidation("notblank", validateNotBlank)
}

// validateMaxBytes checks byte length (not rune count) so oversized payloads
// are rejected regardless of encoding.
func validateMaxBytes(fl validator.FieldLevel) bool {
	content := fl.Field().String()
	return len(content) <= MaxMessageContentBytes
}

// validateNotBlank rejects strings that are empty after trimming whitespace.
// A message of only spaces must fail before any classification runs.
func validateNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// =============================================================================
// Streaming Chat Request
// =============================================================================

// StreamingChatRequest represents one incoming chat message.
//
// # Description
//
// StreamingChatRequest is the body of POST /api/v1/stream-chat. The message
// is routed through the query classifier and the matching branch pipeline;
// progress is streamed back as SSE events.
//
// # Fields
//
//   - Message: Required. The user's free-text query. Must be non-blank and
//     at most 32KB.
//   - SessionID: Optional. Conversation to append to. Generated server-side
//     when empty.
//   - UserID: Optional. Owner of the session. SQL results are always scoped
//     to this value, never to anything found in Message. Defaults to
//     "anonymous" when empty.
//
// # Validation
//
// Uses go-playground/validator:
//   - Message: required, notblank, maxbytes
//   - SessionID/UserID: max 128 chars
type StreamingChatRequest struct {
	Message   string `json:"message" validate:"required,notblank,maxbytes"`
	SessionID string `json:"session_id" validate:"omitempty,max=128"`
	UserID    string `json:"user_id" validate:"omitempty,max=128"`
}

// Validate validates the request fields.
//
// Returns an error wrapping ErrInvalidInput so callers can reject the
// request with errors.Is before any classification work happens.
func (r *StreamingChatRequest) Validate() error {
	if err := chatValidate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// EnsureDefaults populates SessionID and UserID when the client omitted them.
func (r *StreamingChatRequest) EnsureDefaults() {
	if r.SessionID == "" {
		r.SessionID = uuid.New().String()
	}
	if r.UserID == "" {
		r.UserID = "anonymous"
	}
}

// CreateSessionRequest is the body of POST /api/v1/sessions.
type CreateSessionRequest struct {
	UserID string `json:"user_id" validate:"omitempty,max=128"`
}

// Validate validates the CreateSessionRequest fields.
func (r *CreateSessionRequest) Validate() error {
	if err := chatValidate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// RenameSessionRequest is the body of PATCH /api/v1/sessions/:sessionId/title.
type RenameSessionRequest struct {
	Title string `json:"title" validate:"required,notblank,max=200"`
}

// Validate validates the RenameSessionRequest fields.
func (r *RenameSessionRequest) Validate() error {
	if err := chatValidate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// FeedbackRequest is the body of POST /api/v1/turns/:turnId/feedback.
type FeedbackRequest struct {
	Rating  string `json:"rating" validate:"required,oneof=up down"`
	Comment string `json:"comment" validate:"omitempty,max=2000"`
}

// Validate validates the FeedbackRequest fields.
func (r *FeedbackRequest) Validate() error {
	if err := chatValidate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}
