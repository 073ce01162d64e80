// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/Concierge/services/orchestrator/datatypes"
	"github.com/AleutianAI/Concierge/services/orchestrator/services"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter writes Server-Sent Events to an HTTP response.
//
// # Description
//
// SSEWriter abstracts SSE event serialization and writing, enabling
// testability and separation from HTTP response mechanics. Implementations
// handle the SSE wire format (event: type\ndata: json\n\n) internally.
//
// Each event is automatically assigned:
//   - Id: UUID v4 for ordering and deduplication
//   - CreatedAt: Unix timestamp in milliseconds
//   - Hash: SHA-256 hash of event content for integrity
//   - PrevHash: Hash of previous event for chain verification
//
// # Thread Safety
//
// Implementations must be safe for concurrent use: the heartbeat goroutine
// writes keepalives while the pipeline writes events.
//
// # Assumptions
//
//   - Caller has set SSE headers via SetSSEHeaders before the first write.
type SSEWriter interface {
	// WriteEvent writes a single SSE event. Id, CreatedAt, Hash and
	// PrevHash are populated here; callers only set the content fields.
	WriteEvent(event datatypes.StreamEvent) error

	// EmitProgress writes an observational progress event of the given
	// type. Part of the services.EventEmitter contract.
	EmitProgress(eventType, message string) error

	// EmitFinal writes the terminal final_response event carrying the
	// branch payload. Part of the services.EventEmitter contract.
	EmitFinal(data any, metadata map[string]string) error

	// EmitError writes a terminal error event. The message must already be
	// user-safe; internal detail stays in the logs.
	EmitError(message string) error

	// WriteKeepAlive sends an SSE comment (": ping") to keep the
	// connection alive through load balancer idle timeouts. Comments are
	// not events and do not advance the hash chain.
	WriteKeepAlive() error
}

// =============================================================================
// Struct Definition
// =============================================================================

// sseWriter implements SSEWriter for HTTP SSE responses.
//
// Each event is written as:
//
//	event: {type}
//	data: {json}
//
// The writer maintains a hash chain for integrity verification: each event's
// Hash is the SHA-256 of its content and each event's PrevHash links to the
// previous event.
type sseWriter struct {
	writer    http.ResponseWriter
	flusher   http.Flusher
	sessionID string
	prevHash  string
	mu        sync.Mutex
}

// Compile-time interface checks.
var (
	_ SSEWriter             = (*sseWriter)(nil)
	_ services.EventEmitter = (*sseWriter)(nil)
)

// NewSSEWriter creates an SSEWriter bound to one stream. The session id is
// stamped onto every event. Returns an error when the ResponseWriter cannot
// flush, which SSE requires.
func NewSSEWriter(w http.ResponseWriter, sessionID string) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}

	return &sseWriter{
		writer:    w,
		flusher:   flusher,
		sessionID: sessionID,
		prevHash:  "",
	}, nil
}

// =============================================================================
// Methods
// =============================================================================

// WriteEvent writes a single SSE event to the response and flushes it.
func (w *sseWriter) WriteEvent(event datatypes.StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// Populate metadata
	event.Id = uuid.New().String()
	event.CreatedAt = time.Now().UnixMilli()
	event.SessionId = w.sessionID
	event.PrevHash = w.prevHash

	// Compute hash of event content (before setting Hash field)
	event.Hash = computeEventHash(event)

	// Update chain for next event
	w.prevHash = event.Hash

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// Write SSE format: event: type\ndata: json\n\n
	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// computeEventHash computes the SHA-256 hash over every content field so the
// chain covers payloads and timestamps, not just the envelope.
func computeEventHash(event datatypes.StreamEvent) string {
	hashInput := fmt.Sprintf("%s|%s|%d|%s|%s|%s|%s|%s",
		event.Id,
		event.Type,
		event.CreatedAt,
		event.PrevHash,
		event.Message,
		string(event.Data),
		event.Error,
		event.SessionId,
	)

	hash := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(hash[:])
}

// EmitProgress implements services.EventEmitter.
func (w *sseWriter) EmitProgress(eventType, message string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:    eventType,
		Message: message,
	})
}

// EmitFinal implements services.EventEmitter.
func (w *sseWriter) EmitFinal(data any, metadata map[string]string) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal final payload: %w", err)
	}
	return w.WriteEvent(datatypes.StreamEvent{
		Type:     datatypes.EventFinalResponse,
		Data:     raw,
		Metadata: metadata,
	})
}

// EmitError implements services.EventEmitter.
func (w *sseWriter) EmitError(message string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:  datatypes.EventError,
		Error: message,
	})
}

// WriteKeepAlive sends an SSE comment line to keep the connection alive.
func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// SSE comment format: colon followed by text, then double newline
	if _, err := fmt.Fprintf(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetSSEHeaders configures HTTP response headers for SSE streaming.
//
// Sets Content-Type: text/event-stream, Cache-Control: no-cache,
// Connection: keep-alive and X-Accel-Buffering: no (disables nginx
// buffering). Must be called before any response body is written.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}
