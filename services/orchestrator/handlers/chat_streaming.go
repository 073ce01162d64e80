// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers provides the HTTP layer of the orchestrator: request
// binding and validation, SSE stream management, and translation between
// service results and wire responses.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/Concierge/services/orchestrator/datatypes"
	"github.com/AleutianAI/Concierge/services/orchestrator/observability"
	"github.com/AleutianAI/Concierge/services/orchestrator/services"
)

// heartbeatInterval is the interval for sending keepalive pings.
// Set to 15s to stay well under typical LB timeouts (60s for ALB/Nginx).
const heartbeatInterval = 15 * time.Second

var chatTracer = otel.Tracer("concierge.orchestrator.handlers.chat")

// SessionStore is the slice of the storage layer the HTTP handlers need.
// Implemented by storage.Store.
type SessionStore interface {
	CreateSession(ctx context.Context, userID string) (*datatypes.Session, error)
	EnsureSession(ctx context.Context, sessionID, userID string) error
	GetSession(ctx context.Context, sessionID string) (*datatypes.Session, error)
	ListSessions(ctx context.Context) ([]datatypes.Session, error)
	RenameSession(ctx context.Context, sessionID, title string) error
	DeleteSession(ctx context.Context, sessionID string) (int, error)
	SessionHistory(ctx context.Context, sessionID string) ([]datatypes.Turn, error)
	FirstUserMessage(ctx context.Context, sessionID string) (string, error)
	RecordFeedback(ctx context.Context, fb *datatypes.TurnFeedback) error
}

// HandleStreamChat returns the POST /api/v1/stream-chat handler.
//
// # Description
//
// Validates the request, opens the SSE stream, runs the message through the
// orchestrator, and keeps the connection alive with heartbeats while branch
// pipelines work. Validation failures are rejected with HTTP 400 before any
// classification or streaming starts. After the first exchange of a session
// a background goroutine derives the session title.
func HandleStreamChat(orch *services.Orchestrator, store SessionStore, titler *SessionTitler) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		ctx, span := chatTracer.Start(c.Request.Context(), "HandleStreamChat")
		defer span.End()

		// Track active stream (for metrics)
		if m := observability.DefaultMetrics; m != nil {
			m.StreamStarted()
			defer m.StreamEnded()
		}

		// Step 1: Parse request body
		var req datatypes.StreamingChatRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "invalid request body")
			slog.Error("Failed to parse streaming chat request", "error", err)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(observability.ErrorCodeValidation)
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		// Step 2: Validate. Rejected input never reaches classification.
		req.EnsureDefaults()
		if err := req.Validate(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "validation failed")
			slog.Warn("Streaming chat request rejected", "error", err, "session_id", req.SessionID)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(observability.ErrorCodeValidation)
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": services.UserSafeMessage(err)})
			return
		}
		span.SetAttributes(
			attribute.String("session.id", req.SessionID),
			attribute.Int("request.message_bytes", len(req.Message)),
		)

		// Step 3: Make sure the session row exists before any turn lands.
		if err := store.EnsureSession(ctx, req.SessionID, req.UserID); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "session setup failed")
			slog.Error("Failed to ensure session", "error", err, "session_id", req.SessionID)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(observability.ErrorCodeRetrieval)
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "session setup failed"})
			return
		}

		// Step 4: Set SSE headers and create the writer
		SetSSEHeaders(c.Writer)
		writer, err := NewSSEWriter(c.Writer, req.SessionID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "SSE setup failed")
			slog.Error("Failed to create SSE writer", "error", err, "session_id", req.SessionID)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(observability.ErrorCodeInternal)
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
			return
		}

		// Step 5: Start the heartbeat goroutine
		heartbeatDone := make(chan struct{})
		go runHeartbeat(ctx, writer, heartbeatDone)

		// Step 6: Drive the message through the routing core
		processErr := orch.ProcessMessage(ctx, &req, writer)

		// Stop heartbeat
		close(heartbeatDone)

		if processErr != nil {
			span.RecordError(processErr)
			span.SetStatus(codes.Error, "stream failed")
		}
		recordOutcome(&req, processErr, c.Request.Context(), time.Since(startTime))

		// Step 7: Derive the session title off the request path.
		if processErr == nil && titler != nil {
			go titler.MaybeTitle(context.WithoutCancel(ctx), req.SessionID)
		}
	}
}

// recordOutcome classifies how the stream ended for metrics and logs.
func recordOutcome(req *datatypes.StreamingChatRequest, processErr error, reqCtx context.Context, elapsed time.Duration) {
	m := observability.DefaultMetrics

	if processErr == nil {
		slog.Info("Stream completed", "session_id", req.SessionID, "duration", elapsed)
		return
	}

	// A canceled request context means the client went away, not that the
	// pipeline failed.
	if errors.Is(processErr, context.Canceled) || reqCtx.Err() != nil {
		if m != nil {
			m.RecordClientDisconnect()
		}
		slog.Info("Client disconnected mid-stream", "session_id", req.SessionID)
		return
	}

	if m != nil {
		m.RecordError(errorCode(processErr))
	}
	slog.Error("Stream failed", "error", processErr, "session_id", req.SessionID)
}

// errorCode maps the routing taxonomy onto metric labels.
func errorCode(err error) observability.ErrorCode {
	switch {
	case errors.Is(err, datatypes.ErrInvalidInput):
		return observability.ErrorCodeValidation
	case errors.Is(err, datatypes.ErrClassificationUnavailable):
		return observability.ErrorCodeClassification
	case errors.Is(err, datatypes.ErrUnsafeQuery):
		return observability.ErrorCodeUnsafeQuery
	case errors.Is(err, datatypes.ErrRetrievalFailure):
		return observability.ErrorCodeRetrieval
	default:
		return observability.ErrorCodeInternal
	}
}

// runHeartbeat sends keepalive pings until the stream finishes or the client
// disconnects.
func runHeartbeat(ctx context.Context, writer SSEWriter, done <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				slog.Debug("Failed to write keepalive", "error", err)
				return
			}
			if m := observability.DefaultMetrics; m != nil {
				m.RecordKeepAlive()
			}
		}
	}
}
