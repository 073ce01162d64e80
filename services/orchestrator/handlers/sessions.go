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
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/Concierge/services/orchestrator/datatypes"
	"github.com/AleutianAI/Concierge/services/orchestrator/storage"
)

var sessionsTracer = otel.Tracer("concierge.orchestrator.handlers.sessions")

// HandleCreateSession returns the POST /api/v1/sessions handler.
//
// The body is optional; an anonymous session is created when no user_id is
// given. The response is the full session record including its generated id.
func HandleCreateSession(store SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := sessionsTracer.Start(c.Request.Context(), "HandleCreateSession")
		defer span.End()

		var req datatypes.CreateSessionRequest
		// An empty body is fine here.
		_ = c.ShouldBindJSON(&req)

		sess, err := store.CreateSession(ctx, req.UserID)
		if err != nil {
			span.RecordError(err)
			slog.Error("Failed to create session", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
			return
		}

		slog.Info("Session created", "session_id", sess.SessionID, "user_id", sess.UserID)
		c.JSON(http.StatusCreated, sess)
	}
}

// HandleListSessions returns the GET /api/v1/sessions handler. Sessions come
// back most recently active first.
func HandleListSessions(store SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := sessionsTracer.Start(c.Request.Context(), "HandleListSessions")
		defer span.End()

		sessions, err := store.ListSessions(ctx)
		if err != nil {
			span.RecordError(err)
			slog.Error("Failed to list sessions", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sessions"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"sessions": sessions,
			"total":    len(sessions),
		})
	}
}

// HandleGetHistory returns the GET /api/v1/sessions/:sessionId/history
// handler. Turns come back in append order, oldest first, with structured
// payloads included.
func HandleGetHistory(store SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := sessionsTracer.Start(c.Request.Context(), "HandleGetHistory")
		defer span.End()

		sessionID := c.Param("sessionId")
		if _, err := store.GetSession(ctx, sessionID); err != nil {
			respondStoreError(c, err, "session lookup failed", sessionID)
			return
		}

		turns, err := store.SessionHistory(ctx, sessionID)
		if err != nil {
			span.RecordError(err)
			slog.Error("Failed to load session history", "error", err, "session_id", sessionID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"session_id": sessionID,
			"turns":      turns,
			"total":      len(turns),
		})
	}
}

// HandleRenameSession returns the PATCH /api/v1/sessions/:sessionId/title
// handler.
func HandleRenameSession(store SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := sessionsTracer.Start(c.Request.Context(), "HandleRenameSession")
		defer span.End()

		sessionID := c.Param("sessionId")

		var req datatypes.RenameSessionRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := store.RenameSession(ctx, sessionID, req.Title); err != nil {
			respondStoreError(c, err, "rename failed", sessionID)
			return
		}

		slog.Info("Session renamed", "session_id", sessionID, "title", req.Title)
		c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "title": req.Title})
	}
}

// HandleDeleteSession returns the DELETE /api/v1/sessions/:sessionId handler.
// Deleting a session cascades to its turns; the count of removed turns is
// reported back.
func HandleDeleteSession(store SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := sessionsTracer.Start(c.Request.Context(), "HandleDeleteSession")
		defer span.End()

		sessionID := c.Param("sessionId")

		turnsDeleted, err := store.DeleteSession(ctx, sessionID)
		if err != nil {
			respondStoreError(c, err, "delete failed", sessionID)
			return
		}

		slog.Info("Session deleted", "session_id", sessionID, "turns_deleted", turnsDeleted)
		c.JSON(http.StatusOK, gin.H{
			"session_id":    sessionID,
			"turns_deleted": turnsDeleted,
		})
	}
}

// HandleFeedback returns the POST /api/v1/turns/:turnId/feedback handler.
// Feedback lands in its own table; the referenced turn is never mutated.
func HandleFeedback(store SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := sessionsTracer.Start(c.Request.Context(), "HandleFeedback")
		defer span.End()

		turnID := c.Param("turnId")

		var req datatypes.FeedbackRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		fb := &datatypes.TurnFeedback{
			TurnID:  turnID,
			Rating:  req.Rating,
			Comment: req.Comment,
		}
		if err := store.RecordFeedback(ctx, fb); err != nil {
			respondStoreError(c, err, "feedback failed", turnID)
			return
		}

		slog.Info("Feedback recorded", "turn_id", turnID, "rating", req.Rating)
		c.JSON(http.StatusCreated, gin.H{"turn_id": turnID, "rating": req.Rating})
	}
}

// respondStoreError maps storage errors onto HTTP statuses.
func respondStoreError(c *gin.Context, err error, logMsg, id string) {
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	slog.Error(logMsg, "error", err, "id", id)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
