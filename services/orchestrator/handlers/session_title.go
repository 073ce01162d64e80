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
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/Concierge/services/llm"
)

// defaultSessionTitle is the placeholder every new session starts with.
const defaultSessionTitle = "New Conversation"

// titleFallbackLength is how much of the first user message becomes the
// title when the model cannot produce one.
const titleFallbackLength = 50

const titlePrompt = `Write a short title (at most six words) for a conversation that starts with this message. Output only the title, no quotes.

Message: %s`

// SessionTitler derives a human-readable session title from the first user
// message. Runs off the request path after the first exchange.
type SessionTitler struct {
	store SessionStore
	llm   llm.LLMClient
}

// NewSessionTitler creates a titler. client may be nil, in which case only
// the truncation fallback is used.
func NewSessionTitler(store SessionStore, client llm.LLMClient) *SessionTitler {
	return &SessionTitler{store: store, llm: client}
}

// MaybeTitle sets the session title once. Sessions that were already titled
// (by a previous exchange or by the user through the rename endpoint) are
// left alone.
func (t *SessionTitler) MaybeTitle(ctx context.Context, sessionID string) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	sess, err := t.store.GetSession(ctx, sessionID)
	if err != nil {
		slog.Warn("Title generation: session lookup failed", "error", err, "session_id", sessionID)
		return
	}
	if sess.Title != defaultSessionTitle {
		return
	}

	firstMessage, err := t.store.FirstUserMessage(ctx, sessionID)
	if err != nil {
		slog.Warn("Title generation: no user message found", "error", err, "session_id", sessionID)
		return
	}

	title := t.generate(ctx, firstMessage)
	if err := t.store.RenameSession(ctx, sessionID, title); err != nil {
		slog.Warn("Title generation: rename failed", "error", err, "session_id", sessionID)
		return
	}
	slog.Info("Session titled", "session_id", sessionID, "title", title)
}

// generate asks the model for a title, falling back to a truncation of the
// first message.
func (t *SessionTitler) generate(ctx context.Context, firstMessage string) string {
	if t.llm != nil {
		raw, err := t.llm.Generate(ctx, fmt.Sprintf(titlePrompt, firstMessage), llm.GenerationParams{})
		if err == nil {
			title := strings.Trim(strings.TrimSpace(raw), `"`)
			if title != "" && len(title) <= 120 {
				return title
			}
		} else {
			slog.Warn("Title generation fell back to truncation", "error", err)
		}
	}
	return fallbackTitle(firstMessage)
}

// fallbackTitle is the first titleFallbackLength characters of the message.
func fallbackTitle(message string) string {
	msg := strings.TrimSpace(message)
	runes := []rune(msg)
	if len(runes) <= titleFallbackLength {
		return msg
	}
	return strings.TrimSpace(string(runes[:titleFallbackLength])) + "..."
}
