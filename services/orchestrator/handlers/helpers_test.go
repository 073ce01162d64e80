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
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/Concierge/services/llm"
	"github.com/AleutianAI/Concierge/services/orchestrator/datatypes"
	"github.com/AleutianAI/Concierge/services/orchestrator/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Fake Store
// =============================================================================

// fakeStore is an in-memory stand-in for storage.Store. It implements both
// the handler-facing SessionStore and the orchestrator's TurnStore.
type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]*datatypes.Session
	turns    map[string][]datatypes.Turn
	feedback []datatypes.TurnFeedback

	listErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: make(map[string]*datatypes.Session),
		turns:    make(map[string][]datatypes.Turn),
	}
}

func (s *fakeStore) CreateSession(_ context.Context, userID string) (*datatypes.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if userID == "" {
		userID = "anonymous"
	}
	sess := &datatypes.Session{
		SessionID: uuid.New().String(),
		UserID:    userID,
		Title:     "New Conversation",
		CreatedAt: time.Now().UnixMilli(),
		UpdatedAt: time.Now().UnixMilli(),
	}
	s.sessions[sess.SessionID] = sess
	return sess, nil
}

func (s *fakeStore) EnsureSession(_ context.Context, sessionID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		s.sessions[sessionID] = &datatypes.Session{
			SessionID: sessionID,
			UserID:    userID,
			Title:     "New Conversation",
			CreatedAt: time.Now().UnixMilli(),
			UpdatedAt: time.Now().UnixMilli(),
		}
	}
	return nil
}

func (s *fakeStore) GetSession(_ context.Context, sessionID string) (*datatypes.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *sess
	copied.TurnCount = len(s.turns[sessionID])
	return &copied, nil
}

func (s *fakeStore) ListSessions(_ context.Context) ([]datatypes.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]datatypes.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess)
	}
	return out, nil
}

func (s *fakeStore) RenameSession(_ context.Context, sessionID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return storage.ErrNotFound
	}
	sess.Title = title
	return nil
}

func (s *fakeStore) DeleteSession(_ context.Context, sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return 0, storage.ErrNotFound
	}
	n := len(s.turns[sessionID])
	delete(s.sessions, sessionID)
	delete(s.turns, sessionID)
	return n, nil
}

func (s *fakeStore) AppendTurn(_ context.Context, turn *datatypes.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	turn.ID = uuid.New().String()
	turn.CreatedAt = time.Now().UnixMilli()
	s.turns[turn.SessionID] = append(s.turns[turn.SessionID], *turn)
	return nil
}

func (s *fakeStore) RecentTurns(_ context.Context, sessionID string, limit int) ([]datatypes.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := s.turns[sessionID]
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]datatypes.Turn, len(turns))
	copy(out, turns)
	return out, nil
}

func (s *fakeStore) SessionHistory(_ context.Context, sessionID string) ([]datatypes.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]datatypes.Turn, len(s.turns[sessionID]))
	copy(out, s.turns[sessionID])
	return out, nil
}

func (s *fakeStore) FirstUserMessage(_ context.Context, sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, turn := range s.turns[sessionID] {
		if turn.Role == datatypes.RoleUser {
			return turn.Content, nil
		}
	}
	return "", storage.ErrNotFound
}

func (s *fakeStore) RecordFeedback(_ context.Context, fb *datatypes.TurnFeedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fb.CreatedAt = time.Now().UnixMilli()
	s.feedback = append(s.feedback, *fb)
	return nil
}

func (s *fakeStore) turnCount(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns[sessionID])
}

// =============================================================================
// Fake LLM
// =============================================================================

// scriptedLLM returns canned responses in call order, repeating the last one
// when the script runs out.
type scriptedLLM struct {
	mu        sync.Mutex
	Responses []string
	Err       error
	Prompts   []string
}

func (f *scriptedLLM) Generate(_ context.Context, prompt string, _ llm.GenerationParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Prompts = append(f.Prompts, prompt)
	if f.Err != nil {
		return "", f.Err
	}
	if len(f.Responses) == 0 {
		return "", fmt.Errorf("no scripted response")
	}
	idx := len(f.Prompts) - 1
	if idx >= len(f.Responses) {
		idx = len(f.Responses) - 1
	}
	return f.Responses[idx], nil
}
