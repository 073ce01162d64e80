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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/Concierge/services/orchestrator/datatypes"
	"github.com/AleutianAI/Concierge/services/orchestrator/services"
)

// =============================================================================
// Branch Collaborator Fakes
// =============================================================================

type stubEmbedder struct{}

func (stubEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return make([]float32, services.EmbeddingDimension), nil
}
func (stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, services.EmbeddingDimension)
	}
	return out, nil
}

type stubFinder struct{}

func (stubFinder) FindSimilar(context.Context, []float32, int) ([]datatypes.RetrievedDocument, error) {
	return nil, nil
}

type stubDB struct{}

func (stubDB) QueryRows(context.Context, string, ...any) ([]map[string]any, error) {
	return nil, nil
}

// newChatRouter assembles a real orchestrator over fakes, scripted through
// the given model responses.
func newChatRouter(store *fakeStore, model *scriptedLLM) *gin.Engine {
	classifier := services.NewLLMClassifier(model)
	rewriter := services.NewLLMRewriteAnalyzer(model, nil)
	dispatcher := services.NewDispatcher(
		services.NewSQLAgentService(model, stubDB{}, services.NewSQLGuard(nil)),
		services.NewDocSearchService(stubEmbedder{}, stubFinder{}, model, services.DefaultRelevanceThreshold),
		services.NewCustomerServiceHandler(model),
	)
	orch := services.NewOrchestrator(classifier, rewriter, dispatcher, store)

	router := gin.New()
	router.POST("/api/v1/stream-chat", HandleStreamChat(orch, store, nil))
	return router
}

func postChat(router *gin.Engine, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/v1/stream-chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

// =============================================================================
// Validation Tests
// =============================================================================

func TestStreamChat_RejectsInvalidBody(t *testing.T) {
	router := newChatRouter(newFakeStore(), &scriptedLLM{})

	w := postChat(router, "{not json")

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestStreamChat_RejectsBlankMessage(t *testing.T) {
	store := newFakeStore()
	model := &scriptedLLM{}
	router := newChatRouter(store, model)

	w := postChat(router, `{"message":"   ","session_id":"s1"}`)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if len(model.Prompts) != 0 {
		t.Errorf("rejected input reached the model: %d calls", len(model.Prompts))
	}
	if store.turnCount("s1") != 0 {
		t.Errorf("rejected input was persisted: %d turns", store.turnCount("s1"))
	}
}

func TestStreamChat_RejectsOversizedMessage(t *testing.T) {
	router := newChatRouter(newFakeStore(), &scriptedLLM{})

	big := strings.Repeat("a", datatypes.MaxMessageContentBytes+1)
	w := postChat(router, `{"message":"`+big+`"}`)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

// =============================================================================
// Streaming Tests
// =============================================================================

func TestStreamChat_CustomerServiceRoundTrip(t *testing.T) {
	store := newFakeStore()
	model := &scriptedLLM{Responses: []string{
		`{"query_type": "customer_service", "rationale": "billing complaint"}`,
		`Billing`,
	}}
	router := newChatRouter(store, model)

	w := postChat(router, `{"message":"I was double charged","session_id":"s1","user_id":"u1"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	events := parseEvents(t, w.Body.String())
	if len(events) == 0 {
		t.Fatal("no events streamed")
	}
	last := events[len(events)-1]
	if last.Type != datatypes.EventFinalResponse {
		t.Errorf("last event = %q, want final_response", last.Type)
	}
	if last.Metadata["query_type"] != string(datatypes.QueryTypeCustomerService) {
		t.Errorf("query_type = %q", last.Metadata["query_type"])
	}

	// User and assistant turns both landed.
	if got := store.turnCount("s1"); got != 2 {
		t.Errorf("persisted turns = %d, want 2", got)
	}
}

func TestStreamChat_EventHashChainHolds(t *testing.T) {
	store := newFakeStore()
	model := &scriptedLLM{Responses: []string{
		`{"query_type": "unsupported", "rationale": "out of scope"}`,
	}}
	router := newChatRouter(store, model)

	w := postChat(router, `{"message":"write me a poem","session_id":"s1"}`)

	events := parseEvents(t, w.Body.String())
	if len(events) < 2 {
		t.Fatalf("events = %d, want at least 2", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].PrevHash != events[i-1].Hash {
			t.Errorf("event %d breaks the hash chain", i)
		}
	}
	for _, ev := range events {
		if ev.SessionId != "s1" {
			t.Errorf("event session_id = %q, want s1", ev.SessionId)
		}
	}
}

func TestStreamChat_ClassificationFailureStreamsError(t *testing.T) {
	store := newFakeStore()
	model := &scriptedLLM{Responses: []string{"I cannot answer in JSON, sorry"}}
	router := newChatRouter(store, model)

	w := postChat(router, `{"message":"hello there","session_id":"s1"}`)

	// The stream was already open; failure arrives as an event, not a status.
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	events := parseEvents(t, w.Body.String())
	if len(events) == 0 {
		t.Fatal("no events streamed")
	}
	last := events[len(events)-1]
	if last.Type != datatypes.EventError {
		t.Errorf("last event = %q, want error", last.Type)
	}
	if last.Error == "" {
		t.Error("error event should carry a message")
	}
	if strings.Contains(last.Error, "JSON") {
		t.Errorf("internal detail leaked to stream: %q", last.Error)
	}

	// Only the user turn persists after a failed branch.
	if got := store.turnCount("s1"); got != 1 {
		t.Errorf("persisted turns = %d, want 1", got)
	}
}

func TestStreamChat_GeneratesSessionIDWhenMissing(t *testing.T) {
	store := newFakeStore()
	model := &scriptedLLM{Responses: []string{
		`{"query_type": "unsupported", "rationale": "out of scope"}`,
	}}
	router := newChatRouter(store, model)

	w := postChat(router, `{"message":"do my taxes"}`)

	events := parseEvents(t, w.Body.String())
	if len(events) == 0 {
		t.Fatal("no events streamed")
	}
	if events[0].SessionId == "" {
		t.Error("events should carry a generated session id")
	}
	if _, err := store.GetSession(context.Background(), events[0].SessionId); err != nil {
		t.Errorf("generated session was not created: %v", err)
	}
}
