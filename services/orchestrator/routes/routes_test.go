// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/Concierge/services/orchestrator/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	store, err := storage.Open(t.TempDir() + "/routes.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return Deps{Store: store}
}

func TestSetupRoutes_CoreRoutesRegistered(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, newTestDeps(t))

	expected := []struct {
		method string
		path   string
	}{
		{"GET", "/"},
		{"GET", "/healthz"},
		{"GET", "/metrics"},
		{"POST", "/api/v1/stream-chat"},
		{"POST", "/api/v1/documents"},
		{"POST", "/api/v1/sessions"},
		{"GET", "/api/v1/sessions"},
		{"GET", "/api/v1/sessions/:sessionId/history"},
		{"PATCH", "/api/v1/sessions/:sessionId/title"},
		{"DELETE", "/api/v1/sessions/:sessionId"},
		{"POST", "/api/v1/turns/:turnId/feedback"},
	}

	routes := router.Routes()
	for _, want := range expected {
		found := false
		for _, r := range routes {
			if r.Method == want.method && r.Path == want.path {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Expected route %s %s not found", want.method, want.path)
		}
	}
}

func TestSetupRoutes_HealthEndpoint(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, newTestDeps(t))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/healthz", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Health endpoint returned %d, want %d", w.Code, http.StatusOK)
	}
}

func TestSetupRoutes_MetricsEndpoint(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, newTestDeps(t))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/metrics", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Metrics endpoint returned %d, want %d", w.Code, http.StatusOK)
	}
	if w.Header().Get("Content-Type") == "" {
		t.Error("Metrics endpoint should return Content-Type header")
	}
}

func TestSetupRoutes_DocumentsUnavailableWithoutVectorStore(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, newTestDeps(t))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/v1/documents", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("documents without vector store returned %d, want 503", w.Code)
	}
}
