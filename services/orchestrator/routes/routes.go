// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routes wires the HTTP surface of the orchestrator.
package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/AleutianAI/Concierge/services/orchestrator/handlers"
	"github.com/AleutianAI/Concierge/services/orchestrator/services"
)

// Deps carries everything the routes need. WeaviateClient and Embedder may be
// nil; document ingestion then answers 503 instead of being registered.
type Deps struct {
	Orchestrator   *services.Orchestrator
	Store          handlers.SessionStore
	Titler         *handlers.SessionTitler
	WeaviateClient *weaviate.Client
	Embedder       services.Embedder
}

// SetupRoutes registers every endpoint on the router.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/", handlers.Root)
	router.GET("/healthz", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/stream-chat", handlers.HandleStreamChat(deps.Orchestrator, deps.Store, deps.Titler))

		if deps.WeaviateClient != nil && deps.Embedder != nil {
			v1.POST("/documents", handlers.HandleIngestDocument(deps.WeaviateClient, deps.Embedder))
		} else {
			v1.POST("/documents", func(c *gin.Context) {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "document store not configured"})
			})
		}

		sessions := v1.Group("/sessions")
		{
			sessions.POST("", handlers.HandleCreateSession(deps.Store))
			sessions.GET("", handlers.HandleListSessions(deps.Store))
			sessions.GET("/:sessionId/history", handlers.HandleGetHistory(deps.Store))
			sessions.PATCH("/:sessionId/title", handlers.HandleRenameSession(deps.Store))
			sessions.DELETE("/:sessionId", handlers.HandleDeleteSession(deps.Store))
		}

		v1.POST("/turns/:turnId/feedback", handlers.HandleFeedback(deps.Store))
	}
}
