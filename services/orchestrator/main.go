// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/Concierge/services/llm"
	"github.com/AleutianAI/Concierge/services/orchestrator/datatypes"
	"github.com/AleutianAI/Concierge/services/orchestrator/handlers"
	"github.com/AleutianAI/Concierge/services/orchestrator/middleware"
	"github.com/AleutianAI/Concierge/services/orchestrator/observability"
	"github.com/AleutianAI/Concierge/services/orchestrator/routes"
	"github.com/AleutianAI/Concierge/services/orchestrator/services"
	"github.com/AleutianAI/Concierge/services/orchestrator/storage"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "concierge-otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("concierge-orchestrator")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// newWeaviateClient builds the vector store client from the environment, or
// returns nil for lightweight mode.
func newWeaviateClient() *weaviate.Client {
	weaviateURL := strings.Trim(os.Getenv("WEAVIATE_SERVICE_URL"), "\"' ")
	if weaviateURL == "" || !strings.Contains(weaviateURL, "http") {
		slog.Info("WEAVIATE_SERVICE_URL not set. Running in lightweight mode (no document search).")
		return nil
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		slog.Warn("WEAVIATE_SERVICE_URL is invalid. Running in lightweight mode.",
			"url", weaviateURL, "error", err)
		return nil
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		slog.Error("Failed to create Weaviate client", "error", err)
		return nil
	}
	datatypes.EnsureWeaviateSchema(client)
	return client
}

// newLLMClient picks the model backend from LLM_BACKEND_TYPE.
func newLLMClient() (llm.LLMClient, error) {
	switch os.Getenv("LLM_BACKEND_TYPE") {
	case "openai":
		slog.Info("Using OpenAI LLM backend")
		return llm.NewOpenAIClient()
	case "ollama":
		slog.Info("Using Ollama LLM backend")
		return llm.NewOllamaClient()
	default:
		slog.Warn("LLM_BACKEND_TYPE not set or invalid, defaulting to ollama")
		return llm.NewOllamaClient()
	}
}

func main() {
	port := os.Getenv("ORCHESTRATOR_PORT")
	if port == "" {
		port = "12210"
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// --- Init the tracer ---
	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	observability.InitMetrics()

	dbPath := os.Getenv("CONCIERGE_DB_PATH")
	if dbPath == "" {
		dbPath = "/data/concierge.db"
		slog.Warn("CONCIERGE_DB_PATH not set, defaulting", "path", dbPath)
	}
	store, err := storage.Open(dbPath)
	if err != nil {
		log.Fatalf("Failed to open session store: %v", err)
	}
	defer store.Close()

	llmClient, err := newLLMClient()
	if err != nil {
		log.Fatalf("Failed to initialize LLM client: %v", err)
	}

	weaviateClient := newWeaviateClient()

	var embedder services.Embedder
	embeddingURL := strings.TrimSuffix(os.Getenv("EMBEDDING_SERVICE_URL"), "/embed")
	if embeddingURL != "" {
		embedder = services.NewHTTPEmbedder(embeddingURL)
	} else if weaviateClient != nil {
		slog.Warn("EMBEDDING_SERVICE_URL not set; document search cannot embed queries")
	}

	var finder services.DocumentFinder
	if weaviateClient != nil {
		finder = services.NewWeaviateFinder(weaviateClient)
	}

	// --- Wire the routing core ---
	classifier := services.NewLLMClassifier(llmClient)
	rewriter := services.NewLLMRewriteAnalyzer(llmClient, nil)
	dispatcher := services.NewDispatcher(
		services.NewSQLAgentService(llmClient, store, services.NewSQLGuard(nil)),
		services.NewDocSearchService(embedder, finder, llmClient, services.DefaultRelevanceThreshold),
		services.NewCustomerServiceHandler(llmClient),
	)
	orch := services.NewOrchestrator(classifier, rewriter, dispatcher, store)
	titler := handlers.NewSessionTitler(store, llmClient)

	router := gin.Default()
	router.Use(otelgin.Middleware("concierge-orchestrator"))
	router.Use(middleware.NewRateLimiter(10, 20).Middleware())

	routes.SetupRoutes(router, routes.Deps{
		Orchestrator:   orch,
		Store:          store,
		Titler:         titler,
		WeaviateClient: weaviateClient,
		Embedder:       embedder,
	})

	slog.Info("Starting the orchestrator server", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
