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
	"crypto/sha256"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/Concierge/services/orchestrator/datatypes"
	"github.com/AleutianAI/Concierge/services/orchestrator/services"
)

var (
	chunkSize         = 1000
	chunkOverlap      = chunkSize / 10
	defaultSeparators = []string{"\n\n", "\n", " ", ""}

	markdownSeparators = []string{
		"\n# ", "\n## ", "\n### ", "\n#### ", "\n##### ", "\n###### ",
		"\n\n", "\n", " ", "",
	}
)

// IngestDocumentRequest is the body of POST /api/v1/documents.
type IngestDocumentRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Source  string `json:"source"`
}

// HandleIngestDocument returns the POST /api/v1/documents handler. The
// document is chunked, embedded, and batch-imported into the knowledge base
// that the document_search branch queries.
func HandleIngestDocument(client *weaviate.Client, embedder services.Embedder) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req IngestDocumentRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if req.Content == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
			return
		}
		if req.Title == "" {
			req.Title = req.Source
		}

		chunksCreated, err := RunIngestion(c.Request.Context(), client, embedder, req)
		if err != nil {
			slog.Error("Ingestion failed", "source", req.Source, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ingestion failed"})
			return
		}

		slog.Info("Document ingested", "source", req.Source, "chunks_processed", chunksCreated)
		c.JSON(http.StatusCreated, gin.H{
			"status":           "success",
			"title":            req.Title,
			"source":           req.Source,
			"chunks_processed": chunksCreated,
		})
	}
}

// RunIngestion splits, embeds, and stores one document. Returns the number
// of chunks that landed successfully.
func RunIngestion(ctx context.Context, client *weaviate.Client, embedder services.Embedder, req IngestDocumentRequest) (int, error) {
	splitter := getSplitterForFile(req.Source)

	chunks, err := splitter.SplitText(req.Content)
	if err != nil {
		return 0, fmt.Errorf("failed to split content: %w", err)
	}
	if len(chunks) == 0 {
		slog.Warn("No chunks produced after splitting", "source", req.Source)
		return 0, nil
	}
	slog.Info("Split document into chunks", "source", req.Source, "chunk_count", len(chunks))

	vectors, err := embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("embedding returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	now := time.Now().UnixMilli()
	objects := make([]*models.Object, len(chunks))
	for i, chunk := range chunks {
		props := datatypes.SupportDocumentProperties{
			Content:    chunk,
			Title:      req.Title,
			Source:     req.Source,
			ChunkIndex: i,
			IngestedAt: now,
		}

		// Deterministic id from the chunk content, so re-ingesting the same
		// document updates in place instead of duplicating.
		hash := sha256.Sum256([]byte(chunk))
		docUUID, _ := uuid.FromBytes(hash[:16])

		objects[i] = &models.Object{
			Class:      datatypes.SupportDocumentClass,
			ID:         strfmt.UUID(docUUID.String()),
			Vector:     vectors[i],
			Properties: props.ToMap(),
		}
	}

	resp, err := client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to save objects: %w", err)
	}

	chunksCreated := 0
	for _, item := range resp {
		if item.Result != nil && item.Result.Status != nil && *item.Result.Status == "SUCCESS" {
			chunksCreated++
			continue
		}
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			for _, errItem := range item.Result.Errors.Error {
				slog.Warn("Batch item failed", "source", req.Source, "error", errItem.Message)
			}
		} else {
			slog.Warn("Batch item failed without detail", "source", req.Source)
		}
	}

	if chunksCreated < len(chunks) {
		slog.Warn("Partial ingestion", "source", req.Source, "successful_chunks", chunksCreated, "total_chunks", len(chunks))
	}
	return chunksCreated, nil
}

// getSplitterForFile picks separators based on the source's file extension.
func getSplitterForFile(filename string) textsplitter.TextSplitter {
	separators := defaultSeparators
	if filepath.Ext(filename) == ".md" {
		separators = markdownSeparators
	}
	return textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
		textsplitter.WithSeparators(separators),
	)
}
