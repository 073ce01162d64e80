// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// SupportDocumentClass is the Weaviate class backing the document_search
// branch.
const SupportDocumentClass = "SupportDocument"

func GetSupportDocumentSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       SupportDocumentClass,
		Description: "A knowledge base document chunk served by document search.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "The main content of the document chunk.",
				Tokenization: "word",
			},
			{
				Name:            "title",
				DataType:        []string{"text"},
				Description:     "Human-readable title of the parent document.",
				IndexFilterable: indexFilterable,
				Tokenization:    "word",
			},
			{
				Name:            "source",
				DataType:        []string{"text"},
				Description:     "The original file path or source of the document.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "chunk_index",
				DataType:        []string{"int"},
				Description:     "Position of this chunk within its parent document.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "ingested_at",
				DataType:        []string{"number"},
				Description:     "Timestamp (Unix ms) of when the chunk was ingested.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// EnsureWeaviateSchema creates the SupportDocument class if it is missing.
// Called once at startup when a Weaviate client is configured.
func EnsureWeaviateSchema(client *weaviate.Client) {
	class := GetSupportDocumentSchema()
	slog.Info("Checking schema", "class", class.Class)

	// The client returns an error when the class does not exist yet.
	_, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(context.Background())
	if err != nil {
		slog.Info("Schema not found, creating it...", "class", class.Class)
		err := client.Schema().ClassCreator().WithClass(class).Do(context.Background())
		if err != nil {
			log.Fatalf("Failed to create schema for class %s: %v", class.Class, err)
		}
		slog.Info("Successfully created schema", "class", class.Class)
	} else {
		slog.Info("Schema already exists", "class", class.Class)
	}
}

// =============================================================================
// Generic GraphQL Response Parser
// =============================================================================

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target
// type. The target type T must have json tags matching the response shape;
// type mismatches yield zero values, not errors.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// SupportDocumentQueryResponse is the shape of a Get query against the
// SupportDocument class.
type SupportDocumentQueryResponse struct {
	Get struct {
		SupportDocument []SupportDocumentResult `json:"SupportDocument"`
	} `json:"Get"`
}

// SupportDocumentResult is a single chunk from a nearVector query.
type SupportDocumentResult struct {
	Content    string `json:"content"`
	Title      string `json:"title"`
	Source     string `json:"source"`
	ChunkIndex *int   `json:"chunk_index"`
	IngestedAt int64  `json:"ingested_at"`
	Additional struct {
		ID        string   `json:"id"`
		Distance  *float32 `json:"distance"`
		Certainty *float32 `json:"certainty"`
	} `json:"_additional"`
}

// SupportDocumentProperties is the property set for creating a
// SupportDocument object.
type SupportDocumentProperties struct {
	Content    string `json:"content"`
	Title      string `json:"title"`
	Source     string `json:"source"`
	ChunkIndex int    `json:"chunk_index"`
	IngestedAt int64  `json:"ingested_at"`
}

// ToMap converts the typed properties to the map format required by the
// Weaviate client's WithProperties method.
func (p *SupportDocumentProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"content":     p.Content,
		"title":       p.Title,
		"source":      p.Source,
		"chunk_index": p.ChunkIndex,
		"ingested_at": p.IngestedAt,
	}
}
