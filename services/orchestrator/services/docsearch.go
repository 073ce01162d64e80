// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/Concierge/services/llm"
	"github.com/AleutianAI/Concierge/services/orchestrator/datatypes"
)

var docSearchTracer = otel.Tracer("concierge.orchestrator.services.doc_search")

// Compile-time interface implementation check.
var _ DocumentFinder = (*WeaviateFinder)(nil)

// DefaultRelevanceThreshold drops weak matches from document search results.
const DefaultRelevanceThreshold = 0.3

// docSearchTopK is how many candidates to pull from the vector store before
// threshold filtering.
const docSearchTopK = 10

// snippetLength caps the chunk text included per result.
const snippetLength = 300

// DocumentFinder retrieves document chunks by vector similarity.
type DocumentFinder interface {
	// FindSimilar returns up to limit chunks nearest to vector, with
	// relevance scores in [0, 1].
	FindSimilar(ctx context.Context, vector []float32, limit int) ([]datatypes.RetrievedDocument, error)
}

// WeaviateFinder implements DocumentFinder against the SupportDocument class.
type WeaviateFinder struct {
	client *weaviate.Client
}

// NewWeaviateFinder creates a finder over the given client.
func NewWeaviateFinder(client *weaviate.Client) *WeaviateFinder {
	return &WeaviateFinder{client: client}
}

// FindSimilar implements DocumentFinder using a nearVector query. The
// relevance score is Weaviate's certainty; when the server omits it the
// distance is folded into the same [0, 1] range.
func (f *WeaviateFinder) FindSimilar(ctx context.Context, vector []float32, limit int) ([]datatypes.RetrievedDocument, error) {
	fields := []graphql.Field{
		{Name: "content"},
		{Name: "title"},
		{Name: "source"},
		{Name: "chunk_index"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "certainty"},
			{Name: "distance"},
		}},
	}

	nearVector := f.client.GraphQL().NearVectorArgBuilder().WithVector(vector)

	resp, err := f.client.GraphQL().Get().
		WithClassName(datatypes.SupportDocumentClass).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate nearVector query: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("weaviate nearVector query: %s", resp.Errors[0].Message)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.SupportDocumentQueryResponse](resp)
	if err != nil {
		return nil, fmt.Errorf("parse nearVector response: %w", err)
	}

	docs := make([]datatypes.RetrievedDocument, 0, len(parsed.Get.SupportDocument))
	for _, hit := range parsed.Get.SupportDocument {
		score := 0.0
		switch {
		case hit.Additional.Certainty != nil:
			score = float64(*hit.Additional.Certainty)
		case hit.Additional.Distance != nil:
			score = 1.0 - float64(*hit.Additional.Distance)/2.0
		}
		docs = append(docs, datatypes.RetrievedDocument{
			DocumentID:     hit.Additional.ID,
			Title:          hit.Title,
			Snippet:        truncate(hit.Content, snippetLength),
			RelevanceScore: score,
		})
	}
	return docs, nil
}

const docAnswerPrompt = `Answer the user's question using ONLY the document excerpts below. If the excerpts do not answer it, say so briefly.

Question: %s

Excerpts:
%s

Answer in two or three sentences.`

// DocSearchService runs the document_search branch: embed the resolved
// query, retrieve by vector similarity, filter and rank, synthesize an
// answer.
type DocSearchService struct {
	embedder  Embedder
	finder    DocumentFinder
	llm       llm.LLMClient
	threshold float64
}

// NewDocSearchService creates the branch pipeline. A non-positive threshold
// falls back to DefaultRelevanceThreshold.
func NewDocSearchService(embedder Embedder, finder DocumentFinder, client llm.LLMClient, threshold float64) *DocSearchService {
	if threshold <= 0 {
		threshold = DefaultRelevanceThreshold
	}
	return &DocSearchService{embedder: embedder, finder: finder, llm: client, threshold: threshold}
}

// Search executes the document search branch for the resolved query.
//
// # Outputs
//
//   - *datatypes.DocumentSearchResult: every returned document scores at or
//     above the threshold, documents are sorted by relevance descending, and
//     TotalResults equals len(RetrievedDocuments). Zero hits is a valid
//     outcome with a fixed "couldn't find" answer, not an error.
//   - error: wraps ErrRetrievalFailure when embedding or the vector store
//     fail (the store is retried once).
func (s *DocSearchService) Search(ctx context.Context, query string, emitter EventEmitter) (*datatypes.DocumentSearchResult, error) {
	ctx, span := docSearchTracer.Start(ctx, "DocSearchService.Search")
	defer span.End()

	// Lightweight deployments run without a vector store.
	if s.embedder == nil || s.finder == nil {
		return nil, fmt.Errorf("%w: document search is not configured", datatypes.ErrRetrievalFailure)
	}

	emitter.EmitProgress(datatypes.EventProcessing, "Searching the knowledge base")

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return nil, fmt.Errorf("%w: embed query: %v", datatypes.ErrRetrievalFailure, err)
	}

	docs, err := s.finder.FindSimilar(ctx, vector, docSearchTopK)
	if err != nil {
		slog.Warn("Vector search failed, retrying once", "error", err)
		time.Sleep(200 * time.Millisecond)
		docs, err = s.finder.FindSimilar(ctx, vector, docSearchTopK)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "vector search failed")
		return nil, fmt.Errorf("%w: %v", datatypes.ErrRetrievalFailure, err)
	}

	kept := docs[:0]
	for _, d := range docs {
		if d.RelevanceScore >= s.threshold {
			kept = append(kept, d)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].RelevanceScore > kept[j].RelevanceScore
	})
	span.SetAttributes(attribute.Int("docsearch.results", len(kept)))

	emitter.EmitProgress(datatypes.EventResponding, "Composing an answer from the documents")

	return &datatypes.DocumentSearchResult{
		OriginalQuery:      query,
		RetrievedDocuments: kept,
		Answer:             s.answer(ctx, query, kept),
		TotalResults:       len(kept),
	}, nil
}

// answer synthesizes a short response from the top hits. Model failure falls
// back to the best snippet; the documents themselves are already in the
// payload.
func (s *DocSearchService) answer(ctx context.Context, query string, docs []datatypes.RetrievedDocument) string {
	if len(docs) == 0 {
		return fmt.Sprintf("I couldn't find any documents about %s. Try rephrasing your question or asking about a different topic.", query)
	}

	top := docs
	if len(top) > 3 {
		top = top[:3]
	}
	var excerpts strings.Builder
	for i, d := range top {
		fmt.Fprintf(&excerpts, "[%d] %s\n%s\n\n", i+1, d.Title, d.Snippet)
	}

	answer, err := s.llm.Generate(ctx, fmt.Sprintf(docAnswerPrompt, query, excerpts.String()), llm.GenerationParams{})
	if err != nil || strings.TrimSpace(answer) == "" {
		slog.Warn("Answer synthesis failed, using top snippet", "error", err)
		return top[0].Snippet
	}
	return strings.TrimSpace(answer)
}

// truncate cuts s at max bytes on a rune boundary with an ellipsis.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	for len(cut) > 0 && (cut[len(cut)-1]&0xC0) == 0x80 {
		cut = cut[:len(cut)-1]
	}
	if len(cut) > 0 && cut[len(cut)-1] >= 0xC0 {
		cut = cut[:len(cut)-1]
	}
	return cut + "..."
}
