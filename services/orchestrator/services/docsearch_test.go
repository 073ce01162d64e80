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
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Concierge/services/orchestrator/datatypes"
)

type fakeEmbedder struct {
	Err error
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return make([]float32, EmbeddingDimension), nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, EmbeddingDimension)
	}
	return out, nil
}

type fakeFinder struct {
	Docs  []datatypes.RetrievedDocument
	Err   error
	calls int
}

func (f *fakeFinder) FindSimilar(ctx context.Context, vector []float32, limit int) ([]datatypes.RetrievedDocument, error) {
	f.calls++
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Docs, nil
}

func TestSearchFiltersAndSorts(t *testing.T) {
	finder := &fakeFinder{Docs: []datatypes.RetrievedDocument{
		{DocumentID: "a", Title: "A", Snippet: "alpha", RelevanceScore: 0.55},
		{DocumentID: "b", Title: "B", Snippet: "bravo", RelevanceScore: 0.12},
		{DocumentID: "c", Title: "C", Snippet: "charlie", RelevanceScore: 0.91},
		{DocumentID: "d", Title: "D", Snippet: "delta", RelevanceScore: 0.30},
	}}
	svc := NewDocSearchService(&fakeEmbedder{}, finder, &fakeLLM{Responses: []string{"synthesized answer"}}, 0)
	emitter := &recordingEmitter{}

	result, err := svc.Search(context.Background(), "solar panels", emitter)
	require.NoError(t, err)

	assert.Equal(t, len(result.RetrievedDocuments), result.TotalResults)
	require.Len(t, result.RetrievedDocuments, 3)
	for _, d := range result.RetrievedDocuments {
		assert.GreaterOrEqual(t, d.RelevanceScore, DefaultRelevanceThreshold)
	}
	assert.True(t, sort.SliceIsSorted(result.RetrievedDocuments, func(i, j int) bool {
		return result.RetrievedDocuments[i].RelevanceScore > result.RetrievedDocuments[j].RelevanceScore
	}))
	assert.Equal(t, "c", result.RetrievedDocuments[0].DocumentID)
	assert.Equal(t, "synthesized answer", result.Answer)
}

func TestSearchEmptyResults(t *testing.T) {
	svc := NewDocSearchService(&fakeEmbedder{}, &fakeFinder{}, &fakeLLM{}, 0)

	result, err := svc.Search(context.Background(), "quantum basket weaving", &recordingEmitter{})
	require.NoError(t, err)

	assert.Zero(t, result.TotalResults)
	assert.Empty(t, result.RetrievedDocuments)
	assert.Contains(t, result.Answer, "couldn't find any documents about quantum basket weaving")
}

func TestSearchEmbeddingFailure(t *testing.T) {
	svc := NewDocSearchService(&fakeEmbedder{Err: errors.New("sidecar down")}, &fakeFinder{}, &fakeLLM{}, 0)

	_, err := svc.Search(context.Background(), "anything", &recordingEmitter{})
	assert.ErrorIs(t, err, datatypes.ErrRetrievalFailure)
}

func TestSearchRetrievalFailureRetriesOnce(t *testing.T) {
	finder := &fakeFinder{Err: errors.New("weaviate unreachable")}
	svc := NewDocSearchService(&fakeEmbedder{}, finder, &fakeLLM{}, 0)

	_, err := svc.Search(context.Background(), "anything", &recordingEmitter{})
	assert.ErrorIs(t, err, datatypes.ErrRetrievalFailure)
	assert.Equal(t, 2, finder.calls)
}

func TestSearchAnswerFallsBackToTopSnippet(t *testing.T) {
	finder := &fakeFinder{Docs: []datatypes.RetrievedDocument{
		{DocumentID: "a", Title: "A", Snippet: "top snippet text", RelevanceScore: 0.8},
	}}
	svc := NewDocSearchService(&fakeEmbedder{}, finder, &fakeLLM{Err: errors.New("llm down")}, 0)

	result, err := svc.Search(context.Background(), "topic", &recordingEmitter{})
	require.NoError(t, err)
	assert.Equal(t, "top snippet text", result.Answer)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 300))
	long := truncate(string(make([]byte, 400)), 300)
	assert.Len(t, long, 303)
	assert.Equal(t, "héllo...", truncate("hélloworld", 6))
}
