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
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/Concierge/services/llm"
	"github.com/AleutianAI/Concierge/services/orchestrator/datatypes"
)

var rewriteTracer = otel.Tracer("concierge.orchestrator.services.rewrite")

// Compile-time interface implementation check.
var _ RewriteAnalyzer = (*LLMRewriteAnalyzer)(nil)

// RewriteAnalyzer decides whether a search query needs a user-confirmed
// correction before it may be dispatched.
//
// Analyze never fails the request: a backend failure or unparseable output
// degrades to NoRewriteNeeded with a heuristically cleaned query, because a
// missed correction is recoverable and a blocked search is not. A proposed
// rewrite is never substituted without confirmation.
type RewriteAnalyzer interface {
	Analyze(ctx context.Context, query string) *datatypes.RewriteResult
}

// QueryCleaner normalizes a raw query into a searchable form. The default
// strips conversational filler; callers may swap in a different heuristic.
type QueryCleaner func(string) string

var (
	fillerPrefixes = []string{
		"please ", "can you ", "could you ", "would you ", "will you ",
		"tell me about ", "tell me ", "i want to know about ", "i want to know ",
		"what do you know about ", "search for ", "find me ", "look up ",
	}
	fillerWords = regexp.MustCompile(`(?i)\b(um|uh|hmm|like, )\b\s*`)
	spaceRuns   = regexp.MustCompile(`\s+`)
)

// DefaultCleaner strips leading politeness and filler words and collapses
// whitespace. It never changes the meaning of the query, only trims around
// it, so it is safe to apply without confirmation.
func DefaultCleaner(query string) string {
	q := strings.TrimSpace(query)
	lowered := strings.ToLower(q)
	for changed := true; changed; {
		changed = false
		for _, prefix := range fillerPrefixes {
			if strings.HasPrefix(lowered, prefix) {
				q = strings.TrimSpace(q[len(prefix):])
				lowered = strings.ToLower(q)
				changed = true
			}
		}
	}
	q = fillerWords.ReplaceAllString(q, "")
	q = spaceRuns.ReplaceAllString(q, " ")
	q = strings.Trim(q, " ?!.")
	if q == "" {
		return strings.TrimSpace(query)
	}
	return q
}

const rewritePrompt = `You review search queries for a knowledge base and propose corrections.

Query: %s

If the query contains a grammatical or spelling error whose correction would change the search results (for example "Africa people" should be "African people"), propose a rewrite. Light filler ("please", "can you") is NOT a reason to rewrite.

Respond with ONLY a JSON object:
{"clean_topic": "<the query stripped of filler>", "needs_confirmation": <true|false>, "rewritten_query": "<corrected query, empty if none>", "rewrite_reason": "<one short sentence, empty if none>"}`

// LLMRewriteAnalyzer implements RewriteAnalyzer on top of an LLMClient with a
// pluggable fallback cleaner.
type LLMRewriteAnalyzer struct {
	llm     llm.LLMClient
	cleaner QueryCleaner
}

// NewLLMRewriteAnalyzer creates an analyzer. A nil cleaner falls back to
// DefaultCleaner.
func NewLLMRewriteAnalyzer(client llm.LLMClient, cleaner QueryCleaner) *LLMRewriteAnalyzer {
	if cleaner == nil {
		cleaner = DefaultCleaner
	}
	return &LLMRewriteAnalyzer{llm: client, cleaner: cleaner}
}

// Analyze implements RewriteAnalyzer.
func (a *LLMRewriteAnalyzer) Analyze(ctx context.Context, query string) *datatypes.RewriteResult {
	ctx, span := rewriteTracer.Start(ctx, "LLMRewriteAnalyzer.Analyze")
	defer span.End()

	cleaned := a.cleaner(query)
	degraded := &datatypes.RewriteResult{Kind: datatypes.NoRewriteNeeded, CleanQuery: cleaned}

	temperature := float32(0.0)
	raw, err := a.llm.Generate(ctx, fmt.Sprintf(rewritePrompt, query), llm.GenerationParams{
		Temperature: &temperature,
	})
	if err != nil {
		slog.Warn("Rewrite analysis degraded to cleaned query", "error", err)
		span.RecordError(err)
		return degraded
	}

	obj, err := extractJSONObject(raw)
	if err != nil {
		slog.Warn("Rewrite analysis returned no JSON, using cleaned query")
		return degraded
	}

	var parsed struct {
		CleanTopic        string `json:"clean_topic"`
		NeedsConfirmation bool   `json:"needs_confirmation"`
		RewrittenQuery    string `json:"rewritten_query"`
		RewriteReason     string `json:"rewrite_reason"`
	}
	if err := json.Unmarshal([]byte(obj), &parsed); err != nil {
		slog.Warn("Rewrite analysis output unparseable, using cleaned query", "error", err)
		return degraded
	}

	if topic := strings.TrimSpace(parsed.CleanTopic); topic != "" {
		degraded.CleanQuery = topic
	}

	rewritten := strings.TrimSpace(parsed.RewrittenQuery)
	if !parsed.NeedsConfirmation || rewritten == "" {
		return degraded
	}
	// A rewrite identical to what we already have is not worth a round-trip.
	if strings.EqualFold(rewritten, degraded.CleanQuery) || strings.EqualFold(rewritten, strings.TrimSpace(query)) {
		return degraded
	}

	reason := strings.TrimSpace(parsed.RewriteReason)
	if reason == "" {
		reason = "suggested correction"
	}
	return &datatypes.RewriteResult{
		Kind: datatypes.RewriteProposed,
		Proposal: &datatypes.RewriteProposal{
			OriginalQuery:  query,
			CleanQuery:     degraded.CleanQuery,
			RewrittenQuery: rewritten,
			Reason:         reason,
		},
	}
}
