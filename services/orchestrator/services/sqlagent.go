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
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/Concierge/services/llm"
	"github.com/AleutianAI/Concierge/services/orchestrator/datatypes"
)

var sqlAgentTracer = otel.Tracer("concierge.orchestrator.services.sql_agent")

// RowQuerier executes an already-validated SELECT and returns rows as
// column-name maps. Implemented by storage.Store.
type RowQuerier interface {
	QueryRows(ctx context.Context, query string, args ...any) ([]map[string]any, error)
}

// ordersSchema is the table description handed to the model. It must match
// the schema created by the storage package.
const ordersSchema = `Table: orders
Columns:
  id           INTEGER (primary key)
  user_id      TEXT
  product_name TEXT
  quantity     INTEGER
  price        REAL
  order_date   TEXT (ISO date, e.g. '2026-01-09')
  status       TEXT ('pending', 'shipped' or 'delivered')`

const sqlGenerationPrompt = `You translate a user's question about their own orders into a single SQLite SELECT statement.

%s

Rules:
- Output ONLY the SQL statement, no prose, no markdown fences.
- SELECT statements only. Never modify data.
- Always filter to the requesting user with: user_id = '$user_id' (keep the literal $user_id placeholder).
- Use LIMIT 100 or less.

Question: %s

SQL:`

const sqlSummaryPrompt = `A user asked: %s

The database returned these rows as JSON:
%s

Answer the user's question in one or two plain sentences using only these rows. Include concrete numbers. Do not mention SQL or the database.`

// SQLAgentService runs the sql_query branch: generate a statement, validate
// it through the guard, execute it scoped to the requesting user, and
// summarize the rows.
type SQLAgentService struct {
	llm   llm.LLMClient
	db    RowQuerier
	guard *SQLGuard
}

// NewSQLAgentService creates the SQL branch pipeline.
func NewSQLAgentService(client llm.LLMClient, db RowQuerier, guard *SQLGuard) *SQLAgentService {
	if guard == nil {
		guard = NewSQLGuard(nil)
	}
	return &SQLAgentService{llm: client, db: db, guard: guard}
}

// Answer executes the full SQL branch for question on behalf of userID,
// emitting the branch's progress events along the way.
//
// # Outputs
//
//   - *datatypes.SQLQueryResult: the terminal payload for final_response.
//   - error: ErrUnsafeQuery when the generated statement fails validation
//     (it is never executed), ErrRetrievalFailure when the store is
//     unavailable after one retry, or a wrapped generation error.
func (s *SQLAgentService) Answer(ctx context.Context, question, userID string, emitter EventEmitter) (*datatypes.SQLQueryResult, error) {
	ctx, span := sqlAgentTracer.Start(ctx, "SQLAgentService.Answer")
	defer span.End()
	span.SetAttributes(attribute.String("sql.user_id", userID))

	emitter.EmitProgress(datatypes.EventSQLRouting, "Routing your question to the order database")

	// Step 1: Generate the statement.
	emitter.EmitProgress(datatypes.EventSQLGenerating, "Generating a database query")
	temperature := float32(0.0)
	raw, err := s.llm.Generate(ctx, fmt.Sprintf(sqlGenerationPrompt, ordersSchema, question), llm.GenerationParams{
		Temperature: &temperature,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sql generation failed")
		return nil, fmt.Errorf("generate sql: %w", err)
	}
	candidate := stripCodeFences(raw)

	// Step 2: Validate before anything touches the database.
	emitter.EmitProgress(datatypes.EventSQLValidating, "Checking the query for safety")
	stmt, args, err := s.guard.Prepare(candidate, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unsafe statement rejected")
		slog.Warn("Rejected generated SQL", "error", err, "user_id", userID)
		return nil, err
	}
	span.SetAttributes(attribute.String("sql.statement", stmt))

	// Step 3: Execute, retrying once on store failure.
	emitter.EmitProgress(datatypes.EventSQLExecuting, "Running the query")
	rows, err := s.db.QueryRows(ctx, stmt, args...)
	if err != nil {
		slog.Warn("Query failed, retrying once", "error", err)
		time.Sleep(200 * time.Millisecond)
		rows, err = s.db.QueryRows(ctx, stmt, args...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query execution failed")
		return nil, fmt.Errorf("%w: %v", datatypes.ErrRetrievalFailure, err)
	}

	// Step 4: Summarize.
	emitter.EmitProgress(datatypes.EventResponding, "Summarizing the results")
	answer := s.summarize(ctx, question, rows)

	return &datatypes.SQLQueryResult{
		OriginalQuestion:      question,
		GeneratedSQL:          stmt,
		QueryResults:          rows,
		RowCount:              len(rows),
		NaturalLanguageAnswer: answer,
	}, nil
}

// summarize turns result rows into a short natural-language answer. A model
// failure here falls back to a deterministic summary rather than failing the
// branch; the user already has the rows.
func (s *SQLAgentService) summarize(ctx context.Context, question string, rows []map[string]any) string {
	const maxRowsInPrompt = 20
	sample := rows
	if len(sample) > maxRowsInPrompt {
		sample = sample[:maxRowsInPrompt]
	}
	encoded, err := json.Marshal(sample)
	if err != nil {
		return fallbackSummary(rows)
	}

	answer, err := s.llm.Generate(ctx, fmt.Sprintf(sqlSummaryPrompt, question, string(encoded)), llm.GenerationParams{})
	if err != nil || strings.TrimSpace(answer) == "" {
		slog.Warn("Summary generation failed, using fallback", "error", err)
		return fallbackSummary(rows)
	}
	return strings.TrimSpace(answer)
}

// fallbackSummary is the deterministic answer used when the model cannot
// summarize. Single-cell results (counts, sums) report the value itself.
func fallbackSummary(rows []map[string]any) string {
	if len(rows) == 1 && len(rows[0]) == 1 {
		for _, v := range rows[0] {
			return fmt.Sprintf("The answer is %v.", v)
		}
	}
	if len(rows) == 0 {
		return "The query returned no matching orders."
	}
	return fmt.Sprintf("The query returned %d matching row(s).", len(rows))
}

// stripCodeFences removes a surrounding markdown code fence and a leading
// "sql" language tag from model output.
func stripCodeFences(s string) string {
	out := strings.TrimSpace(s)
	if strings.HasPrefix(out, "```") {
		out = strings.TrimPrefix(out, "```")
		if idx := strings.LastIndex(out, "```"); idx >= 0 {
			out = out[:idx]
		}
		out = strings.TrimSpace(out)
		out = strings.TrimPrefix(out, "sql")
		out = strings.TrimPrefix(out, "SQL")
	}
	return strings.TrimSpace(out)
}
