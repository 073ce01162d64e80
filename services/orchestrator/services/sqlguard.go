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
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/AleutianAI/Concierge/services/orchestrator/datatypes"
)

// MaxQueryLimit caps how many rows a generated statement may return.
const MaxQueryLimit = 100

// userIDPlaceholder is the token the SQL generation prompt tells the model
// to use wherever the requesting user's id belongs. The guard turns every
// occurrence into a bind parameter.
const userIDPlaceholder = "$user_id"

var (
	selectPrefix    = regexp.MustCompile(`(?i)^\s*select\s`)
	blockedKeywords = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|truncate|create|grant|revoke|execute|exec|into|set|merge|replace|attach|detach|pragma|vacuum)\b`)
	tableRefs       = regexp.MustCompile(`(?i)\b(?:from|join)\s+([A-Za-z_][A-Za-z0-9_]*)`)
	limitClause     = regexp.MustCompile(`(?i)\blimit\s+(\d+)`)
	whereClause     = regexp.MustCompile(`(?i)\bwhere\b`)
	tailClauses     = regexp.MustCompile(`(?i)\b(group\s+by|order\s+by|limit)\b`)
	sqlComments     = regexp.MustCompile(`--|/\*`)
)

// SQLGuard validates model-generated SQL before it is allowed anywhere near
// the database. Nothing the model produces is executed without passing
// through Prepare.
type SQLGuard struct {
	allowedTables map[string]struct{}
}

// NewSQLGuard creates a guard restricted to the given tables. An empty list
// defaults to the demo orders table.
func NewSQLGuard(tables []string) *SQLGuard {
	if len(tables) == 0 {
		tables = []string{"orders"}
	}
	allowed := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		allowed[strings.ToLower(t)] = struct{}{}
	}
	return &SQLGuard{allowedTables: allowed}
}

// Prepare validates raw and returns an executable statement plus the bind
// arguments for it.
//
// # Description
//
// The checks, in order:
//  1. Single statement: one optional trailing semicolon, no embedded ones,
//     no comment markers.
//  2. Read-only: the statement must start with SELECT and contain none of
//     the blocked write/DDL keywords.
//  3. Table allowlist: every FROM/JOIN target must be allow-listed.
//  4. User scoping: every $user_id placeholder becomes a bind parameter.
//     A statement that never references user_id gets a "user_id = ?" filter
//     injected, so the caller's identity always constrains the rows, never
//     anything found in user text.
//  5. Row cap: LIMIT is clamped to MaxQueryLimit, or appended when absent.
//
// # Outputs
//
//   - string: the rewritten statement containing only ? bind parameters.
//   - []any: one userID value per bind parameter.
//   - error: wraps datatypes.ErrUnsafeQuery on any violation. A failing
//     statement is never executed.
func (g *SQLGuard) Prepare(raw, userID string) (string, []any, error) {
	q := strings.TrimSpace(raw)
	q = strings.TrimSuffix(q, ";")
	q = strings.TrimSpace(q)

	if q == "" {
		return "", nil, fmt.Errorf("%w: empty statement", datatypes.ErrUnsafeQuery)
	}
	if strings.Contains(q, ";") {
		return "", nil, fmt.Errorf("%w: multiple statements", datatypes.ErrUnsafeQuery)
	}
	if sqlComments.MatchString(q) {
		return "", nil, fmt.Errorf("%w: comment markers not allowed", datatypes.ErrUnsafeQuery)
	}
	if !selectPrefix.MatchString(q + " ") {
		return "", nil, fmt.Errorf("%w: only SELECT statements are allowed", datatypes.ErrUnsafeQuery)
	}
	if kw := blockedKeywords.FindString(q); kw != "" {
		return "", nil, fmt.Errorf("%w: blocked keyword %q", datatypes.ErrUnsafeQuery, strings.ToUpper(kw))
	}

	for _, m := range tableRefs.FindAllStringSubmatch(q, -1) {
		table := strings.ToLower(m[1])
		if _, ok := g.allowedTables[table]; !ok {
			return "", nil, fmt.Errorf("%w: table %q is not allow-listed", datatypes.ErrUnsafeQuery, table)
		}
	}

	q, argCount := g.scopeToUser(q)
	q = clampLimit(q)

	args := make([]any, argCount)
	for i := range args {
		args[i] = userID
	}
	return q, args, nil
}

// scopeToUser rewrites $user_id placeholders into bind parameters and
// injects a user_id filter when the statement has none. Returns the
// rewritten statement and the number of bind parameters.
func (g *SQLGuard) scopeToUser(q string) (string, int) {
	count := strings.Count(strings.ToLower(q), userIDPlaceholder)
	if count > 0 {
		re := regexp.MustCompile(`(?i)'?\` + userIDPlaceholder + `'?`)
		return re.ReplaceAllString(q, "?"), count
	}
	// No placeholder. Even when the model compared user_id against
	// something it invented, add our own conjunct; the result set can only
	// shrink.
	return injectCondition(q, "user_id = ?"), 1
}

// injectCondition adds cond to the statement's WHERE clause, creating one if
// needed, before any trailing GROUP BY/ORDER BY/LIMIT.
func injectCondition(q, cond string) string {
	if loc := whereClause.FindStringIndex(q); loc != nil {
		// Wrap the existing predicate so OR branches cannot escape the
		// user filter.
		tail := q[loc[1]:]
		end := len(tail)
		if tailLoc := tailClauses.FindStringIndex(tail); tailLoc != nil {
			end = tailLoc[0]
		}
		predicate := strings.TrimSpace(tail[:end])
		rest := tail[end:]
		return q[:loc[0]] + "WHERE (" + predicate + ") AND " + cond + " " + strings.TrimSpace(rest)
	}

	insertAt := len(q)
	if loc := tailClauses.FindStringIndex(q); loc != nil {
		insertAt = loc[0]
	}
	head := strings.TrimSpace(q[:insertAt])
	rest := strings.TrimSpace(q[insertAt:])
	out := head + " WHERE " + cond
	if rest != "" {
		out += " " + rest
	}
	return out
}

// clampLimit caps an existing LIMIT at MaxQueryLimit or appends the default.
func clampLimit(q string) string {
	if m := limitClause.FindStringSubmatch(q); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil && n <= MaxQueryLimit {
			return q
		}
		return limitClause.ReplaceAllString(q, fmt.Sprintf("LIMIT %d", MaxQueryLimit))
	}
	return strings.TrimSpace(q) + fmt.Sprintf(" LIMIT %d", MaxQueryLimit)
}
