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

import "errors"

// Routing error taxonomy. Every failure inside the routing core maps to one
// of these sentinels; handlers and the dispatcher classify with errors.Is.
var (
	// ErrInvalidInput marks an empty or malformed request. Rejected before
	// any classification work runs.
	ErrInvalidInput = errors.New("invalid input")

	// ErrClassificationUnavailable marks an LLM failure (or unparseable LLM
	// output) during intent classification. Surfaced as an error event; no
	// assistant turn is persisted.
	ErrClassificationUnavailable = errors.New("classification unavailable")

	// ErrUnsafeQuery marks generated SQL that failed the read-only/allowlist
	// check. The statement is never executed.
	ErrUnsafeQuery = errors.New("unsafe query")

	// ErrRetrievalFailure marks an unavailable backing store (turn store,
	// relational store, or document store).
	ErrRetrievalFailure = errors.New("retrieval failure")

	// ErrAmbiguousReply marks a confirmation reply that did not parse. Not a
	// hard failure; the resolver routes it to a rephrase prompt.
	ErrAmbiguousReply = errors.New("ambiguous reply")
)
