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
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDefaultsGeneratesSessionID(t *testing.T) {
	req := &StreamingChatRequest{Message: "hello"}
	req.EnsureDefaults()

	_, err := uuid.Parse(req.SessionID)
	require.NoError(t, err, "generated session id should be a UUID")
	assert.Equal(t, "anonymous", req.UserID)
}

func TestEnsureDefaultsKeepsProvidedValues(t *testing.T) {
	req := &StreamingChatRequest{Message: "hello", SessionID: "s1", UserID: "u1"}
	req.EnsureDefaults()

	assert.Equal(t, "s1", req.SessionID)
	assert.Equal(t, "u1", req.UserID)
}
