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
	"sync"

	"github.com/AleutianAI/Concierge/services/llm"
	"github.com/AleutianAI/Concierge/services/orchestrator/datatypes"
)

// fakeLLM returns scripted responses in order and records every prompt it
// received. A nil Err and exhausted Responses return the last response again.
type fakeLLM struct {
	mu        sync.Mutex
	Responses []string
	Err       error
	Prompts   []string
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Prompts = append(f.Prompts, prompt)
	if f.Err != nil {
		return "", f.Err
	}
	if len(f.Responses) == 0 {
		return "", fmt.Errorf("fakeLLM: no scripted response")
	}
	idx := len(f.Prompts) - 1
	if idx >= len(f.Responses) {
		idx = len(f.Responses) - 1
	}
	return f.Responses[idx], nil
}

func (f *fakeLLM) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Prompts)
}

// recordingEmitter captures the event stream a pipeline produced.
type recordingEmitter struct {
	mu     sync.Mutex
	Events []datatypes.StreamEvent
}

func (r *recordingEmitter) EmitProgress(eventType, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, datatypes.StreamEvent{Type: eventType, Message: message})
	return nil
}

func (r *recordingEmitter) EmitFinal(data any, metadata map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	r.Events = append(r.Events, datatypes.StreamEvent{
		Type:     datatypes.EventFinalResponse,
		Data:     raw,
		Metadata: metadata,
	})
	return nil
}

func (r *recordingEmitter) EmitError(message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, datatypes.StreamEvent{Type: datatypes.EventError, Error: message})
	return nil
}

func (r *recordingEmitter) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, len(r.Events))
	for i, ev := range r.Events {
		types[i] = ev.Type
	}
	return types
}

func (r *recordingEmitter) final() *datatypes.StreamEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.Events {
		if r.Events[i].Type == datatypes.EventFinalResponse {
			return &r.Events[i]
		}
	}
	return nil
}
