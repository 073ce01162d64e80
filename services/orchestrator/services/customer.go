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
	"strings"

	"github.com/AleutianAI/Concierge/services/llm"
	"github.com/AleutianAI/Concierge/services/orchestrator/datatypes"
)

// Customer service categories. The model must pick one; anything else falls
// back to CategoryGeneral.
const (
	CategoryTechnical = "Technical Support"
	CategoryBilling   = "Billing"
	CategoryGeneral   = "General Inquiry"
)

// categoryResponses are the canned reply templates per category. %s is the
// original inquiry.
var categoryResponses = map[string]string{
	CategoryTechnical: "Thanks for reaching out about a technical issue. Our support team has been notified and will follow up shortly. In the meantime, restarting the application resolves most connection problems. Your message: %q",
	CategoryBilling:   "Thanks for contacting us about billing. A billing specialist will review your account and respond within one business day. Your message: %q",
	CategoryGeneral:   "Thanks for getting in touch. We've logged your inquiry and a member of our team will respond soon. Your message: %q",
}

const categorizePrompt = `Categorize this customer service inquiry into exactly one of:
- "Technical Support": errors, outages, login problems, product malfunctions.
- "Billing": charges, invoices, refunds, payment methods, subscriptions.
- "General Inquiry": everything else.

Inquiry: %s

Respond with ONLY the category name, nothing else.`

// CustomerServiceHandler runs the customer_service branch: categorize the
// inquiry and produce a suggested response from the category template.
type CustomerServiceHandler struct {
	llm llm.LLMClient
}

// NewCustomerServiceHandler creates the branch pipeline.
func NewCustomerServiceHandler(client llm.LLMClient) *CustomerServiceHandler {
	return &CustomerServiceHandler{llm: client}
}

// Handle categorizes inquiry and returns the terminal payload. A model
// failure or an off-list category degrades to General Inquiry; this branch
// never fails the request.
func (h *CustomerServiceHandler) Handle(ctx context.Context, inquiry string, emitter EventEmitter) *datatypes.CustomerServiceResult {
	emitter.EmitProgress(datatypes.EventCategorizing, "Categorizing your inquiry")

	category := h.categorize(ctx, inquiry)

	emitter.EmitProgress(datatypes.EventResponding, "Preparing a response")

	return &datatypes.CustomerServiceResult{
		OriginalInquiry:   inquiry,
		Category:          category,
		SuggestedResponse: fmt.Sprintf(categoryResponses[category], inquiry),
	}
}

func (h *CustomerServiceHandler) categorize(ctx context.Context, inquiry string) string {
	temperature := float32(0.0)
	raw, err := h.llm.Generate(ctx, fmt.Sprintf(categorizePrompt, inquiry), llm.GenerationParams{
		Temperature: &temperature,
	})
	if err != nil {
		slog.Warn("Categorization failed, defaulting to general inquiry", "error", err)
		return CategoryGeneral
	}

	answer := strings.ToLower(raw)
	switch {
	case strings.Contains(answer, "technical"):
		return CategoryTechnical
	case strings.Contains(answer, "billing"):
		return CategoryBilling
	case strings.Contains(answer, "general"):
		return CategoryGeneral
	default:
		slog.Warn("Model returned unknown category, defaulting to general inquiry", "category", strings.TrimSpace(raw))
		return CategoryGeneral
	}
}
