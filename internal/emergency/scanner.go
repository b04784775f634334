// Package emergency provides an independent classifier that inspects each
// user turn for urgent medical content, decoupled from the main reply
// generator, plus the logic that reconciles its verdict with the model's own
// emergency assertion.
package emergency

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mediloop/mediloop/internal/llm"
)

// Verdict sources. The source tag records which signal flagged the
// emergency, for attribution in the session record.
const (
	SourceModel   = "model"
	SourceScanner = "emergency_scanner"
)

// Verdict is the outcome of one emergency classification.
type Verdict struct {
	IsEmergency bool   `json:"is_emergency"`
	Details     string `json:"details,omitempty"`
	Source      string `json:"source,omitempty"`
}

// Scanner classifies user turns with a single-shot LLM call. It is
// stateless; every Scan receives the full context it needs.
type Scanner struct {
	provider llm.Provider
	model    string
}

// NewScanner creates a Scanner using the given provider and model.
func NewScanner(provider llm.Provider, model string) *Scanner {
	return &Scanner{provider: provider, model: model}
}

const scannerSystemPrompt = `You are a medical emergency triage classifier. ` +
	`Given a patient conversation and their latest message, decide whether the ` +
	`patient describes a situation requiring emergency care (severe chest pain, ` +
	`breathing difficulty, stroke signs, major bleeding, anaphylaxis, suicidal ` +
	`intent, or similar). Respond with JSON only: ` +
	`{"is_emergency": true|false, "details": "<short reason, empty if none>"}`

// Scan classifies the pending user message in the context of the
// conversation so far. It runs independently of reply generation and must
// never be used to gate the first reply chunk.
func (s *Scanner) Scan(ctx context.Context, history []llm.Message, userMessage string) (Verdict, error) {
	var b strings.Builder
	for _, m := range history {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	fmt.Fprintf(&b, "user: %s\n", userMessage)

	resp, err := s.provider.Complete(ctx, llm.CompletionRequest{
		Model: s.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: scannerSystemPrompt},
			{Role: llm.RoleUser, Content: b.String()},
		},
		MaxTokens:   256,
		Temperature: 0,
		JSONMode:    true,
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("emergency scan: %w", err)
	}

	var v Verdict
	if err := json.Unmarshal([]byte(resp.Content), &v); err != nil {
		return Verdict{}, fmt.Errorf("parsing scanner verdict: %w", err)
	}
	v.Source = SourceScanner
	return v, nil
}
