package emergency

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/mediloop/mediloop/internal/llm"
)

type stubProvider struct {
	mu      sync.Mutex
	calls   []llm.CompletionRequest
	content string
	err     error
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return &llm.CompletionResponse{Content: p.content}, nil
}

func (p *stubProvider) CompleteStream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	return nil, errors.New("not implemented")
}

func TestScanParsesVerdict(t *testing.T) {
	provider := &stubProvider{content: `{"is_emergency": true, "details": "possible cardiac event"}`}
	scanner := NewScanner(provider, "test-model")

	v, err := scanner.Scan(context.Background(), []llm.Message{
		{Role: llm.RoleAssistant, Content: "How can I help?"},
	}, "I have chest pain and shortness of breath")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if !v.IsEmergency {
		t.Error("expected emergency verdict")
	}
	if v.Details != "possible cardiac event" {
		t.Errorf("unexpected details: %q", v.Details)
	}
	if v.Source != SourceScanner {
		t.Errorf("expected scanner source, got %q", v.Source)
	}

	if len(provider.calls) != 1 {
		t.Fatalf("expected 1 provider call, got %d", len(provider.calls))
	}
	if !provider.calls[0].JSONMode {
		t.Error("expected JSON mode classification call")
	}
}

func TestScanPropagatesProviderError(t *testing.T) {
	provider := &stubProvider{err: errors.New("upstream down")}
	scanner := NewScanner(provider, "test-model")

	if _, err := scanner.Scan(context.Background(), nil, "hello"); err == nil {
		t.Fatal("expected error")
	}
}

func TestScanRejectsMalformedVerdict(t *testing.T) {
	provider := &stubProvider{content: "not json"}
	scanner := NewScanner(provider, "test-model")

	if _, err := scanner.Scan(context.Background(), nil, "hello"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestMergeORTable(t *testing.T) {
	cases := []struct {
		name        string
		model, scan bool
		wantFlag    bool
		wantSource  string
	}{
		{"neither", false, false, false, ""},
		{"model only", true, false, true, SourceModel},
		{"scanner only", false, true, true, SourceScanner},
		{"both", true, true, true, SourceModel},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			model := Verdict{IsEmergency: tc.model, Details: "model detail", Source: SourceModel}
			scan := Verdict{IsEmergency: tc.scan, Details: "scanner detail", Source: SourceScanner}

			got := Merge(model, scan, nil)
			if got.IsEmergency != tc.wantFlag {
				t.Errorf("flag = %v, want %v", got.IsEmergency, tc.wantFlag)
			}
			if got.Source != tc.wantSource {
				t.Errorf("source = %q, want %q", got.Source, tc.wantSource)
			}
			if tc.wantSource == SourceScanner && got.Details != "scanner detail" {
				t.Errorf("expected scanner details, got %q", got.Details)
			}
			if tc.wantSource == SourceModel && got.Details != "model detail" {
				t.Errorf("expected model details, got %q", got.Details)
			}
		})
	}
}

func TestMergeDegradesOnScannerError(t *testing.T) {
	model := Verdict{IsEmergency: true, Details: "model detail"}
	scan := Verdict{IsEmergency: true, Details: "scanner detail"}

	got := Merge(model, scan, errors.New("scanner timeout"))
	if !got.IsEmergency || got.Source != SourceModel {
		t.Errorf("expected model-only verdict, got %+v", got)
	}

	got = Merge(Verdict{}, scan, errors.New("scanner timeout"))
	if got.IsEmergency {
		t.Error("failed scanner must not contribute an emergency signal")
	}
}
