package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"runtime"
	"sync"
	"testing"
	"time"
)

// MockProvider is a test provider that records calls and returns canned responses.
type MockProvider struct {
	mu       sync.Mutex
	Calls    []CompletionRequest
	Response *CompletionResponse
	Chunks   []StreamChunk
	Err      error
	ProvName string
}

func NewMockProvider(name string) *MockProvider {
	return &MockProvider{
		ProvName: name,
		Response: &CompletionResponse{
			Content:      "mock response",
			InputTokens:  10,
			OutputTokens: 20,
			Model:        "mock-model",
			FinishReason: "stop",
		},
		Chunks: []StreamChunk{
			{Delta: "mock "},
			{Delta: "response"},
			{Done: true, InputTokens: 10, OutputTokens: 20, FinishReason: "stop"},
		},
	}
}

func (m *MockProvider) Name() string {
	return m.ProvName
}

func (m *MockProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, req)
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Response, nil
}

func (m *MockProvider) CompleteStream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, req)
	err := m.Err
	chunks := m.Chunks
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		for _, c := range chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// --- Tests ---

func TestMockProviderRecordsCalls(t *testing.T) {
	mock := NewMockProvider("test")
	ctx := context.Background()

	req := CompletionRequest{
		Model:    "test-model",
		Messages: []Message{{Role: RoleUser, Content: "hello"}},
	}

	resp, err := mock.Complete(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Content != "mock response" {
		t.Errorf("expected 'mock response', got %q", resp.Content)
	}

	if mock.CallCount() != 1 {
		t.Errorf("expected 1 call, got %d", mock.CallCount())
	}
}

func TestMockProviderStreamOrder(t *testing.T) {
	mock := NewMockProvider("test")

	ch, err := mock.CompleteStream(context.Background(), CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var text string
	var sawDone bool
	for chunk := range ch {
		if chunk.Done {
			sawDone = true
			if chunk.OutputTokens != 20 {
				t.Errorf("expected 20 output tokens, got %d", chunk.OutputTokens)
			}
			continue
		}
		if sawDone {
			t.Fatal("received chunk after terminal chunk")
		}
		text += chunk.Delta
	}

	if !sawDone {
		t.Fatal("missing terminal chunk")
	}
	if text != "mock response" {
		t.Errorf("expected 'mock response', got %q", text)
	}
}

func TestRateLimiterWrapsBothPaths(t *testing.T) {
	mock := NewMockProvider("test")
	limited := NewRateLimitedProvider(mock, 60)

	if _, err := limited.Complete(context.Background(), CompletionRequest{}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	ch, err := limited.CompleteStream(context.Background(), CompletionRequest{})
	if err != nil {
		t.Fatalf("CompleteStream: %v", err)
	}
	for range ch {
	}

	if mock.CallCount() != 2 {
		t.Errorf("expected 2 calls through limiter, got %d", mock.CallCount())
	}
	if limited.Name() != "test" {
		t.Errorf("expected delegated name, got %q", limited.Name())
	}
}

func TestRateLimiterRespectsContext(t *testing.T) {
	mock := NewMockProvider("test")
	limited := NewRateLimitedProvider(mock, 1)

	// Exhaust the single token.
	if _, err := limited.Complete(context.Background(), CompletionRequest{}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := limited.Complete(ctx, CompletionRequest{}); err == nil {
		t.Fatal("expected context error when bucket is empty")
	}
}

func TestOllamaCompleteStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lines := []string{
			`{"message":{"role":"assistant","content":"Hello"},"done":false}`,
			`{"message":{"role":"assistant","content":" there"},"done":false}`,
			`{"message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":5,"eval_count":7}`,
		}
		for _, l := range lines {
			fmt.Fprintln(w, l)
		}
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "test-model")
	ch, err := p.CompleteStream(context.Background(), CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("CompleteStream: %v", err)
	}

	var text string
	var terminal StreamChunk
	for chunk := range ch {
		if chunk.Err != nil {
			t.Fatalf("stream error: %v", chunk.Err)
		}
		if chunk.Done {
			terminal = chunk
			continue
		}
		text += chunk.Delta
	}

	if text != "Hello there" {
		t.Errorf("expected 'Hello there', got %q", text)
	}
	if !terminal.Done || terminal.FinishReason != "stop" {
		t.Errorf("unexpected terminal chunk: %+v", terminal)
	}
	if terminal.InputTokens != 5 || terminal.OutputTokens != 7 {
		t.Errorf("unexpected usage: %+v", terminal)
	}
}

func TestOllamaStreamExitsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"Hello"},"done":false}`)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		// Hold the stream open until the client goes away.
		<-r.Context().Done()
	}))
	defer srv.Close()

	before := runtime.NumGoroutine()

	ctx, cancel := context.WithCancel(context.Background())
	p := NewOllamaProvider(srv.URL, "test-model")
	ch, err := p.CompleteStream(ctx, CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("CompleteStream: %v", err)
	}

	if c := <-ch; c.Delta != "Hello" {
		t.Fatalf("unexpected first chunk: %+v", c)
	}

	// Cancel and abandon the channel without draining it. The stream
	// goroutine must still exit and release the response body.
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > before {
		if time.Now().After(deadline) {
			t.Fatalf("%d goroutine(s) still running after cancellation", runtime.NumGoroutine()-before)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEstimateCost(t *testing.T) {
	cost := EstimateCost("gpt-4o-mini", 1_000_000, 1_000_000)
	if cost != 0.75 {
		t.Errorf("expected 0.75, got %f", cost)
	}
	if EstimateCost("unknown-model", 100, 100) != 0 {
		t.Error("expected 0 for unknown model")
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens("abcdefgh"); got != 2 {
		t.Errorf("expected 2, got %d", got)
	}
	if got := EstimateTokens("ab"); got != 1 {
		t.Errorf("expected 1 for short text, got %d", got)
	}
	if got := EstimateTokens(""); got != 0 {
		t.Errorf("expected 0 for empty text, got %d", got)
	}
}
