// Package conversation implements the stateful engine that drives one
// consultation session: it holds the live transcript, streams model-generated
// turns while racing an independent emergency scanner, and reconciles the two
// outcomes before finalizing each exchange.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mediloop/mediloop/internal/emergency"
	"github.com/mediloop/mediloop/internal/llm"
)

// ErrDestroyed is returned when an operation is invoked on a destroyed engine.
var ErrDestroyed = errors.New("conversation engine destroyed")

// Config selects the backing capabilities for an engine.
type Config struct {
	Provider   llm.Provider
	Model      string
	Scanner    *emergency.Scanner
	EHRContext string
	Language   string
}

// Engine maintains one session's conversational state and drives one
// exchange at a time. It is exclusively owned by its registry entry and must
// not be shared across sessions.
type Engine struct {
	cfg       Config
	createdAt time.Time

	// exchangeMu serializes exchanges so concurrent duplicate requests
	// (double-submit, retry-on-timeout) cannot interleave transcript writes.
	exchangeMu sync.Mutex

	// stateMu guards transcript, meta, scanCancel, and destroyed. Held only
	// briefly, so snapshots stay available while an exchange is streaming.
	stateMu    sync.RWMutex
	transcript []Turn
	meta       Metadata
	scanCancel context.CancelFunc
	destroyed  bool
}

// New creates an engine with an empty transcript.
func New(cfg Config) *Engine {
	return &Engine{
		cfg:       cfg,
		createdAt: time.Now(),
	}
}

// FromTranscript rehydrates an engine mid-conversation from persisted state.
// The supplied transcript and metadata become the engine's state verbatim;
// no model calls are made for historical turns.
func FromTranscript(cfg Config, transcript []Turn, meta Metadata) *Engine {
	e := New(cfg)
	e.transcript = append([]Turn(nil), transcript...)
	e.meta = meta
	return e
}

// CreatedAt returns the engine's creation time, used for idle eviction.
func (e *Engine) CreatedAt() time.Time {
	return e.createdAt
}

// Transcript returns a copy of the current transcript in conversation order.
func (e *Engine) Transcript() []Turn {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return append([]Turn(nil), e.transcript...)
}

// Metadata returns a copy of the current session metadata.
func (e *Engine) Metadata() Metadata {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.meta
}

// Destroy releases the engine's resources, cancelling any in-flight scanner
// call. It is idempotent.
func (e *Engine) Destroy() {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if e.destroyed {
		return
	}
	e.destroyed = true
	if e.scanCancel != nil {
		e.scanCancel()
		e.scanCancel = nil
	}
}

// Greeting produces the opening assistant turn without a preceding user
// turn. It is non-streaming: it completes or fails as a whole. On success
// the greeting is appended to the transcript; on failure a *GenerationError
// propagates and no state changes.
func (e *Engine) Greeting(ctx context.Context) (*Greeting, error) {
	e.exchangeMu.Lock()
	defer e.exchangeMu.Unlock()

	if e.isDestroyed() {
		return nil, ErrDestroyed
	}

	messages := e.buildMessages()
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: greetingInstruction})

	resp, err := e.cfg.Provider.Complete(ctx, llm.CompletionRequest{
		Model:       e.cfg.Model,
		Messages:    messages,
		Temperature: 0.4,
	})
	if err != nil {
		return nil, &GenerationError{Err: err}
	}

	content, flagged, details := parseMarker(strings.TrimSpace(resp.Content))

	e.stateMu.Lock()
	e.appendTurnLocked(RoleAssistant, content)
	e.addUsageLocked(resp.InputTokens, resp.OutputTokens)
	if flagged {
		e.escalateLocked(details, emergency.SourceModel)
	}
	e.stateMu.Unlock()

	return &Greeting{Content: content, IsEmergency: flagged}, nil
}

// scanResult carries the scanner's verdict across the join point.
type scanResult struct {
	verdict emergency.Verdict
	err     error
}

// SendMessageStreaming runs one exchange. The user's turn is appended before
// the first chunk is emitted; the emergency scanner is fired concurrently
// with generation and joined only at the terminal chunk, so it never delays
// first-chunk latency. The returned channel yields zero or more text chunks
// in generation order and exactly one terminal done or error chunk, then
// closes. Each call is a fresh generation run; it is not restartable.
func (e *Engine) SendMessageStreaming(ctx context.Context, userMessage string) (<-chan Chunk, error) {
	e.exchangeMu.Lock()

	if e.isDestroyed() {
		e.exchangeMu.Unlock()
		return nil, ErrDestroyed
	}

	// Scanner input is the transcript so far plus the pending user message.
	history := e.historyMessages()

	e.stateMu.Lock()
	e.appendTurnLocked(RoleUser, userMessage)
	scanCtx, cancel := context.WithCancel(ctx)
	e.scanCancel = cancel
	e.stateMu.Unlock()

	scanCh := make(chan scanResult, 1)
	go func() {
		v, err := e.cfg.Scanner.Scan(scanCtx, history, userMessage)
		scanCh <- scanResult{verdict: v, err: err}
	}()

	out := make(chan Chunk)

	stream, err := e.cfg.Provider.CompleteStream(ctx, llm.CompletionRequest{
		Model:       e.cfg.Model,
		Messages:    e.buildMessages(),
		Temperature: 0.4,
	})
	if err != nil {
		// No generation ever started; surface the failure as the stream's
		// single terminal chunk so callers handle one contract.
		go func() {
			defer close(out)
			defer e.finishExchange(cancel)
			select {
			case out <- Chunk{Type: ChunkError, Content: fmt.Sprintf("generation failed: %v", err)}:
			case <-ctx.Done():
			}
		}()
		return out, nil
	}

	go e.runExchange(ctx, stream, scanCh, cancel, out)
	return out, nil
}

func (e *Engine) runExchange(ctx context.Context, stream <-chan llm.StreamChunk, scanCh <-chan scanResult, cancel context.CancelFunc, out chan<- Chunk) {
	defer close(out)
	defer e.finishExchange(cancel)

	var filter markerFilter
	var full strings.Builder

	emit := func(c Chunk) bool {
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for chunk := range stream {
		switch {
		case chunk.Err != nil:
			// Already-emitted text stands; no assistant turn is appended
			// beyond what streamed successfully.
			emit(Chunk{Type: ChunkError, Content: fmt.Sprintf("generation failed: %v", chunk.Err)})
			return

		case chunk.Done:
			if rest := filter.Flush(); rest != "" {
				full.WriteString(rest)
				if !emit(Chunk{Type: ChunkText, Content: rest}) {
					return
				}
			}

			modelVerdict := emergency.Verdict{
				IsEmergency: filter.found,
				Details:     filter.details,
				Source:      emergency.SourceModel,
			}

			// Join the scanner. Generation is finished, so waiting here does
			// not affect streaming latency; a cancelled context degrades to
			// the model-only verdict.
			var scan scanResult
			select {
			case scan = <-scanCh:
			case <-ctx.Done():
				scan = scanResult{err: ctx.Err()}
			}
			if scan.err != nil {
				log.Printf("conversation: emergency scan unresolved, using model verdict only: %v", scan.err)
			}

			final := emergency.Merge(modelVerdict, scan.verdict, scan.err)

			content := full.String()
			e.stateMu.Lock()
			e.appendTurnLocked(RoleAssistant, content)
			e.addUsageLocked(chunk.InputTokens, chunk.OutputTokens)
			if final.IsEmergency {
				e.escalateLocked(final.Details, final.Source)
			}
			meta := e.meta
			e.stateMu.Unlock()

			emit(Chunk{
				Type:             ChunkDone,
				Content:          content,
				IsEmergency:      meta.EmergencyFlagged,
				EmergencyDetails: meta.EmergencyDetails,
				EmergencySource:  meta.EmergencySource,
			})
			return

		default:
			cleaned := filter.Feed(chunk.Delta)
			if cleaned == "" {
				continue
			}
			full.WriteString(cleaned)
			if !emit(Chunk{Type: ChunkText, Content: cleaned}) {
				return
			}
		}
	}

	// The provider closed the stream without a terminal chunk.
	emit(Chunk{Type: ChunkError, Content: "generation stream ended unexpectedly"})
}

func (e *Engine) finishExchange(cancel context.CancelFunc) {
	cancel()
	e.stateMu.Lock()
	e.scanCancel = nil
	e.stateMu.Unlock()
	e.exchangeMu.Unlock()
}

func (e *Engine) isDestroyed() bool {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.destroyed
}

// appendTurnLocked appends a turn; callers hold stateMu.
func (e *Engine) appendTurnLocked(role Role, content string) {
	e.transcript = append(e.transcript, Turn{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		Language:  e.cfg.Language,
		CreatedAt: time.Now().UTC(),
	})
}

// escalateLocked applies the monotonic emergency transition; callers hold
// stateMu. A session already flagged keeps its original attribution.
func (e *Engine) escalateLocked(details, source string) {
	if e.meta.EmergencyFlagged {
		return
	}
	e.meta.EmergencyFlagged = true
	e.meta.EmergencyDetails = details
	e.meta.EmergencySource = source
}

func (e *Engine) addUsageLocked(inputTokens, outputTokens int) {
	e.meta.InputTokens += inputTokens
	e.meta.OutputTokens += outputTokens
	e.meta.EstimatedCost += llm.EstimateCost(e.cfg.Model, inputTokens, outputTokens)
}

// buildMessages assembles the system prompt plus the transcript as model
// message history.
func (e *Engine) buildMessages() []llm.Message {
	system := doctorSystemPrompt
	if e.cfg.Language != "" {
		system += "\n\nRespond in the patient's language: " + e.cfg.Language + "."
	}
	if e.cfg.EHRContext != "" {
		system += "\n\n" + ehrContextPreamble + "\n" + e.cfg.EHRContext
	}

	messages := []llm.Message{{Role: llm.RoleSystem, Content: system}}
	messages = append(messages, e.historyMessages()...)
	return messages
}

// historyMessages converts the transcript into model messages.
func (e *Engine) historyMessages() []llm.Message {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()

	messages := make([]llm.Message, 0, len(e.transcript))
	for _, t := range e.transcript {
		role := llm.RoleUser
		if t.Role == RoleAssistant {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: t.Content})
	}
	return messages
}
