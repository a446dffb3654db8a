// Package inference runs prompt-to-completion cycles against a local model off the
// caller's goroutine and keeps the resulting conversation history.
package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rbright/parley/internal/config"
	"github.com/rbright/parley/internal/engine"
	"github.com/rbright/parley/internal/fsm"
	"github.com/rbright/parley/internal/rag"
)

// ErrBusy is returned when an operation needs the worker to not be running.
var ErrBusy = errors.New("inference worker is running")

// Engine streams chat completions.
type Engine interface {
	Chat(ctx context.Context, req engine.ChatRequest, onChunk func(string) error) error
}

// Retriever returns document passages relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, paths []string, settings config.RAGSettings) ([]rag.Snippet, error)
}

// Request is one prompt to run.
type Request struct {
	Model  string
	Prompt string
	// Query is the raw user input used for document retrieval. Prompt is used
	// when it is empty.
	Query      string
	ImagePath  string
	Documents  []string
	Generation config.GenerationSettings
	RAG        config.RAGSettings
}

// Sink receives the output of one run. Chunk is called zero or more times in
// emission order, then exactly one of Complete or Fail, unless the run is cancelled,
// in which case nothing further is delivered.
type Sink interface {
	Chunk(text string)
	Complete()
	Fail(err error)
}

// SinkFuncs adapts plain functions to Sink. Nil fields are skipped.
type SinkFuncs struct {
	OnChunk    func(string)
	OnComplete func()
	OnFail     func(error)
}

func (s SinkFuncs) Chunk(text string) {
	if s.OnChunk != nil {
		s.OnChunk(text)
	}
}

func (s SinkFuncs) Complete() {
	if s.OnComplete != nil {
		s.OnComplete()
	}
}

func (s SinkFuncs) Fail(err error) {
	if s.OnFail != nil {
		s.OnFail(err)
	}
}

// Turn is one entry of the conversation history.
type Turn struct {
	Role    string
	Content string
}

// Worker owns one conversation and runs at most one request at a time.
type Worker struct {
	engine    Engine
	retriever Retriever
	logger    *slog.Logger

	mu      sync.Mutex
	state   fsm.State
	history []Turn
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewWorker builds an idle worker. retriever may be nil when documents are never
// attached.
func NewWorker(e Engine, retriever Retriever, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Worker{
		engine:    e,
		retriever: retriever,
		logger:    logger,
		state:     fsm.StateIdle,
	}
}

// ForkAt returns an idle worker sharing this worker's engine and retriever, seeded
// with the first n turns of its history. It replaces an abandoned worker: cutting
// at the length recorded before the abandoned request drops that exchange even if
// the run already completed.
func (w *Worker) ForkAt(n int) *Worker {
	w.mu.Lock()
	defer w.mu.Unlock()
	n = min(max(n, 0), len(w.history))
	return &Worker{
		engine:    w.engine,
		retriever: w.retriever,
		logger:    w.logger,
		state:     fsm.StateIdle,
		history:   append([]Turn(nil), w.history[:n]...),
	}
}

// State returns the current lifecycle state.
func (w *Worker) State() fsm.State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Start begins streaming req in a new goroutine. A worker left in a terminal state
// is reset first; a running worker returns ErrBusy.
func (w *Worker) Start(ctx context.Context, req Request, sink Sink) error {
	if strings.TrimSpace(req.Model) == "" {
		return errors.New("inference request has no model")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == fsm.StateRunning {
		return ErrBusy
	}
	if fsm.Terminal(w.state) {
		if err := w.transitionLocked(fsm.EventReset); err != nil {
			return err
		}
	}
	if err := w.transitionLocked(fsm.EventStart); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	history := append([]Turn(nil), w.history...)

	go w.run(runCtx, req, history, sink, w.done)
	return nil
}

// Cancel abandons the running request. Its sink receives nothing further.
func (w *Worker) Cancel() {
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the current run (if any) has finished.
func (w *Worker) Wait() {
	w.mu.Lock()
	done := w.done
	w.mu.Unlock()
	if done != nil {
		<-done
	}
}

// ClearHistory drops the conversation. It is only valid while not running.
func (w *Worker) ClearHistory() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == fsm.StateRunning {
		return ErrBusy
	}
	w.history = nil
	return nil
}

// History returns a copy of the completed conversation turns.
func (w *Worker) History() []Turn {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Turn(nil), w.history...)
}

func (w *Worker) run(ctx context.Context, req Request, history []Turn, sink Sink, done chan struct{}) {
	defer close(done)

	var reply strings.Builder
	err := w.generate(ctx, req, history, func(chunk string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		reply.WriteString(chunk)
		sink.Chunk(chunk)
		return nil
	})

	w.mu.Lock()
	w.cancel = nil
	switch {
	case ctx.Err() != nil:
		_ = w.transitionLocked(fsm.EventCancel)
		w.mu.Unlock()
		w.logger.Info("inference cancelled", "model", req.Model)
		return
	case err != nil:
		_ = w.transitionLocked(fsm.EventFail)
		w.mu.Unlock()
		w.logger.Error("inference failed", "model", req.Model, "error", err.Error())
		sink.Fail(err)
		return
	default:
		_ = w.transitionLocked(fsm.EventComplete)
		w.history = append(w.history,
			Turn{Role: "user", Content: req.Prompt},
			Turn{Role: "assistant", Content: reply.String()},
		)
		w.mu.Unlock()
		w.logger.Info("inference complete", "model", req.Model, "reply_chars", reply.Len())
		sink.Complete()
	}
}

func (w *Worker) generate(ctx context.Context, req Request, history []Turn, onChunk func(string) error) error {
	user := engine.Message{Role: "user", Content: req.Prompt}

	if req.ImagePath != "" {
		image, err := os.ReadFile(req.ImagePath)
		if err != nil {
			return fmt.Errorf("read image %s: %w", filepath.Base(req.ImagePath), err)
		}
		user.Images = [][]byte{image}
	} else if len(req.Documents) > 0 {
		if w.retriever == nil {
			return errors.New("documents attached but no retriever is configured")
		}
		query := req.Query
		if strings.TrimSpace(query) == "" {
			query = req.Prompt
		}
		snippets, err := w.retriever.Retrieve(ctx, query, req.Documents, req.RAG)
		if err != nil {
			return fmt.Errorf("retrieve document context: %w", err)
		}
		w.logger.Debug("retrieved document context", "documents", len(req.Documents), "snippets", len(snippets))
		user.Content = rag.Augment(req.Prompt, snippets)
	}

	messages := make([]engine.Message, 0, len(history)+1)
	for _, turn := range history {
		messages = append(messages, engine.Message{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, user)

	return w.engine.Chat(ctx, engine.ChatRequest{
		Model:    req.Model,
		Messages: messages,
		Options: engine.Options{
			ContextLen:  req.Generation.ContextLen,
			Temperature: req.Generation.Temperature,
			TopP:        req.Generation.TopP,
			TopK:        req.Generation.TopK,
		},
	}, onChunk)
}

func (w *Worker) transitionLocked(event fsm.Event) error {
	next, err := fsm.Inference(w.state, event)
	if err != nil {
		return err
	}
	w.state = next
	return nil
}
