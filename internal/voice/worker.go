// Package voice runs one speech-to-text capture at a time off the interactive goroutine.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/parley/internal/fsm"
	"github.com/rbright/parley/internal/logging"
	"github.com/rbright/parley/internal/riva"
	"github.com/rbright/parley/internal/speech"
)

// ErrAlreadyRunning is returned by Start while a capture is listening.
var ErrAlreadyRunning = errors.New("voice capture already listening")

const (
	emptyTranscriptMessage = "no speech recognized; check microphone input or mute state"
	finishTimeout          = 20 * time.Second
)

// Recognizer is one capture -> ASR pipeline. *speech.Transcriber satisfies it.
type Recognizer interface {
	Start(context.Context) error
	Finish(context.Context) (speech.Result, error)
	Cancel()
	Done() <-chan struct{}
}

// Factory builds a fresh recognizer for each capture.
type Factory func(speech.Options) Recognizer

// Sink receives exactly one terminal event per Start.
type Sink interface {
	Recognized(text string)
	Failed(message string)
}

// SinkFuncs adapts plain functions to Sink.
type SinkFuncs struct {
	OnRecognized func(string)
	OnFailed     func(string)
}

func (s SinkFuncs) Recognized(text string) {
	if s.OnRecognized != nil {
		s.OnRecognized(text)
	}
}

func (s SinkFuncs) Failed(message string) {
	if s.OnFailed != nil {
		s.OnFailed(message)
	}
}

// Indicator is the capture-facing subset of indicator behavior.
type Indicator interface {
	ShowListening(context.Context)
	ShowError(context.Context, string)
	CueStop(context.Context)
	CueComplete(context.Context)
	CueCancel(context.Context)
	Hide(context.Context)
}

type noopIndicator struct{}

func (noopIndicator) ShowListening(context.Context)     {}
func (noopIndicator) ShowError(context.Context, string) {}
func (noopIndicator) CueStop(context.Context)           {}
func (noopIndicator) CueComplete(context.Context)       {}
func (noopIndicator) CueCancel(context.Context)         {}
func (noopIndicator) Hide(context.Context)              {}

// Worker captures one utterance per Start. A capture ends on the first final ASR
// result, after the listen limit, or when Stop is called.
type Worker struct {
	newRecognizer Factory
	maxListen     time.Duration
	indicator     Indicator
	logger        *slog.Logger

	mu     sync.Mutex
	state  fsm.State
	stopCh chan struct{}
	stop   *sync.Once
	done   chan struct{}
}

// NewWorker constructs an idle worker. indicator may be nil.
func NewWorker(factory Factory, maxListen time.Duration, indicator Indicator, logger *slog.Logger) *Worker {
	if indicator == nil {
		indicator = noopIndicator{}
	}
	if maxListen <= 0 {
		maxListen = 15 * time.Second
	}
	return &Worker{
		newRecognizer: factory,
		maxListen:     maxListen,
		indicator:     indicator,
		logger:        logging.OrDiscard(logger),
		state:         fsm.StateIdle,
	}
}

// State returns the current lifecycle state.
func (w *Worker) State() fsm.State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Start begins capturing in a new goroutine and returns immediately.
func (w *Worker) Start(ctx context.Context, sink Sink) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == fsm.StateListening {
		return ErrAlreadyRunning
	}
	if fsm.Terminal(w.state) {
		if err := w.transitionLocked(fsm.EventReset); err != nil {
			return err
		}
	}
	if err := w.transitionLocked(fsm.EventStart); err != nil {
		return err
	}

	endOfUtterance := make(chan struct{})
	var finalOnce sync.Once
	rec := w.newRecognizer(speech.Options{
		MediaName: "parley voice input",
		OnResult: func(r riva.Result) {
			if r.Final {
				finalOnce.Do(func() { close(endOfUtterance) })
			}
		},
	})

	w.stopCh = make(chan struct{})
	w.stop = &sync.Once{}
	w.done = make(chan struct{})
	go w.run(ctx, rec, sink, endOfUtterance, w.stopCh, w.done)
	return nil
}

// Stop requests early termination of the active capture. Collected speech is still
// finalized. Stop is safe to call at any time and more than once.
func (w *Worker) Stop() {
	w.mu.Lock()
	stopCh, once := w.stopCh, w.stop
	w.mu.Unlock()
	if once == nil {
		return
	}
	once.Do(func() { close(stopCh) })
}

// Wait blocks until the current capture has delivered its terminal event.
func (w *Worker) Wait() {
	w.mu.Lock()
	done := w.done
	w.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (w *Worker) run(ctx context.Context, rec Recognizer, sink Sink, endOfUtterance, stopCh, done chan struct{}) {
	defer close(done)
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 800*time.Millisecond)
		defer cancel()
		w.indicator.Hide(cleanupCtx)
	}()

	w.indicator.ShowListening(ctx)
	startedAt := time.Now()

	if err := rec.Start(ctx); err != nil {
		w.logger.Error("voice capture start failed", "error", err)
		w.indicator.ShowError(context.Background(), "Unable to start recording")
		w.fail(sink, fmt.Sprintf("unable to start voice capture: %v", err))
		return
	}

	timer := time.NewTimer(w.maxListen)
	defer timer.Stop()

	reason := ""
	select {
	case <-ctx.Done():
		rec.Cancel()
		w.indicator.CueCancel(context.Background())
		w.fail(sink, "voice capture cancelled")
		return
	case <-endOfUtterance:
		reason = "end_of_utterance"
	case <-timer.C:
		reason = "max_listen"
	case <-stopCh:
		reason = "stopped"
	case <-rec.Done():
		reason = "capture_ended"
	}

	finishCtx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()
	result, err := rec.Finish(finishCtx)
	w.indicator.CueStop(context.Background())

	w.logger.Info("voice capture finished",
		"reason", reason,
		"duration_ms", time.Since(startedAt).Milliseconds(),
		"audio_device", result.AudioDevice,
		"bytes_captured", result.BytesCaptured,
		"asr_latency_ms", result.Latency.Milliseconds(),
		"error", err,
	)

	switch {
	case errors.Is(err, speech.ErrEmptyTranscript):
		w.indicator.ShowError(context.Background(), "No speech detected")
		w.fail(sink, emptyTranscriptMessage)
	case err != nil:
		w.indicator.ShowError(context.Background(), "Speech recognition failed")
		w.fail(sink, fmt.Sprintf("speech recognition failed: %v", err))
	case strings.TrimSpace(result.Transcript) == "":
		w.fail(sink, emptyTranscriptMessage)
	default:
		w.indicator.CueComplete(context.Background())
		w.finish(fsm.EventRecognize)
		sink.Recognized(strings.TrimSpace(result.Transcript))
	}
}

func (w *Worker) fail(sink Sink, message string) {
	w.finish(fsm.EventFail)
	sink.Failed(message)
}

func (w *Worker) finish(event fsm.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.transitionLocked(event); err != nil {
		w.logger.Error("voice state transition failed", "error", err)
	}
}

func (w *Worker) transitionLocked(event fsm.Event) error {
	next, err := fsm.Voice(w.state, event)
	if err != nil {
		return err
	}
	w.state = next
	return nil
}
