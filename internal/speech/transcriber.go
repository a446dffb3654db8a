// Package speech runs capture -> ASR pipelines for voice input and wake-word
// monitoring.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rbright/parley/internal/audio"
	"github.com/rbright/parley/internal/config"
	"github.com/rbright/parley/internal/logging"
	"github.com/rbright/parley/internal/riva"
)

var (
	// ErrNotStarted is returned when finishing a pipeline that never started.
	ErrNotStarted = errors.New("speech pipeline not started")
	// ErrAlreadyStarted is returned by a second Start on one Transcriber.
	ErrAlreadyStarted = errors.New("speech pipeline already started")
	// ErrEmptyTranscript reports a capture that produced no recognized words.
	ErrEmptyTranscript = errors.New("no speech recognized")
)

// Error wraps a pipeline failure with the stage that produced it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

const (
	defaultPhraseBoost = 20
	collectTimeout     = 20 * time.Second
)

type captureClient interface {
	Chunks() <-chan []byte
	Stop() error
	BytesCaptured() int64
	RawPCM() []byte
}

type streamClient interface {
	SendAudio([]byte) error
	CloseAndCollect(context.Context) ([]string, time.Duration, error)
	Cancel() error
	Transcript() string
}

// Options tune one pipeline instance.
type Options struct {
	// Phrases are boosted in the recognizer vocabulary.
	Phrases []string
	// OnResult observes every non-empty ASR hypothesis.
	OnResult func(riva.Result)
	// MediaName labels the capture stream in Pulse mixers.
	MediaName string
	// Monitor marks long-running wake-word pipelines: raw audio is never retained.
	Monitor bool
}

// Result summarizes one finished capture.
type Result struct {
	Transcript    string
	AudioDevice   string
	BytesCaptured int64
	Latency       time.Duration
}

// Transcriber owns one end-to-end capture -> ASR pipeline instance.
type Transcriber struct {
	settings config.SpeechSettings
	opts     Options
	logger   *slog.Logger

	selectDevice func(context.Context, string, string) (audio.Selection, error)
	dialStream   func(context.Context, riva.StreamConfig) (streamClient, error)
	startCapture func(context.Context, audio.Device, audio.CaptureOptions) (captureClient, error)

	mu        sync.Mutex
	started   bool
	selection audio.Selection
	capture   captureClient
	stream    streamClient
	sendDone  chan struct{}
	sendErr   error
	debugJSON *os.File
}

// NewTranscriber constructs a pipeline from speech settings.
func NewTranscriber(settings config.SpeechSettings, opts Options, logger *slog.Logger) *Transcriber {
	return &Transcriber{
		settings:     settings,
		opts:         opts,
		logger:       logging.OrDiscard(logger),
		selectDevice: audio.SelectDevice,
		dialStream: func(ctx context.Context, cfg riva.StreamConfig) (streamClient, error) {
			return riva.DialStream(ctx, cfg)
		},
		startCapture: func(ctx context.Context, device audio.Device, opts audio.CaptureOptions) (captureClient, error) {
			return audio.StartCapture(ctx, device, opts)
		},
	}
}

// Start resolves the input device, opens the ASR stream, and starts capture.
func (t *Transcriber) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return ErrAlreadyStarted
	}

	selection, err := t.selectDevice(ctx, t.settings.AudioInput, t.settings.AudioFallback)
	if err != nil {
		return &Error{Op: "select audio device", Err: err}
	}
	t.selection = selection
	if selection.Warning != "" {
		t.logger.Warn(selection.Warning)
	}

	dumping := t.settings.DebugAudioDump && !t.opts.Monitor
	if dumping {
		file, ferr := createDebugFile("asr", "jsonl")
		if ferr != nil {
			t.logger.Warn("unable to create asr debug dump", "error", ferr)
		} else {
			t.debugJSON = file
		}
	}

	cfg := riva.StreamConfig{
		Endpoint:             t.settings.RivaGRPC,
		LanguageCode:         t.settings.LanguageCode,
		Model:                t.settings.Model,
		SampleRate:           audio.SampleRate,
		AutomaticPunctuation: t.settings.AutomaticPunctuation,
		InterimResults:       true,
		SpeechPhrases:        speechPhrases(t.opts.Phrases),
		DialTimeout:          3 * time.Second,
		OnResult:             t.opts.OnResult,
	}
	if t.debugJSON != nil {
		cfg.DebugResponseSinkJSON = t.debugJSON
	}

	stream, err := t.dialStream(ctx, cfg)
	if err != nil {
		t.closeDebugArtifactsLocked()
		return &Error{Op: "open recognizer", Err: err}
	}

	capture, err := t.startCapture(ctx, selection.Device, audio.CaptureOptions{
		MediaName: t.opts.MediaName,
		KeepRaw:   dumping,
	})
	if err != nil {
		_ = stream.Cancel()
		t.closeDebugArtifactsLocked()
		return &Error{Op: "start capture", Err: err}
	}

	t.stream = stream
	t.capture = capture
	t.sendDone = make(chan struct{})
	t.sendErr = nil
	t.started = true
	go t.sendLoop(capture, stream, t.sendDone)

	t.logger.Debug("speech pipeline started",
		"device", describeDevice(selection.Device),
		"monitor", t.opts.Monitor,
	)
	return nil
}

// Partial returns the transcript recognized so far.
func (t *Transcriber) Partial() string {
	t.mu.Lock()
	stream := t.stream
	t.mu.Unlock()
	if stream == nil {
		return ""
	}
	return stream.Transcript()
}

// Done is closed when audio stops flowing to the recognizer, either because capture
// ended or because a send failed. It is nil before Start.
func (t *Transcriber) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sendDone
}

// Err returns the send failure that closed Done, if any.
func (t *Transcriber) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sendErr
}

// Finish stops capture, drains the recognizer, and returns the merged transcript.
func (t *Transcriber) Finish(ctx context.Context) (Result, error) {
	t.mu.Lock()
	started := t.started
	capture := t.capture
	stream := t.stream
	sendDone := t.sendDone
	selection := t.selection
	t.mu.Unlock()

	if !started || capture == nil || stream == nil {
		return Result{}, ErrNotStarted
	}
	defer t.reset()

	_ = capture.Stop()
	<-sendDone

	result := Result{
		AudioDevice:   describeDevice(selection.Device),
		BytesCaptured: capture.BytesCaptured(),
	}
	defer t.writeDebugAudio(capture)

	if sendErr := t.Err(); sendErr != nil {
		_ = stream.Cancel()
		return result, &Error{Op: "send audio stream", Err: sendErr}
	}

	closeCtx, cancel := context.WithTimeout(ctx, collectTimeout)
	defer cancel()
	segments, latency, err := stream.CloseAndCollect(closeCtx)
	result.Latency = latency
	if err != nil {
		return result, &Error{Op: "collect final transcript", Err: err}
	}

	result.Transcript = strings.TrimSpace(strings.Join(segments, " "))
	if result.Transcript == "" {
		return result, ErrEmptyTranscript
	}
	return result, nil
}

// Cancel stops capture and the recognizer immediately, discarding any transcript.
func (t *Transcriber) Cancel() {
	t.mu.Lock()
	capture := t.capture
	stream := t.stream
	t.mu.Unlock()

	if capture != nil {
		_ = capture.Stop()
		t.writeDebugAudio(capture)
	}
	if stream != nil {
		_ = stream.Cancel()
	}
	t.reset()
}

func (t *Transcriber) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = false
	t.capture = nil
	t.stream = nil
	t.closeDebugArtifactsLocked()
}

// sendLoop forwards capture chunks to the recognizer and records the first send failure.
func (t *Transcriber) sendLoop(capture captureClient, stream streamClient, done chan struct{}) {
	defer close(done)

	for chunk := range capture.Chunks() {
		if len(chunk) == 0 {
			continue
		}
		if err := stream.SendAudio(chunk); err != nil {
			_ = capture.Stop()
			t.mu.Lock()
			t.sendErr = err
			t.mu.Unlock()
			return
		}
	}
}

func speechPhrases(phrases []string) []riva.SpeechPhrase {
	out := make([]riva.SpeechPhrase, 0, len(phrases))
	for _, phrase := range phrases {
		if phrase = strings.TrimSpace(phrase); phrase != "" {
			out = append(out, riva.SpeechPhrase{Phrase: phrase, Boost: defaultPhraseBoost})
		}
	}
	return out
}

// describeDevice formats device metadata for logs and results.
func describeDevice(device audio.Device) string {
	description := strings.TrimSpace(device.Description)
	id := strings.TrimSpace(device.ID)
	if description == "" {
		return id
	}
	if id == "" {
		return description
	}
	return fmt.Sprintf("%s (%s)", description, id)
}
