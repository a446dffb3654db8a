// Package wakeword listens continuously for spoken trigger phrases.
package wakeword

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/time/rate"

	"github.com/rbright/parley/internal/logging"
	"github.com/rbright/parley/internal/riva"
	"github.com/rbright/parley/internal/speech"
)

var (
	// ErrAlreadyRunning is returned by a second Start.
	ErrAlreadyRunning = errors.New("wake-word listener already running")
	// ErrNoPhrases is returned when no usable trigger phrase is configured.
	ErrNoPhrases = errors.New("wake-word listener needs at least one trigger phrase")
)

const (
	defaultCooldown     = 1500 * time.Millisecond
	defaultRestartEvery = 2 * time.Second
)

// Activation identifies which trigger fired and the transcript it fired on.
type Activation struct {
	Trigger string
	Phrase  string
}

// Recognizer is one long-running capture -> ASR pipeline.
type Recognizer interface {
	Start(context.Context) error
	Cancel()
	Done() <-chan struct{}
	Err() error
}

// Factory builds a fresh recognizer for each stream (re)start.
type Factory func(speech.Options) Recognizer

// Options tune a Listener. Zero values select defaults.
type Options struct {
	// Cooldown is the pause between an activation and the next stream.
	Cooldown time.Duration
	// RestartEvery bounds how often a failing stream is reopened.
	RestartEvery time.Duration
}

// Listener matches streaming transcripts against trigger phrases and reports each
// match once.
type Listener struct {
	triggers   []string
	factory    Factory
	onActivate func(Activation)
	opts       Options
	logger     *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewListener validates phrases and builds a stopped listener.
func NewListener(phrases []string, factory Factory, onActivate func(Activation), opts Options, logger *slog.Logger) (*Listener, error) {
	var triggers []string
	for _, phrase := range phrases {
		if strings.TrimSpace(normalize(phrase)) != "" {
			triggers = append(triggers, strings.TrimSpace(phrase))
		}
	}
	if len(triggers) == 0 {
		return nil, ErrNoPhrases
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = defaultCooldown
	}
	if opts.RestartEvery <= 0 {
		opts.RestartEvery = defaultRestartEvery
	}
	return &Listener{
		triggers:   triggers,
		factory:    factory,
		onActivate: onActivate,
		opts:       opts,
		logger:     logging.OrDiscard(logger),
	}, nil
}

// Triggers returns the configured trigger phrases.
func (l *Listener) Triggers() []string {
	return append([]string(nil), l.triggers...)
}

// Start launches the listen loop. It returns immediately.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	l.running = true
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.loop(loopCtx, l.done)
	return nil
}

// Stop ends the listen loop and waits for the active stream to close. It is
// idempotent.
func (l *Listener) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.running = false
	l.cancel = nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (l *Listener) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	restarts := rate.NewLimiter(rate.Every(l.opts.RestartEvery), 1)
	for {
		if err := restarts.Wait(ctx); err != nil {
			return
		}

		activated := make(chan Activation, 1)
		rec := l.factory(speech.Options{
			Phrases:   l.triggers,
			MediaName: "parley wake word",
			Monitor:   true,
			OnResult: func(r riva.Result) {
				trigger, ok := Match(l.triggers, r.Transcript)
				if !ok {
					return
				}
				select {
				case activated <- Activation{Trigger: trigger, Phrase: r.Transcript}:
				default:
				}
			},
		})

		if err := rec.Start(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			l.logger.Warn("wake-word stream start failed; retrying", "error", err)
			continue
		}

		select {
		case <-ctx.Done():
			rec.Cancel()
			return
		case activation := <-activated:
			rec.Cancel()
			l.logger.Info("wake word detected", "trigger", activation.Trigger)
			if l.onActivate != nil {
				l.onActivate(activation)
			}
			if !sleep(ctx, l.opts.Cooldown) {
				return
			}
			restarts = rate.NewLimiter(rate.Every(l.opts.RestartEvery), 1)
		case <-rec.Done():
			l.logger.Warn("wake-word stream ended; restarting", "error", rec.Err())
			rec.Cancel()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Match reports the first trigger found in transcript. Matching ignores case and
// punctuation and only succeeds on whole-word boundaries.
func Match(triggers []string, transcript string) (string, bool) {
	haystack := " " + normalize(transcript) + " "
	for _, trigger := range triggers {
		needle := normalize(trigger)
		if needle == "" {
			continue
		}
		if strings.Contains(haystack, " "+needle+" ") {
			return trigger, true
		}
	}
	return "", false
}

// normalize lowercases text, drops apostrophes, and folds every run of other
// non-alphanumerics into one space.
func normalize(text string) string {
	var b strings.Builder
	space := true
	for _, r := range strings.ToLower(text) {
		switch {
		case r == '\'' || r == '’':
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			space = false
		case !space:
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}
