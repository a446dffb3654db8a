// Package assistant is the application controller: it owns settings, the active
// inference and voice workers, pending attachments, and the transcript, and routes
// user actions and worker callbacks on a single interactive goroutine.
package assistant

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/rbright/parley/internal/config"
	"github.com/rbright/parley/internal/fsm"
	"github.com/rbright/parley/internal/indicator"
	"github.com/rbright/parley/internal/inference"
	"github.com/rbright/parley/internal/logging"
	"github.com/rbright/parley/internal/voice"
	"github.com/rbright/parley/internal/wakeword"
)

var (
	// ErrStopped is returned by synchronous calls once Run has returned.
	ErrStopped = errors.New("assistant is not running")
	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("assistant is already running")
	// ErrSuperseded is delivered to an Ask whose request was abandoned for newer input.
	ErrSuperseded = errors.New("request superseded by newer input")
	// ErrNoInput is delivered to an Ask whose text was empty or a reset command.
	ErrNoInput = errors.New("no prompt to send")
)

// SettingsStore persists the settings document.
type SettingsStore interface {
	Load() (config.Loaded, error)
	Save(config.Settings) error
}

// ModelResolver maps catalog ids to Ollama model references.
type ModelResolver interface {
	Resolve(id string) string
}

// VoiceWorker captures one utterance per Start.
type VoiceWorker interface {
	Start(ctx context.Context, sink voice.Sink) error
	Stop()
	State() fsm.State
}

// WakeListener monitors audio for trigger phrases until stopped.
type WakeListener interface {
	Start(ctx context.Context) error
	Stop()
}

// Copier places text on the clipboard.
type Copier interface {
	Copy(ctx context.Context, text string) error
}

// Deps are the collaborators a Controller drives. Store, Settings, and Inference are
// required; everything else may be nil and the related feature is disabled.
type Deps struct {
	Store    SettingsStore
	Settings config.Settings
	Models   ModelResolver

	// Inference runs model requests. It is forked when a running request is
	// abandoned so history survives the cancellation.
	Inference *inference.Worker

	// NewVoice builds a voice worker for the given settings. It is called again when
	// speech settings change.
	NewVoice func(config.Settings) VoiceWorker

	// NewWakeListener builds a listener that reports activations through onActivate.
	NewWakeListener func(s config.Settings, onActivate func(wakeword.Activation)) (WakeListener, error)

	Clipboard Copier
	Notifier  indicator.Notifier
	Presenter Presenter
	Logger    *slog.Logger

	// Quit is invoked by the IPC quit command.
	Quit func()
}

// Controller is the interactive goroutine of the assistant. Public methods post work
// to it and are safe for concurrent use.
type Controller struct {
	store     SettingsStore
	models    ModelResolver
	newVoice  func(config.Settings) VoiceWorker
	newWake   func(config.Settings, func(wakeword.Activation)) (WakeListener, error)
	clipboard Copier
	notifier  indicator.Notifier
	presenter Presenter
	logger    *slog.Logger
	quit      func()

	inbox   *inbox
	running atomic.Bool
	stopped chan struct{}

	// Fields below are owned by the interactive goroutine.
	ctx         context.Context
	settings    config.Settings
	worker      *inference.Worker
	historyMark int
	generation  uint64
	inFlight    bool
	reply       strings.Builder
	waiters     map[uint64]chan askResult
	voice       VoiceWorker
	voiceGen    uint64
	wake        WakeListener
	wakeGen     uint64
	draft       string
	attachments AttachmentSet
	transcript  []Turn
}

// New constructs an idle controller. Call Run to start processing.
func New(deps Deps) (*Controller, error) {
	if deps.Store == nil {
		return nil, errors.New("assistant needs a settings store")
	}
	if deps.Inference == nil {
		return nil, errors.New("assistant needs an inference worker")
	}
	presenter := deps.Presenter
	if presenter == nil {
		presenter = NopPresenter{}
	}

	c := &Controller{
		store:     deps.Store,
		models:    deps.Models,
		newVoice:  deps.NewVoice,
		newWake:   deps.NewWakeListener,
		clipboard: deps.Clipboard,
		notifier:  deps.Notifier,
		presenter: presenter,
		logger:    logging.OrDiscard(deps.Logger),
		quit:      deps.Quit,
		inbox:     newInbox(),
		stopped:   make(chan struct{}),
		ctx:       context.Background(),
		settings:  deps.Settings.Clone(),
		worker:    deps.Inference,
		waiters:   make(map[uint64]chan askResult),
	}
	if c.newVoice != nil {
		c.voice = c.newVoice(c.settings)
	}
	return c, nil
}

// Run drains the inbox until ctx is cancelled, then stops every worker.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(c.stopped)

	c.ctx = ctx
	c.reconcileWake(c.settings, true)
	c.logger.Info("assistant running",
		"text_model", c.settings.TextModel,
		"wake_word", c.settings.WakeWordChat,
	)

	for {
		select {
		case <-ctx.Done():
			c.inbox.close()
			c.shutdown()
			return nil
		case <-c.inbox.ready():
			for _, fn := range c.inbox.drain() {
				fn()
			}
		}
	}
}

func (c *Controller) shutdown() {
	c.worker.Cancel()
	if c.voice != nil {
		c.voice.Stop()
	}
	if c.wake != nil {
		c.wake.Stop()
		c.wake = nil
	}
	for gen, waiter := range c.waiters {
		waiter <- askResult{err: ErrStopped}
		delete(c.waiters, gen)
	}
	c.logger.Info("assistant stopped")
}

// post schedules fn on the interactive goroutine. Work posted after Run returns is
// dropped.
func (c *Controller) post(fn func()) {
	if !c.inbox.post(fn) {
		c.logger.Debug("assistant event dropped after shutdown")
	}
}

// call runs fn on the interactive goroutine and waits for it. It must not be used
// from a Presenter callback.
func (c *Controller) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !c.inbox.post(func() {
		fn()
		close(done)
	}) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		select {
		case <-done:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Snapshot is a point-in-time copy of controller state.
type Snapshot struct {
	State        string
	Settings     config.Settings
	Draft        string
	Attachments  AttachmentSet
	Transcript   []Turn
	History      []inference.Turn
	LastResponse string
}

// Snapshot returns the current state.
func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := c.call(ctx, func() {
		snap = Snapshot{
			State:        c.state(),
			Settings:     c.settings.Clone(),
			Draft:        c.draft,
			Attachments:  c.attachments.clone(),
			Transcript:   append([]Turn(nil), c.transcript...),
			History:      c.worker.History(),
			LastResponse: c.reply.String(),
		}
	})
	return snap, err
}

const (
	stateIdle      = "idle"
	stateListening = "listening"
	stateThinking  = "thinking"
)

func (c *Controller) state() string {
	switch {
	case c.voice != nil && c.voice.State() == fsm.StateListening:
		return stateListening
	case c.inFlight:
		return stateThinking
	default:
		return stateIdle
	}
}

// HotkeyToggle reports a global hotkey press to the presentation.
func (c *Controller) HotkeyToggle() {
	c.post(func() {
		c.logger.Debug("hotkey toggle")
		c.presenter.OnHotkeyToggle()
	})
}

// SetInput replaces the pending input.
func (c *Controller) SetInput(text string) {
	c.post(func() { c.draft = text })
}

// CopyResult copies the most recent reply to the clipboard.
func (c *Controller) CopyResult(ctx context.Context) error {
	if c.clipboard == nil {
		return errors.New("clipboard is not configured")
	}
	var text string
	if err := c.call(ctx, func() { text = c.reply.String() }); err != nil {
		return err
	}
	if err := c.clipboard.Copy(ctx, text); err != nil {
		return err
	}
	if c.notifier != nil {
		c.notifier.Notify(ctx, "", "Response copied to clipboard")
	}
	return nil
}
