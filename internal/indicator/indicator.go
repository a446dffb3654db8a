// Package indicator shows voice and assistant state through desktop notifications and
// short audio cues.
package indicator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/beeep"
	"github.com/rbright/parley/internal/config"
	"github.com/rbright/parley/internal/hypr"
)

const (
	backendHypr    = "hypr"
	backendDesktop = "desktop"

	listeningTimeoutMS = 300000
	errorTimeoutMS     = 1600
	noticeTimeoutMS    = 4000
)

func init() {
	beeep.AppName = "parley"
}

// Notifier is the assistant-facing indicator contract.
type Notifier interface {
	ShowListening(context.Context)
	ShowError(context.Context, string)
	Notify(ctx context.Context, title, message string)
	CueStop(context.Context)
	CueComplete(context.Context)
	CueCancel(context.Context)
	Hide(context.Context)
}

// dispatcher sends one indicator message. Tests replace it to avoid touching the
// desktop session.
type dispatcher interface {
	notify(ctx context.Context, icon, timeoutMS int, color, title, text string) error
	dismiss(ctx context.Context) error
}

// Indicator routes notifications to Hyprland or the freedesktop notification
// service depending on the configured backend.
type Indicator struct {
	cfg      config.IndicatorSettings
	logger   *slog.Logger
	messages messages
	out      dispatcher
	playCue  func(cueKind) error

	mu             sync.Mutex
	focusedMonitor string
	soundMu        sync.Mutex
}

// New creates an indicator from settings. logger may be nil.
func New(cfg config.IndicatorSettings, logger *slog.Logger) *Indicator {
	var out dispatcher = hyprDispatcher{}
	if strings.EqualFold(strings.TrimSpace(cfg.Backend), backendDesktop) {
		out = desktopDispatcher{}
	}
	return &Indicator{
		cfg:      cfg,
		logger:   logger,
		messages: indicatorMessagesFromEnv(),
		out:      out,
		playCue:  emitCue,
	}
}

// ShowListening signals capture start and emits the start cue.
func (i *Indicator) ShowListening(ctx context.Context) {
	i.cue(cueStart)
	if !i.cfg.Enable {
		return
	}
	i.ensureFocusedMonitor(ctx)
	i.run(ctx, func(ctx context.Context) error {
		return i.out.notify(ctx, 1, listeningTimeoutMS, "rgb(89b4fa)", i.messages.title, i.messages.listening)
	})
}

// ShowError displays an error-state message. An empty text uses the default.
func (i *Indicator) ShowError(ctx context.Context, text string) {
	if !i.cfg.Enable {
		return
	}
	if strings.TrimSpace(text) == "" {
		text = i.messages.errorText
	}
	i.run(ctx, func(ctx context.Context) error {
		return i.out.notify(ctx, 3, errorTimeoutMS, "rgb(f38ba8)", i.messages.title, text)
	})
}

// Notify shows an informational message such as a wake-word activation and plays
// the notice cue.
func (i *Indicator) Notify(ctx context.Context, title, message string) {
	i.cue(cueNotice)
	if !i.cfg.Enable {
		return
	}
	if strings.TrimSpace(title) == "" {
		title = i.messages.title
	}
	i.run(ctx, func(ctx context.Context) error {
		return i.out.notify(ctx, 1, noticeTimeoutMS, "rgb(a6e3a1)", title, message)
	})
}

// CueStop emits the stop cue.
func (i *Indicator) CueStop(context.Context) { i.cue(cueStop) }

// CueComplete emits the recognized-utterance cue.
func (i *Indicator) CueComplete(context.Context) { i.cue(cueComplete) }

// CueCancel emits the cancel cue.
func (i *Indicator) CueCancel(context.Context) { i.cue(cueCancel) }

// Hide dismisses the active indicator surface.
func (i *Indicator) Hide(ctx context.Context) {
	if !i.cfg.Enable {
		return
	}
	i.run(ctx, i.out.dismiss)
}

// FocusedMonitor returns the monitor captured when listening began.
func (i *Indicator) FocusedMonitor() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.focusedMonitor
}

func (i *Indicator) ensureFocusedMonitor(ctx context.Context) {
	if _, ok := i.out.(hyprDispatcher); !ok {
		return
	}
	i.mu.Lock()
	alreadySet := i.focusedMonitor != ""
	i.mu.Unlock()
	if alreadySet {
		return
	}

	monitor, err := hypr.QueryFocusedMonitor(ctx)
	if err != nil {
		i.log("indicator focused monitor query failed", err)
		return
	}

	i.mu.Lock()
	i.focusedMonitor = monitor
	i.mu.Unlock()
}

// run executes an indicator operation with a bounded timeout.
func (i *Indicator) run(ctx context.Context, fn func(context.Context) error) {
	runCtx, cancel := context.WithTimeout(ctx, 400*time.Millisecond)
	defer cancel()
	if err := fn(runCtx); err != nil {
		i.log("indicator dispatch failed", err)
	}
}

// cue serializes playback and emits audio asynchronously.
func (i *Indicator) cue(kind cueKind) {
	if !i.cfg.SoundEnable || i.playCue == nil {
		return
	}
	go func() {
		i.soundMu.Lock()
		defer i.soundMu.Unlock()
		if err := i.playCue(kind); err != nil {
			i.log("indicator audio cue failed", err)
		}
	}()
}

func (i *Indicator) log(message string, err error) {
	if i.logger == nil || err == nil {
		return
	}
	i.logger.Debug(message, "error", err.Error())
}

type hyprDispatcher struct{}

func (hyprDispatcher) notify(ctx context.Context, icon, timeoutMS int, color, _, text string) error {
	return hypr.Notify(ctx, icon, timeoutMS, color, text)
}

func (hyprDispatcher) dismiss(ctx context.Context) error {
	return hypr.DismissNotify(ctx)
}

// desktopDispatcher posts through beeep, which prefers D-Bus and falls back to
// notify-send. Notifications expire on their own; there is no handle to dismiss.
type desktopDispatcher struct{}

func (desktopDispatcher) notify(ctx context.Context, _, _ int, _, title, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return beeep.Notify(title, text, "")
}

func (desktopDispatcher) dismiss(context.Context) error { return nil }
