package hotkey

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rbright/parley/internal/hypr"
	"github.com/rbright/parley/internal/logging"
)

// Binder registers a global key bind that runs a shell command.
type Binder interface {
	Bind(ctx context.Context, mods string, key string, command string) error
	Unbind(ctx context.Context, mods string, key string) error
}

// HyprBinder binds through hyprctl.
type HyprBinder struct{}

func (HyprBinder) Bind(ctx context.Context, mods string, key string, command string) error {
	return hypr.Bind(ctx, mods, key, command)
}

func (HyprBinder) Unbind(ctx context.Context, mods string, key string) error {
	return hypr.Unbind(ctx, mods, key)
}

// Listener owns one global combo. Presses arrive through Toggle, which the IPC server
// calls when the bound command runs.
type Listener struct {
	combo    Combo
	command  string
	binder   Binder
	onToggle func()
	logger   *slog.Logger

	mu      sync.Mutex
	bound   bool
	stopped bool
}

// NewListener parses shortcut and prepares a listener that binds it to command.
// An invalid shortcut returns a *ParseError and no listener. binder may be nil when
// no compositor bind is possible.
func NewListener(shortcut string, command string, binder Binder, onToggle func(), logger *slog.Logger) (*Listener, error) {
	combo, err := Parse(shortcut)
	if err != nil {
		return nil, err
	}
	return &Listener{
		combo:    combo,
		command:  command,
		binder:   binder,
		onToggle: onToggle,
		logger:   logging.OrDiscard(logger),
	}, nil
}

// Combo returns the parsed key combination.
func (l *Listener) Combo() Combo { return l.combo }

// Start registers the global bind. Bind failures are logged; toggles delivered
// over IPC still work.
func (l *Listener) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped || l.bound || l.binder == nil {
		return
	}

	mods, key := l.combo.Hyprland()
	if err := l.binder.Bind(ctx, mods, key, l.command); err != nil {
		l.logger.Warn("global hotkey bind failed", "combo", l.combo.String(), "error", err)
		return
	}
	l.bound = true
	l.logger.Info("global hotkey bound", "combo", l.combo.String(), "command", l.command)
}

// Toggle delivers one press to the listener's callback. Presses after Stop are
// dropped.
func (l *Listener) Toggle() {
	l.mu.Lock()
	stopped := l.stopped
	l.mu.Unlock()
	if stopped || l.onToggle == nil {
		return
	}
	l.onToggle()
}

// Stop removes the global bind. It is idempotent.
func (l *Listener) Stop(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.stopped = true
	if !l.bound {
		return
	}
	l.bound = false

	mods, key := l.combo.Hyprland()
	if err := l.binder.Unbind(ctx, mods, key); err != nil {
		l.logger.Warn("global hotkey unbind failed", "combo", l.combo.String(), "error", err)
	}
}
