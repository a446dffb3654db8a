package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rbright/parley/internal/assistant"
	"github.com/rbright/parley/internal/cli"
	"github.com/rbright/parley/internal/config"
	"github.com/rbright/parley/internal/console"
	"github.com/rbright/parley/internal/engine"
	"github.com/rbright/parley/internal/hotkey"
	"github.com/rbright/parley/internal/hypr"
	"github.com/rbright/parley/internal/indicator"
	"github.com/rbright/parley/internal/inference"
	"github.com/rbright/parley/internal/ipc"
	"github.com/rbright/parley/internal/output"
	"github.com/rbright/parley/internal/rag"
	"github.com/rbright/parley/internal/speech"
	"github.com/rbright/parley/internal/voice"
	"github.com/rbright/parley/internal/wakeword"
)

// commandRun becomes the owner process: it holds the IPC socket, runs the assistant
// controller, and serves the console until quit or signal.
func (r Runner) commandRun(ctx context.Context, parsed cli.Parsed, logPath string, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	listener, err := ipc.Acquire(ctx, socketPath, 180*time.Millisecond, 8)
	if err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			// A second launch raises the running instance instead.
			resp, _, forwardErr := tryForward(ctx, socketPath, ipc.Request{Command: ipc.CommandToggle}, forwardTimeout)
			if forwardErr != nil {
				fmt.Fprintf(r.Stderr, "error: %v\n", forwardErr)
				return 1
			}
			fmt.Fprintf(r.Stdout, "parley is already running (%s)\n", resp.Message)
			return 0
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	file, err := r.loadSettings(parsed.ConfigPath, logger)
	if err != nil {
		return 1
	}
	settings := file.loaded.Settings
	catalog := r.loadCatalog(file.store, logger)
	for _, w := range config.ModelWarnings(settings, catalog) {
		fmt.Fprintf(r.Stderr, "warning: %s\n", w.Message)
		logger.Warn("model warning", "message", w.Message)
	}

	ollama, err := engine.NewOllama(settings.Ollama.Host, true, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	cache := openEmbeddingCache(logger)
	if cache != nil {
		defer func() { _ = cache.Close() }()
	}
	worker := inference.NewWorker(ollama, rag.NewRetriever(ollama, cache, logger), logger)

	clip, err := output.NewClipboard(settings.ClipboardCmd, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "warning: %v; using the system clipboard\n", err)
		clip, _ = output.NewClipboard("", logger)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	printer := console.NewPrinter(r.Stdout)
	controller, err := assistant.New(assistant.Deps{
		Store:           file.store,
		Settings:        settings,
		Models:          catalog,
		Inference:       worker,
		NewVoice:        voiceFactory(logger),
		NewWakeListener: wakeFactory(logger),
		Clipboard:       clip,
		Notifier:        indicator.New(settings.Indicator, logger),
		Presenter:       printer,
		Logger:          logger,
		Quit:            cancel,
	})
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	keys := r.newHotkey(settings.Shortcut, controller.HotkeyToggle, logger)
	keys.Start(runCtx)
	defer keys.Stop(context.Background())

	handler := ipc.HandlerFunc(func(ctx context.Context, req ipc.Request) ipc.Response {
		if req.Command == ipc.CommandToggle {
			keys.Toggle()
			return ipc.Response{OK: true, Message: "toggled"}
		}
		return controller.Handle(ctx, req)
	})

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		return ipc.Serve(groupCtx, listener, handler)
	})
	group.Go(func() error {
		return controller.Run(groupCtx)
	})
	group.Go(func() error {
		if err := file.store.Watch(groupCtx, controller.ReloadSettings); err != nil {
			logger.Warn("settings watch stopped", "error", err)
		}
		return nil
	})
	if !parsed.Headless {
		historyPath := filepath.Join(filepath.Dir(logPath), "history")
		repl := console.NewREPL(controller, printer, catalog, historyPath)
		group.Go(func() error {
			defer cancel()
			return repl.Run(groupCtx)
		})
	}

	logger.Info("parley running",
		"socket", socketPath,
		"config", file.store.Path(),
		"headless", parsed.Headless,
		"shortcut", keys.Combo().String(),
	)
	if parsed.Headless {
		fmt.Fprintf(r.Stdout, "parley running (shortcut %s); stop with `parley quit`\n", keys.Combo().String())
	} else {
		fmt.Fprintln(r.Stdout, "parley ready. Type /help for commands.")
	}

	if err := group.Wait(); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("parley stopped with error", "error", err.Error())
		return 1
	}
	logger.Info("parley stopped")
	return 0
}

func openEmbeddingCache(logger *slog.Logger) *rag.Cache {
	dir, err := config.ResolveCacheDir()
	if err != nil {
		logger.Warn("embedding cache disabled", "error", err)
		return nil
	}
	cache, err := rag.OpenCache(filepath.Join(dir, "embeddings.db"), logger)
	if err != nil {
		logger.Warn("embedding cache disabled", "error", err)
		return nil
	}
	return cache
}

// newHotkey binds shortcut to `parley toggle`. An unparsable shortcut falls back to
// the default combo; without Hyprland the listener only receives IPC toggles.
func (r Runner) newHotkey(shortcut string, onToggle func(), logger *slog.Logger) *hotkey.Listener {
	var binder hotkey.Binder
	if hypr.Available() {
		binder = hotkey.HyprBinder{}
	}
	command := toggleCommand()

	keys, err := hotkey.NewListener(shortcut, command, binder, onToggle, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "warning: %v; using %s\n", err, config.DefaultLaunchShortcut)
		logger.Warn("shortcut invalid; using default", "shortcut", shortcut, "error", err)
		keys, _ = hotkey.NewListener(config.DefaultLaunchShortcut, command, binder, onToggle, logger)
	}
	return keys
}

// toggleCommand is the shell command a compositor bind runs to reach this process
// over its socket.
func toggleCommand() string {
	exe, err := os.Executable()
	if err != nil {
		exe = "parley"
	}
	return shellQuote(exe) + " " + string(cli.CommandToggle)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func voiceFactory(logger *slog.Logger) func(config.Settings) assistant.VoiceWorker {
	return func(s config.Settings) assistant.VoiceWorker {
		speechSettings := s.Speech
		recognizer := func(opts speech.Options) voice.Recognizer {
			return speech.NewTranscriber(speechSettings, opts, logger)
		}
		maxListen := time.Duration(speechSettings.MaxListenMS) * time.Millisecond
		return voice.NewWorker(recognizer, maxListen, indicator.New(s.Indicator, logger), logger)
	}
}

func wakeFactory(logger *slog.Logger) func(config.Settings, func(wakeword.Activation)) (assistant.WakeListener, error) {
	return func(s config.Settings, onActivate func(wakeword.Activation)) (assistant.WakeListener, error) {
		speechSettings := s.Speech
		recognizer := func(opts speech.Options) wakeword.Recognizer {
			return speech.NewTranscriber(speechSettings, opts, logger)
		}
		listener, err := wakeword.NewListener(speechSettings.WakePhrases, recognizer, onActivate, wakeword.Options{}, logger)
		if err != nil {
			return nil, err
		}
		return listener, nil
	}
}
