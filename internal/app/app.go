package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/rbright/parley/internal/audio"
	"github.com/rbright/parley/internal/cli"
	"github.com/rbright/parley/internal/config"
	"github.com/rbright/parley/internal/doctor"
	"github.com/rbright/parley/internal/engine"
	"github.com/rbright/parley/internal/ipc"
	"github.com/rbright/parley/internal/logging"
	"github.com/rbright/parley/internal/version"
)

const (
	forwardTimeout = 220 * time.Millisecond
	askTimeout     = 3 * time.Minute
)

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText("parley"))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText("parley"))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	logRuntime, err := logging.New()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", parsed.ConfigPath,
		"log", logRuntime.Path,
	)

	switch parsed.Command {
	case cli.CommandRun:
		return r.commandRun(ctx, parsed, logRuntime.Path, logger)
	case cli.CommandDoctor:
		return r.commandDoctor(ctx, parsed, logger)
	case cli.CommandModels:
		return r.commandModels(parsed, logger)
	case cli.CommandDevices:
		return r.commandDevices(ctx)
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	case cli.CommandAsk:
		return r.commandAsk(ctx, parsed.Text)
	case cli.CommandToggle, cli.CommandListen, cli.CommandQuit:
		return r.forwardOrFail(ctx, string(parsed.Command))
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

// settingsFile is an opened settings store and what it loaded. loadErr is set when
// the file was malformed and defaults are in use.
type settingsFile struct {
	store   *config.Store
	loaded  config.Loaded
	loadErr error
}

// loadSettings opens the store and reports load warnings. A malformed file is
// reported and the defaults it yielded are used; only an unresolvable path fails.
func (r Runner) loadSettings(configPath string, logger *slog.Logger) (settingsFile, error) {
	store, err := config.Open(configPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("resolve config path failed", "error", err.Error())
		return settingsFile{}, err
	}

	loaded, loadErr := store.Load()
	if loadErr != nil {
		fmt.Fprintf(r.Stderr, "warning: %v; using defaults\n", loadErr)
		logger.Warn("config load failed; using defaults", "error", loadErr.Error())
	}
	for _, w := range loaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}
	return settingsFile{store: store, loaded: loaded, loadErr: loadErr}, nil
}

func (r Runner) loadCatalog(store *config.Store, logger *slog.Logger) *config.Catalog {
	catalog, err := config.LoadCatalog(config.CustomModelsPath(store.Path()))
	if err != nil {
		fmt.Fprintf(r.Stderr, "warning: %v; using built-in models only\n", err)
		logger.Warn("custom models load failed", "error", err.Error())
	}
	return catalog
}

func (r Runner) commandDoctor(ctx context.Context, parsed cli.Parsed, logger *slog.Logger) int {
	file, err := r.loadSettings(parsed.ConfigPath, logger)
	if err != nil {
		return 1
	}

	in := doctor.Inputs{
		Loaded:  file.loaded,
		LoadErr: file.loadErr,
		Catalog: r.loadCatalog(file.store, logger),
	}
	if client, err := engine.NewOllama(file.loaded.Settings.Ollama.Host, false, logger); err == nil {
		in.Ollama = client
	}

	report := doctor.Run(ctx, in)
	fmt.Fprintln(r.Stdout, report.String())
	if report.OK() {
		return 0
	}
	return 1
}

func (r Runner) commandModels(parsed cli.Parsed, logger *slog.Logger) int {
	file, err := r.loadSettings(parsed.ConfigPath, logger)
	if err != nil {
		return 1
	}
	catalog := r.loadCatalog(file.store, logger)
	loaded := file.loaded

	selected := map[string]bool{
		loaded.Settings.TextModel:          true,
		loaded.Settings.MultimodalModel:    true,
		loaded.Settings.TextReasoningModel: true,
	}
	for _, m := range catalog.Models() {
		mark := " "
		if selected[m.ID] {
			mark = "*"
		}
		fmt.Fprintf(r.Stdout, "%s %-16s %-40s %s\n", mark, m.Type, m.ID, m.Name)
	}
	for _, w := range config.ModelWarnings(loaded.Settings, catalog) {
		fmt.Fprintf(r.Stderr, "warning: %s\n", w.Message)
	}
	return 0
}

func (r Runner) commandDevices(ctx context.Context) int {
	devices, err := audio.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return 1
	}

	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		availability := "yes"
		if !device.Available {
			availability = "no"
		}
		muted := "no"
		if device.Muted {
			muted = "yes"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
			defaultMark,
			device.ID,
			device.Description,
			device.State,
			availability,
			muted,
		)
	}

	return 0
}

func (r Runner) commandStatus(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, "stopped")
		return 0
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.Request{Command: ipc.CommandStatus}, forwardTimeout)
	if handled {
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		if resp.State == "" {
			resp.State = "idle"
		}
		fmt.Fprintln(r.Stdout, resp.State)
		return 0
	}

	fmt.Fprintln(r.Stdout, "stopped")
	return 0
}

func (r Runner) commandAsk(ctx context.Context, text string) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.Request{Command: ipc.CommandAsk, Text: text}, askTimeout)
	if !handled {
		fmt.Fprintln(r.Stderr, "error: parley is not running (start it with `parley run`)")
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	fmt.Fprintln(r.Stdout, strings.TrimSpace(resp.Reply))
	return 0
}

func (r Runner) forwardOrFail(ctx context.Context, command string) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.Request{Command: command}, forwardTimeout)
	if !handled {
		fmt.Fprintln(r.Stderr, "error: parley is not running (start it with `parley run`)")
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

// tryForward sends req to a running owner. handled is false when no owner is
// listening on socketPath.
func tryForward(ctx context.Context, socketPath string, req ipc.Request, timeout time.Duration) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, req, timeout)
	if err == nil {
		if resp.OK {
			return resp, true, nil
		}
		return resp, true, errors.New(resp.Error)
	}

	if ipc.IsNoOwner(err) {
		return ipc.Response{}, false, nil
	}

	return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", req.Command, err)
}
