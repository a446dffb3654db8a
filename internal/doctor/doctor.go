// Package doctor runs runtime readiness diagnostics for config, models, ollama,
// audio, Riva, and the desktop session.
package doctor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/rbright/parley/internal/audio"
	"github.com/rbright/parley/internal/config"
	"github.com/rbright/parley/internal/hypr"
	"github.com/rbright/parley/internal/riva"
)

const probeTimeout = 2 * time.Second

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Ollama is the subset of the inference engine the doctor probes.
type Ollama interface {
	Heartbeat(ctx context.Context) error
	Models(ctx context.Context) ([]string, error)
}

// Inputs carries what Run inspects. LoadErr is the error returned by the settings
// store, if any; Catalog and Ollama may be nil when they could not be built.
type Inputs struct {
	Loaded  config.Loaded
	LoadErr error
	Catalog *config.Catalog
	Ollama  Ollama
}

// Run executes environment/config/runtime checks.
func Run(ctx context.Context, in Inputs) Report {
	settings := in.Loaded.Settings
	checks := []Check{checkConfig(in.Loaded, in.LoadErr)}

	if in.Catalog != nil {
		checks = append(checks, checkCatalog(settings, in.Catalog))
	}
	checks = append(checks, checkOllama(ctx, in.Ollama, settings))

	checks = append(checks, checkEnv("XDG_SESSION_TYPE", func(v string) bool {
		return strings.EqualFold(strings.TrimSpace(v), "wayland")
	}, "session type is wayland", "expected XDG_SESSION_TYPE=wayland"))
	checks = append(checks, checkHyprland(ctx))
	checks = append(checks, checkClipboard(settings.ClipboardCmd))

	checks = append(checks, checkAudioSelection(ctx, settings.Speech))
	checks = append(checks, checkRivaReady(ctx, settings.Speech.RivaGRPC, probeTimeout))

	return Report{Checks: checks}
}

func checkConfig(loaded config.Loaded, loadErr error) Check {
	if loadErr != nil {
		return Check{Name: "config", Pass: false, Message: fmt.Sprintf("%v (running with defaults)", loadErr)}
	}
	message := fmt.Sprintf("loaded %q", loaded.Path)
	if !loaded.Exists {
		message = fmt.Sprintf("wrote defaults to %q", loaded.Path)
	}
	for _, w := range loaded.Warnings {
		if w.Line > 0 {
			message += fmt.Sprintf("; line %d: %s", w.Line, w.Message)
		} else {
			message += "; " + w.Message
		}
	}
	return Check{Name: "config", Pass: true, Message: message}
}

// checkCatalog reports selected models that the catalog does not know or that are
// selected for the wrong role. Unknown ids are still sent to ollama, so only role
// mismatches fail.
func checkCatalog(s config.Settings, catalog *config.Catalog) Check {
	warnings := config.ModelWarnings(s, catalog)
	if len(warnings) == 0 {
		return Check{Name: "models", Pass: true, Message: fmt.Sprintf("%d models in catalog", len(catalog.Models()))}
	}
	messages := make([]string, 0, len(warnings))
	for _, w := range warnings {
		messages = append(messages, w.Message)
	}
	return Check{Name: "models", Pass: !roleMismatch(s, catalog), Message: strings.Join(messages, "; ")}
}

func roleMismatch(s config.Settings, catalog *config.Catalog) bool {
	selected := map[string]config.ModelType{
		s.TextModel:          config.ModelText,
		s.MultimodalModel:    config.ModelImage,
		s.TextReasoningModel: config.ModelTextReasoning,
	}
	for id, want := range selected {
		if m, ok := catalog.Find(id); ok && m.Type != want {
			return true
		}
	}
	return false
}

// checkOllama verifies the server answers and has the selected models installed.
func checkOllama(ctx context.Context, client Ollama, s config.Settings) Check {
	if client == nil {
		return Check{Name: "ollama", Pass: false, Message: fmt.Sprintf("invalid host %q", s.Ollama.Host)}
	}
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if err := client.Heartbeat(probeCtx); err != nil {
		return Check{Name: "ollama", Pass: false, Message: fmt.Sprintf("%s unreachable: %v", s.Ollama.Host, err)}
	}
	installed, err := client.Models(probeCtx)
	if err != nil {
		return Check{Name: "ollama", Pass: false, Message: err.Error()}
	}

	var missing []string
	for _, id := range []string{s.TextModel, s.MultimodalModel, s.TextReasoningModel, s.RAG.EmbedModel} {
		if !hasModel(installed, id) && !slices.Contains(missing, id) {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return Check{Name: "ollama", Pass: false, Message: fmt.Sprintf("models not installed: %s (run ollama pull)", strings.Join(missing, ", "))}
	}
	return Check{Name: "ollama", Pass: true, Message: fmt.Sprintf("%s has %d models", s.Ollama.Host, len(installed))}
}

// hasModel matches an id against installed names, treating a bare name as :latest.
func hasModel(installed []string, id string) bool {
	for _, name := range installed {
		if name == id || (!strings.Contains(id, ":") && name == id+":latest") {
			return true
		}
	}
	return false
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

func checkHyprland(ctx context.Context) Check {
	if !hypr.Available() {
		return Check{Name: "hyprland", Pass: false, Message: "Hyprland session or hyprctl not found; the global shortcut is unavailable"}
	}
	version, err := hypr.QueryVersion(ctx)
	if err != nil {
		return Check{Name: "hyprland", Pass: false, Message: err.Error()}
	}
	return Check{Name: "hyprland", Pass: true, Message: fmt.Sprintf("Hyprland %s", version)}
}

func checkClipboard(command string) Check {
	if strings.TrimSpace(command) == "" {
		if clipboard.Unsupported {
			return Check{Name: "clipboard", Pass: false, Message: "no clipboard utility found (install wl-clipboard or set clipboard_cmd)"}
		}
		return Check{Name: "clipboard", Pass: true, Message: "system clipboard available"}
	}
	argv, err := config.ParseArgv(command)
	if err != nil {
		return Check{Name: "clipboard_cmd", Pass: false, Message: err.Error()}
	}
	return checkCommand(argv, "clipboard_cmd")
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	return checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(ctx context.Context, speech config.SpeechSettings) Check {
	selection, err := audio.SelectDevice(ctx, speech.AudioInput, speech.AudioFallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

// checkRivaReady dials the Riva gRPC endpoint and waits for the channel to be ready.
func checkRivaReady(ctx context.Context, endpoint string, timeout time.Duration) Check {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return Check{Name: "riva.ready", Pass: false, Message: "speech.riva_grpc is empty"}
	}
	if err := riva.Probe(ctx, endpoint, timeout); err != nil {
		return Check{Name: "riva.ready", Pass: false, Message: fmt.Sprintf("%s not ready: %v", endpoint, err)}
	}
	return Check{Name: "riva.ready", Pass: true, Message: fmt.Sprintf("ready at %s", endpoint)}
}
