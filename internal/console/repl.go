package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"github.com/rbright/parley/internal/assistant"
	"github.com/rbright/parley/internal/config"
	"github.com/rbright/parley/internal/prompt"
)

// Assistant is the controller surface the console drives.
type Assistant interface {
	Submit(task prompt.Task, text string)
	Think(text string)
	Attach(paths ...string)
	RemoveAttachment(path string)
	ClearAttachments()
	Reset()
	ToggleVoice()
	CopyResult(ctx context.Context) error
	Snapshot(ctx context.Context) (assistant.Snapshot, error)
	ApplySettings(ctx context.Context, s config.Settings) error
}

// Catalog is the model catalog surface the console lists and edits.
type Catalog interface {
	Models() []config.Model
	Custom() []config.Model
	ByType(t config.ModelType) []config.Model
	Add(m config.Model) ([]config.Model, error)
	Update(index int, m config.Model) ([]config.Model, error)
	Remove(index int) ([]config.Model, error)
}

var taskCommands = map[string]prompt.Task{
	"/summarize":  prompt.TaskSummarize,
	"/rephrase":   prompt.TaskRephrase,
	"/grammar":    prompt.TaskFixGrammar,
	"/brainstorm": prompt.TaskBrainstorm,
	"/email":      prompt.TaskWriteEmail,
}

var commands = []string{
	"/attach", "/brainstorm", "/clear", "/copy", "/detach", "/email", "/exit", "/grammar",
	"/help", "/model", "/models", "/quit", "/rephrase", "/set", "/status", "/summarize",
	"/think", "/voice", "/wake",
}

const helpText = `Type a message and press enter to chat. Enter on an empty line sends pending voice input.

Commands:
  /summarize|/rephrase|/grammar|/brainstorm|/email <text>   run a task (clears the chat)
  /think <text>          ask the reasoning model
  /attach <path>...      attach images or documents (quote paths with spaces)
  /detach [path]         remove one attachment, or all
  /voice                 start or stop voice input
  /copy                  copy the last reply to the clipboard
  /clear                 clear chat, history, and attachments (also: cls, clear)
  /status                show state, models, and attachments
  /models                list models per role (* marks the selection)
  /models add <type> <id> <repo_id> <filename> [name]
  /models update <n> <type> <id> <repo_id> <filename> [name]
  /models remove <n>     edit custom models (n from /models; type: text, text-reasoning, image)
  /model <id>            set the text model
  /set <key> <value>     change a setting, e.g. /set generation.top_p 0.9 (/set lists keys)
  /wake on|off           enable or disable the wake word
  /quit                  exit parley
`

// REPL reads commands from the terminal and forwards them to an Assistant.
type REPL struct {
	assistant   Assistant
	printer     *Printer
	catalog     Catalog
	historyPath string
}

// NewREPL builds a console loop. catalog may be nil.
func NewREPL(a Assistant, printer *Printer, catalog Catalog, historyPath string) *REPL {
	return &REPL{assistant: a, printer: printer, catalog: catalog, historyPath: historyPath}
}

type lineResult struct {
	text string
	err  error
}

// Run prompts until the user quits, input ends, or ctx is cancelled.
func (r *REPL) Run(ctx context.Context) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(completeCommand)
	r.loadHistory(line)
	defer r.saveHistory(line)

	for {
		results := make(chan lineResult, 1)
		go func() {
			text, err := line.Prompt("parley> ")
			results <- lineResult{text: text, err: err}
		}()

		var res lineResult
		select {
		case <-ctx.Done():
			return nil
		case res = <-results:
		}

		if res.err != nil {
			if errors.Is(res.err, liner.ErrPromptAborted) || errors.Is(res.err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read console input: %w", res.err)
		}
		if strings.TrimSpace(res.text) != "" {
			line.AppendHistory(res.text)
		}
		if r.handle(ctx, res.text) {
			return nil
		}
	}
}

// handle executes one input line and reports whether the console should exit.
func (r *REPL) handle(ctx context.Context, input string) bool {
	trimmed := strings.TrimSpace(input)
	if !strings.HasPrefix(trimmed, "/") {
		r.assistant.Submit(prompt.TaskChat, input)
		return false
	}

	name, rest, _ := strings.Cut(trimmed, " ")
	name = strings.ToLower(name)
	rest = strings.TrimSpace(rest)

	if task, ok := taskCommands[name]; ok {
		if rest == "" {
			r.printer.Println("usage: %s <text>", name)
			return false
		}
		r.assistant.Submit(task, rest)
		return false
	}

	switch name {
	case "/quit", "/exit":
		return true
	case "/help":
		r.printer.Println("%s", strings.TrimRight(helpText, "\n"))
	case "/think":
		if rest == "" {
			r.printer.Println("usage: /think <text>")
			return false
		}
		r.assistant.Think(rest)
	case "/attach":
		paths, err := config.ParseArgv(rest)
		if err != nil || len(paths) == 0 {
			r.printer.Println("usage: /attach <path>...")
			return false
		}
		r.assistant.Attach(expandPaths(paths)...)
	case "/detach":
		if rest == "" {
			r.assistant.ClearAttachments()
			return false
		}
		paths, err := config.ParseArgv(rest)
		if err != nil {
			r.printer.Println("usage: /detach [path]")
			return false
		}
		for _, path := range expandPaths(paths) {
			r.assistant.RemoveAttachment(path)
		}
	case "/voice":
		r.assistant.ToggleVoice()
	case "/copy":
		if err := r.assistant.CopyResult(ctx); err != nil {
			r.printer.Println("[copy] %v", err)
			return false
		}
		r.printer.Println("[copy] reply copied to clipboard")
	case "/clear":
		r.assistant.Reset()
	case "/status":
		r.printStatus(ctx)
	case "/models":
		r.handleModels(ctx, rest)
	case "/set":
		key, value, _ := strings.Cut(rest, " ")
		if key == "" {
			r.printer.Println("usage: /set <key> <value>")
			r.printer.Println("keys: %s", strings.Join(settingNames(), ", "))
			return false
		}
		r.updateSettings(ctx, func(s *config.Settings) error {
			return applySetting(s, key, strings.TrimSpace(value))
		})
	case "/model":
		r.updateSettings(ctx, func(s *config.Settings) error {
			if rest == "" {
				return errors.New("usage: /model <id>")
			}
			s.TextModel = rest
			return nil
		})
	case "/wake":
		r.updateSettings(ctx, func(s *config.Settings) error {
			switch strings.ToLower(rest) {
			case "on":
				s.WakeWordChat = true
			case "off":
				s.WakeWordChat = false
			default:
				return errors.New("usage: /wake on|off")
			}
			return nil
		})
	default:
		r.printer.Println("unknown command %s (try /help)", name)
	}
	return false
}

func (r *REPL) printStatus(ctx context.Context) {
	snap, err := r.assistant.Snapshot(ctx)
	if err != nil {
		r.printer.Println("[status] %v", err)
		return
	}
	s := snap.Settings
	r.printer.Println("state: %s", snap.State)
	r.printer.Println("models: text=%s multimodal=%s reasoning=%s", s.TextModel, s.MultimodalModel, s.TextReasoningModel)
	r.printer.Println("wake word: %t (mic %t) phrases=%s", s.WakeWordChat, s.WakeWordMic, strings.Join(s.Speech.WakePhrases, ", "))
	r.printer.Println("turns: %d", len(snap.Transcript))
	if snap.Attachments.Image != "" {
		r.printer.Println("image: %s", snap.Attachments.Image)
	}
	for _, doc := range snap.Attachments.Documents {
		r.printer.Println("document: %s", doc)
	}
	if snap.Draft != "" {
		r.printer.Println("pending input: %s", snap.Draft)
	}
}

var modelRoles = []struct {
	label string
	typ   config.ModelType
	pick  func(config.Settings) string
}{
	{"text_model", config.ModelText, func(s config.Settings) string { return s.TextModel }},
	{"multimodal_model", config.ModelImage, func(s config.Settings) string { return s.MultimodalModel }},
	{"text_reasoning_model", config.ModelTextReasoning, func(s config.Settings) string { return s.TextReasoningModel }},
}

func (r *REPL) handleModels(ctx context.Context, rest string) {
	if r.catalog == nil {
		r.printer.Println("[models] catalog unavailable")
		return
	}
	args, err := config.ParseArgv(rest)
	if err != nil {
		r.printer.Println("[models] %v", err)
		return
	}
	if len(args) == 0 {
		r.printModels(ctx)
		return
	}

	switch strings.ToLower(args[0]) {
	case "add":
		m, ok := modelFromArgs(args[1:])
		if !ok {
			r.printer.Println("usage: /models add <type> <id> <repo_id> <filename> [name]")
			return
		}
		_, err = r.catalog.Add(m)
	case "update":
		if len(args) < 2 {
			r.printer.Println("usage: /models update <n> <type> <id> <repo_id> <filename> [name]")
			return
		}
		index, ok := customIndex(args[1])
		m, valid := modelFromArgs(args[2:])
		if !ok || !valid {
			r.printer.Println("usage: /models update <n> <type> <id> <repo_id> <filename> [name]")
			return
		}
		_, err = r.catalog.Update(index, m)
	case "remove", "rm":
		index, ok := -1, len(args) == 2
		if ok {
			index, ok = customIndex(args[1])
		}
		if !ok {
			r.printer.Println("usage: /models remove <n>")
			return
		}
		_, err = r.catalog.Remove(index)
	default:
		r.printer.Println("usage: /models [add|update|remove ...]")
		return
	}
	if err != nil {
		r.printer.Println("[models] %v", err)
		return
	}
	r.printer.Println("[models] saved")
}

// printModels lists the catalog grouped by the role each model can fill.
func (r *REPL) printModels(ctx context.Context) {
	var selected config.Settings
	if snap, err := r.assistant.Snapshot(ctx); err == nil {
		selected = snap.Settings
	}
	custom := r.catalog.Custom()

	for _, role := range modelRoles {
		r.printer.Println("%s (%s):", role.label, role.typ)
		for _, m := range r.catalog.ByType(role.typ) {
			mark := " "
			if m.ID == role.pick(selected) {
				mark = "*"
			}
			tag := ""
			if i := slices.Index(custom, m); i >= 0 {
				tag = fmt.Sprintf("  [custom %d]", i+1)
			}
			r.printer.Println(" %s %-40s %s%s", mark, m.ID, m.Name, tag)
		}
	}
}

// customIndex converts the 1-based number shown by /models into a catalog index.
func customIndex(arg string) (int, bool) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		return 0, false
	}
	return n - 1, true
}

// modelFromArgs reads <type> <id> <repo_id> <filename> [name...]. The name defaults
// to the id.
func modelFromArgs(args []string) (config.Model, bool) {
	if len(args) < 4 {
		return config.Model{}, false
	}
	m := config.Model{
		Type:     config.ModelType(strings.ToLower(args[0])),
		ID:       args[1],
		RepoID:   args[2],
		Filename: args[3],
		Name:     strings.Join(args[4:], " "),
	}
	if m.Name == "" {
		m.Name = m.ID
	}
	return m, true
}

func (r *REPL) updateSettings(ctx context.Context, mutate func(*config.Settings) error) {
	snap, err := r.assistant.Snapshot(ctx)
	if err != nil {
		r.printer.Println("[settings] %v", err)
		return
	}
	next := snap.Settings.Clone()
	if err := mutate(&next); err != nil {
		var validationErr *config.ValidationError
		if errors.As(err, &validationErr) {
			r.printer.Println("[settings] %v", err)
			return
		}
		r.printer.Println("%v", err)
		return
	}
	if err := r.assistant.ApplySettings(ctx, next); err != nil {
		r.printer.Println("[settings] %v", err)
		return
	}
	r.printer.Println("[settings] saved")
}

func (r *REPL) loadHistory(line *liner.State) {
	if r.historyPath == "" {
		return
	}
	f, err := os.Open(r.historyPath)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = line.ReadHistory(f)
}

func (r *REPL) saveHistory(line *liner.State) {
	if r.historyPath == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(r.historyPath), 0o700); err != nil {
		return
	}
	f, err := os.OpenFile(r.historyPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = line.WriteHistory(f)
}

func completeCommand(input string) []string {
	if !strings.HasPrefix(input, "/") || strings.Contains(input, " ") {
		return nil
	}
	var out []string
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, strings.ToLower(input)) {
			out = append(out, cmd)
		}
	}
	return out
}

// expandPaths resolves a leading ~ and makes paths absolute.
func expandPaths(paths []string) []string {
	home, _ := os.UserHomeDir()
	out := make([]string, 0, len(paths))
	for _, path := range paths {
		if home != "" && (path == "~" || strings.HasPrefix(path, "~/")) {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		if !slices.Contains(out, path) {
			out = append(out, path)
		}
	}
	return out
}
