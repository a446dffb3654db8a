// Package console is a terminal presentation for the assistant: it renders the
// transcript and reads user commands from a line editor.
package console

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rbright/parley/internal/assistant"
)

// Printer renders assistant events as plain text lines.
type Printer struct {
	mu        sync.Mutex
	out       io.Writer
	streaming bool
	visible   bool
}

// NewPrinter writes to out.
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out, visible: true}
}

var _ assistant.Presenter = (*Printer)(nil)

func (p *Printer) OnTurn(t assistant.Turn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endStreamLocked()

	switch t.Role {
	case assistant.RoleUser:
		if t.Image != "" {
			p.linef("You: [image %s]", filepath.Base(t.Image))
		}
		for _, doc := range t.Documents {
			p.linef("You: [document %s]", filepath.Base(doc))
		}
		p.linef("You: %s", t.Text)
		if t.Task != "" && t.Task != "chat" {
			fmt.Fprintf(p.out, "AI (%s): ", t.Task)
		} else {
			fmt.Fprint(p.out, "AI: ")
		}
		p.streaming = true
	case assistant.RoleAssistant:
		if t.Interrupted {
			p.linef("[interrupted]")
		}
	}
}

func (p *Printer) OnChunk(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(p.out, text)
	p.streaming = true
}

func (p *Printer) OnComplete() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endStreamLocked()
}

func (p *Printer) OnInferenceError(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endStreamLocked()
	p.linef("[error] %s", message)
}

func (p *Printer) OnSpeechResult(input string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endStreamLocked()
	p.linef("[voice] pending input: %s", strings.ReplaceAll(input, "\n", " / "))
	p.linef("[voice] press enter to send")
}

func (p *Printer) OnSpeechError(message string) {
	p.event("[voice] %s", message)
}

func (p *Printer) OnWakeWord(trigger string) {
	p.event("[wake] heard %q", trigger)
}

func (p *Printer) OnHotkeyToggle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endStreamLocked()
	p.visible = !p.visible
	if p.visible {
		p.linef("[hotkey] shown")
	} else {
		p.linef("[hotkey] hidden")
	}
}

func (p *Printer) OnShow() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.visible {
		return
	}
	p.endStreamLocked()
	p.visible = true
	p.linef("[shown]")
}

func (p *Printer) OnCleared() {
	p.event("[cleared]")
}

func (p *Printer) OnAttachments(set assistant.AttachmentSet) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endStreamLocked()
	if set.Empty() {
		p.linef("[attachments] none")
		return
	}
	names := make([]string, 0, len(set.Documents)+1)
	if set.Image != "" {
		names = append(names, "image:"+filepath.Base(set.Image))
	}
	for _, doc := range set.Documents {
		names = append(names, "doc:"+filepath.Base(doc))
	}
	p.linef("[attachments] %s", strings.Join(names, ", "))
}

func (p *Printer) OnRestartRequired(message string) {
	p.event("[restart] %s", message)
}

// Visible reports whether the last hotkey toggle left the console shown.
func (p *Printer) Visible() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visible
}

// Println writes a standalone line, closing any streaming reply first.
func (p *Printer) Println(format string, args ...any) {
	p.event(format, args...)
}

func (p *Printer) event(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endStreamLocked()
	p.linef(format, args...)
}

func (p *Printer) endStreamLocked() {
	if p.streaming {
		fmt.Fprintln(p.out)
		p.streaming = false
	}
}

func (p *Printer) linef(format string, args ...any) {
	fmt.Fprintf(p.out, format+"\n", args...)
}
