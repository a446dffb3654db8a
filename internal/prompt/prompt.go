// Package prompt turns user input into model prompts and classifies attachments.
package prompt

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Task is one entry of the closed task list offered next to the chat input.
type Task string

const (
	TaskChat       Task = "chat"
	TaskSummarize  Task = "Summarize"
	TaskRephrase   Task = "Rephrase"
	TaskFixGrammar Task = "Fix Grammar"
	TaskBrainstorm Task = "Brainstorm"
	TaskWriteEmail Task = "Write Email"
)

const chatInstruction = "Generate a short and simple response."

var templates = map[Task]string{
	TaskSummarize:  "Summarize the following text: %s",
	TaskRephrase:   "Rephrase the following text %s",
	TaskFixGrammar: "Fix the grammar in the following text:\n %s",
	TaskBrainstorm: "Brainstorm ideas related to: %s",
	TaskWriteEmail: "Write an email about: %s",
}

// Tasks lists the named tasks in display order. Chat is implicit.
func Tasks() []Task {
	return []Task{TaskSummarize, TaskRephrase, TaskFixGrammar, TaskBrainstorm, TaskWriteEmail}
}

// ParseTask maps a task name to a Task, ignoring case and surrounding space.
func ParseTask(name string) (Task, error) {
	name = strings.TrimSpace(name)
	if strings.EqualFold(name, string(TaskChat)) {
		return TaskChat, nil
	}
	for _, task := range Tasks() {
		if strings.EqualFold(name, string(task)) {
			return task, nil
		}
	}
	return "", fmt.Errorf("unknown task %q", name)
}

// Build renders the prompt for task. Chat appends the brevity instruction; named
// tasks wrap text in their template.
func Build(task Task, text string) (string, error) {
	if task == TaskChat {
		return text + " \n" + chatInstruction, nil
	}
	template, ok := templates[task]
	if !ok {
		return "", fmt.Errorf("unknown task %q", task)
	}
	return fmt.Sprintf(template, text), nil
}

// IsReset reports whether input is a literal clear command. Reset inputs clear the
// conversation and are never sent to a model.
func IsReset(input string) bool {
	switch strings.TrimSpace(input) {
	case "cls", "clear":
		return true
	default:
		return false
	}
}

// Kind classifies a dropped or picked file.
type Kind int

const (
	KindUnsupported Kind = iota
	KindImage
	KindDocument
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindDocument:
		return "document"
	default:
		return "unsupported"
	}
}

// Classify assigns a file to image, document, or unsupported by extension,
// case-insensitively.
func Classify(path string) Kind {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "png", "jpg", "jpeg", "gif", "bmp":
		return KindImage
	case "pdf", "doc", "docx", "txt":
		return KindDocument
	default:
		return KindUnsupported
	}
}
