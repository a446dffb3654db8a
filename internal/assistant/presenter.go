package assistant

import "github.com/rbright/parley/internal/prompt"

// Role identifies the author of a transcript turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one rendered transcript entry.
type Turn struct {
	Role      Role
	Task      prompt.Task
	Text      string
	Image     string
	Documents []string
	// Interrupted marks an assistant reply cut short by newer input.
	Interrupted bool
}

// AttachmentSet is the pending document and image input for the next request.
type AttachmentSet struct {
	Documents []string
	Image     string
}

// Empty reports whether nothing is attached.
func (a AttachmentSet) Empty() bool {
	return len(a.Documents) == 0 && a.Image == ""
}

func (a AttachmentSet) clone() AttachmentSet {
	return AttachmentSet{Documents: append([]string(nil), a.Documents...), Image: a.Image}
}

// Presenter renders controller output. Every method is called on the interactive
// goroutine and must not block or call back into synchronous Controller methods.
type Presenter interface {
	// OnTurn is called when a user turn is dispatched or an assistant turn is
	// finalized.
	OnTurn(Turn)
	// OnChunk streams assistant reply text in emission order.
	OnChunk(text string)
	// OnComplete follows the last chunk of a successful reply.
	OnComplete()
	OnInferenceError(message string)
	// OnSpeechResult receives the pending input after recognized speech was
	// appended to it.
	OnSpeechResult(input string)
	OnSpeechError(message string)
	OnWakeWord(trigger string)
	OnHotkeyToggle()
	OnShow()
	OnCleared()
	OnAttachments(AttachmentSet)
	OnRestartRequired(message string)
}

// NopPresenter implements Presenter with no-ops. Embed it to override a subset.
type NopPresenter struct{}

func (NopPresenter) OnTurn(Turn)                 {}
func (NopPresenter) OnChunk(string)              {}
func (NopPresenter) OnComplete()                 {}
func (NopPresenter) OnInferenceError(string)     {}
func (NopPresenter) OnSpeechResult(string)       {}
func (NopPresenter) OnSpeechError(string)        {}
func (NopPresenter) OnWakeWord(string)           {}
func (NopPresenter) OnHotkeyToggle()             {}
func (NopPresenter) OnShow()                     {}
func (NopPresenter) OnCleared()                  {}
func (NopPresenter) OnAttachments(AttachmentSet) {}
func (NopPresenter) OnRestartRequired(string)    {}
