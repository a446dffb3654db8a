package assistant

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rbright/parley/internal/inference"
	"github.com/rbright/parley/internal/prompt"
)

type askResult struct {
	reply string
	err   error
}

// requestKind picks which configured model serves a request.
type requestKind int

const (
	kindChat requestKind = iota
	kindReasoning
)

// Submit sends the pending input joined with text as task. A literal cls or clear
// resets the conversation instead. Empty input is ignored.
func (c *Controller) Submit(task prompt.Task, text string) {
	c.post(func() { c.submit(task, kindChat, text, nil) })
}

// Think runs a chat turn against the reasoning model.
func (c *Controller) Think(text string) {
	c.post(func() { c.submit(prompt.TaskChat, kindReasoning, text, nil) })
}

// Ask submits text as a chat turn and waits for the complete reply.
func (c *Controller) Ask(ctx context.Context, text string) (string, error) {
	waiter := make(chan askResult, 1)
	if err := c.call(ctx, func() { c.submit(prompt.TaskChat, kindChat, text, waiter) }); err != nil {
		return "", err
	}
	select {
	case res := <-waiter:
		return res.reply, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-c.stopped:
		select {
		case res := <-waiter:
			return res.reply, res.err
		default:
			return "", ErrStopped
		}
	}
}

// Reset clears the transcript, history, pending input, and all attachments.
func (c *Controller) Reset() {
	c.post(c.reset)
}

// Attach adds files to the pending attachments. Images replace the pending image;
// documents are added once; anything else is ignored.
func (c *Controller) Attach(paths ...string) {
	c.post(func() {
		changed := false
		for _, path := range paths {
			path = filepath.Clean(strings.TrimSpace(path))
			switch prompt.Classify(path) {
			case prompt.KindImage:
				if c.attachments.Image != path {
					c.attachments.Image = path
					changed = true
				}
			case prompt.KindDocument:
				if !slices.Contains(c.attachments.Documents, path) {
					c.attachments.Documents = append(c.attachments.Documents, path)
					changed = true
				}
			default:
				c.logger.Debug("unsupported attachment ignored", "path", path)
			}
		}
		if changed {
			c.presenter.OnAttachments(c.attachments.clone())
		}
	})
}

// RemoveAttachment drops one pending document or the pending image.
func (c *Controller) RemoveAttachment(path string) {
	c.post(func() {
		path = filepath.Clean(strings.TrimSpace(path))
		changed := false
		if c.attachments.Image == path {
			c.attachments.Image = ""
			changed = true
		}
		if i := slices.Index(c.attachments.Documents, path); i >= 0 {
			c.attachments.Documents = slices.Delete(c.attachments.Documents, i, i+1)
			changed = true
		}
		if changed {
			c.presenter.OnAttachments(c.attachments.clone())
		}
	})
}

// ClearAttachments drops every pending attachment.
func (c *Controller) ClearAttachments() {
	c.post(func() {
		if c.attachments.Empty() {
			return
		}
		c.attachments = AttachmentSet{}
		c.presenter.OnAttachments(AttachmentSet{})
	})
}

func (c *Controller) submit(task prompt.Task, kind requestKind, text string, waiter chan askResult) {
	input := joinInput(c.draft, text)
	c.draft = ""

	if prompt.IsReset(input) {
		c.reset()
		if waiter != nil {
			waiter <- askResult{err: ErrNoInput}
		}
		return
	}
	if strings.TrimSpace(input) == "" {
		if waiter != nil {
			waiter <- askResult{err: ErrNoInput}
		}
		return
	}

	c.abandon()
	if task != prompt.TaskChat {
		c.clearConversation()
	}

	built, err := prompt.Build(task, input)
	if err != nil {
		c.presenter.OnInferenceError(err.Error())
		if waiter != nil {
			waiter <- askResult{err: err}
		}
		return
	}

	req := inference.Request{
		Prompt:     built,
		Query:      input,
		Generation: c.settings.Generation,
		RAG:        c.settings.RAG,
	}
	user := Turn{Role: RoleUser, Task: task, Text: input}

	switch {
	case c.attachments.Image != "":
		req.Model = c.resolve(c.settings.MultimodalModel)
		req.ImagePath = c.attachments.Image
		user.Image = c.attachments.Image
		c.attachments.Image = ""
		c.presenter.OnAttachments(c.attachments.clone())
	case kind == kindReasoning:
		req.Model = c.resolve(c.settings.TextReasoningModel)
		req.Documents = append([]string(nil), c.attachments.Documents...)
		user.Documents = req.Documents
	default:
		req.Model = c.resolve(c.settings.TextModel)
		req.Documents = append([]string(nil), c.attachments.Documents...)
		user.Documents = req.Documents
	}

	c.generation++
	gen := c.generation
	c.inFlight = true
	c.historyMark = len(c.worker.History())
	c.reply.Reset()
	if waiter != nil {
		c.waiters[gen] = waiter
	}

	c.transcript = append(c.transcript, user)
	c.presenter.OnTurn(user)

	sink := inference.SinkFuncs{
		OnChunk:    func(chunk string) { c.post(func() { c.onChunk(gen, chunk) }) },
		OnComplete: func() { c.post(func() { c.onComplete(gen) }) },
		OnFail:     func(err error) { c.post(func() { c.onFail(gen, err) }) },
	}
	if err := c.worker.Start(c.ctx, req, sink); err != nil {
		c.onFail(gen, fmt.Errorf("start inference: %w", err))
		return
	}
	c.logger.Info("inference dispatched",
		"generation", gen,
		"task", string(task),
		"model", req.Model,
		"image", req.ImagePath != "",
		"documents", len(req.Documents),
	)
}

// abandon retires the in-flight request, if any. The worker is cancelled and replaced
// by a fork cut back to the history it had at dispatch, so a run that finished before
// its completion was drained does not leave an unseen reply in the model history.
// Late callbacks fail the generation check.
func (c *Controller) abandon() {
	if !c.inFlight {
		return
	}
	c.inFlight = false

	if partial := c.reply.String(); partial != "" {
		turn := Turn{Role: RoleAssistant, Text: partial, Interrupted: true}
		c.transcript = append(c.transcript, turn)
		c.presenter.OnTurn(turn)
	}
	c.resolveWaiter(c.generation, askResult{err: ErrSuperseded})

	c.worker.Cancel()
	c.worker = c.worker.ForkAt(c.historyMark)
	c.logger.Info("inference abandoned", "generation", c.generation, "history", c.historyMark)
}

func (c *Controller) onChunk(gen uint64, chunk string) {
	if gen != c.generation || !c.inFlight {
		return
	}
	c.reply.WriteString(chunk)
	c.presenter.OnChunk(chunk)
}

func (c *Controller) onComplete(gen uint64) {
	if gen != c.generation || !c.inFlight {
		return
	}
	c.inFlight = false
	reply := c.reply.String()
	turn := Turn{Role: RoleAssistant, Text: reply}
	c.transcript = append(c.transcript, turn)
	c.presenter.OnComplete()
	c.resolveWaiter(gen, askResult{reply: reply})
}

func (c *Controller) onFail(gen uint64, err error) {
	if gen != c.generation || !c.inFlight {
		return
	}
	c.inFlight = false
	c.logger.Error("inference failed", "generation", gen, "error", err)
	c.presenter.OnInferenceError(err.Error())
	if c.notifier != nil {
		c.notifier.ShowError(c.ctx, "Assistant request failed")
	}
	c.resolveWaiter(gen, askResult{err: err})
}

func (c *Controller) resolveWaiter(gen uint64, res askResult) {
	waiter, ok := c.waiters[gen]
	if !ok {
		return
	}
	delete(c.waiters, gen)
	waiter <- res
}

func (c *Controller) reset() {
	c.abandon()
	c.draft = ""
	c.clearConversation()
	if !c.attachments.Empty() {
		c.attachments = AttachmentSet{}
		c.presenter.OnAttachments(AttachmentSet{})
	}
}

// clearConversation drops the transcript, the last reply, and model history.
func (c *Controller) clearConversation() {
	c.transcript = nil
	c.reply.Reset()
	if err := c.worker.ClearHistory(); err != nil {
		c.logger.Warn("clear history failed", "error", err)
	}
	c.presenter.OnCleared()
}

func (c *Controller) resolve(id string) string {
	if c.models == nil {
		return id
	}
	return c.models.Resolve(id)
}

// joinInput appends text to the pending input on a new line.
func joinInput(draft, text string) string {
	switch {
	case strings.TrimSpace(draft) == "":
		return text
	case strings.TrimSpace(text) == "":
		return draft
	default:
		return draft + "\n" + text
	}
}
