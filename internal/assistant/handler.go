package assistant

import (
	"context"
	"fmt"
	"strings"

	"github.com/rbright/parley/internal/ipc"
)

// Handle serves IPC commands for the owner process.
func (c *Controller) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.CommandStatus:
		snap, err := c.Snapshot(ctx)
		if err != nil {
			return ipc.Response{OK: false, Error: err.Error()}
		}
		return ipc.Response{
			OK:      true,
			State:   snap.State,
			Message: fmt.Sprintf("model=%s turns=%d", snap.Settings.TextModel, len(snap.Transcript)),
		}
	case ipc.CommandToggle:
		c.HotkeyToggle()
		return ipc.Response{OK: true, Message: "toggled"}
	case ipc.CommandListen:
		c.ToggleVoice()
		return ipc.Response{OK: true, Message: "voice input toggled"}
	case ipc.CommandAsk:
		if strings.TrimSpace(req.Text) == "" {
			return ipc.Response{OK: false, Error: "ask needs prompt text"}
		}
		reply, err := c.Ask(ctx, req.Text)
		if err != nil {
			return ipc.Response{OK: false, Error: err.Error()}
		}
		return ipc.Response{OK: true, Reply: reply}
	case ipc.CommandQuit:
		if c.quit == nil {
			return ipc.Response{OK: false, Error: "quit is not supported"}
		}
		c.quit()
		return ipc.Response{OK: true, Message: "quitting"}
	default:
		return ipc.Response{OK: false, Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}
}
