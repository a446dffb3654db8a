// Package ipc carries newline-delimited JSON commands between parley clients and the
// owner process over a unix socket.
package ipc

// Commands understood by the owner process.
const (
	CommandStatus = "status"
	CommandToggle = "toggle"
	CommandListen = "listen"
	CommandAsk    = "ask"
	CommandQuit   = "quit"
)

// Request is one client command. Text carries the prompt for CommandAsk.
type Request struct {
	ID      string `json:"id,omitempty"`
	Command string `json:"command"`
	Text    string `json:"text,omitempty"`
}

// Response answers one Request and echoes its ID. Reply carries the assistant's
// answer for CommandAsk.
type Response struct {
	ID      string `json:"id,omitempty"`
	OK      bool   `json:"ok"`
	State   string `json:"state,omitempty"`
	Message string `json:"message,omitempty"`
	Reply   string `json:"reply,omitempty"`
	Error   string `json:"error,omitempty"`
}
