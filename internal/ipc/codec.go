package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// maxMessageBytes bounds one framed message. Ask replies are the largest payload.
const maxMessageBytes = 4 << 20

var errMessageTooLarge = errors.New("message exceeds size limit")

// writeMessage encodes v as a single JSON line.
func writeMessage(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

// readMessage reads one newline-terminated JSON line into v. op names the step in
// returned errors.
func readMessage(r *bufio.Reader, v any, op string) error {
	var line []byte
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			return fmt.Errorf("read %s: %w", op, err)
		}
		line = append(line, chunk...)
		if len(line) > maxMessageBytes {
			return fmt.Errorf("read %s: %w", op, errMessageTooLarge)
		}
		if !isPrefix {
			break
		}
	}
	if err := json.Unmarshal(line, v); err != nil {
		return fmt.Errorf("decode %s: %w", op, err)
	}
	return nil
}
