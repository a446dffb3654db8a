// Package output copies assistant responses to the system clipboard.
package output

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/rbright/parley/internal/config"
)

// ErrNothingToCopy is returned when there is no response text to copy.
var ErrNothingToCopy = errors.New("nothing to copy")

const clipboardTimeout = 2 * time.Second

// Clipboard writes text either through a configured command or the native
// clipboard helpers.
type Clipboard struct {
	argv   []string
	logger *slog.Logger

	native func(string) error
}

// NewClipboard builds a clipboard writer from the clipboard_cmd setting. An empty
// command selects the native clipboard.
func NewClipboard(command string, logger *slog.Logger) (*Clipboard, error) {
	argv, err := config.ParseArgv(command)
	if err != nil {
		return nil, fmt.Errorf("parse clipboard_cmd: %w", err)
	}
	return &Clipboard{argv: argv, logger: logger, native: clipboard.WriteAll}, nil
}

// Copy places text on the clipboard. Whitespace-only text is rejected with
// ErrNothingToCopy.
func (c *Clipboard) Copy(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrNothingToCopy
	}

	if len(c.argv) == 0 {
		if err := c.native(text); err != nil {
			return fmt.Errorf("set clipboard: %w", err)
		}
		c.logCopy("native", len(text))
		return nil
	}

	runCtx, cancel := context.WithTimeout(ctx, clipboardTimeout)
	defer cancel()
	if err := runCommandWithInput(runCtx, c.argv, text); err != nil {
		return fmt.Errorf("set clipboard: %w", err)
	}
	c.logCopy(c.argv[0], len(text))
	return nil
}

// runCommandWithInput executes argv and writes input to stdin.
func runCommandWithInput(ctx context.Context, argv []string, input string) error {
	if len(argv) == 0 {
		return fmt.Errorf("command argv cannot be empty")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open stdin for %s: %w", argv[0], err)
	}

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return fmt.Errorf("start command %s: %w", argv[0], err)
	}

	if input != "" {
		if _, err := stdin.Write([]byte(input)); err != nil {
			_ = stdin.Close()
			_ = cmd.Wait()
			return fmt.Errorf("write stdin for %s: %w", argv[0], err)
		}
	}
	_ = stdin.Close()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("wait for %s: %w", argv[0], err)
	}
	return nil
}

func (c *Clipboard) logCopy(via string, size int) {
	if c.logger == nil {
		return
	}
	c.logger.Debug("response copied to clipboard", "via", via, "bytes", size)
}
