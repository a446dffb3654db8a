// Package hypr wraps the hyprctl commands parley uses: global binds, notifications,
// and monitor/version queries.
package hypr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Available reports whether a Hyprland session and hyprctl binary are present.
func Available() bool {
	if strings.TrimSpace(os.Getenv("HYPRLAND_INSTANCE_SIGNATURE")) == "" {
		return false
	}
	_, err := exec.LookPath("hyprctl")
	return err == nil
}

// Bind registers a global bind that runs command. mods uses Hyprland modifier
// names (for example "SUPER SHIFT"); key is a Hyprland key name.
func Bind(ctx context.Context, mods string, key string, command string) error {
	key = strings.TrimSpace(key)
	command = strings.TrimSpace(command)
	if key == "" {
		return errors.New("bind key must not be empty")
	}
	if command == "" {
		return errors.New("bind command must not be empty")
	}
	return runHyprctl(ctx, "--quiet", "keyword", "bind", fmt.Sprintf("%s, %s, exec, %s", strings.TrimSpace(mods), key, command))
}

// Unbind removes a global bind registered with Bind.
func Unbind(ctx context.Context, mods string, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("unbind key must not be empty")
	}
	return runHyprctl(ctx, "--quiet", "keyword", "unbind", fmt.Sprintf("%s, %s", strings.TrimSpace(mods), key))
}

func runHyprctl(ctx context.Context, args ...string) error {
	_, err := runHyprctlOutput(ctx, args...)
	return err
}

func runHyprctlOutput(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "hyprctl", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		trimmed := strings.TrimSpace(string(out))
		if trimmed == "" {
			return nil, fmt.Errorf("hyprctl %v failed: %w", args, err)
		}
		return nil, fmt.Errorf("hyprctl %v failed: %w (%s)", args, err, trimmed)
	}
	return out, nil
}
