// Package hotkey parses key-combination strings and delivers global toggle presses.
package hotkey

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rbright/parley/internal/config"
)

// ParseError reports a shortcut string that does not follow the combo grammar.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid hotkey %q: %s", e.Input, e.Reason)
}

// Modifier is a canonical modifier name without side suffix.
type Modifier string

const (
	ModCmd   Modifier = "cmd"
	ModCtrl  Modifier = "ctrl"
	ModShift Modifier = "shift"
	ModAlt   Modifier = "alt"
)

var modifierOrder = map[Modifier]int{ModCmd: 0, ModCtrl: 1, ModShift: 2, ModAlt: 3}

var hyprModifiers = map[Modifier]string{
	ModCmd:   "SUPER",
	ModCtrl:  "CTRL",
	ModShift: "SHIFT",
	ModAlt:   "ALT",
}

// namedKeys maps bracketed key tokens to Hyprland/xkb key names.
var namedKeys = map[string]string{
	"space":     "space",
	"enter":     "Return",
	"tab":       "Tab",
	"esc":       "Escape",
	"backspace": "BackSpace",
	"delete":    "Delete",
	"insert":    "Insert",
	"home":      "Home",
	"end":       "End",
	"page_up":   "Prior",
	"page_down": "Next",
	"up":        "Up",
	"down":      "Down",
	"left":      "Left",
	"right":     "Right",
	"menu":      "Menu",
	"print":     "Print",
}

var punctuationKeys = map[rune]string{
	',':  "comma",
	'.':  "period",
	'/':  "slash",
	';':  "semicolon",
	'\'': "apostrophe",
	'[':  "bracketleft",
	']':  "bracketright",
	'-':  "minus",
	'=':  "equal",
	'`':  "grave",
	'\\': "backslash",
}

func init() {
	for i := 1; i <= 24; i++ {
		namedKeys[fmt.Sprintf("f%d", i)] = fmt.Sprintf("F%d", i)
	}
}

// Combo is a parsed key combination: zero or more modifiers and exactly one key.
type Combo struct {
	Modifiers []Modifier
	// Key is the canonical token: a named key ("space", "f5") or one printable
	// character.
	Key string
}

// Parse validates shortcut against the combo grammar: "+"-separated tokens where
// modifiers and named keys are in angle brackets and a plain key is one printable
// character.
func Parse(shortcut string) (Combo, error) {
	input := shortcut
	fail := func(format string, args ...any) (Combo, error) {
		return Combo{}, &ParseError{Input: input, Reason: fmt.Sprintf(format, args...)}
	}

	shortcut = strings.TrimSpace(shortcut)
	if shortcut == "" {
		return fail("empty shortcut")
	}

	var combo Combo
	seen := map[Modifier]bool{}
	for _, raw := range strings.Split(shortcut, "+") {
		token := strings.ToLower(strings.TrimSpace(raw))
		if token == "" {
			return fail("empty token")
		}

		if mod, ok := parseModifier(token); ok {
			if seen[mod] {
				return fail("duplicate modifier %s", token)
			}
			seen[mod] = true
			combo.Modifiers = append(combo.Modifiers, mod)
			continue
		}

		key, err := parseKey(token)
		if err != nil {
			return fail("%v", err)
		}
		if combo.Key != "" {
			return fail("more than one key (%s and %s)", combo.Key, key)
		}
		combo.Key = key
	}

	if combo.Key == "" {
		return fail("no key besides modifiers")
	}
	sort.Slice(combo.Modifiers, func(i, j int) bool {
		return modifierOrder[combo.Modifiers[i]] < modifierOrder[combo.Modifiers[j]]
	})
	return combo, nil
}

// ParseOrDefault parses shortcut, falling back to config.DefaultLaunchShortcut. The
// parse error, if any, is returned alongside the fallback combo.
func ParseOrDefault(shortcut string) (Combo, error) {
	combo, err := Parse(shortcut)
	if err == nil {
		return combo, nil
	}
	fallback, _ := Parse(config.DefaultLaunchShortcut)
	return fallback, err
}

func parseModifier(token string) (Modifier, bool) {
	if !strings.HasPrefix(token, "<") || !strings.HasSuffix(token, ">") {
		return "", false
	}
	name := strings.TrimSuffix(strings.TrimSuffix(token[1:len(token)-1], "_l"), "_r")
	switch name {
	case "cmd", "super", "win":
		return ModCmd, true
	case "ctrl":
		return ModCtrl, true
	case "shift":
		return ModShift, true
	case "alt", "alt_gr":
		return ModAlt, true
	}
	return "", false
}

func parseKey(token string) (string, error) {
	if strings.HasPrefix(token, "<") {
		if !strings.HasSuffix(token, ">") || len(token) < 3 {
			return "", fmt.Errorf("malformed key token %s", token)
		}
		name := token[1 : len(token)-1]
		if _, ok := namedKeys[name]; !ok {
			return "", fmt.Errorf("unknown key <%s>", name)
		}
		return name, nil
	}

	runes := []rune(token)
	if len(runes) != 1 {
		return "", fmt.Errorf("unknown key %s (named keys need angle brackets)", token)
	}
	r := runes[0]
	switch {
	case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		return token, nil
	case punctuationKeys[r] != "":
		return token, nil
	}
	return "", fmt.Errorf("unsupported key %q", token)
}

// String renders the combo in canonical grammar form.
func (c Combo) String() string {
	parts := make([]string, 0, len(c.Modifiers)+1)
	for _, mod := range c.Modifiers {
		parts = append(parts, "<"+string(mod)+">")
	}
	if _, named := namedKeys[c.Key]; named {
		parts = append(parts, "<"+c.Key+">")
	} else {
		parts = append(parts, c.Key)
	}
	return strings.Join(parts, "+")
}

// Hyprland returns the modifier list and key name used in a Hyprland bind.
func (c Combo) Hyprland() (mods string, key string) {
	names := make([]string, 0, len(c.Modifiers))
	for _, mod := range c.Modifiers {
		names = append(names, hyprModifiers[mod])
	}
	if name, ok := namedKeys[c.Key]; ok {
		key = name
	} else if name, ok := punctuationKeys[[]rune(c.Key)[0]]; ok {
		key = name
	} else {
		key = c.Key
	}
	return strings.Join(names, " "), key
}
