package hotkey

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rbright/parley/internal/config"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input     string
		canonical string
		hyprMods  string
		hyprKey   string
	}{
		{input: "<cmd>+<shift>+<space>", canonical: "<cmd>+<shift>+<space>", hyprMods: "SUPER SHIFT", hyprKey: "space"},
		{input: " <Shift_L> + <ctrl_r> + k ", canonical: "<ctrl>+<shift>+k", hyprMods: "CTRL SHIFT", hyprKey: "k"},
		{input: "<alt>+<f12>", canonical: "<alt>+<f12>", hyprMods: "ALT", hyprKey: "F12"},
		{input: "<ctrl>+/", canonical: "<ctrl>+/", hyprMods: "CTRL", hyprKey: "slash"},
		{input: "<page_up>", canonical: "<page_up>", hyprMods: "", hyprKey: "Prior"},
		{input: "<cmd>+<enter>", canonical: "<cmd>+<enter>", hyprMods: "SUPER", hyprKey: "Return"},
	}
	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			combo, err := Parse(tc.input)
			require.NoError(t, err)
			require.Equal(t, tc.canonical, combo.String())

			mods, key := combo.Hyprland()
			require.Equal(t, tc.hyprMods, mods)
			require.Equal(t, tc.hyprKey, key)

			again, err := Parse(combo.String())
			require.NoError(t, err)
			require.Equal(t, combo, again)
		})
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		input  string
		reason string
	}{
		{input: "", reason: "empty shortcut"},
		{input: "<cmd>+<shift>", reason: "no key"},
		{input: "<cmd>++a", reason: "empty token"},
		{input: "<ctrl>+<ctrl_l>+a", reason: "duplicate modifier"},
		{input: "<ctrl>+a+b", reason: "more than one key"},
		{input: "<ctrl>+space", reason: "angle brackets"},
		{input: "<ctrl>+<hyper>", reason: "unknown key <hyper>"},
		{input: "<ctrl>+<f25>", reason: "unknown key <f25>"},
		{input: "<ctrl>+é", reason: "unsupported key"},
	}
	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			_, err := Parse(tc.input)
			var parseErr *ParseError
			require.ErrorAs(t, err, &parseErr)
			require.Equal(t, tc.input, parseErr.Input)
			require.Contains(t, parseErr.Error(), tc.reason)
		})
	}
}

func TestParseOrDefaultFallsBack(t *testing.T) {
	combo, err := ParseOrDefault("<ctrl>+")
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	require.Equal(t, config.DefaultLaunchShortcut, combo.String())

	combo, err = ParseOrDefault("<alt>+x")
	require.NoError(t, err)
	require.Equal(t, "<alt>+x", combo.String())
}

func TestListenerBindToggleStop(t *testing.T) {
	binder := &fakeBinder{}
	toggles := 0
	l, err := NewListener("<cmd>+<shift>+<space>", "parley toggle", binder, func() { toggles++ }, nil)
	require.NoError(t, err)

	l.Start(context.Background())
	l.Start(context.Background())
	require.Equal(t, []string{"bind SUPER SHIFT|space|parley toggle"}, binder.calls)

	l.Toggle()
	l.Toggle()
	require.Equal(t, 2, toggles)

	l.Stop(context.Background())
	l.Stop(context.Background())
	require.Equal(t, []string{
		"bind SUPER SHIFT|space|parley toggle",
		"unbind SUPER SHIFT|space",
	}, binder.calls)

	l.Toggle()
	require.Equal(t, 2, toggles)
}

func TestListenerBindFailureStillAcceptsToggles(t *testing.T) {
	binder := &fakeBinder{bindErr: errors.New("no hyprland")}
	toggled := false
	l, err := NewListener("<ctrl>+k", "parley toggle", binder, func() { toggled = true }, nil)
	require.NoError(t, err)

	l.Start(context.Background())
	l.Toggle()
	require.True(t, toggled)

	l.Stop(context.Background())
	require.Len(t, binder.calls, 1)
}

func TestNewListenerRejectsInvalidShortcut(t *testing.T) {
	_, err := NewListener("<ctrl>", "parley toggle", nil, nil, nil)
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
}

type fakeBinder struct {
	bindErr error
	calls   []string
}

func (f *fakeBinder) Bind(_ context.Context, mods string, key string, command string) error {
	f.calls = append(f.calls, "bind "+mods+"|"+key+"|"+command)
	return f.bindErr
}

func (f *fakeBinder) Unbind(_ context.Context, mods string, key string) error {
	f.calls = append(f.calls, "unbind "+mods+"|"+key)
	return nil
}
