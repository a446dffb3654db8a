package config

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeJSONCRemovesCommentsAndTrailingCommas(t *testing.T) {
	input := `
{
  // line comment
  "speech": {
    "wake_phrases": [
      "hey llama", /* block comment */
      "computer",
    ],
  },
}
`

	normalized, err := normalizeJSONC(input)
	require.NoError(t, err)
	require.NotContains(t, normalized, "//")
	require.NotContains(t, normalized, "/*")
	require.True(t, json.Valid([]byte(normalized)), normalized)
	require.Len(t, normalized, len(input))
}

func TestNormalizeJSONCRetainsCommentLikeTextInsideStrings(t *testing.T) {
	input := `{"value":"contains // and /* comment-like */ text, ]",}`
	normalized, err := normalizeJSONC(input)
	require.NoError(t, err)
	require.Contains(t, normalized, "// and /* comment-like */ text, ]")
}

func TestNormalizeJSONCUnterminatedBlockCommentFails(t *testing.T) {
	_, err := normalizeJSONC("{ /* unterminated ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unterminated block comment")
}

func TestEnsureSingleJSONValueRejectsExtraPayload(t *testing.T) {
	decoder := json.NewDecoder(strings.NewReader(`{"one":1}{"two":2}`))
	var payload map[string]any
	require.NoError(t, decoder.Decode(&payload))

	err := ensureSingleJSONValue(decoder)
	require.Error(t, err)
	require.Contains(t, err.Error(), "multiple JSON values")
}

func TestOffsetToLineCol(t *testing.T) {
	content := "line1\nline2\nline3"
	line, col := offsetToLineCol(content, 1)
	require.Equal(t, 1, line)
	require.Equal(t, 1, col)

	line, col = offsetToLineCol(content, 8) // line2, col2
	require.Equal(t, 2, line)
	require.Equal(t, 2, col)

	line, col = offsetToLineCol(content, 999)
	require.Equal(t, 3, line)
	require.Equal(t, 5, col)
}

func TestParseMissingKeysKeepDefaults(t *testing.T) {
	settings, warnings, err := Parse(`{
  "transparency": 50,
  "generation": {"temperature": 0.2}
}`, Default())
	require.NoError(t, err)
	require.Empty(t, warnings)

	want := Default()
	want.Transparency = 50
	want.Generation.Temperature = 0.2
	require.Equal(t, want, settings)
}

func TestParseUnknownKeyIsWarning(t *testing.T) {
	settings, warnings, err := Parse(`{
  "color": "#000000",
  "window_width": 640
}`, Default())
	require.NoError(t, err)
	require.Equal(t, "#000000", settings.Color)
	require.Len(t, warnings, 1)
	require.Contains(t, warnings[0].Message, "window_width")
}

func TestParseDoesNotMutateBase(t *testing.T) {
	base := Default()
	_, _, err := Parse(`{"speech":{"wake_phrases":["computer"]}}`, base)
	require.NoError(t, err)
	require.Equal(t, []string{"hey llama"}, base.Speech.WakePhrases)
}

func TestParseEmptyContentReturnsBase(t *testing.T) {
	settings, warnings, err := Parse("  \n", Default())
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Equal(t, Default(), settings)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "not json", content: `shortcut = <cmd>`, wantErr: "line 1"},
		{name: "type error", content: "{\n  \"transparency\": \"high\"\n}", wantErr: "line 2"},
		{name: "multiple values", content: `{"color":"#000000"}{"color":"#FFFFFF"}`, wantErr: "multiple JSON values"},
		{name: "array document", content: `[1, 2]`, wantErr: "cannot unmarshal"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Parse(tc.content, Default())
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
