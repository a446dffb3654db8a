package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Parse overlays a JSON (or JSONC) settings document onto base.
//
// Keys missing from the document keep their base value. Unknown keys are reported as
// warnings and otherwise ignored.
func Parse(content string, base Settings) (Settings, []Warning, error) {
	if strings.TrimSpace(content) == "" {
		return base, nil, nil
	}

	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Settings{}, nil, err
	}

	warnings := make([]Warning, 0)
	settings := base.Clone()
	if err := decodeInto(normalized, &settings, true); err != nil {
		var unknown unknownFieldError
		if !errors.As(err, &unknown) {
			return Settings{}, nil, err
		}
		warnings = append(warnings, Warning{Line: unknown.line, Message: fmt.Sprintf("ignoring unknown key %s", unknown.field)})

		settings = base.Clone()
		if err := decodeInto(normalized, &settings, false); err != nil {
			return Settings{}, nil, err
		}
	}

	return settings, warnings, nil
}

type unknownFieldError struct {
	field string
	line  int
}

func (e unknownFieldError) Error() string {
	return fmt.Sprintf("line %d: unknown field %s", e.line, e.field)
}

func decodeInto(content string, target *Settings, strict bool) error {
	decoder := json.NewDecoder(strings.NewReader(content))
	if strict {
		decoder.DisallowUnknownFields()
	}

	if err := decoder.Decode(target); err != nil {
		if field, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
			line, _ := offsetToLineCol(content, decoder.InputOffset())
			return unknownFieldError{field: field, line: line}
		}
		return wrapJSONDecodeError(content, err)
	}
	return wrapJSONDecodeError(content, ensureSingleJSONValue(decoder))
}

// normalizeJSONC blanks out comments and drops trailing commas so encoding/json can
// decode the result. Byte offsets are preserved for line/column reporting.
func normalizeJSONC(content string) (string, error) {
	withoutComments, err := stripJSONCComments(content)
	if err != nil {
		return "", err
	}
	return stripJSONCTrailingCommas(withoutComments), nil
}

// jsonString tracks whether a scanner is inside a JSON string literal.
type jsonString struct {
	open   bool
	escape bool
}

// step consumes ch and reports whether it belonged to a string literal.
func (s *jsonString) step(ch byte) bool {
	if s.open {
		switch {
		case s.escape:
			s.escape = false
		case ch == '\\':
			s.escape = true
		case ch == '"':
			s.open = false
		}
		return true
	}
	if ch == '"' {
		s.open = true
		return true
	}
	return false
}

func stripJSONCComments(content string) (string, error) {
	var (
		out   bytes.Buffer
		str   jsonString
		line  bool
		block bool
	)
	out.Grow(len(content))

	for i := 0; i < len(content); i++ {
		ch := content[i]

		switch {
		case line:
			if ch == '\n' || ch == '\r' {
				line = false
				out.WriteByte(ch)
			} else {
				out.WriteByte(' ')
			}
		case block:
			if ch == '*' && i+1 < len(content) && content[i+1] == '/' {
				block = false
				out.WriteString("  ")
				i++
			} else if ch == '\n' || ch == '\r' || ch == '\t' {
				out.WriteByte(ch)
			} else {
				out.WriteByte(' ')
			}
		case str.step(ch):
			out.WriteByte(ch)
		case ch == '/' && i+1 < len(content) && (content[i+1] == '/' || content[i+1] == '*'):
			line = content[i+1] == '/'
			block = !line
			out.WriteString("  ")
			i++
		default:
			out.WriteByte(ch)
		}
	}

	if block {
		return "", fmt.Errorf("unterminated block comment in JSONC")
	}
	return out.String(), nil
}

func stripJSONCTrailingCommas(content string) string {
	var (
		out bytes.Buffer
		str jsonString
	)
	out.Grow(len(content))

	for i := 0; i < len(content); i++ {
		ch := content[i]
		if !str.step(ch) && ch == ',' {
			next := strings.TrimLeft(content[i+1:], " \t\r\n")
			if next != "" && (next[0] == '}' || next[0] == ']') {
				// keep offsets stable for later error positions
				out.WriteByte(' ')
				continue
			}
		}
		out.WriteByte(ch)
	}
	return out.String()
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra json.RawMessage
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return fmt.Errorf("multiple JSON values are not allowed")
	}
	return err
}

func wrapJSONDecodeError(content string, err error) error {
	if err == nil {
		return nil
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := offsetToLineCol(content, syntaxErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := offsetToLineCol(content, typeErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	return err
}

func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}

	limit := min(int(offset), len(content))
	line, col := 1, 1
	for i := 0; i < limit-1; i++ {
		if content[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
