package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"
)

// ErrParse marks model output that could not be decoded.
var ErrParse = errors.New("unparseable model output")

// DecodeJSON decodes model output into out, trying in order:
//  1. the text inside the first code fence (or the whole text), as strict JSON;
//  2. the same text after Repair (comments, Python literals, single quotes, trailing commas);
//  3. the outermost [...] or {...} span of the repaired text.
//
// Numbers decode as json.Number. Trailing data after the value is a failure, so a
// truncated or partial completion never decodes.
func DecodeJSON(content string, out any) error {
	text := StripCodeFence(content)
	err := decodeStrict(text, out)
	if err == nil {
		return nil
	}
	repaired := Repair(text)
	if err2 := decodeStrict(repaired, out); err2 == nil {
		return nil
	}
	if span, ok := outermost(repaired); ok && span != repaired {
		if err3 := decodeStrict(span, out); err3 == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: %v", ErrParse, err)
}

func decodeStrict(text string, out any) error {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return err
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); err != io.EOF {
		return errors.New("trailing data after JSON value")
	}
	return nil
}

// StripCodeFence returns the body of the first ``` fence, or the trimmed text when there is none.
func StripCodeFence(content string) string {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "```")
	if start == -1 {
		return trimmed
	}
	rest := trimmed[start+3:]
	if idx := strings.Index(rest, "\n"); idx != -1 {
		rest = rest[idx+1:]
	} else {
		rest = ""
	}
	if end := strings.Index(rest, "```"); end != -1 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

var pyLiterals = map[string]string{"True": "true", "False": "false", "None": "null"}

// Repair rewrites near-JSON into JSON without touching string contents: it drops
// // and # comments, converts single-quoted strings, maps True/False/None and
// removes trailing commas.
func Repair(s string) string {
	var b bytes.Buffer
	rs := []rune(s)
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		switch {
		case r == '"' || r == '\'':
			i = copyString(&b, rs, i)
		case r == '/' && i+1 < len(rs) && rs[i+1] == '/', r == '#':
			for i < len(rs) && rs[i] != '\n' {
				i++
			}
			if i < len(rs) {
				b.WriteRune('\n')
			}
		case r == ']' || r == '}':
			dropTrailingComma(&b)
			b.WriteRune(r)
		case unicode.IsLetter(r) || r == '_':
			j := i
			for j < len(rs) && (unicode.IsLetter(rs[j]) || unicode.IsDigit(rs[j]) || rs[j] == '_') {
				j++
			}
			word := string(rs[i:j])
			if lit, ok := pyLiterals[word]; ok {
				word = lit
			}
			b.WriteString(word)
			i = j - 1
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// copyString writes the string literal starting at rs[i] as a double-quoted JSON
// string and returns the index of its closing quote.
func copyString(b *bytes.Buffer, rs []rune, i int) int {
	quote := rs[i]
	b.WriteRune('"')
	for i++; i < len(rs); i++ {
		r := rs[i]
		switch {
		case r == '\\' && i+1 < len(rs):
			next := rs[i+1]
			if next == '\'' {
				b.WriteRune('\'')
			} else {
				b.WriteRune('\\')
				b.WriteRune(next)
			}
			i++
		case r == quote:
			b.WriteRune('"')
			return i
		case r == '"':
			b.WriteString(`\"`)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	return i
}

func dropTrailingComma(b *bytes.Buffer) {
	data := b.Bytes()
	j := len(data) - 1
	for j >= 0 && (data[j] == ' ' || data[j] == '\n' || data[j] == '\r' || data[j] == '\t') {
		j--
	}
	if j >= 0 && data[j] == ',' {
		tail := append([]byte(nil), data[j+1:]...)
		b.Truncate(j)
		b.Write(tail)
	}
}

func outermost(s string) (string, bool) {
	start := strings.IndexAny(s, "[{")
	if start == -1 {
		return "", false
	}
	closer := "]"
	if s[start] == '{' {
		closer = "}"
	}
	end := strings.LastIndex(s, closer)
	if end <= start {
		return "", false
	}
	return s[start : end+1], true
}
