package director

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseResult decodes a model reply into a [Result]. Strict parse first;
// when that fails the reply is repaired (fences stripped, trailing commas
// removed, unterminated strings closed, open braces and brackets completed)
// and parsed again.
func ParseResult(raw string) (*Result, error) {
	var r Result
	if err := json.Unmarshal([]byte(raw), &r); err == nil {
		normalize(&r)
		return &r, nil
	}
	if err := json.Unmarshal([]byte(Repair(raw)), &r); err != nil {
		return nil, fmt.Errorf("director: unparseable analysis: %w", err)
	}
	normalize(&r)
	return &r, nil
}

func normalize(r *Result) {
	r.Analysis.CallPhase = canon(r.Analysis.CallPhase)
	r.Analysis.EngagementLevel = canon(r.Analysis.EngagementLevel)
	r.Analysis.EmotionalTone = canon(r.Analysis.EmotionalTone)
	r.Course.StayOrShift = canon(r.Course.StayOrShift)
	r.Course.PacingNote = canon(r.Course.PacingNote)
}

func canon(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Repair fixes the JSON damage small models actually produce: markdown
// fences and prose around the object, trailing commas, a string cut off
// mid-value, and unclosed braces or brackets. It never invents content; a
// reply with no object at all still fails to parse afterwards.
func Repair(raw string) string {
	s := sliceToObject(raw)
	out := make([]byte, 0, len(s)+8)
	var stack []byte
	inStr, esc := false, false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inStr {
			out = append(out, c)
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
			out = append(out, c)
		case '{':
			stack = append(stack, '}')
			out = append(out, c)
		case '[':
			stack = append(stack, ']')
			out = append(out, c)
		case '}', ']':
			out = dropTrailingComma(out)
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
				out = append(out, c)
			}
			// A closer that matches nothing is dropped.
			if len(stack) == 0 {
				// Object complete; anything after is fence or prose.
				return string(out)
			}
		default:
			out = append(out, c)
		}
	}

	if inStr {
		out = append(out, '"')
	}
	out = dropTrailingComma(out)
	for i := len(stack) - 1; i >= 0; i-- {
		out = append(out, stack[i])
	}
	return string(out)
}

// sliceToObject cuts leading prose or fencing ahead of the first brace.
func sliceToObject(raw string) string {
	if i := strings.IndexByte(raw, '{'); i >= 0 {
		return raw[i:]
	}
	return strings.TrimSpace(raw)
}

// dropTrailingComma removes a dangling comma (and the whitespace after it)
// so the next closer is legal.
func dropTrailingComma(out []byte) []byte {
	j := len(out)
	for j > 0 {
		switch out[j-1] {
		case ' ', '\t', '\n', '\r':
			j--
			continue
		case ',':
			return out[:j-1]
		}
		break
	}
	return out
}
