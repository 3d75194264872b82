// Package guidance filters inline direction out of assistant text before it
// reaches synthesis. The conversation model receives coaching lines such as
// "[GOODBYE] wrap up warmly" and occasionally echoes them, or wraps private
// reasoning in <guidance>…</guidance> blocks. None of that may ever be
// spoken aloud.
package guidance

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"github.com/agewell-labs/donna/internal/pipeline"
)

const (
	openTag  = "<guidance>"
	closeTag = "</guidance>"

	// maxDirectiveHold bounds how much trailing text is withheld while an
	// unclosed [DIRECTIVE looks like it may still complete in the next chunk.
	maxDirectiveHold = 32
)

// directivePattern matches complete bracketed stage directions: [GOODBYE],
// [DAILY LIVING], [RE-ENGAGE] and the like.
var directivePattern = regexp.MustCompile(`\[[A-Z][A-Z0-9 \-]*\]`)

// Stripper is a streaming text filter. Because tags and directives arrive
// split across model chunks, it withholds any trailing fragment that could
// still become one and releases or drops it once the ambiguity resolves.
// Text inside an open <guidance> block is swallowed until the close tag
// arrives; a block still open at a response boundary is dropped outright.
//
// All state is touched only from the pipeline dispatch goroutine.
type Stripper struct {
	buf        string
	inGuidance bool
	lastSpace  bool
}

var _ pipeline.Processor = (*Stripper)(nil)

// NewStripper returns a fresh filter. One per call; it carries per-response
// state between chunks.
func NewStripper() *Stripper {
	return &Stripper{lastSpace: true}
}

// Name implements [pipeline.Processor].
func (g *Stripper) Name() string { return "guidance" }

// Process implements [pipeline.Processor].
func (g *Stripper) Process(ctx context.Context, frame pipeline.Frame, dir pipeline.Direction, out *pipeline.Emitter) error {
	if dir != pipeline.Downstream {
		out.Forward(frame, dir)
		return nil
	}
	switch f := frame.(type) {
	case pipeline.TextFrame:
		g.feed(f.Text, out)
		return nil
	case pipeline.ResponseStartFrame:
		g.reset()
	case pipeline.ResponseEndFrame, pipeline.EndFrame:
		// Whatever is still withheld is an unterminated tag or directive
		// fragment, not speech.
		g.reset()
	case pipeline.InterruptFrame:
		// Barge-in: abandon the in-flight response.
		g.reset()
	}
	out.Forward(frame, dir)
	return nil
}

func (g *Stripper) reset() {
	g.buf = ""
	g.inGuidance = false
	g.lastSpace = true
}

// feed appends one chunk, consumes everything that is unambiguous, and
// emits the cleaned result.
func (g *Stripper) feed(text string, out *pipeline.Emitter) {
	g.buf += text
	var emit strings.Builder
	for {
		if g.inGuidance {
			if j := strings.Index(strings.ToLower(g.buf), closeTag); j >= 0 {
				g.buf = g.buf[j+len(closeTag):]
				g.inGuidance = false
				continue
			}
			// Swallow the guidance content, keeping only a possible start
			// of the close tag.
			g.buf = g.buf[len(g.buf)-tagPrefixLen(g.buf, closeTag):]
			break
		}
		if i := strings.Index(strings.ToLower(g.buf), openTag); i >= 0 {
			emit.WriteString(g.buf[:i])
			g.buf = g.buf[i+len(openTag):]
			g.inGuidance = true
			continue
		}
		hold := tagPrefixLen(g.buf, openTag)
		if b := bracketCandidateLen(g.buf); b > hold {
			hold = b
		}
		emit.WriteString(g.buf[:len(g.buf)-hold])
		g.buf = g.buf[len(g.buf)-hold:]
		break
	}
	if cleaned := g.clean(emit.String()); strings.TrimSpace(cleaned) != "" {
		out.Downstream(pipeline.TextFrame{Text: cleaned})
	}
}

// clean removes complete bracketed directives and collapses whitespace runs
// to single spaces, carrying the run state across chunk boundaries.
func (g *Stripper) clean(text string) string {
	text = directivePattern.ReplaceAllString(text, "")
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !g.lastSpace {
				b.WriteByte(' ')
				g.lastSpace = true
			}
			continue
		}
		b.WriteRune(r)
		g.lastSpace = false
	}
	return b.String()
}

// tagPrefixLen reports the length of the longest strict suffix of s that is
// a case-insensitive prefix of tag.
func tagPrefixLen(s, tag string) int {
	max := len(tag) - 1
	if len(s) < max {
		max = len(s)
	}
	for k := max; k > 0; k-- {
		if strings.EqualFold(s[len(s)-k:], tag[:k]) {
			return k
		}
	}
	return 0
}

// bracketCandidateLen reports the length of a trailing unclosed directive
// fragment like "[GOO", or 0 when the tail cannot become one.
func bracketCandidateLen(s string) int {
	i := strings.LastIndexByte(s, '[')
	if i < 0 || len(s)-i > maxDirectiveHold {
		return 0
	}
	for _, r := range s[i+1:] {
		if !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == ' ' || r == '-') {
			return 0
		}
	}
	return len(s) - i
}
