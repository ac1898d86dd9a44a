// ABOUTME: Token flush buffer that cuts streamed generation text into UI-sized chunks
// ABOUTME: Flushes on newline, on a length threshold, or at a sentence end past a minimum length

package flush

import (
	"strings"
	"unicode/utf8"
)

// CRMode selects how carriage returns are normalized before buffering.
type CRMode int

const (
	// CRStrip removes "\r\n" and "\r" entirely.
	CRStrip CRMode = iota
	// CRNewline turns "\r\n" and "\r" into "\n".
	CRNewline
)

// Default thresholds
const (
	DefaultMaxChars         = 160
	DefaultMinSentenceChars = 25
)

// Policy decides when buffered text becomes a token event.
type Policy struct {
	MaxChars         int
	MinSentenceChars int
	CR               CRMode
}

// DefaultPolicy returns the standard thresholds with CR stripping.
func DefaultPolicy() Policy {
	return Policy{
		MaxChars:         DefaultMaxChars,
		MinSentenceChars: DefaultMinSentenceChars,
		CR:               CRStrip,
	}
}

// Buffer accumulates fragments for one generation run. It is not safe for
// concurrent use; each run owns its own Buffer.
type Buffer struct {
	policy Policy
	buf    strings.Builder
}

// NewBuffer returns an empty buffer with the given policy.
func NewBuffer(p Policy) *Buffer {
	return &Buffer{policy: p}
}

// Append adds a fragment. When the buffer should flush, the accumulated text
// is returned with ok set and the buffer is cleared.
func (b *Buffer) Append(fragment string) (chunk string, ok bool) {
	b.buf.WriteString(b.normalize(fragment))

	if !b.shouldFlush(b.buf.String()) {
		return "", false
	}
	chunk = b.buf.String()
	b.buf.Reset()
	return chunk, true
}

// Drain empties the buffer. ok is false when the buffered text was blank, in
// which case nothing should be emitted.
func (b *Buffer) Drain() (chunk string, ok bool) {
	chunk = b.buf.String()
	b.buf.Reset()
	if strings.TrimSpace(chunk) == "" {
		return "", false
	}
	return chunk, true
}

// Discard drops buffered text and reports how many runes were lost.
func (b *Buffer) Discard() int {
	n := b.pending()
	b.buf.Reset()
	return n
}

// pending returns the buffered length in runes.
func (b *Buffer) pending() int {
	return utf8.RuneCountInString(b.buf.String())
}

func (b *Buffer) normalize(s string) string {
	if !strings.ContainsRune(s, '\r') {
		return s
	}
	repl := ""
	if b.policy.CR == CRNewline {
		repl = "\n"
	}
	s = strings.ReplaceAll(s, "\r\n", repl)
	return strings.ReplaceAll(s, "\r", repl)
}

func (b *Buffer) shouldFlush(s string) bool {
	if s == "" {
		return false
	}
	if strings.Contains(s, "\n") {
		return true
	}
	n := utf8.RuneCountInString(s)
	if n >= b.policy.MaxChars {
		return true
	}
	last, _ := utf8.DecodeLastRuneInString(s)
	return isSentenceTerminal(last) && n >= b.policy.MinSentenceChars
}

func isSentenceTerminal(r rune) bool {
	switch r {
	case ' ', '.', '!', '?', '…', 'ฯ', '。', '！', '？':
		return true
	}
	return false
}
