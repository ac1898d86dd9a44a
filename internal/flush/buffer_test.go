// ABOUTME: Tests for the token flush buffer policy
// ABOUTME: Covers newline, length and sentence rules plus carriage return handling

package flush

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuffer_NewlineThenDrain(t *testing.T) {
	b := NewBuffer(DefaultPolicy())

	_, ok := b.Append("a")
	assert.False(t, ok)

	chunk, ok := b.Append("b\n")
	assert.True(t, ok)
	assert.Equal(t, "ab\n", chunk)

	_, ok = b.Append("c")
	assert.False(t, ok)

	chunk, ok = b.Drain()
	assert.True(t, ok)
	assert.Equal(t, "c", chunk)
}

func TestBuffer_MaxChars(t *testing.T) {
	b := NewBuffer(Policy{MaxChars: 10, MinSentenceChars: 25})

	_, ok := b.Append("abcdefghi")
	assert.False(t, ok)

	chunk, ok := b.Append("j")
	assert.True(t, ok)
	assert.Equal(t, "abcdefghij", chunk)
	assert.Equal(t, 0, b.pending())
}

func TestBuffer_MaxCharsCountsRunes(t *testing.T) {
	b := NewBuffer(Policy{MaxChars: 4, MinSentenceChars: 25})

	_, ok := b.Append("ééé")
	assert.False(t, ok, "three runes are under the threshold even though they are six bytes")

	_, ok = b.Append("é")
	assert.True(t, ok)
}

func TestBuffer_SentenceTerminal(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"short sentence waits", "Hi there.", false},
		{"long sentence flushes", "This sentence is long enough.", true},
		{"long with trailing space flushes", "Twenty five characters or ", true},
		{"long without terminal waits", "This sentence is long enough", false},
		{"ellipsis", "Let me think about that one…", true},
		{"cjk full stop", strings.Repeat("字", 24) + "。", true},
		{"thai terminator", strings.Repeat("ก", 24) + "ฯ", true},
		{"question", "Would you like me to lock it?", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuffer(DefaultPolicy())
			_, ok := b.Append(tt.input)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestBuffer_DrainBlankEmitsNothing(t *testing.T) {
	b := NewBuffer(DefaultPolicy())
	b.Append("   ")

	_, ok := b.Drain()
	assert.False(t, ok)
	assert.Equal(t, 0, b.pending())
}

func TestBuffer_Discard(t *testing.T) {
	b := NewBuffer(DefaultPolicy())
	b.Append("partial")

	assert.Equal(t, 7, b.Discard())
	_, ok := b.Drain()
	assert.False(t, ok)
}

func TestBuffer_CarriageReturns(t *testing.T) {
	strip := NewBuffer(DefaultPolicy())
	_, ok := strip.Append("one\r\ntwo\rthree")
	assert.False(t, ok, "stripped input has no newline")
	chunk, _ := strip.Drain()
	assert.Equal(t, "onetwothree", chunk)

	newline := NewBuffer(Policy{MaxChars: 160, MinSentenceChars: 25, CR: CRNewline})
	chunk, ok = newline.Append("one\r\ntwo\rthree")
	assert.True(t, ok)
	assert.Equal(t, "one\ntwo\nthree", chunk)
}
