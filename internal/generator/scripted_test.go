// ABOUTME: Tests for the scripted generator and the stream contract
// ABOUTME: Covers intents, the confirm interrupt, resume decisions and cancellation

package generator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/converse-gateway/internal/config"
)

func collect(t *testing.T, s Stream) []Item {
	t.Helper()
	defer s.Close()
	var items []Item
	for s.Next() {
		items = append(items, s.Item())
	}
	require.NoError(t, s.Err())
	return items
}

func joinedText(items []Item) string {
	var b strings.Builder
	for _, it := range items {
		if it.Kind == KindText {
			b.WriteString(it.Text)
		}
	}
	return b.String()
}

func userInfo(id string) map[string]any {
	return map[string]any{"user_id": id}
}

func TestScripted_GeneralEcho(t *testing.T) {
	g := NewScripted()
	s, err := g.Open(context.Background(), Request{ThreadID: "t1", Message: "hello there", UserInfo: userInfo("u1")})
	require.NoError(t, err)

	items := collect(t, s)
	require.Greater(t, len(items), 1, "text streams as several fragments")
	assert.Contains(t, joinedText(items), "You said: hello there.")
	for _, it := range items {
		assert.Equal(t, KindText, it.Kind)
	}
}

func TestScripted_UnusualChargesInterrupts(t *testing.T) {
	g := NewScripted()
	s, err := g.Open(context.Background(), Request{ThreadID: "t1", Message: "unusual charges", UserInfo: userInfo("u1")})
	require.NoError(t, err)

	items := collect(t, s)
	require.NotEmpty(t, items)
	last := items[len(items)-1]
	assert.Equal(t, KindInterrupt, last.Kind)
	assert.Equal(t, LockCardQuestion, last.Question)
	assert.Contains(t, joinedText(items), "investigation")
}

func TestScripted_ResumeYesLocksCard(t *testing.T) {
	g := NewScripted()
	ctx := context.Background()

	s, err := g.Open(ctx, Request{ThreadID: "t1", Message: "please lock my card", UserInfo: userInfo("u1")})
	require.NoError(t, err)
	collect(t, s)

	s, err = g.Open(ctx, Request{ThreadID: "t1", Message: DecisionYes, Resume: true, UserInfo: userInfo("u1")})
	require.NoError(t, err)
	items := collect(t, s)

	require.GreaterOrEqual(t, len(items), 3)
	assert.Equal(t, KindEvent, items[0].Kind)
	assert.Equal(t, "status", items[0].Event["type"])
	assert.Equal(t, KindEvent, items[1].Kind)
	assert.Contains(t, items[1].Event, "case_progress")
	assert.Contains(t, joinedText(items), "Your card is locked")

	// A second lock request finds the card already locked
	s, err = g.Open(ctx, Request{ThreadID: "t1", Message: "lock it again", UserInfo: userInfo("u1")})
	require.NoError(t, err)
	items = collect(t, s)
	assert.Equal(t, alreadyLockedText, joinedText(items))
}

func TestScripted_ResumeNoDeclines(t *testing.T) {
	g := NewScripted()
	ctx := context.Background()

	s, err := g.Open(ctx, Request{ThreadID: "t1", Message: "lock card", UserInfo: userInfo("u1")})
	require.NoError(t, err)
	collect(t, s)

	s, err = g.Open(ctx, Request{ThreadID: "t1", Message: DecisionNo, Resume: true, UserInfo: userInfo("u1")})
	require.NoError(t, err)
	assert.Equal(t, declineText, joinedText(collect(t, s)))
}

func TestScripted_ResumeWithoutPausedRun(t *testing.T) {
	g := NewScripted()
	_, err := g.Open(context.Background(), Request{ThreadID: "t1", Message: DecisionYes, Resume: true})
	assert.Error(t, err)
}

func TestScripted_InterruptNotReachedLeavesNothingPaused(t *testing.T) {
	g := NewScripted()
	ctx, cancel := context.WithCancel(context.Background())

	s, err := g.Open(ctx, Request{ThreadID: "t1", Message: "unusual charges"})
	require.NoError(t, err)
	require.True(t, s.Next())
	cancel()
	assert.False(t, s.Next())
	assert.ErrorIs(t, s.Err(), context.Canceled)
	s.Close()

	_, err = g.Open(context.Background(), Request{ThreadID: "t1", Message: DecisionYes, Resume: true})
	assert.Error(t, err)
}

func TestScripted_NeedCallStatus(t *testing.T) {
	g := NewScripted()
	s, err := g.Open(context.Background(), Request{ThreadID: "t1", Message: "can I talk to an agent"})
	require.NoError(t, err)

	items := collect(t, s)
	require.Len(t, items, 1)
	assert.Equal(t, KindEvent, items[0].Kind)
	assert.Equal(t, map[string]any{"status": StatusConnecting}, items[0].Event["payload"])
}

func TestSliceStream_CancelCauseDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	s := newSliceStream(ctx, []Item{Text("a"), Text("b")}, time.Hour, nil)

	stop := errors.New("stopped by user")
	cancel(stop)

	assert.False(t, s.Next())
	assert.ErrorIs(t, s.Err(), stop)
}

func TestSliceStream_CloseEndsIteration(t *testing.T) {
	s := newSliceStream(context.Background(), []Item{Text("a"), Text("b")}, 0, nil)
	require.True(t, s.Next())
	require.NoError(t, s.Close())
	assert.False(t, s.Next())
	assert.NoError(t, s.Err())
}

func TestFragments(t *testing.T) {
	items := fragments("one two\nthree")
	var texts []string
	for _, it := range items {
		texts = append(texts, it.Text)
	}
	assert.Equal(t, []string{"one ", "two\n", "three"}, texts)
}

func TestNew(t *testing.T) {
	a, err := New(config.GeneratorConfig{Provider: config.ProviderScripted})
	require.NoError(t, err)
	assert.IsType(t, &Scripted{}, a)

	a, err = New(config.GeneratorConfig{Provider: config.ProviderOpenAI, APIKey: "k", Model: "m"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAI{}, a)

	a, err = New(config.GeneratorConfig{Provider: config.ProviderAnthropic, APIKey: "k", Model: "m"})
	require.NoError(t, err)
	assert.IsType(t, &Anthropic{}, a)

	_, err = New(config.GeneratorConfig{Provider: "llama"})
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "text", KindText.String())
	assert.Equal(t, "interrupt", KindInterrupt.String())
	assert.Equal(t, "kind(9)", Kind(9).String())
}
