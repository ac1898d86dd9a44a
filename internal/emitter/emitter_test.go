// ABOUTME: Tests for event sequencing, persistence and replay
// ABOUTME: Uses a recording sink that can be switched into failure mode

package emitter

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/converse-gateway/internal/envelope"
	"github.com/2389/converse-gateway/internal/replay"
)

var errGone = errors.New("connection gone")

type recordingSink struct {
	mu   sync.Mutex
	got  []envelope.Envelope
	fail bool
}

func (s *recordingSink) Send(_ context.Context, env envelope.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errGone
	}
	s.got = append(s.got, env)
	return nil
}

func (s *recordingSink) setFail(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = v
}

func (s *recordingSink) sequences() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, 0, len(s.got))
	for _, e := range s.got {
		out = append(out, e.Sequence)
	}
	return out
}

type failingStore struct {
	replay.Store
}

func (failingStore) Append(context.Context, string, envelope.Envelope) error {
	return errors.New("store down")
}

func newTestEmitter(store replay.Store) *Emitter {
	return New(Config{ConversationID: "c1", Store: store})
}

func TestEmit_SequencesStartAtOneAndIncrease(t *testing.T) {
	store := replay.NewMemoryStore()
	e := newTestEmitter(store)
	sink := &recordingSink{}
	e.Attach(sink)

	for i := 0; i < 5; i++ {
		_, delivered, err := e.Emit(context.Background(), &envelope.Token{Text: "x"})
		require.NoError(t, err)
		assert.True(t, delivered)
	}

	assert.Equal(t, []int64{1, 2, 3, 4, 5}, sink.sequences())
	assert.Equal(t, int64(5), e.Sequence())

	stored, err := store.Fetch(context.Background(), "c1", 0)
	require.NoError(t, err)
	assert.Len(t, stored, 5)
}

func TestEmit_ConcurrentEmissionsNeverShareSequence(t *testing.T) {
	e := newTestEmitter(replay.NewMemoryStore())
	sink := &recordingSink{}
	e.Attach(sink)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = e.Emit(context.Background(), &envelope.Token{Text: "x"})
		}()
	}
	wg.Wait()

	seqs := sink.sequences()
	require.Len(t, seqs, 50)
	for i, s := range seqs {
		assert.Equal(t, int64(i+1), s, "delivery order matches sequence order")
	}
}

func TestEmit_PersistsWhenDeliveryFails(t *testing.T) {
	store := replay.NewMemoryStore()
	e := newTestEmitter(store)
	sink := &recordingSink{fail: true}
	e.Attach(sink)

	env, delivered, err := e.Emit(context.Background(), &envelope.Token{Text: "lost"})
	require.NoError(t, err)
	assert.False(t, delivered)

	stored, err := store.Fetch(context.Background(), "c1", 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, env.EventID, stored[0].EventID)
}

func TestEmit_WithoutSink(t *testing.T) {
	store := replay.NewMemoryStore()
	e := newTestEmitter(store)

	_, delivered, err := e.Emit(context.Background(), &envelope.Status{Status: "analyzing"})
	require.NoError(t, err)
	assert.False(t, delivered)

	last, err := store.LastSequence(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), last)
}

func TestEmit_StoreFailureStillDelivers(t *testing.T) {
	e := newTestEmitter(failingStore{Store: replay.NewMemoryStore()})
	sink := &recordingSink{}
	e.Attach(sink)

	_, delivered, err := e.Emit(context.Background(), &envelope.Token{Text: "x"})
	require.NoError(t, err)
	assert.True(t, delivered)
	assert.Equal(t, []int64{1}, sink.sequences())
}

func TestEmit_CancelledContextStillEmits(t *testing.T) {
	store := replay.NewMemoryStore()
	e := newTestEmitter(store)
	sink := &recordingSink{}
	e.Attach(sink)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, delivered, err := e.Emit(ctx, &envelope.Status{Status: envelope.StatusStopped})
	require.NoError(t, err)
	assert.True(t, delivered)
}

func TestEmit_StampsUserID(t *testing.T) {
	e := newTestEmitter(nil)
	sink := &recordingSink{}
	e.Attach(sink)

	env, _, err := e.Emit(context.Background(), &envelope.Token{Text: "x"})
	require.NoError(t, err)
	assert.Empty(t, env.UserID)

	e.SetUserID("u1")
	env, _, err = e.Emit(context.Background(), &envelope.Token{Text: "y"})
	require.NoError(t, err)
	assert.Equal(t, "u1", env.UserID)
}

func TestNew_ContinuesFromStartSequence(t *testing.T) {
	e := New(Config{ConversationID: "c1", StartSequence: 7})
	env, _, err := e.Emit(context.Background(), &envelope.Token{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, int64(8), env.Sequence)
}

func TestReplay_AfterForcedDeliveryFailure(t *testing.T) {
	store := replay.NewMemoryStore()
	e := newTestEmitter(store)
	first := &recordingSink{}
	e.Attach(first)

	ctx := context.Background()
	_, _, _ = e.Emit(ctx, &envelope.Token{Text: "1"})
	_, _, _ = e.Emit(ctx, &envelope.Token{Text: "2"})

	// The connection drops; events 3 and 4 never arrive
	first.setFail(true)
	_, delivered, _ := e.Emit(ctx, &envelope.Token{Text: "3"})
	assert.False(t, delivered)
	_, _, _ = e.Emit(ctx, &envelope.Done{Message: envelope.DoneCompleted})

	second := &recordingSink{}
	e.Attach(second)
	sent, err := e.Replay(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, []int64{3, 4}, second.sequences())
}

func TestReplay_SkipsAlreadyDelivered(t *testing.T) {
	e := newTestEmitter(replay.NewMemoryStore())
	sink := &recordingSink{}
	e.Attach(sink)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _, _ = e.Emit(ctx, &envelope.Token{Text: "x"})
	}

	sent, err := e.Replay(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Equal(t, []int64{1, 2, 3}, sink.sequences())
}

func TestReplay_StopsAtFirstFailure(t *testing.T) {
	e := newTestEmitter(replay.NewMemoryStore())
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _, _ = e.Emit(ctx, &envelope.Token{Text: "x"})
	}

	sink := &recordingSink{fail: true}
	e.Attach(sink)
	sent, err := e.Replay(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, sent)

	// Nothing was marked, so a later replay sends everything
	sink.setFail(false)
	sent, err = e.Replay(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, sent)
}

func TestReplay_FullHistoryThenNothing(t *testing.T) {
	e := newTestEmitter(replay.NewMemoryStore())
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, _, _ = e.Emit(ctx, &envelope.Token{Text: "x"})
	}

	sink := &recordingSink{}
	e.Attach(sink)
	sent, err := e.Replay(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, sent)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, sink.sequences())

	sent, err = e.Replay(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, sent)
}

func TestAttachDetach(t *testing.T) {
	e := newTestEmitter(nil)
	a, b := &recordingSink{}, &recordingSink{}

	e.Attach(a)
	e.Attach(b)
	assert.True(t, e.Attached(b))

	// Detaching a stale sink leaves the current one in place
	e.Detach(a)
	assert.True(t, e.Attached(b))

	e.Detach(b)
	assert.False(t, e.Attached(b))
}
