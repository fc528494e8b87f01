package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"indexwatch/internal/provider"
)

// fakeHandle records every message it is sent.
type fakeHandle struct {
	id       uuid.UUID
	liveness atomic.Int32
	closed   atomic.Bool

	mu   sync.Mutex
	msgs []Message
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{id: uuid.New()}
}

func (f *fakeHandle) ID() uuid.UUID      { return f.id }
func (f *fakeHandle) Liveness() Liveness { return Liveness(f.liveness.Load()) }
func (f *fakeHandle) Close()             { f.closed.Store(true); f.liveness.Store(int32(Closed)) }

func (f *fakeHandle) Send(b []byte) bool {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		panic(err)
	}
	f.mu.Lock()
	f.msgs = append(f.msgs, m)
	f.mu.Unlock()
	return true
}

func (f *fakeHandle) count(t MessageType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.msgs {
		if m.Type == t {
			n++
		}
	}
	return n
}

func (f *fakeHandle) last(t MessageType) (Message, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.msgs) - 1; i >= 0; i-- {
		if f.msgs[i].Type == t {
			return f.msgs[i], true
		}
	}
	return Message{}, false
}

// stubSource returns quotes, or blocks until released when gate is set.
type stubSource struct {
	calls atomic.Int32
	gate  chan struct{}
	err   error
}

func (s *stubSource) All(ctx context.Context) ([]provider.Quote, error) {
	s.calls.Add(1)
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return []provider.Quote{{Symbol: "SPY", Value: 500}}, nil
}

func newTestScheduler(t *testing.T, src Source) (*Scheduler, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	s := NewScheduler(src, Config{PollInterval: 120 * time.Second, HeartbeatInterval: 30 * time.Second}, clock, zerolog.Nop())
	t.Cleanup(s.Stop)
	return s, clock
}

func snapshot(t *testing.T, s *Scheduler) Snapshot {
	t.Helper()
	snap, err := s.Snapshot()
	require.NoError(t, err)
	return snap
}

// advance moves the clock in heartbeat-sized steps and lets the scheduler
// drain each tick before the next, since ticker channels hold one value.
func advance(t *testing.T, clock *clockwork.FakeClock, h *fakeHandle, steps int) {
	t.Helper()
	for range steps {
		before := h.count(TypeHeartbeat)
		clock.Advance(30 * time.Second)
		require.Eventually(t, func() bool { return h.count(TypeHeartbeat) == before+1 }, time.Second, time.Millisecond)
	}
}

func TestScheduler_StartsIdle(t *testing.T) {
	s, _ := newTestScheduler(t, &stubSource{})

	snap := snapshot(t, s)
	assert.Equal(t, Idle, snap.State)
	assert.Zero(t, snap.ActiveTasks)
	assert.Zero(t, snap.Clients)
}

func TestScheduler_RegisterSendsConnected(t *testing.T) {
	s, _ := newTestScheduler(t, &stubSource{})
	h := newFakeHandle()

	require.NoError(t, s.Register(h))

	msg, ok := h.last(TypeConnected)
	require.True(t, ok, "connected must be sent on register")
	data, _ := msg.Data.(map[string]any)
	assert.Equal(t, "Connected to financial data stream", data["message"])
	assert.Equal(t, 1, h.count(TypeConnected))
}

func TestScheduler_Lifecycle(t *testing.T) {
	s, _ := newTestScheduler(t, &stubSource{})
	h1, h2, h3 := newFakeHandle(), newFakeHandle(), newFakeHandle()

	require.NoError(t, s.Register(h1))
	snap := snapshot(t, s)
	assert.Equal(t, Active, snap.State)
	assert.Equal(t, 2, snap.ActiveTasks, "one poll task and one heartbeat task")
	assert.Equal(t, 1, snap.Activations)

	require.NoError(t, s.Register(h2))
	require.NoError(t, s.Register(h3))
	snap = snapshot(t, s)
	assert.Equal(t, 3, snap.Clients)
	assert.Equal(t, 2, snap.ActiveTasks, "further clients start no extra tasks")
	assert.Equal(t, 1, snap.Activations)

	s.Unregister(h1.ID())
	s.Unregister(h2.ID())
	assert.Equal(t, Active, s.State())

	s.Unregister(h3.ID())
	snap = snapshot(t, s)
	assert.Equal(t, Idle, snap.State)
	assert.Zero(t, snap.ActiveTasks)
	assert.Zero(t, snap.Clients)
	assert.False(t, h3.closed.Load(), "unregister must not close the transport")

	// unknown ids are ignored
	s.Unregister(uuid.New())
	assert.Equal(t, Idle, s.State())
}

func TestScheduler_RestartAfterEmptyFromCleanBoundary(t *testing.T) {
	s, clock := newTestScheduler(t, &stubSource{})
	h1 := newFakeHandle()

	require.NoError(t, s.Register(h1))
	clock.Advance(20 * time.Second)
	s.Unregister(h1.ID())
	require.Equal(t, Idle, s.State())

	h2 := newFakeHandle()
	require.NoError(t, s.Register(h2))
	snap := snapshot(t, s)
	assert.Equal(t, 2, snap.ActiveTasks)
	assert.Equal(t, 2, snap.Activations)

	// the old heartbeat phase would fire 10s from here
	clock.Advance(10 * time.Second)
	assert.Never(t, func() bool { return h2.count(TypeHeartbeat) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	clock.Advance(20 * time.Second)
	assert.Eventually(t, func() bool { return h2.count(TypeHeartbeat) == 1 }, time.Second, time.Millisecond)
	assert.Zero(t, h1.count(TypeHeartbeat))
}

func TestScheduler_PollBroadcastsUpdate(t *testing.T) {
	src := &stubSource{}
	s, clock := newTestScheduler(t, src)
	h1, h2 := newFakeHandle(), newFakeHandle()
	require.NoError(t, s.Register(h1))
	require.NoError(t, s.Register(h2))

	advance(t, clock, h1, 4)

	require.Eventually(t, func() bool { return h1.count(TypeUpdate) == 1 && h2.count(TypeUpdate) == 1 }, time.Second, time.Millisecond)
	assert.EqualValues(t, 1, src.calls.Load())

	msg, _ := h1.last(TypeUpdate)
	quotes, ok := msg.Data.([]any)
	require.True(t, ok)
	require.Len(t, quotes, 1)
	assert.Equal(t, "SPY", quotes[0].(map[string]any)["symbol"])
	assert.True(t, clock.Now().Equal(msg.Timestamp))
}

func TestScheduler_HeartbeatIndependentOfPollFailure(t *testing.T) {
	src := &stubSource{err: errors.New("upstream down for every symbol")}
	s, clock := newTestScheduler(t, src)
	h := newFakeHandle()
	require.NoError(t, s.Register(h))

	// four heartbeats including the one coinciding with the failed poll, then one more
	advance(t, clock, h, 5)

	assert.Equal(t, 5, h.count(TypeHeartbeat))
	assert.EqualValues(t, 1, src.calls.Load())
	assert.Zero(t, h.count(TypeUpdate))
	assert.Equal(t, Active, s.State())
}

func TestScheduler_PollFailureSendsPublicErrorFrame(t *testing.T) {
	src := &stubSource{err: fmt.Errorf("quote SPY: %w", provider.ErrNotConfigured)}
	s, clock := newTestScheduler(t, src)
	h := newFakeHandle()
	require.NoError(t, s.Register(h))

	advance(t, clock, h, 4)

	require.Eventually(t, func() bool { return h.count(TypeError) == 1 }, time.Second, time.Millisecond)
	msg, _ := h.last(TypeError)
	data := msg.Data.(map[string]any)
	assert.Equal(t, "Failed to fetch market data", data["message"])
	assert.NotContains(t, data["message"], "not configured")
	assert.Equal(t, Active, s.State())
}

func TestScheduler_SkipsTickWhilePollRunning(t *testing.T) {
	src := &stubSource{gate: make(chan struct{})}
	s, clock := newTestScheduler(t, src)
	h := newFakeHandle()
	require.NoError(t, s.Register(h))

	advance(t, clock, h, 4)
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)

	advance(t, clock, h, 4)
	require.Eventually(t, func() bool {
		snap, err := s.Snapshot()
		return err == nil && snap.SkippedPolls == 1
	}, time.Second, time.Millisecond)
	assert.True(t, snapshot(t, s).Polling)
	assert.EqualValues(t, 1, src.calls.Load(), "overlapping poll must not start")

	close(src.gate)
	require.Eventually(t, func() bool { return h.count(TypeUpdate) == 1 }, time.Second, time.Millisecond)
	assert.False(t, snapshot(t, s).Polling)
}

func TestScheduler_SkipsClosingHandles(t *testing.T) {
	s, clock := newTestScheduler(t, &stubSource{})
	live, closing := newFakeHandle(), newFakeHandle()
	require.NoError(t, s.Register(live))
	require.NoError(t, s.Register(closing))
	closing.liveness.Store(int32(Closing))

	advance(t, clock, live, 1)

	assert.Zero(t, closing.count(TypeHeartbeat))
	assert.Equal(t, 2, s.ClientCount(), "closing handles stay registered until the transport reports them gone")
}

func TestScheduler_PollTickWithEmptyRegistryIsNoop(t *testing.T) {
	src := &stubSource{}
	s := newScheduler(src, Config{}, clockwork.NewFakeClock(), zerolog.Nop())

	s.handlePollTick()

	assert.False(t, s.polling)
	assert.Zero(t, src.calls.Load())
}

func TestScheduler_PollResultAfterLastDisconnectIsNoop(t *testing.T) {
	s := newScheduler(&stubSource{}, Config{}, clockwork.NewFakeClock(), zerolog.Nop())
	s.polling = true

	s.handlePollResult(pollResultCmd{quotes: []provider.Quote{{Symbol: "SPY"}}})

	assert.False(t, s.polling)
}

func TestScheduler_SubscribeAcknowledged(t *testing.T) {
	s, _ := newTestScheduler(t, &stubSource{})
	h := newFakeHandle()

	s.HandleClientMessage(h, []byte(`{"type":"subscribe","symbols":["SPY","QQQ"]}`))

	msg, ok := h.last(TypeSubscribed)
	require.True(t, ok)
	data := msg.Data.(map[string]any)
	assert.Equal(t, []any{"SPY", "QQQ"}, data["symbols"])
}

func TestScheduler_MalformedClientMessageIgnored(t *testing.T) {
	s, _ := newTestScheduler(t, &stubSource{})
	h := newFakeHandle()

	s.HandleClientMessage(h, []byte(`{not json`))
	s.HandleClientMessage(h, []byte(`{"symbols":["SPY"]}`))
	s.HandleClientMessage(h, []byte(`{"type":"unsubscribe"}`))

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Empty(t, h.msgs)
}

func TestScheduler_StopClosesClients(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewScheduler(&stubSource{}, Config{}, clock, zerolog.Nop())
	h := newFakeHandle()
	require.NoError(t, s.Register(h))

	s.Stop()

	assert.True(t, h.closed.Load())
	assert.ErrorIs(t, s.Register(newFakeHandle()), ErrStopped)
	_, err := s.Snapshot()
	assert.ErrorIs(t, err, ErrStopped)
	assert.Equal(t, Idle, s.State())

	// a second stop is harmless
	s.Stop()
}
