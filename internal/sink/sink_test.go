package sink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/blockgate/internal/observability"
	"github.com/danmuck/blockgate/internal/protocol"
	"github.com/danmuck/blockgate/internal/protocol/codec"
	"github.com/danmuck/blockgate/internal/protocol/frame"
	"github.com/danmuck/blockgate/internal/protocol/packets"
	"github.com/danmuck/blockgate/internal/protocol/schema"
	"github.com/danmuck/blockgate/internal/testutil/testlog"
)

type received struct {
	id      uint32
	payload []byte
}

type recordingObserver struct {
	mu         sync.Mutex
	packets    []received
	closed     int
	thresholds []uint32
	fail       error
	panicOn    bool
}

func (o *recordingObserver) ReceivePacket(id uint32, payload []byte) error {
	if o.panicOn {
		panic("observer exploded")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.packets = append(o.packets, received{id: id, payload: payload})
	return o.fail
}

func (o *recordingObserver) OnClosed() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed++
	return o.fail
}

func (o *recordingObserver) UseCompression(threshold uint32) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.thresholds = append(o.thresholds, threshold)
	return o.fail
}

func (o *recordingObserver) snapshot() ([]received, int, []uint32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]received(nil), o.packets...), o.closed, append([]uint32(nil), o.thresholds...)
}

func newPackager(threshold int) *frame.Packager {
	return frame.NewPackager(codec.New(packets.Registry()), frame.WithThreshold(threshold))
}

func newSink(t *testing.T) *Sink {
	t.Helper()
	s := New("sink-test", newPackager(frame.NoCompression))
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestSendFansOutToEverySubscriber(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	s := newSink(t)
	a, b := &recordingObserver{}, &recordingObserver{}
	require.NoError(t, s.Subscribe(ctx, a))
	require.NoError(t, s.Subscribe(ctx, b))

	require.NoError(t, s.Send(ctx, 0x25, []byte{0x00, 0x01}))
	require.NoError(t, s.Send(ctx, 0x26, []byte{0x00, 0x02}))

	for _, o := range []*recordingObserver{a, b} {
		got, _, _ := o.snapshot()
		require.Len(t, got, 2)
		assert.Equal(t, uint32(0x25), got[0].id)
		assert.Equal(t, uint32(0x26), got[1].id)
		assert.Equal(t, []byte{0x00, 0x02}, got[1].payload)
	}
	assert.Equal(t, 2, s.Subscribers())
}

func TestDuplicateSubscribeDeliversTwice(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	s := newSink(t)
	o := &recordingObserver{}
	require.NoError(t, s.Subscribe(ctx, o))
	require.NoError(t, s.Subscribe(ctx, o))
	require.NoError(t, s.Send(ctx, 1, []byte{0}))
	got, _, _ := o.snapshot()
	assert.Len(t, got, 2)

	require.NoError(t, s.Unsubscribe(ctx, o))
	require.NoError(t, s.Send(ctx, 2, []byte{0}))
	got, _, _ = o.snapshot()
	assert.Len(t, got, 3)

	require.NoError(t, s.Unsubscribe(ctx, o))
	require.NoError(t, s.Unsubscribe(ctx, o))
	require.NoError(t, s.Send(ctx, 3, []byte{0}))
	got, _, _ = o.snapshot()
	assert.Len(t, got, 3)
}

func TestFailingObserversDoNotAffectSiblings(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	s := newSink(t)
	failing := &recordingObserver{fail: errors.New("socket gone")}
	panicking := &recordingObserver{panicOn: true}
	healthy := &recordingObserver{}
	require.NoError(t, s.Subscribe(ctx, failing))
	require.NoError(t, s.Subscribe(ctx, panicking))
	require.NoError(t, s.Subscribe(ctx, healthy))

	require.NoError(t, s.Send(ctx, 7, []byte{0x00}))
	require.NoError(t, s.Send(ctx, 8, []byte{0x00}))

	got, _, _ := healthy.snapshot()
	assert.Len(t, got, 2)
	got, _, _ = failing.snapshot()
	assert.Len(t, got, 2)
	assert.Equal(t, Active, s.State())
}

func TestSendWithoutSubscribersKeepsIdleSince(t *testing.T) {
	testlog.Start(t)
	observability.RegisterMetrics()
	ctx := context.Background()
	start := time.Unix(1000, 0)
	clock := &fakeClock{now: start}
	s := New("idle", newPackager(frame.NoCompression), WithClock(clock.Now))
	t.Cleanup(func() { _ = s.Close(ctx) })

	before := sinkEventCount(t, "idle_send")
	clock.Advance(time.Minute)
	require.NoError(t, s.Send(ctx, 1, []byte{0}))
	require.NoError(t, s.Send(ctx, 2, []byte{0}))
	assert.Equal(t, float64(2), sinkEventCount(t, "idle_send")-before)

	since, idle := s.IdleSince()
	require.True(t, idle)
	assert.True(t, since.Equal(start), "idle since %v, want %v", since, start)

	o := &recordingObserver{}
	require.NoError(t, s.Subscribe(ctx, o))
	_, idle = s.IdleSince()
	assert.False(t, idle)

	clock.Advance(time.Minute)
	emptied := clock.Now()
	require.NoError(t, s.Unsubscribe(ctx, o))
	clock.Advance(time.Minute)
	require.NoError(t, s.Send(ctx, 3, []byte{0}))
	since, idle = s.IdleSince()
	require.True(t, idle)
	assert.True(t, since.Equal(emptied), "idle since %v, want %v", since, emptied)
	assert.Equal(t, Active, s.State())
}

func sinkEventCount(t *testing.T, event string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "blockgate_sink_events_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "event" && lp.GetValue() == event {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestCloseNotifiesOnceAndStops(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	s := New("close", newPackager(frame.NoCompression))
	a, b := &recordingObserver{}, &recordingObserver{}
	require.NoError(t, s.Subscribe(ctx, a))
	require.NoError(t, s.Subscribe(ctx, b))

	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.Close(ctx))
	<-s.Done()

	for _, o := range []*recordingObserver{a, b} {
		_, closed, _ := o.snapshot()
		assert.Equal(t, 1, closed)
	}
	assert.Equal(t, Closed, s.State())
	assert.Equal(t, 0, s.Subscribers())

	assert.NoError(t, s.Send(ctx, 1, []byte{0}))
	assert.NoError(t, s.SendPacket(ctx, &packets.KeepAlive{KeepAliveID: 1}))
	assert.NoError(t, s.NotifyUseCompression(ctx, 256))
	assert.NoError(t, s.Unsubscribe(ctx, a))
	assert.ErrorIs(t, s.Subscribe(ctx, &recordingObserver{}), ErrSinkClosed)

	got, _, thresholds := a.snapshot()
	assert.Empty(t, got)
	assert.Empty(t, thresholds)
}

func TestNotifyUseCompressionOnlyBroadcasts(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	s := newSink(t)
	o := &recordingObserver{}
	require.NoError(t, s.Subscribe(ctx, o))
	require.NoError(t, s.NotifyUseCompression(ctx, 8))

	// KeepAlive bodies are 8 bytes; a packager honoring 8 would compress.
	require.NoError(t, s.SendPacket(ctx, &packets.KeepAlive{KeepAliveID: 3}))
	got, _, thresholds := o.snapshot()
	assert.Equal(t, []uint32{8}, thresholds)
	require.Len(t, got, 1)
	assert.Equal(t, uint32(packets.IDKeepAlive), got[0].id)
	assert.Equal(t, byte(0x00), got[0].payload[0])
}

func TestSendPacketUsesPackager(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	s := New("packager", newPackager(0))
	t.Cleanup(func() { _ = s.Close(ctx) })
	o := &recordingObserver{}
	require.NoError(t, s.Subscribe(ctx, o))

	join := &packets.JoinGame{EntityID: 1, MaxPlayers: 20, LevelType: "default", ViewDistance: 10}
	require.NoError(t, s.SendPacket(ctx, join))
	got, _, _ := o.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, uint32(packets.IDJoinGame), got[0].id)

	body, err := newPackager(0).Unpack(got[0].payload)
	require.NoError(t, err)
	decoded, err := codec.New(packets.Registry()).Deserialize(schema.Clientbound, schema.Play, packets.IDJoinGame, body)
	require.NoError(t, err)
	assert.Equal(t, join, decoded)
}

type unknownPacket struct{}

func (unknownPacket) PacketName() string           { return "Unknown" }
func (unknownPacket) FieldValues() []any           { return nil }
func (unknownPacket) SetFieldValues(v []any) error { return nil }

func TestSendPacketUnknownType(t *testing.T) {
	testlog.Start(t)
	s := newSink(t)
	err := s.SendPacket(context.Background(), unknownPacket{})
	assert.ErrorIs(t, err, protocol.ErrUnknownPacketType)
}

func TestSubscribeRejectsUnusableObservers(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	s := newSink(t)
	assert.ErrorIs(t, s.Subscribe(ctx, nil), ErrNilObserver)
	assert.ErrorIs(t, s.Subscribe(ctx, valueObserver{}), ErrObserverNotComparable)
}

type valueObserver struct {
	hooks []func()
}

func (valueObserver) ReceivePacket(uint32, []byte) error { return nil }
func (valueObserver) OnClosed() error                    { return nil }
func (valueObserver) UseCompression(uint32) error        { return nil }

func TestCancelledContextReturnsError(t *testing.T) {
	testlog.Start(t)
	s := newSink(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Send(ctx, 1, []byte{0})
	// The job may already be queued when cancellation is observed.
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
}
