package cluster

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/blockgate/internal/testutil/testlog"
)

type faultInjector struct {
	failures int
	err      error
	calls    int
}

func (f *faultInjector) Connect(context.Context) error {
	f.calls++
	if f.failures < 0 || f.calls <= f.failures {
		return f.err
	}
	return nil
}

type recordedSleeper struct {
	delays []time.Duration
}

func (r *recordedSleeper) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func (r *recordedSleeper) total() time.Duration {
	var sum time.Duration
	for _, d := range r.delays {
		sum += d
	}
	return sum
}

func newTestSupervisor(c Connector) (*Supervisor, *recordedSleeper) {
	rec := &recordedSleeper{}
	return NewSupervisor(c, DefaultConfig(), WithSleeper(rec.sleep)), rec
}

func TestJoinRetriesTransientThenConnects(t *testing.T) {
	testlog.Start(t)
	inj := &faultInjector{failures: 3, err: Unavailable(errors.New("silo gateway refused"))}
	sup, rec := newTestSupervisor(inj)

	require.NoError(t, sup.Join(context.Background()))
	assert.Equal(t, Connected, sup.State())
	assert.Equal(t, 4, sup.Attempts())
	assert.Equal(t, 4, inj.calls)
	assert.Equal(t, 12*time.Second, rec.total())
	assert.Equal(t, []time.Duration{4 * time.Second, 4 * time.Second, 4 * time.Second}, rec.delays)
}

func TestJoinAlwaysTransientExhausts(t *testing.T) {
	testlog.Start(t)
	inj := &faultInjector{failures: -1, err: Unavailable(errors.New("no silos"))}
	sup, rec := newTestSupervisor(inj)

	err := sup.Join(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrJoinExhausted)
	assert.ErrorIs(t, err, ErrClusterUnavailable)
	assert.Equal(t, Failed, sup.State())
	assert.Equal(t, 6, sup.Attempts())
	assert.Equal(t, 6, inj.calls)
	assert.Equal(t, 20*time.Second, rec.total())
	assert.ErrorIs(t, sup.Err(), ErrJoinExhausted)
}

func TestJoinUnexpectedErrorFailsImmediately(t *testing.T) {
	testlog.Start(t)
	boom := errors.New("bad cluster id")
	inj := &faultInjector{failures: -1, err: boom}
	sup, rec := newTestSupervisor(inj)

	err := sup.Join(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrJoinExhausted)
	assert.Equal(t, Failed, sup.State())
	assert.Equal(t, 1, sup.Attempts())
	assert.Empty(t, rec.delays)
}

func TestJoinRunsHooksInOrderAfterConnect(t *testing.T) {
	testlog.Start(t)
	sup, _ := newTestSupervisor(&faultInjector{})
	var order []string
	sup.OnConnected("bind-sinks", func(context.Context) error {
		assert.Equal(t, Connected, sup.State())
		order = append(order, "bind-sinks")
		return nil
	})
	sup.OnConnected("accept", func(context.Context) error {
		order = append(order, "accept")
		return nil
	})
	require.NoError(t, sup.Join(context.Background()))
	assert.Equal(t, []string{"bind-sinks", "accept"}, order)
	assert.ErrorIs(t, sup.Join(context.Background()), ErrAlreadyJoined)
}

func TestJoinHooksNotRunOnFailure(t *testing.T) {
	testlog.Start(t)
	sup, _ := newTestSupervisor(&faultInjector{failures: -1, err: errors.New("fatal")})
	ran := false
	sup.OnConnected("accept", func(context.Context) error {
		ran = true
		return nil
	})
	require.Error(t, sup.Join(context.Background()))
	assert.False(t, ran)
}

func TestJoinHookErrorFails(t *testing.T) {
	testlog.Start(t)
	sup, _ := newTestSupervisor(&faultInjector{})
	stepErr := errors.New("listen: address in use")
	sup.OnConnected("accept", func(context.Context) error { return stepErr })
	err := sup.Join(context.Background())
	assert.ErrorIs(t, err, stepErr)
	assert.Equal(t, Failed, sup.State())
}

func TestJoinStopsWhenSleepCancelled(t *testing.T) {
	testlog.Start(t)
	inj := &faultInjector{failures: -1, err: Unavailable(nil)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sup := NewSupervisor(inj, DefaultConfig())
	err := sup.Join(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, inj.calls)
	assert.Equal(t, Failed, sup.State())
}

func TestNextBackoffDelay(t *testing.T) {
	testlog.Start(t)
	fixed := DefaultConfig().backoff()
	for attempt := 1; attempt <= 6; attempt++ {
		assert.Equal(t, 4*time.Second, NextBackoffDelay(fixed, attempt, nil))
	}
	growing := BackoffConfig{InitialDelay: 250 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second}
	assert.Equal(t, 250*time.Millisecond, NextBackoffDelay(growing, 1, nil))
	assert.Equal(t, 500*time.Millisecond, NextBackoffDelay(growing, 2, nil))
	assert.Equal(t, time.Second, NextBackoffDelay(growing, 5, nil))
	assert.Equal(t, time.Duration(0), NextBackoffDelay(BackoffConfig{}, 3, nil))
}

func TestJoinGrowsDelayUpToMax(t *testing.T) {
	testlog.Start(t)
	inj := &faultInjector{failures: 4, err: Unavailable(errors.New("silo gateway refused"))}
	rec := &recordedSleeper{}
	cfg := Config{MaxRetries: 5, RetryDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: 300 * time.Millisecond}
	sup := NewSupervisor(inj, cfg, WithSleeper(rec.sleep))

	require.NoError(t, sup.Join(context.Background()))
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		300 * time.Millisecond,
		300 * time.Millisecond,
	}, rec.delays)
}

func TestJoinJitterStaysWithinBounds(t *testing.T) {
	testlog.Start(t)
	inj := &faultInjector{failures: 5, err: Unavailable(errors.New("no silos"))}
	rec := &recordedSleeper{}
	cfg := Config{MaxRetries: 5, RetryDelay: time.Second, Multiplier: 1, Jitter: true}
	sup := NewSupervisor(inj, cfg, WithSleeper(rec.sleep), WithRand(rand.New(rand.NewSource(7))))

	require.NoError(t, sup.Join(context.Background()))
	require.Len(t, rec.delays, 5)
	distinct := map[time.Duration]struct{}{}
	for _, d := range rec.delays {
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.Less(t, d, 1500*time.Millisecond)
		distinct[d] = struct{}{}
	}
	assert.Greater(t, len(distinct), 1)
}
