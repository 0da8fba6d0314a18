// Package cluster attaches the gateway to its backing cluster before any
// dependent startup step runs.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	logs "github.com/danmuck/blockgate/internal/logging"
	"github.com/danmuck/blockgate/internal/observability"
)

var (
	// ErrClusterUnavailable marks the one failure class worth retrying.
	// Connectors wrap transient infrastructure errors with Unavailable.
	ErrClusterUnavailable = errors.New("cluster: temporarily unavailable")
	ErrJoinExhausted      = errors.New("cluster: join retries exhausted")
	ErrAlreadyJoined      = errors.New("cluster: join already attempted")
)

// Unavailable classifies err as transient.
func Unavailable(err error) error {
	if err == nil {
		return ErrClusterUnavailable
	}
	return fmt.Errorf("%w: %w", ErrClusterUnavailable, err)
}

type State int32

const (
	Idle State = iota
	Connecting
	Connected
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Connector performs one join attempt.
type Connector interface {
	Connect(ctx context.Context) error
}

type ConnectorFunc func(ctx context.Context) error

func (f ConnectorFunc) Connect(ctx context.Context) error { return f(ctx) }

// Sleeper waits between attempts.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

const (
	DefaultMaxRetries = 5
	DefaultRetryDelay = 4 * time.Second
)

// Config bounds the join loop. The defaults retry five times on a fixed
// four second delay; a Multiplier above 1 grows the delay up to MaxDelay.
type Config struct {
	MaxRetries int
	RetryDelay time.Duration
	Multiplier float64
	MaxDelay   time.Duration
	Jitter     bool
}

func DefaultConfig() Config {
	return Config{
		MaxRetries: DefaultMaxRetries,
		RetryDelay: DefaultRetryDelay,
		Multiplier: 1,
	}
}

func (c Config) backoff() BackoffConfig {
	return BackoffConfig{
		InitialDelay: c.RetryDelay,
		Multiplier:   c.Multiplier,
		MaxDelay:     c.MaxDelay,
		Jitter:       c.Jitter,
	}
}

type Option func(*Supervisor)

func WithSleeper(fn Sleeper) Option {
	return func(s *Supervisor) {
		if fn != nil {
			s.sleep = fn
		}
	}
}

// WithRand sets the jitter source. Without it a jittered supervisor seeds
// its own.
func WithRand(rng *rand.Rand) Option {
	return func(s *Supervisor) {
		if rng != nil {
			s.rng = rng
		}
	}
}

type hook struct {
	name string
	fn   func(ctx context.Context) error
}

// Supervisor drives Idle -> Connecting -> Connected or Failed exactly once.
type Supervisor struct {
	cfg       Config
	connector Connector
	sleep     Sleeper
	rng       *rand.Rand

	mu       sync.Mutex
	state    State
	attempts int
	lastErr  error
	hooks    []hook
}

func NewSupervisor(connector Connector, cfg Config, opts ...Option) *Supervisor {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	s := &Supervisor{
		cfg:       cfg,
		connector: connector,
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.Jitter && s.rng == nil {
		s.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return s
}

// OnConnected registers a startup step that runs, in registration order,
// once the join succeeds.
func (s *Supervisor) OnConnected(name string, fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook{name: name, fn: fn})
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempts is the number of connect attempts made so far.
func (s *Supervisor) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Err is the error that moved the supervisor to Failed, if any.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Supervisor) transition(to State, err error) {
	s.mu.Lock()
	from := s.state
	s.state = to
	if err != nil {
		s.lastErr = err
	}
	s.mu.Unlock()
	logs.Debugf("cluster.Supervisor transition from=%s to=%s", from, to)
}

// Join blocks until the cluster is joined and every startup hook has run,
// or until the join fails. Only ErrClusterUnavailable is retried; the
// returned error after exhausting retries wraps ErrJoinExhausted.
func (s *Supervisor) Join(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Idle {
		s.mu.Unlock()
		return ErrAlreadyJoined
	}
	s.state = Connecting
	s.mu.Unlock()

	total := s.cfg.MaxRetries + 1
	for attempt := 1; ; attempt++ {
		s.mu.Lock()
		s.attempts = attempt
		s.mu.Unlock()

		err := s.connector.Connect(ctx)
		if err == nil {
			observability.RecordJoinAttempt("connected")
			logs.Infof("cluster.Supervisor.Join connected attempt=%d", attempt)
			s.transition(Connected, nil)
			return s.runHooks(ctx)
		}
		if !errors.Is(err, ErrClusterUnavailable) {
			observability.RecordJoinAttempt("failed")
			logs.Errf("cluster.Supervisor.Join unexpected error attempt=%d err=%v", attempt, err)
			s.transition(Failed, err)
			return err
		}
		observability.RecordJoinAttempt("unavailable")
		if attempt > s.cfg.MaxRetries {
			exhausted := fmt.Errorf("%w after %d attempts: %w", ErrJoinExhausted, attempt, err)
			logs.Errf("cluster.Supervisor.Join giving up attempts=%d err=%v", attempt, err)
			s.transition(Failed, exhausted)
			return exhausted
		}
		delay := NextBackoffDelay(s.cfg.backoff(), attempt, s.rng)
		logs.Warnf("cluster.Supervisor.Join attempt %d of %d failed, retrying in %s err=%v", attempt, total, delay, err)
		if serr := s.sleep(ctx, delay); serr != nil {
			s.transition(Failed, serr)
			return serr
		}
	}
}

func (s *Supervisor) runHooks(ctx context.Context) error {
	s.mu.Lock()
	hooks := append([]hook(nil), s.hooks...)
	s.mu.Unlock()
	for _, h := range hooks {
		if err := h.fn(ctx); err != nil {
			wrapped := fmt.Errorf("cluster: startup step %s: %w", h.name, err)
			logs.Errf("cluster.Supervisor.runHooks step=%s err=%v", h.name, err)
			s.transition(Failed, wrapped)
			return wrapped
		}
		logs.Debugf("cluster.Supervisor.runHooks step=%s ok", h.name)
	}
	return nil
}
