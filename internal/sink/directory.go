package sink

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	logs "github.com/danmuck/blockgate/internal/logging"
	"github.com/danmuck/blockgate/internal/observability"
)

const DefaultIdleGrace = 30 * time.Second

type DirectoryConfig struct {
	IdleGrace   time.Duration
	MailboxSize int
	Now         func() time.Time
}

func DefaultDirectoryConfig() DirectoryConfig {
	return DirectoryConfig{
		IdleGrace:   DefaultIdleGrace,
		MailboxSize: DefaultMailboxSize,
		Now:         time.Now,
	}
}

// Info is a point-in-time view of one sink.
type Info struct {
	ID          string     `json:"id"`
	State       string     `json:"state"`
	Subscribers int        `json:"subscribers"`
	IdleSince   *time.Time `json:"idle_since,omitempty"`
}

// Directory activates sinks by id on first use and drops them once they
// are closed or have stayed idle past the grace period. A dropped id comes
// back as a fresh sink on the next Get.
type Directory struct {
	preparer Preparer
	cfg      DirectoryConfig

	mu    sync.Mutex
	sinks map[string]*Sink
}

func NewDirectory(preparer Preparer, cfg DirectoryConfig) *Directory {
	def := DefaultDirectoryConfig()
	if cfg.IdleGrace <= 0 {
		cfg.IdleGrace = def.IdleGrace
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = def.MailboxSize
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}
	return &Directory{
		preparer: preparer,
		cfg:      cfg,
		sinks:    make(map[string]*Sink),
	}
}

// NewID returns a fresh random sink id.
func (d *Directory) NewID() string {
	return uuid.NewString()
}

// Get returns the live sink for id, activating a new one when none exists
// or the previous one has stopped.
func (d *Directory) Get(id string) *Sink {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.sinks[id]; ok && !stopped(s) {
		return s
	}
	s := New(id, d.preparer,
		WithMailboxSize(d.cfg.MailboxSize),
		WithClock(d.cfg.Now),
		withStopHook(d.remove),
	)
	d.sinks[id] = s
	observability.SetActiveSinks(len(d.sinks))
	logs.Debugf("sink.Directory.Get activated id=%s active=%d", id, len(d.sinks))
	return s
}

// Lookup returns the sink for id without activating one.
func (d *Directory) Lookup(id string) (*Sink, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sinks[id]
	if !ok || stopped(s) {
		return nil, false
	}
	return s, true
}

// Subscribe attaches obs to the sink for id, retrying once if the sink was
// deactivated between lookup and subscription.
func (d *Directory) Subscribe(ctx context.Context, id string, obs Observer) (*Sink, error) {
	s := d.Get(id)
	err := s.Subscribe(ctx, obs)
	if errors.Is(err, ErrSinkDeactivated) {
		<-s.Done()
		s = d.Get(id)
		err = s.Subscribe(ctx, obs)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sinks)
}

// Info describes the sink registered for id, if any. Unlike Lookup it
// reports a stopped sink that has not been removed yet.
func (d *Directory) Info(id string) (Info, bool) {
	d.mu.Lock()
	s, ok := d.sinks[id]
	d.mu.Unlock()
	if !ok {
		return Info{}, false
	}
	return infoOf(s), true
}

// Snapshot lists sinks ordered by id.
func (d *Directory) Snapshot() []Info {
	d.mu.Lock()
	list := make([]*Sink, 0, len(d.sinks))
	for _, s := range d.sinks {
		list = append(list, s)
	}
	d.mu.Unlock()

	out := make([]Info, 0, len(list))
	for _, s := range list {
		out = append(out, infoOf(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Reap deactivates sinks idle for at least the grace period as of now and
// returns how many sinks it removed.
func (d *Directory) Reap(ctx context.Context, now time.Time) (int, error) {
	d.mu.Lock()
	candidates := make([]*Sink, 0, len(d.sinks))
	for _, s := range d.sinks {
		if _, idle := s.IdleSince(); idle || stopped(s) {
			candidates = append(candidates, s)
		}
	}
	d.mu.Unlock()

	reaped := 0
	for _, s := range candidates {
		ok, err := s.Deactivate(ctx, now, d.cfg.IdleGrace)
		if err != nil {
			return reaped, err
		}
		if !ok {
			continue
		}
		<-s.Done()
		d.remove(s)
		reaped++
	}
	if reaped > 0 {
		logs.Infof("sink.Directory.Reap removed=%d active=%d", reaped, d.Len())
	}
	return reaped, nil
}

// Run reaps on every tick until ctx is cancelled.
func (d *Directory) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = d.cfg.IdleGrace / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := d.Reap(ctx, d.cfg.Now()); err != nil && ctx.Err() == nil {
				logs.Warnf("sink.Directory.Run reap failed err=%v", err)
			}
		}
	}
}

// Close closes every sink, notifying their observers.
func (d *Directory) Close(ctx context.Context) error {
	d.mu.Lock()
	list := make([]*Sink, 0, len(d.sinks))
	for _, s := range d.sinks {
		list = append(list, s)
	}
	d.mu.Unlock()

	var errs []error
	for _, s := range list {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Directory) remove(s *Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.sinks[s.ID()]; ok && cur == s {
		delete(d.sinks, s.ID())
		observability.SetActiveSinks(len(d.sinks))
	}
}

func infoOf(s *Sink) Info {
	info := Info{ID: s.ID(), State: s.State().String(), Subscribers: s.Subscribers()}
	if ts, ok := s.IdleSince(); ok {
		info.IdleSince = &ts
	}
	return info
}

func stopped(s *Sink) bool {
	select {
	case <-s.Done():
		return true
	default:
		return false
	}
}
