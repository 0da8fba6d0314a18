// Package sink fans prepared packets out to the observers of one logical
// client connection.
//
// Every Sink owns a goroutine that drains its mailbox, so the observer set
// and the sink state are only ever touched by one goroutine. Many sinks run
// concurrently. Callers block until their operation has been processed or
// the sink has stopped.
package sink

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync/atomic"
	"time"

	logs "github.com/danmuck/blockgate/internal/logging"
	"github.com/danmuck/blockgate/internal/observability"
	"github.com/danmuck/blockgate/internal/protocol/frame"
	"github.com/danmuck/blockgate/internal/protocol/schema"
)

var (
	ErrSinkClosed            = errors.New("sink: closed")
	ErrSinkDeactivated       = errors.New("sink: deactivated")
	ErrNilObserver           = errors.New("sink: nil observer")
	ErrObserverNotComparable = errors.New("sink: observer type is not comparable")
)

// Observer receives everything a sink broadcasts. The payload slice is
// shared between observers and must not be modified.
type Observer interface {
	ReceivePacket(id uint32, payload []byte) error
	OnClosed() error
	UseCompression(threshold uint32) error
}

// Preparer turns a typed packet into its wire id and payload.
type Preparer interface {
	Prepare(p schema.Packet) (frame.Prepared, error)
}

type State int32

const (
	Active State = iota
	Closed
	Deactivated
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Closed:
		return "closed"
	case Deactivated:
		return "deactivated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const DefaultMailboxSize = 64

type Option func(*Sink)

func WithMailboxSize(n int) Option {
	return func(s *Sink) {
		if n > 0 {
			s.mailboxSize = n
		}
	}
}

// WithClock replaces time.Now for idle bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(s *Sink) {
		if now != nil {
			s.now = now
		}
	}
}

func withStopHook(fn func(*Sink)) Option {
	return func(s *Sink) { s.onStop = fn }
}

type Sink struct {
	id          string
	preparer    Preparer
	mailboxSize int
	mailbox     chan func()
	done        chan struct{}
	now         func() time.Time
	onStop      func(*Sink)

	// owned by the mailbox goroutine
	observers []Observer
	idleSince time.Time
	stopping  bool

	// published for readers outside the loop
	state       atomic.Int32
	subscribers atomic.Int32
	idleNanos   atomic.Int64
}

// New starts a sink in the Active state with no observers.
func New(id string, preparer Preparer, opts ...Option) *Sink {
	s := &Sink{
		id:          id,
		preparer:    preparer,
		mailboxSize: DefaultMailboxSize,
		now:         time.Now,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mailbox = make(chan func(), s.mailboxSize)
	s.markIdle()
	go s.run()
	logs.Debugf("sink.New id=%s mailbox=%d", id, s.mailboxSize)
	return s
}

func (s *Sink) ID() string { return s.id }

func (s *Sink) State() State { return State(s.state.Load()) }

// Subscribers reports the observer count as of the last processed operation.
func (s *Sink) Subscribers() int { return int(s.subscribers.Load()) }

// IdleSince reports when the sink last became idle-eligible.
func (s *Sink) IdleSince() (time.Time, bool) {
	n := s.idleNanos.Load()
	if n == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, n), true
}

// Done is closed once the mailbox goroutine has exited.
func (s *Sink) Done() <-chan struct{} { return s.done }

func (s *Sink) run() {
	defer func() {
		if s.onStop != nil {
			s.onStop(s)
		}
	}()
	defer close(s.done)
	for job := range s.mailbox {
		job()
		if s.stopping {
			return
		}
	}
}

// call runs job on the mailbox goroutine and reports whether it ran.
func (s *Sink) call(ctx context.Context, job func()) (bool, error) {
	reply := make(chan struct{})
	wrapped := func() {
		job()
		close(reply)
	}
	select {
	case s.mailbox <- wrapped:
	case <-s.done:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
	select {
	case <-reply:
		return true, nil
	case <-s.done:
		select {
		case <-reply:
			return true, nil
		default:
			return false, nil
		}
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (s *Sink) stoppedErr() error {
	if s.State() == Deactivated {
		return ErrSinkDeactivated
	}
	return ErrSinkClosed
}

func (s *Sink) markIdle() {
	if s.idleSince.IsZero() {
		s.idleSince = s.now()
		s.idleNanos.Store(s.idleSince.UnixNano())
	}
}

func (s *Sink) clearIdle() {
	s.idleSince = time.Time{}
	s.idleNanos.Store(0)
}

func (s *Sink) publish() {
	s.subscribers.Store(int32(len(s.observers)))
}

// Subscribe adds obs to the observer set. Adding the same observer twice
// delivers every packet to it twice. A closed sink never accepts observers.
func (s *Sink) Subscribe(ctx context.Context, obs Observer) error {
	if obs == nil {
		return ErrNilObserver
	}
	if !reflect.TypeOf(obs).Comparable() {
		return fmt.Errorf("%w: %T", ErrObserverNotComparable, obs)
	}
	var err error
	ran, cerr := s.call(ctx, func() {
		if s.State() != Active {
			err = s.stoppedErr()
			return
		}
		s.observers = append(s.observers, obs)
		s.clearIdle()
		s.publish()
		observability.RecordSinkEvent("subscribe")
		logs.Debugf("sink.Sink.Subscribe id=%s observers=%d", s.id, len(s.observers))
	})
	if cerr != nil {
		return cerr
	}
	if !ran {
		return s.stoppedErr()
	}
	return err
}

// Unsubscribe removes one occurrence of obs. Removing an observer that is
// not subscribed is a no-op.
func (s *Sink) Unsubscribe(ctx context.Context, obs Observer) error {
	if obs == nil || !reflect.TypeOf(obs).Comparable() {
		return nil
	}
	_, err := s.call(ctx, func() {
		for i, o := range s.observers {
			if o == obs {
				s.observers = append(s.observers[:i], s.observers[i+1:]...)
				break
			}
		}
		if len(s.observers) == 0 {
			s.markIdle()
		}
		s.publish()
		observability.RecordSinkEvent("unsubscribe")
	})
	return err
}

// SendPacket prepares p and broadcasts it. Preparation happens on the
// caller's goroutine.
func (s *Sink) SendPacket(ctx context.Context, p schema.Packet) error {
	if s.State() != Active {
		return nil
	}
	prepared, err := s.preparer.Prepare(p)
	if err != nil {
		logs.Warnf("sink.Sink.SendPacket prepare failed id=%s err=%v", s.id, err)
		return err
	}
	return s.Send(ctx, prepared.PacketID, prepared.Payload)
}

// Send broadcasts a prepared payload to every observer. With no observers
// the packet is dropped and the idle timestamp is left alone, so the grace
// period counts from when the observer set became empty. Observer failures
// are logged and counted but never returned.
func (s *Sink) Send(ctx context.Context, id uint32, payload []byte) error {
	_, err := s.call(ctx, func() {
		if s.State() != Active {
			return
		}
		if len(s.observers) == 0 {
			observability.RecordSinkEvent("idle_send")
			logs.Tracef("sink.Sink.Send no observers id=%s packet=0x%02x", s.id, id)
			return
		}
		observability.RecordSinkEvent("send")
		for _, o := range s.observers {
			s.deliver("ReceivePacket", func() error { return o.ReceivePacket(id, payload) })
		}
	})
	return err
}

// NotifyUseCompression tells every observer to apply threshold to the
// frames it writes from now on. The sink's own packager is unaffected.
func (s *Sink) NotifyUseCompression(ctx context.Context, threshold uint32) error {
	_, err := s.call(ctx, func() {
		if s.State() != Active {
			return
		}
		observability.RecordSinkEvent("compression")
		logs.Debugf("sink.Sink.NotifyUseCompression id=%s threshold=%d observers=%d", s.id, threshold, len(s.observers))
		for _, o := range s.observers {
			s.deliver("UseCompression", func() error { return o.UseCompression(threshold) })
		}
	})
	return err
}

// Close notifies every current observer once, drops them and stops the
// sink. Closing again is a no-op.
func (s *Sink) Close(ctx context.Context) error {
	_, err := s.call(ctx, func() {
		if s.State() != Active {
			return
		}
		for _, o := range s.observers {
			s.deliver("OnClosed", o.OnClosed)
		}
		logs.Infof("sink.Sink.Close id=%s notified=%d", s.id, len(s.observers))
		s.observers = nil
		s.publish()
		s.state.Store(int32(Closed))
		s.stopping = true
		observability.RecordSinkEvent("close")
	})
	return err
}

// Deactivate stops an Active sink that has had no observers for at least
// grace as of now. It reports whether the sink is stopped afterwards.
func (s *Sink) Deactivate(ctx context.Context, now time.Time, grace time.Duration) (bool, error) {
	stopped := false
	ran, err := s.call(ctx, func() {
		if s.State() != Active {
			stopped = true
			return
		}
		if len(s.observers) > 0 || s.idleSince.IsZero() || now.Sub(s.idleSince) < grace {
			return
		}
		s.state.Store(int32(Deactivated))
		s.stopping = true
		stopped = true
		observability.RecordSinkEvent("deactivate")
		logs.Debugf("sink.Sink.Deactivate id=%s idle=%s", s.id, now.Sub(s.idleSince))
	})
	if err != nil {
		return false, err
	}
	if !ran {
		return true, nil
	}
	return stopped, nil
}

func (s *Sink) deliver(op string, fn func() error) {
	result := observability.DeliveryOK
	defer func() {
		if r := recover(); r != nil {
			result = observability.DeliveryPanic
			logs.Errf("sink.Sink.deliver observer panic id=%s op=%s panic=%v", s.id, op, r)
		}
		observability.RecordDelivery(result)
	}()
	if err := fn(); err != nil {
		result = observability.DeliveryError
		logs.Warnf("sink.Sink.deliver observer failed id=%s op=%s err=%v", s.id, op, err)
	}
}
