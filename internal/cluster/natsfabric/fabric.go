// Package natsfabric connects the gateway to the cluster message fabric and
// exposes the local sink directory on it, so packets produced on any
// cluster member reach the players connected here.
//
// Subjects:
//
//	<prefix>.sink.<id>.send         VarInt(packet id) + prepared payload
//	<prefix>.sink.<id>.close        empty
//	<prefix>.sink.<id>.compression  VarInt(threshold)
//	<prefix>.sink.<id>.subscribe    observer subject; replies "ok" or an error
//	<prefix>.sink.<id>.unsubscribe  observer subject; replies "ok" or an error
//	<observer>.packet|closed|compression  remote observer deliveries
//	<prefix>.inbound.<id>           serverbound packets read by the gateway
package natsfabric

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/danmuck/blockgate/internal/cluster"
	logs "github.com/danmuck/blockgate/internal/logging"
	"github.com/danmuck/blockgate/internal/protocol"
	"github.com/danmuck/blockgate/internal/sink"
)

const (
	DefaultSubjectPrefix  = "blockgate"
	DefaultConnectTimeout = 5 * time.Second

	opSend        = "send"
	opClose       = "close"
	opCompression = "compression"
	opSubscribe   = "subscribe"
	opUnsubscribe = "unsubscribe"
)

var ErrNotConnected = errors.New("natsfabric: not connected")

type Config struct {
	URL            string
	Name           string
	SubjectPrefix  string
	ConnectTimeout time.Duration
	HandlerTimeout time.Duration
}

type remoteKey struct {
	sink    string
	subject string
}

type Fabric struct {
	cfg Config

	mu   sync.Mutex
	conn *nats.Conn
	subs []*nats.Subscription
	// one observer per (sink, subject) so repeats and unsubscribes match
	remotes map[remoteKey]*RemoteObserver
}

func New(cfg Config) *Fabric {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultSubjectPrefix
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 5 * time.Second
	}
	return &Fabric{cfg: cfg, remotes: make(map[remoteKey]*RemoteObserver)}
}

// Connect makes one connection attempt. Failures that mean the fabric is
// not reachable yet are classified with cluster.Unavailable so the join
// supervisor retries them.
func (f *Fabric) Connect(ctx context.Context) error {
	opts := []nats.Option{
		nats.Name(f.cfg.Name),
		nats.Timeout(f.cfg.ConnectTimeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logs.Warnf("natsfabric disconnected err=%v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logs.Infof("natsfabric reconnected url=%s", c.ConnectedUrl())
		}),
	}

	type result struct {
		conn *nats.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(f.cfg.URL, opts...)
		done <- result{conn: conn, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return classify(r.err)
		}
		f.mu.Lock()
		f.conn = r.conn
		f.mu.Unlock()
		logs.Infof("natsfabric.Fabric.Connect connected url=%s name=%q", r.conn.ConnectedUrl(), f.cfg.Name)
		return nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return ctx.Err()
	}
}

func classify(err error) error {
	switch {
	case errors.Is(err, nats.ErrNoServers),
		errors.Is(err, nats.ErrTimeout),
		errors.Is(err, nats.ErrConnectionClosed),
		errors.Is(err, nats.ErrConnectionReconnecting):
		return cluster.Unavailable(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return cluster.Unavailable(err)
	}
	return err
}

func (f *Fabric) Conn() *nats.Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conn
}

func (f *Fabric) Connected() bool {
	c := f.Conn()
	return c != nil && c.IsConnected()
}

// SinkSubject names the subject for op on sink id.
func SinkSubject(prefix, id, op string) string {
	return prefix + ".sink." + id + "." + op
}

// parseSinkSubject extracts (id, op) from <prefix>.sink.<id>.<op>.
func parseSinkSubject(prefix, subject string) (string, string, bool) {
	rest, ok := strings.CutPrefix(subject, prefix+".sink.")
	if !ok {
		return "", "", false
	}
	i := strings.LastIndexByte(rest, '.')
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}

// InboundSubject names the subject serverbound packets for sink id are
// published on.
func InboundSubject(prefix, id string) string {
	return prefix + ".inbound." + id
}

// ForwardInbound publishes a decoded-frame body read from the connection
// behind sink id, for game logic running elsewhere in the cluster.
func (f *Fabric) ForwardInbound(id string, packetID uint32, body []byte) error {
	conn := f.Conn()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Publish(InboundSubject(f.cfg.SubjectPrefix, id), EncodeSend(packetID, body))
}

// EncodeSend builds the body of a send message.
func EncodeSend(id uint32, payload []byte) []byte {
	out := protocol.AppendVarInt(make([]byte, 0, protocol.MaxVarIntLen+len(payload)), id)
	return append(out, payload...)
}

func decodeSend(data []byte) (uint32, []byte, error) {
	r := protocol.NewReader(data)
	id, err := r.ReadVarInt()
	if err != nil {
		return 0, nil, err
	}
	return id, r.ReadRemaining(), nil
}

// BindDirectory serves the sink subjects for every id in dir.
func (f *Fabric) BindDirectory(dir *sink.Directory) error {
	conn := f.Conn()
	if conn == nil {
		return ErrNotConnected
	}
	prefix := f.cfg.SubjectPrefix
	for _, op := range []string{opSend, opClose, opCompression, opSubscribe, opUnsubscribe} {
		subject := SinkSubject(prefix, "*", op)
		sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
			f.handle(dir, msg)
		})
		if err != nil {
			return fmt.Errorf("natsfabric: subscribe %s: %w", subject, err)
		}
		f.mu.Lock()
		f.subs = append(f.subs, sub)
		f.mu.Unlock()
	}
	if err := conn.Flush(); err != nil {
		return fmt.Errorf("natsfabric: flush subscriptions: %w", err)
	}
	logs.Infof("natsfabric.Fabric.BindDirectory prefix=%s", prefix)
	return nil
}

func (f *Fabric) handle(dir *sink.Directory, msg *nats.Msg) {
	id, op, ok := parseSinkSubject(f.cfg.SubjectPrefix, msg.Subject)
	if !ok {
		logs.Warnf("natsfabric.Fabric.handle bad subject=%q", msg.Subject)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), f.cfg.HandlerTimeout)
	defer cancel()

	var err error
	switch op {
	case opSend:
		var pid uint32
		var payload []byte
		if pid, payload, err = decodeSend(msg.Data); err == nil {
			err = dir.Get(id).Send(ctx, pid, payload)
		}
	case opClose:
		if s, live := dir.Lookup(id); live {
			err = s.Close(ctx)
		}
	case opCompression:
		var threshold uint32
		if threshold, err = protocol.NewReader(msg.Data).ReadVarInt(); err == nil {
			err = dir.Get(id).NotifyUseCompression(ctx, threshold)
		}
	case opSubscribe:
		var target string
		if target, err = observerSubject(msg.Data); err != nil {
			break
		}
		obs, fresh := f.attachRemote(id, target)
		if !fresh {
			logs.Debugf("natsfabric.Fabric.handle already subscribed sink=%s observer=%s", id, target)
			break
		}
		if _, err = dir.Subscribe(ctx, id, obs); err != nil {
			f.detachRemote(id, target, obs)
		}
	case opUnsubscribe:
		var target string
		if target, err = observerSubject(msg.Data); err != nil {
			break
		}
		obs, known := f.remote(id, target)
		if !known {
			break
		}
		if s, live := dir.Lookup(id); live {
			err = s.Unsubscribe(ctx, obs)
		}
		f.detachRemote(id, target, obs)
	default:
		err = fmt.Errorf("natsfabric: unknown op %q", op)
	}
	if err != nil {
		logs.Warnf("natsfabric.Fabric.handle sink=%s op=%s err=%v", id, op, err)
	}
	if msg.Reply != "" {
		reply := "ok"
		if err != nil {
			reply = err.Error()
		}
		_ = msg.Respond([]byte(reply))
	}
}

func observerSubject(data []byte) (string, error) {
	target := strings.TrimSpace(string(data))
	if target == "" || strings.ContainsAny(target, " *>") {
		return "", fmt.Errorf("natsfabric: invalid observer subject %q", target)
	}
	return target, nil
}

// attachRemote returns the observer for subject on sink id, and false when
// that subject is already subscribed there.
func (f *Fabric) attachRemote(id, subject string) (*RemoteObserver, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := remoteKey{sink: id, subject: subject}
	if obs, ok := f.remotes[key]; ok {
		return obs, false
	}
	obs := NewRemoteObserver(f.conn, subject)
	obs.release = func() { f.detachRemote(id, subject, obs) }
	f.remotes[key] = obs
	return obs, true
}

func (f *Fabric) remote(id, subject string) (*RemoteObserver, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obs, ok := f.remotes[remoteKey{sink: id, subject: subject}]
	return obs, ok
}

func (f *Fabric) detachRemote(id, subject string, obs *RemoteObserver) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := remoteKey{sink: id, subject: subject}
	if cur, ok := f.remotes[key]; ok && cur == obs {
		delete(f.remotes, key)
	}
}

// Close drains subscriptions and closes the connection.
func (f *Fabric) Close() error {
	f.mu.Lock()
	conn := f.conn
	subs := f.subs
	f.conn = nil
	f.subs = nil
	f.remotes = make(map[remoteKey]*RemoteObserver)
	f.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
	if conn == nil {
		return nil
	}
	err := conn.Drain()
	if err != nil {
		conn.Close()
	}
	return err
}
