// Package gateway accepts client connections, binds each one to a packet
// sink, and runs the startup sequence that brings the node into the
// cluster.
package gateway

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	logs "github.com/danmuck/blockgate/internal/logging"
	"github.com/danmuck/blockgate/internal/observability"
	"github.com/danmuck/blockgate/internal/protocol/codec"
	"github.com/danmuck/blockgate/internal/protocol/frame"
	"github.com/danmuck/blockgate/internal/protocol/packets"
	"github.com/danmuck/blockgate/internal/protocol/schema"
	"github.com/danmuck/blockgate/internal/sink"
)

var (
	ErrUnexpectedPacket = errors.New("gateway: unexpected packet")
	ErrUnsupportedState = errors.New("gateway: unsupported next state")
)

// Forwarder hands serverbound play packets to whoever runs game logic.
type Forwarder interface {
	ForwardInbound(sinkID string, packetID uint32, body []byte) error
}

type ListenerConfig struct {
	// Threshold is announced to clients after login. frame.NoCompression
	// keeps the connection uncompressed.
	Threshold    int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CloseTimeout time.Duration
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		Threshold:    frame.NoCompression,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Second,
		CloseTimeout: 5 * time.Second,
	}
}

// Listener runs the per-connection read loop. Writes to the client only
// happen through the connection's sink.
type Listener struct {
	cfg       ListenerConfig
	directory *sink.Directory
	packager  *frame.Packager
	codec     *codec.Codec
	forward   Forwarder

	wg sync.WaitGroup
}

func NewListener(directory *sink.Directory, packager *frame.Packager, c *codec.Codec, forward Forwarder, cfg ListenerConfig) *Listener {
	def := DefaultListenerConfig()
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = def.CloseTimeout
	}
	return &Listener{
		cfg:       cfg,
		directory: directory,
		packager:  packager,
		codec:     c,
		forward:   forward,
	}
}

// Serve accepts until ctx is cancelled, then waits for open connections
// to finish.
func (l *Listener) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	logs.Infof("gateway.Listener.Serve listening addr=%s threshold=%d", ln.Addr(), l.cfg.Threshold)

	var err error
	for {
		var conn net.Conn
		conn, err = ln.Accept()
		if err != nil {
			break
		}
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.handle(ctx, conn)
		}()
	}
	l.wg.Wait()
	if ctx.Err() != nil {
		logs.Infof("gateway.Listener.Serve stopped addr=%s", ln.Addr())
		return nil
	}
	return fmt.Errorf("gateway: accept: %w", err)
}

type connState struct {
	id    string
	conn  net.Conn
	obs   *ConnObserver
	sink  *sink.Sink
	state schema.State
	name  string
}

func (l *Listener) handle(ctx context.Context, conn net.Conn) {
	id := l.directory.NewID()
	obs := NewConnObserver(id, conn, l.packager, l.packager.Limits(), l.cfg.WriteTimeout)
	s, err := l.directory.Subscribe(ctx, id, obs)
	if err != nil {
		logs.Warnf("gateway.Listener.handle subscribe conn=%s err=%v", id, err)
		_ = conn.Close()
		return
	}
	observability.ConnectionOpened()
	defer observability.ConnectionClosed()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	logs.Infof("gateway.Listener.handle accepted conn=%s remote=%s", id, conn.RemoteAddr())
	cs := &connState{id: id, conn: conn, obs: obs, sink: s, state: schema.Handshaking}
	err = l.readLoop(ctx, cs)
	switch {
	case err == nil, ctx.Err() != nil, errors.Is(err, net.ErrClosed):
		logs.Infof("gateway.Listener.handle closed conn=%s player=%q", id, cs.name)
	default:
		logs.Warnf("gateway.Listener.handle conn=%s state=%s err=%v", id, cs.state, err)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), l.cfg.CloseTimeout)
	defer cancel()
	if err := s.Close(closeCtx); err != nil {
		logs.Warnf("gateway.Listener.handle close sink conn=%s err=%v", id, err)
	}
	_ = obs.OnClosed()
}

func (l *Listener) readLoop(ctx context.Context, cs *connState) error {
	br := bufio.NewReader(cs.conn)
	limits := l.packager.Limits()
	for {
		if l.cfg.ReadTimeout > 0 {
			_ = cs.conn.SetReadDeadline(time.Now().Add(l.cfg.ReadTimeout))
		}
		f, err := frame.ReadFrame(br, limits)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		body := f.Payload
		if cs.obs.Compression() != frame.NoCompression {
			if body, err = l.packager.Unpack(body); err != nil {
				return err
			}
		}
		if err := l.dispatch(ctx, cs, f.PacketID, body); err != nil {
			return err
		}
	}
}

func (l *Listener) dispatch(ctx context.Context, cs *connState, id uint32, body []byte) error {
	switch cs.state {
	case schema.Handshaking:
		pkt, err := l.codec.Deserialize(schema.Serverbound, schema.Handshaking, id, body)
		if err != nil {
			return err
		}
		hs, ok := pkt.(*packets.Handshake)
		if !ok {
			return fmt.Errorf("%w: %s in handshaking", ErrUnexpectedPacket, pkt.PacketName())
		}
		if schema.State(hs.NextState) != schema.Login {
			return fmt.Errorf("%w: %d", ErrUnsupportedState, hs.NextState)
		}
		logs.Debugf("gateway.Listener.dispatch handshake conn=%s protocol=%d host=%s:%d",
			cs.id, hs.ProtocolVersion, hs.ServerAddress, hs.ServerPort)
		cs.state = schema.Login
		return nil

	case schema.Login:
		pkt, err := l.codec.Deserialize(schema.Serverbound, schema.Login, id, body)
		if err != nil {
			return err
		}
		login, ok := pkt.(*packets.LoginStart)
		if !ok {
			return fmt.Errorf("%w: %s in login", ErrUnexpectedPacket, pkt.PacketName())
		}
		cs.name = login.Name
		if err := l.enableCompression(ctx, cs); err != nil {
			return err
		}
		cs.state = schema.Play
		logs.Infof("gateway.Listener.dispatch login conn=%s player=%q", cs.id, cs.name)
		return l.forwardInbound(cs, id, body)

	default:
		if id == packets.IDKeepAliveReply {
			pkt, err := l.codec.Deserialize(schema.Serverbound, schema.Play, id, body)
			if err != nil {
				return err
			}
			if reply, ok := pkt.(*packets.KeepAliveReply); ok {
				logs.Tracef("gateway.Listener.dispatch keepalive conn=%s id=%d", cs.id, reply.KeepAliveID)
			}
		}
		return l.forwardInbound(cs, id, body)
	}
}

// enableCompression announces the threshold uncompressed, then switches
// the connection's observer over. Both go through the sink mailbox so
// they stay ordered behind anything already queued for the client.
func (l *Listener) enableCompression(ctx context.Context, cs *connState) error {
	if l.cfg.Threshold == frame.NoCompression {
		return nil
	}
	threshold := uint32(l.cfg.Threshold)
	if err := cs.sink.SendPacket(ctx, &packets.SetCompression{Threshold: threshold}); err != nil {
		return fmt.Errorf("gateway: send compression: %w", err)
	}
	return cs.sink.NotifyUseCompression(ctx, threshold)
}

func (l *Listener) forwardInbound(cs *connState, id uint32, body []byte) error {
	if l.forward == nil {
		return nil
	}
	if err := l.forward.ForwardInbound(cs.id, id, body); err != nil {
		logs.Warnf("gateway.Listener.forwardInbound conn=%s id=0x%02x err=%v", cs.id, id, err)
	}
	return nil
}
