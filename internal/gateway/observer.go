package gateway

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	logs "github.com/danmuck/blockgate/internal/logging"
	"github.com/danmuck/blockgate/internal/protocol/frame"
)

// Unpacker strips the compression prefix from a prepared payload.
type Unpacker interface {
	Unpack(payload []byte) ([]byte, error)
}

// ConnObserver writes the packets of one sink to one client connection.
// Until UseCompression arrives, prepared payloads are unpacked and written
// bare; afterwards they go out with their length prefix.
type ConnObserver struct {
	id           string
	conn         net.Conn
	unpacker     Unpacker
	limits       frame.Limits
	writeTimeout time.Duration

	threshold atomic.Int64

	mu     sync.Mutex
	closed bool
}

func NewConnObserver(id string, conn net.Conn, unpacker Unpacker, limits frame.Limits, writeTimeout time.Duration) *ConnObserver {
	o := &ConnObserver{
		id:           id,
		conn:         conn,
		unpacker:     unpacker,
		limits:       limits,
		writeTimeout: writeTimeout,
	}
	o.threshold.Store(frame.NoCompression)
	return o
}

// Compression returns the threshold announced to the client, or
// frame.NoCompression.
func (o *ConnObserver) Compression() int {
	return int(o.threshold.Load())
}

func (o *ConnObserver) ReceivePacket(id uint32, payload []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return net.ErrClosed
	}
	body := payload
	if o.threshold.Load() == frame.NoCompression {
		raw, err := o.unpacker.Unpack(payload)
		if err != nil {
			return err
		}
		body = raw
	}
	if o.writeTimeout > 0 {
		_ = o.conn.SetWriteDeadline(time.Now().Add(o.writeTimeout))
	}
	return frame.WriteFrame(o.conn, frame.Frame{PacketID: id, Payload: body}, o.limits)
}

func (o *ConnObserver) OnClosed() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	logs.Debugf("gateway.ConnObserver.OnClosed conn=%s remote=%s", o.id, o.conn.RemoteAddr())
	return o.conn.Close()
}

func (o *ConnObserver) UseCompression(threshold uint32) error {
	o.threshold.Store(int64(threshold))
	logs.Debugf("gateway.ConnObserver.UseCompression conn=%s threshold=%d", o.id, threshold)
	return nil
}
