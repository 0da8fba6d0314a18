package natsfabric

import (
	"github.com/nats-io/nats.go"

	"github.com/danmuck/blockgate/internal/protocol"
)

// RemoteObserver forwards sink deliveries to a connection held by another
// cluster member.
type RemoteObserver struct {
	conn    *nats.Conn
	subject string
	release func()
}

func NewRemoteObserver(conn *nats.Conn, subject string) *RemoteObserver {
	return &RemoteObserver{conn: conn, subject: subject}
}

func (o *RemoteObserver) Subject() string { return o.subject }

func (o *RemoteObserver) ReceivePacket(id uint32, payload []byte) error {
	if o.conn == nil {
		return ErrNotConnected
	}
	return o.conn.Publish(o.subject+".packet", EncodeSend(id, payload))
}

// OnClosed forwards the close and forgets the binding, so a later
// subscribe from the same subject attaches to the next sink for the id.
func (o *RemoteObserver) OnClosed() error {
	if o.release != nil {
		o.release()
	}
	if o.conn == nil {
		return ErrNotConnected
	}
	return o.conn.Publish(o.subject+".closed", nil)
}

func (o *RemoteObserver) UseCompression(threshold uint32) error {
	if o.conn == nil {
		return ErrNotConnected
	}
	return o.conn.Publish(o.subject+".compression", protocol.AppendVarInt(nil, threshold))
}
