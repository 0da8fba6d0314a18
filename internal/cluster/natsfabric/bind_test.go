package natsfabric

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/blockgate/internal/protocol"
	"github.com/danmuck/blockgate/internal/protocol/codec"
	"github.com/danmuck/blockgate/internal/protocol/frame"
	"github.com/danmuck/blockgate/internal/protocol/packets"
	"github.com/danmuck/blockgate/internal/sink"
	"github.com/danmuck/blockgate/internal/testutil/testlog"
)

const (
	testPrefix   = "bg"
	testObserver = "n2.conn.abc"
)

func runServer(t *testing.T) string {
	t.Helper()
	ns, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	require.NoError(t, err)
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		t.Fatalf("nats server not ready")
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns.ClientURL()
}

type boundFabric struct {
	fabric *Fabric
	dir    *sink.Directory
	peer   *nats.Conn
	inbox  *nats.Subscription
}

// newBoundFabric serves a directory over a live server and returns a peer
// connection standing in for another cluster member.
func newBoundFabric(t *testing.T) *boundFabric {
	t.Helper()
	url := runServer(t)
	ctx := context.Background()

	f := New(Config{URL: url, Name: "blockgate-test", SubjectPrefix: testPrefix, HandlerTimeout: 2 * time.Second})
	require.NoError(t, f.Connect(ctx))
	t.Cleanup(func() { _ = f.Close() })

	pk := frame.NewPackager(codec.New(packets.Registry()), frame.WithThreshold(frame.NoCompression))
	dir := sink.NewDirectory(pk, sink.DirectoryConfig{IdleGrace: time.Minute})
	t.Cleanup(func() { _ = dir.Close(ctx) })
	require.NoError(t, f.BindDirectory(dir))

	peer, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(peer.Close)
	inbox, err := peer.SubscribeSync(testObserver + ".>")
	require.NoError(t, err)
	require.NoError(t, peer.Flush())

	return &boundFabric{fabric: f, dir: dir, peer: peer, inbox: inbox}
}

func (b *boundFabric) request(t *testing.T, id, op string, data []byte) string {
	t.Helper()
	msg, err := b.peer.Request(SinkSubject(testPrefix, id, op), data, 2*time.Second)
	require.NoError(t, err)
	return string(msg.Data)
}

func (b *boundFabric) next(t *testing.T) *nats.Msg {
	t.Helper()
	msg, err := b.inbox.NextMsg(2 * time.Second)
	require.NoError(t, err)
	return msg
}

func (b *boundFabric) subscribers(t *testing.T, id string) int {
	t.Helper()
	info, ok := b.dir.Info(id)
	require.True(t, ok, "sink %s not registered", id)
	return info.Subscribers
}

func TestBoundDirectoryDeliversToRemoteObserver(t *testing.T) {
	testlog.Start(t)
	b := newBoundFabric(t)

	assert.Equal(t, "ok", b.request(t, "player-1", opSubscribe, []byte(testObserver)))
	assert.Equal(t, 1, b.subscribers(t, "player-1"))

	payload := []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x2a}
	assert.Equal(t, "ok", b.request(t, "player-1", opSend, EncodeSend(0x21, payload)))
	msg := b.next(t)
	assert.Equal(t, testObserver+".packet", msg.Subject)
	assert.Equal(t, EncodeSend(0x21, payload), msg.Data)

	assert.Equal(t, "ok", b.request(t, "player-1", opCompression, protocol.AppendVarInt(nil, 256)))
	msg = b.next(t)
	assert.Equal(t, testObserver+".compression", msg.Subject)
	assert.Equal(t, protocol.AppendVarInt(nil, 256), msg.Data)

	assert.Equal(t, "ok", b.request(t, "player-1", opClose, nil))
	msg = b.next(t)
	assert.Equal(t, testObserver+".closed", msg.Subject)
	assert.Empty(t, msg.Data)

	require.Eventually(t, func() bool {
		_, live := b.dir.Lookup("player-1")
		return !live
	}, time.Second, 5*time.Millisecond)
	_, known := b.fabric.remote("player-1", testObserver)
	assert.False(t, known)
}

func TestBoundDirectoryRepeatSubscribeAndUnsubscribe(t *testing.T) {
	testlog.Start(t)
	b := newBoundFabric(t)

	assert.Equal(t, "ok", b.request(t, "player-2", opSubscribe, []byte(testObserver)))
	assert.Equal(t, "ok", b.request(t, "player-2", opSubscribe, []byte(" "+testObserver+" ")))
	assert.Equal(t, 1, b.subscribers(t, "player-2"))

	assert.Equal(t, "ok", b.request(t, "player-2", opSend, EncodeSend(0x10, []byte{0x01})))
	assert.Equal(t, testObserver+".packet", b.next(t).Subject)
	_, err := b.inbox.NextMsg(200 * time.Millisecond)
	assert.ErrorIs(t, err, nats.ErrTimeout, "repeat subscribe must not duplicate deliveries")

	assert.Equal(t, "ok", b.request(t, "player-2", opUnsubscribe, []byte(testObserver)))
	assert.Equal(t, 0, b.subscribers(t, "player-2"))
	_, known := b.fabric.remote("player-2", testObserver)
	assert.False(t, known)

	assert.Equal(t, "ok", b.request(t, "player-2", opSend, EncodeSend(0x11, []byte{0x02})))
	_, err = b.inbox.NextMsg(200 * time.Millisecond)
	assert.ErrorIs(t, err, nats.ErrTimeout)

	// unknown subjects are a no-op
	assert.Equal(t, "ok", b.request(t, "player-2", opUnsubscribe, []byte("n3.conn.zzz")))

	assert.Equal(t, "ok", b.request(t, "player-2", opSubscribe, []byte(testObserver)))
	assert.Equal(t, 1, b.subscribers(t, "player-2"))
}

func TestBoundDirectoryRejectsBadRequests(t *testing.T) {
	testlog.Start(t)
	b := newBoundFabric(t)

	assert.Contains(t, b.request(t, "player-3", opSubscribe, nil), "invalid observer subject")
	assert.Contains(t, b.request(t, "player-3", opSubscribe, []byte("n2.*")), "invalid observer subject")
	assert.NotEqual(t, "ok", b.request(t, "player-3", opSend, nil))
	assert.NotEqual(t, "ok", b.request(t, "player-3", opCompression, nil))
}
