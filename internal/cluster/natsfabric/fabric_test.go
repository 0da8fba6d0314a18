package natsfabric

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/blockgate/internal/cluster"
	"github.com/danmuck/blockgate/internal/testutil/testlog"
)

func TestClassifyTransientErrors(t *testing.T) {
	testlog.Start(t)
	transient := []error{
		nats.ErrNoServers,
		nats.ErrTimeout,
		&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")},
	}
	for _, err := range transient {
		assert.ErrorIs(t, classify(err), cluster.ErrClusterUnavailable, err.Error())
		assert.ErrorIs(t, classify(err), err)
	}
	assert.NotErrorIs(t, classify(nats.ErrAuthorization), cluster.ErrClusterUnavailable)
	assert.NotErrorIs(t, classify(errors.New("nats: invalid url")), cluster.ErrClusterUnavailable)
}

func TestConnectUnreachableIsUnavailable(t *testing.T) {
	testlog.Start(t)
	f := New(Config{URL: "nats://127.0.0.1:1", Name: "blockgate-test", ConnectTimeout: 500 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := f.Connect(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, cluster.ErrClusterUnavailable)
	assert.False(t, f.Connected())
	assert.ErrorIs(t, f.BindDirectory(nil), ErrNotConnected)
	assert.NoError(t, f.Close())
}

func TestSupervisorRetriesUnreachableFabric(t *testing.T) {
	testlog.Start(t)
	f := New(Config{URL: "nats://127.0.0.1:1", ConnectTimeout: 200 * time.Millisecond})
	var slept []time.Duration
	sup := cluster.NewSupervisor(f, cluster.Config{MaxRetries: 2, RetryDelay: 4 * time.Second},
		cluster.WithSleeper(func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		}))
	err := sup.Join(context.Background())
	assert.ErrorIs(t, err, cluster.ErrJoinExhausted)
	assert.Equal(t, 3, sup.Attempts())
	assert.Len(t, slept, 2)
}

func TestSinkSubjects(t *testing.T) {
	testlog.Start(t)
	subject := SinkSubject("blockgate", "7f1c-22", "send")
	assert.Equal(t, "blockgate.sink.7f1c-22.send", subject)

	id, op, ok := parseSinkSubject("blockgate", subject)
	require.True(t, ok)
	assert.Equal(t, "7f1c-22", id)
	assert.Equal(t, "send", op)

	for _, bad := range []string{"other.sink.a.send", "blockgate.sink.send", "blockgate.sink.a."} {
		_, _, ok := parseSinkSubject("blockgate", bad)
		assert.False(t, ok, bad)
	}
}

func TestSendEncoding(t *testing.T) {
	testlog.Start(t)
	payload := []byte{0x00, 0x01, 0x02}
	data := EncodeSend(0x25, payload)
	assert.Equal(t, []byte{0x25, 0x00, 0x01, 0x02}, data)

	id, got, err := decodeSend(data)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x25), id)
	assert.Equal(t, payload, got)

	_, _, err = decodeSend(nil)
	assert.Error(t, err)
}

func TestRemoteObserverWithoutConnection(t *testing.T) {
	testlog.Start(t)
	o := NewRemoteObserver(nil, "blockgate.conn.abc")
	assert.Equal(t, "blockgate.conn.abc", o.Subject())
	assert.ErrorIs(t, o.ReceivePacket(1, nil), ErrNotConnected)
	assert.ErrorIs(t, o.OnClosed(), ErrNotConnected)
	assert.ErrorIs(t, o.UseCompression(64), ErrNotConnected)
}

func TestForwardInboundWithoutConnection(t *testing.T) {
	testlog.Start(t)
	f := New(Config{})
	assert.Equal(t, "blockgate.inbound.abc", InboundSubject(DefaultSubjectPrefix, "abc"))
	assert.ErrorIs(t, f.ForwardInbound("abc", 0x0B, nil), ErrNotConnected)
}
