package push

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smartfarm/dashboard-client/internal/metrics"
	"github.com/smartfarm/dashboard-client/internal/session"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func newChannel(t *testing.T, token string) (*Channel, *metrics.Metrics) {
	t.Helper()
	met := metrics.NewNop()
	ch := New(Config{
		BrokerURL: "tcp://127.0.0.1:1", // never dialed in these tests
		Session:   session.New(token, nil),
		Logger:    zap.NewNop(),
		Metrics:   met,
	})
	return ch, met
}

func TestUndecodableCredentialIsSilentNoop(t *testing.T) {
	ch, _ := newChannel(t, "not-a-jwt")

	// No subscription attempt, no error: push simply stays off.
	err := ch.Start(context.Background())
	require.NoError(t, err)
	assert.False(t, ch.Connected())
}

func TestEmptyCredentialIsSilentNoop(t *testing.T) {
	ch, _ := newChannel(t, "")
	require.NoError(t, ch.Start(context.Background()))
	assert.False(t, ch.Connected())
}

func TestInboundFrameDelivered(t *testing.T) {
	ch, met := newChannel(t, "x.y.z")

	ch.onMessage(nil, fakeMessage{topic: "notifications/9", payload: []byte(`{"message":"pump turned on"}`)})

	select {
	case ev := <-ch.Events():
		assert.Equal(t, "pump turned on", ev.Message)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(met.PushEvents))
}

func TestMalformedFrameDropped(t *testing.T) {
	ch, met := newChannel(t, "x.y.z")

	ch.onMessage(nil, fakeMessage{topic: "notifications/9", payload: []byte(`not json`)})
	ch.onMessage(nil, fakeMessage{topic: "notifications/9", payload: []byte(`{"other":"field"}`)})

	select {
	case ev := <-ch.Events():
		t.Fatalf("unexpected event: %+v", ev)
	default:
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(met.PushDropped))
}

func TestFullConsumerDropsInsteadOfBlocking(t *testing.T) {
	ch, met := newChannel(t, "x.y.z")

	for i := 0; i < cap(ch.events)+5; i++ {
		ch.onMessage(nil, fakeMessage{payload: []byte(`{"message":"m"}`)})
	}
	assert.Equal(t, float64(cap(ch.events)), testutil.ToFloat64(met.PushEvents))
	assert.Equal(t, 5.0, testutil.ToFloat64(met.PushDropped))
}

func TestStopWithoutStartIsSafe(t *testing.T) {
	ch, _ := newChannel(t, "whatever")
	ch.Stop()
	ch.Stop()
}
