package broker

import (
	"net"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"

	"github.com/kabili207/mesh-telegraph/pkg/auth"
	"github.com/kabili207/mesh-telegraph/pkg/config"
	"github.com/kabili207/mesh-telegraph/pkg/pipeline"
)

type fakeSink struct {
	mu   sync.Mutex
	msgs []pipeline.Message
}

func (f *fakeSink) Submit(msg pipeline.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func startBroker(t *testing.T, sink pipeline.Submitter) (string, *Broker) {
	t.Helper()
	addr := freeAddr(t)
	b, err := New(config.MQTTSettings{
		Topics: []string{"msh/US/2/e/#"},
		Broker: config.BrokerSettings{
			ListenAddr: addr,
			Users: []config.BrokerUser{{
				Username:     "gateway",
				Salt:         "pepper",
				PasswordHash: auth.HashPasswordWithSalt("hunter2", "pepper"),
			}},
		},
	}, sink, nil)
	require.NoError(t, err)
	require.NoError(t, b.Start())
	t.Cleanup(func() { _ = b.Close() })
	return addr, b
}

func dial(t *testing.T, addr, user, pass string) (paho.Client, error) {
	t.Helper()
	opts := paho.NewClientOptions().
		AddBroker("tcp://" + addr).
		SetClientID("test-" + user).
		SetUsername(user).
		SetPassword(pass).
		SetConnectTimeout(2 * time.Second)
	c := paho.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, paho.ErrNotConnected
	}
	return c, token.Error()
}

func TestBrokerForwardsPublishes(t *testing.T) {
	sink := &fakeSink{}
	addr, b := startBroker(t, sink)

	c, err := dial(t, addr, "gateway", "hunter2")
	require.NoError(t, err)
	defer c.Disconnect(100)

	token := c.Publish("msh/US/2/e/LongFast/!0000002a", 1, false, []byte{0x0a, 0x00})
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())

	require.Eventually(t, func() bool { return sink.count() == 1 }, 5*time.Second, 10*time.Millisecond)
	sink.mu.Lock()
	require.Equal(t, "msh/US/2/e/LongFast/!0000002a", sink.msgs[0].Topic)
	require.Equal(t, []byte{0x0a, 0x00}, sink.msgs[0].Payload)
	sink.mu.Unlock()

	clients := b.GetClients()
	require.Len(t, clients, 1)
	require.Equal(t, "test-gateway", clients[0].ClientID)
	require.Equal(t, "gateway", clients[0].UserID)
	require.Equal(t, uint64(1), clients[0].Publishes)
}

func TestBrokerRejectsBadCredentials(t *testing.T) {
	addr, b := startBroker(t, &fakeSink{})

	_, err := dial(t, addr, "gateway", "wrong")
	require.Error(t, err)
	require.Empty(t, b.GetClients())
}

func TestNewRequiresSink(t *testing.T) {
	_, err := New(config.MQTTSettings{}, nil, nil)
	require.Error(t, err)
}
