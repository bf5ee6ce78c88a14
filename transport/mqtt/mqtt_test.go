package mqtt

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	mqttserver "github.com/mochi-co/mqtt/server"
	"github.com/mochi-co/mqtt/server/listeners"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/timzifer/surplus/config"
	"github.com/timzifer/surplus/transport"
)

func startMockBroker(t *testing.T) (string, func()) {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	server := mqttserver.NewServer(nil)
	tcp := listeners.NewTCP("test", addr)
	require.NoError(t, server.AddListener(tcp, nil))
	require.NoError(t, server.Serve())
	require.NoError(t, waitForBroker(addr, 5*time.Second))

	return "tcp://" + addr, func() {
		_ = server.Close()
	}
}

func waitForBroker(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	return fmt.Errorf("broker at %s did not start", addr)
}

func subscribe(t *testing.T, brokerURL, topic string) <-chan paho.Message {
	t.Helper()
	opts := paho.NewClientOptions().AddBroker(brokerURL).SetClientID("subscriber")
	client := paho.NewClient(opts)
	token := client.Connect()
	require.True(t, token.WaitTimeout(5*time.Second), "connect timeout")
	require.NoError(t, token.Error())
	t.Cleanup(func() { client.Disconnect(250) })

	messages := make(chan paho.Message, 4)
	token = client.Subscribe(topic, 1, func(_ paho.Client, msg paho.Message) {
		messages <- msg
	})
	require.True(t, token.WaitTimeout(5*time.Second), "subscribe timeout")
	require.NoError(t, token.Error())
	return messages
}

func TestDriverPublishesSwitchCommands(t *testing.T) {
	brokerURL, shutdown := startMockBroker(t)
	defer shutdown()

	messages := subscribe(t, brokerURL, "surplus/switch/+/set")

	settings := config.Default().Transports.MQTT
	settings.Enabled = true
	settings.Broker = brokerURL
	settings.ClientID = "controller"
	settings.QoS = 1

	driver, err := Dial(settings, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = driver.Close() })

	require.NoError(t, driver.Send(context.Background(), 2, true))
	select {
	case msg := <-messages:
		require.Equal(t, "surplus/switch/2/set", msg.Topic())
		require.Equal(t, "ON", string(msg.Payload()))
	case <-time.After(5 * time.Second):
		t.Fatal("switch command not received")
	}

	require.NoError(t, driver.Send(context.Background(), 2, false))
	select {
	case msg := <-messages:
		require.Equal(t, "OFF", string(msg.Payload()))
	case <-time.After(5 * time.Second):
		t.Fatal("switch command not received")
	}
}

func TestDriverRejectsChannelOutOfRange(t *testing.T) {
	driver := &Driver{settings: config.Default().Transports.MQTT, timeout: time.Second}
	require.ErrorIs(t, driver.Send(context.Background(), 0, true), transport.ErrChannelOutOfRange)
}

func TestDialRequiresBroker(t *testing.T) {
	_, err := Dial(config.MQTTConfig{}, zerolog.Nop())
	require.Error(t, err)
}
