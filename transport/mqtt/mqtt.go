package mqtt

import (
	"context"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/timzifer/surplus/config"
	"github.com/timzifer/surplus/transport"
)

const defaultTimeout = 5 * time.Second

// Driver publishes on/off payloads to networked remote switches.
type Driver struct {
	client   paho.Client
	settings config.MQTTConfig
	timeout  time.Duration
}

// Dial connects to the broker and returns a driver for transport.ProtocolMQTT.
func Dial(settings config.MQTTConfig, logger zerolog.Logger) (*Driver, error) {
	if settings.Broker == "" {
		return nil, fmt.Errorf("mqtt: broker address is required")
	}
	timeout := settings.Timeout.Duration
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(settings.Broker)
	if settings.ClientID != "" {
		opts.SetClientID(settings.ClientID)
	}
	if settings.Username != "" {
		opts.SetUsername(settings.Username)
		opts.SetPassword(settings.Password)
	}
	opts.SetConnectTimeout(timeout)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn().Err(err).Msg("mqtt: connection lost")
	})
	opts.SetReconnectingHandler(func(_ paho.Client, _ *paho.ClientOptions) {
		logger.Info().Msg("mqtt: reconnecting")
	})

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("mqtt: connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect failed: %w", err)
	}
	return &Driver{client: client, settings: settings, timeout: timeout}, nil
}

// Topic renders the command topic of a channel.
func (d *Driver) Topic(channel int) string {
	return fmt.Sprintf(d.settings.Topic, channel)
}

// Send publishes the payload for the requested state and waits for the broker.
func (d *Driver) Send(ctx context.Context, channel int, on bool) error {
	if err := transport.CheckChannel(channel); err != nil {
		return err
	}
	payload := d.settings.PayloadOff
	if on {
		payload = d.settings.PayloadOn
	}
	token := d.client.Publish(d.Topic(channel), d.settings.QoS, d.settings.Retain, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d.timeout):
		return fmt.Errorf("mqtt: publish to %s timed out", d.Topic(channel))
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: publish to %s: %w", d.Topic(channel), err)
	}
	return nil
}

// Close disconnects from the broker.
func (d *Driver) Close() error {
	if d.client != nil && d.client.IsConnected() {
		d.client.Disconnect(250)
	}
	return nil
}
