package subscriber

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ghalamif/AegisStream/internal/ports"
)

const DefaultMQTTTopic = "aegis/stream"

var ErrMQTTNotConnected = errors.New("mqtt not connected")

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      byte   `yaml:"qos"`
}

// MQTT republishes every frame on one topic. The broker connection
// reconnects on its own; frames produced while it is down fail and are
// counted by the broadcaster.
type MQTT struct {
	client mqtt.Client
	topic  string
	qos    byte
}

func NewMQTT(client mqtt.Client, topic string, qos byte) *MQTT {
	if topic == "" {
		topic = DefaultMQTTTopic
	}
	return &MQTT{client: client, topic: topic, qos: qos}
}

// DialMQTT connects to the broker with auto-reconnect enabled.
func DialMQTT(ctx context.Context, cfg MQTTConfig) (*MQTT, error) {
	if strings.TrimSpace(cfg.Broker) == "" {
		return nil, fmt.Errorf("mqtt subscriber: %w", ports.ErrMissingDestination)
	}
	broker := cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "aegis-stream"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		slog.Info("mqtt connection established", "broker", broker, "client_id", clientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		slog.Warn("mqtt connection lost, will auto-reconnect", "broker", broker, "error", err)
	}

	client := mqtt.NewClient(opts)
	if err := waitToken(ctx, client.Connect()); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return NewMQTT(client, cfg.Topic, cfg.QoS), nil
}

func (m *MQTT) ID() string { return "mqtt:" + m.topic }

func (m *MQTT) Send(ctx context.Context, frame []byte) error {
	if !m.client.IsConnectionOpen() {
		return ErrMQTTNotConnected
	}
	if err := waitToken(ctx, m.client.Publish(m.topic, m.qos, false, frame)); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", m.topic, err)
	}
	return nil
}

func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}

func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ ports.Subscriber = (*MQTT)(nil)
