package ingest

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/larmkedjan/larmvakt/internal/logger"
)

// disconnectQuiesceMs is how long the MQTT client may flush on disconnect.
const disconnectQuiesceMs = 250

// unsubscribeTimeout bounds the wait for the broker's unsubscribe ack so a
// stalled connection cannot hang Stop.
const unsubscribeTimeout = 5 * time.Second

// MQTTSource receives raw dispatch messages pushed by an SMS gateway over
// an MQTT topic. This is the preferred source: no polling, messages arrive
// as the gateway forwards them.
type MQTTSource struct {
	// brokerURL is the MQTT broker to connect to.
	brokerURL string
	// topic carries the forwarded messages.
	topic string
	// username and password authenticate against the broker when set.
	username string
	password string

	// client is the live MQTT connection, nil until Start.
	client mqtt.Client
}

// NewMQTTSource creates a source reading from the given broker and topic.
func NewMQTTSource(brokerURL, topic, username, password string) *MQTTSource {
	return &MQTTSource{
		brokerURL: brokerURL,
		topic:     topic,
		username:  username,
		password:  password,
	}
}

// Start connects to the broker and subscribes to the gateway topic.
// Connection or subscription failure maps to ErrSourceUnavailable.
func (s *MQTTSource) Start(ctx context.Context, handler Handler) error {
	opts := mqtt.NewClientOptions().
		AddBroker(s.brokerURL).
		SetClientID("larmvakt-" + uuid.NewString()).
		SetCleanSession(true).
		SetAutoReconnect(true)

	if s.username != "" {
		opts.SetUsername(s.username)
	}

	if s.password != "" {
		opts.SetPassword(s.password)
	}

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.WarnKV(ctx, "Message source connection lost", "error", err)
	})

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		logger.Info(ctx, "Message source connected")
	})

	client := mqtt.NewClient(opts)

	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect %s: %v: %w", s.brokerURL, token.Error(), ErrSourceUnavailable)
	}

	token := client.Subscribe(s.topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		forwarded, err := decodeGatewayMessage(msg.Payload())
		if err != nil {
			logger.WarnKV(ctx, "Dropping undecodable gateway message", "error", err)

			return
		}

		handler(forwarded.Body, forwarded.Sender, forwarded.ReceivedAtMs)
	})

	if token.Wait() && token.Error() != nil {
		client.Disconnect(disconnectQuiesceMs)

		return fmt.Errorf("subscribe %s: %v: %w", s.topic, token.Error(), ErrSourceUnavailable)
	}

	s.client = client

	return nil
}

// Stop unsubscribes and disconnects from the broker.
func (s *MQTTSource) Stop() {
	if s.client == nil {
		return
	}

	token := s.client.Unsubscribe(s.topic)
	if !token.WaitTimeout(unsubscribeTimeout) {
		logger.WarnKV(context.Background(), "Unsubscribe ack timed out", "topic", s.topic)
	} else if token.Error() != nil {
		logger.WarnKV(context.Background(), "Unsubscribe failed", "topic", s.topic, "error", token.Error())
	}

	s.client.Disconnect(disconnectQuiesceMs)
	s.client = nil
}
