// Package mqtt carries raw sensor samples in and fused snapshots out over an
// MQTT broker.
package mqtt

import (
	"fmt"
	"log"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

var logf = log.Printf

// tokenTimeout bounds every broker round trip.
var tokenTimeout = 5 * time.Second

// Client is the part of paho.Client used by Source and Sink.
type Client interface {
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Unsubscribe(topics ...string) paho.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

type Config struct {
	Broker   string
	ClientID string
	// TopicPrefix roots every topic, without a trailing slash.
	TopicPrefix string
	QoS         byte
}

// clientID returns the configured ID or a random one.
func (c Config) clientID() string {
	if c.ClientID != "" {
		return c.ClientID
	}
	return "sensorfusion-" + uuid.NewString()
}

func (c Config) prefix() string {
	return strings.TrimRight(c.TopicPrefix, "/")
}

// Connect dials the broker with automatic reconnect enabled.
func Connect(cfg Config) (paho.Client, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt: broker is required")
	}
	id := cfg.clientID()
	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(id).
		SetAutoReconnect(true).
		SetConnectTimeout(tokenTimeout).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logf("mqtt: connection lost: %v", err)
		}).
		SetOnConnectHandler(func(paho.Client) {
			logf("mqtt: connected to %s as %s", cfg.Broker, id)
		})

	client := paho.NewClient(opts)
	if err := wait(client.Connect()); err != nil {
		return nil, fmt.Errorf("mqtt: connect %s: %w", cfg.Broker, err)
	}
	return client, nil
}

func wait(tok paho.Token) error {
	if tok == nil {
		return nil
	}
	if !tok.WaitTimeout(tokenTimeout) {
		return fmt.Errorf("timed out after %s", tokenTimeout)
	}
	return tok.Error()
}
