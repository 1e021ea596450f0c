// SPDX-License-Identifier: MIT

package bus

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/consultease/central/internal/config"
)

// link is the narrow seam over the broker connection. Tests substitute a
// fake; production uses paho.
type link interface {
	// Connect dials the broker. Blocking, bounded by the timeout baked
	// into the implementation.
	Connect() error
	// Publish delivers one message. Blocking until the broker acks (for
	// QoS > 0) or the send times out.
	Publish(topic string, qos byte, payload []byte) error
	// Subscribe installs a handler for a topic pattern.
	Subscribe(pattern string, qos byte, fn func(topic string, payload []byte)) error
	// Disconnect closes the connection.
	Disconnect()
	// Connected reports link health.
	Connected() bool
}

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	keepAlive      = 30 * time.Second
)

// pahoLink adapts the Eclipse paho client to the link seam. Automatic
// reconnect is disabled: the Client's own loop owns retry policy,
// resubscription and spool replay ordering.
type pahoLink struct {
	client mqtt.Client
	onLost func(error)
}

func newPahoLink(cfg config.BrokerSettings, onLost func(error)) *pahoLink {
	l := &pahoLink{onLost: onLost}

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			if l.onLost != nil {
				l.onLost(err)
			}
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	l.client = mqtt.NewClient(opts)
	return l
}

func (l *pahoLink) Connect() error {
	tok := l.client.Connect()
	if !tok.WaitTimeout(connectTimeout) {
		return fmt.Errorf("broker connect timed out after %s", connectTimeout)
	}
	return tok.Error()
}

func (l *pahoLink) Publish(topic string, qos byte, payload []byte) error {
	tok := l.client.Publish(topic, qos, false, payload)
	if !tok.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s timed out after %s", topic, publishTimeout)
	}
	return tok.Error()
}

func (l *pahoLink) Subscribe(pattern string, qos byte, fn func(topic string, payload []byte)) error {
	tok := l.client.Subscribe(pattern, qos, func(_ mqtt.Client, m mqtt.Message) {
		fn(m.Topic(), m.Payload())
	})
	if !tok.WaitTimeout(connectTimeout) {
		return fmt.Errorf("subscribe to %s timed out", pattern)
	}
	return tok.Error()
}

func (l *pahoLink) Disconnect() {
	l.client.Disconnect(250)
}

func (l *pahoLink) Connected() bool {
	return l.client.IsConnected()
}
