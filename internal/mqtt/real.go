package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/dkronst/juiced/internal/evse"
	"github.com/dkronst/juiced/internal/meter"
)

// outboxCapacity bounds how many messages are held across a broker outage.
const outboxCapacity = 256

// RealPublisher publishes to an actual MQTT broker. Messages produced while
// the broker is unreachable are queued and replayed on reconnection.
type RealPublisher struct {
	client paho.Client

	mu  sync.Mutex
	out *outbox
}

// NewRealPublisher creates a publisher connected to the given broker.
func NewRealPublisher(broker string) (*RealPublisher, error) {
	p := &RealPublisher{out: newOutbox(outboxCapacity)}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID("juiced").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(paho.Client) { p.replay() })

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

// Publish sends a state-machine event to the MQTT broker.
func (p *RealPublisher) Publish(event evse.Event) error {
	payload, err := FormatEventPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 1 (at-least-once): power and fault events must not be lost.
	return p.publish(TopicEvents, 1, false, payload)
}

// PublishTelemetry sends a meter reading to the MQTT broker.
func (p *RealPublisher) PublishTelemetry(m meter.Measurement, at time.Time) error {
	payload, err := FormatTelemetryPayload(m, at)
	if err != nil {
		return fmt.Errorf("format telemetry payload: %w", err)
	}
	// QoS 0 (at-most-once): the next reading supersedes a lost one.
	return p.publish(TopicTelemetry, 0, false, payload)
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once): lifecycle events must not be lost.
	return p.publish(TopicSystem, 1, event.Retained, payload)
}

// publish sends one message, queueing it instead if the broker is away.
func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	if !p.client.IsConnected() {
		p.mu.Lock()
		p.out.push(outboxMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		p.mu.Unlock()
		return nil
	}

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// replay flushes the outbox after a (re)connection. On a broker error the
// unreplayed tail goes back into the outbox for the next reconnection.
func (p *RealPublisher) replay() {
	p.mu.Lock()
	msgs := p.out.drain()
	p.mu.Unlock()

	for i, m := range msgs {
		token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
		var err error
		if !token.WaitTimeout(5 * time.Second) {
			err = fmt.Errorf("timeout")
		} else {
			err = token.Error()
		}
		if err != nil {
			log.Printf("mqtt: replay on %s: %v, requeueing %d messages", m.topic, err, len(msgs)-i)
			p.mu.Lock()
			p.out.pushAll(msgs[i:])
			p.mu.Unlock()
			return
		}
	}
}

// IsConnected reports whether the broker connection is active.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnected()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
