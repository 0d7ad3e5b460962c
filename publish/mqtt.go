// Package publish sends sensor readings to an MQTT broker.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/mklimuk/sensorhub/device"
	"github.com/mklimuk/sensorhub/snsctx"
)

// Client is the subset of the paho client the publisher uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

type Options struct {
	Topic    string
	QoS      byte
	Retained bool
	// Timeout bounds the wait for the broker acknowledgement.
	Timeout time.Duration
}

// Message is the JSON payload published for one reading.
type Message struct {
	Device string         `json:"device"`
	Time   time.Time      `json:"time"`
	Values []device.Value `json:"values"`
}

type MQTT struct {
	client Client
	opts   Options
	now    func() time.Time
}

// Connect dials broker and returns a publisher owning the connection.
func Connect(broker, clientID string, opts Options) (*MQTT, error) {
	co := mqtt.NewClientOptions().AddBroker(broker).SetClientID(clientID)
	if opts.Timeout > 0 {
		co.SetConnectTimeout(opts.Timeout)
	}
	client := mqtt.NewClient(co)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", broker, token.Error())
	}
	return New(client, opts), nil
}

func New(client Client, opts Options) *MQTT {
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	return &MQTT{client: client, opts: opts, now: time.Now}
}

// Topic is the per-device topic: <topic>/<device>.
func (p *MQTT) Topic(r device.Reading) string {
	return p.opts.Topic + "/" + r.Device
}

// Publish sends r and waits for the broker acknowledgement, ctx or the
// configured timeout, whichever comes first.
func (p *MQTT) Publish(ctx context.Context, r device.Reading) error {
	payload, err := json.Marshal(Message{Device: r.Device, Time: p.now().UTC(), Values: r.Values})
	if err != nil {
		return fmt.Errorf("could not encode reading: %w", err)
	}
	topic := p.Topic(r)
	token := p.client.Publish(topic, p.opts.QoS, p.opts.Retained, payload)
	timer := time.NewTimer(p.opts.Timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
	case <-timer.C:
		return fmt.Errorf("publish to %s: no acknowledgement after %s", topic, p.opts.Timeout)
	case <-ctx.Done():
		return fmt.Errorf("publish to %s: %w", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	snsctx.Logger(ctx).DebugContext(ctx, "reading published", "topic", topic, "bytes", len(payload))
	return nil
}

func (p *MQTT) Close() {
	p.client.Disconnect(250)
}
