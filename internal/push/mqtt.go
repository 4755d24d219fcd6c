package push

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// MQTTTransport carries push events over an MQTT broker. Events arrive on
// <prefix>/events/<event> and commands are published to
// <prefix>/commands/<event>; payloads are the bare event data.
type MQTTTransport struct {
	Broker   string
	Username string
	Password string
	Prefix   string
	QoS      byte
}

func NewMQTTTransport(broker, prefix string) *MQTTTransport {
	if prefix == "" {
		prefix = "plantwatch"
	}
	return &MQTTTransport{Broker: broker, Prefix: strings.TrimRight(prefix, "/")}
}

func (t *MQTTTransport) eventTopic() string {
	return t.Prefix + "/events/+"
}

func (t *MQTTTransport) commandTopic(event string) string {
	return t.Prefix + "/commands/" + event
}

var errConnClosed = errors.New("connection closed")

func (t *MQTTTransport) Dial(ctx context.Context) (Conn, error) {
	c := &mqttConn{
		transport: t,
		msgs:      make(chan Message, 64),
		closed:    make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(t.Broker)
	opts.SetClientID("plantwatch-" + uuid.NewString())
	opts.SetUsername(t.Username)
	opts.SetPassword(t.Password)
	opts.SetCleanSession(true)
	// Reconnection is owned by Channel.
	opts.SetAutoReconnect(false)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.shutdown(err)
	})

	client := mqtt.NewClient(opts)
	if err := wait(ctx, client.Connect()); err != nil {
		return nil, fmt.Errorf("connect %s: %w", t.Broker, err)
	}
	c.client = client

	if err := wait(ctx, client.Subscribe(t.eventTopic(), t.QoS, c.onMessage)); err != nil {
		client.Disconnect(250)
		return nil, fmt.Errorf("subscribe %s: %w", t.eventTopic(), err)
	}
	return c, nil
}

func wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

type mqttConn struct {
	transport *MQTTTransport
	client    mqtt.Client
	msgs      chan Message
	closed    chan struct{}

	once sync.Once
	err  error
}

func (c *mqttConn) onMessage(_ mqtt.Client, m mqtt.Message) {
	topic := m.Topic()
	event := topic[strings.LastIndex(topic, "/")+1:]
	msg := Message{Event: event, Data: append([]byte(nil), m.Payload()...)}
	select {
	case c.msgs <- msg:
	case <-c.closed:
	default:
		log.Printf("push: mqtt: receive buffer full, dropping %s", event)
	}
}

func (c *mqttConn) Send(m Message) error {
	token := c.client.Publish(c.transport.commandTopic(m.Event), c.transport.QoS, false, []byte(m.Data))
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s: timed out", m.Event)
	}
	return token.Error()
}

func (c *mqttConn) Receive() (Message, error) {
	select {
	case m := <-c.msgs:
		return m, nil
	case <-c.closed:
		return Message{}, c.err
	}
}

func (c *mqttConn) shutdown(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.closed)
	})
}

func (c *mqttConn) Close() error {
	c.shutdown(errConnClosed)
	if c.client.IsConnected() {
		c.client.Disconnect(250)
	}
	return nil
}
