// Package mqtttest provides an in-memory paho client for tests.
package mqtttest

import (
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// Token is an already completed paho token
type Token struct {
	Err error
}

func (t *Token) Wait() bool                     { return true }
func (t *Token) WaitTimeout(time.Duration) bool { return true }
func (t *Token) Error() error                   { return t.Err }

func (t *Token) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Message implements paho.Message
type Message struct {
	TopicName string
	Body      []byte
	Retain    bool
	QoSLevel  byte
}

func (m *Message) Duplicate() bool   { return false }
func (m *Message) Qos() byte         { return m.QoSLevel }
func (m *Message) Retained() bool    { return m.Retain }
func (m *Message) Topic() string     { return m.TopicName }
func (m *Message) MessageID() uint16 { return 0 }
func (m *Message) Payload() []byte   { return m.Body }
func (m *Message) Ack()              {}

// Client records publishes and routes Deliver calls to subscribed handlers.
// OnConnect runs inside Connect, the way paho runs the on-connect handler.
type Client struct {
	mu            sync.Mutex
	connected     bool
	subscriptions map[string]paho.MessageHandler
	Published     []*Message

	ConnectErr error
	PublishErr error
	OnConnect  func(c paho.Client)
	OnPublish  func(m *Message)
}

// NewClient returns a disconnected client
func NewClient() *Client {
	return &Client{subscriptions: make(map[string]paho.MessageHandler)}
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) IsConnectionOpen() bool { return c.IsConnected() }

func (c *Client) Connect() paho.Token {
	if c.ConnectErr != nil {
		return &Token{Err: c.ConnectErr}
	}
	c.mu.Lock()
	c.connected = true
	onConnect := c.OnConnect
	c.mu.Unlock()

	if onConnect != nil {
		onConnect(c)
	}
	return &Token{}
}

func (c *Client) Disconnect(quiesce uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}

func (c *Client) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	if c.PublishErr != nil {
		return &Token{Err: c.PublishErr}
	}

	var body []byte
	switch p := payload.(type) {
	case []byte:
		body = append([]byte(nil), p...)
	case string:
		body = []byte(p)
	}
	msg := &Message{TopicName: topic, Body: body, Retain: retained, QoSLevel: qos}

	c.mu.Lock()
	c.Published = append(c.Published, msg)
	onPublish := c.OnPublish
	c.mu.Unlock()

	if onPublish != nil {
		onPublish(msg)
	}
	return &Token{}
}

func (c *Client) Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscriptions[topic] = callback
	return &Token{}
}

func (c *Client) SubscribeMultiple(filters map[string]byte, callback paho.MessageHandler) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for topic := range filters {
		c.subscriptions[topic] = callback
	}
	return &Token{}
}

func (c *Client) Unsubscribe(topics ...string) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, topic := range topics {
		delete(c.subscriptions, topic)
	}
	return &Token{}
}

func (c *Client) AddRoute(topic string, callback paho.MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscriptions[topic] = callback
}

func (c *Client) OptionsReader() paho.ClientOptionsReader {
	return paho.ClientOptionsReader{}
}

// Subscribed reports whether a handler is registered for topic
func (c *Client) Subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subscriptions[topic]
	return ok
}

// Deliver hands a message to every handler whose filter matches topic
func (c *Client) Deliver(topic string, payload []byte) {
	c.mu.Lock()
	var handlers []paho.MessageHandler
	for filter, h := range c.subscriptions {
		if Match(filter, topic) {
			handlers = append(handlers, h)
		}
	}
	c.mu.Unlock()

	msg := &Message{TopicName: topic, Body: payload}
	for _, h := range handlers {
		h(c, msg)
	}
}

// Find returns the last message published on topic
func (c *Client) Find(topic string) *Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.Published) - 1; i >= 0; i-- {
		if c.Published[i].TopicName == topic {
			return c.Published[i]
		}
	}
	return nil
}

// Messages returns a copy of everything published so far
func (c *Client) Messages() []*Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Message(nil), c.Published...)
}

// Match reports whether an MQTT topic filter with + and # wildcards matches topic
func Match(filter, topic string) bool {
	f := strings.Split(filter, "/")
	t := strings.Split(topic, "/")
	for i, part := range f {
		if part == "#" {
			return true
		}
		if i >= len(t) {
			return false
		}
		if part != "+" && part != t[i] {
			return false
		}
	}
	return len(f) == len(t)
}

var _ paho.Client = (*Client)(nil)
