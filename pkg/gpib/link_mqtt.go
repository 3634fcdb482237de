package gpib

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"gpib-load-bridge/pkg/config"
	bridgeerrors "gpib-load-bridge/pkg/errors"
	"gpib-load-bridge/pkg/logger"
)

// MQTTLink tunnels the controller's serial stream through a serial/MQTT device
// server: bytes written are published on the command topic and bytes received on
// the data topic are buffered for Read. It implements io.ReadWriteCloser.
type MQTTLink struct {
	client    paho.Client
	mqttCfg   *config.MQTTConfig
	cmdTopic  string
	dataTopic string

	mu        sync.Mutex
	buf       bytes.Buffer
	deadline  time.Time
	connected bool
	closed    bool
	notify    chan struct{}
}

// NewMQTTLink creates a link; Connect must be called before use
func NewMQTTLink(cfg *config.MQTTConfig, cmdTopic, dataTopic string) *MQTTLink {
	opts := paho.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port))
	opts.SetClientID(cfg.ClientID + "_gpib")
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	link := newMQTTLink(nil, cfg, cmdTopic, dataTopic)

	opts.SetOnConnectHandler(func(client paho.Client) {
		link.setConnected(true)
		logger.LogInfo("GPIB link connected to MQTT broker")

		if token := client.Subscribe(dataTopic, 0, link.onMessage); token.Wait() && token.Error() != nil {
			logger.LogError("Error subscribing to %s: %v", dataTopic, token.Error())
		} else {
			logger.LogInfo("GPIB link subscribed to: %s", dataTopic)
		}
	})

	opts.SetConnectionLostHandler(func(client paho.Client, err error) {
		link.setConnected(false)
		logger.LogError("GPIB link disconnected: %v", err)
	})

	link.client = paho.NewClient(opts)
	return link
}

func newMQTTLink(client paho.Client, cfg *config.MQTTConfig, cmdTopic, dataTopic string) *MQTTLink {
	return &MQTTLink{
		client:    client,
		mqttCfg:   cfg,
		cmdTopic:  cmdTopic,
		dataTopic: dataTopic,
		notify:    make(chan struct{}, 1),
	}
}

// String names the link in logs and errors
func (l *MQTTLink) String() string {
	return fmt.Sprintf("mqtt://%s:%d/%s", l.mqttCfg.Broker, l.mqttCfg.Port, l.cmdTopic)
}

// Connect connects the link to the broker, retrying until ctx is done
func (l *MQTTLink) Connect(ctx context.Context) error {
	retryDelay := time.Duration(l.mqttCfg.RetryDelay) * time.Millisecond
	if retryDelay == 0 {
		retryDelay = 5 * time.Second
	}

	for attempt := 1; ; attempt++ {
		logger.LogDebug("Attempting to connect GPIB link to MQTT broker (attempt %d)...", attempt)

		token := l.client.Connect()
		if token.Wait() && token.Error() == nil {
			if l.waitConnected(ctx) {
				logger.LogInfo("GPIB link connected after %d attempts", attempt)
				return nil
			}
			logger.LogWarn("GPIB link connection establishment timeout (attempt %d)", attempt)
		} else {
			logger.LogError("GPIB link connection failed (attempt %d): %v", attempt, token.Error())
		}

		select {
		case <-ctx.Done():
			return bridgeerrors.NewMQTTError("connect", ctx.Err(), l.mqttCfg.Broker)
		case <-time.After(retryDelay):
		}
	}
}

// waitConnected waits for the on-connect handler (and its subscription) to run
func (l *MQTTLink) waitConnected(ctx context.Context) bool {
	for i := 0; i < 50; i++ {
		if l.IsConnected() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
	return false
}

// IsConnected checks if the link is connected
func (l *MQTTLink) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected && l.client.IsConnected()
}

func (l *MQTTLink) setConnected(v bool) {
	l.mu.Lock()
	l.connected = v
	l.mu.Unlock()
}

// Write publishes p on the command topic
func (l *MQTTLink) Write(p []byte) (int, error) {
	if !l.IsConnected() {
		return 0, fmt.Errorf("mqtt link is not connected")
	}

	payload := append([]byte(nil), p...)
	token := l.client.Publish(l.cmdTopic, 0, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return 0, fmt.Errorf("publish to %s timed out", l.cmdTopic)
	}
	if err := token.Error(); err != nil {
		return 0, fmt.Errorf("error publishing to %s: %w", l.cmdTopic, err)
	}
	return len(p), nil
}

// Read returns buffered bytes from the data topic, blocking until some arrive,
// the read deadline passes (os.ErrDeadlineExceeded) or the link is closed (io.EOF).
func (l *MQTTLink) Read(p []byte) (int, error) {
	for {
		l.mu.Lock()
		if l.buf.Len() > 0 {
			n, _ := l.buf.Read(p)
			l.mu.Unlock()
			return n, nil
		}
		if l.closed {
			l.mu.Unlock()
			return 0, io.EOF
		}
		deadline := l.deadline
		l.mu.Unlock()

		if deadline.IsZero() {
			<-l.notify
			continue
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, os.ErrDeadlineExceeded
		}
		timer := time.NewTimer(remaining)
		select {
		case <-l.notify:
			timer.Stop()
		case <-timer.C:
			return 0, os.ErrDeadlineExceeded
		}
	}
}

// SetReadDeadline bounds the next blocking Read
func (l *MQTTLink) SetReadDeadline(t time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deadline = t
	return nil
}

// Close disconnects from the broker and unblocks pending reads
func (l *MQTTLink) Close() error {
	l.mu.Lock()
	l.closed = true
	l.connected = false
	l.mu.Unlock()

	l.wake()
	if l.client != nil && l.client.IsConnected() {
		l.client.Disconnect(250)
	}
	return nil
}

// onMessage buffers bytes sent by the controller
func (l *MQTTLink) onMessage(client paho.Client, msg paho.Message) {
	data := msg.Payload()
	if logger.IsTraceEnabled() {
		logger.LogTrace("GPIB link received on %s: % x", msg.Topic(), data)
	}

	l.mu.Lock()
	l.buf.Write(data)
	l.mu.Unlock()
	l.wake()
}

func (l *MQTTLink) wake() {
	select {
	case l.notify <- struct{}{}:
	default:
	}
}
