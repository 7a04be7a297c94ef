package mqttclient

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

type MessageHandler func(topic string, payload []byte)

type Client struct {
	conn      mqtt.Client
	prefix    string
	topics    []string
	connected atomic.Bool
	published atomic.Int64
	log       zerolog.Logger

	mu      sync.RWMutex
	handler MessageHandler
}

type Options struct {
	BrokerURL string
	ClientID  string
	// TopicPrefix roots every topic, e.g. "transcript-sync".
	TopicPrefix string
	Username    string
	Password    string
	Log         zerolog.Logger
}

func Connect(opts Options) (*Client, error) {
	if opts.BrokerURL == "" {
		return nil, errors.New("mqtt broker url is empty")
	}
	prefix := strings.Trim(opts.TopicPrefix, "/")
	c := &Client{
		prefix: prefix,
		topics: []string{PositionFilter(prefix)},
		log:    opts.Log.With().Str("component", "mqtt").Logger(),
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost).
		SetDefaultPublishHandler(c.onMessage)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	c.conn = mqtt.NewClient(clientOpts)
	token := c.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}

	return c, nil
}

// Prefix returns the normalized topic prefix.
func (c *Client) Prefix() string { return c.prefix }

func (c *Client) SetMessageHandler(h MessageHandler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// Publish sends payload at QoS 0 without waiting for the broker. It is
// called from highlight notification paths and must not block.
func (c *Client) Publish(topic string, payload []byte) error {
	if !c.connected.Load() {
		return errNotConnected
	}
	c.conn.Publish(topic, 0, false, payload)
	c.published.Add(1)
	return nil
}

// Published counts messages handed to the broker connection.
func (c *Client) Published() int64 { return c.published.Load() }

var errNotConnected = errors.New("mqtt not connected")

func (c *Client) onConnect(client mqtt.Client) {
	c.connected.Store(true)
	c.log.Info().Strs("topics", c.topics).Msg("mqtt connected, subscribing")

	filters := make(map[string]byte, len(c.topics))
	for _, t := range c.topics {
		filters[t] = 0
	}
	token := client.SubscribeMultiple(filters, nil)
	token.Wait()
	if err := token.Error(); err != nil {
		c.log.Error().Err(err).Msg("mqtt subscribe failed")
	}
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.connected.Store(false)
	c.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

func (c *Client) onMessage(_ mqtt.Client, msg mqtt.Message) {
	c.mu.RLock()
	h := c.handler
	c.mu.RUnlock()
	if h != nil {
		h(msg.Topic(), msg.Payload())
		return
	}
	c.log.Debug().
		Str("topic", msg.Topic()).
		Int("payload_size", len(msg.Payload())).
		Msg("mqtt message received")
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

func (c *Client) Close() {
	c.log.Info().Msg("disconnecting mqtt client")
	c.conn.Disconnect(1000)
}
