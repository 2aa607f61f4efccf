package mqttclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type Options struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	// WaitTimeout bounds every connect, publish and subscribe. Zero waits
	// forever.
	WaitTimeout time.Duration
}

type Client struct {
	raw     mqtt.Client
	timeout time.Duration
}

func New(opts Options) (*Client, error) {
	o := mqtt.NewClientOptions()
	o.AddBroker(opts.BrokerURL)
	o.SetClientID(opts.ClientID)
	if opts.Username != "" {
		o.SetUsername(opts.Username)
		o.SetPassword(opts.Password)
	}
	o.SetAutoReconnect(true)
	o.SetConnectRetry(true)
	o.SetConnectRetryInterval(2 * time.Second)
	c := mqtt.NewClient(o)

	cl := &Client{raw: c, timeout: opts.WaitTimeout}
	if err := cl.wait(c.Connect()); err != nil {
		return nil, fmt.Errorf("connect %s: %w", opts.BrokerURL, err)
	}
	return cl, nil
}

func (c *Client) wait(token mqtt.Token) error {
	if c.timeout <= 0 {
		token.Wait()
		return token.Error()
	}
	if !token.WaitTimeout(c.timeout) {
		return errors.New("mqtt: timed out")
	}
	return token.Error()
}

func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return c.wait(c.raw.Publish(topic, qos, retained, payload))
}

func (c *Client) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	return c.wait(c.raw.Subscribe(topic, qos, handler))
}

func (c *Client) Close() {
	c.raw.Disconnect(250)
}

func (c *Client) String() string {
	return "MQTTClient"
}

// Publisher is what a Sink needs from a client.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Sink publishes each record as JSON to <prefix>/<collection>.
type Sink struct {
	pub    Publisher
	prefix string
	qos    byte
}

func NewSink(p Publisher, prefix string, qos byte) *Sink {
	return &Sink{pub: p, prefix: prefix, qos: qos}
}

// Topic returns the topic records of collection are published on.
func (s *Sink) Topic(collection string) string {
	return Topic(s.prefix, collection)
}

// Topic joins prefix and collection. An empty prefix gives the bare
// collection name.
func Topic(prefix, collection string) string {
	if prefix == "" {
		return collection
	}
	return prefix + "/" + collection
}

// Filter is the subscription matching every topic Topic builds for prefix.
func Filter(prefix string) string {
	return Topic(prefix, "#")
}

// Collection reverses Topic.
func Collection(prefix, topic string) string {
	if prefix == "" {
		return topic
	}
	return strings.TrimPrefix(topic, prefix+"/")
}

func (s *Sink) Create(ctx context.Context, collection string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", collection, err)
	}
	if err := s.pub.Publish(s.Topic(collection), payload, s.qos, false); err != nil {
		return fmt.Errorf("publish %s: %w", s.Topic(collection), err)
	}
	return nil
}
