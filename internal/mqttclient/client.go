package mqttclient

import (
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/snarg/scribe-engine/internal/metrics"
	"github.com/snarg/scribe-engine/internal/progress"
)

type MessageHandler func(topic string, payload []byte)

// Client mirrors progress to a broker and optionally listens for headless
// transcription requests on <prefix>/requests.
type Client struct {
	conn      mqtt.Client
	prefix    string
	connected atomic.Bool
	log       zerolog.Logger
	handler   MessageHandler
	publish   func(topic string, payload []byte)
	out       *outbox
}

type Options struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	// OnRequest receives messages on the request topic. Nil leaves the
	// client publish-only.
	OnRequest MessageHandler
	// QueueSize bounds mirror messages waiting for the broker; 0 means 1024.
	QueueSize int
	Log       zerolog.Logger
}

func Connect(opts Options) (*Client, error) {
	c := &Client{
		prefix:  strings.TrimRight(opts.TopicPrefix, "/"),
		handler: opts.OnRequest,
		log:     opts.Log,
	}
	if c.prefix == "" {
		c.prefix = "scribe"
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetWriteTimeout(10 * time.Second).
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
	c.out = newOutbox(opts.QueueSize, c.pahoPublish, c.log)
	c.publish = c.out.enqueue

	return c, nil
}

// RequestTopic is where headless requests are received.
func (c *Client) RequestTopic() string { return c.prefix + "/requests" }

// ProgressTopic carries every event of a session.
func (c *Client) ProgressTopic(session string) string { return c.prefix + "/" + session + "/progress" }

// ResultTopic carries only the terminal event of a session.
func (c *Client) ResultTopic(session string) string { return c.prefix + "/" + session + "/result" }

func (c *Client) onConnect(client mqtt.Client) {
	c.connected.Store(true)
	if c.handler == nil {
		c.log.Info().Msg("mqtt connected")
		return
	}
	topic := c.RequestTopic()
	c.log.Info().Str("topic", topic).Msg("mqtt connected, subscribing")

	token := client.Subscribe(topic, 1, nil)
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
	if c.handler != nil {
		c.handler(msg.Topic(), msg.Payload())
		return
	}
	c.log.Debug().
		Str("topic", msg.Topic()).
		Int("payload_size", len(msg.Payload())).
		Msg("mqtt message received")
}

// pahoPublish hands the message to paho and logs the outcome in the
// background. It can block for up to the write timeout.
func (c *Client) pahoPublish(topic string, payload []byte) {
	token := c.conn.Publish(topic, 1, false, payload)
	go func() {
		if token.WaitTimeout(30*time.Second) && token.Error() != nil {
			c.log.Warn().Err(token.Error()).Str("topic", topic).Msg("mqtt publish failed")
		}
	}()
}

// Mirror returns a progress mirror publishing every event of session to its
// progress topic and the terminal event to its result topic as well.
func (c *Client) Mirror(session string) func(progress.Event) {
	progressTopic := c.ProgressTopic(session)
	resultTopic := c.ResultTopic(session)
	return func(ev progress.Event) {
		data, err := json.Marshal(ev)
		if err != nil {
			c.log.Error().Err(err).Str("session", session).Msg("marshal progress event")
			return
		}
		c.publish(progressTopic, data)
		metrics.MQTTPublishedTotal.WithLabelValues("progress").Inc()
		if ev.Status == progress.StatusCompleted || ev.Status == progress.StatusError {
			c.publish(resultTopic, data)
			metrics.MQTTPublishedTotal.WithLabelValues("result").Inc()
		}
	}
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

func (c *Client) Close() {
	c.log.Info().Msg("disconnecting mqtt client")
	if c.out != nil {
		c.out.close()
	}
	c.conn.Disconnect(1000)
}

type message struct {
	topic   string
	payload []byte
}

// outbox publishes mirror messages in order from one goroutine, so the
// progress producer never waits on the broker. When full, new messages are
// dropped.
type outbox struct {
	ch   chan message
	send func(topic string, payload []byte)
	log  zerolog.Logger
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func newOutbox(size int, send func(topic string, payload []byte), log zerolog.Logger) *outbox {
	if size <= 0 {
		size = 1024
	}
	o := &outbox{
		ch:   make(chan message, size),
		send: send,
		log:  log,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go o.run()
	return o
}

func (o *outbox) enqueue(topic string, payload []byte) {
	select {
	case <-o.stop:
		return
	default:
	}
	select {
	case o.ch <- message{topic, payload}:
	default:
		metrics.MQTTDroppedTotal.Inc()
		o.log.Warn().Str("topic", topic).Msg("mqtt publish queue full, message dropped")
	}
}

func (o *outbox) run() {
	defer close(o.done)
	for {
		select {
		case m := <-o.ch:
			o.send(m.topic, m.payload)
		case <-o.stop:
			// Flush what is already queued.
			for {
				select {
				case m := <-o.ch:
					o.send(m.topic, m.payload)
				default:
					return
				}
			}
		}
	}
}

// close stops accepting messages, flushes the queue and waits for the
// publisher goroutine.
func (o *outbox) close() {
	o.once.Do(func() { close(o.stop) })
	<-o.done
}
