package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/PiotrChr/RelayBoxController/internal/relay"
)

// ErrClosed is returned when publishing after Close.
var ErrClosed = errors.New("mqtt publisher closed")

// Options configures the real publisher.
type Options struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	// QueueSize bounds messages waiting for the send worker.
	QueueSize int
	// OutboxSize bounds messages held while disconnected.
	OutboxSize int
}

// RealPublisher publishes to an actual MQTT broker. Publish calls never wait
// on the network; a single worker goroutine sends in order.
type RealPublisher struct {
	client paho.Client
	topics Topics
	ctrl   Requester

	queue chan outMsg
	done  chan struct{}

	mu        sync.Mutex
	outbox    *outbox
	closed    bool
	connected bool // seen at least one connect
}

// NewRealPublisher creates a publisher for the given broker. Commands on the
// set topic are forwarded to ctrl, which may be nil.
func NewRealPublisher(opts Options, ctrl Requester) (*RealPublisher, error) {
	if opts.ClientID == "" {
		opts.ClientID = "relaybox"
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 64
	}
	if opts.OutboxSize < 1 {
		opts.OutboxSize = 100
	}

	p := &RealPublisher{
		topics: NewTopics(opts.TopicPrefix),
		ctrl:   ctrl,
		queue:  make(chan outMsg, opts.QueueSize),
		done:   make(chan struct{}),
		outbox: newOutbox(opts.OutboxSize),
	}

	will, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "OFFLINE", Reason: "LWT"})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	copts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(p.topics.System, string(will), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn().Err(err).Msg("mqtt connection lost")
		})

	p.client = paho.NewClient(copts)
	go p.run()

	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		log.Warn().Str("broker", opts.Broker).Msg("mqtt broker not reachable yet, retrying in background")
		return p, nil
	}
	if err := token.Error(); err != nil {
		p.Close()
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

// Topics returns the topics this publisher uses.
func (p *RealPublisher) Topics() Topics {
	return p.topics
}

func (p *RealPublisher) onConnect(c paho.Client) {
	log.Info().Str("topic", p.topics.Set).Msg("mqtt connected")
	if p.ctrl != nil {
		c.Subscribe(p.topics.Set, 1, p.onCommand)
	}

	p.mu.Lock()
	reconnect := p.connected
	p.connected = true
	pending := p.outbox.drain()
	p.mu.Unlock()

	for _, m := range pending {
		p.enqueue(m)
	}
	if reconnect {
		payload, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"})
		p.enqueue(outMsg{topic: p.topics.System, payload: payload, qos: 1, retained: true})
	}
}

func (p *RealPublisher) onCommand(_ paho.Client, m paho.Message) {
	if err := HandleCommand(p.ctrl, m.Payload()); err != nil {
		log.Warn().Err(err).Str("payload", string(m.Payload())).Msg("mqtt command dropped")
		return
	}
	log.Info().Str("payload", string(m.Payload())).Msg("mqtt command queued")
}

func (p *RealPublisher) run() {
	defer close(p.done)
	for m := range p.queue {
		p.send(m)
	}
}

func (p *RealPublisher) send(m outMsg) {
	if !p.client.IsConnectionOpen() {
		p.hold(m)
		return
	}
	token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !token.WaitTimeout(5 * time.Second) {
		log.Warn().Str("topic", m.topic).Msg("mqtt publish timeout")
		p.hold(m)
		return
	}
	if err := token.Error(); err != nil {
		log.Warn().Err(err).Str("topic", m.topic).Msg("mqtt publish failed")
		p.hold(m)
	}
}

func (p *RealPublisher) hold(m outMsg) {
	p.mu.Lock()
	p.outbox.push(m)
	p.mu.Unlock()
}

func (p *RealPublisher) enqueue(m outMsg) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.queue <- m:
	default:
		p.outbox.push(m)
	}
	return nil
}

// PublishState queues the retained relay state message.
func (p *RealPublisher) PublishState(relays []relay.Relay, at time.Time) error {
	payload, err := FormatStatePayload(relays, at)
	if err != nil {
		return fmt.Errorf("format state payload: %w", err)
	}
	return p.enqueue(outMsg{topic: p.topics.State, payload: payload, qos: 1, retained: true})
}

// PublishSystem queues a system lifecycle event.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	// QoS 1 (at-least-once) for lifecycle events
	return p.enqueue(outMsg{topic: p.topics.System, payload: payload, qos: 1, retained: event.Retained})
}

// IsConnected reports whether the client currently has a broker connection.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close flushes queued messages, then disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
