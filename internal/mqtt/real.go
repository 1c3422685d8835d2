package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/sweeney/pin-timer/internal/ring"
)

// ErrClosed is returned when publishing after Close.
var ErrClosed = errors.New("mqtt: publisher closed")

const (
	clientID       = "pin-timer"
	queueSize      = 64
	bufferCapacity = 256
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// bufferedMsg is a serialized MQTT message waiting for the sender or a reconnect.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// RealPublisher publishes to an actual MQTT broker.
//
// Publish and PublishSystem only enqueue: a single sender goroutine talks to
// the broker so the scheduler's update pass never waits on the network.
// Messages that cannot be sent are kept in a ring buffer. The sender replays
// it when paho reports a (re)connection and before every later send, so
// buffered messages go out ahead of newer ones.
type RealPublisher struct {
	client paho.Client
	log    zerolog.Logger

	mu         sync.Mutex
	closed     bool
	connected  bool // set after the first successful connection
	buffer     *ring.Buffer[bufferedMsg]
	overflowed bool // warned about overwrites since the last replay

	queue  chan bufferedMsg
	replay chan struct{} // signalled by onConnect, capacity 1
	wg     sync.WaitGroup
}

// NewRealPublisher creates a publisher for the given broker. If the broker is
// unreachable the publisher keeps retrying in the background and buffers
// messages meanwhile; only configuration errors are returned.
func NewRealPublisher(broker string, log zerolog.Logger) (*RealPublisher, error) {
	p := newPublisher(log)

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetBinaryWill(TopicSystem, will, 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.log.Warn().Err(err).Msg("mqtt connection lost")
		})

	p.start(paho.NewClient(opts))

	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		p.log.Warn().Str("broker", broker).Msg("mqtt broker not reachable yet, buffering")
		return p, nil
	}
	if err := token.Error(); err != nil {
		p.Close()
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

func newPublisher(log zerolog.Logger) *RealPublisher {
	return &RealPublisher{
		log:    log,
		buffer: ring.New[bufferedMsg](bufferCapacity),
		queue:  make(chan bufferedMsg, queueSize),
		replay: make(chan struct{}, 1),
	}
}

// start attaches client and launches the sender. client must not invoke
// onConnect before start returns.
func (p *RealPublisher) start(client paho.Client) {
	p.client = client
	p.wg.Add(1)
	go p.run()
}

// Publish queues a timer event. QoS 0 (at-most-once), not retained.
func (p *RealPublisher) Publish(event TimerEvent) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	return p.enqueue(bufferedMsg{topic: Topic, payload: payload})
}

// PublishSystem queues a system lifecycle event.
// QoS 1 (at-least-once) - we want to ensure delivery.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.enqueue(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained})
}

// IsConnected reports whether the client currently has a broker connection.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close flushes queued messages and disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	p.client.Disconnect(1000) // 1 second timeout

	if n := p.buffered(); n > 0 {
		p.log.Warn().Int("messages", n).Msg("mqtt closed with undelivered messages")
	}
	return nil
}

func (p *RealPublisher) enqueue(msg bufferedMsg) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	select {
	case p.queue <- msg:
	default:
		p.holdLocked(msg)
	}
	return nil
}

// run is the sender goroutine. It is the only caller of client.Publish.
func (p *RealPublisher) run() {
	defer p.wg.Done()
	for {
		select {
		case msg, ok := <-p.queue:
			if !ok {
				p.flush()
				return
			}
			p.send(msg)
		case <-p.replay:
			p.flush()
		}
	}
}

func (p *RealPublisher) send(msg bufferedMsg) {
	if p.buffered() > 0 && !p.flush() {
		p.hold(msg)
		return
	}
	// A connect landing between this check and hold signals p.replay,
	// so the held message is picked up by the next flush.
	if !p.client.IsConnectionOpen() || !p.publish(msg) {
		p.hold(msg)
	}
}

// flush publishes every buffered message in order. It reports whether the
// buffer was emptied; on the first failure the rest is put back.
func (p *RealPublisher) flush() bool {
	p.mu.Lock()
	pending := p.buffer.Drain()
	p.overflowed = false
	p.mu.Unlock()

	for i, msg := range pending {
		if !p.client.IsConnectionOpen() || !p.publish(msg) {
			p.mu.Lock()
			for _, rest := range pending[i:] {
				p.holdLocked(rest)
			}
			p.mu.Unlock()
			return false
		}
	}
	return true
}

func (p *RealPublisher) publish(msg bufferedMsg) bool {
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(publishTimeout) {
		p.log.Warn().Str("topic", msg.topic).Msg("mqtt publish timeout")
		return false
	}
	if err := token.Error(); err != nil {
		p.log.Warn().Err(err).Str("topic", msg.topic).Msg("mqtt publish failed")
		return false
	}
	return true
}

func (p *RealPublisher) buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffer.Len()
}

func (p *RealPublisher) hold(msg bufferedMsg) {
	p.mu.Lock()
	p.holdLocked(msg)
	p.mu.Unlock()
}

func (p *RealPublisher) holdLocked(msg bufferedMsg) {
	if p.buffer.Push(msg) && !p.overflowed {
		p.log.Warn().Int("capacity", p.buffer.Cap()).Msg("mqtt buffer full, dropping oldest")
		p.overflowed = true
	}
}

// onConnect runs on paho's goroutine after every (re)connection. On a
// reconnect it puts RECONNECTED ahead of the backlog, then wakes the sender.
func (p *RealPublisher) onConnect(_ paho.Client) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if p.connected {
		p.log.Info().Msg("mqtt reconnected")
		if payload, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"}); err == nil {
			backlog := p.buffer.Drain()
			p.holdLocked(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1})
			for _, msg := range backlog {
				p.holdLocked(msg)
			}
		}
	} else {
		p.log.Info().Msg("mqtt connected")
	}
	p.connected = true
	p.mu.Unlock()

	select {
	case p.replay <- struct{}{}:
	default:
	}
}
