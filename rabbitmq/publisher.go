package rabbitmq

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apex/log"
	"github.com/streadway/amqp"

	"contribapp/metrics"
)

// channel is the subset of *amqp.Channel the publisher uses.
type channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// session is one open connection with a channel on which the exchange is declared.
// closed is nil when the connection cannot report its closure.
type session struct {
	conn    io.Closer
	channel channel
	closed  <-chan *amqp.Error
}

type dialer func(amqpURL, exchangeName string) (*session, error)

// Publisher sends JSON events to a durable direct exchange. A lost connection is
// redialed by the next Publish.
type Publisher struct {
	amqpURL  string
	exchange string
	dial     dialer

	mu         sync.Mutex
	session    *session
	generation uint64
	shutdown   bool
	connected  atomic.Bool
}

// NewPublisher dials RabbitMQ and declares the exchange.
func NewPublisher(amqpURL, exchangeName string) (*Publisher, error) {
	p := newPublisher(amqpURL, exchangeName, dialAMQP)

	p.mu.Lock()
	err := p.reconnectLocked()
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return p, nil
}

func newPublisher(amqpURL, exchangeName string, dial dialer) *Publisher {
	return &Publisher{amqpURL: amqpURL, exchange: exchangeName, dial: dial}
}

func dialAMQP(amqpURL, exchangeName string) (*session, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchangeName, // name
		"direct",     // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &session{
		conn:    conn,
		channel: ch,
		closed:  conn.NotifyClose(make(chan *amqp.Error, 1)),
	}, nil
}

// reconnectLocked tears down the current session and dials a new one.
// Caller must hold p.mu.
func (p *Publisher) reconnectLocked() error {
	p.closeSessionLocked()

	s, err := p.dial(p.amqpURL, p.exchange)
	if err != nil {
		p.setConnected(false)
		return err
	}
	p.session = s
	p.generation++
	p.setConnected(true)

	if s.closed != nil {
		go p.watch(s.closed, p.generation)
	}
	log.Infof("Connected to RabbitMQ exchange %s", p.exchange)
	return nil
}

// watch marks the publisher disconnected when the session of the given generation closes.
func (p *Publisher) watch(closed <-chan *amqp.Error, generation uint64) {
	amqpErr, ok := <-closed
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.generation != generation || p.shutdown {
		return
	}
	if ok {
		log.Warnf("RabbitMQ connection closed: %v", amqpErr)
	}
	p.setConnected(false)
}

func (p *Publisher) closeSessionLocked() {
	if p.session == nil {
		return
	}
	if p.session.channel != nil {
		_ = p.session.channel.Close()
	}
	if p.session.conn != nil {
		_ = p.session.conn.Close()
	}
	p.session = nil
}

func (p *Publisher) setConnected(connected bool) {
	p.connected.Store(connected)
	if connected {
		metrics.RabbitMQConnected.Set(1)
	} else {
		metrics.RabbitMQConnected.Set(0)
	}
}

// Publish sends message as a persistent JSON message with the given routing key.
// A disconnected publisher redials first, and a failed publish is retried once on a
// fresh connection.
func (p *Publisher) Publish(routingKey string, message interface{}) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message to JSON: %w", err)
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.shutdown {
		metrics.PublishErrorTotal.Inc()
		return fmt.Errorf("failed to publish %s: publisher closed", routingKey)
	}
	if !p.IsConnected() || p.session == nil {
		if err := p.reconnectLocked(); err != nil {
			metrics.PublishErrorTotal.Inc()
			return fmt.Errorf("failed to publish %s: %w", routingKey, err)
		}
	}

	err = p.publishLocked(routingKey, publishing)
	if err != nil {
		log.Warnf("Publish of %s failed, reconnecting: %v", routingKey, err)
		if reconnectErr := p.reconnectLocked(); reconnectErr == nil {
			err = p.publishLocked(routingKey, publishing)
		}
	}
	if err != nil {
		p.setConnected(false)
		metrics.PublishErrorTotal.Inc()
		return fmt.Errorf("failed to publish %s: %w", routingKey, err)
	}
	return nil
}

func (p *Publisher) publishLocked(routingKey string, publishing amqp.Publishing) error {
	return p.session.channel.Publish(
		p.exchange, // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		publishing, // message
	)
}

// Close closes the channel and the connection. The publisher cannot be reused.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.shutdown = true
	p.setConnected(false)
	if p.session == nil {
		return nil
	}

	var err error
	if channelErr := p.session.channel.Close(); channelErr != nil {
		log.Warnf("Failed to close channel: %v", channelErr)
		err = channelErr
	}
	if p.session.conn != nil {
		if connErr := p.session.conn.Close(); connErr != nil {
			log.Warnf("Failed to close connection: %v", connErr)
			if err == nil {
				err = connErr
			}
		}
	}
	p.session = nil
	return err
}

func (p *Publisher) IsConnected() bool {
	return p.connected.Load()
}

func (p *Publisher) Exchange() string {
	return p.exchange
}
