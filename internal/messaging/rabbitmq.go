package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

func connectToRabbitMQ(url string) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error
	for i := 0; i < MaxConnectRetry; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			slog.Info("connected to rabbitmq")
			return conn, nil
		}
		slog.Warn("failed to connect to rabbitmq", "attempt", i+1, "max_attempts", MaxConnectRetry, "error", err)
		time.Sleep(RetryDelay)
	}
	slog.Error("failed to connect to rabbitmq", "attempts", MaxConnectRetry, "error", err)
	return nil, fmt.Errorf("failed to connect after %d attempts: %w", MaxConnectRetry, err)
}

func declareExchange(channel *amqp.Channel) error {
	return channel.ExchangeDeclare(ChangesExchange, amqp.ExchangeFanout, true, false, false, false, nil)
}

// RabbitMQBus fans change events out to every server replica through a
// fanout exchange. Each replica consumes from its own exclusive queue, so a
// replica also receives the events it published itself.
type RabbitMQBus struct {
	connLock sync.RWMutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	url      string

	events     chan ChangeEvent
	stop       chan struct{}
	destructor sync.Once
}

func NewRabbitMQBus(rabbitMQURL string) (*RabbitMQBus, error) {
	b := &RabbitMQBus{
		url:    rabbitMQURL,
		events: make(chan ChangeEvent, inMemoryQueueSize),
		stop:   make(chan struct{}),
	}
	if err := b.connectPublisher(); err != nil {
		return nil, err
	}
	if err := b.startConsumer(); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func (b *RabbitMQBus) connectPublisher() error {
	conn, err := connectToRabbitMQ(b.url)
	if err != nil {
		return err
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close() // Close connection if channel fails
		slog.Error("failed to open rabbitmq channel", "error", err)
		return fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}

	if err := declareExchange(channel); err != nil {
		conn.Close()
		return fmt.Errorf("failed to declare rabbitmq exchange %s: %w", ChangesExchange, err)
	}

	b.conn = conn
	b.channel = channel
	slog.Info("rabbitmq channel opened and exchange declared")

	// Handle reconnects in background
	go b.handlePublisherReconnect(channel)

	return nil
}

func (b *RabbitMQBus) handlePublisherReconnect(channel *amqp.Channel) {
	notifyClose := make(chan *amqp.Error)
	channel.NotifyClose(notifyClose)

	err, ok := <-notifyClose
	if !ok { // channel is just closed on graceful close
		slog.Info("rabbitmq publisher channel closed")
		return
	}

	slog.Warn("rabbitmq publisher connection closed, attempting to reconnect", "error", err)

	b.connLock.Lock() // This is to ensure that the connection is not used while we are reconnecting
	defer b.connLock.Unlock()

	b.channel = nil
	b.conn = nil
	for {
		select {
		case <-b.stop:
			return
		default:
		}
		if b.connectPublisher() == nil {
			slog.Info("successfully reconnected rabbitmq publisher")
			return
		}
		time.Sleep(RetryDelay * 10)
	}
}

func (b *RabbitMQBus) PublishChange(ctx context.Context, event ChangeEvent) error {
	b.connLock.RLock()
	defer b.connLock.RUnlock()

	if b.channel == nil || b.channel.IsClosed() {
		return fmt.Errorf("rabbitmq connection is closed")
	}

	body, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal change event", "kind", event.Kind, "error", err)
		return fmt.Errorf("failed to marshal change event: %w", err)
	}

	err = b.channel.PublishWithContext(ctx,
		ChangesExchange, // exchange
		"",              // routing key, ignored by fanout
		false,           // mandatory
		false,           // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Transient, // Snapshots are reloaded from the database, so events need not survive a broker restart
			Body:         body,
		})
	if err != nil {
		slog.Error("failed to publish change event, potential connection issue", "kind", event.Kind, "error", err)
		return fmt.Errorf("failed to publish change event: %w", err)
	}

	return nil
}

func (b *RabbitMQBus) startConsumer() error {
	conn, err := connectToRabbitMQ(b.url)
	if err != nil {
		return err
	}
	channel, err := conn.Channel()
	if err != nil {
		slog.Error("failed to open rabbitmq channel", "error", err)
		conn.Close()
		return fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}

	if err := declareExchange(channel); err != nil {
		conn.Close()
		return fmt.Errorf("failed to declare rabbitmq exchange %s: %w", ChangesExchange, err)
	}

	queue, err := channel.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to declare rabbitmq queue: %w", err)
	}

	if err := channel.QueueBind(queue.Name, "", ChangesExchange, false, nil); err != nil {
		conn.Close()
		return fmt.Errorf("failed to bind rabbitmq queue %s: %w", queue.Name, err)
	}

	msgs, err := channel.Consume(queue.Name, "", true, true, false, false, nil)
	if err != nil {
		slog.Error("failed to consume from rabbitmq queue", "queue", queue.Name, "error", err)
		conn.Close()
		return fmt.Errorf("failed to consume from rabbitmq queue %s: %w", queue.Name, err)
	}

	go b.consume(msgs)
	go b.handleConsumerReconnect(conn, channel)

	return nil
}

func (b *RabbitMQBus) consume(msgs <-chan amqp.Delivery) {
	for d := range msgs {
		var event ChangeEvent
		if err := json.Unmarshal(d.Body, &event); err != nil {
			slog.Error("error unmarshalling change event", "error", err)
			continue
		}
		select {
		case b.events <- event:
		case <-b.stop:
			return
		}
	}
}

func (b *RabbitMQBus) handleConsumerReconnect(conn *amqp.Connection, channel *amqp.Channel) {
	notifyClose := make(chan *amqp.Error)
	channel.NotifyClose(notifyClose)

	select {
	case err, ok := <-notifyClose:
		if !ok { // channel is just closed on graceful close
			slog.Info("rabbitmq consumer channel closed")
			return
		}

		slog.Warn("rabbitmq consumer connection closed, attempting to reconnect", "error", err)

		for {
			select {
			case <-b.stop:
				return
			default:
			}
			if b.startConsumer() == nil {
				slog.Info("successfully restarted rabbitmq consumer")
				return
			}
			time.Sleep(RetryDelay * 10)
		}
	case <-b.stop:
		slog.Info("stopping rabbitmq consumer")
		if err := conn.Close(); err != nil {
			slog.Error("error closing rabbitmq conn", "error", err)
		}
		return
	}
}

func (b *RabbitMQBus) Changes() <-chan ChangeEvent {
	return b.events
}

func (b *RabbitMQBus) Close() {
	b.destructor.Do(func() {
		close(b.stop)

		b.connLock.RLock()
		defer b.connLock.RUnlock()
		if b.conn != nil {
			if err := b.conn.Close(); err != nil {
				slog.Error("error closing rabbitmq connection", "error", err)
			}
		}
	})
}
