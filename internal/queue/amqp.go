package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"github.com/unclebandit/wa-campaigns-backend/internal/logger"
)

// AMQPQueue publishes to and consumes from durable RabbitMQ queues named
// after the topic. Deliveries are acked only after the handler succeeds.
type AMQPQueue struct {
	conn   *amqp.Connection
	mu     sync.Mutex
	pub    *amqp.Channel
	logger logger.Logger
	wg     sync.WaitGroup

	Prefetch int
}

func DialAMQP(url string, log logger.Logger) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	return &AMQPQueue{conn: conn, pub: ch, logger: log, Prefetch: 1}, nil
}

func declare(ch *amqp.Channel, topic string) error {
	_, err := ch.QueueDeclare(
		topic,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", topic, err)
	}
	return nil
}

func (q *AMQPQueue) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := declare(q.pub, topic); err != nil {
		return err
	}
	err := q.pub.Publish("", topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         payload,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe opens a dedicated channel and consumes until ctx is done or the
// connection drops.
func (q *AMQPQueue) Subscribe(ctx context.Context, topic string, handler Handler) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open a channel: %w", err)
	}
	if err := ch.Qos(q.Prefetch, 0, false); err != nil {
		ch.Close()
		return fmt.Errorf("set prefetch: %w", err)
	}
	if err := declare(ch, topic); err != nil {
		ch.Close()
		return err
	}
	msgs, err := ch.Consume(
		topic,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					q.logger.Warn("consumer channel closed", "topic", topic)
					return
				}
				settle(ctx, q.logger, topic, handler, d.Body, d.Redelivered, &d)
			}
		}
	}()
	return nil
}

type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// settle runs the handler and acks or nacks the delivery. A failed message
// is requeued once; a second failure drops it. Messages interrupted by
// shutdown always go back on the queue.
func settle(ctx context.Context, log logger.Logger, topic string, handler Handler, body []byte, redelivered bool, ack acknowledger) {
	err := handler(ctx, body)
	switch {
	case err == nil:
		if aerr := ack.Ack(false); aerr != nil {
			log.Error("ack failed", "topic", topic, "error", aerr)
		}
		return
	case ctx.Err() != nil:
		log.Warn("handler interrupted, requeueing", "topic", topic, "error", err)
		_ = ack.Nack(false, true)
	case !redelivered:
		log.Warn("handler failed, requeueing", "topic", topic, "error", err)
		_ = ack.Nack(false, true)
	default:
		log.Error("handler failed on redelivery, dropping message", "topic", topic, "error", err)
		_ = ack.Nack(false, false)
	}
}

// Close stops the consumers and closes the connection.
func (q *AMQPQueue) Close() error {
	q.mu.Lock()
	q.pub.Close()
	q.mu.Unlock()
	err := q.conn.Close()
	q.wg.Wait()
	if err != nil && err != amqp.ErrClosed {
		return fmt.Errorf("close amqp connection: %w", err)
	}
	return nil
}

var _ Queue = (*AMQPQueue)(nil)
