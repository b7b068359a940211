package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/unclebandit/wa-campaigns-backend/internal/logger"
)

// Handler processes one message. A non-nil error asks the queue to retry.
type Handler func(ctx context.Context, payload []byte) error

// Queue hands work from request handling to background workers.
type Queue interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}

var ErrClosed = errors.New("queue closed")

type subscription struct {
	ctx     context.Context
	handler Handler
}

// InMemoryQueue delivers each message to every live subscriber of the topic
// on its own goroutine, retrying failed jobs with linear backoff.
type InMemoryQueue struct {
	mu       sync.Mutex
	handlers map[string][]subscription
	closed   bool
	wg       sync.WaitGroup
	logger   logger.Logger

	MaxRetries int
	Backoff    time.Duration
}

func NewInMemoryQueue(log logger.Logger) *InMemoryQueue {
	return &InMemoryQueue{
		handlers:   make(map[string][]subscription),
		logger:     log,
		MaxRetries: 3,
		Backoff:    500 * time.Millisecond,
	}
}

// job wraps a message payload with retry info
type job struct {
	topic      string
	payload    []byte
	retryCount int
}

func (q *InMemoryQueue) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}

	var live []subscription
	for _, sub := range q.handlers[topic] {
		if sub.ctx.Err() == nil {
			live = append(live, sub)
		}
	}
	q.handlers[topic] = live
	if len(live) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	for _, sub := range live {
		q.wg.Add(1)
		go q.processJob(sub, job{topic: topic, payload: payload})
	}
	return nil
}

func (q *InMemoryQueue) processJob(sub subscription, j job) {
	defer q.wg.Done()
	for {
		err := sub.handler(sub.ctx, j.payload)
		if err == nil {
			return
		}

		j.retryCount++
		if sub.ctx.Err() != nil {
			q.logger.Warn("job abandoned on shutdown", "topic", j.topic, "error", err)
			return
		}
		if j.retryCount > q.MaxRetries {
			q.logger.Error("job permanently failed", "topic", j.topic, "attempts", j.retryCount, "error", err)
			return
		}
		q.logger.Warn("job failed, retrying", "topic", j.topic, "attempt", j.retryCount, "max_retries", q.MaxRetries, "error", err)

		select {
		case <-sub.ctx.Done():
			return
		case <-time.After(time.Duration(j.retryCount) * q.Backoff):
		}
	}
}

// Subscribe registers handler until ctx is done.
func (q *InMemoryQueue) Subscribe(ctx context.Context, topic string, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.handlers[topic] = append(q.handlers[topic], subscription{ctx: ctx, handler: handler})
	return nil
}

// Close stops accepting messages and waits for running jobs to return.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wg.Wait()
	return nil
}

var _ Queue = (*InMemoryQueue)(nil)
