package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/wa-campaigns-backend/internal/logger"
)

func newTestQueue() *InMemoryQueue {
	q := NewInMemoryQueue(logger.Nop())
	q.Backoff = time.Millisecond
	return q
}

func TestPublishWithoutSubscribers(t *testing.T) {
	q := newTestQueue()
	err := q.Publish(context.Background(), "nobody", []byte("x"))
	assert.Error(t, err)
}

func TestPublishDeliversPayload(t *testing.T) {
	q := newTestQueue()
	got := make(chan []byte, 1)
	require.NoError(t, q.Subscribe(context.Background(), "t", func(_ context.Context, p []byte) error {
		got <- p
		return nil
	}))

	require.NoError(t, q.Publish(context.Background(), "t", []byte("hello")))
	select {
	case p := <-got:
		assert.Equal(t, "hello", string(p))
	case <-time.After(time.Second):
		t.Fatal("payload not delivered")
	}
	require.NoError(t, q.Close())
}

func TestFailedJobIsRetried(t *testing.T) {
	q := newTestQueue()
	var calls atomic.Int32
	require.NoError(t, q.Subscribe(context.Background(), "t", func(context.Context, []byte) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}))

	require.NoError(t, q.Publish(context.Background(), "t", nil))
	require.NoError(t, q.Close())
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetriesAreBounded(t *testing.T) {
	q := newTestQueue()
	q.MaxRetries = 2
	var calls atomic.Int32
	require.NoError(t, q.Subscribe(context.Background(), "t", func(context.Context, []byte) error {
		calls.Add(1)
		return errors.New("always")
	}))

	require.NoError(t, q.Publish(context.Background(), "t", nil))
	require.NoError(t, q.Close())
	assert.Equal(t, int32(3), calls.Load())
}

func TestCancelledSubscriptionIsDropped(t *testing.T) {
	q := newTestQueue()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, q.Subscribe(ctx, "t", func(context.Context, []byte) error { return nil }))
	cancel()

	assert.Error(t, q.Publish(context.Background(), "t", nil))
}

func TestClosedQueueRejectsPublish(t *testing.T) {
	q := newTestQueue()
	require.NoError(t, q.Subscribe(context.Background(), "t", func(context.Context, []byte) error { return nil }))
	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.Publish(context.Background(), "t", nil), ErrClosed)
}

func TestCampaignRunRoundTrip(t *testing.T) {
	q := newTestQueue()
	var (
		mu  sync.Mutex
		got CampaignRunRequest
	)
	done := make(chan struct{})
	require.NoError(t, q.Subscribe(context.Background(), TopicCampaignRuns, func(_ context.Context, p []byte) error {
		req, err := DecodeCampaignRun(p)
		assert.NoError(t, err)
		mu.Lock()
		got = req
		mu.Unlock()
		close(done)
		return nil
	}))

	require.NoError(t, PublishCampaignRun(context.Background(), q, CampaignRunRequest{CampaignID: 42, Trigger: TriggerLaunch}))
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 42, got.CampaignID)
	assert.Equal(t, TriggerLaunch, got.Trigger)
	assert.False(t, got.RequestedAt.IsZero())
}

func TestDecodeCampaignRunRejectsGarbage(t *testing.T) {
	_, err := DecodeCampaignRun([]byte("{"))
	assert.Error(t, err)
	_, err = DecodeCampaignRun([]byte(`{"trigger":"launch"}`))
	assert.Error(t, err)
}

type fakeAck struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (f *fakeAck) Ack(bool) error { f.acked = true; return nil }
func (f *fakeAck) Nack(_ bool, requeue bool) error {
	f.nacked, f.requeue = true, requeue
	return nil
}

func TestSettle(t *testing.T) {
	ok := func(context.Context, []byte) error { return nil }
	fail := func(context.Context, []byte) error { return errors.New("boom") }

	a := &fakeAck{}
	settle(context.Background(), logger.Nop(), "t", ok, nil, false, a)
	assert.True(t, a.acked)

	a = &fakeAck{}
	settle(context.Background(), logger.Nop(), "t", fail, nil, false, a)
	assert.True(t, a.nacked)
	assert.True(t, a.requeue)

	a = &fakeAck{}
	settle(context.Background(), logger.Nop(), "t", fail, nil, true, a)
	assert.True(t, a.nacked)
	assert.False(t, a.requeue)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a = &fakeAck{}
	settle(ctx, logger.Nop(), "t", fail, nil, true, a)
	assert.True(t, a.requeue)
}
