package channel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payeerflow/models"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue[int]("ints")
	for i := 0; i < 5000; i++ {
		require.True(t, q.Publish(i))
	}
	assert.Equal(t, 5000, q.Len())

	for i := 0; i < 5000; i++ {
		v, ok := q.TryNext()
		require.True(t, ok)
		require.Equal(t, i, v)
	}
	_, ok := q.TryNext()
	assert.False(t, ok)

	stats := q.Stats()
	assert.Equal(t, int64(5000), stats.Published)
	assert.Equal(t, int64(5000), stats.Consumed)
}

func TestQueueNextBlocksUntilPublish(t *testing.T) {
	q := NewQueue[string]("strings")
	got := make(chan string, 1)
	go func() {
		v, err := q.Next(context.Background())
		if err == nil {
			got <- v
		}
	}()

	time.Sleep(10 * time.Millisecond)
	q.Publish("hello")

	select {
	case v := <-got:
		assert.Equal(t, "hello", v)
	case <-time.After(time.Second):
		t.Fatal("Next did not return")
	}
}

func TestQueueNextCancelled(t *testing.T) {
	q := NewQueue[int]("ints")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := q.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueCloseDrains(t *testing.T) {
	q := NewQueue[int]("ints")
	q.Publish(1)
	q.Close()

	assert.False(t, q.Publish(2))
	v, err := q.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	_, err = q.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, int64(1), q.Stats().Rejected)
}

func TestQueueConcurrentPublishersNeverDrop(t *testing.T) {
	q := NewQueue[int]("ints")
	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				q.Publish(i)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 8000, q.Len())
}

func TestChannelsLengths(t *testing.T) {
	c := NewChannels()
	c.Snapshots.Publish(models.OrderBookMessage{Type: models.SnapshotMessage})
	c.Balances.Publish(models.BalanceUpdate{Asset: "BTC"})

	lengths := c.Lengths()
	assert.Equal(t, 1, lengths["snapshots"])
	assert.Equal(t, 1, lengths["balances"])
	assert.Equal(t, 0, lengths["trades"])

	c.Close()
	assert.False(t, c.Diffs.Publish(models.OrderBookMessage{}))
}
