package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu  sync.Mutex
	ids []string
	ran chan string
}

func (f *fakeRunner) Run(_ context.Context, jobID string) error {
	f.mu.Lock()
	f.ids = append(f.ids, jobID)
	f.mu.Unlock()
	f.ran <- jobID
	return nil
}

func TestLocalDispatcherRunsEnqueuedJobs(t *testing.T) {
	runner := &fakeRunner{ran: make(chan string, 3)}
	d := NewLocalDispatcher(runner, 2, 10)
	require.NoError(t, d.Start(context.Background()))

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, d.Enqueue(context.Background(), id))
	}

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		select {
		case id := <-runner.ran:
			seen[id] = true
		case <-time.After(5 * time.Second):
			t.Fatal("job was not run")
		}
	}
	assert.Equal(t, map[string]bool{"a": true, "b": true, "c": true}, seen)

	d.Stop()
	assert.ErrorIs(t, d.Enqueue(context.Background(), "d"), ErrDispatcherStopped)
}

func TestLocalDispatcherRejectsWhenFull(t *testing.T) {
	d := NewLocalDispatcher(&fakeRunner{ran: make(chan string, 1)}, 1, 1)

	require.NoError(t, d.Enqueue(context.Background(), "a"))
	assert.ErrorIs(t, d.Enqueue(context.Background(), "b"), ErrQueueFull)
}

func TestDeliveryJobID(t *testing.T) {
	id, err := deliveryJobID(amqp.Delivery{Headers: amqp.Table{"job_id": "from-header"}})
	require.NoError(t, err)
	assert.Equal(t, "from-header", id)

	id, err = deliveryJobID(amqp.Delivery{Body: []byte(`{"job_id":"from-body"}`)})
	require.NoError(t, err)
	assert.Equal(t, "from-body", id)

	_, err = deliveryJobID(amqp.Delivery{Body: []byte(`{}`)})
	assert.Error(t, err)

	_, err = deliveryJobID(amqp.Delivery{Body: []byte(`not json`)})
	assert.Error(t, err)
}
