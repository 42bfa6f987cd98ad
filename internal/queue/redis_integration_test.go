package queue

import (
	"context"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newIntegrationBroker(t *testing.T, visibility time.Duration) *RedisBroker {
	t.Helper()
	addr := os.Getenv("ADR_REDIS_ADDR_INTEGRATION")
	if addr == "" {
		t.Skip("set ADR_REDIS_ADDR_INTEGRATION to run Redis integration tests")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, client.Ping(context.Background()).Err())
	prefix := "adr:test:" + strconv.FormatInt(time.Now().UnixNano(), 10)
	b := newRedisBroker(client, prefix, visibility, clockwork.NewRealClock())
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestRedisBrokerIntegrationConcurrentClaims(t *testing.T) {
	b := newIntegrationBroker(t, time.Minute)
	ctx := context.Background()
	g := NewGateway(b, zap.NewNop())
	require.NoError(t, g.Create(ctx, "runner"))
	defer g.Delete(ctx, "runner")

	for i := 0; i < 30; i++ {
		_, err := g.Enqueue(ctx, Job{Runner: "runner", Batch: "b", Command: "model " + strconv.Itoa(i)})
		require.NoError(t, err)
	}

	seen := sync.Map{}
	var wg sync.WaitGroup
	claimFn := func() {
		defer wg.Done()
		for {
			job, err := g.Claim(ctx, "runner", PollPolicy{MaxPolls: 1})
			if err != nil {
				t.Errorf("claim error: %v", err)
				return
			}
			if job == nil {
				return
			}
			if _, loaded := seen.LoadOrStore(job.Command, true); loaded {
				t.Errorf("duplicate claim observed for %s", job.Command)
			}
		}
	}
	wg.Add(3)
	go claimFn()
	go claimFn()
	go claimFn()
	wg.Wait()

	n := 0
	seen.Range(func(_, _ any) bool { n++; return true })
	assert.Equal(t, 30, n)
}

func TestRedisBrokerIntegrationVisibilityAndRelease(t *testing.T) {
	b := newIntegrationBroker(t, 200*time.Millisecond)
	ctx := context.Background()
	require.NoError(t, b.CreateQueue(ctx, "q"))
	defer b.DeleteQueue(ctx, "q")

	id, err := b.Send(ctx, "q", Marker, map[string]string{AttrRunner: "q"})
	require.NoError(t, err)

	first, err := b.Receive(ctx, "q")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, id, first.ID)
	assert.Equal(t, "q", first.Attributes[AttrRunner])

	none, err := b.Receive(ctx, "q")
	require.NoError(t, err)
	assert.Nil(t, none)

	time.Sleep(300 * time.Millisecond)
	again, err := b.Receive(ctx, "q")
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, id, again.ID)

	require.NoError(t, b.Release(ctx, "q", again.Receipt))
	released, err := b.Receive(ctx, "q")
	require.NoError(t, err)
	require.NotNil(t, released)
	require.NoError(t, b.Delete(ctx, "q", released.Receipt))

	empty, err := b.Receive(ctx, "q")
	require.NoError(t, err)
	assert.Nil(t, empty)

	_, err = b.Send(ctx, "missing", Marker, nil)
	assert.ErrorIs(t, err, ErrQueueNotFound)

	names, err := b.Queues(ctx)
	require.NoError(t, err)
	assert.Contains(t, names, "q")
}
