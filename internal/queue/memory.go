package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

type memoryClaim struct {
	msg       Message
	visibleAt time.Time
}

type memoryQueue struct {
	pending []Message
	claims  map[string]memoryClaim
}

// MemoryBroker is an in-process Broker with the same visibility semantics as
// the Redis broker.
type MemoryBroker struct {
	mu         sync.Mutex
	clock      clockwork.Clock
	visibility time.Duration
	queues     map[string]*memoryQueue
}

func NewMemoryBroker(clock clockwork.Clock, visibility time.Duration) *MemoryBroker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	return &MemoryBroker{
		clock:      clock,
		visibility: visibility,
		queues:     make(map[string]*memoryQueue),
	}
}

func (b *MemoryBroker) CreateQueue(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.queues[name]; !ok {
		b.queues[name] = &memoryQueue{claims: make(map[string]memoryClaim)}
	}
	return nil
}

func (b *MemoryBroker) DeleteQueue(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.queues[name]; !ok {
		return &QueueNotFoundError{Name: name}
	}
	delete(b.queues, name)
	return nil
}

func (b *MemoryBroker) Queues(_ context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.queues))
	for name := range b.queues {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (b *MemoryBroker) Send(_ context.Context, queue, body string, attrs map[string]string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queue]
	if !ok {
		return "", &QueueNotFoundError{Name: queue}
	}
	msg := Message{ID: uuid.NewString(), Body: body, Attributes: cloneAttrs(attrs), SentAt: b.clock.Now().UTC()}
	q.pending = append(q.pending, msg)
	return msg.ID, nil
}

func (b *MemoryBroker) Receive(_ context.Context, queue string) (*Delivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queue]
	if !ok {
		return nil, &QueueNotFoundError{Name: queue}
	}
	now := b.clock.Now()
	var expired []string
	for receipt, c := range q.claims {
		if !c.visibleAt.After(now) {
			expired = append(expired, receipt)
		}
	}
	// Oldest claims go back first so redelivery order is stable.
	sort.Slice(expired, func(i, j int) bool {
		return q.claims[expired[i]].visibleAt.Before(q.claims[expired[j]].visibleAt)
	})
	requeued := make([]Message, 0, len(expired))
	for _, receipt := range expired {
		requeued = append(requeued, q.claims[receipt].msg)
		delete(q.claims, receipt)
	}
	q.pending = append(requeued, q.pending...)

	if len(q.pending) == 0 {
		return nil, nil
	}
	msg := q.pending[0]
	q.pending = q.pending[1:]
	receipt := uuid.NewString()
	q.claims[receipt] = memoryClaim{msg: msg, visibleAt: now.Add(b.visibility)}
	return &Delivery{Message: msg, Receipt: receipt}, nil
}

func (b *MemoryBroker) Delete(_ context.Context, queue, receipt string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queue]
	if !ok {
		return &QueueNotFoundError{Name: queue}
	}
	delete(q.claims, receipt)
	return nil
}

func (b *MemoryBroker) Release(_ context.Context, queue, receipt string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queue]
	if !ok {
		return &QueueNotFoundError{Name: queue}
	}
	if c, ok := q.claims[receipt]; ok {
		q.pending = append(q.pending, c.msg)
		delete(q.claims, receipt)
	}
	return nil
}

func (b *MemoryBroker) Close() error { return nil }

// Depth reports pending and in-flight message counts for queue.
func (b *MemoryBroker) Depth(queue string) (pending, inflight int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queue]
	if !ok {
		return 0, 0
	}
	return len(q.pending), len(q.claims)
}

func cloneAttrs(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
