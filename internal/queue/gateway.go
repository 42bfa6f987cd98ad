package queue

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/example/adr/internal/config"
	"github.com/example/adr/internal/observability"
)

// PollPolicy bounds a Claim: at most MaxPolls receives, Delay apart.
type PollPolicy struct {
	Delay    time.Duration
	MaxPolls int
}

func PolicyFromConfig(cfg config.PollConfig) PollPolicy {
	return PollPolicy{Delay: cfg.Delay, MaxPolls: cfg.MaxPolls}
}

type Option func(*Gateway)

func WithClock(c clockwork.Clock) Option {
	return func(g *Gateway) { g.clock = c }
}

// Gateway publishes and claims jobs on runner queues.
type Gateway struct {
	broker Broker
	clock  clockwork.Clock
	log    *zap.Logger
}

func NewGateway(broker Broker, log *zap.Logger, opts ...Option) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	g := &Gateway{broker: broker, clock: clockwork.NewRealClock(), log: log}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) Broker() Broker { return g.broker }

func (g *Gateway) Create(ctx context.Context, runner string) error {
	return g.broker.CreateQueue(ctx, runner)
}

func (g *Gateway) Delete(ctx context.Context, runner string) error {
	return g.broker.DeleteQueue(ctx, runner)
}

// Enqueue sends job to the queue of job.Runner and returns the message id.
func (g *Gateway) Enqueue(ctx context.Context, job Job) (string, error) {
	id, err := g.broker.Send(ctx, job.Runner, Marker, job.Attributes())
	if err != nil {
		return "", err
	}
	observability.Default.Inc(observability.JobsEnqueued, job.Runner)
	g.log.Debug("job enqueued",
		zap.String("runner", job.Runner),
		zap.String("batch", job.Batch),
		zap.String("message_id", id),
		zap.String("command", job.Command),
	)
	return id, nil
}

// Claim polls runner's queue until it can take one job. The message is
// deleted before the job is returned, so a crash afterwards loses the job
// rather than running it twice. Foreign messages are released, malformed job
// messages are dropped. A nil job with a nil error means the policy ran out
// of polls.
func (g *Gateway) Claim(ctx context.Context, runner string, policy PollPolicy) (*Job, error) {
	polls := policy.MaxPolls
	if polls <= 0 {
		polls = 1
	}
	for i := 0; i < polls; i++ {
		if i > 0 && policy.Delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-g.clock.After(policy.Delay):
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		d, err := g.broker.Receive(ctx, runner)
		if err != nil {
			return nil, err
		}
		if d == nil {
			g.log.Debug("queue empty", zap.String("runner", runner), zap.Int("poll", i+1), zap.Int("max_polls", polls))
			continue
		}
		if d.Body != Marker {
			if err := g.broker.Release(ctx, runner, d.Receipt); err != nil {
				return nil, err
			}
			observability.Default.Inc(observability.MessagesReleased, runner)
			g.log.Debug("ignoring foreign message", zap.String("runner", runner), zap.String("message_id", d.ID))
			continue
		}
		job, err := JobFromAttributes(d.Attributes)
		if err != nil {
			if derr := g.broker.Delete(ctx, runner, d.Receipt); derr != nil {
				return nil, derr
			}
			observability.Default.Inc(observability.MessagesDropped, runner)
			g.log.Warn("dropping malformed job message", zap.String("runner", runner), zap.String("message_id", d.ID), zap.Error(err))
			continue
		}
		if err := g.broker.Delete(ctx, runner, d.Receipt); err != nil {
			return nil, err
		}
		observability.Default.Inc(observability.JobsClaimed, runner)
		g.log.Info("job claimed", zap.String("runner", runner), zap.String("batch", job.Batch), zap.String("message_id", d.ID))
		return &job, nil
	}
	return nil, nil
}
