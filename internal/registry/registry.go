// Package registry manages runners, each a queue paired with a storage
// namespace of the same name, and the worker addresses registered to them.
// Registrations are hints; nothing here checks that a worker is alive.
package registry

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/duke-git/lancet/v2/slice"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/example/adr/internal/batch"
	"github.com/example/adr/internal/objstore"
	"github.com/example/adr/internal/queue"
)

var ErrUnknownRunner = errors.New("unknown runner")

type Registry struct {
	store  objstore.Store
	broker queue.Broker
	log    *zap.Logger
	newID  func() string
}

func New(store objstore.Store, broker queue.Broker, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{store: store, broker: broker, log: log, newID: uuid.NewString}
}

// CreateRunner creates a queue and a namespace under a fresh runner id. The
// queue is removed again if the namespace cannot be created.
func (r *Registry) CreateRunner(ctx context.Context) (string, error) {
	id := r.newID()
	if err := r.broker.CreateQueue(ctx, id); err != nil {
		return "", fmt.Errorf("create queue %s: %w", id, err)
	}
	r.log.Info("created queue", zap.String("runner", id))
	if err := r.store.CreateNamespace(ctx, id); err != nil {
		return "", multierr.Append(
			fmt.Errorf("create namespace %s: %w", id, err),
			r.broker.DeleteQueue(ctx, id),
		)
	}
	r.log.Info("created namespace", zap.String("runner", id))
	return id, nil
}

// DestroyRunner removes the runner's queue and namespace, including every
// stored object. Either half missing is tolerated so a partially created
// runner can still be cleaned up.
func (r *Registry) DestroyRunner(ctx context.Context, runner string) error {
	qerr := r.broker.DeleteQueue(ctx, runner)
	serr := r.store.RemoveNamespace(ctx, runner)
	if errors.Is(qerr, queue.ErrQueueNotFound) && errors.Is(serr, objstore.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownRunner, runner)
	}
	if errors.Is(qerr, queue.ErrQueueNotFound) {
		qerr = nil
	}
	if errors.Is(serr, objstore.ErrNotFound) {
		serr = nil
	}
	if err := multierr.Combine(qerr, serr); err != nil {
		return err
	}
	r.log.Info("destroyed runner", zap.String("runner", runner))
	return nil
}

// ListRunners returns the names that exist both as a queue and as a namespace.
func (r *Registry) ListRunners(ctx context.Context) ([]string, error) {
	queues, err := r.broker.Queues(ctx)
	if err != nil {
		return nil, err
	}
	namespaces, err := r.store.Namespaces(ctx)
	if err != nil {
		return nil, err
	}
	runners := slice.Intersection(queues, namespaces)
	sort.Strings(runners)
	return runners, nil
}

// Exists reports whether runner is a valid runner.
func (r *Registry) Exists(ctx context.Context, runner string) (bool, error) {
	runners, err := r.ListRunners(ctx)
	if err != nil {
		return false, err
	}
	return slice.Contain(runners, runner), nil
}

func workerKey(address string) string {
	return path.Join(strings.TrimSuffix(batch.WorkerPrefix, "/"), address)
}

// Register records address as a worker of runner.
func (r *Registry) Register(ctx context.Context, runner, address string) error {
	if strings.TrimSpace(address) == "" || strings.Contains(address, "/") {
		return fmt.Errorf("invalid worker address %q", address)
	}
	if err := r.store.PutReader(ctx, runner, workerKey(address), strings.NewReader(""), 0); err != nil {
		return err
	}
	r.log.Info("registered worker", zap.String("runner", runner), zap.String("address", address))
	return nil
}

func (r *Registry) Deregister(ctx context.Context, runner, address string) error {
	if err := r.store.Remove(ctx, runner, workerKey(address)); err != nil {
		return err
	}
	r.log.Info("deregistered worker", zap.String("runner", runner), zap.String("address", address))
	return nil
}

// Workers lists the addresses registered to runner.
func (r *Registry) Workers(ctx context.Context, runner string) ([]string, error) {
	keys, err := r.store.List(ctx, runner, batch.WorkerPrefix)
	if err != nil {
		return nil, err
	}
	return slice.Map(keys, func(_ int, k string) string {
		return strings.TrimPrefix(k, batch.WorkerPrefix)
	}), nil
}
