// Package processor runs the worker loop: claim a job, materialize its batch,
// run the job script, store matching output and restore the batch directory.
package processor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/example/adr/internal/config"
	"github.com/example/adr/internal/objstore"
	"github.com/example/adr/internal/observability"
	"github.com/example/adr/internal/queue"
)

type State int32

const (
	Idle State = iota
	Polling
	Fetching
	Executing
	Storing
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Polling:
		return "polling"
	case Fetching:
		return "fetching"
	case Executing:
		return "executing"
	case Storing:
		return "storing"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type Config struct {
	Runner  string
	WorkDir string
	Poll    queue.PollPolicy
	// StopOnEmpty ends Run once a claim comes back empty.
	StopOnEmpty bool
	// Interpreter goes on the script's shebang line. Defaults to /bin/sh.
	Interpreter string
	// MetricsFile, when set, receives a Prometheus textfile after every job.
	MetricsFile string
}

// ConfigFrom builds a processor config from the persisted configuration.
func ConfigFrom(runner string, cfg config.Config) Config {
	return Config{
		Runner:      runner,
		WorkDir:     cfg.Worker.WorkDir,
		Poll:        queue.PolicyFromConfig(cfg.Poll),
		StopOnEmpty: cfg.Worker.StopOnEmpty,
	}
}

type Option func(*Processor)

func WithClock(c clockwork.Clock) Option {
	return func(p *Processor) { p.clock = c }
}

// Processor is a single-threaded worker loop. Batch snapshots are cached for
// the lifetime of the process and persisted next to the batch directories.
type Processor struct {
	cfg   Config
	queue *queue.Gateway
	store objstore.Store
	log   *zap.Logger
	clock clockwork.Clock

	state     atomic.Int32
	snapshots map[string][]string
}

func New(cfg Config, gw *queue.Gateway, store objstore.Store, log *zap.Logger, opts ...Option) (*Processor, error) {
	if cfg.Runner == "" {
		return nil, config.ErrNoRunner
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = "."
	}
	workDir, err := filepath.Abs(cfg.WorkDir)
	if err != nil {
		return nil, err
	}
	cfg.WorkDir = workDir
	if cfg.Interpreter == "" {
		cfg.Interpreter = "/bin/sh"
	}
	if log == nil {
		log = zap.NewNop()
	}
	p := &Processor{
		cfg:       cfg,
		queue:     gw,
		store:     store,
		log:       log.With(zap.String("runner", cfg.Runner)),
		clock:     clockwork.NewRealClock(),
		snapshots: make(map[string][]string),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Processor) State() State { return State(p.state.Load()) }

func (p *Processor) setState(s State) {
	prev := State(p.state.Swap(int32(s)))
	if prev != s {
		p.log.Debug("state change", zap.Stringer("from", prev), zap.Stringer("to", s))
	}
}

// Run processes jobs until ctx is done or, with StopOnEmpty, until the queue
// yields nothing. A failed job is logged and the loop moves on.
func (p *Processor) Run(ctx context.Context) error {
	p.log.Info("worker loop started",
		zap.String("work_dir", p.cfg.WorkDir),
		zap.Duration("poll_delay", p.cfg.Poll.Delay),
		zap.Int("max_polls", p.cfg.Poll.MaxPolls),
	)
	defer p.setState(Stopped)
	for {
		if ctx.Err() != nil {
			p.log.Info("worker loop cancelled")
			return nil
		}
		ran, err := p.ProcessNext(ctx)
		p.flushMetrics()
		if err != nil {
			if ctx.Err() != nil {
				p.log.Info("worker loop cancelled")
				return nil
			}
			p.log.Error("job failed", zap.Error(err))
			p.pause(ctx)
			continue
		}
		if !ran && p.cfg.StopOnEmpty {
			p.log.Info("queue empty, stopping")
			return nil
		}
	}
}

// ProcessNext claims and runs at most one job. It reports whether a job was
// claimed; the error covers claiming, fetching and storing but never the
// job's own exit status.
func (p *Processor) ProcessNext(ctx context.Context) (bool, error) {
	p.setState(Polling)
	job, err := p.queue.Claim(ctx, p.cfg.Runner, p.cfg.Poll)
	if err != nil {
		p.setState(Idle)
		return false, err
	}
	if job == nil {
		p.setState(Idle)
		return false, nil
	}
	return true, p.Execute(ctx, *job)
}

// Execute runs one already claimed job through fetch, execute and store.
func (p *Processor) Execute(ctx context.Context, job queue.Job) (err error) {
	defer p.setState(Idle)
	ctx, span := observability.StartSpan(ctx, "processor.job",
		attribute.String("adr.runner", job.Runner),
		attribute.String("adr.batch", job.Batch),
	)
	started := p.clock.Now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			observability.Default.Inc(observability.JobsFailed, job.Runner)
		} else {
			observability.Default.Inc(observability.JobsProcessed, job.Runner)
		}
		span.End()
	}()

	include, err := config.CompilePatterns(job.StorePatterns)
	if err != nil {
		return err
	}

	p.setState(Fetching)
	batchDir, snapshot, err := p.materialize(ctx, job)
	if err != nil {
		return fmt.Errorf("fetch batch %s: %w", job.Batch, err)
	}

	p.setState(Executing)
	if err := p.runScript(ctx, job, batchDir); err != nil {
		return fmt.Errorf("execute job in batch %s: %w", job.Batch, err)
	}

	p.setState(Storing)
	if err := p.storeAndRestore(ctx, job, batchDir, include, snapshot); err != nil {
		return fmt.Errorf("store batch %s: %w", job.Batch, err)
	}
	p.log.Info("job done",
		zap.String("batch", job.Batch),
		zap.Duration("elapsed", p.clock.Since(started).Round(time.Millisecond)),
	)
	return nil
}

func (p *Processor) storeAndRestore(ctx context.Context, job queue.Job, batchDir string, include []*regexp.Regexp, snapshot []string) error {
	var uploadErr error
	if len(include) > 0 {
		report, err := objstore.UploadMatching(ctx, p.store, job.Runner, job.Batch, batchDir, include, false, p.log)
		uploadErr = err
		if err == nil && len(report.Matched) == 0 {
			p.log.Info("no output matched store patterns", zap.String("batch", job.Batch), zap.Strings("patterns", job.StorePatterns))
		}
	}
	removed, restoreErr := restore(batchDir, snapshot, include)
	if len(removed) > 0 {
		observability.Default.Add(observability.FilesRestored, job.Runner, float64(len(removed)))
		p.log.Debug("restored batch directory", zap.String("batch", job.Batch), zap.Strings("removed", removed))
	}
	return multierr.Append(uploadErr, restoreErr)
}

func (p *Processor) pause(ctx context.Context) {
	if p.cfg.Poll.Delay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-p.clock.After(p.cfg.Poll.Delay):
	}
}

func (p *Processor) flushMetrics() {
	if p.cfg.MetricsFile == "" {
		return
	}
	observability.Default.Set(observability.BatchCacheEntries, p.cfg.Runner, float64(len(p.snapshots)))
	if err := observability.Default.WriteTextfile(p.cfg.MetricsFile); err != nil {
		p.log.Warn("writing metrics file failed", zap.String("path", p.cfg.MetricsFile), zap.Error(err))
	}
}

var errBadBatchID = errors.New("batch id is not a plain directory name")

func checkBatchID(id string) error {
	if id == "" || id == "." || id == ".." || id == stateDir || id != filepath.Base(id) {
		return fmt.Errorf("%w: %q", errBadBatchID, id)
	}
	return nil
}
