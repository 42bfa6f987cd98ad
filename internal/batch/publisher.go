// Package batch turns a set of input files into one uploaded batch archive
// and one queued job per file.
package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/example/adr/internal/archive"
	"github.com/example/adr/internal/objstore"
	"github.com/example/adr/internal/observability"
	"github.com/example/adr/internal/queue"
)

// Placeholder is replaced in the command template by each input file's path
// relative to the batch root.
const Placeholder = "{}"

var ErrEmptyBatch = errors.New("no input files to publish")

// AmbiguousRootError is returned when the input files share no directory
// below the filesystem root, which would otherwise pack the whole disk.
type AmbiguousRootError struct {
	Files []string
}

func (e *AmbiguousRootError) Error() string {
	return fmt.Sprintf("input files share no common root directory (%d files)", len(e.Files))
}

// Request describes one batch to publish.
type Request struct {
	Runner         string
	Files          []string
	Command        string
	PreProcessing  string
	PostProcessing string
	StorePatterns  []string
	Excludes       []*regexp.Regexp
}

// Result describes a published batch.
type Result struct {
	Batch string
	Root  string
	// Jobs holds the message id of every enqueued job, in input order.
	Jobs    []string
	Members int
}

type Publisher struct {
	store  objstore.Store
	queue  *queue.Gateway
	log    *zap.Logger
	tmpDir string
	newID  func() string
}

type Option func(*Publisher)

// WithTempDir sets where archives are staged before upload.
func WithTempDir(dir string) Option {
	return func(p *Publisher) { p.tmpDir = dir }
}

func WithIDGenerator(fn func() string) Option {
	return func(p *Publisher) { p.newID = fn }
}

func NewPublisher(store objstore.Store, gw *queue.Gateway, log *zap.Logger, opts ...Option) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Publisher{store: store, queue: gw, log: log, newID: uuid.NewString}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish uploads the common root of req.Files as one archive and enqueues
// one job per file.
func (p *Publisher) Publish(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Runner) == "" {
		return nil, errors.New("runner is required")
	}
	if len(req.Files) == 0 {
		return nil, ErrEmptyBatch
	}
	files := make([]string, 0, len(req.Files))
	for _, f := range req.Files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(abs); err != nil {
			return nil, err
		}
		files = append(files, abs)
	}
	root, err := FindRoot(files)
	if err != nil {
		return nil, err
	}
	if !strings.Contains(req.Command, Placeholder) {
		p.log.Warn("command has no input placeholder, every job runs the same command",
			zap.String("command", req.Command))
	}

	batchID := p.newID()
	ctx, span := observability.StartSpan(ctx, "batch.publish",
		attribute.String("adr.runner", req.Runner),
		attribute.String("adr.batch", batchID),
		attribute.Int("adr.files", len(files)),
	)
	defer span.End()

	res, err := p.publish(ctx, req, files, root, batchID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	observability.Default.Inc(observability.BatchesPublished, req.Runner)
	return res, nil
}

func (p *Publisher) publish(ctx context.Context, req Request, files []string, root, batchID string) (*Result, error) {
	p.log.Info("determined batch root", zap.String("root", root), zap.String("batch", batchID))

	a, err := archive.Pack(root, batchID, req.Excludes, p.tmpDir)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := a.Remove(); rerr != nil {
			p.log.Warn("removing staged archive failed", zap.String("path", a.Path), zap.Error(rerr))
		}
	}()

	key := ArchiveKey(batchID)
	if err := p.store.Put(ctx, req.Runner, key, a.Path); err != nil {
		return nil, err
	}
	p.log.Info("uploaded batch",
		zap.String("runner", req.Runner),
		zap.String("key", key),
		zap.Int("members", len(a.Members)),
	)

	res := &Result{Batch: batchID, Root: root, Members: len(a.Members), Jobs: make([]string, 0, len(files))}
	for _, f := range files {
		rel, err := filepath.Rel(root, f)
		if err != nil {
			return res, err
		}
		job := queue.Job{
			Runner:         req.Runner,
			Batch:          batchID,
			Command:        strings.ReplaceAll(req.Command, Placeholder, filepath.ToSlash(rel)),
			PreProcessing:  req.PreProcessing,
			PostProcessing: req.PostProcessing,
			StorePatterns:  req.StorePatterns,
		}
		id, err := p.queue.Enqueue(ctx, job)
		if err != nil {
			return res, fmt.Errorf("enqueue job for %s: %w", rel, err)
		}
		res.Jobs = append(res.Jobs, id)
	}
	p.log.Info("queued jobs", zap.String("runner", req.Runner), zap.String("batch", batchID), zap.Int("jobs", len(res.Jobs)))
	return res, nil
}

// ArchiveKey is the object key of a batch archive.
func ArchiveKey(batchID string) string {
	return batchID + ".zip"
}

// FindRoot returns the deepest directory shared by all files. It never
// returns a file itself, so a single input resolves to its parent directory.
// Files that only share the filesystem root yield an *AmbiguousRootError.
func FindRoot(files []string) (string, error) {
	if len(files) == 0 {
		return "", ErrEmptyBatch
	}
	parts := make([][]string, len(files))
	minLen := -1
	for i, f := range files {
		parts[i] = strings.Split(filepath.ToSlash(filepath.Clean(f)), "/")
		if minLen < 0 || len(parts[i]) < minLen {
			minLen = len(parts[i])
		}
	}
	ix := minLen - 1
	for col := 0; col < minLen-1; col++ {
		if !sameSegment(parts, col) {
			ix = col
			break
		}
	}
	if ix <= 1 {
		return "", &AmbiguousRootError{Files: files}
	}
	return filepath.FromSlash(strings.Join(parts[0][:ix], "/")), nil
}

func sameSegment(parts [][]string, col int) bool {
	for _, p := range parts[1:] {
		if p[col] != parts[0][col] {
			return false
		}
	}
	return true
}
