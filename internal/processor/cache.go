package processor

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/duke-git/lancet/v2/slice"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/example/adr/internal/archive"
	"github.com/example/adr/internal/batch"
	"github.com/example/adr/internal/observability"
	"github.com/example/adr/internal/queue"
)

// stateDir holds job scripts and persisted batch snapshots. It sits beside
// the batch directories so it never shows up in a snapshot.
const stateDir = ".adr"

func (p *Processor) snapshotPath(batchID string) string {
	return filepath.Join(p.cfg.WorkDir, stateDir, batchID+".files")
}

// materialize makes sure the batch directory exists locally and returns it
// with its pristine file listing. A batch is downloaded at most once per
// work directory.
func (p *Processor) materialize(ctx context.Context, job queue.Job) (string, []string, error) {
	if err := checkBatchID(job.Batch); err != nil {
		return "", nil, err
	}
	batchDir := filepath.Join(p.cfg.WorkDir, job.Batch)
	if snap, ok := p.snapshots[job.Batch]; ok {
		if _, err := os.Stat(batchDir); err == nil {
			return batchDir, snap, nil
		}
		delete(p.snapshots, job.Batch)
	}

	_, err := os.Stat(batchDir)
	switch {
	case err == nil:
		snap, err := p.loadSnapshot(job.Batch)
		if errors.Is(err, os.ErrNotExist) {
			p.log.Warn("batch directory has no snapshot, treating current contents as pristine", zap.String("batch", job.Batch))
			if snap, err = listFiles(batchDir); err == nil {
				err = p.saveSnapshot(job.Batch, snap)
			}
		}
		if err != nil {
			return "", nil, err
		}
		p.snapshots[job.Batch] = snap
		return batchDir, snap, nil
	case !errors.Is(err, os.ErrNotExist):
		return "", nil, err
	}

	if err := os.MkdirAll(p.cfg.WorkDir, 0o755); err != nil {
		return "", nil, err
	}
	snap, err := p.fetch(ctx, job, batchDir)
	if err != nil {
		return "", nil, err
	}
	p.snapshots[job.Batch] = snap
	observability.Default.Inc(observability.BatchesFetched, job.Runner)
	p.log.Info("extracted batch", zap.String("batch", job.Batch), zap.Int("files", len(snap)))
	return batchDir, snap, nil
}

// fetch downloads and unpacks the batch into a staging directory, records
// its snapshot and only then moves it to batchDir. On failure nothing is left
// at batchDir, so the next job for the batch downloads it again.
func (p *Processor) fetch(ctx context.Context, job queue.Job, batchDir string) (snap []string, err error) {
	staging := p.stagingPath(job.Batch)
	if err := os.RemoveAll(staging); err != nil {
		return nil, err
	}
	defer func() {
		if rmErr := os.RemoveAll(staging); rmErr != nil {
			err = multierr.Append(err, rmErr)
		}
	}()
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, err
	}

	key := batch.ArchiveKey(job.Batch)
	blob := filepath.Join(staging, key)
	if err := p.store.Get(ctx, job.Runner, key, blob); err != nil {
		return nil, err
	}
	p.log.Info("downloaded batch", zap.String("batch", job.Batch), zap.String("key", key))
	if err := archive.Unpack(blob, staging); err != nil {
		return nil, err
	}
	// An archive whose members were all excluded unpacks to nothing.
	unpacked := filepath.Join(staging, job.Batch)
	if err := os.MkdirAll(unpacked, 0o755); err != nil {
		return nil, err
	}
	staged, err := listFiles(unpacked)
	if err != nil {
		return nil, err
	}
	snap = make([]string, len(staged))
	for i, f := range staged {
		rel, err := filepath.Rel(unpacked, f)
		if err != nil {
			return nil, err
		}
		snap[i] = filepath.Join(batchDir, rel)
	}
	if err := p.saveSnapshot(job.Batch, snap); err != nil {
		return nil, err
	}
	if err := os.Rename(unpacked, batchDir); err != nil {
		return nil, multierr.Append(err, os.Remove(p.snapshotPath(job.Batch)))
	}
	return snap, nil
}

func (p *Processor) stagingPath(batchID string) string {
	return filepath.Join(p.cfg.WorkDir, stateDir, batchID+".partial")
}

func (p *Processor) loadSnapshot(batchID string) ([]string, error) {
	b, err := os.ReadFile(p.snapshotPath(batchID))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		if line != "" {
			out = append(out, line)
		}
	}
	return out, nil
}

func (p *Processor) saveSnapshot(batchID string, files []string) error {
	path := p.snapshotPath(batchID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var sb strings.Builder
	for _, f := range files {
		sb.WriteString(f)
		sb.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(sb.String()), 0o644)
}

// listFiles returns the sorted absolute paths of all regular files under dir.
func listFiles(dir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			out = append(out, p)
		}
		return nil
	})
	sort.Strings(out)
	return out, err
}

// restore deletes every file under batchDir that is not in snapshot, except
// files whose name matches a store pattern. It returns the removed paths.
func restore(batchDir string, snapshot []string, keep []*regexp.Regexp) ([]string, error) {
	current, err := listFiles(batchDir)
	if err != nil {
		return nil, err
	}
	added := slice.Difference(current, snapshot)
	doomed := slice.Filter(added, func(_ int, p string) bool {
		name := filepath.Base(p)
		for _, re := range keep {
			if re.MatchString(name) {
				return false
			}
		}
		return true
	})
	var errs error
	removed := make([]string, 0, len(doomed))
	for _, p := range doomed {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = multierr.Append(errs, err)
			continue
		}
		removed = append(removed, p)
	}
	return removed, errs
}
