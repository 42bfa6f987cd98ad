package batch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/example/adr/internal/objstore"
)

// WorkerPrefix is the key prefix of worker registration markers.
const WorkerPrefix = "workers/"

// DownloadReport lists the result keys handled by DownloadResults.
type DownloadReport struct {
	Downloaded []string
	Skipped    []string
	// Rejected keys would resolve outside the destination directory.
	Rejected []string
}

// DownloadResults copies every stored result of runner into dest, keeping the
// <batch>/<file> key layout. Batch archives (top-level <batch>.zip) and worker
// markers are not results. Keys that would land outside dest are rejected.
// Existing local files are kept unless overwrite is set.
func DownloadResults(ctx context.Context, store objstore.Store, runner, dest string, overwrite bool, log *zap.Logger) (DownloadReport, error) {
	var report DownloadReport
	if log == nil {
		log = zap.NewNop()
	}
	keys, err := store.List(ctx, runner, "")
	if err != nil {
		return report, err
	}
	for _, key := range keys {
		if isArchiveKey(key) || strings.HasPrefix(key, WorkerPrefix) {
			continue
		}
		if !filepath.IsLocal(filepath.FromSlash(key)) {
			log.Warn("rejected result key outside destination", zap.String("runner", runner), zap.String("key", key))
			report.Rejected = append(report.Rejected, key)
			continue
		}
		local := filepath.Join(dest, filepath.FromSlash(key))
		if !overwrite {
			if _, err := os.Stat(local); err == nil {
				report.Skipped = append(report.Skipped, key)
				continue
			} else if !errors.Is(err, os.ErrNotExist) {
				return report, err
			}
		}
		if err := store.Get(ctx, runner, key, local); err != nil {
			return report, err
		}
		log.Info("downloaded result", zap.String("runner", runner), zap.String("key", key), zap.String("path", local))
		report.Downloaded = append(report.Downloaded, key)
	}
	return report, nil
}

// isArchiveKey matches the key layout written by ArchiveKey.
func isArchiveKey(key string) bool {
	return !strings.Contains(key, "/") && strings.HasSuffix(key, ".zip")
}
