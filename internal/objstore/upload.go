package objstore

import (
	"context"
	"io/fs"
	"path"
	"path/filepath"
	"regexp"

	"go.uber.org/zap"

	"github.com/example/adr/internal/observability"
)

// UploadReport lists what UploadMatching did, by local path and object key.
type UploadReport struct {
	// Matched holds every local file whose name matched an include pattern,
	// whether or not it was uploaded.
	Matched  []string
	Uploaded []string
	Skipped  []string
}

// UploadMatching walks root and uploads every file whose base name matches at
// least one include pattern to <batchID>/<name> in namespace. An existing key
// is left alone unless overwrite is set, so re-running a job never clobbers
// stored results by default. No match at all is not an error.
func UploadMatching(ctx context.Context, s Store, namespace, batchID, root string, include []*regexp.Regexp, overwrite bool, log *zap.Logger) (UploadReport, error) {
	var report UploadReport
	if log == nil {
		log = zap.NewNop()
	}
	if len(include) == 0 {
		return report, nil
	}
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !matchesAny(d.Name(), include) {
			return nil
		}
		report.Matched = append(report.Matched, p)

		key := path.Join(batchID, d.Name())
		if !overwrite {
			exists, err := s.Exists(ctx, namespace, key)
			if err != nil {
				return err
			}
			if exists {
				log.Debug("result already stored", zap.String("runner", namespace), zap.String("key", key))
				report.Skipped = append(report.Skipped, key)
				return nil
			}
		}
		if err := s.Put(ctx, namespace, key, p); err != nil {
			return err
		}
		log.Info("stored result", zap.String("runner", namespace), zap.String("key", key), zap.String("file", p))
		report.Uploaded = append(report.Uploaded, key)
		observability.Default.Inc(observability.FilesStored, namespace)
		return nil
	})
	return report, err
}

func matchesAny(name string, patterns []*regexp.Regexp) bool {
	for _, re := range patterns {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}
