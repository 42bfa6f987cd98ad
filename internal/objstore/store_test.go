package objstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/adr/internal/config"
)

func TestMemoryGetMissingKeyIsNotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.CreateNamespace(ctx, "runner"))

	err := s.Get(ctx, "runner", "nope.zip", filepath.Join(t.TempDir(), "nope.zip"))
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "nope.zip", nf.Key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryExistsDistinguishesNotFoundFromFailure(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.CreateNamespace(ctx, "runner"))
	require.NoError(t, s.PutReader(ctx, "runner", "a/b.nc", strings.NewReader("x"), 1))

	ok, err := s.Exists(ctx, "runner", "a/b.nc")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(ctx, "runner", "a/missing.nc")
	require.NoError(t, err)
	assert.False(t, ok)

	s.Fail = errors.New("access denied")
	_, err = s.Exists(ctx, "runner", "a/b.nc")
	var se *StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "stat", se.Op)
}

func TestMemoryPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.CreateNamespace(ctx, "runner"))

	src := filepath.Join(t.TempDir(), "in.txt")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))
	require.NoError(t, s.Put(ctx, "runner", "batch.zip", src))

	dst := filepath.Join(t.TempDir(), "sub", "out.txt")
	require.NoError(t, s.Get(ctx, "runner", "batch.zip", dst))
	b, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(b))

	keys, err := s.List(ctx, "runner", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"batch.zip"}, keys)
}

func TestUploadMatchingIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.CreateNamespace(ctx, "runner"))

	root := t.TempDir()
	for name, content := range map[string]string{
		"a.txt":         "input",
		"out/d.nc":      "result-1",
		"out/deep/e.nc": "result-2",
		"c.out":         "scratch",
	} {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	include := []*regexp.Regexp{regexp.MustCompile(`\.nc$`)}

	first, err := UploadMatching(ctx, s, "runner", "batch-1", root, include, false, zap.NewNop())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"batch-1/d.nc", "batch-1/e.nc"}, first.Uploaded)
	assert.Len(t, first.Matched, 2)

	second, err := UploadMatching(ctx, s, "runner", "batch-1", root, include, false, zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, second.Uploaded)
	assert.ElementsMatch(t, []string{"batch-1/d.nc", "batch-1/e.nc"}, second.Skipped)

	assert.Equal(t, 1, s.PutCount("runner", "batch-1/d.nc"))
	assert.Equal(t, 1, s.PutCount("runner", "batch-1/e.nc"))

	third, err := UploadMatching(ctx, s, "runner", "batch-1", root, include, true, zap.NewNop())
	require.NoError(t, err)
	assert.Len(t, third.Uploaded, 2)
	assert.Equal(t, 2, s.PutCount("runner", "batch-1/d.nc"))
}

func TestUploadMatchingNoPatternsOrMatches(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.CreateNamespace(ctx, "runner"))
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644))

	report, err := UploadMatching(ctx, s, "runner", "b", root, nil, false, zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, report.Matched)

	report, err = UploadMatching(ctx, s, "runner", "b", root, []*regexp.Regexp{regexp.MustCompile(`\.nc$`)}, false, zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, report.Uploaded)
}

func TestUploadMatchingPropagatesStoreErrors(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.CreateNamespace(ctx, "runner"))
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "d.nc"), []byte("x"), 0o644))
	s.Fail = errors.New("connection reset")

	_, err := UploadMatching(ctx, s, "runner", "b", root, []*regexp.Regexp{regexp.MustCompile(`\.nc$`)}, false, zap.NewNop())
	var se *StoreError
	assert.ErrorAs(t, err, &se)
}

func TestUploadMatchingAcceptsNilLogger(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.CreateNamespace(ctx, "runner"))
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "d.nc"), []byte("x"), 0o644))
	include := []*regexp.Regexp{regexp.MustCompile(`\.nc$`)}

	report, err := UploadMatching(ctx, s, "runner", "b", root, include, false, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"b/d.nc"}, report.Uploaded)

	report, err = UploadMatching(ctx, s, "runner", "b", root, include, false, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"b/d.nc"}, report.Skipped)
}

func TestMinIOIntegration(t *testing.T) {
	endpoint := os.Getenv("ADR_MINIO_ENDPOINT_INTEGRATION")
	if endpoint == "" {
		t.Skip("set ADR_MINIO_ENDPOINT_INTEGRATION to run MinIO integration tests")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := NewMinIO(config.StorageConfig{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("ADR_MINIO_ACCESS_KEY_INTEGRATION"),
		SecretKey: os.Getenv("ADR_MINIO_SECRET_KEY_INTEGRATION"),
	})
	require.NoError(t, err)

	ns := uuid.NewString()
	require.NoError(t, s.CreateNamespace(ctx, ns))
	defer s.RemoveNamespace(context.Background(), ns)

	ok, err := s.Exists(ctx, ns, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	err = s.Get(ctx, ns, "missing", filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.PutReader(ctx, ns, "workers/10.0.0.1", strings.NewReader(""), 0))
	keys, err := s.List(ctx, ns, "workers/")
	require.NoError(t, err)
	assert.Equal(t, []string{"workers/10.0.0.1"}, keys)

	names, err := s.Namespaces(ctx)
	require.NoError(t, err)
	assert.Contains(t, names, ns)
}
