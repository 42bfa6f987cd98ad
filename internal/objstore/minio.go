package objstore

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/example/adr/internal/config"
)

// MinIO is a Store backed by any S3 compatible endpoint.
type MinIO struct {
	client *minio.Client
	region string
}

func NewMinIO(cfg config.StorageConfig) (*MinIO, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}
	return &MinIO{client: client, region: cfg.Region}, nil
}

func (s *MinIO) CreateNamespace(ctx context.Context, namespace string) error {
	exists, err := s.client.BucketExists(ctx, namespace)
	if err != nil {
		return &StoreError{Op: "bucket-exists", Namespace: namespace, Err: err}
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, namespace, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return &StoreError{Op: "make-bucket", Namespace: namespace, Err: err}
	}
	return nil
}

func (s *MinIO) RemoveNamespace(ctx context.Context, namespace string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	objects := make(chan minio.ObjectInfo)
	listErr := make(chan error, 1)
	go func() {
		defer close(objects)
		for obj := range s.client.ListObjects(ctx, namespace, minio.ListObjectsOptions{Recursive: true}) {
			if obj.Err != nil {
				listErr <- obj.Err
				return
			}
			select {
			case objects <- obj:
			case <-ctx.Done():
				listErr <- ctx.Err()
				return
			}
		}
		listErr <- nil
	}()
	for rerr := range s.client.RemoveObjects(ctx, namespace, objects, minio.RemoveObjectsOptions{}) {
		if rerr.Err != nil {
			return &StoreError{Op: "remove-objects", Namespace: namespace, Key: rerr.ObjectName, Err: rerr.Err}
		}
	}
	if err := <-listErr; err != nil {
		if isNoSuchBucket(err) {
			return &NotFoundError{Namespace: namespace}
		}
		return &StoreError{Op: "list", Namespace: namespace, Err: err}
	}
	if err := s.client.RemoveBucket(ctx, namespace); err != nil {
		if isNoSuchBucket(err) {
			return &NotFoundError{Namespace: namespace}
		}
		return &StoreError{Op: "remove-bucket", Namespace: namespace, Err: err}
	}
	return nil
}

func (s *MinIO) Namespaces(ctx context.Context) ([]string, error) {
	buckets, err := s.client.ListBuckets(ctx)
	if err != nil {
		return nil, &StoreError{Op: "list-buckets", Err: err}
	}
	out := make([]string, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, b.Name)
	}
	return out, nil
}

func (s *MinIO) Put(ctx context.Context, namespace, key, localPath string) error {
	opts := minio.PutObjectOptions{ContentType: contentType(key)}
	if _, err := s.client.FPutObject(ctx, namespace, key, localPath, opts); err != nil {
		return s.wrap("put", namespace, key, err)
	}
	return nil
}

func (s *MinIO) PutReader(ctx context.Context, namespace, key string, r io.Reader, size int64) error {
	opts := minio.PutObjectOptions{ContentType: contentType(key)}
	if _, err := s.client.PutObject(ctx, namespace, key, r, size, opts); err != nil {
		return s.wrap("put", namespace, key, err)
	}
	return nil
}

func (s *MinIO) Get(ctx context.Context, namespace, key, localPath string) error {
	if err := s.client.FGetObject(ctx, namespace, key, localPath, minio.GetObjectOptions{}); err != nil {
		return s.wrap("get", namespace, key, err)
	}
	return nil
}

func (s *MinIO) Exists(ctx context.Context, namespace, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, namespace, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNoSuchKey(err) {
		return false, nil
	}
	return false, &StoreError{Op: "stat", Namespace: namespace, Key: key, Err: err}
}

func (s *MinIO) List(ctx context.Context, namespace, prefix string) ([]string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var out []string
	for obj := range s.client.ListObjects(ctx, namespace, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, s.wrap("list", namespace, prefix, obj.Err)
		}
		out = append(out, obj.Key)
	}
	return out, nil
}

func (s *MinIO) Remove(ctx context.Context, namespace, key string) error {
	if err := s.client.RemoveObject(ctx, namespace, key, minio.RemoveObjectOptions{}); err != nil {
		return s.wrap("remove", namespace, key, err)
	}
	return nil
}

func (s *MinIO) wrap(op, namespace, key string, err error) error {
	switch {
	case isNoSuchKey(err):
		return &NotFoundError{Namespace: namespace, Key: key}
	case isNoSuchBucket(err):
		return &NotFoundError{Namespace: namespace}
	default:
		return &StoreError{Op: op, Namespace: namespace, Key: key, Err: err}
	}
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

func isNoSuchBucket(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchBucket"
}

func contentType(key string) string {
	if t := mime.TypeByExtension(filepath.Ext(key)); t != "" {
		return t
	}
	return "application/octet-stream"
}
