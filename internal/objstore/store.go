// Package objstore moves blobs between local disk and runner namespaces in an
// S3 compatible object store. A namespace is a bucket named after the runner.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Store is the object store surface used by the publisher, the worker loop
// and the runner registry.
type Store interface {
	CreateNamespace(ctx context.Context, namespace string) error
	// RemoveNamespace deletes every object in namespace and then the namespace itself.
	RemoveNamespace(ctx context.Context, namespace string) error
	Namespaces(ctx context.Context) ([]string, error)

	Put(ctx context.Context, namespace, key, localPath string) error
	PutReader(ctx context.Context, namespace, key string, r io.Reader, size int64) error
	// Get downloads key to localPath, returning a *NotFoundError for a missing key.
	Get(ctx context.Context, namespace, key, localPath string) error
	// Exists reports false only for a missing key; any other failure is a *StoreError.
	Exists(ctx context.Context, namespace, key string) (bool, error)
	List(ctx context.Context, namespace, prefix string) ([]string, error)
	Remove(ctx context.Context, namespace, key string) error
}

// ErrNotFound matches every *NotFoundError through errors.Is.
var ErrNotFound = errors.New("object not found")

type NotFoundError struct {
	Namespace string
	Key       string
}

func (e *NotFoundError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("namespace %q not found", e.Namespace)
	}
	return fmt.Sprintf("object %s/%s not found", e.Namespace, e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// StoreError wraps transport and authorization failures.
type StoreError struct {
	Op        string
	Namespace string
	Key       string
	Err       error
}

func (e *StoreError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("objstore %s %s: %v", e.Op, e.Namespace, e.Err)
	}
	return fmt.Sprintf("objstore %s %s/%s: %v", e.Op, e.Namespace, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
