package objstore

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process Store used by tests and dry runs.
type Memory struct {
	mu      sync.Mutex
	buckets map[string]map[string][]byte
	puts    map[string]int
	// Fail, when set, is returned wrapped in a *StoreError by every operation.
	Fail error
}

func NewMemory() *Memory {
	return &Memory{
		buckets: make(map[string]map[string][]byte),
		puts:    make(map[string]int),
	}
}

// PutCount returns how often namespace/key has been written.
func (m *Memory) PutCount(namespace, key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts[namespace+"/"+key]
}

// Bytes returns the stored content of namespace/key.
func (m *Memory) Bytes(namespace, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[namespace][key]
	return b, ok
}

func (m *Memory) CreateNamespace(_ context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return &StoreError{Op: "make-bucket", Namespace: namespace, Err: m.Fail}
	}
	if _, ok := m.buckets[namespace]; !ok {
		m.buckets[namespace] = make(map[string][]byte)
	}
	return nil
}

func (m *Memory) RemoveNamespace(_ context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return &StoreError{Op: "remove-bucket", Namespace: namespace, Err: m.Fail}
	}
	if _, ok := m.buckets[namespace]; !ok {
		return &NotFoundError{Namespace: namespace}
	}
	delete(m.buckets, namespace)
	return nil
}

func (m *Memory) Namespaces(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return nil, &StoreError{Op: "list-buckets", Err: m.Fail}
	}
	out := make([]string, 0, len(m.buckets))
	for name := range m.buckets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) Put(_ context.Context, namespace, key, localPath string) error {
	b, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	return m.put(namespace, key, b)
}

func (m *Memory) PutReader(_ context.Context, namespace, key string, r io.Reader, _ int64) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return m.put(namespace, key, b)
}

func (m *Memory) put(namespace, key string, b []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return &StoreError{Op: "put", Namespace: namespace, Key: key, Err: m.Fail}
	}
	bucket, ok := m.buckets[namespace]
	if !ok {
		return &NotFoundError{Namespace: namespace}
	}
	bucket[key] = append([]byte(nil), b...)
	m.puts[namespace+"/"+key]++
	return nil
}

func (m *Memory) Get(_ context.Context, namespace, key, localPath string) error {
	m.mu.Lock()
	if m.Fail != nil {
		m.mu.Unlock()
		return &StoreError{Op: "get", Namespace: namespace, Key: key, Err: m.Fail}
	}
	bucket, ok := m.buckets[namespace]
	if !ok {
		m.mu.Unlock()
		return &NotFoundError{Namespace: namespace}
	}
	b, ok := bucket[key]
	m.mu.Unlock()
	if !ok {
		return &NotFoundError{Namespace: namespace, Key: key}
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(localPath, b, 0o644)
}

func (m *Memory) Exists(_ context.Context, namespace, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return false, &StoreError{Op: "stat", Namespace: namespace, Key: key, Err: m.Fail}
	}
	bucket, ok := m.buckets[namespace]
	if !ok {
		return false, &StoreError{Op: "stat", Namespace: namespace, Key: key, Err: errors.New("no such bucket")}
	}
	_, ok = bucket[key]
	return ok, nil
}

func (m *Memory) List(_ context.Context, namespace, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return nil, &StoreError{Op: "list", Namespace: namespace, Key: prefix, Err: m.Fail}
	}
	bucket, ok := m.buckets[namespace]
	if !ok {
		return nil, &NotFoundError{Namespace: namespace}
	}
	var out []string
	for k := range bucket {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) Remove(_ context.Context, namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return &StoreError{Op: "remove", Namespace: namespace, Key: key, Err: m.Fail}
	}
	if bucket, ok := m.buckets[namespace]; ok {
		delete(bucket, key)
	}
	return nil
}
