package objectstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type memObject struct {
	data        []byte
	contentType string
	uploadedAt  time.Time
}

// Memory is an in-process Store for development and tests. Each instance
// owns its own objects; nothing is shared between instances.
type Memory struct {
	baseURL string
	now     func() time.Time

	mu      sync.RWMutex
	objects map[string]memObject
}

// NewMemory creates an empty store whose URLs are rooted at baseURL.
func NewMemory(baseURL string) *Memory {
	if baseURL == "" {
		baseURL = "https://objects.local"
	}
	return &Memory{
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
		objects: make(map[string]memObject),
	}
}

// Put stores a copy of data under key.
func (m *Memory) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrUploadFailed)
	}
	buf := make([]byte, len(data))
	copy(buf, data)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memObject{data: buf, contentType: contentType, uploadedAt: m.now()}
	return nil
}

// URLFor returns a fake expiring URL for an existing key.
func (m *Memory) URLFor(_ context.Context, key string, expiry time.Duration) (string, error) {
	m.mu.RLock()
	_, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return fmt.Sprintf("%s/%s?expiry=%d", m.baseURL, key, m.now().Add(expiry).Unix()), nil
}

// List returns keys starting with prefix in lexical order.
func (m *Memory) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0)
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes key and reports whether it existed.
func (m *Memory) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return false, nil
	}
	delete(m.objects, key)
	return true, nil
}

// Get returns the stored bytes and content type.
func (m *Memory) Get(key string) ([]byte, string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, "", false
	}
	return obj.data, obj.contentType, true
}
