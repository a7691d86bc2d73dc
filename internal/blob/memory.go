package blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryObject struct {
	info    Info
	payload []byte
}

// Memory is an in-memory Store used for tests and as the default driver.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	nowFn   func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string]memoryObject), nowFn: time.Now}
}

func (m *Memory) Put(_ context.Context, key string, payload io.Reader, opts PutOptions) (Info, error) {
	if err := validateKey(key); err != nil {
		return Info{}, err
	}
	data, err := io.ReadAll(payload)
	if err != nil {
		return Info{}, fmt.Errorf("blob: read payload: %w", err)
	}
	sum := sha256.Sum256(data)
	etag := hex.EncodeToString(sum[:])

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.objects[key]; ok {
		if existing.info.ETag != etag {
			return Info{}, fmt.Errorf("blob: key %q already exists with different content", key)
		}
		return existing.info, nil
	}
	info := Info{
		Key:         key,
		Size:        int64(len(data)),
		ETag:        etag,
		ContentType: opts.ContentType,
		Metadata:    copyMetadata(opts.Metadata),
		CreatedAt:   m.nowFn().UTC(),
	}
	m.objects[key] = memoryObject{info: info, payload: data}
	return info, nil
}

func (m *Memory) Get(_ context.Context, key string) (io.ReadCloser, Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, Info{}, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.payload)), obj.info, nil
}

func (m *Memory) Head(_ context.Context, key string) (Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return Info{}, ErrNotFound
	}
	return obj.info, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return ErrNotFound
	}
	delete(m.objects, key)
	return nil
}

func (m *Memory) List(_ context.Context, prefix string) ([]Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	infos := make([]Info, 0, len(m.objects))
	for key, obj := range m.objects {
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			continue
		}
		infos = append(infos, obj.info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

func (m *Memory) PresignURL(context.Context, string, SignedURLOptions) (string, error) {
	return "", ErrUnsupported
}

func (m *Memory) Driver() Driver { return DriverMemory }

func copyMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
