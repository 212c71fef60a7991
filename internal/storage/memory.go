package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"certhub/internal/common"
)

// MemStore is an in-memory Store for tests. It supports per-key fault
// injection so storage failures can be simulated deterministically.
type MemStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	putErr  map[string]error
	getErr  map[string]error
}

func NewMemStore() *MemStore {
	return &MemStore{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
		putErr:  make(map[string]error),
		getErr:  make(map[string]error),
	}
}

// FailPut makes subsequent Puts of key fail with err (nil clears).
func (s *MemStore) FailPut(key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.putErr, key)
		return
	}
	s.putErr[key] = err
}

// FailGet makes subsequent Gets of key fail with err (nil clears).
func (s *MemStore) FailGet(key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.getErr, key)
		return
	}
	s.getErr[key] = err
}

func (s *MemStore) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string) error {
	s.mu.Lock()
	injected := s.putErr[key]
	s.mu.Unlock()
	if injected != nil {
		return fmt.Errorf("put %s: %w", key, injected)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = b
	s.types[key] = contentType
	return nil
}

func (s *MemStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.getErr[key]; err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	b, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", key, common.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (s *MemStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	delete(s.types, key)
	return nil
}

func (s *MemStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *MemStore) PresignGet(_ context.Context, key string, expiry time.Duration, d Disposition) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return "", fmt.Errorf("presign %s: %w", key, common.ErrNotFound)
	}
	disp := "inline"
	if d.Attachment {
		disp = "attachment"
	}
	return fmt.Sprintf("https://mem.invalid/%s?disposition=%s&expires=%d", key, disp, int(expiry.Seconds())), nil
}

// Object returns a stored object's bytes for assertions.
func (s *MemStore) Object(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[key]
	return b, ok
}

// Keys returns all stored keys for assertions.
func (s *MemStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.objects))
	for k := range s.objects {
		out = append(out, k)
	}
	return out
}
