package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// InMemoryKV implements KVStore using an in-memory map. With maxSize > 0 it
// behaves as a bounded cache tier and evicts expired entries first.
type InMemoryKV struct {
	data    map[string]*kvItem
	mu      sync.RWMutex
	maxSize int
	now     func() time.Time
	logger  *zap.Logger

	stopCh    chan struct{}
	closeOnce sync.Once
}

type kvItem struct {
	value     []byte
	expiresAt time.Time
}

func (i *kvItem) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && now.After(i.expiresAt)
}

// NewInMemoryKV creates a new in-memory store and starts its cleanup loop
func NewInMemoryKV(maxSize int, cleanupInterval time.Duration, logger *zap.Logger) *InMemoryKV {
	kv := &InMemoryKV{
		data:    make(map[string]*kvItem),
		maxSize: maxSize,
		now:     time.Now,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}

	if cleanupInterval > 0 {
		go kv.cleanup(cleanupInterval)
	}

	return kv
}

// SetClock replaces the time source; used by tests
func (s *InMemoryKV) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Get retrieves a value
func (s *InMemoryKV) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, exists := s.data[key]
	if !exists || item.expired(s.now()) {
		return nil, ErrNotFound
	}

	out := make([]byte, len(item.value))
	copy(out, item.value)
	return out, nil
}

// Set stores a value with TTL
func (s *InMemoryKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if _, exists := s.data[key]; !exists && s.maxSize > 0 && len(s.data) >= s.maxSize {
		s.evictLocked(now)
	}

	item := &kvItem{value: make([]byte, len(value))}
	copy(item.value, value)
	if ttl > 0 {
		item.expiresAt = now.Add(ttl)
	}
	s.data[key] = item

	return nil
}

// evictLocked removes one expired entry, or the entry closest to expiry
func (s *InMemoryKV) evictLocked(now time.Time) {
	var victim string
	var victimExp time.Time
	for k, v := range s.data {
		if v.expired(now) {
			delete(s.data, k)
			return
		}
		if victim == "" || (!v.expiresAt.IsZero() && (victimExp.IsZero() || v.expiresAt.Before(victimExp))) {
			victim, victimExp = k, v.expiresAt
		}
	}
	if victim != "" {
		delete(s.data, victim)
	}
}

// Delete removes a value
func (s *InMemoryKV) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}

// KeysWithPrefix returns live keys starting with prefix, sorted
func (s *InMemoryKV) KeysWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	keys := make([]string, 0)
	for k, v := range s.data {
		if strings.HasPrefix(k, prefix) && !v.expired(now) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Ping always succeeds
func (s *InMemoryKV) Ping(ctx context.Context) error {
	return nil
}

// Close stops the cleanup loop
func (s *InMemoryKV) Close() error {
	s.closeOnce.Do(func() { close(s.stopCh) })
	return nil
}

// Size returns the number of stored entries, expired ones included
func (s *InMemoryKV) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func (s *InMemoryKV) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.Lock()
			now := s.now()
			removed := 0
			for key, item := range s.data {
				if item.expired(now) {
					delete(s.data, key)
					removed++
				}
			}
			s.mu.Unlock()
			if removed > 0 {
				s.logger.Debug("Expired entries removed", zap.Int("count", removed))
			}
		}
	}
}
