package version

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	serrors "github.com/devrev/screenhub/internal/errors"
	"github.com/devrev/screenhub/internal/model"
	"github.com/devrev/screenhub/internal/store"
	"github.com/devrev/screenhub/internal/util"
)

const (
	// DefaultMaxVersions bounds the history kept per document
	DefaultMaxVersions = 10
	// KeyPrefix namespaces persisted versions: screen:version:<name>:<id>
	KeyPrefix = "screen:version:"

	CounterVersionsCreated  = "versions_created"
	CounterVersionsEvicted  = "versions_evicted"
	CounterPersistFailures  = "version_persist_failures"
	CounterIdempotentWrites = "versions_idempotent_writes"
)

// Recorder receives version store counters
type Recorder interface {
	IncrementCounter(name string, delta uint64)
}

// Config holds version store configuration
type Config struct {
	MaxVersions int
}

// Store keeps an append-only, bounded, newest-first history per document.
// Persistence to the KV store is best-effort.
type Store struct {
	cfg      Config
	kv       store.KVStore
	locks    *util.KeyMutex
	recorder Recorder
	logger   *zap.Logger

	mu        sync.RWMutex
	histories map[string]*history

	clockMu sync.Mutex
	now     func() time.Time
	lastID  int64
}

type history struct {
	// versions are ordered newest first
	versions []*model.Version
	hydrated bool
}

func (h *history) head() *model.Version {
	if len(h.versions) == 0 {
		return nil
	}
	return h.versions[0]
}

// NewStore creates a version store backed by kv
func NewStore(cfg Config, kv store.KVStore, recorder Recorder, logger *zap.Logger) *Store {
	if cfg.MaxVersions <= 0 {
		cfg.MaxVersions = DefaultMaxVersions
	}
	return &Store{
		cfg:       cfg,
		kv:        kv,
		locks:     util.NewKeyMutex(),
		recorder:  recorder,
		logger:    logger,
		histories: make(map[string]*history),
		now:       time.Now,
	}
}

// SetClock replaces the time source; used by tests
func (s *Store) SetClock(now func() time.Time) {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	s.now = now
}

// Pending is a prepared version waiting for Commit
type Pending struct {
	Name    string
	Version *model.Version
	Head    *model.Version
	// Noop is set when the snapshot hash equals the current head
	Noop bool
}

// Prepare computes the content hash and builds the next version without
// appending it. When the snapshot matches the head the result is a no-op.
func (s *Store) Prepare(ctx context.Context, name string, snapshot model.Document, meta model.VersionMetadata) (*Pending, error) {
	hash, err := ContentHash(snapshot)
	if err != nil {
		return nil, serrors.ValidationFailure("document", err.Error())
	}

	s.hydrate(ctx, name)
	head := s.headOf(name)

	if head != nil && head.ContentHash == hash {
		s.count(CounterIdempotentWrites)
		return &Pending{Name: name, Head: head, Noop: true}, nil
	}

	id, createdAt := s.nextID()
	meta.CreatedAt = createdAt
	if meta.ChangeType == "" {
		meta.ChangeType = model.ChangeTypeUpdate
		if head == nil {
			meta.ChangeType = model.ChangeTypeCreate
		}
	}

	v := &model.Version{
		ID:          id,
		ConfigName:  name,
		Snapshot:    snapshot.Clone(),
		Metadata:    meta,
		ContentHash: hash,
	}
	if head != nil {
		v.ParentID = head.ID
	}

	return &Pending{Name: name, Version: v, Head: head}, nil
}

// Commit appends a prepared version. It fails with a Conflict when another
// version was appended since Prepare. Persistence problems are reported in
// the PersistResult, never as an error.
func (s *Store) Commit(ctx context.Context, p *Pending) (*model.Version, store.PersistResult, error) {
	if p.Noop {
		return p.Head, store.Persisted(), nil
	}

	v := p.Version
	var evicted []*model.Version

	s.mu.Lock()
	h := s.historyLocked(p.Name)
	current := ""
	if head := h.head(); head != nil {
		current = head.ID
	}
	if current != v.ParentID {
		s.mu.Unlock()
		return nil, store.PersistResult{}, serrors.StaleHead(p.Name, v.ParentID, current)
	}
	h.versions = append([]*model.Version{v}, h.versions...)
	if len(h.versions) > s.cfg.MaxVersions {
		evicted = append(evicted, h.versions[s.cfg.MaxVersions:]...)
		h.versions = h.versions[:s.cfg.MaxVersions:s.cfg.MaxVersions]
	}
	s.mu.Unlock()

	s.count(CounterVersionsCreated)
	if len(evicted) > 0 {
		s.recordN(CounterVersionsEvicted, uint64(len(evicted)))
	}

	return v, s.persist(ctx, v, evicted), nil
}

// CreateVersion appends a version for name, or returns the head with
// created=false when the snapshot is unchanged.
func (s *Store) CreateVersion(ctx context.Context, name string, snapshot model.Document, meta model.VersionMetadata) (*model.Version, bool, error) {
	unlock := s.locks.Lock(name)
	defer unlock()

	p, err := s.Prepare(ctx, name, snapshot, meta)
	if err != nil {
		return nil, false, err
	}
	v, _, err := s.Commit(ctx, p)
	if err != nil {
		return nil, false, err
	}
	return v, !p.Noop, nil
}

// Rollback creates a new version whose snapshot equals the target version
func (s *Store) Rollback(ctx context.Context, name, targetID string, meta model.VersionMetadata) (*model.Version, bool, error) {
	target, err := s.GetVersion(ctx, name, targetID)
	if err != nil {
		return nil, false, err
	}
	meta.ChangeType = model.ChangeTypeRollback
	meta.RollbackFrom = targetID
	return s.CreateVersion(ctx, name, target.Snapshot, meta)
}

// GetVersion returns one version of name
func (s *Store) GetVersion(ctx context.Context, name, id string) (*model.Version, error) {
	s.hydrate(ctx, name)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if h, ok := s.histories[name]; ok {
		for _, v := range h.versions {
			if v.ID == id {
				return v, nil
			}
		}
	}
	return nil, serrors.VersionNotFound(name, id)
}

// ListVersions returns the history of name, newest first
func (s *Store) ListVersions(ctx context.Context, name string) ([]model.Version, error) {
	s.hydrate(ctx, name)

	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.histories[name]
	if !ok {
		return []model.Version{}, nil
	}
	out := make([]model.Version, len(h.versions))
	for i, v := range h.versions {
		out[i] = *v
	}
	return out, nil
}

// Head returns the newest version of name, or nil
func (s *Store) Head(ctx context.Context, name string) *model.Version {
	s.hydrate(ctx, name)
	return s.headOf(name)
}

// Compare diffs version idA against idB
func (s *Store) Compare(ctx context.Context, name, idA, idB string) ([]model.DiffEntry, error) {
	a, err := s.GetVersion(ctx, name, idA)
	if err != nil {
		return nil, err
	}
	b, err := s.GetVersion(ctx, name, idB)
	if err != nil {
		return nil, err
	}
	return Diff(a.Snapshot, b.Snapshot), nil
}

func (s *Store) headOf(name string) *model.Version {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if h, ok := s.histories[name]; ok {
		return h.head()
	}
	return nil
}

func (s *Store) historyLocked(name string) *history {
	h, ok := s.histories[name]
	if !ok {
		h = &history{}
		s.histories[name] = h
	}
	return h
}

// nextID returns a sortable id and its creation time. Ids are strictly
// increasing even if the wall clock steps backwards.
func (s *Store) nextID() (string, time.Time) {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()

	nanos := s.now().UnixNano()
	if nanos <= s.lastID {
		nanos = s.lastID + 1
	}
	s.lastID = nanos

	return fmt.Sprintf("%019d-%s", nanos, uuid.NewString()[:8]), time.Unix(0, nanos).UTC()
}

// observeID keeps ids generated after a restart above every persisted id
func (s *Store) observeID(id string) {
	head, _, _ := strings.Cut(id, "-")
	nanos, err := strconv.ParseInt(head, 10, 64)
	if err != nil {
		return
	}
	s.clockMu.Lock()
	if nanos > s.lastID {
		s.lastID = nanos
	}
	s.clockMu.Unlock()
}

func versionKey(name, id string) string {
	return KeyPrefix + name + ":" + id
}

// persist writes v and deletes evicted records
func (s *Store) persist(ctx context.Context, v *model.Version, evicted []*model.Version) store.PersistResult {
	var errs []error

	if err := store.SetJSON(ctx, s.kv, versionKey(v.ConfigName, v.ID), v, 0); err != nil {
		errs = append(errs, err)
	}
	for _, old := range evicted {
		if err := s.kv.Delete(ctx, versionKey(old.ConfigName, old.ID)); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) == 0 {
		return store.Persisted()
	}

	err := errors.Join(errs...)
	s.count(CounterPersistFailures)
	s.logger.Warn("Version persistence degraded",
		zap.String("name", v.ConfigName),
		zap.String("version_id", v.ID),
		zap.Error(err))
	return store.Degraded(err)
}

// hydrate merges persisted versions of name into memory once
func (s *Store) hydrate(ctx context.Context, name string) {
	s.mu.RLock()
	h, ok := s.histories[name]
	done := ok && h.hydrated
	s.mu.RUnlock()
	if done {
		return
	}

	prefix := KeyPrefix + name + ":"
	keys, err := s.kv.KeysWithPrefix(ctx, prefix)
	if err != nil {
		s.logger.Warn("Failed to list persisted versions",
			zap.String("name", name),
			zap.Error(err))
		return
	}

	loaded := make([]*model.Version, 0, len(keys))
	for _, key := range keys {
		// Names cannot contain ':', so anything deeper belongs to another name
		if strings.Contains(strings.TrimPrefix(key, prefix), ":") {
			continue
		}
		var v model.Version
		if err := store.GetJSON(ctx, s.kv, key, &v); err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				s.logger.Warn("Skipping unreadable version record",
					zap.String("key", key),
					zap.Error(err))
			}
			continue
		}
		loaded = append(loaded, &v)
		s.observeID(v.ID)
	}

	s.mu.Lock()
	h = s.historyLocked(name)
	if h.hydrated {
		s.mu.Unlock()
		return
	}

	seen := make(map[string]struct{}, len(h.versions))
	for _, v := range h.versions {
		seen[v.ID] = struct{}{}
	}
	for _, v := range loaded {
		if _, dup := seen[v.ID]; !dup {
			h.versions = append(h.versions, v)
		}
	}
	sort.Slice(h.versions, func(i, j int) bool {
		return h.versions[i].ID > h.versions[j].ID
	})
	var dropped []*model.Version
	if len(h.versions) > s.cfg.MaxVersions {
		dropped = append(dropped, h.versions[s.cfg.MaxVersions:]...)
		h.versions = h.versions[:s.cfg.MaxVersions:s.cfg.MaxVersions]
	}
	h.hydrated = true
	kept := len(h.versions)
	s.mu.Unlock()

	for _, old := range dropped {
		if err := s.kv.Delete(ctx, versionKey(old.ConfigName, old.ID)); err != nil {
			s.logger.Warn("Failed to delete version beyond retention",
				zap.String("name", name),
				zap.String("version_id", old.ID),
				zap.Error(err))
		}
	}

	if len(loaded) > 0 {
		s.logger.Debug("Version history hydrated",
			zap.String("name", name),
			zap.Int("versions", kept),
			zap.Int("dropped", len(dropped)))
	}
}

// Names returns every document name with at least one version in memory
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.histories))
	for name, h := range s.histories {
		if len(h.versions) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (s *Store) count(name string) {
	s.recordN(name, 1)
}

func (s *Store) recordN(name string, n uint64) {
	if s.recorder != nil {
		s.recorder.IncrementCounter(name, n)
	}
}
