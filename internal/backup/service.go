package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
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
	// SetKeyPrefix namespaces backup records: backup:set:<id>
	SetKeyPrefix = "backup:set:"
	// IndexKey holds the retained backup ids, newest first
	IndexKey = "backup:index"

	DefaultInterval    = time.Hour
	DefaultMaxBackups  = 24
	DefaultItemTimeout = 5 * time.Second

	CounterBackupsCreated   = "backups_created"
	CounterBackupFailures   = "backup_persist_failures"
	CounterRestores         = "restores_total"
	CounterRestoreFailures  = "restore_item_failures"
	CounterRestoredItems    = "restore_items_restored"
	HistogramBackupDuration = "backup_duration_ms"
)

// Source enumerates the current value of every document
type Source interface {
	ListConfigurations(ctx context.Context) (map[string]model.Document, error)
}

// Restorer writes one restored document through the normal write path.
// A returned error must leave the document untouched.
type Restorer interface {
	ApplyRestore(ctx context.Context, name string, doc model.Document, backupID string) error
}

// Recorder receives backup counters and timings
type Recorder interface {
	IncrementCounter(name string, delta uint64)
	ObserveSince(name string, start time.Time)
}

// Config holds backup service configuration
type Config struct {
	Interval    time.Duration
	MaxBackups  int
	ItemTimeout time.Duration
}

// Service takes full snapshots of every document and restores them item by item
type Service struct {
	cfg      Config
	kv       store.KVStore
	source   Source
	restorer Restorer
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time

	mu          sync.Mutex
	index       []string
	sets        map[string]*model.BackupSet
	indexLoaded bool
	lastID      int64

	// indexMu orders index writes; each writer snapshots s.index while holding it
	indexMu sync.Mutex

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewService creates a backup service
func NewService(cfg Config, kv store.KVStore, source Source, restorer Restorer, recorder Recorder, logger *zap.Logger) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = DefaultMaxBackups
	}
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = DefaultItemTimeout
	}

	return &Service{
		cfg:      cfg,
		kv:       kv,
		source:   source,
		restorer: restorer,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
		sets:     make(map[string]*model.BackupSet),
		stopCh:   make(chan struct{}),
	}
}

// SetClock replaces the time source; used by tests
func (s *Service) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Start begins scheduled backups
func (s *Service) Start(ctx context.Context) {
	s.logger.Info("Starting backup scheduler",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("max_backups", s.cfg.MaxBackups))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := s.CreateFullBackup(ctx, model.TriggerScheduled); err != nil {
					s.logger.Error("Scheduled backup failed", zap.Error(err))
				}
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the scheduler and waits for a running backup to finish
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// CreateFullBackup snapshots every document into a new backup set.
// Persisting the set is best-effort; the set stays available in memory.
func (s *Service) CreateFullBackup(ctx context.Context, trigger model.TriggerType) (*model.BackupSet, error) {
	start := time.Now()

	configs, err := s.source.ListConfigurations(ctx)
	if err != nil {
		return nil, serrors.StoreUnavailable("failed to enumerate configurations", err)
	}

	snapshot := make(map[string]model.Document, len(configs))
	for name, doc := range configs {
		snapshot[name] = doc.Clone()
	}

	s.loadIndex(ctx)

	s.mu.Lock()
	id, ts := s.nextIDLocked()
	set := &model.BackupSet{
		ID:        id,
		Timestamp: ts,
		Configs:   snapshot,
		Metadata: model.BackupMetadata{
			TotalConfigs: len(snapshot),
			TriggerType:  trigger,
		},
	}
	s.sets[id] = set
	s.index = append([]string{id}, s.index...)
	var evicted []string
	if len(s.index) > s.cfg.MaxBackups {
		evicted = append(evicted, s.index[s.cfg.MaxBackups:]...)
		s.index = s.index[:s.cfg.MaxBackups:s.cfg.MaxBackups]
		for _, old := range evicted {
			delete(s.sets, old)
		}
	}
	s.mu.Unlock()

	res := s.persist(ctx, set, evicted)
	if !res.OK() {
		s.count(CounterBackupFailures, 1)
		s.logger.Warn("Backup persistence degraded",
			zap.String("backup_id", id),
			zap.Error(res.Err))
	}

	s.count(CounterBackupsCreated, 1)
	if s.recorder != nil {
		s.recorder.ObserveSince(HistogramBackupDuration, start)
	}

	s.logger.Info("Backup created",
		zap.String("backup_id", id),
		zap.String("trigger", string(trigger)),
		zap.Int("total_configs", len(snapshot)),
		zap.Int("evicted", len(evicted)))

	return set, nil
}

// ListBackups returns retained backups, newest first
func (s *Service) ListBackups(ctx context.Context) ([]model.BackupSummary, error) {
	s.loadIndex(ctx)

	s.mu.Lock()
	ids := append([]string(nil), s.index...)
	s.mu.Unlock()

	out := make([]model.BackupSummary, 0, len(ids))
	for _, id := range ids {
		set, err := s.GetBackup(ctx, id)
		if err != nil {
			s.logger.Warn("Skipping unreadable backup",
				zap.String("backup_id", id),
				zap.Error(err))
			continue
		}
		out = append(out, set.Summary())
	}
	return out, nil
}

// GetBackup returns a backup set from memory or the KV store
func (s *Service) GetBackup(ctx context.Context, id string) (*model.BackupSet, error) {
	s.mu.Lock()
	set, ok := s.sets[id]
	s.mu.Unlock()
	if ok {
		return set, nil
	}

	sealed, err := s.kv.Get(ctx, SetKeyPrefix+id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, serrors.BackupNotFound(id)
	}
	if err != nil {
		return nil, serrors.StoreUnavailable("failed to load backup", err).WithDetail("backup_id", id)
	}

	payload, err := util.Open(sealed)
	if err != nil {
		return nil, serrors.CorruptedData("backup record failed validation", err).WithDetail("backup_id", id)
	}

	var loaded model.BackupSet
	if err := json.Unmarshal(payload, &loaded); err != nil {
		return nil, serrors.CorruptedData("backup record is not valid JSON", err).WithDetail("backup_id", id)
	}

	s.mu.Lock()
	s.sets[id] = &loaded
	s.mu.Unlock()

	return &loaded, nil
}

// RestoreFromBackup applies every document of the backup independently.
// Item failures, including timeouts, are reported per name.
func (s *Service) RestoreFromBackup(ctx context.Context, id string) (*model.RestoreResult, error) {
	set, err := s.GetBackup(ctx, id)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(set.Configs))
	for name := range set.Configs {
		names = append(names, name)
	}
	sort.Strings(names)

	result := &model.RestoreResult{
		BackupID:      id,
		RestoredNames: make([]string, 0, len(names)),
		FailedNames:   make([]string, 0),
		Failures:      make(map[string]string),
	}

	for _, name := range names {
		if err := s.restoreItem(ctx, id, name, set.Configs[name]); err != nil {
			result.FailedNames = append(result.FailedNames, name)
			result.Failures[name] = err.Error()
			s.logger.Warn("Restore item failed",
				zap.String("backup_id", id),
				zap.String("name", name),
				zap.Error(err))
			continue
		}
		result.RestoredNames = append(result.RestoredNames, name)
	}

	s.count(CounterRestores, 1)
	s.count(CounterRestoredItems, uint64(len(result.RestoredNames)))
	s.count(CounterRestoreFailures, uint64(len(result.FailedNames)))

	s.logger.Info("Restore completed",
		zap.String("backup_id", id),
		zap.Int("restored", len(result.RestoredNames)),
		zap.Int("failed", len(result.FailedNames)))

	return result, nil
}

// restoreItem bounds one item by the item timeout even if the restorer ignores ctx
func (s *Service) restoreItem(ctx context.Context, backupID, name string, doc model.Document) error {
	itemCtx, cancel := context.WithTimeout(ctx, s.cfg.ItemTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("restore panicked: %v", r)
			}
		}()
		done <- s.restorer.ApplyRestore(itemCtx, name, doc.Clone(), backupID)
	}()

	select {
	case err := <-done:
		return err
	case <-itemCtx.Done():
		return fmt.Errorf("restore timed out after %s: %w", s.cfg.ItemTimeout, itemCtx.Err())
	}
}

// persist writes the sealed set and the index, then deletes evicted records
func (s *Service) persist(ctx context.Context, set *model.BackupSet, evicted []string) store.PersistResult {
	var errs []error

	payload, err := json.Marshal(set)
	if err != nil {
		return store.Degraded(fmt.Errorf("failed to marshal backup: %w", err))
	}
	if err := s.kv.Set(ctx, SetKeyPrefix+set.ID, util.Seal(payload), 0); err != nil {
		errs = append(errs, err)
	}
	if err := s.persistIndex(ctx); err != nil {
		errs = append(errs, err)
	}
	for _, id := range evicted {
		if err := s.kv.Delete(ctx, SetKeyPrefix+id); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return store.Degraded(errors.Join(errs...))
	}
	return store.Persisted()
}

// persistIndex writes the current index. Concurrent callers are serialized so
// the last write always carries every id added before it.
func (s *Service) persistIndex(ctx context.Context) error {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	s.mu.Lock()
	index := append([]string(nil), s.index...)
	s.mu.Unlock()

	return store.SetJSON(ctx, s.kv, IndexKey, index, 0)
}

// loadIndex reads the persisted index once; later backups merge into it
func (s *Service) loadIndex(ctx context.Context) {
	s.mu.Lock()
	loaded := s.indexLoaded
	s.mu.Unlock()
	if loaded {
		return
	}

	var persisted []string
	if err := store.GetJSON(ctx, s.kv, IndexKey, &persisted); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("Failed to load backup index", zap.Error(err))
		return
	}

	s.mu.Lock()
	if s.indexLoaded {
		s.mu.Unlock()
		return
	}

	seen := make(map[string]struct{}, len(s.index))
	for _, id := range s.index {
		seen[id] = struct{}{}
	}
	for _, id := range persisted {
		if _, dup := seen[id]; !dup {
			s.index = append(s.index, id)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(s.index)))
	var dropped []string
	if len(s.index) > s.cfg.MaxBackups {
		dropped = append(dropped, s.index[s.cfg.MaxBackups:]...)
		s.index = s.index[:s.cfg.MaxBackups:s.cfg.MaxBackups]
		for _, id := range dropped {
			delete(s.sets, id)
		}
	}
	s.indexLoaded = true
	s.mu.Unlock()

	if len(dropped) == 0 {
		return
	}
	for _, id := range dropped {
		if err := s.kv.Delete(ctx, SetKeyPrefix+id); err != nil {
			s.logger.Warn("Failed to delete backup beyond retention",
				zap.String("backup_id", id),
				zap.Error(err))
		}
	}
	if err := s.persistIndex(ctx); err != nil {
		s.logger.Warn("Failed to rewrite backup index", zap.Error(err))
	}
	s.logger.Info("Trimmed backups beyond retention", zap.Int("dropped", len(dropped)))
}

func (s *Service) nextIDLocked() (string, time.Time) {
	nanos := s.now().UnixNano()
	if nanos <= s.lastID {
		nanos = s.lastID + 1
	}
	s.lastID = nanos
	return fmt.Sprintf("%019d-%s", nanos, uuid.NewString()[:8]), time.Unix(0, nanos).UTC()
}

func (s *Service) count(name string, n uint64) {
	if s.recorder != nil && n > 0 {
		s.recorder.IncrementCounter(name, n)
	}
}
