package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	serrors "github.com/devrev/screenhub/internal/errors"
	"github.com/devrev/screenhub/internal/model"
	"github.com/devrev/screenhub/internal/publish"
	"github.com/devrev/screenhub/internal/resolver"
	"github.com/devrev/screenhub/internal/store"
	"github.com/devrev/screenhub/internal/util"
	"github.com/devrev/screenhub/internal/util/workerpool"
	"github.com/devrev/screenhub/internal/version"
)

const (
	// ConfigKeyPrefix namespaces authoritative records: screen:config:<name>
	ConfigKeyPrefix = "screen:config:"
	// CacheKeyPrefix namespaces cached records in every cache tier
	CacheKeyPrefix = "screen:cache:"

	CounterDocumentsRead    = "documents_read"
	CounterDocumentsUpdated = "documents_updated"
	CounterNoopWrites       = "documents_noop_writes"
	CounterPublishFailures  = "publish_failures"
	CounterCacheRefreshes   = "cache_refreshes"
	CounterCacheDegraded    = "cache_write_degraded"
	HistogramReadLatency    = "get_document_latency_ms"
	HistogramWriteLatency   = "update_document_latency_ms"
)

// Recorder receives distribution metrics
type Recorder interface {
	IncrementCounter(name string, delta uint64)
	ObserveSince(name string, start time.Time)
}

// DistributionConfig holds Distribution Core configuration
type DistributionConfig struct {
	MaxDepth           int
	TopicPrefix        string
	RefreshInterval    time.Duration
	RefreshConcurrency int
}

// DistributionService owns NamedConfiguration records. Writes go through the
// version store and the authoritative KV store; reads are served from the
// cache tiers with the authoritative store as fallback.
type DistributionService struct {
	cfg       DistributionConfig
	kv        store.KVStore
	cache     *store.TieredCache
	versions  *version.Store
	resolver  *resolver.Resolver
	publisher publish.Publisher
	codec     *publish.Codec
	pool      *workerpool.Pool
	recorder  Recorder
	logger    *zap.Logger
	tracer    trace.Tracer

	locks *util.KeyMutex
	loads singleflight.Group

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewDistributionService creates the Distribution Core
func NewDistributionService(
	cfg DistributionConfig,
	kv store.KVStore,
	cache *store.TieredCache,
	versions *version.Store,
	res *resolver.Resolver,
	publisher publish.Publisher,
	codec *publish.Codec,
	pool *workerpool.Pool,
	recorder Recorder,
	logger *zap.Logger,
) *DistributionService {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.RefreshConcurrency <= 0 {
		cfg.RefreshConcurrency = 8
	}
	return &DistributionService{
		cfg:       cfg,
		kv:        kv,
		cache:     cache,
		versions:  versions,
		resolver:  res,
		publisher: publisher,
		codec:     codec,
		pool:      pool,
		recorder:  recorder,
		logger:    logger,
		tracer:    otel.Tracer("screenhub/service"),
		locks:     util.NewKeyMutex(),
		stopCh:    make(chan struct{}),
	}
}

// GetDocument returns the current configuration of name, consulting the
// cache tiers before the authoritative store
func (s *DistributionService) GetDocument(ctx context.Context, name string) (*model.NamedConfiguration, error) {
	ctx, span := s.tracer.Start(ctx, "DistributionService.GetDocument",
		trace.WithAttributes(attribute.String("screen.name", name)))
	defer span.End()
	start := time.Now()
	defer s.observe(HistogramReadLatency, start)

	if err := ValidateName(name); err != nil {
		return nil, spanError(span, err)
	}
	s.count(CounterDocumentsRead)

	if s.cache != nil {
		data, tier, err := s.cache.Get(ctx, name)
		if err == nil {
			var rec model.NamedConfiguration
			if err := json.Unmarshal(data, &rec); err == nil {
				span.SetAttributes(attribute.String("cache.tier", tier))
				return &rec, nil
			}
			s.logger.Warn("Discarding undecodable cache entry",
				zap.String("name", name),
				zap.String("tier", tier),
				zap.Error(err))
			s.cache.Invalidate(ctx, name)
		}
	}

	v, err, shared := s.loads.Do(name, func() (interface{}, error) {
		// Held so a concurrent write cannot be overwritten by an older backfill
		unlock := s.locks.Lock(name)
		defer unlock()

		rec, data, err := s.load(ctx, name)
		if err != nil {
			return nil, err
		}
		s.cacheSet(ctx, name, data)
		return rec, nil
	})
	if err != nil {
		return nil, spanError(span, err)
	}
	span.SetAttributes(attribute.Bool("load.shared", shared))

	rec := *v.(*model.NamedConfiguration)
	rec.CurrentValue = rec.CurrentValue.Clone()
	return &rec, nil
}

// GetResolvedDocument returns the current value of name with template
// expressions resolved against vars
func (s *DistributionService) GetResolvedDocument(ctx context.Context, name string, vars map[string]any) (model.Document, error) {
	rec, err := s.GetDocument(ctx, name)
	if err != nil {
		return model.Document{}, err
	}
	if s.resolver == nil {
		return rec.CurrentValue, nil
	}
	return s.resolver.Resolve(rec.CurrentValue, vars), nil
}

// UpdateDocument writes a new value for name and returns the resulting
// version. Writing the current value again returns the head unchanged.
func (s *DistributionService) UpdateDocument(ctx context.Context, name string, value model.Document, meta model.VersionMetadata) (*model.Version, error) {
	ctx, span := s.tracer.Start(ctx, "DistributionService.UpdateDocument",
		trace.WithAttributes(attribute.String("screen.name", name)))
	defer span.End()

	if meta.ChangeType == model.ChangeTypeRollback {
		meta.ChangeType = ""
		meta.RollbackFrom = ""
	}
	v, _, err := s.write(ctx, name, value, meta)
	if err != nil {
		return nil, spanError(span, err)
	}
	return v, nil
}

// RollbackDocument re-applies the snapshot of versionID as a new version
func (s *DistributionService) RollbackDocument(ctx context.Context, name, versionID string, meta model.VersionMetadata) (*model.Version, error) {
	ctx, span := s.tracer.Start(ctx, "DistributionService.RollbackDocument",
		trace.WithAttributes(
			attribute.String("screen.name", name),
			attribute.String("screen.version", versionID)))
	defer span.End()

	if err := ValidateName(name); err != nil {
		return nil, spanError(span, err)
	}
	target, err := s.versions.GetVersion(ctx, name, versionID)
	if err != nil {
		return nil, spanError(span, err)
	}

	meta.ChangeType = model.ChangeTypeRollback
	meta.RollbackFrom = versionID
	v, created, err := s.write(ctx, name, target.Snapshot, meta)
	if err != nil {
		return nil, spanError(span, err)
	}

	s.logger.Info("Document rolled back",
		zap.String("name", name),
		zap.String("target_version", versionID),
		zap.String("version", v.ID),
		zap.Bool("created", created))
	return v, nil
}

// ApplyRestore writes a document restored from a backup. It checks ctx
// before the authoritative write so an item that timed out is not applied.
func (s *DistributionService) ApplyRestore(ctx context.Context, name string, doc model.Document, backupID string) error {
	ctx, span := s.tracer.Start(ctx, "DistributionService.ApplyRestore",
		trace.WithAttributes(
			attribute.String("screen.name", name),
			attribute.String("backup.id", backupID)))
	defer span.End()

	_, _, err := s.write(ctx, name, doc, model.VersionMetadata{
		CreatedBy: "restore:" + backupID,
		Comment:   "restored from backup " + backupID,
	})
	if err != nil {
		return spanError(span, err)
	}
	return nil
}

// write is the single mutation path: validate, prepare the version, write
// the authoritative record, commit the version, refresh the cache, publish.
func (s *DistributionService) write(ctx context.Context, name string, value model.Document, meta model.VersionMetadata) (*model.Version, bool, error) {
	start := time.Now()
	defer s.observe(HistogramWriteLatency, start)

	if err := ValidateName(name); err != nil {
		return nil, false, err
	}
	if err := ValidateDocument(value, s.cfg.MaxDepth); err != nil {
		return nil, false, err
	}

	unlock := s.locks.Lock(name)
	defer unlock()

	pending, err := s.versions.Prepare(ctx, name, value, meta)
	if err != nil {
		return nil, false, err
	}
	if pending.Noop {
		s.count(CounterNoopWrites)
		s.logger.Debug("Skipping unchanged document",
			zap.String("name", name),
			zap.String("version", pending.Head.ID))
		return pending.Head, false, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, false, serrors.StoreUnavailable("write aborted before store update", err)
	}

	v := pending.Version
	rec := model.NamedConfiguration{
		Name:             name,
		CurrentValue:     v.Snapshot,
		CurrentVersionID: v.ID,
		ContentHash:      v.ContentHash,
		UpdatedAt:        v.Metadata.CreatedAt,
		UpdatedBy:        v.Metadata.CreatedBy,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, false, serrors.InternalError("failed to encode configuration", err)
	}

	if err := s.kv.Set(ctx, ConfigKeyPrefix+name, data, 0); err != nil {
		s.logger.Error("Failed to write configuration",
			zap.String("name", name),
			zap.Error(err))
		return nil, false, serrors.StoreUnavailable("failed to write configuration "+name, err)
	}

	committed, persisted, err := s.versions.Commit(ctx, pending)
	if err != nil {
		return nil, false, err
	}
	if !persisted.OK() {
		s.logger.Warn("Version persistence degraded",
			zap.String("name", name),
			zap.String("version", committed.ID),
			zap.String("outcome", persisted.Outcome.String()),
			zap.Error(persisted.Err))
	}

	s.cacheSet(ctx, name, data)
	s.count(CounterDocumentsUpdated)
	s.publishAsync(rec, committed)

	s.logger.Info("Document updated",
		zap.String("name", name),
		zap.String("version", committed.ID),
		zap.String("change_type", string(committed.Metadata.ChangeType)),
		zap.String("updated_by", committed.Metadata.CreatedBy))
	return committed, true, nil
}

// load reads the authoritative record
func (s *DistributionService) load(ctx context.Context, name string) (*model.NamedConfiguration, []byte, error) {
	data, err := s.kv.Get(ctx, ConfigKeyPrefix+name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, serrors.ConfigNotFound(name)
	}
	if err != nil {
		return nil, nil, serrors.StoreUnavailable("failed to read configuration "+name, err)
	}

	var rec model.NamedConfiguration
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, nil, serrors.CorruptedData("configuration "+name+" is not decodable", err)
	}
	return &rec, data, nil
}

// cacheSet refreshes every cache tier. A tier that cannot be updated is
// invalidated so it cannot keep serving the previous value.
func (s *DistributionService) cacheSet(ctx context.Context, name string, data []byte) {
	if s.cache == nil {
		return
	}
	res := s.cache.Set(ctx, name, data)
	if res.OK() {
		return
	}

	s.count(CounterCacheDegraded)
	s.logger.Warn("Cache update degraded",
		zap.String("name", name),
		zap.String("outcome", res.Outcome.String()),
		zap.Error(res.Err))
	s.cache.Invalidate(ctx, name)
}

// publishAsync hands the update to the worker pool. Failures are logged and
// counted; subscribers resync on reconnect.
func (s *DistributionService) publishAsync(rec model.NamedConfiguration, v *model.Version) {
	if s.publisher == nil || s.codec == nil || s.pool == nil {
		return
	}

	ev := publish.UpdateEvent{
		Name:        rec.Name,
		VersionID:   v.ID,
		ContentHash: v.ContentHash,
		ChangeType:  v.Metadata.ChangeType,
		UpdatedAt:   rec.UpdatedAt,
		UpdatedBy:   rec.UpdatedBy,
		Document:    rec.CurrentValue,
	}
	topic := publish.Topic(s.cfg.TopicPrefix, rec.Name)

	err := s.pool.Submit(workerpool.Task{
		Name: "publish:" + rec.Name,
		Fn: func(ctx context.Context) error {
			payload, err := s.codec.Encode(ev)
			if err == nil {
				err = s.publisher.Publish(ctx, topic, payload)
			}
			if err != nil {
				s.count(CounterPublishFailures)
			}
			return err
		},
	})
	if err != nil {
		s.count(CounterPublishFailures)
		s.logger.Warn("Failed to schedule update publication",
			zap.String("name", rec.Name),
			zap.String("topic", topic),
			zap.Error(err))
	}
}

// ListDocuments returns the names of all stored documents, sorted
func (s *DistributionService) ListDocuments(ctx context.Context) ([]string, error) {
	keys, err := s.kv.KeysWithPrefix(ctx, ConfigKeyPrefix)
	if err != nil {
		return nil, serrors.StoreUnavailable("failed to list configurations", err)
	}
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, strings.TrimPrefix(k, ConfigKeyPrefix))
	}
	sort.Strings(names)
	return names, nil
}

// ListConfigurations returns the current value of every document, read from
// the authoritative store. Undecodable records are skipped.
func (s *DistributionService) ListConfigurations(ctx context.Context) (map[string]model.Document, error) {
	names, err := s.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]model.Document, len(names))
	for _, name := range names {
		rec, _, err := s.load(ctx, name)
		if err != nil {
			if serrors.GetCode(err) == serrors.ErrCodeStoreUnavailable {
				return nil, err
			}
			s.logger.Warn("Skipping configuration",
				zap.String("name", name),
				zap.Error(err))
			continue
		}
		out[name] = rec.CurrentValue
	}
	return out, nil
}

// ListVersions returns the version history of name, newest first
func (s *DistributionService) ListVersions(ctx context.Context, name string) ([]model.Version, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	versions, err := s.versions.ListVersions(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		if _, _, err := s.load(ctx, name); err != nil {
			return nil, err
		}
	}
	return versions, nil
}

// GetVersion returns one version of name
func (s *DistributionService) GetVersion(ctx context.Context, name, versionID string) (*model.Version, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	return s.versions.GetVersion(ctx, name, versionID)
}

// CompareVersions diffs two versions of name
func (s *DistributionService) CompareVersions(ctx context.Context, name, idA, idB string) ([]model.DiffEntry, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	return s.versions.Compare(ctx, name, idA, idB)
}

// StartCacheRefresh periodically rewrites every cache tier from the
// authoritative store
func (s *DistributionService) StartCacheRefresh(ctx context.Context) {
	if s.cache == nil || s.cfg.RefreshInterval <= 0 {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.RefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if n, err := s.RefreshCache(ctx); err != nil {
					s.logger.Warn("Cache refresh failed", zap.Error(err))
				} else {
					s.logger.Debug("Cache refreshed", zap.Int("documents", n))
				}
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	s.logger.Info("Cache refresh started", zap.Duration("interval", s.cfg.RefreshInterval))
}

// RefreshCache reloads every document into the cache tiers and returns the
// number refreshed. Individual failures are logged and skipped.
func (s *DistributionService) RefreshCache(ctx context.Context) (int, error) {
	names, err := s.ListDocuments(ctx)
	if err != nil {
		return 0, err
	}

	var mu sync.Mutex
	refreshed := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.RefreshConcurrency)
	for _, name := range names {
		name := name
		g.Go(func() error {
			unlock := s.locks.Lock(name)
			defer unlock()

			_, data, err := s.load(gctx, name)
			if err != nil {
				s.logger.Warn("Skipping cache refresh",
					zap.String("name", name),
					zap.Error(err))
				return nil
			}
			s.cacheSet(gctx, name, data)
			mu.Lock()
			refreshed++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return refreshed, err
	}

	s.count(CounterCacheRefreshes)
	return refreshed, nil
}

// Stop halts the cache refresh loop
func (s *DistributionService) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *DistributionService) count(name string) {
	if s.recorder != nil {
		s.recorder.IncrementCounter(name, 1)
	}
}

func (s *DistributionService) observe(name string, start time.Time) {
	if s.recorder != nil {
		s.recorder.ObserveSince(name, start)
	}
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
	return err
}
