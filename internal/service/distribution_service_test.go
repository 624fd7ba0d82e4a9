package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/screenhub/internal/backup"
	serrors "github.com/devrev/screenhub/internal/errors"
	"github.com/devrev/screenhub/internal/metrics"
	"github.com/devrev/screenhub/internal/model"
	"github.com/devrev/screenhub/internal/publish"
	"github.com/devrev/screenhub/internal/resolver"
	"github.com/devrev/screenhub/internal/store"
	"github.com/devrev/screenhub/internal/util/workerpool"
	"github.com/devrev/screenhub/internal/version"
)

// faultyKV fails writes to selected keys
type faultyKV struct {
	store.KVStore
	mu      sync.Mutex
	failSet map[string]error
}

func (f *faultyKV) failOn(key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSet[key] = err
}

func (f *faultyKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	err := f.failSet[key]
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.KVStore.Set(ctx, key, value, ttl)
}

type published struct {
	topic   string
	payload []byte
}

// recordingPublisher keeps every publication
type recordingPublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *recordingPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{topic: topic, payload: payload})
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) messages() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

type fixture struct {
	svc   *DistributionService
	kv    *faultyKV
	l1    *store.InMemoryKV
	l2    *store.RedisKV
	agg   *metrics.Aggregator
	pub   *recordingPublisher
	codec *publish.Codec
}

func newFixture(t *testing.T) *fixture {
	logger := zap.NewNop()
	agg := metrics.NewAggregator("screenhub")

	authoritative := store.NewInMemoryKV(0, 0, logger)
	kv := &faultyKV{KVStore: authoritative, failSet: make(map[string]error)}

	l1 := store.NewInMemoryKV(100, 0, logger)
	mr := miniredis.RunT(t)
	l2 := store.NewRedisKVFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), logger)
	cache := store.NewTieredCache(CacheKeyPrefix, []store.Tier{
		{Name: "l1", Store: l1, TTL: time.Minute},
		{Name: "l2", Store: l2, TTL: 5 * time.Minute},
	}, agg, logger)

	versions := version.NewStore(version.Config{MaxVersions: 10}, kv, agg, logger)
	res := resolver.New(resolver.Options{Environment: "test", Recorder: agg}, logger)
	codec, err := publish.NewCodec(publish.FormatJSON)
	require.NoError(t, err)
	pub := &recordingPublisher{}
	pool := workerpool.New(workerpool.Config{Name: "publish", Workers: 2, QueueSize: 16, TaskTimeout: time.Second}, logger)

	svc := NewDistributionService(DistributionConfig{TopicPrefix: "screens/"},
		kv, cache, versions, res, pub, codec, pool, agg, logger)

	t.Cleanup(func() {
		svc.Stop()
		_ = pool.Stop(context.Background())
		l2.Close()
		l1.Close()
		authoritative.Close()
	})

	return &fixture{svc: svc, kv: kv, l1: l1, l2: l2, agg: agg, pub: pub, codec: codec}
}

func doc(v map[string]any) model.Document {
	return model.MustFromAny(v)
}

func TestUpdateAndGetDocument(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	v, err := f.svc.UpdateDocument(ctx, "lobby", doc(map[string]any{"title": "Lobby"}), model.VersionMetadata{CreatedBy: "ops"})
	require.NoError(t, err)
	assert.Equal(t, model.ChangeTypeCreate, v.Metadata.ChangeType)

	rec, err := f.svc.GetDocument(ctx, "lobby")
	require.NoError(t, err)
	assert.Equal(t, v.ID, rec.CurrentVersionID)
	assert.Equal(t, "ops", rec.UpdatedBy)
	title, _ := rec.CurrentValue.Get("title")
	assert.Equal(t, "Lobby", title.AsString())
	assert.Equal(t, uint64(1), f.agg.Counter("cache_l1_hits"))

	_, err = f.svc.GetDocument(ctx, "missing")
	assert.True(t, serrors.IsNotFound(err))
}

func TestIdempotentWrite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.svc.UpdateDocument(ctx, "lobby", doc(map[string]any{"a": 1, "b": map[string]any{"x": true, "y": nil}}), model.VersionMetadata{})
	require.NoError(t, err)
	second, err := f.svc.UpdateDocument(ctx, "lobby", doc(map[string]any{"b": map[string]any{"y": nil, "x": true}, "a": 1}), model.VersionMetadata{})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	versions, err := f.svc.ListVersions(ctx, "lobby")
	require.NoError(t, err)
	assert.Len(t, versions, 1)
	assert.Equal(t, uint64(1), f.agg.Counter(CounterNoopWrites))
}

func TestValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	deep := map[string]any{"leaf": 1}
	for i := 0; i < 70; i++ {
		deep = map[string]any{"n": deep}
	}

	tests := []struct {
		name  string
		key   string
		value model.Document
	}{
		{"empty name", "", doc(map[string]any{})},
		{"name with slash", "a/b", doc(map[string]any{})},
		{"leading dot", ".hidden", doc(map[string]any{})},
		{"array root", "lobby", model.Array(model.Number(1))},
		{"scalar root", "lobby", model.String("x")},
		{"too deep", "lobby", doc(deep)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.UpdateDocument(ctx, tt.key, tt.value, model.VersionMetadata{})
			assert.Equal(t, serrors.ErrCodeValidationFailure, serrors.GetCode(err))
		})
	}
}

func TestRollbackDocument(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	v1, err := f.svc.UpdateDocument(ctx, "lobby", doc(map[string]any{"theme": "blue"}), model.VersionMetadata{})
	require.NoError(t, err)
	_, err = f.svc.UpdateDocument(ctx, "lobby", doc(map[string]any{"theme": "red", "extra": 1}), model.VersionMetadata{})
	require.NoError(t, err)

	rb, err := f.svc.RollbackDocument(ctx, "lobby", v1.ID, model.VersionMetadata{CreatedBy: "ops"})
	require.NoError(t, err)
	assert.NotEqual(t, v1.ID, rb.ID)
	assert.Equal(t, model.ChangeTypeRollback, rb.Metadata.ChangeType)
	assert.Equal(t, v1.ID, rb.Metadata.RollbackFrom)

	rec, err := f.svc.GetDocument(ctx, "lobby")
	require.NoError(t, err)
	assert.True(t, v1.Snapshot.Equal(rec.CurrentValue))
	assert.Equal(t, rb.ID, rec.CurrentVersionID)

	versions, err := f.svc.ListVersions(ctx, "lobby")
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, rb.ID, versions[0].ID)
	assert.Equal(t, v1.ID, versions[2].ID)

	_, err = f.svc.RollbackDocument(ctx, "lobby", "nope", model.VersionMetadata{})
	assert.True(t, serrors.IsNotFound(err))
}

func TestUpdateDocument_StoreUnavailable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.UpdateDocument(ctx, "lobby", doc(map[string]any{"v": 1}), model.VersionMetadata{})
	require.NoError(t, err)

	f.kv.failOn(ConfigKeyPrefix+"lobby", errors.New("disk full"))
	_, err = f.svc.UpdateDocument(ctx, "lobby", doc(map[string]any{"v": 2}), model.VersionMetadata{})
	assert.Equal(t, serrors.ErrCodeStoreUnavailable, serrors.GetCode(err))

	versions, err := f.svc.ListVersions(ctx, "lobby")
	require.NoError(t, err)
	assert.Len(t, versions, 1)

	rec, err := f.svc.GetDocument(ctx, "lobby")
	require.NoError(t, err)
	v, _ := rec.CurrentValue.Get("v")
	assert.Equal(t, 1.0, v.AsNumber())
}

func TestPartialRestore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i, name := range []string{"doc1", "doc2", "doc3"} {
		_, err := f.svc.UpdateDocument(ctx, name, doc(map[string]any{"rev": "backup", "n": i}), model.VersionMetadata{})
		require.NoError(t, err)
	}

	backups := backup.NewService(backup.Config{ItemTimeout: time.Second}, f.kv, f.svc, f.svc, f.agg, zap.NewNop())
	set, err := backups.CreateFullBackup(ctx, model.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 3, set.Metadata.TotalConfigs)

	for i, name := range []string{"doc1", "doc2", "doc3"} {
		_, err := f.svc.UpdateDocument(ctx, name, doc(map[string]any{"rev": "later", "n": i}), model.VersionMetadata{})
		require.NoError(t, err)
	}
	before, err := f.svc.GetDocument(ctx, "doc2")
	require.NoError(t, err)
	versionsBefore, err := f.svc.ListVersions(ctx, "doc2")
	require.NoError(t, err)

	f.kv.failOn(ConfigKeyPrefix+"doc2", errors.New("write rejected"))

	result, err := backups.RestoreFromBackup(ctx, set.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc1", "doc3"}, result.RestoredNames)
	assert.Equal(t, []string{"doc2"}, result.FailedNames)

	after, err := f.svc.GetDocument(ctx, "doc2")
	require.NoError(t, err)
	assert.True(t, before.CurrentValue.Equal(after.CurrentValue))
	assert.Equal(t, before.CurrentVersionID, after.CurrentVersionID)
	versionsAfter, err := f.svc.ListVersions(ctx, "doc2")
	require.NoError(t, err)
	assert.Len(t, versionsAfter, len(versionsBefore))

	restored, err := f.svc.GetDocument(ctx, "doc1")
	require.NoError(t, err)
	rev, _ := restored.CurrentValue.Get("rev")
	assert.Equal(t, "backup", rev.AsString())
	head, err := f.svc.GetVersion(ctx, "doc1", restored.CurrentVersionID)
	require.NoError(t, err)
	assert.Equal(t, "restore:"+set.ID, head.Metadata.CreatedBy)
}

func TestApplyRestore_CancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.svc.ApplyRestore(ctx, "lobby", doc(map[string]any{"v": 1}), "b1")
	assert.Error(t, err)

	_, err = f.svc.GetDocument(context.Background(), "lobby")
	assert.True(t, serrors.IsNotFound(err))
}

func TestCacheTiers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.UpdateDocument(ctx, "lobby", doc(map[string]any{"v": 1}), model.VersionMetadata{})
	require.NoError(t, err)

	require.NoError(t, f.l1.Delete(ctx, CacheKeyPrefix+"lobby"))
	_, err = f.svc.GetDocument(ctx, "lobby")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), f.agg.Counter("cache_l2_hits"))

	_, err = f.l1.Get(ctx, CacheKeyPrefix+"lobby")
	assert.NoError(t, err, "l2 hit backfills l1")

	require.NoError(t, f.l1.Delete(ctx, CacheKeyPrefix+"lobby"))
	require.NoError(t, f.l2.Delete(ctx, CacheKeyPrefix+"lobby"))
	_, err = f.svc.GetDocument(ctx, "lobby")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), f.agg.Counter(store.CounterCacheMisses))

	_, err = f.l2.Get(ctx, CacheKeyPrefix+"lobby")
	assert.NoError(t, err, "store load repopulates the cache")
}

func TestRefreshCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for _, name := range []string{"a", "b", "c"} {
		_, err := f.svc.UpdateDocument(ctx, name, doc(map[string]any{"name": name}), model.VersionMetadata{})
		require.NoError(t, err)
		require.NoError(t, f.l1.Delete(ctx, CacheKeyPrefix+name))
	}

	n, err := f.svc.RefreshCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, f.l1.Size())
}

func TestPublishOnUpdate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	v, err := f.svc.UpdateDocument(ctx, "lobby", doc(map[string]any{"title": "Lobby"}), model.VersionMetadata{CreatedBy: "ops"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(f.pub.messages()) == 1 }, 2*time.Second, 10*time.Millisecond)
	msg := f.pub.messages()[0]
	assert.Equal(t, "screens/lobby", msg.topic)

	ev, err := f.codec.Decode(msg.payload)
	require.NoError(t, err)
	assert.Equal(t, v.ID, ev.VersionID)
	assert.Equal(t, "ops", ev.UpdatedBy)

	f.pub.mu.Lock()
	f.pub.err = errors.New("broker down")
	f.pub.mu.Unlock()

	_, err = f.svc.UpdateDocument(ctx, "lobby", doc(map[string]any{"title": "Hall"}), model.VersionMetadata{})
	require.NoError(t, err, "publish failures never fail the write")
	require.Eventually(t, func() bool { return f.agg.Counter(CounterPublishFailures) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestGetResolvedDocument(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.UpdateDocument(ctx, "welcome", doc(map[string]any{
		"greeting": "Hello {{user.name | upper}}",
		"env":      "{{environment}}",
		"missing":  "{{nope}}",
	}), model.VersionMetadata{})
	require.NoError(t, err)

	resolved, err := f.svc.GetResolvedDocument(ctx, "welcome", map[string]any{
		"user": map[string]any{"name": "ada"},
	})
	require.NoError(t, err)

	greeting, _ := resolved.Get("greeting")
	env, _ := resolved.Get("env")
	missing, _ := resolved.Get("missing")
	assert.Equal(t, "Hello ADA", greeting.AsString())
	assert.Equal(t, "test", env.AsString())
	assert.Equal(t, "{{nope}}", missing.AsString())

	stored, err := f.svc.GetDocument(ctx, "welcome")
	require.NoError(t, err)
	raw, _ := stored.CurrentValue.Get("greeting")
	assert.Equal(t, "Hello {{user.name | upper}}", raw.AsString())
}

func TestConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.UpdateDocument(ctx, "lobby", doc(map[string]any{"n": i}), model.VersionMetadata{CreatedBy: fmt.Sprintf("writer-%d", i)})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	versions, err := f.svc.ListVersions(ctx, "lobby")
	require.NoError(t, err)
	assert.Len(t, versions, 8)
	for i := 1; i < len(versions); i++ {
		assert.Equal(t, versions[i].ID, versions[i-1].ParentID)
	}

	rec, err := f.svc.GetDocument(ctx, "lobby")
	require.NoError(t, err)
	assert.Equal(t, versions[0].ID, rec.CurrentVersionID)
}

func TestListVersions_Unknown(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ListVersions(context.Background(), "ghost")
	assert.True(t, serrors.IsNotFound(err))
}

func TestListConfigurations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for _, name := range []string{"b", "a"} {
		_, err := f.svc.UpdateDocument(ctx, name, doc(map[string]any{"name": name}), model.VersionMetadata{})
		require.NoError(t, err)
	}
	require.NoError(t, f.kv.KVStore.Set(ctx, ConfigKeyPrefix+"broken", []byte("{"), 0))

	names, err := f.svc.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "broken"}, names)

	configs, err := f.svc.ListConfigurations(ctx)
	require.NoError(t, err)
	assert.Len(t, configs, 2)
	assert.Contains(t, configs, "a")
}
