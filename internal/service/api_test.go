package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/screenhub/internal/backup"
	"github.com/devrev/screenhub/internal/health"
	"github.com/devrev/screenhub/internal/model"
	"github.com/devrev/screenhub/internal/store"
)

func TestAPI(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	backups := backup.NewService(backup.Config{}, f.kv, f.svc, f.svc, f.agg, zap.NewNop())
	engine := health.NewEngine(health.Config{}, f.kv, nil, f.agg, zap.NewNop())
	require.NoError(t, engine.RegisterCheck("store_latency", health.StoreLatencyCheck(f.kv),
		model.Threshold{Warning: 250, Critical: 1000}, health.Critical()))
	require.NoError(t, engine.RegisterCheck("cache_hit_rate",
		health.CacheHitRateCheck(f.agg, store.CounterCacheHits, store.CounterCacheMisses, 1),
		model.Threshold{Warning: 80, Critical: 50, Inverse: true}))

	api := NewAPI(f.svc, backups, engine, f.agg, zap.NewNop())

	v1, err := api.UpdateDocument(ctx, "lobby", doc(map[string]any{"title": "Lobby", "cols": 2}), model.VersionMetadata{})
	require.NoError(t, err)
	v2, err := api.UpdateDocument(ctx, "lobby", doc(map[string]any{"title": "Lobby", "cols": 3}), model.VersionMetadata{})
	require.NoError(t, err)

	diff, err := api.CompareVersions(ctx, "lobby", v1.ID, v2.ID)
	require.NoError(t, err)
	require.Len(t, diff, 1)
	assert.Equal(t, "cols", diff[0].Path)

	set, err := api.CreateBackup(ctx)
	require.NoError(t, err)
	list, err := api.ListBackups(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, set.ID, list[0].ID)

	_, err = api.RollbackDocument(ctx, "lobby", v1.ID, model.VersionMetadata{})
	require.NoError(t, err)
	result, err := api.RestoreBackup(ctx, set.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"lobby"}, result.RestoredNames)

	rec, err := api.GetDocument(ctx, "lobby")
	require.NoError(t, err)
	assert.True(t, v2.Snapshot.Equal(rec.CurrentValue))

	versions, err := api.ListVersions(ctx, "lobby")
	require.NoError(t, err)
	assert.Len(t, versions, 4)

	status, err := api.RunHealthCheck(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.StatusHealthy, status.Status)
	assert.Equal(t, model.StatusHealthy, api.GetHealthStatus(ctx).Status)
	assert.Contains(t, status.Checks, "store_latency")

	history, err := api.GetAlertHistory(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, history)

	snap := api.GetMetricsSnapshot(ctx)
	assert.Equal(t, uint64(4), snap.Counters[CounterDocumentsUpdated])
	assert.Equal(t, uint64(1), snap.Counters[backup.CounterBackupsCreated])
	assert.Contains(t, snap.Histograms, HistogramWriteLatency)
	assert.Contains(t, snap.Derived, "cache_hit_rate")
	assert.WithinDuration(t, time.Now(), snap.Timestamp, time.Minute)
}
