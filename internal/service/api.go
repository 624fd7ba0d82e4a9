package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/devrev/screenhub/internal/backup"
	"github.com/devrev/screenhub/internal/health"
	"github.com/devrev/screenhub/internal/metrics"
	"github.com/devrev/screenhub/internal/model"
)

// API is the interface offered to the request layer in front of the service
type API struct {
	docs    *DistributionService
	backups *backup.Service
	health  *health.Engine
	metrics *metrics.Aggregator
	logger  *zap.Logger
}

// NewAPI creates the API facade
func NewAPI(docs *DistributionService, backups *backup.Service, engine *health.Engine, agg *metrics.Aggregator, logger *zap.Logger) *API {
	return &API{
		docs:    docs,
		backups: backups,
		health:  engine,
		metrics: agg,
		logger:  logger,
	}
}

// GetDocument returns the current configuration of name
func (a *API) GetDocument(ctx context.Context, name string) (*model.NamedConfiguration, error) {
	return a.docs.GetDocument(ctx, name)
}

// GetResolvedDocument returns the value of name with variables resolved
func (a *API) GetResolvedDocument(ctx context.Context, name string, vars map[string]any) (model.Document, error) {
	return a.docs.GetResolvedDocument(ctx, name, vars)
}

// ListDocuments returns all document names
func (a *API) ListDocuments(ctx context.Context) ([]string, error) {
	return a.docs.ListDocuments(ctx)
}

// UpdateDocument writes a new value for name
func (a *API) UpdateDocument(ctx context.Context, name string, value model.Document, meta model.VersionMetadata) (*model.Version, error) {
	return a.docs.UpdateDocument(ctx, name, value, meta)
}

// RollbackDocument re-applies an earlier version of name
func (a *API) RollbackDocument(ctx context.Context, name, versionID string, meta model.VersionMetadata) (*model.Version, error) {
	return a.docs.RollbackDocument(ctx, name, versionID, meta)
}

// ListVersions returns the history of name, newest first
func (a *API) ListVersions(ctx context.Context, name string) ([]model.Version, error) {
	return a.docs.ListVersions(ctx, name)
}

// CompareVersions diffs two versions of name
func (a *API) CompareVersions(ctx context.Context, name, idA, idB string) ([]model.DiffEntry, error) {
	return a.docs.CompareVersions(ctx, name, idA, idB)
}

// CreateBackup takes a manual full backup
func (a *API) CreateBackup(ctx context.Context) (*model.BackupSet, error) {
	set, err := a.backups.CreateFullBackup(ctx, model.TriggerManual)
	if err != nil {
		a.logger.Error("Manual backup failed", zap.Error(err))
		return nil, err
	}
	return set, nil
}

// ListBackups returns retained backups, newest first
func (a *API) ListBackups(ctx context.Context) ([]model.BackupSummary, error) {
	return a.backups.ListBackups(ctx)
}

// RestoreBackup restores every document of a backup, reporting per-item results
func (a *API) RestoreBackup(ctx context.Context, backupID string) (*model.RestoreResult, error) {
	return a.backups.RestoreFromBackup(ctx, backupID)
}

// GetHealthStatus returns the latest aggregate health
func (a *API) GetHealthStatus(ctx context.Context) model.HealthStatus {
	return a.health.GetStatus()
}

// RunHealthCheck runs a health cycle now
func (a *API) RunHealthCheck(ctx context.Context) (model.HealthStatus, error) {
	return a.health.RunManualHealthCheck(ctx)
}

// GetAlertHistory returns alerts raised in the last days
func (a *API) GetAlertHistory(ctx context.Context, days int) ([]model.AlertRecord, error) {
	return a.health.GetAlertHistory(ctx, days)
}

// GetMetricsSnapshot returns the current metrics with derived values
func (a *API) GetMetricsSnapshot(ctx context.Context) metrics.Snapshot {
	return a.metrics.Snapshot()
}
