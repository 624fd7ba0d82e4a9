package model

import "time"

// NamedConfiguration is the current state of one screen document
type NamedConfiguration struct {
	Name             string    `json:"name"`
	CurrentValue     Document  `json:"current_value"`
	CurrentVersionID string    `json:"current_version_id"`
	ContentHash      string    `json:"content_hash"`
	UpdatedAt        time.Time `json:"updated_at"`
	UpdatedBy        string    `json:"updated_by,omitempty"`
}

// ChangeType records why a version was created
type ChangeType string

const (
	// ChangeTypeCreate is the first version of a document
	ChangeTypeCreate ChangeType = "create"
	// ChangeTypeUpdate is a regular write
	ChangeTypeUpdate ChangeType = "update"
	// ChangeTypeRollback re-applies the snapshot of an earlier version
	ChangeTypeRollback ChangeType = "rollback"
)

// VersionMetadata describes the origin of a version
type VersionMetadata struct {
	CreatedAt    time.Time  `json:"created_at"`
	CreatedBy    string     `json:"created_by,omitempty"`
	ChangeType   ChangeType `json:"change_type"`
	RollbackFrom string     `json:"rollback_from,omitempty"`
	Comment      string     `json:"comment,omitempty"`
}

// Version is an immutable snapshot of a document
type Version struct {
	ID          string          `json:"id"`
	ConfigName  string          `json:"config_name"`
	ParentID    string          `json:"parent_id,omitempty"`
	Snapshot    Document        `json:"snapshot"`
	Metadata    VersionMetadata `json:"metadata"`
	ContentHash string          `json:"content_hash"`
}

// DiffType classifies a diff entry
type DiffType string

const (
	DiffAdded    DiffType = "added"
	DiffRemoved  DiffType = "removed"
	DiffModified DiffType = "modified"
)

// DiffEntry is one structural difference between two snapshots
type DiffEntry struct {
	Type     DiffType  `json:"type"`
	Path     string    `json:"path"`
	OldValue *Document `json:"old_value,omitempty"`
	NewValue *Document `json:"new_value,omitempty"`
}

// TriggerType records what started a backup
type TriggerType string

const (
	TriggerScheduled TriggerType = "scheduled"
	TriggerManual    TriggerType = "manual"
)

// BackupMetadata summarises a backup set
type BackupMetadata struct {
	TotalConfigs int         `json:"total_configs"`
	TriggerType  TriggerType `json:"trigger_type"`
}

// BackupSet is a full snapshot of every document at one point in time
type BackupSet struct {
	ID        string              `json:"id"`
	Timestamp time.Time           `json:"timestamp"`
	Configs   map[string]Document `json:"configs"`
	Metadata  BackupMetadata      `json:"metadata"`
}

// BackupSummary is a backup set without its documents
type BackupSummary struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  BackupMetadata `json:"metadata"`
}

// Summary drops the document payloads
func (b *BackupSet) Summary() BackupSummary {
	return BackupSummary{ID: b.ID, Timestamp: b.Timestamp, Metadata: b.Metadata}
}

// RestoreResult lists the outcome of every item in a restore
type RestoreResult struct {
	BackupID      string            `json:"backup_id"`
	RestoredNames []string          `json:"restored_names"`
	FailedNames   []string          `json:"failed_names"`
	Failures      map[string]string `json:"failures,omitempty"`
}

// Partial reports whether at least one item failed
func (r *RestoreResult) Partial() bool {
	return len(r.FailedNames) > 0
}
