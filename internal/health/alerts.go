package health

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	serrors "github.com/devrev/screenhub/internal/errors"
	"github.com/devrev/screenhub/internal/model"
	"github.com/devrev/screenhub/internal/store"
)

const (
	// AlertKeyPrefix namespaces persisted alert records
	AlertKeyPrefix = "alert:record:"

	maxRecentAlerts = 512
)

// transition is a raise or resolve produced by one cycle
type transition struct {
	alert    model.AlertRecord
	resolved bool
}

type alertKey struct {
	check string
	level model.AlertLevel
}

// alertBook holds the active set and a bounded in-memory history. Callers lock.
type alertBook struct {
	activeSet map[alertKey]*model.AlertRecord
	recent    []*model.AlertRecord
}

func newAlertBook() *alertBook {
	return &alertBook{activeSet: make(map[alertKey]*model.AlertRecord)}
}

// observe applies one result. An erroring check leaves its alerts untouched;
// otherwise the check ends the call holding at most the level its value implies.
func (b *alertBook) observe(r model.CheckResult, at time.Time) []transition {
	var level model.AlertLevel
	switch r.Status {
	case model.CheckStatusError:
		return nil
	case model.CheckStatusCritical:
		level = model.AlertCritical
	case model.CheckStatusWarning:
		level = model.AlertWarning
	}

	var out []transition
	for _, l := range []model.AlertLevel{model.AlertWarning, model.AlertCritical} {
		if l == level {
			continue
		}
		key := alertKey{r.CheckName, l}
		if a, ok := b.activeSet[key]; ok {
			resolvedAt := at
			a.ResolvedAt = &resolvedAt
			delete(b.activeSet, key)
			out = append(out, transition{alert: *a, resolved: true})
		}
	}

	if level == "" {
		return out
	}
	key := alertKey{r.CheckName, level}
	if _, ok := b.activeSet[key]; ok {
		return out
	}

	a := &model.AlertRecord{
		ID:          uuid.New().String(),
		CheckName:   r.CheckName,
		Level:       level,
		Message:     alertMessage(r),
		Value:       r.Value,
		TriggeredAt: at,
	}
	b.activeSet[key] = a
	b.recent = append(b.recent, a)
	if len(b.recent) > maxRecentAlerts {
		b.recent = b.recent[len(b.recent)-maxRecentAlerts:]
	}
	return append(out, transition{alert: *a})
}

// restore adopts an unresolved record loaded from the store. It reports whether
// the record is superseded by a different alert already active for its key.
func (b *alertBook) restore(a model.AlertRecord) bool {
	key := alertKey{a.CheckName, a.Level}
	if cur, ok := b.activeSet[key]; ok {
		return cur.ID != a.ID
	}
	rec := a
	b.activeSet[key] = &rec
	b.recent = append(b.recent, &rec)
	if len(b.recent) > maxRecentAlerts {
		b.recent = b.recent[len(b.recent)-maxRecentAlerts:]
	}
	return false
}

func (b *alertBook) active() []model.AlertRecord {
	out := make([]model.AlertRecord, 0, len(b.activeSet))
	for _, a := range b.activeSet {
		out = append(out, *a)
	}
	sortAlerts(out)
	return out
}

func (b *alertBook) since(cutoff time.Time) []model.AlertRecord {
	var out []model.AlertRecord
	for _, a := range b.recent {
		if !a.TriggeredAt.Before(cutoff) {
			out = append(out, *a)
		}
	}
	return out
}

func alertMessage(r model.CheckResult) string {
	if r.Value == nil {
		return fmt.Sprintf("%s is %s: %s", r.CheckName, r.Status, r.Message)
	}
	if r.Message == "" {
		return fmt.Sprintf("%s is %s (value %.2f)", r.CheckName, r.Status, *r.Value)
	}
	return fmt.Sprintf("%s is %s (value %.2f): %s", r.CheckName, r.Status, *r.Value, r.Message)
}

// recordKey sorts persisted records by trigger time
func recordKey(a model.AlertRecord) string {
	return fmt.Sprintf("%s%019d:%s", AlertKeyPrefix, a.TriggeredAt.UnixNano(), a.ID)
}

// triggeredFromKey extracts the trigger time encoded in a record key
func triggeredFromKey(key string) (time.Time, bool) {
	rest := strings.TrimPrefix(key, AlertKeyPrefix)
	ts, _, ok := strings.Cut(rest, ":")
	if !ok {
		return time.Time{}, false
	}
	nanos, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, nanos), true
}

// restoreActive reloads unresolved records written by an earlier process, once
// per engine. The newest record per check and level becomes active again so a
// later recovery resolves it; older duplicates are resolved on the spot. A
// listing failure leaves the engine to retry on the next cycle.
func (e *Engine) restoreActive(ctx context.Context) {
	if e.restored {
		return
	}
	if e.kv == nil {
		e.restored = true
		return
	}

	keys, err := e.kv.KeysWithPrefix(ctx, AlertKeyPrefix)
	if err != nil {
		e.logger.Warn("Failed to list alert records for restore", zap.Error(err))
		return
	}

	newest := make(map[alertKey]model.AlertRecord)
	var stale []model.AlertRecord
	for _, key := range keys {
		var a model.AlertRecord
		if err := store.GetJSON(ctx, e.kv, key, &a); err != nil {
			e.logger.Warn("Failed to load alert record", zap.String("key", key), zap.Error(err))
			continue
		}
		if a.ResolvedAt != nil {
			continue
		}
		k := alertKey{a.CheckName, a.Level}
		cur, ok := newest[k]
		switch {
		case !ok:
			newest[k] = a
		case a.TriggeredAt.After(cur.TriggeredAt):
			stale = append(stale, cur)
			newest[k] = a
		default:
			stale = append(stale, a)
		}
	}

	e.mu.Lock()
	restored := 0
	for _, a := range newest {
		if e.alerts.restore(a) {
			stale = append(stale, a)
			continue
		}
		restored++
	}
	activeIDs := make(map[string]bool, len(e.alerts.activeSet))
	for _, a := range e.alerts.activeSet {
		activeIDs[a.ID] = true
	}
	now := e.now()
	e.mu.Unlock()

	var resolved []transition
	for _, a := range stale {
		if activeIDs[a.ID] {
			continue
		}
		at := now
		a.ResolvedAt = &at
		resolved = append(resolved, transition{alert: a, resolved: true})
	}
	e.persistTransitions(ctx, resolved)

	e.restored = true
	if restored > 0 || len(resolved) > 0 {
		e.logger.Info("Restored active alerts",
			zap.Int("active", restored),
			zap.Int("superseded", len(resolved)))
	}
}

// persistTransitions writes raised and resolved records. Failures are logged only.
func (e *Engine) persistTransitions(ctx context.Context, transitions []transition) {
	for _, t := range transitions {
		if e.recorder != nil {
			if t.resolved {
				e.recorder.IncrementCounter(CounterAlertsResolved, 1)
			} else {
				e.recorder.IncrementCounter(CounterAlertsRaised, 1)
			}
		}
		if e.kv == nil {
			continue
		}
		if err := store.SetJSON(ctx, e.kv, recordKey(t.alert), t.alert, 0); err != nil {
			if e.recorder != nil {
				e.recorder.IncrementCounter(CounterAlertPersistFailure, 1)
			}
			e.logger.Warn("Failed to persist alert record",
				zap.String("alert_id", t.alert.ID),
				zap.String("check", t.alert.CheckName),
				zap.Error(err))
		}
	}
}

// GetAlertHistory returns alerts triggered within the last days, newest first.
// Persisted records are merged with in-memory ones; if the store is unreachable
// the in-memory history is returned.
func (e *Engine) GetAlertHistory(ctx context.Context, days int) ([]model.AlertRecord, error) {
	if days <= 0 {
		return nil, serrors.ValidationFailure("days", "must be positive")
	}

	e.mu.RLock()
	cutoff := e.now().Add(-time.Duration(days) * 24 * time.Hour)
	byID := make(map[string]model.AlertRecord)
	for _, a := range e.alerts.since(cutoff) {
		byID[a.ID] = a
	}
	e.mu.RUnlock()

	if e.kv != nil {
		e.mergePersisted(ctx, cutoff, byID)
	}

	out := make([]model.AlertRecord, 0, len(byID))
	for _, a := range byID {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TriggeredAt.Equal(out[j].TriggeredAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].TriggeredAt.After(out[j].TriggeredAt)
	})
	return out, nil
}

func (e *Engine) mergePersisted(ctx context.Context, cutoff time.Time, byID map[string]model.AlertRecord) {
	keys, err := e.kv.KeysWithPrefix(ctx, AlertKeyPrefix)
	if err != nil {
		e.logger.Warn("Failed to list alert history", zap.Error(err))
		return
	}

	for _, key := range keys {
		triggered, ok := triggeredFromKey(key)
		if !ok || triggered.Before(cutoff) {
			continue
		}
		var a model.AlertRecord
		if err := store.GetJSON(ctx, e.kv, key, &a); err != nil {
			e.logger.Warn("Failed to load alert record", zap.String("key", key), zap.Error(err))
			continue
		}
		if _, ok := byID[a.ID]; !ok {
			byID[a.ID] = a
		}
	}
}

// PruneHistory deletes persisted records triggered before the retention window
func (e *Engine) PruneHistory(ctx context.Context, retention time.Duration) (int, error) {
	if e.kv == nil {
		return 0, nil
	}
	keys, err := e.kv.KeysWithPrefix(ctx, AlertKeyPrefix)
	if err != nil {
		return 0, serrors.StoreUnavailable("list alert history", err)
	}

	e.mu.RLock()
	cutoff := e.now().Add(-retention)
	e.mu.RUnlock()

	pruned := 0
	for _, key := range keys {
		triggered, ok := triggeredFromKey(key)
		if !ok || !triggered.Before(cutoff) {
			continue
		}
		if err := e.kv.Delete(ctx, key); err != nil {
			e.logger.Warn("Failed to prune alert record", zap.String("key", key), zap.Error(err))
			continue
		}
		pruned++
	}
	if pruned > 0 {
		e.logger.Info("Pruned alert history", zap.Int("records", pruned))
	}
	return pruned, nil
}
