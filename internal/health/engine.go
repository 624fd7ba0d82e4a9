package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/devrev/screenhub/internal/model"
	"github.com/devrev/screenhub/internal/notify"
	"github.com/devrev/screenhub/internal/store"
)

var (
	// ErrCycleInProgress is returned when a cycle is requested while one is running
	ErrCycleInProgress = errors.New("health cycle already in progress")
	// ErrDuplicateCheck is returned when a check name is registered twice
	ErrDuplicateCheck = errors.New("health check already registered")
)

const (
	DefaultInterval     = 30 * time.Second
	DefaultCheckTimeout = 5 * time.Second

	CounterCycles              = "health_cycles"
	CounterCheckErrors         = "health_check_errors"
	CounterAlertsRaised        = "alerts_raised"
	CounterAlertsResolved      = "alerts_resolved"
	CounterNotifyFailures      = "alert_notification_failures"
	CounterAlertPersistFailure = "alert_persist_failures"
	HistogramCycleDuration     = "health_cycle_duration_ms"
)

// Observation is what a check reports. A nil Value means the check has no
// numeric sample this cycle and is reported as ok.
type Observation struct {
	Value   *float64
	Message string
}

// Value wraps v for an Observation
func Value(v float64) *float64 {
	return &v
}

// CheckFunc samples one health signal
type CheckFunc func(ctx context.Context) (Observation, error)

// Recorder receives engine metrics
type Recorder interface {
	IncrementCounter(name string, delta uint64)
	SetGauge(name string, value float64)
	ObserveSince(name string, start time.Time)
}

// CheckOption customizes a registered check
type CheckOption func(*check)

// Critical marks a check whose critical or error state makes the service unhealthy
func Critical() CheckOption {
	return func(c *check) { c.critical = true }
}

// WithTimeout overrides the engine's per-check timeout
func WithTimeout(d time.Duration) CheckOption {
	return func(c *check) { c.timeout = d }
}

type check struct {
	name      string
	fn        CheckFunc
	threshold model.Threshold
	critical  bool
	timeout   time.Duration
}

// Config holds health engine configuration
type Config struct {
	Interval      time.Duration
	CheckTimeout  time.Duration
	MaxConcurrent int
	NotifyTimeout time.Duration

	// HistoryRetention bounds persisted alert records; zero keeps them forever
	HistoryRetention time.Duration
}

// Engine runs registered checks, keeps the aggregate status and tracks alerts
type Engine struct {
	cfg      Config
	kv       store.KVStore
	notifier notify.Notifier
	recorder Recorder
	logger   *zap.Logger

	running atomic.Bool

	mu      sync.RWMutex
	checks  []*check
	byName  map[string]*check
	status  model.HealthStatus
	alerts  *alertBook
	ready   bool
	started time.Time
	now     func() time.Time

	lastPrune time.Time
	// restored is only touched inside RunCycle
	restored bool

	notifyWG sync.WaitGroup
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewEngine creates a health engine. kv holds alert history; notifier may be nil.
func NewEngine(cfg Config, kv store.KVStore, notifier notify.Notifier, recorder Recorder, logger *zap.Logger) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = DefaultCheckTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 10 * time.Second
	}

	now := time.Now()
	return &Engine{
		cfg:      cfg,
		kv:       kv,
		notifier: notifier,
		recorder: recorder,
		logger:   logger,
		byName:   make(map[string]*check),
		alerts:   newAlertBook(),
		ready:    true,
		started:  now,
		now:      time.Now,
		status: model.HealthStatus{
			Status:    model.StatusHealthy,
			Timestamp: now,
			Checks:    map[string]model.CheckResult{},
		},
	}
}

// SetClock replaces the time source
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
	e.started = now()
}

// RegisterCheck adds a named check with its threshold table
func (e *Engine) RegisterCheck(name string, fn CheckFunc, threshold model.Threshold, opts ...CheckOption) error {
	if name == "" || fn == nil {
		return fmt.Errorf("check name and function are required")
	}

	c := &check{name: name, fn: fn, threshold: threshold, timeout: e.cfg.CheckTimeout}
	for _, opt := range opts {
		opt(c)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.byName[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCheck, name)
	}
	e.byName[name] = c
	e.checks = append(e.checks, c)

	e.logger.Info("Registered health check",
		zap.String("check", name),
		zap.Float64("warning", threshold.Warning),
		zap.Float64("critical", threshold.Critical),
		zap.Bool("inverse", threshold.Inverse),
		zap.Bool("critical_check", c.critical))
	return nil
}

// Start runs a cycle immediately and then on every interval until Stop or ctx ends
func (e *Engine) Start(ctx context.Context) {
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})

	go func() {
		defer close(e.doneCh)
		ticker := time.NewTicker(e.cfg.Interval)
		defer ticker.Stop()

		e.runScheduled(ctx)
		for {
			select {
			case <-ticker.C:
				e.runScheduled(ctx)
			case <-e.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	e.logger.Info("Health engine started", zap.Duration("interval", e.cfg.Interval))
}

func (e *Engine) runScheduled(ctx context.Context) {
	if _, err := e.RunCycle(ctx); err != nil {
		e.logger.Warn("Scheduled health cycle skipped", zap.Error(err))
	}

	if e.cfg.HistoryRetention > 0 && time.Since(e.lastPrune) >= time.Hour {
		e.lastPrune = time.Now()
		if _, err := e.PruneHistory(ctx, e.cfg.HistoryRetention); err != nil {
			e.logger.Warn("Failed to prune alert history", zap.Error(err))
		}
	}
}

// Stop halts the timer and waits for pending notifications
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		if e.stopCh != nil {
			close(e.stopCh)
			<-e.doneCh
		}
	})
	e.notifyWG.Wait()
	e.logger.Info("Health engine stopped")
}

// RunCycle executes every registered check once and updates status and alerts.
// It fails with ErrCycleInProgress if another cycle has not finished.
func (e *Engine) RunCycle(ctx context.Context) (model.HealthStatus, error) {
	if !e.running.CompareAndSwap(false, true) {
		return model.HealthStatus{}, ErrCycleInProgress
	}
	defer e.running.Store(false)

	e.restoreActive(ctx)

	start := time.Now()
	e.mu.RLock()
	checks := append([]*check(nil), e.checks...)
	now := e.now
	e.mu.RUnlock()

	results := make([]model.CheckResult, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrent)
	for i, c := range checks {
		i, c := i, c
		g.Go(func() error {
			results[i] = e.runCheck(gctx, c, now)
			return nil
		})
	}
	_ = g.Wait()

	transitions := e.apply(results, now())
	e.persistTransitions(ctx, transitions)
	e.dispatch(transitions)

	if e.recorder != nil {
		e.recorder.IncrementCounter(CounterCycles, 1)
		e.recorder.ObserveSince(HistogramCycleDuration, start)
	}

	status := e.GetStatus()
	e.logger.Debug("Health cycle completed",
		zap.String("status", string(status.Status)),
		zap.Int("checks", len(results)),
		zap.Int("active_alerts", len(status.ActiveAlerts)),
		zap.Duration("duration", time.Since(start)))
	return status, nil
}

// RunManualHealthCheck runs one cycle synchronously, outside the timer
func (e *Engine) RunManualHealthCheck(ctx context.Context) (model.HealthStatus, error) {
	e.logger.Info("Manual health check requested")
	return e.RunCycle(ctx)
}

// runCheck executes one check with its timeout and maps the outcome to a result
func (e *Engine) runCheck(ctx context.Context, c *check, now func() time.Time) model.CheckResult {
	started := time.Now()
	result := model.CheckResult{CheckName: c.name, Critical: c.critical}

	obs, err := e.invoke(ctx, c)
	result.Timestamp = now()
	result.Duration = time.Since(started)

	if err != nil {
		result.Status = model.CheckStatusError
		result.Message = err.Error()
		if e.recorder != nil {
			e.recorder.IncrementCounter(CounterCheckErrors, 1)
		}
		e.logger.Warn("Health check failed",
			zap.String("check", c.name),
			zap.Error(err))
		return result
	}

	result.Value = obs.Value
	result.Message = obs.Message
	result.Status = model.CheckStatusOK
	if obs.Value != nil {
		switch c.threshold.Level(*obs.Value) {
		case model.AlertCritical:
			result.Status = model.CheckStatusCritical
		case model.AlertWarning:
			result.Status = model.CheckStatusWarning
		}
		if e.recorder != nil {
			e.recorder.SetGauge("health_check_"+c.name, *obs.Value)
		}
	}
	return result
}

// invoke calls the check function, bounding it by its timeout and recovering panics
func (e *Engine) invoke(ctx context.Context, c *check) (Observation, error) {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type outcome struct {
		obs Observation
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("check panicked: %v", r)}
			}
		}()
		obs, err := c.fn(cctx)
		done <- outcome{obs: obs, err: err}
	}()

	select {
	case out := <-done:
		return out.obs, out.err
	case <-cctx.Done():
		return Observation{}, fmt.Errorf("check timed out after %s", c.timeout)
	}
}

// apply stores results, recomputes the aggregate status and runs alert transitions
func (e *Engine) apply(results []model.CheckResult, at time.Time) []transition {
	e.mu.Lock()
	defer e.mu.Unlock()

	checkMap := make(map[string]model.CheckResult, len(results))
	var transitions []transition
	for _, r := range results {
		checkMap[r.CheckName] = r
		transitions = append(transitions, e.alerts.observe(r, at)...)
	}

	for _, t := range transitions {
		if t.resolved {
			e.logger.Info("Alert resolved",
				zap.String("alert_id", t.alert.ID),
				zap.String("check", t.alert.CheckName),
				zap.String("level", string(t.alert.Level)))
			continue
		}
		fields := []zap.Field{
			zap.String("alert_id", t.alert.ID),
			zap.String("check", t.alert.CheckName),
			zap.String("level", string(t.alert.Level)),
			zap.String("message", t.alert.Message),
		}
		if t.alert.Level == model.AlertCritical {
			e.logger.Error("Alert raised", fields...)
		} else {
			e.logger.Warn("Alert raised", fields...)
		}
	}

	e.status = model.HealthStatus{
		Status:       overall(results),
		Timestamp:    at,
		Uptime:       at.Sub(e.started),
		Checks:       checkMap,
		ActiveAlerts: e.alerts.active(),
	}
	return transitions
}

// overall reduces results: unhealthy when a critical-marked check is critical or
// erroring, degraded when anything else is off, healthy otherwise
func overall(results []model.CheckResult) model.OverallStatus {
	status := model.StatusHealthy
	for _, r := range results {
		switch r.Status {
		case model.CheckStatusOK:
		case model.CheckStatusCritical, model.CheckStatusError:
			if r.Critical {
				return model.StatusUnhealthy
			}
			status = model.StatusDegraded
		default:
			status = model.StatusDegraded
		}
	}
	return status
}

// dispatch sends out-of-band notifications for newly raised critical alerts
func (e *Engine) dispatch(transitions []transition) {
	for _, t := range transitions {
		if t.resolved || t.alert.Level != model.AlertCritical || e.notifier == nil {
			continue
		}

		alert := t.alert
		e.notifyWG.Add(1)
		go func() {
			defer e.notifyWG.Done()
			ctx, cancel := context.WithTimeout(context.Background(), e.cfg.NotifyTimeout)
			defer cancel()
			if err := e.notifier.Notify(ctx, alert); err != nil {
				if e.recorder != nil {
					e.recorder.IncrementCounter(CounterNotifyFailures, 1)
				}
				e.logger.Warn("Failed to send alert notification",
					zap.String("alert_id", alert.ID),
					zap.String("check", alert.CheckName),
					zap.Error(err))
			}
		}()
	}
}

// GetStatus returns the status computed by the latest cycle
func (e *Engine) GetStatus() model.HealthStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	checks := make(map[string]model.CheckResult, len(e.status.Checks))
	for k, v := range e.status.Checks {
		checks[k] = v
	}
	out := e.status
	out.Checks = checks
	out.ActiveAlerts = append([]model.AlertRecord(nil), e.status.ActiveAlerts...)
	out.Uptime = e.now().Sub(e.started)
	return out
}

// ActiveAlerts returns unresolved alerts ordered by trigger time
func (e *Engine) ActiveAlerts() []model.AlertRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.alerts.active()
}

// Checks returns the names of registered checks in registration order
func (e *Engine) Checks() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, len(e.checks))
	for i, c := range e.checks {
		names[i] = c.name
	}
	return names
}

// IsReady reports whether the service can take traffic
func (e *Engine) IsReady() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ready && e.status.Status != model.StatusUnhealthy
}

// SetReadiness toggles readiness, e.g. during graceful shutdown
func (e *Engine) SetReadiness(ready bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ready = ready
}

func sortAlerts(alerts []model.AlertRecord) {
	sort.Slice(alerts, func(i, j int) bool {
		if alerts[i].TriggeredAt.Equal(alerts[j].TriggeredAt) {
			return alerts[i].ID < alerts[j].ID
		}
		return alerts[i].TriggeredAt.Before(alerts[j].TriggeredAt)
	})
}
