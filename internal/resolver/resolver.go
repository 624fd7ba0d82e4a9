package resolver

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/devrev/screenhub/internal/model"
	"go.uber.org/zap"
)

var (
	// ErrDuplicateFilter is returned when a filter name is already registered
	ErrDuplicateFilter = errors.New("filter already registered")
	// ErrDuplicateProvider is returned when a provider name is already registered
	ErrDuplicateProvider = errors.New("provider already registered")
)

// CounterMiss is incremented for every expression left unresolved
const CounterMiss = "resolver_misses"

// FilterFunc transforms a value. Filters must not fail; return the input unchanged instead.
type FilterFunc func(value any, args ...string) any

// ProviderFunc computes a built-in variable at resolve time
type ProviderFunc func() any

// MissRecorder counts resolution misses
type MissRecorder interface {
	IncrementCounter(name string, delta uint64)
}

// Options configures a Resolver
type Options struct {
	Environment string
	Now         func() time.Time
	Recorder    MissRecorder
}

// Resolver replaces {{name | filter:arg}} expressions in documents
type Resolver struct {
	mu        sync.RWMutex
	filters   map[string]FilterFunc
	providers map[string]ProviderFunc

	now      func() time.Time
	env      string
	recorder MissRecorder
	logger   *zap.Logger
}

// New creates a resolver with the built-in filters and providers registered
func New(opts Options, logger *zap.Logger) *Resolver {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	r := &Resolver{
		filters:   make(map[string]FilterFunc),
		providers: make(map[string]ProviderFunc),
		now:       opts.Now,
		env:       opts.Environment,
		recorder:  opts.Recorder,
		logger:    logger,
	}

	for name, fn := range builtinFilters() {
		r.filters[name] = fn
	}
	for name, fn := range r.builtinProviders() {
		r.providers[name] = fn
	}

	return r
}

// RegisterFilter adds a named filter
func (r *Resolver) RegisterFilter(name string, fn FilterFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.filters[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateFilter, name)
	}
	r.filters[name] = fn
	return nil
}

// RegisterProvider adds a named computed variable
func (r *Resolver) RegisterProvider(name string, fn ProviderFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateProvider, name)
	}
	r.providers[name] = fn
	return nil
}

// Resolve returns a copy of doc with every string leaf resolved against vars
func (r *Resolver) Resolve(doc model.Document, vars map[string]any) model.Document {
	switch doc.Kind() {
	case model.KindString:
		return r.resolveLeaf(doc.AsString(), vars)
	case model.KindArray:
		items := doc.Items()
		out := make([]model.Document, len(items))
		for i, item := range items {
			out[i] = r.Resolve(item, vars)
		}
		return model.Array(out...)
	case model.KindMap:
		fields := doc.Fields()
		out := make(map[string]model.Document, len(fields))
		for k, v := range fields {
			out[k] = r.Resolve(v, vars)
		}
		return model.Map(out)
	default:
		return doc
	}
}

// ResolveString resolves every expression in s and returns the text form
func (r *Resolver) ResolveString(s string, vars map[string]any) string {
	var b strings.Builder
	for _, seg := range scan(s) {
		if !seg.expr {
			b.WriteString(seg.text)
			continue
		}
		value, ok := r.evaluate(seg.text, vars)
		if !ok {
			b.WriteString(seg.raw)
			continue
		}
		b.WriteString(stringify(value))
	}
	return b.String()
}

// resolveLeaf keeps the type of the resolved value when the leaf is a single expression
func (r *Resolver) resolveLeaf(s string, vars map[string]any) model.Document {
	if !strings.Contains(s, "{{") {
		return model.String(s)
	}

	segs := scan(s)
	if len(segs) == 1 && segs[0].expr {
		value, ok := r.evaluate(segs[0].text, vars)
		if !ok {
			return model.String(s)
		}
		if _, isString := value.(string); !isString && value != nil {
			if doc, err := model.FromAny(value); err == nil {
				return doc
			}
		}
		return model.String(stringify(value))
	}

	return model.String(r.ResolveString(s, vars))
}

// evaluate resolves one expression. ok is false on a resolution miss.
func (r *Resolver) evaluate(expr string, vars map[string]any) (any, bool) {
	name, calls := parseExpression(expr)

	value, found := r.lookup(name, vars)
	if !found {
		if !hasFilter(calls, "default") {
			r.miss(expr)
			return nil, false
		}
		value = nil
	}

	for _, call := range calls {
		value = r.applyFilter(call, value)
	}
	return value, true
}

func (r *Resolver) lookup(name string, vars map[string]any) (any, bool) {
	if name == "" {
		return nil, false
	}
	if v, ok := vars[name]; ok {
		return v, true
	}
	if strings.Contains(name, ".") {
		if v, ok := lookupPath(vars, strings.Split(name, ".")); ok {
			return v, true
		}
	}

	r.mu.RLock()
	provider, ok := r.providers[name]
	r.mu.RUnlock()
	if ok {
		return provider(), true
	}
	return nil, false
}

func (r *Resolver) applyFilter(call filterCall, value any) (out any) {
	r.mu.RLock()
	fn, ok := r.filters[call.name]
	r.mu.RUnlock()

	if !ok {
		r.logger.Warn("Unknown template filter", zap.String("filter", call.name))
		return value
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("Template filter panicked",
				zap.String("filter", call.name),
				zap.Any("panic", rec))
			out = value
		}
	}()

	return fn(value, call.args...)
}

func (r *Resolver) miss(expr string) {
	r.logger.Warn("Template variable not resolved", zap.String("expression", expr))
	if r.recorder != nil {
		r.recorder.IncrementCounter(CounterMiss, 1)
	}
}

func hasFilter(calls []filterCall, name string) bool {
	for _, c := range calls {
		if c.name == name {
			return true
		}
	}
	return false
}
