package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/lix/internal/commit"
	"github.com/roach88/lix/internal/entityview"
	"github.com/roach88/lix/internal/plugin"
	"github.com/roach88/lix/internal/preprocess"
	"github.com/roach88/lix/internal/schema"
	"github.com/roach88/lix/internal/sqlast"
	"github.com/roach88/lix/internal/sqlparser"
	"github.com/roach88/lix/internal/store"
)

// deterministicEpoch is the first timestamp of deterministic mode. Each
// timestamp adds the clock's sequence in milliseconds.
var deterministicEpoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// Engine is one lix instance: a store, the schemas registered in it, and
// the sessions that read and write it.
//
// Thread-safety model:
//   - Sessions may be used from different goroutines, one goroutine per
//     session.
//   - Commits are serialized by commitMu (single writer).
//   - Schema registration is serialized by schemaMu and swaps the
//     preprocess dependencies under depsMu.
type Engine struct {
	store    *store.Store
	registry *schema.Registry
	plugins  *plugin.Registry
	clock    *Clock
	ids      commit.IDGenerator
	logger   *slog.Logger
	metrics  *commit.Metrics

	deterministic bool
	builtin       map[string]bool

	commitMu sync.Mutex
	schemaMu sync.Mutex

	depsMu      sync.RWMutex
	catalog     *entityview.Catalog
	cacheTables map[string]string
	sqlViews    map[string]*sqlast.SelectStatement

	hooks hooks
}

// Option configures Open.
type Option func(*options)

type options struct {
	logger        *slog.Logger
	deterministic bool
	seed          string
	registerer    prometheus.Registerer
	plugins       []plugin.Plugin
	schemas       [][]byte
	maxConns      int
}

// WithLogger sets the engine's logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithDeterministic derives every id and timestamp from seed and the
// persisted sequence, so identical operations reproduce identical state.
func WithDeterministic(seed string) Option {
	return func(o *options) {
		o.deterministic = true
		o.seed = seed
	}
}

// WithMetrics registers the commit metrics with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithPlugins registers plugins for ApplyChangeSet.
func WithPlugins(plugins ...plugin.Plugin) Option {
	return func(o *options) { o.plugins = append(o.plugins, plugins...) }
}

// WithSchemas registers schema documents on open. Schemas already stored
// are left as they are. Plugins implementing plugin.SchemaProvider add
// their schemas the same way.
func WithSchemas(docs ...[]byte) Option {
	return func(o *options) { o.schemas = append(o.schemas, docs...) }
}

// WithMaxConns caps the store's connection pool.
func WithMaxConns(n int) Option {
	return func(o *options) { o.maxConns = n }
}

// Open opens or creates the lix at path. A new lix is bootstrapped with
// the global and main versions; main is active.
func Open(ctx context.Context, path string, opts ...Option) (*Engine, error) {
	o := options{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}

	registry, err := schema.NewRegistry()
	if err != nil {
		return nil, err
	}
	plugins, err := plugin.NewRegistry(o.plugins...)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		registry:      registry,
		plugins:       plugins,
		clock:         NewClock(),
		logger:        o.logger,
		deterministic: o.deterministic,
		builtin:       map[string]bool{},
	}
	for _, d := range registry.All() {
		e.builtin[d.Key] = true
	}
	schemas := o.schemas
	for _, p := range o.plugins {
		if sp, ok := p.(plugin.SchemaProvider); ok {
			schemas = append(schemas, sp.Schemas()...)
		}
	}
	if o.deterministic {
		e.ids = commit.NewSequenceGenerator(o.seed, e.clock)
	} else {
		e.ids = commit.UUIDv7Generator{}
	}
	if o.registerer != nil {
		e.metrics = commit.NewMetrics(o.registerer)
	}

	storeOpts := []store.Option{
		store.WithLogger(o.logger),
		store.WithFunctions(store.Functions{
			UUIDv7:           e.ids.NewID,
			Timestamp:        e.timestamp,
			ValidateSnapshot: registry.ValidateSnapshot,
		}),
	}
	if o.maxConns > 0 {
		storeOpts = append(storeOpts, store.WithMaxConns(o.maxConns))
	}
	s, err := store.Open(path, storeOpts...)
	if err != nil {
		return nil, err
	}
	e.store = s

	if err := e.init(ctx, schemas); err != nil {
		s.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) init(ctx context.Context, schemas [][]byte) error {
	seq, err := store.Sequence(ctx, e.store.DB())
	if err != nil {
		return err
	}
	e.clock.Reset(seq)

	if err := e.loadStoredSchemas(ctx); err != nil {
		return err
	}
	if err := e.refresh(ctx); err != nil {
		return err
	}
	if err := e.bootstrap(ctx); err != nil {
		return err
	}
	for _, doc := range schemas {
		def, err := schema.Parse(doc)
		if err != nil {
			return err
		}
		if prev, ok := e.registry.Lookup(def.Key); ok && prev.Version == def.Version {
			continue
		}
		if _, err := e.RegisterSchema(ctx, doc); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the store.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Store returns the underlying store.
func (e *Engine) Store() *store.Store {
	return e.store
}

// Clock returns the sequence clock. In deterministic mode it drives every
// id and timestamp.
func (e *Engine) Clock() *Clock {
	return e.clock
}

// Schemas returns the registered schemas ordered by key.
func (e *Engine) Schemas() []*schema.Definition {
	return e.registry.All()
}

// Plugins returns the plugin registry.
func (e *Engine) Plugins() *plugin.Registry {
	return e.plugins
}

// timestamp backs lix_timestamp() and stamps commits.
func (e *Engine) timestamp() string {
	if e.deterministic {
		ms := e.clock.Next()
		return deterministicEpoch.Add(time.Duration(ms) * time.Millisecond).Format(store.TimestampLayout)
	}
	return time.Now().UTC().Format(store.TimestampLayout)
}

// Preprocess rewrites in.SQL against the engine's current schemas.
func (e *Engine) Preprocess(in preprocess.Input) (preprocess.Output, error) {
	return preprocess.Preprocess(in, e.deps())
}

func (e *Engine) deps() preprocess.Deps {
	e.depsMu.RLock()
	defer e.depsMu.RUnlock()
	views := make(map[string]*sqlast.SelectStatement, len(e.sqlViews))
	for k, v := range e.sqlViews {
		views[k] = v
	}
	return preprocess.Deps{
		Catalog:     e.catalog,
		CacheTables: e.cacheTables,
		SQLViews:    views,
		Logger:      e.logger,
	}
}

// refresh rebuilds the view catalog and the cache table map from the
// registry and the store.
func (e *Engine) refresh(ctx context.Context) error {
	catalog, err := entityview.NewCatalog(e.registry.All())
	if err != nil {
		return err
	}
	tables, err := e.store.CacheTables(ctx, e.store.DB())
	if err != nil {
		return err
	}
	e.depsMu.Lock()
	defer e.depsMu.Unlock()
	e.catalog = catalog
	e.cacheTables = tables
	return nil
}

// DefineView registers a named SQL view that statements may read like an
// entity view. The view body may itself read entity views.
func (e *Engine) DefineView(name, selectSQL string) error {
	sel, err := sqlparser.ParseSelect(selectSQL)
	if err != nil {
		return fmt.Errorf("define view %s: %w", name, err)
	}
	e.depsMu.Lock()
	defer e.depsMu.Unlock()
	if _, ok := e.catalog.Lookup(name); ok {
		return newError(ErrCodeViewExists, fmt.Sprintf("view %q is an entity view", name), nil)
	}
	if e.sqlViews == nil {
		e.sqlViews = map[string]*sqlast.SelectStatement{}
	}
	e.sqlViews[name] = sel
	return nil
}

// commitSession runs the commit engine on a session connection.
func (e *Engine) commitSession(ctx context.Context, s *Session) error {
	var events []StateCommitEvent
	opts := commit.Options{
		Store:     e.store,
		IDs:       e.ids,
		Timestamp: e.timestamp,
		Notify:    func(ev commit.Event) { events = append(events, ev) },
		Logger:    e.logger,
		Metrics:   e.metrics,
	}
	if e.deterministic {
		opts.Sequence = e.clock.Current
	}

	e.commitMu.Lock()
	_, err := commit.Commit(ctx, s.conn, opts)
	e.commitMu.Unlock()
	if err != nil {
		return err
	}
	for _, ev := range events {
		e.hooks.emit(ev)
	}
	return nil
}

// ActiveVersion returns the id of the active version.
func (e *Engine) ActiveVersion(ctx context.Context) (string, error) {
	v, err := store.ActiveVersion(ctx, e.store.DB())
	if errors.Is(err, store.ErrNotFound) {
		return "", newError(ErrCodeVersionNotFound, "no active version", nil)
	}
	return v, err
}
