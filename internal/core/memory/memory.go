package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/immutable"

	"github.com/roach88/realm/internal/core"
	"github.com/roach88/realm/internal/ir"
)

const engineName = "memory"

// Engine is an in-process MVCC engine.
type Engine struct {
	mu      sync.Mutex
	dbs     map[string]*database
	handles atomic.Uint64
}

// New creates an engine with no databases.
func New() *Engine {
	return &Engine{dbs: make(map[string]*database)}
}

// Name implements core.Engine.
func (e *Engine) Name() string {
	return engineName
}

// Open implements core.Engine.
func (e *Engine) Open(ctx context.Context, cfg core.Config) (core.LiveHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, core.NewError(engineName, "open", err)
	}
	if cfg.Path == "" {
		return nil, core.NewError(engineName, "open", fmt.Errorf("empty path"))
	}

	e.mu.Lock()
	db, ok := e.dbs[cfg.Path]
	if !ok {
		db = newDatabase(cfg)
		e.dbs[cfg.Path] = db
	}
	s, err := core.ResolveSchema(cfg.Schema, db.schema)
	if err == nil && len(db.schema.Classes) == 0 {
		db.schema = s
	}
	e.mu.Unlock()
	if err != nil {
		return nil, core.NewError(engineName, "open", err)
	}

	view := db.latest()
	h := &liveHandle{
		db:        db,
		id:        e.handles.Add(1),
		schema:    s,
		view:      view,
		evaluated: view.version,
	}
	cfg.Log().Debug("opened live handle",
		"engine", engineName,
		"path", cfg.Path,
		"handle", h.id,
		"version", h.view.version)
	return h, nil
}

// Paths returns the paths of the databases this engine holds.
func (e *Engine) Paths() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	paths := make([]string, 0, len(e.dbs))
	for p := range e.dbs {
		paths = append(paths, p)
	}
	return paths
}

type keyComparer struct{}

func (keyComparer) Compare(a, b string) int {
	return strings.Compare(a, b)
}

type objectMap = immutable.SortedMap[string, ir.Object]

func emptyObjects() *objectMap {
	return immutable.NewSortedMap[string, ir.Object](keyComparer{})
}

// state is one committed version.
type state struct {
	version uint64
	objects *objectMap
}

type database struct {
	path    string
	schema  ir.Schema
	history uint64
	log     *slog.Logger

	// writeMu is held from BeginWrite until Commit or Rollback.
	writeMu sync.Mutex

	mu      sync.RWMutex
	current state

	listeners core.ChangeListeners
}

func newDatabase(cfg core.Config) *database {
	history := cfg.HistorySize
	if history == 0 {
		history = core.DefaultHistorySize
	}
	return &database{
		path:    cfg.Path,
		schema:  cfg.Schema,
		history: history,
		log:     cfg.Log(),
		current: state{version: 1, objects: emptyObjects()},
	}
}

func (db *database) latest() state {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.current
}

// publish installs objects as the next version and returns it.
func (db *database) publish(objects *objectMap) state {
	db.mu.Lock()
	db.current = state{version: db.current.version + 1, objects: objects}
	st := db.current
	db.mu.Unlock()
	return st
}

func (db *database) versionID(version uint64) core.VersionID {
	return core.NewVersionID(version, db.history)
}

func lookup(m *objectMap, class, id string) (ir.Object, bool) {
	obj, ok := m.Get(ir.ObjectKey(class, id))
	if !ok {
		return ir.Object{}, false
	}
	return obj.Clone(), true
}

// scan calls fn for each object of class in id order until fn returns false.
func scan(m *objectMap, class string, fn func(ir.Object) bool) {
	prefix := ir.ClassPrefix(class)
	itr := m.Iterator()
	itr.Seek(prefix)
	for !itr.Done() {
		key, obj, _ := itr.Next()
		if !strings.HasPrefix(key, prefix) {
			return
		}
		if !fn(obj) {
			return
		}
	}
}
