package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/realm/internal/core"
	"github.com/roach88/realm/internal/ir"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial schema
const currentSchemaVersion = 1

const engineName = "sqlite"

// Engine opens realm databases stored in SQLite files.
type Engine struct {
	mu      sync.Mutex
	dbs     map[string]*database
	handles atomic.Uint64
}

// New creates an engine.
func New() *Engine {
	return &Engine{dbs: make(map[string]*database)}
}

// Name implements core.Engine.
func (e *Engine) Name() string {
	return engineName
}

// Open implements core.Engine. The file is created if it does not exist.
func (e *Engine) Open(ctx context.Context, cfg core.Config) (core.LiveHandle, error) {
	if cfg.Path == "" {
		return nil, core.NewError(engineName, "open", errors.New("empty path"))
	}
	path, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, core.NewError(engineName, "open", err)
	}

	db, s, err := e.acquire(ctx, path, cfg)
	if err != nil {
		return nil, core.NewError(engineName, "open", err)
	}

	h, err := newLiveHandle(ctx, db, s, e.handles.Add(1))
	if err != nil {
		db.release()
		return nil, core.NewError(engineName, "open", err)
	}
	db.log.Debug("opened live handle",
		"engine", engineName,
		"path", path,
		"handle", h.id,
		"version", h.version)
	return h, nil
}

// acquire returns the shared database for path, opening it on first use,
// and the schema the new handle reads with.
func (e *Engine) acquire(ctx context.Context, path string, cfg core.Config) (*database, ir.Schema, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if db, ok := e.dbs[path]; ok {
		s, err := core.ResolveSchema(cfg.Schema, db.schema)
		if err != nil {
			return nil, ir.Schema{}, err
		}
		if len(db.schema.Classes) == 0 && len(s.Classes) > 0 {
			if err := storeSchema(ctx, db.sql, s); err != nil {
				return nil, ir.Schema{}, err
			}
			db.schema = s
		}
		db.refs++
		return db, s, nil
	}

	db, err := openDatabase(ctx, path, cfg)
	if err != nil {
		return nil, ir.Schema{}, err
	}
	db.engine = e
	db.refs = 1
	e.dbs[path] = db
	return db, db.schema, nil
}

// database is one SQLite file shared by every handle this Engine opened
// on it.
type database struct {
	engine  *Engine
	path    string
	sql     *sql.DB
	schema  ir.Schema // guarded by engine.mu
	history uint64
	log     *slog.Logger

	// writeMu serializes writers of this Engine so they queue here instead
	// of spinning on SQLITE_BUSY.
	writeMu sync.Mutex

	refs int // guarded by engine.mu

	listeners core.ChangeListeners
	lastSeen  atomic.Uint64

	// announceMu orders local commits against watcher polls so a commit
	// is announced exactly once.
	announceMu sync.Mutex
	watchMu   sync.Mutex
	watch     *watcher
}

func openDatabase(ctx context.Context, path string, cfg core.Config) (*database, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on&_txlock=immediate", path)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := applySchema(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s, version, err := initMeta(ctx, sqlDB, cfg.Schema)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}

	history := cfg.HistorySize
	if history == 0 {
		history = core.DefaultHistorySize
	}
	db := &database{
		path:    path,
		sql:     sqlDB,
		schema:  s,
		history: history,
		log:     cfg.Log(),
	}
	db.lastSeen.Store(version)
	return db, nil
}

// applySchema creates tables if they don't exist and checks the file
// format version. This function is idempotent.
func applySchema(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("file format version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// initMeta creates the meta row for a new file or checks the requested
// schema against the stored one.
func initMeta(ctx context.Context, db *sql.DB, requested ir.Schema) (ir.Schema, uint64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return ir.Schema{}, 0, fmt.Errorf("begin meta transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		version    uint64
		schemaJSON string
	)
	err = tx.QueryRowContext(ctx, "SELECT version, schema_json FROM realm_meta WHERE id = 1").Scan(&version, &schemaJSON)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if err := insertMeta(ctx, tx, requested); err != nil {
			return ir.Schema{}, 0, err
		}
		if err := tx.Commit(); err != nil {
			return ir.Schema{}, 0, fmt.Errorf("commit meta: %w", err)
		}
		return requested, 1, nil
	case err != nil:
		return ir.Schema{}, 0, fmt.Errorf("read meta: %w", err)
	}

	var stored ir.Schema
	if err := json.Unmarshal([]byte(schemaJSON), &stored); err != nil {
		return ir.Schema{}, 0, fmt.Errorf("decode stored schema: %w", err)
	}
	s, err := core.ResolveSchema(requested, stored)
	if err != nil {
		return ir.Schema{}, 0, err
	}
	if len(stored.Classes) == 0 && len(s.Classes) > 0 {
		if err := updateSchema(ctx, tx, s); err != nil {
			return ir.Schema{}, 0, err
		}
		if err := tx.Commit(); err != nil {
			return ir.Schema{}, 0, fmt.Errorf("commit meta: %w", err)
		}
	}
	return s, version, nil
}

func encodeSchema(s ir.Schema) (string, string, error) {
	hash, err := ir.SchemaHash(s)
	if err != nil {
		return "", "", err
	}
	b, err := json.Marshal(s)
	if err != nil {
		return "", "", fmt.Errorf("encode schema: %w", err)
	}
	return hash, string(b), nil
}

func insertMeta(ctx context.Context, tx *sql.Tx, s ir.Schema) error {
	hash, encoded, err := encodeSchema(s)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO realm_meta (id, version, schema_hash, schema_json) VALUES (1, 1, ?, ?)",
		hash, encoded)
	if err != nil {
		return fmt.Errorf("insert meta: %w", err)
	}
	return nil
}

func updateSchema(ctx context.Context, tx *sql.Tx, s ir.Schema) error {
	hash, encoded, err := encodeSchema(s)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		"UPDATE realm_meta SET schema_hash = ?, schema_json = ? WHERE id = 1",
		hash, encoded)
	if err != nil {
		return fmt.Errorf("update schema: %w", err)
	}
	return nil
}

// storeSchema records a schema for a file that was created without one.
func storeSchema(ctx context.Context, db *sql.DB, s ir.Schema) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin meta transaction: %w", err)
	}
	defer tx.Rollback()
	if err := updateSchema(ctx, tx, s); err != nil {
		return err
	}
	return tx.Commit()
}

func (db *database) retain() {
	db.engine.mu.Lock()
	db.refs++
	db.engine.mu.Unlock()
}

// release drops one reference and closes the file when none remain.
func (db *database) release() {
	e := db.engine
	e.mu.Lock()
	db.refs--
	last := db.refs == 0
	if last && e.dbs[db.path] == db {
		delete(e.dbs, db.path)
	}
	e.mu.Unlock()
	if !last {
		return
	}

	db.watchMu.Lock()
	if db.watch != nil {
		db.watch.close()
		db.watch = nil
	}
	db.watchMu.Unlock()
	if err := db.sql.Close(); err != nil {
		db.log.Warn("close database", "engine", engineName, "path", db.path, "error", err)
	}
	db.log.Debug("closed database", "engine", engineName, "path", db.path)
}

func (db *database) versionID(version uint64) core.VersionID {
	return core.NewVersionID(version, db.history)
}

// observed records that version has been announced and reports whether it
// is newer than anything seen before.
func (db *database) observed(version uint64) bool {
	for {
		seen := db.lastSeen.Load()
		if version <= seen {
			return false
		}
		if db.lastSeen.CompareAndSwap(seen, version) {
			return true
		}
	}
}
