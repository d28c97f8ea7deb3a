package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/realm/internal/core"
	"github.com/roach88/realm/internal/ir"
	"github.com/roach88/realm/internal/query"
	"github.com/roach88/realm/internal/querysql"
)

// liveHandle always has a transaction open on conn: a read transaction
// pinning its version, or the write transaction begun by BeginWrite.
type liveHandle struct {
	db     *database
	id     uint64
	schema ir.Schema

	mu        sync.Mutex
	closed    bool
	conn      *sql.Conn
	writing   bool
	version   uint64 // version the open transaction reads
	evaluated uint64 // version object callbacks were last evaluated at
	changes   []core.Registration

	objects core.ObjectRegistry
}

var _ core.LiveHandle = (*liveHandle)(nil)

func newLiveHandle(ctx context.Context, db *database, s ir.Schema, id uint64) (*liveHandle, error) {
	conn, err := db.sql.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	version, err := beginRead(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &liveHandle{db: db, id: id, schema: s, conn: conn, version: version, evaluated: version}, nil
}

// beginRead opens a read transaction on conn and returns the version it
// pins.
func beginRead(ctx context.Context, conn *sql.Conn) (uint64, error) {
	if _, err := conn.ExecContext(ctx, "BEGIN"); err != nil {
		return 0, fmt.Errorf("begin read: %w", err)
	}
	version, err := readVersion(ctx, conn)
	if err != nil {
		conn.ExecContext(ctx, "ROLLBACK")
		return 0, err
	}
	return version, nil
}

func readVersion(ctx context.Context, conn *sql.Conn) (uint64, error) {
	var version uint64
	if err := conn.QueryRowContext(ctx, "SELECT version FROM realm_meta WHERE id = 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("read version: %w", err)
	}
	return version, nil
}

func (h *liveHandle) fail(op string, err error) error {
	return core.NewError(engineName, op, err)
}

func (h *liveHandle) Version() (core.VersionID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return core.VersionID{}, h.fail("version", core.ErrClosed)
	}
	return h.db.versionID(h.version), nil
}

func (h *liveHandle) Schema() ir.Schema {
	return h.schema
}

func (h *liveHandle) Find(class, id string) (ir.Object, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ir.Object{}, false, h.fail("find", core.ErrClosed)
	}
	obj, ok, err := findObject(context.Background(), h.conn, class, id)
	if err != nil {
		return ir.Object{}, false, h.fail("find", err)
	}
	return obj, ok, nil
}

// withConn runs fn on the handle's connection while holding h.mu.
func (h *liveHandle) withConn(op string, fn func(*sql.Conn) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return h.fail(op, core.ErrClosed)
	}
	if err := fn(h.conn); err != nil {
		return h.fail(op, err)
	}
	return nil
}

func (h *liveHandle) ParseQuery(class, predicate string, args ...ir.Value) (core.Query, error) {
	if h.IsClosed() {
		return nil, h.fail("parse query", core.ErrClosed)
	}
	pred, err := core.CompilePredicate(h.schema, class, predicate, args...)
	if err != nil {
		return nil, h.fail("parse query", err)
	}
	return &sqlQuery{class: class, pred: pred, with: h.withConn}, nil
}

func (h *liveHandle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true

	ctx := context.Background()
	_, rbErr := h.conn.ExecContext(ctx, "ROLLBACK")
	if h.writing {
		h.writing = false
		h.db.writeMu.Unlock()
	}
	closeErr := h.conn.Close()
	changes := h.changes
	h.changes = nil
	h.mu.Unlock()

	for _, reg := range changes {
		reg.Cancel()
	}
	h.objects.Clear()
	h.db.log.Debug("closed live handle", "engine", engineName, "path", h.db.path, "handle", h.id)
	h.db.release()

	if err := errors.Join(rbErr, closeErr); err != nil {
		return h.fail("close", err)
	}
	return nil
}

func (h *liveHandle) IsClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *liveHandle) BeginWrite() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return h.fail("begin write", core.ErrClosed)
	}
	if h.writing {
		h.mu.Unlock()
		return h.fail("begin write", core.ErrInTransaction)
	}
	h.mu.Unlock()

	// Writers of this Engine queue here; other processes are covered by
	// BEGIN IMMEDIATE and the busy timeout.
	h.db.writeMu.Lock()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		h.db.writeMu.Unlock()
		return h.fail("begin write", core.ErrClosed)
	}

	ctx := context.Background()
	if _, err := h.conn.ExecContext(ctx, "ROLLBACK"); err != nil {
		h.db.writeMu.Unlock()
		return h.fail("begin write", fmt.Errorf("end read: %w", err))
	}
	if _, err := h.conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		h.db.writeMu.Unlock()
		return h.fail("begin write", errors.Join(err, h.restoreRead(ctx)))
	}
	version, err := readVersion(ctx, h.conn)
	if err != nil {
		h.conn.ExecContext(ctx, "ROLLBACK")
		h.db.writeMu.Unlock()
		return h.fail("begin write", errors.Join(err, h.restoreRead(ctx)))
	}
	h.version = version
	h.writing = true
	return nil
}

// restoreRead reopens the read transaction after a write ends. Caller
// holds h.mu.
func (h *liveHandle) restoreRead(ctx context.Context) error {
	version, err := beginRead(ctx, h.conn)
	if err != nil {
		return err
	}
	h.version = version
	return nil
}

func (h *liveHandle) Commit() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return h.fail("commit", core.ErrClosed)
	}
	if !h.writing {
		h.mu.Unlock()
		return h.fail("commit", core.ErrNotInTransaction)
	}

	ctx := context.Background()
	if _, err := h.conn.ExecContext(ctx, "UPDATE realm_meta SET version = version + 1 WHERE id = 1"); err != nil {
		h.mu.Unlock()
		return h.fail("commit", fmt.Errorf("bump version: %w", err))
	}
	committed, err := readVersion(ctx, h.conn)
	if err != nil {
		h.mu.Unlock()
		return h.fail("commit", err)
	}

	h.db.announceMu.Lock()
	if _, err := h.conn.ExecContext(ctx, "COMMIT"); err != nil {
		h.db.announceMu.Unlock()
		h.conn.ExecContext(ctx, "ROLLBACK")
		h.writing = false
		h.db.writeMu.Unlock()
		restoreErr := h.restoreRead(ctx)
		h.mu.Unlock()
		return h.fail("commit", errors.Join(err, restoreErr))
	}
	h.db.observed(committed)
	h.db.announceMu.Unlock()
	h.writing = false
	h.db.writeMu.Unlock()

	if err := h.restoreRead(ctx); err != nil {
		h.mu.Unlock()
		return h.fail("commit", err)
	}
	vid := h.db.versionID(h.version)
	deliveries, err := h.objects.Evaluate(func(class, id string) (ir.Object, bool, error) {
		return findObject(ctx, h.conn, class, id)
	}, vid)
	h.evaluated = h.version
	h.mu.Unlock()

	h.db.log.Debug("committed", "engine", engineName, "path", h.db.path, "handle", h.id, "version", committed)
	h.db.listeners.Notify(h.id, h.db.versionID(committed))
	for _, deliver := range deliveries {
		deliver()
	}
	if err != nil {
		return h.fail("commit", err)
	}
	return nil
}

func (h *liveHandle) Rollback() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return h.fail("rollback", core.ErrClosed)
	}
	if !h.writing {
		return h.fail("rollback", core.ErrNotInTransaction)
	}

	ctx := context.Background()
	_, rbErr := h.conn.ExecContext(ctx, "ROLLBACK")
	h.writing = false
	h.db.writeMu.Unlock()
	if err := errors.Join(rbErr, h.restoreRead(ctx)); err != nil {
		return h.fail("rollback", err)
	}
	return nil
}

func (h *liveHandle) InTransaction() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.writing
}

func (h *liveHandle) Freeze() (core.Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, h.fail("freeze", core.ErrClosed)
	}
	if h.writing {
		return nil, h.fail("freeze", core.ErrInTransaction)
	}

	ctx := context.Background()
	next, err := h.db.sql.Conn(ctx)
	if err != nil {
		return nil, h.fail("freeze", fmt.Errorf("acquire connection: %w", err))
	}
	nextVersion, err := beginRead(ctx, next)
	if err != nil {
		next.Close()
		return nil, h.fail("freeze", err)
	}

	// The pinned connection moves to the frozen handle.
	frozen := &frozenHandle{db: h.db, schema: h.schema, conn: h.conn, version: h.version}
	h.db.retain()
	h.conn = next
	h.version = nextVersion
	return frozen, nil
}

func (h *liveHandle) Refresh() (bool, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false, h.fail("refresh", core.ErrClosed)
	}
	if h.writing {
		h.mu.Unlock()
		return false, nil
	}

	ctx := context.Background()
	if _, err := h.conn.ExecContext(ctx, "ROLLBACK"); err != nil {
		h.mu.Unlock()
		return false, h.fail("refresh", fmt.Errorf("end read: %w", err))
	}
	if err := h.restoreRead(ctx); err != nil {
		h.mu.Unlock()
		return false, h.fail("refresh", err)
	}
	if h.version == h.evaluated {
		h.mu.Unlock()
		return false, nil
	}

	vid := h.db.versionID(h.version)
	deliveries, err := h.objects.Evaluate(func(class, id string) (ir.Object, bool, error) {
		return findObject(ctx, h.conn, class, id)
	}, vid)
	h.evaluated = h.version
	h.mu.Unlock()

	for _, deliver := range deliveries {
		deliver()
	}
	if err != nil {
		return true, h.fail("refresh", err)
	}
	return true, nil
}

// writeConn returns the connection for a write operation. Caller holds h.mu.
func (h *liveHandle) writeConn(op string) (*sql.Conn, error) {
	if h.closed {
		return nil, h.fail(op, core.ErrClosed)
	}
	if !h.writing {
		return nil, h.fail(op, core.ErrNotInTransaction)
	}
	return h.conn, nil
}

func (h *liveHandle) Insert(obj ir.Object, policy core.UpdatePolicy) (ir.Object, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn, err := h.writeConn("insert")
	if err != nil {
		return ir.Object{}, err
	}
	if err := core.CheckObject(h.schema, obj); err != nil {
		return ir.Object{}, h.fail("insert", err)
	}

	ctx := context.Background()
	if policy == core.UpdatePolicyError {
		var exists bool
		err := conn.QueryRowContext(ctx,
			"SELECT EXISTS (SELECT 1 FROM objects WHERE class = ? AND id = ?)",
			obj.Class, obj.ID).Scan(&exists)
		if err != nil {
			return ir.Object{}, h.fail("insert", err)
		}
		if exists {
			return ir.Object{}, h.fail("insert", fmt.Errorf("%w: %s", core.ErrObjectExists, obj))
		}
	}

	stored := obj.Clone()
	if stored.Fields == nil {
		stored.Fields = ir.Map{}
	}
	fields, err := stored.MarshalFields()
	if err != nil {
		return ir.Object{}, h.fail("insert", err)
	}
	_, err = conn.ExecContext(ctx, `
		INSERT INTO objects (class, id, fields) VALUES (?, ?, ?)
		ON CONFLICT (class, id) DO UPDATE SET fields = excluded.fields
	`, stored.Class, stored.ID, string(fields))
	if err != nil {
		return ir.Object{}, h.fail("insert", err)
	}
	return stored, nil
}

func (h *liveHandle) Delete(class, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn, err := h.writeConn("delete")
	if err != nil {
		return err
	}
	res, err := conn.ExecContext(context.Background(),
		"DELETE FROM objects WHERE class = ? AND id = ?", class, id)
	if err != nil {
		return h.fail("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return h.fail("delete", err)
	}
	if n == 0 {
		return h.fail("delete", fmt.Errorf("%w: %s[%s]", core.ErrNoSuchObject, class, id))
	}
	return nil
}

func (h *liveHandle) DeleteClass(class string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn, err := h.writeConn("delete class")
	if err != nil {
		return err
	}
	if _, ok := h.schema.Class(class); !ok {
		return h.fail("delete class", fmt.Errorf("%w: %s", core.ErrUnknownClass, class))
	}
	if _, err := conn.ExecContext(context.Background(), "DELETE FROM objects WHERE class = ?", class); err != nil {
		return h.fail("delete class", err)
	}
	return nil
}

func (h *liveHandle) DeleteAll() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn, err := h.writeConn("delete all")
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(context.Background(), "DELETE FROM objects"); err != nil {
		return h.fail("delete all", err)
	}
	return nil
}

func (h *liveHandle) AddObjectCallback(class, id string, cb core.ObjectCallback) (core.Registration, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, h.fail("add object callback", core.ErrClosed)
	}
	obj, ok, err := findObject(context.Background(), h.conn, class, id)
	if err != nil {
		return nil, h.fail("add object callback", err)
	}
	if !ok {
		return nil, h.fail("add object callback", fmt.Errorf("%w: %s[%s]", core.ErrNoSuchObject, class, id))
	}
	reg, err := h.objects.Add(obj, cb)
	if err != nil {
		return nil, h.fail("add object callback", err)
	}
	return reg, nil
}

func (h *liveHandle) AddChangeCallback(cb core.ChangeCallback) core.Registration {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return core.RegistrationFunc(func() {})
	}
	h.db.ensureWatcher()
	reg := h.db.listeners.Add(h.id, cb)
	h.changes = append(h.changes, reg)
	return reg
}

// frozenHandle owns a connection whose read transaction pins version.
type frozenHandle struct {
	db      *database
	schema  ir.Schema
	version uint64

	mu     sync.Mutex
	closed bool
	conn   *sql.Conn
}

var _ core.Handle = (*frozenHandle)(nil)

func (f *frozenHandle) withConn(op string, fn func(*sql.Conn) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return core.NewError(engineName, op, core.ErrClosed)
	}
	if err := fn(f.conn); err != nil {
		return core.NewError(engineName, op, err)
	}
	return nil
}

func (f *frozenHandle) Version() (core.VersionID, error) {
	if f.IsClosed() {
		return core.VersionID{}, core.NewError(engineName, "version", core.ErrClosed)
	}
	return f.db.versionID(f.version), nil
}

func (f *frozenHandle) Schema() ir.Schema {
	return f.schema
}

func (f *frozenHandle) Find(class, id string) (ir.Object, bool, error) {
	var (
		obj ir.Object
		ok  bool
	)
	err := f.withConn("find", func(conn *sql.Conn) error {
		var err error
		obj, ok, err = findObject(context.Background(), conn, class, id)
		return err
	})
	return obj, ok, err
}

func (f *frozenHandle) ParseQuery(class, predicate string, args ...ir.Value) (core.Query, error) {
	if f.IsClosed() {
		return nil, core.NewError(engineName, "parse query", core.ErrClosed)
	}
	pred, err := core.CompilePredicate(f.schema, class, predicate, args...)
	if err != nil {
		return nil, core.NewError(engineName, "parse query", err)
	}
	return &sqlQuery{class: class, pred: pred, with: f.withConn}, nil
}

func (f *frozenHandle) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	_, rbErr := f.conn.ExecContext(context.Background(), "ROLLBACK")
	closeErr := f.conn.Close()
	f.mu.Unlock()

	f.db.release()
	if err := errors.Join(rbErr, closeErr); err != nil {
		return core.NewError(engineName, "close", err)
	}
	return nil
}

func (f *frozenHandle) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func findObject(ctx context.Context, conn *sql.Conn, class, id string) (ir.Object, bool, error) {
	var fields string
	err := conn.QueryRowContext(ctx,
		"SELECT fields FROM objects WHERE class = ? AND id = ?", class, id).Scan(&fields)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Object{}, false, nil
	}
	if err != nil {
		return ir.Object{}, false, err
	}
	m, err := ir.UnmarshalFields([]byte(fields))
	if err != nil {
		return ir.Object{}, false, err
	}
	return ir.Object{Class: class, ID: id, Fields: m}, true, nil
}

type sqlQuery struct {
	class string
	pred  query.Predicate
	with  func(op string, fn func(*sql.Conn) error) error
}

func (q *sqlQuery) Class() string {
	return q.class
}

func (q *sqlQuery) Predicate() query.Predicate {
	return q.pred
}

func (q *sqlQuery) Find() ([]ir.Object, error) {
	stmt, params, err := querysql.NewSQLCompiler().Compile(q.class, q.pred)
	if err != nil {
		return nil, core.NewError(engineName, "query", fmt.Errorf("%w: %w", core.ErrInvalidQuery, err))
	}

	var out []ir.Object
	err = q.with("query", func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(context.Background(), stmt, params...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var id, fields string
			if err := rows.Scan(&id, &fields); err != nil {
				return err
			}
			m, err := ir.UnmarshalFields([]byte(fields))
			if err != nil {
				return err
			}
			out = append(out, ir.Object{Class: q.class, ID: id, Fields: m})
		}
		return rows.Err()
	})
	return out, err
}

func (q *sqlQuery) Count() (int, error) {
	stmt, params, err := querysql.NewSQLCompiler().CompileCount(q.class, q.pred)
	if err != nil {
		return 0, core.NewError(engineName, "count", fmt.Errorf("%w: %w", core.ErrInvalidQuery, err))
	}

	var n int
	err = q.with("count", func(conn *sql.Conn) error {
		return conn.QueryRowContext(context.Background(), stmt, params...).Scan(&n)
	})
	return n, err
}
