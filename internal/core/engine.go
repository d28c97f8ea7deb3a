package core

import (
	"context"
	"log/slog"

	"github.com/roach88/realm/internal/ir"
	"github.com/roach88/realm/internal/query"
)

// Config identifies the database an engine opens.
type Config struct {
	// Path names the database. For the SQLite engine it is a file path;
	// the memory engine uses it as a key.
	Path string

	// Schema declares the classes the database stores. An empty schema
	// adopts the schema already stored in the database.
	Schema ir.Schema

	// HistorySize bounds VersionID.Index. Zero means DefaultHistorySize.
	HistorySize uint64

	// Logger receives engine diagnostics. Nil means slog.Default().
	Logger *slog.Logger
}

// Log returns the configured logger or the default one.
func (c Config) Log() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// UpdatePolicy controls Insert when an object with the same id exists.
type UpdatePolicy int

const (
	// UpdatePolicyError fails with ErrObjectExists.
	UpdatePolicyError UpdatePolicy = iota
	// UpdatePolicyAll replaces every field of the existing object.
	UpdatePolicyAll
)

func (p UpdatePolicy) String() string {
	switch p {
	case UpdatePolicyError:
		return "error"
	case UpdatePolicyAll:
		return "all"
	}
	return "unknown"
}

// Engine opens live handles.
type Engine interface {
	// Name identifies the engine in logs and errors.
	Name() string

	// Open opens a live handle on the database described by cfg, creating
	// the database if it does not exist. Fails with ErrSchemaMismatch when
	// the stored schema differs from cfg.Schema.
	Open(ctx context.Context, cfg Config) (LiveHandle, error)
}

// Handle is the read surface shared by live and frozen handles.
type Handle interface {
	// Version returns the version the handle currently reads.
	Version() (VersionID, error)

	// Schema returns the schema the database was opened with.
	Schema() ir.Schema

	// Find returns the object with the given id.
	Find(class, id string) (ir.Object, bool, error)

	// ParseQuery parses a predicate against class. Placeholders $0, $1, ...
	// bind args. The returned Query reads through this handle.
	ParseQuery(class, predicate string, args ...ir.Value) (Query, error)

	// Close releases the handle. Calling Close again is a no-op.
	Close() error

	// IsClosed reports whether Close has been called.
	IsClosed() bool
}

// Query is a parsed predicate bound to a handle. It evaluates when Find or
// Count is called, against the state the handle reads at that moment.
type Query interface {
	Class() string
	Predicate() query.Predicate
	Find() ([]ir.Object, error)
	Count() (int, error)
}

// LiveHandle is an exclusive transaction context. Callers must confine each
// live handle to one goroutine; only Close, IsClosed and Registration.Cancel
// may be called from elsewhere.
type LiveHandle interface {
	Handle

	// BeginWrite starts a write transaction, advancing the handle to the
	// latest version first. Fails with ErrInTransaction if one is open.
	BeginWrite() error

	// Commit makes the transaction durable and visible and advances the
	// version. Fails with ErrNotInTransaction outside a transaction.
	Commit() error

	// Rollback discards the transaction.
	Rollback() error

	// InTransaction reports whether a write transaction is open.
	InTransaction() bool

	// Freeze returns an immutable handle at the handle's current version.
	// Fails with ErrInTransaction inside a write transaction.
	Freeze() (Handle, error)

	// Refresh advances the handle to the latest committed version and
	// delivers object callbacks for what changed. Reports whether the
	// version moved.
	Refresh() (bool, error)

	// Insert stores obj, which must carry an id.
	Insert(obj ir.Object, policy UpdatePolicy) (ir.Object, error)

	// Delete removes one object. Fails with ErrNoSuchObject if absent.
	Delete(class, id string) error

	// DeleteClass removes every object of class.
	DeleteClass(class string) error

	// DeleteAll removes every object.
	DeleteAll() error

	// AddObjectCallback registers cb for changes to one object, evaluated
	// whenever this handle commits or refreshes. cb runs on the goroutine
	// that called Commit or Refresh. The registration ends by itself once
	// the object is deleted.
	AddObjectCallback(class, id string, cb ObjectCallback) (Registration, error)

	// AddChangeCallback registers cb for commits made to the database by
	// any other handle or process. cb may run on any goroutine and must not
	// block or call back into this handle.
	AddChangeCallback(cb ChangeCallback) Registration
}

// ObjectChange describes one change to an observed object.
type ObjectChange struct {
	Object        ir.Object
	Deleted       bool
	ChangedFields []string
	Version       VersionID
}

// ObjectCallback receives object changes.
type ObjectCallback func(ObjectChange)

// ChangeCallback receives the version of a commit made elsewhere.
type ChangeCallback func(VersionID)

// Registration cancels a callback registration. Cancel is idempotent and
// safe from any goroutine.
type Registration interface {
	Cancel()
}

// RegistrationFunc adapts a function to Registration.
type RegistrationFunc func()

// Cancel implements Registration.
func (f RegistrationFunc) Cancel() { f() }
