package realm

import (
	"errors"

	"github.com/roach88/realm/internal/core"
)

var (
	// ErrClosed is returned by every operation on a closed Realm.
	ErrClosed = errors.New("realm is closed")

	// ErrUnmanagedObject is returned when an operation needs an object
	// that belongs to a database.
	ErrUnmanagedObject = errors.New("cannot register listeners on unmanaged object")

	// ErrUnrecognizedFreeze is returned when a write closure returns a
	// managed value Write does not know how to freeze.
	ErrUnrecognizedFreeze = errors.New("did not recognize type to be frozen")

	// ErrTransactionScope is returned when a MutableRealm, or a live value
	// obtained from one, is used after its write closure returned.
	ErrTransactionScope = errors.New("mutable realm used outside its write transaction")
)

// IsClosedError reports whether err comes from a closed Realm or from a
// snapshot released by Close.
func IsClosedError(err error) bool {
	return errors.Is(err, ErrClosed) || core.IsClosedError(err)
}

// IsScopeError reports whether err comes from using a transaction-scoped
// value after the transaction ended.
func IsScopeError(err error) bool {
	return errors.Is(err, ErrTransactionScope)
}
