// Package core defines the storage engine contract the realm coordinator
// is built on, together with the pieces every engine shares: version ids,
// engine errors, callback registries and query compilation.
//
// An Engine opens LiveHandles. A live handle is an exclusive transaction
// context: it is NOT safe for concurrent use, and its owner confines every
// call to a single goroutine. Freezing a live handle yields an immutable
// Handle pinned at one VersionID that any goroutine may read.
//
// Two engines ship with this module:
//
//	core/memory  immutable sorted maps; freeze is O(1)
//	core/sqlite  SQLite in WAL mode; a frozen handle pins a read transaction
//
// Both are exercised by the conformance suite in core/coretest.
package core
