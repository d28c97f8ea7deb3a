// Package sqlite implements core.Engine on SQLite via
// github.com/mattn/go-sqlite3.
//
// # Snapshots
//
// Every handle owns a dedicated connection. A handle that is not writing
// keeps a read transaction open, which in WAL mode pins the snapshot it
// started on; the realm_meta.version it read is the handle's version.
// Freezing hands the pinned connection to the frozen handle and gives the
// live handle a fresh one, so a frozen handle always reads exactly the
// version the live handle had.
//
// # Writes
//
// BeginWrite issues BEGIN IMMEDIATE. Commit bumps realm_meta.version in
// the same transaction, so every commit yields a new version.
//
// # Change detection
//
// Commits through this Engine notify change callbacks directly. Commits by
// other processes are picked up by watching the database and its WAL file
// with fsnotify.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package sqlite
