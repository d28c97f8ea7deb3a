// Package realm coordinates frozen snapshots and write transactions over a
// core.Engine.
//
// A Realm publishes one frozen snapshot at a time. Reads (Objects, Query,
// Find) always go to the published snapshot and never see a write that is
// still in progress. Writes are funnelled through a single writer goroutine
// that owns the only live handle allowed to mutate the database:
//
//	caller ──Write──▶ writer goroutine: begin → fn → commit → freeze
//	   ▲                                                   │
//	   └──────── publish (snapshot, version) if >= current ◀┘
//
// A second goroutine, the notifier, owns its own live handle on the same
// database. It follows commits made by other Realms or processes, publishes
// their snapshots through the same monotonic path and evaluates object
// observers registered with Observe.
//
// Publication is guarded by a mutex and only moves forward: a snapshot is
// adopted when its version is at least the published one. Two writes may
// publish out of dispatch order; the older one is then discarded.
//
// Values returned from a write closure that belong to the transaction
// (*Object, *Results, []*Object) are converted to their frozen equivalents
// before Write returns.
package realm
