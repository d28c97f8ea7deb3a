// Package memory implements core.Engine over persistent sorted maps from
// github.com/benbjohnson/immutable.
//
// Every committed version is an immutable map keyed by ir.ObjectKey, so a
// frozen handle is just a reference to one map and freezing costs nothing.
// A write transaction edits a private copy and publishes it on commit.
//
// Databases live as long as the Engine value: two handles opened with the
// same Path on the same Engine share one database, handles on different
// Engine values never do.
package memory
