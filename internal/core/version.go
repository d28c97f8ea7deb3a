package core

import "fmt"

// DefaultHistorySize is the number of history slots an engine cycles
// through when deriving VersionID.Index.
const DefaultHistorySize = 64

// VersionID identifies a snapshot's position in commit history.
//
// Ordering consults Version only; Index is carried for diagnostics. Engines
// in this module assign a fresh Version to every commit, so two ids with
// the same Version always describe the same state.
type VersionID struct {
	Version uint64 `json:"version"`
	Index   uint64 `json:"index"`
}

// NewVersionID derives the id for a committed version.
func NewVersionID(version, historySize uint64) VersionID {
	if historySize == 0 {
		historySize = DefaultHistorySize
	}
	return VersionID{Version: version, Index: version % historySize}
}

// Compare returns -1, 0 or 1 comparing v and other by Version.
func (v VersionID) Compare(other VersionID) int {
	switch {
	case v.Version < other.Version:
		return -1
	case v.Version > other.Version:
		return 1
	}
	return 0
}

// AtLeast reports whether v is not older than other.
func (v VersionID) AtLeast(other VersionID) bool {
	return v.Compare(other) >= 0
}

// String implements fmt.Stringer.
func (v VersionID) String() string {
	return fmt.Sprintf("v%d.%d", v.Version, v.Index)
}
