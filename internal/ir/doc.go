// Package ir provides the value model shared by the realm coordinator, the
// core engines and the CLI.
//
// This package contains type definitions and canonical encoding only. All
// other internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - NO float types anywhere - use int64 for numbers
//   - Objects are addressed by (class, id), never by storage position
//   - Object content is stored and hashed as RFC 8785 canonical JSON
//   - All JSON tags use snake_case
package ir
