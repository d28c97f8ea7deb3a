// Package schema compiles CUE class declarations into an ir.Schema and
// validates objects against it.
//
// A schema file declares classes under a top-level "class" struct:
//
//	class: Sample: {
//		primary_key: "name"
//		properties: {
//			name:         string
//			count:        int
//			tags:         [...string]
//			description?: string
//		}
//	}
//
// Optional CUE fields (name?) become optional properties. Float and number
// kinds are rejected at compile time.
package schema
