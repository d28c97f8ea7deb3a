// Package harness runs YAML scenarios against a Realm and records a
// deterministic trace of what each step observed.
//
// # Scenario Format
//
//	name: concurrent_inserts
//	description: "Two writers race; both commits land"
//	schema: schema/sample.cue      # relative to the scenario file
//	engine: memory                 # memory (default) or sqlite
//	ids: [log-1, log-2]            # ids for classes without a primary key
//	steps:
//	  - write:
//	      - copy: { class: Sample, fields: { name: Foo, count: 0 } }
//	  - concurrent:
//	      - [ { copy: { class: Sample, fields: { name: A } } } ]
//	      - [ { copy: { class: Sample, fields: { name: B } } } ]
//	  - query: { class: Sample, predicate: "name != $0", args: [Foo] }
//	    expect: { ids: [A, B] }
//	  - close: true
//	assertions:
//	  - type: count
//	    class: Sample
//	    count: 3
//
// Each step holds exactly one action. A write step lists operations run
// in one transaction; cancel and fail end it without committing.
//
// # Assertion Types
//
//   - version: the final published version equals version
//   - count: class (optionally filtered by predicate) holds count objects
//   - object: the object class/id exists and its fields contain expect
//   - absent: the object class/id does not exist
//   - closed: the scenario's Realm was closed and rejects reads
//   - trace_count: step appears count times in the trace
//
// State assertions read through a fresh Realm on the same database, so
// they see what was committed even after a close step.
//
// # Deterministic Testing
//
// Generated ids come from the scenario's ids list and trace sequence
// numbers from a per-run counter. Concurrent writes record only what does
// not depend on scheduling: the number of commits and the final version.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/concurrent_inserts.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(ctx, scenario)
//	if !result.Pass {
//	    for _, e := range result.Errors {
//	        log.Println(e)
//	    }
//	}
package harness
