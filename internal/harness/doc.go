// Package harness runs conformance scenarios against the sync client.
//
// A scenario drives the real local store, outbox queue, network monitor,
// mutation facade and sync orchestrator through a list of steps. Only the
// sync server is scripted: each request is answered by the next "respond"
// step, or acknowledged in full when none is queued.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	tenant: tenant-1
//	online: false
//	steps:
//	  - create: { entity: student, id: s1, data: { name: Ada } }
//	  - update: { entity: student, id: s1, data: { grade: 5 } }
//	  - respond:
//	      conflict:
//	        - event: evt-2
//	          data: { id: s1, name: Ada, _version: 4 }
//	  - network: online
//	  - sync: manual
//	    expect: { outcome: no_pending }
//	assertions:
//	  - type: trace_contains
//	    action: submit
//	  - type: final_state
//	    table: students
//	    where: { id: s1 }
//	    expect: { version: 4, is_dirty: false }
//
// # Assertion Types
//
// The following assertion types are supported:
//
//   - trace_contains: Verifies an action appears in the trace with matching args
//   - trace_order: Verifies actions appear in specified order
//   - trace_count: Verifies an action appears exactly N times
//   - final_state: Queries a table and verifies expected values
//
// # Deterministic Testing
//
// Every run uses a fresh in-memory SQLite database, sequential event ids
// (evt-1, evt-2, ...), a stepping clock starting at testutil.Epoch and a
// fixed client id. Background cycles a step triggers finish before the next
// step starts, so identical scenarios produce identical traces and golden
// files can be compared byte for byte.
package harness
