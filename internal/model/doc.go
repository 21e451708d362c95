// Package model defines the shared types of the offline sync engine.
//
// This package contains type definitions and pure helpers only. Every other
// internal package imports model; model imports nothing internal, which keeps
// the dependency graph acyclic:
//
//	model <- store <- outbox <- syncer
//	                        <- mutation
//	model <- netmon, transport
//
// Key constraints:
//   - Record is the generic envelope around any business object. Business
//     fields live in Data; envelope fields are authoritative.
//   - Outbox ordering uses the store-assigned Seq, never wall-clock time.
//   - Payload snapshots are canonical JSON so identical records always
//     serialize to identical bytes.
//   - Entity types are a closed set resolved once through a Registry.
package model
