// Package syncer drains the outbox against the remote sync endpoint.
//
// The Orchestrator runs at most one sync cycle at a time. Every trigger
// (reconnect, periodic timer, local mutation, manual) calls Sync; a trigger
// that arrives while a cycle is in flight joins that cycle and receives its
// result instead of starting a second one.
//
// A cycle claims the tenant's PENDING events, submits them as one batch and
// reconciles the response:
//
//	acknowledged -> event SYNCED, record clean (unless changed again locally)
//	conflicts    -> record overwritten with server data, event SYNCED
//	rejected     -> event FAILED, never retried
//	unmentioned  -> event back to PENDING
//
// A transport failure reverts the whole batch to PENDING and nothing is
// marked FAILED. Repeated transport failures back off timer and mutation
// triggers; reconnect and manual triggers always run.
package syncer
