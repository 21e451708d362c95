// Package netmon tracks connectivity as an Online/Offline state machine.
//
// Two signal sources feed the same state: native edge events (SetNative,
// Watch, InterfaceSource) and an active HTTP probe (Run, Check). Transitions
// are deduplicated, so observers only hear about real changes. A transition
// to Online always asks the sync orchestrator for a reconnect cycle.
package netmon
