// Package core contains the shared value types of the orchestration engine:
// the chunk stream that carries an agent's output to the caller, the
// role-tagged conversation transcript, the per-turn context passed through
// every round, and the typed errors the engine surfaces.
//
// Types in this package carry no behavior beyond their own invariants; the
// engine logic lives in the workflow package.
package core
