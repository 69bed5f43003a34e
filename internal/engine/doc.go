// Package engine implements the fetch-and-resume pipeline.
//
// A run iterates the fixtures of one round and drives each through
//
//	Pending -> Attempting -> {Succeeded | GaveUp}
//
// ARCHITECTURE:
//
// Single sequential loop:
// One fixture is fully resolved (every retry) before the next starts, and no
// two requests are ever in flight. A single rate limiter timestamp therefore
// covers the whole run.
//
// Durable progress:
// Every attempt outcome is appended to the namespace manifest and fsynced
// before the loop moves on. A process killed at any point resumes from the
// manifest: completed fixtures are skipped, failed ones continue with the
// attempt count already spent.
//
// Failure isolation:
// A fixture that exhausts its attempt budget is recorded as an error and the
// loop proceeds. Only setup failures (work list, manifest I/O, namespace
// lock) end a run with an error.
//
// Best-effort side channels:
// The remote mirror (payloads, work list, manifest) and the run history row
// are written after the authoritative local state. Their failures are logged
// and never change an item's status.
package engine
