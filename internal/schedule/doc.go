// Package schedule implements the persistent per-chat summarization
// scheduler.
//
// # Overview
//
// Each scheduled chat owns one background task that sleeps for the
// configured interval, runs a fetch/summarize/deliver cycle through the
// injected Pipeline, and loops. The Manager is the public surface (Add,
// Remove, List, ResumeAll, Shutdown) and guarantees at most one live task
// per chat id. The Store keeps the serializable schedule records in a
// single JSON document that is rewritten after every mutation.
//
// # Cadence
//
// There is no drift correction: every cycle waits the full nominal interval
// from the moment the sleep begins, so the effective period is the interval
// plus the cycle's execution time. Resumed schedules wait a full interval
// before their first cycle; intervals missed while the process was down are
// not backfilled.
//
// # Failure policy
//
// Transient collaborator failures (client unavailable, empty fetch, empty
// summary, delivery error) skip the cycle and keep the normal cadence. An
// unexpected failure or panic inside a cycle triggers a fixed cooldown
// before the next sleep so one broken chat cannot spin hot. last_run is
// advanced only after a delivered summary.
package schedule
