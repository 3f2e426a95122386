// Package sync implements the four sync pipeline stages (C4): channel
// discovery, forward message sync, historical backfill, and read
// acknowledgement back to the upstream daemon. Every stage is idempotent
// and restartable (spec.md §4.4): a stage that is interrupted mid-run
// leaves the store in a state the next run picks up from cleanly.
package sync
