// Package pauseflag implements the supervisor's pause sentinel (spec.md
// §4.8, §5 "Pause flag"): the presence of a file at a known path signals
// that a reader-initiated on-demand download wants exclusive upstream
// access. Sync stages consult it at natural checkpoints and block until it
// disappears.
package pauseflag
