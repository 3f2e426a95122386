// Package supervisor owns a set of scripts (daemon, sync, maintenance) and
// chains (ordered, looping sequences of scripts) and runs them under a
// suture tree with dependency-aware daemon startup, a pause-flag
// back-pressure mechanism, and crash-log persistence on non-zero script
// exit (spec.md §4.8).
package supervisor
