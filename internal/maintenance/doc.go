// Package maintenance implements the four periodic housekeeping workers
// (C7): video thumbnail generation, telegra.ph page archival, two-phase
// message retention, and the full-text search indexer (spec.md §4.7).
package maintenance
