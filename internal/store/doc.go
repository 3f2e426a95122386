// Package store is the single source of truth for tgfeed (spec.md §4.1,
// component C1). It owns the SQLite schema (global tables, one message
// table per channel, the hash registries, the backup index, and the
// trigram-tokenized full-text index), exposes a typed accessor surface for
// every mutation, and implements the album-regrouping and
// duplicate-variant-expansion query contracts consumed both by the reader
// (C9) and by the dedup engine (C5).
//
// All mutations run under a connection opened with WAL journaling and a
// busy timeout (spec.md §4.1, §5 "Shared resource policy"); the store is a
// single file. Within the process, writes are serialized by the pool's
// single open connection; the busy timeout covers contention from other
// connections to the same file.
package store
