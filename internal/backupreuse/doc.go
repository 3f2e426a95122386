// Package backupreuse implements backup-subtree indexing and hash-match
// file reuse (C6): scanning a channel's backup_path for already-downloaded
// media so a later re-fetch can copy a local file instead of pulling it
// from upstream again (spec.md §4.6).
package backupreuse
