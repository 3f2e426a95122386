package backupreuse

import "github.com/righttechsoft/tgfeed/internal/store"

// Reuser indexes a channel's backup_path subtree and matches remote files
// against that index by partial-chunk hash (spec.md §4.6).
type Reuser struct {
	store *store.Store
}

// New builds a Reuser backed by st's per-channel backup-hash tables.
func New(st *store.Store) *Reuser {
	return &Reuser{store: st}
}
