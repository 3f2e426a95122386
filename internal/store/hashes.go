package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/righttechsoft/tgfeed/internal/models"
)

// RegisterContentHash attempts to claim hash for groupID in the
// content_hashes registry. Because (hash, group_id) is the primary key, the
// INSERT either succeeds — this caller is the first writer and owns the
// hash — or fails on a constraint violation, in which case the existing
// owner is returned (spec.md §4.5 "first writer wins").
func (s *Store) RegisterContentHash(ctx context.Context, hash string, groupID, channelID, messageID int64, messageDate time.Time) (*models.HashOwner, error) {
	return s.registerHash(ctx, "content_hashes", hash, groupID, channelID, messageID, messageDate)
}

// RegisterMediaHash is RegisterContentHash's media-hash twin.
func (s *Store) RegisterMediaHash(ctx context.Context, hash string, groupID, channelID, messageID int64, messageDate time.Time) (*models.HashOwner, error) {
	return s.registerHash(ctx, "media_hashes", hash, groupID, channelID, messageID, messageDate)
}

func (s *Store) registerHash(ctx context.Context, table, hash string, groupID, channelID, messageID int64, messageDate time.Time) (*models.HashOwner, error) {
	stmt := fmt.Sprintf(`INSERT INTO %s (hash, group_id, channel_id, message_id, message_date) VALUES (?, ?, ?, ?, ?)`, table)
	if _, err := s.conn.ExecContext(ctx, stmt, hash, groupID, channelID, messageID, messageDate); err != nil {
		owner, lookupErr := s.hashOwner(ctx, table, hash, groupID)
		if lookupErr != nil {
			return nil, fmt.Errorf("register hash in %s (insert failed: %v): %w", table, err, lookupErr)
		}
		if owner == nil {
			// The insert failed for a reason other than the PK already
			// existing (e.g. the table briefly lacked the row when we
			// re-read it); surface the original error.
			return nil, fmt.Errorf("register hash in %s: %w", table, err)
		}
		return owner, nil
	}
	return nil, nil // nil owner means this call became the first writer
}

func (s *Store) hashOwner(ctx context.Context, table, hash string, groupID int64) (*models.HashOwner, error) {
	stmt := fmt.Sprintf(`SELECT channel_id, message_id FROM %s WHERE hash = ? AND group_id = ?`, table)
	row := s.conn.QueryRowContext(ctx, stmt, hash, groupID)
	var owner models.HashOwner
	err := row.Scan(&owner.ChannelID, &owner.MessageID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup hash owner in %s: %w", table, err)
	}
	return &owner, nil
}
