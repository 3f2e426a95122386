package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/righttechsoft/tgfeed/internal/logging"
)

// migrate brings the database up to the current schema. It is safe to run on
// every startup: every step checks current state before acting, so a
// freshly-created database and a years-old one converge on the same shape
// (spec.md §4.1 "Schema migration is idempotent").
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, globalSchema); err != nil {
		return fmt.Errorf("apply global schema: %w", err)
	}

	if err := s.migrateHashRegistry(ctx, "content_hashes"); err != nil {
		return err
	}
	if err := s.migrateHashRegistry(ctx, "media_hashes"); err != nil {
		return err
	}

	if err := s.migrateFTS(ctx); err != nil {
		return err
	}

	return nil
}

// migrateHashRegistry replaces a legacy single-column-PK hash table (hash
// TEXT PRIMARY KEY, no group scoping) with the current composite-PK shape.
// Rows from the legacy table are preserved under group_id 0, the "no group"
// sentinel, since a single-column registry predates group scoping entirely
// and cannot say which group a row belonged to.
func (s *Store) migrateHashRegistry(ctx context.Context, table string) error {
	cols, err := s.tableColumns(ctx, table)
	if err != nil || len(cols) == 0 {
		return err
	}
	if _, ok := cols["group_id"]; ok {
		return nil // already current shape
	}

	legacy := table + "_legacy"
	if _, err := s.conn.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", table, legacy)); err != nil {
		return fmt.Errorf("rename legacy %s: %w", table, err)
	}

	var ddl string
	if table == "content_hashes" {
		ddl = `CREATE TABLE content_hashes (
			hash TEXT NOT NULL, group_id INTEGER NOT NULL, channel_id INTEGER NOT NULL,
			message_id INTEGER NOT NULL, message_date TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (hash, group_id))`
	} else {
		ddl = `CREATE TABLE media_hashes (
			hash TEXT NOT NULL, group_id INTEGER NOT NULL, channel_id INTEGER NOT NULL,
			message_id INTEGER NOT NULL, message_date TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (hash, group_id))`
	}
	if _, err := s.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("recreate %s: %w", table, err)
	}

	copySQL := fmt.Sprintf(
		`INSERT OR IGNORE INTO %s (hash, group_id, channel_id, message_id, message_date, created_at)
		 SELECT hash, 0, channel_id, message_id, message_date, created_at FROM %s`, table, legacy)
	if _, err := s.conn.ExecContext(ctx, copySQL); err != nil {
		return fmt.Errorf("copy legacy %s rows: %w", table, err)
	}
	if _, err := s.conn.ExecContext(ctx, "DROP TABLE "+legacy); err != nil {
		return fmt.Errorf("drop legacy %s: %w", table, err)
	}

	logging.Info().Str("table", table).Msg("migrated hash registry to composite-key layout")
	return nil
}

// migrateFTS drops and recreates messages_fts if it was built in the
// "contentless" form (content=''), which does not carry the UNINDEXED
// columns this store relies on to filter by channel/message without
// touching the tokenized index. The external-content-less form used here
// stores its own copy of message text.
func (s *Store) migrateFTS(ctx context.Context) error {
	var sqlText sql.NullString
	row := s.conn.QueryRowContext(ctx, "SELECT sql FROM sqlite_master WHERE type='table' AND name='messages_fts'")
	err := row.Scan(&sqlText)
	switch {
	case err == sql.ErrNoRows:
		return s.createFTS(ctx)
	case err != nil:
		return fmt.Errorf("inspect messages_fts: %w", err)
	}

	if strings.Contains(sqlText.String, "content=''") || strings.Contains(sqlText.String, `content=""`) {
		logging.Warn().Msg("dropping contentless messages_fts table and recreating it with stored content")
		if _, err := s.conn.ExecContext(ctx, "DROP TABLE messages_fts"); err != nil {
			return fmt.Errorf("drop legacy messages_fts: %w", err)
		}
		return s.createFTS(ctx)
	}
	return nil
}

func (s *Store) createFTS(ctx context.Context) error {
	_, err := s.conn.ExecContext(ctx,
		`CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
			channel_id UNINDEXED, message_id UNINDEXED, message, tokenize='trigram')`)
	if err != nil {
		return fmt.Errorf("create messages_fts: %w", err)
	}
	return nil
}

// tableColumns returns the set of column names on table, or nil if the
// table does not exist.
func (s *Store) tableColumns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := s.conn.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return nil, fmt.Errorf("inspect %s columns: %w", table, err)
	}
	defer closeRowsWithLog(rows, "tableColumns")

	cols := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scan table_info(%s): %w", table, err)
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// ensureColumn adds column to table with the given SQL type/default clause
// if it is not already present (spec.md §4.1 "add-column-if-absent").
func (s *Store) ensureColumn(ctx context.Context, table, column, ddlClause string) error {
	cols, err := s.tableColumns(ctx, table)
	if err != nil {
		return err
	}
	if cols[column] {
		return nil
	}
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, ddlClause)
	if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	return nil
}

// ensureIndex creates idx on table(columns...) only if every column is
// present, so an index referencing a column added in a later release never
// fails migration on an older database mid-upgrade (spec.md §4.1
// "add-index-if-columns-present").
func (s *Store) ensureIndex(ctx context.Context, spec indexSpec) error {
	cols, err := s.tableColumns(ctx, spec.table)
	if err != nil {
		return err
	}
	for _, c := range spec.columns {
		if !cols[c] {
			return nil
		}
	}
	stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", spec.name, spec.table, strings.Join(spec.columns, ", "))
	if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create index %s: %w", spec.name, err)
	}
	return nil
}
