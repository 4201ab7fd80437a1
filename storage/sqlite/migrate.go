package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	kiterr "github.com/c0deZ3R0/go-order-kit/errors"
	"github.com/c0deZ3R0/go-order-kit/orderkey"
)

// PutLegacy stores an item that only has an integer position, as written
// by older clients. MigrateLegacy converts it later.
func (s *Store) PutLegacy(ctx context.Context, id, containerID string, position uint64) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (id, container_id, sort_key, position) VALUES (?, ?, '', ?)
		ON CONFLICT(id) DO UPDATE SET container_id = excluded.container_id, sort_key = '', position = excluded.position`,
		id, containerID, int64(position))
	if err != nil {
		return kiterr.NewStorageError(kiterr.OpStore, err)
	}
	return nil
}

// MigrateLegacy rewrites integer positions and all-digit legacy keys into
// fractional keys of the store's alphabet. Relative order is preserved. It
// returns the number of rewritten rows.
func (s *Store) MigrateLegacy(ctx context.Context) (n int, err error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, kiterr.NewStorageError(kiterr.OpStore, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(ctx, `SELECT id, sort_key, position FROM items WHERE sort_key = '' OR position IS NOT NULL`)
	if err != nil {
		return 0, kiterr.NewStorageError(kiterr.OpLoad, err)
	}
	updates := make(map[string]orderkey.Key)
	for rows.Next() {
		var (
			id, key  string
			position sql.NullInt64
		)
		if err = rows.Scan(&id, &key, &position); err != nil {
			rows.Close()
			return 0, kiterr.NewStorageError(kiterr.OpLoad, err)
		}
		switch {
		case key == "" && position.Valid && position.Int64 >= 0:
			updates[id] = s.alphabet.FromLegacyNumeric(uint64(position.Int64))
		case key != "":
			// Already keyed; only the stale position column is cleared.
			updates[id] = orderkey.Key(key)
		}
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return 0, kiterr.NewStorageError(kiterr.OpLoad, err)
	}

	// Digit-only keys written by older clients.
	keyed, err := tx.QueryContext(ctx, `SELECT id, sort_key FROM items WHERE sort_key <> '' AND position IS NULL`)
	if err != nil {
		return 0, kiterr.NewStorageError(kiterr.OpLoad, err)
	}
	for keyed.Next() {
		var id, key string
		if err = keyed.Scan(&id, &key); err != nil {
			keyed.Close()
			return 0, kiterr.NewStorageError(kiterr.OpLoad, err)
		}
		if k := orderkey.Key(key); s.alphabet.IsLegacy(k) {
			updates[id] = s.alphabet.FromLegacyNumeric(s.alphabet.ToLegacyNumeric(k))
		}
	}
	keyed.Close()
	if err = keyed.Err(); err != nil {
		return 0, kiterr.NewStorageError(kiterr.OpLoad, err)
	}

	for id, key := range updates {
		if _, err = tx.ExecContext(ctx, `UPDATE items SET sort_key = ?, position = NULL WHERE id = ?`, string(key), id); err != nil {
			return 0, kiterr.NewStorageError(kiterr.OpStore, fmt.Errorf("migrate item %q: %w", id, err))
		}
	}
	if err = tx.Commit(); err != nil {
		return 0, kiterr.NewStorageError(kiterr.OpStore, err)
	}

	if len(updates) > 0 {
		s.logger.InfoContext(ctx, "migrated legacy positions", slog.Int("rows", len(updates)))
	}
	return len(updates), nil
}
