package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/c0deZ3R0/go-order-kit/coordinator"
	kiterr "github.com/c0deZ3R0/go-order-kit/errors"
)

// Record appends a journal entry.
func (s *Store) Record(ctx context.Context, e coordinator.JournalEntry) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	before, err := json.Marshal(e.Before)
	if err != nil {
		return kiterr.NewStorageError(kiterr.OpStore, fmt.Errorf("encode before: %w", err))
	}
	after, err := json.Marshal(e.After)
	if err != nil {
		return kiterr.NewStorageError(kiterr.OpStore, fmt.Errorf("encode after: %w", err))
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO move_journal (id, move_id, item_id, event, before_item, after_item, strategy, reason, error, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.MoveID, e.ItemID, string(e.Event), string(before), string(after),
		e.Strategy, e.Reason, e.Error, e.At.UnixNano())
	if err != nil {
		return kiterr.NewStorageError(kiterr.OpStore, fmt.Errorf("insert journal entry %q: %w", e.ID, err))
	}
	return nil
}

// History returns the journal entries of an item, oldest first. An empty
// itemID returns the whole journal.
func (s *Store) History(ctx context.Context, itemID string) ([]coordinator.JournalEntry, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	query := `SELECT id, move_id, item_id, event, before_item, after_item, strategy, reason, error, at FROM move_journal`
	var args []any
	if itemID != "" {
		query += ` WHERE item_id = ?`
		args = append(args, itemID)
	}
	query += ` ORDER BY at ASC, seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, kiterr.NewStorageError(kiterr.OpLoad, err)
	}
	defer rows.Close()

	var out []coordinator.JournalEntry
	for rows.Next() {
		var (
			e             coordinator.JournalEntry
			event         string
			before, after sql.NullString
			at            int64
		)
		if err := rows.Scan(&e.ID, &e.MoveID, &e.ItemID, &event, &before, &after,
			&e.Strategy, &e.Reason, &e.Error, &at); err != nil {
			return nil, kiterr.NewStorageError(kiterr.OpLoad, fmt.Errorf("scan journal row: %w", err))
		}
		e.Event = coordinator.JournalEvent(event)
		e.At = time.Unix(0, at).UTC()
		if before.Valid {
			if err := json.Unmarshal([]byte(before.String), &e.Before); err != nil {
				return nil, kiterr.NewStorageError(kiterr.OpLoad, fmt.Errorf("decode journal entry %q: %w", e.ID, err))
			}
		}
		if after.Valid {
			if err := json.Unmarshal([]byte(after.String), &e.After); err != nil {
				return nil, kiterr.NewStorageError(kiterr.OpLoad, fmt.Errorf("decode journal entry %q: %w", e.ID, err))
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, kiterr.NewStorageError(kiterr.OpLoad, err)
	}
	return out, nil
}
