// Package sqlite provides a SQLite item cache for the ordering coordinator.
// It serves container snapshots, keeps the move journal, and migrates
// legacy integer positions to fractional keys.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	stdSync "sync"
	"time"

	"github.com/c0deZ3R0/go-order-kit/board"
	"github.com/c0deZ3R0/go-order-kit/coordinator"
	kiterr "github.com/c0deZ3R0/go-order-kit/errors"
	"github.com/c0deZ3R0/go-order-kit/logging"
	"github.com/c0deZ3R0/go-order-kit/orderkey"

	// Go SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

const component = kiterr.Component("storage/sqlite")

// ErrStoreClosed is returned by every method after Close.
var ErrStoreClosed = errors.New("store is closed")

// Config holds configuration options for the Store.
//
// DefaultConfig enables WAL mode and sizes the connection pool at 25 open
// and 5 idle connections. In-memory databases always use a single
// connection, since every connection would otherwise see its own database.
type Config struct {
	// DataSourceName is the connection string for the SQLite database.
	// Example: "file:board.db"
	DataSourceName string

	// EnableWAL appends "?_journal_mode=WAL" to DataSourceName.
	EnableWAL bool

	// Alphabet orders snapshots and validates keys. Defaults to orderkey.Default.
	Alphabet *orderkey.Alphabet

	// Logger receives store diagnostics. Nil disables logging.
	Logger *logging.Logger

	MaxOpenConns    int           // Default: 25
	MaxIdleConns    int           // Default: 5
	ConnMaxLifetime time.Duration // Default: 1h
	ConnMaxIdleTime time.Duration // Default: 5m
}

func (c *Config) inMemory() bool {
	return c.DataSourceName == ":memory:" || strings.Contains(c.DataSourceName, "mode=memory")
}

// setDefaults applies default values to the config
func (c *Config) setDefaults() {
	if c.Alphabet == nil {
		c.Alphabet = orderkey.Default
	}
	c.Logger = logging.OrDiscard(c.Logger)
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.inMemory() {
		c.MaxOpenConns, c.MaxIdleConns = 1, 1
		c.ConnMaxLifetime, c.ConnMaxIdleTime = 0, 0
		c.EnableWAL = false
	}
	if c.EnableWAL && !strings.Contains(c.DataSourceName, "_journal_mode=") {
		sep := "?"
		if strings.Contains(c.DataSourceName, "?") {
			sep = "&"
		}
		c.DataSourceName += sep + "_journal_mode=WAL"
	}
}

// DefaultConfig returns a Config with WAL enabled and the default pool.
func DefaultConfig(dataSourceName string) *Config {
	return &Config{DataSourceName: dataSourceName, EnableWAL: true}
}

// NewWithDataSource is a convenience constructor
func NewWithDataSource(dataSourceName string) (*Store, error) {
	return New(DefaultConfig(dataSourceName))
}

// Store is a SQLite-backed item cache and move journal.
type Store struct {
	db       *sql.DB
	mu       stdSync.RWMutex
	closed   bool
	alphabet *orderkey.Alphabet
	logger   *logging.Logger
}

var (
	_ coordinator.SnapshotSource = (*Store)(nil)
	_ coordinator.Journal        = (*Store)(nil)
)

// New opens the database described by config and creates the schema.
func New(config *Config) (*Store, error) {
	if config == nil {
		return nil, kiterr.E(kiterr.OpLoad, component, kiterr.KindInvalid, "config cannot be nil")
	}
	config.setDefaults()
	if config.DataSourceName == "" {
		return nil, kiterr.E(kiterr.OpLoad, component, kiterr.KindInvalid, "DataSourceName is required")
	}

	logger := config.Logger.WithComponent(logging.Component("sqlite-store"))
	logger.InfoContext(context.Background(), "Opening SQLite database",
		slog.String("data_source", config.DataSourceName),
		slog.Bool("wal_enabled", config.EnableWAL),
	)

	db, err := sql.Open("sqlite3", config.DataSourceName)
	if err != nil {
		return nil, kiterr.NewStorageError(kiterr.OpLoad, fmt.Errorf("open sqlite database: %w", err))
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, kiterr.NewStorageError(kiterr.OpLoad, fmt.Errorf("connect to sqlite database: %w", err))
	}

	s := &Store{db: db, alphabet: config.Alphabet, logger: logger}
	if err := s.setupSchema(); err != nil {
		db.Close()
		return nil, kiterr.NewStorageError(kiterr.OpLoad, fmt.Errorf("setup database schema: %w", err))
	}
	logger.DebugContext(context.Background(), "SQLite store initialized",
		slog.Int("max_open_conns", config.MaxOpenConns))
	return s, nil
}

// setupSchema creates the items and journal tables if they don't exist.
// position holds legacy integer positions until MigrateLegacy converts them.
func (s *Store) setupSchema() error {
	query := `
    CREATE TABLE IF NOT EXISTS items (
        id            TEXT PRIMARY KEY,
        container_id  TEXT NOT NULL,
        sort_key      TEXT NOT NULL DEFAULT '',
        position      INTEGER,
        modified_at   INTEGER NOT NULL DEFAULT 0,
        modified_by   TEXT NOT NULL DEFAULT '',
        payload       TEXT
    );
    CREATE INDEX IF NOT EXISTS idx_items_container ON items (container_id, sort_key);

    CREATE TABLE IF NOT EXISTS move_journal (
        seq       INTEGER PRIMARY KEY AUTOINCREMENT,
        id        TEXT NOT NULL UNIQUE,
        move_id   TEXT NOT NULL DEFAULT '',
        item_id   TEXT NOT NULL,
        event     TEXT NOT NULL,
        before_item TEXT,
        after_item  TEXT,
        strategy  TEXT NOT NULL DEFAULT '',
        reason    TEXT NOT NULL DEFAULT '',
        error     TEXT NOT NULL DEFAULT '',
        at        INTEGER NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_journal_item ON move_journal (item_id, at);
    `
	_, err := s.db.Exec(query)
	return err
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// PutItems upserts items in one transaction. Items with invalid keys are
// rejected before anything is written.
func (s *Store) PutItems(ctx context.Context, items ...board.Item) (err error) {
	if err := s.checkOpen(); err != nil {
		return err
	}
	for _, it := range items {
		if it.ID == "" || it.ContainerID == "" || !s.alphabet.IsValid(it.Key) {
			return kiterr.E(kiterr.OpStore, component, kiterr.ErrCodeValidation, kiterr.KindInvalid,
				fmt.Sprintf("invalid item %q (container %q, key %q)", it.ID, it.ContainerID, it.Key))
		}
	}
	if len(items) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return kiterr.NewStorageError(kiterr.OpStore, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO items (id, container_id, sort_key, position, modified_at, modified_by, payload)
		VALUES (?, ?, ?, NULL, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			container_id = excluded.container_id,
			sort_key     = excluded.sort_key,
			position     = NULL,
			modified_at  = excluded.modified_at,
			modified_by  = excluded.modified_by,
			payload      = excluded.payload`)
	if err != nil {
		return kiterr.NewStorageError(kiterr.OpStore, err)
	}
	defer stmt.Close()

	for _, it := range items {
		if _, err = stmt.ExecContext(ctx, it.ID, it.ContainerID, string(it.Key),
			unixNano(it.ModifiedAt), it.ModifiedBy, nullPayload(it.Payload)); err != nil {
			return kiterr.NewStorageError(kiterr.OpStore, fmt.Errorf("upsert item %q: %w", it.ID, err))
		}
	}
	if err = tx.Commit(); err != nil {
		return kiterr.NewStorageError(kiterr.OpStore, err)
	}
	return nil
}

// Item returns one cached item.
func (s *Store) Item(ctx context.Context, id string) (board.Item, bool, error) {
	if err := s.checkOpen(); err != nil {
		return board.Item{}, false, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, container_id, sort_key, modified_at, modified_by, payload FROM items WHERE id = ?`, id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return board.Item{}, false, nil
	}
	if err != nil {
		return board.Item{}, false, kiterr.NewStorageError(kiterr.OpLoad, err)
	}
	return it, true, nil
}

// DeleteItem removes an item from the cache.
func (s *Store) DeleteItem(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id); err != nil {
		return kiterr.NewStorageError(kiterr.OpStore, err)
	}
	return nil
}

// Snapshot returns the items of a container in key order. Rows still
// waiting for legacy migration are skipped.
func (s *Store) Snapshot(ctx context.Context, containerID string) ([]board.Item, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, container_id, sort_key, modified_at, modified_by, payload
		FROM items WHERE container_id = ? AND sort_key <> ''`, containerID)
	if err != nil {
		return nil, kiterr.NewStorageError(kiterr.OpSnapshot, err)
	}
	defer rows.Close()

	var items []board.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, kiterr.NewStorageError(kiterr.OpSnapshot, fmt.Errorf("scan item row: %w", err))
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, kiterr.NewStorageError(kiterr.OpSnapshot, err)
	}
	// SQL collation knows nothing about legacy keys.
	board.Sort(items, s.alphabet)
	return items, nil
}

// Containers lists the distinct container ids in the cache.
func (s *Store) Containers(ctx context.Context) ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT container_id FROM items ORDER BY container_id`)
	if err != nil {
		return nil, kiterr.NewStorageError(kiterr.OpLoad, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, kiterr.NewStorageError(kiterr.OpLoad, err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Stats returns database statistics for monitoring
func (s *Store) Stats() sql.DBStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return sql.DBStats{}
	}
	return s.db.Stats()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (board.Item, error) {
	var (
		it      board.Item
		key     string
		at      int64
		payload sql.NullString
	)
	if err := row.Scan(&it.ID, &it.ContainerID, &key, &at, &it.ModifiedBy, &payload); err != nil {
		return board.Item{}, err
	}
	it.Key = orderkey.Key(key)
	if at != 0 {
		it.ModifiedAt = time.Unix(0, at).UTC()
	}
	if payload.Valid {
		it.Payload = []byte(payload.String)
	}
	return it, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func nullPayload(p []byte) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(p), Valid: true}
}
