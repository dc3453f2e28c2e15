package kv

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/treesync/internal/ir"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on changes(area, seq) for feed polling
const currentSchemaVersion = 1

// DefaultPollInterval is how often a subscription polls the change log.
const DefaultPollInterval = 50 * time.Millisecond

// SQLiteBackend is a Backend in a SQLite file that several processes can
// open at once. Writes append to a change log in the same transaction; each
// subscription polls that log and delivers one ChangeSet per write call.
type SQLiteBackend struct {
	db           *sql.DB
	pollInterval time.Duration

	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed bool
}

// SQLiteOption configures OpenSQLite.
type SQLiteOption func(*SQLiteBackend)

// WithPollInterval sets the change-log polling interval.
func WithPollInterval(d time.Duration) SQLiteOption {
	return func(b *SQLiteBackend) {
		if d > 0 {
			b.pollInterval = d
		}
	}
}

// OpenSQLite creates or opens a SQLite database at path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode so readers in other processes do not block the writer
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention between processes
//
// This function is idempotent - safe to call multiple times.
func OpenSQLite(path string, opts ...SQLiteOption) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	b := &SQLiteBackend{
		db:           db,
		pollInterval: DefaultPollInterval,
		subs:         make(map[*subscription]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Close stops every subscription and closes the database.
func (b *SQLiteBackend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.subs = nil
	b.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
	return b.db.Close()
}

// Area implements Backend.
func (b *SQLiteBackend) Area(name string) (Store, error) {
	if err := checkArea(name); err != nil {
		return nil, err
	}
	return &sqliteArea{backend: b, area: name}, nil
}

// Snapshot returns every entry in area.
func (b *SQLiteBackend) Snapshot(ctx context.Context, area string) (map[string]ir.Value, error) {
	s, err := b.Area(area)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, nil)
}

// ChangeCount returns how many rows the change log holds for area.
func (b *SQLiteBackend) ChangeCount(ctx context.Context, area string) (int64, error) {
	var n int64
	err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM changes WHERE area = ?`, area).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count changes: %w", err)
	}
	return n, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_changes_area_seq ON changes(area, seq)`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) schemaVersion() (int, error) {
	var version int
	err := b.db.QueryRow("PRAGMA user_version").Scan(&version)
	return version, err
}

// sqliteArea is one storage area of a SQLiteBackend.
type sqliteArea struct {
	backend *SQLiteBackend
	area    string
}

// Get implements Store.
func (a *sqliteArea) Get(ctx context.Context, keys []string) (map[string]ir.Value, error) {
	query := `SELECT key, value FROM entries WHERE area = ?`
	args := []any{a.area}
	if keys != nil {
		if len(keys) == 0 {
			return map[string]ir.Value{}, nil
		}
		query += ` AND key IN (?` + strings.Repeat(`, ?`, len(keys)-1) + `)`
		for _, k := range keys {
			args = append(args, k)
		}
	}
	query += ` ORDER BY key COLLATE BINARY`

	rows, err := a.backend.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get entries: %w", err)
	}
	defer rows.Close()

	out := make(map[string]ir.Value)
	for rows.Next() {
		var key, text string
		if err := rows.Scan(&key, &text); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		v, err := ir.ParseValue([]byte(text))
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", key, err)
		}
		out[key] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return out, nil
}

// Set implements Store.
func (a *sqliteArea) Set(ctx context.Context, items map[string]ir.Value) error {
	if err := checkItems(items); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	encoded := make(map[string]*string, len(items))
	for k, v := range items {
		if ir.IsAbsent(v) {
			encoded[k] = nil
			continue
		}
		data, err := ir.MarshalCanonical(v)
		if err != nil {
			return fmt.Errorf("set %q: %w", k, err)
		}
		text := string(data)
		encoded[k] = &text
	}
	return a.write(ctx, encoded)
}

// Remove implements Store.
func (a *sqliteArea) Remove(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	encoded := make(map[string]*string, len(keys))
	for _, k := range keys {
		encoded[k] = nil
	}
	return a.write(ctx, encoded)
}

// write applies items (nil deletes) and logs one change row per key, all
// under a single batch id and transaction.
func (a *sqliteArea) write(ctx context.Context, items map[string]*string) error {
	batchID := uuid.Must(uuid.NewV7()).String()

	tx, err := a.backend.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, key := range keys {
		var old sql.NullString
		err := tx.QueryRowContext(ctx,
			`SELECT value FROM entries WHERE area = ? AND key = ?`, a.area, key,
		).Scan(&old)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("write %q: read old value: %w", key, err)
		}

		next := items[key]
		if next == nil {
			_, err = tx.ExecContext(ctx, `DELETE FROM entries WHERE area = ? AND key = ?`, a.area, key)
		} else {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO entries (area, key, value) VALUES (?, ?, ?)
				ON CONFLICT(area, key) DO UPDATE SET value = excluded.value
			`, a.area, key, *next)
		}
		if err != nil {
			return fmt.Errorf("write %q: %w", key, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO changes (batch_id, area, key, old_value, new_value)
			VALUES (?, ?, ?, ?, ?)
		`, batchID, a.area, key, old, nullString(next))
		if err != nil {
			return fmt.Errorf("write %q: log change: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write: commit: %w", err)
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// Subscribe implements Store. Only changes committed after Subscribe
// returns are delivered.
//
// TODO: prune change rows once every live subscription has read past them;
// the log currently grows for the life of the database file.
func (a *sqliteArea) Subscribe(fn func(ChangeSet)) (cancel func()) {
	s := &subscription{
		backend: a.backend,
		area:    a.area,
		fn:      fn,
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}

	b := a.backend
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	if err := s.init(context.Background()); err != nil {
		slog.Warn("change feed: initial position unavailable, retrying",
			"area", a.area,
			"error", err,
		)
	}

	go s.run()

	return func() {
		b.mu.Lock()
		if b.subs != nil {
			delete(b.subs, s)
		}
		b.mu.Unlock()
		s.stop()
	}
}

// subscription polls the change log of one area.
type subscription struct {
	backend *SQLiteBackend
	area    string
	fn      func(ChangeSet)

	lastSeq int64
	ready   bool

	once   sync.Once
	done   chan struct{}
	exited chan struct{}
}

func (s *subscription) init(ctx context.Context) error {
	var seq sql.NullInt64
	err := s.backend.db.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM changes WHERE area = ?`, s.area,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("read feed position: %w", err)
	}
	s.lastSeq = seq.Int64
	s.ready = true
	return nil
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
	<-s.exited
}

func (s *subscription) run() {
	defer close(s.exited)

	ticker := time.NewTicker(s.backend.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		if !s.ready {
			if err := s.init(context.Background()); err != nil {
				slog.Warn("change feed: initial position unavailable, retrying",
					"area", s.area,
					"error", err,
				)
				continue
			}
		}

		if err := s.poll(context.Background()); err != nil {
			slog.Warn("change feed: poll failed",
				"area", s.area,
				"error", err,
			)
		}
	}
}

// poll delivers every complete batch logged after lastSeq, oldest first.
func (s *subscription) poll(ctx context.Context) error {
	rows, err := s.backend.db.QueryContext(ctx, `
		SELECT seq, batch_id, key, old_value, new_value
		FROM changes
		WHERE area = ? AND seq > ?
		ORDER BY seq ASC
	`, s.area, s.lastSeq)
	if err != nil {
		return fmt.Errorf("query changes: %w", err)
	}

	type batch struct {
		id      string
		lastSeq int64
		changes ChangeSet
	}
	var batches []*batch

	for rows.Next() {
		var (
			seq      int64
			batchID  string
			key      string
			oldValue sql.NullString
			newValue sql.NullString
		)
		if err := rows.Scan(&seq, &batchID, &key, &oldValue, &newValue); err != nil {
			rows.Close()
			return fmt.Errorf("scan change: %w", err)
		}

		change, err := decodeChange(oldValue, newValue)
		if err != nil {
			rows.Close()
			return fmt.Errorf("change %d (%q): %w", seq, key, err)
		}

		if len(batches) == 0 || batches[len(batches)-1].id != batchID {
			batches = append(batches, &batch{id: batchID, changes: make(ChangeSet)})
		}
		cur := batches[len(batches)-1]
		cur.changes[key] = change
		cur.lastSeq = seq
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate changes: %w", err)
	}
	rows.Close()

	// Rows of one batch are committed together, so every batch read here
	// is complete.
	for _, b := range batches {
		select {
		case <-s.done:
			return nil
		default:
		}
		s.fn(b.changes)
		s.lastSeq = b.lastSeq
	}
	return nil
}

func decodeChange(oldValue, newValue sql.NullString) (Change, error) {
	var c Change
	if oldValue.Valid {
		v, err := ir.ParseValue([]byte(oldValue.String))
		if err != nil {
			return Change{}, fmt.Errorf("old value: %w", err)
		}
		c.OldValue = v
	}
	if newValue.Valid {
		v, err := ir.ParseValue([]byte(newValue.String))
		if err != nil {
			return Change{}, fmt.Errorf("new value: %w", err)
		}
		c.NewValue = v
	}
	return c, nil
}
