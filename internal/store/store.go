package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrStorageUnavailable marks engine-level faults (quota, corruption, locked
// database). Fatal to the in-flight operation, never to the process; callers
// detect it with errors.Is.
var ErrStorageUnavailable = errors.New("storage unavailable")

// storageErr wraps an engine error so errors.Is(err, ErrStorageUnavailable)
// holds, keeping the original text for the log.
func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStorageUnavailable, err)
}

// settingsKey is the constant primary key of the settings singleton row.
const settingsKey = "main"

// Store wraps the SQLite connection for items and settings.
type Store struct {
	conn *sql.DB
	path string
}

// Open opens (creating if needed) the database at path and brings its schema
// up to the current version. Opening is idempotent: a store already at the
// latest version is untouched, an older one is migrated strictly forward.
//
// The caller must Close the returned store.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, storageErr("ping", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to set %q: %w", pragma, err)
		}
	}

	s := &Store{conn: conn, path: path}
	if err := s.migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file path ("" for in-memory test stores).
func (s *Store) Path() string {
	return s.path
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	err := s.conn.Close()
	s.conn = nil
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// Destroy closes the store and removes the database files. Used by factory
// reset; a missing file is not an error.
func (s *Store) Destroy() error {
	path := s.path
	if err := s.Close(); err != nil {
		return err
	}
	if path == "" || path == ":memory:" {
		return nil
	}
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", p, err)
		}
	}
	return nil
}

// db returns the live connection, or an ErrStorageUnavailable error once the
// store has been closed. Every query path goes through it so a call after
// Close fails cleanly instead of dereferencing a nil connection.
func (s *Store) db() (*sql.DB, error) {
	if s.conn == nil {
		return nil, fmt.Errorf("store closed: %w", ErrStorageUnavailable)
	}
	return s.conn, nil
}

// KeyPath declares the primary-key shape of the items collection. The
// reconciliation engine derives its key-extraction function from this rather
// than hard-coding a field name, so composite keys keep working.
func (s *Store) KeyPath() []string {
	return []string{"id"}
}

// NewID mints a primary key under the current key policy: a random hex
// string. First-generation stores keyed items by Date-based integers; those
// ids remain valid TEXT keys and round-trip through export unchanged.
func (s *Store) NewID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		// rand.Read failing is effectively fatal elsewhere; fall back to the
		// legacy time-based policy rather than returning an empty key.
		return fmt.Sprintf("%d", time.Now().UnixMilli())
	}
	return hex.EncodeToString(buf)
}

// Put upserts an item by primary key.
func (s *Store) Put(ctx context.Context, item *Item) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("invalid item: %w", err)
	}
	conn, err := s.db()
	if err != nil {
		return err
	}
	if err := s.execPut(ctx, conn, item); err != nil {
		return storageErr("put item "+item.ID, err)
	}
	return nil
}

// execer covers both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execPut(ctx context.Context, ex execer, item *Item) error {
	query := `
	INSERT INTO items (
		id, name, category, location, opened_at, created_at,
		expires_at, target_days, status, barcode, image_url
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		category = excluded.category,
		location = excluded.location,
		opened_at = excluded.opened_at,
		created_at = excluded.created_at,
		expires_at = excluded.expires_at,
		target_days = excluded.target_days,
		status = excluded.status,
		barcode = excluded.barcode,
		image_url = excluded.image_url
	`
	_, err := ex.ExecContext(ctx, query,
		item.ID,
		item.Name,
		string(item.Category),
		string(item.Location),
		item.OpenedAt,
		item.CreatedAt,
		item.ExpiresAt,
		item.TargetDays,
		string(item.Status),
		item.Barcode,
		item.ImageURL,
	)
	return err
}

const itemColumns = `id, name, category, location, opened_at, created_at,
	       expires_at, target_days, status, barcode, image_url`

// Get returns the item with the given id, or (nil, nil) when absent.
func (s *Store) Get(ctx context.Context, id string) (*Item, error) {
	conn, err := s.db()
	if err != nil {
		return nil, err
	}
	row := conn.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get item "+id, err)
	}
	return item, nil
}

// Delete removes an item. Deleting a missing id is a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	conn, err := s.db()
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id); err != nil {
		return storageErr("delete item "+id, err)
	}
	return nil
}

// SetStatus archives an active item as eaten or thrown. Archival is one-way:
// an already archived item is left untouched, and Put is the only path that
// rewrites an archived status. A missing id is a silent no-op: callers must
// not assume the record existed.
func (s *Store) SetStatus(ctx context.Context, id string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	conn, err := s.db()
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx,
		`UPDATE items SET status = ? WHERE id = ? AND status = ?`,
		string(status), id, string(StatusActive)); err != nil {
		return storageErr("set status "+id, err)
	}
	return nil
}

// ListActive returns active items ordered by expiry, soonest first.
func (s *Store) ListActive(ctx context.Context) ([]*Item, error) {
	conn, err := s.db()
	if err != nil {
		return nil, err
	}
	rows, err := conn.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE status = ? ORDER BY expires_at ASC, id ASC`,
		string(StatusActive))
	if err != nil {
		return nil, storageErr("list active items", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// ListAll returns every item, archived history included, ordered by creation.
func (s *Store) ListAll(ctx context.Context) ([]*Item, error) {
	conn, err := s.db()
	if err != nil {
		return nil, err
	}
	rows, err := conn.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, storageErr("list items", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// ReplaceItems clears the items collection and writes the given set inside
// one transaction, so no reader ever observes the empty intermediate state.
// Returns the number of items written.
func (s *Store) ReplaceItems(ctx context.Context, items []*Item) (int, error) {
	conn, err := s.db()
	if err != nil {
		return 0, err
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("replace items: begin", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM items`); err != nil {
		return 0, storageErr("replace items: clear", err)
	}

	written := 0
	for _, item := range items {
		if err := item.Validate(); err != nil {
			return 0, fmt.Errorf("invalid item %s: %w", item.ID, err)
		}
		if err := s.execPut(ctx, tx, item); err != nil {
			return 0, storageErr("replace items: put "+item.ID, err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, storageErr("replace items: commit", err)
	}
	return written, nil
}

// CountByStatus returns item counts grouped by status.
func (s *Store) CountByStatus(ctx context.Context) (map[Status]int, error) {
	conn, err := s.db()
	if err != nil {
		return nil, err
	}
	rows, err := conn.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM items GROUP BY status`)
	if err != nil {
		return nil, storageErr("count items", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating counts: %w", err)
	}
	return counts, nil
}

// ComputeStats aggregates consumption statistics over archived items.
func (s *Store) ComputeStats(ctx context.Context) (*Stats, error) {
	counts, err := s.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	stats := &Stats{
		Active:   counts[StatusActive],
		Consumed: counts[StatusEaten],
		Thrown:   counts[StatusThrown],
	}
	if done := stats.Consumed + stats.Thrown; done > 0 {
		stats.SuccessRate = float64(stats.Consumed) / float64(done)
	}
	return stats, nil
}

// ExpiryCounts buckets active items by urgency at the given instant. Soon
// covers items from one day past their expiry to two days before it, Late
// anything older than that day of grace. Items without an expiry are
// ignored. A notification layer renders the counts; the store only counts.
type ExpiryCounts struct {
	Soon int `json:"soon"`
	Late int `json:"late"`
}

func (s *Store) ExpiryCounts(ctx context.Context, now time.Time) (ExpiryCounts, error) {
	conn, err := s.db()
	if err != nil {
		return ExpiryCounts{}, err
	}
	ref := now.UnixMilli()
	var counts ExpiryCounts
	err = conn.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN expires_at - ? BETWEEN ? AND ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN expires_at - ? < ? THEN 1 ELSE 0 END), 0)
		FROM items WHERE status = ? AND expires_at > 0`,
		ref, -millisPerDay, 2*millisPerDay,
		ref, -millisPerDay,
		string(StatusActive)).Scan(&counts.Soon, &counts.Late)
	if err != nil {
		return ExpiryCounts{}, storageErr("expiry counts", err)
	}
	return counts, nil
}

// GetSettings returns the settings singleton, seeding it with built-in
// defaults if it does not exist yet. Never returns absence.
//
// Seeding uses INSERT OR IGNORE followed by a re-read so two concurrent
// first accesses cannot race into duplicate rows.
func (s *Store) GetSettings(ctx context.Context) (*Settings, error) {
	conn, err := s.db()
	if err != nil {
		return nil, err
	}
	seed, err := encodeSettings(DefaultSettings())
	if err != nil {
		return nil, err
	}
	if _, err := conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO settings (id, doc) VALUES (?, ?)`,
		settingsKey, seed); err != nil {
		return nil, storageErr("seed settings", err)
	}

	var doc string
	err = conn.QueryRowContext(ctx,
		`SELECT doc FROM settings WHERE id = ?`, settingsKey).Scan(&doc)
	if err != nil {
		return nil, storageErr("get settings", err)
	}

	var settings Settings
	if err := json.Unmarshal([]byte(doc), &settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings row: %w", err)
	}
	return &settings, nil
}

// SaveSettings merges the patch over the current settings, stamps UpdatedAt
// and writes the full document back in one replace write. Field-level
// upserts are deliberately avoided so a partial write can never leave a
// half-merged row.
func (s *Store) SaveSettings(ctx context.Context, patch SettingsPatch) (*Settings, error) {
	current, err := s.GetSettings(ctx)
	if err != nil {
		return nil, err
	}

	merged := *current
	if patch.NotificationsEnabled != nil {
		merged.NotificationsEnabled = *patch.NotificationsEnabled
	}
	if patch.DefaultLocation != nil {
		merged.DefaultLocation = *patch.DefaultLocation
	}
	if patch.DefaultTargetDays != nil {
		merged.DefaultTargetDays = *patch.DefaultTargetDays
	}
	if patch.DefaultDaysByCategory != nil {
		merged.DefaultDaysByCategory = patch.DefaultDaysByCategory
	}

	if err := s.writeSettings(ctx, &merged); err != nil {
		return nil, err
	}
	return &merged, nil
}

// ReplaceSettings overwrites the settings document wholesale. Import uses
// this instead of SaveSettings so a snapshot's settings are not merged with
// local ones.
func (s *Store) ReplaceSettings(ctx context.Context, settings Settings) error {
	return s.writeSettings(ctx, &settings)
}

func (s *Store) writeSettings(ctx context.Context, settings *Settings) error {
	conn, err := s.db()
	if err != nil {
		return err
	}
	settings.UpdatedAt = nowMillis()
	doc, err := encodeSettings(*settings)
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx,
		`INSERT INTO settings (id, doc) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET doc = excluded.doc`,
		settingsKey, doc); err != nil {
		return storageErr("save settings", err)
	}
	return nil
}

func encodeSettings(settings Settings) (string, error) {
	doc, err := json.Marshal(settings)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settings: %w", err)
	}
	return string(doc), nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*Item, error) {
	var item Item
	var category, location, status string
	var barcode, imageURL sql.NullString
	var expiresAt, targetDays sql.NullInt64

	err := row.Scan(
		&item.ID,
		&item.Name,
		&category,
		&location,
		&item.OpenedAt,
		&item.CreatedAt,
		&expiresAt,
		&targetDays,
		&status,
		&barcode,
		&imageURL,
	)
	if err != nil {
		return nil, err
	}

	item.Category = Category(category)
	item.Location = Location(location)
	item.Status = Status(status)
	item.ExpiresAt = expiresAt.Int64
	item.TargetDays = int(targetDays.Int64)
	item.Barcode = barcode.String
	item.ImageURL = imageURL.String
	return &item, nil
}

func scanItems(rows *sql.Rows) ([]*Item, error) {
	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating items: %w", err)
	}
	return items, nil
}
