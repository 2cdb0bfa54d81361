// Package store persists processed agent data in SQLite.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/relvacode/iso8601"
	_ "modernc.org/sqlite"

	"road-telemetry-hub/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var ErrNotFound = errors.New("record not found")

// PersistenceError reports a failed storage operation. Batch inserts that
// fail are rolled back as a whole.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

const selectColumns = `id, road_state, user_id, x, y, z, latitude, longitude, timestamp, vehicle_count`

type Store struct {
	db *sql.DB
	// writeMu serializes writers; readers go straight to the pool.
	writeMu sync.Mutex
	now     func() time.Time
}

// Open opens (or creates) the database at path and applies the schema
// migrations. ":memory:" gives a private in-memory database.
func Open(path string) (*Store, error) {
	dsn := path
	memory := path == ":memory:" || strings.Contains(path, "mode=memory")
	if !memory {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if memory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, now: time.Now}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	// m is not closed: that would close the shared *sql.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Create inserts all items in one transaction and returns the stored rows.
// The timestamp of every row is assigned by the server.
func (s *Store) Create(ctx context.Context, items []models.ProcessedAgentData) ([]models.StoredRecord, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &PersistenceError{Op: "begin insert", Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO processed_agent_data
			(road_state, user_id, x, y, z, latitude, longitude, timestamp, vehicle_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, &PersistenceError{Op: "prepare insert", Err: err}
	}
	defer stmt.Close()

	out := make([]models.StoredRecord, 0, len(items))
	for _, item := range items {
		rec := models.NewStoredRecord(item, s.now().UTC())
		res, err := stmt.ExecContext(ctx, rec.RoadState, rec.UserID, rec.X, rec.Y, rec.Z,
			rec.Latitude, rec.Longitude, formatTime(rec.Timestamp), rec.VehicleCount)
		if err != nil {
			return nil, &PersistenceError{Op: "insert", Err: err}
		}
		if rec.ID, err = res.LastInsertId(); err != nil {
			return nil, &PersistenceError{Op: "insert", Err: err}
		}
		out = append(out, rec)
	}

	if err := tx.Commit(); err != nil {
		return nil, &PersistenceError{Op: "commit insert", Err: err}
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id int64) (models.StoredRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM processed_agent_data WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.StoredRecord{}, ErrNotFound
	}
	if err != nil {
		return models.StoredRecord{}, &PersistenceError{Op: "select", Err: err}
	}
	return rec, nil
}

func (s *Store) List(ctx context.Context) ([]models.StoredRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM processed_agent_data ORDER BY id`)
	if err != nil {
		return nil, &PersistenceError{Op: "list", Err: err}
	}
	defer rows.Close()

	out := []models.StoredRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, &PersistenceError{Op: "list", Err: err}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "list", Err: err}
	}
	return out, nil
}

// Update replaces the row with item. The stored timestamp is reset to now.
func (s *Store) Update(ctx context.Context, id int64, item models.ProcessedAgentData) (models.StoredRecord, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	rec := models.NewStoredRecord(item, s.now().UTC())
	rec.ID = id
	res, err := s.db.ExecContext(ctx, `
		UPDATE processed_agent_data
		SET road_state = ?, user_id = ?, x = ?, y = ?, z = ?,
			latitude = ?, longitude = ?, timestamp = ?, vehicle_count = ?
		WHERE id = ?`,
		rec.RoadState, rec.UserID, rec.X, rec.Y, rec.Z,
		rec.Latitude, rec.Longitude, formatTime(rec.Timestamp), rec.VehicleCount, id)
	if err != nil {
		return models.StoredRecord{}, &PersistenceError{Op: "update", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return models.StoredRecord{}, &PersistenceError{Op: "update", Err: err}
	}
	if n == 0 {
		return models.StoredRecord{}, ErrNotFound
	}
	return rec, nil
}

// Delete removes the row and returns it as it was before deletion.
func (s *Store) Delete(ctx context.Context, id int64) (models.StoredRecord, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.StoredRecord{}, &PersistenceError{Op: "begin delete", Err: err}
	}
	defer tx.Rollback()

	rec, err := scanRecord(tx.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM processed_agent_data WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.StoredRecord{}, ErrNotFound
	}
	if err != nil {
		return models.StoredRecord{}, &PersistenceError{Op: "delete", Err: err}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM processed_agent_data WHERE id = ?`, id); err != nil {
		return models.StoredRecord{}, &PersistenceError{Op: "delete", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return models.StoredRecord{}, &PersistenceError{Op: "commit delete", Err: err}
	}
	return rec, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (models.StoredRecord, error) {
	var (
		rec   models.StoredRecord
		state string
		ts    string
	)
	if err := row.Scan(&rec.ID, &state, &rec.UserID, &rec.X, &rec.Y, &rec.Z,
		&rec.Latitude, &rec.Longitude, &ts, &rec.VehicleCount); err != nil {
		return models.StoredRecord{}, err
	}
	rec.RoadState = models.RoadState(state)

	parsed, err := iso8601.ParseString(ts)
	if err != nil {
		return models.StoredRecord{}, fmt.Errorf("failed to parse timestamp %q: %w", ts, err)
	}
	rec.Timestamp = parsed
	return rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
