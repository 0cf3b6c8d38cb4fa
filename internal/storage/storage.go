// Package storage provides SQLite-backed persistence for monitors and their notifications.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/airwatch/internal/models"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DefaultMaxNotifications is the per-monitor notification retention bound.
const DefaultMaxNotifications = 100

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db               *sql.DB
	maxNotifications int
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/airwatch/data.db.
func New(maxNotifications int, dbPath string) (*Storage, error) {
	if maxNotifications < 1 {
		maxNotifications = DefaultMaxNotifications
	}
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "airwatch", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; every transaction is serialized
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	s := &Storage{db: db, maxNotifications: maxNotifications}
	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return storageErr("ping database", err)
	}
	return nil
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS monitors (
			id            TEXT PRIMARY KEY,
			owner_id      TEXT NOT NULL,
			location_name TEXT NOT NULL,
			latitude      REAL NOT NULL,
			longitude     REAL NOT NULL,
			active        INTEGER NOT NULL DEFAULT 1,
			last_reading  TEXT,
			version       INTEGER NOT NULL DEFAULT 0,
			created_at    INTEGER NOT NULL,
			updated_at    INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			id          TEXT NOT NULL UNIQUE,
			monitor_id  TEXT NOT NULL REFERENCES monitors(id) ON DELETE CASCADE,
			metric      TEXT NOT NULL,
			change_type TEXT NOT NULL,
			old_value   TEXT NOT NULL,
			new_value   TEXT NOT NULL,
			message     TEXT NOT NULL,
			is_read     INTEGER NOT NULL DEFAULT 0,
			created_at  INTEGER NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_monitors_one_active
			ON monitors(owner_id, location_name) WHERE active = 1`,
		`CREATE INDEX IF NOT EXISTS idx_monitors_owner ON monitors(owner_id, active)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_monitor ON notifications(monitor_id, seq)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Create persists a new active monitor seeded with reading, which may be nil.
// It returns models.ErrConflict when the owner already has an active monitor
// for locationName.
func (s *Storage) Create(ctx context.Context, ownerID, locationName string, coords models.Coordinates, seed *models.Reading) (*models.Monitor, error) {
	now := time.Now()
	m := &models.Monitor{
		ID:            uuid.New().String(),
		OwnerID:       ownerID,
		LocationName:  locationName,
		Coordinates:   coords,
		Active:        true,
		LastReading:   seed,
		Notifications: []models.Notification{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrInvalid, err)
	}
	readingJSON, err := marshalReading(seed)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("begin transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var existing int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM monitors WHERE owner_id = ? AND location_name = ? AND active = 1`,
		ownerID, locationName,
	).Scan(&existing); err != nil {
		return nil, storageErr("check active monitor", err)
	}
	if existing > 0 {
		return nil, fmt.Errorf("%w: active monitor exists for %q", models.ErrConflict, locationName)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO monitors
			(id, owner_id, location_name, latitude, longitude, active, last_reading, created_at, updated_at)
		VALUES (?,?,?,?,?,1,?,?,?)`,
		m.ID, m.OwnerID, m.LocationName, m.Coordinates.Latitude, m.Coordinates.Longitude,
		readingJSON, now.UnixNano(), now.UnixNano(),
	)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: active monitor exists for %q", models.ErrConflict, locationName)
	}
	if err != nil {
		return nil, storageErr("insert monitor", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, storageErr("commit monitor", err)
	}
	return m, nil
}

// FindActiveByOwnerAndLocation returns the active monitor for the pair, or nil
// when there is none.
func (s *Storage) FindActiveByOwnerAndLocation(ctx context.Context, ownerID, locationName string) (*models.Monitor, error) {
	var found *models.Monitor
	err := s.readTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT `+monitorCols+` FROM monitors WHERE owner_id = ? AND location_name = ? AND active = 1`,
			ownerID, locationName)
		m, err := scanMonitor(row.Scan)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return storageErr("get monitor", err)
		}
		if err := attachNotifications(ctx, tx, []*models.Monitor{m}, "id", m.ID); err != nil {
			return err
		}
		found = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// Get returns the monitor with id owned by ownerID, including notifications.
func (s *Storage) Get(ctx context.Context, id, ownerID string) (*models.Monitor, error) {
	var found *models.Monitor
	err := s.readTx(ctx, func(tx *sql.Tx) error {
		var err error
		found, err = getOwned(ctx, tx, id, ownerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// ListActive returns every active monitor. Notifications are not loaded.
func (s *Storage) ListActive(ctx context.Context) ([]*models.Monitor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+monitorCols+` FROM monitors WHERE active = 1`)
	if err != nil {
		return nil, storageErr("query active monitors", err)
	}
	defer rows.Close()

	monitors := []*models.Monitor{}
	for rows.Next() {
		m, err := scanMonitor(rows.Scan)
		if err != nil {
			return nil, storageErr("scan monitor", err)
		}
		monitors = append(monitors, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate monitors", err)
	}
	return monitors, nil
}

// ListByOwner returns all of the owner's monitors, active or not, newest first,
// with their notifications in chronological order.
func (s *Storage) ListByOwner(ctx context.Context, ownerID string) ([]*models.Monitor, error) {
	monitors := []*models.Monitor{}
	err := s.readTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT `+monitorCols+` FROM monitors WHERE owner_id = ? ORDER BY created_at DESC, rowid DESC`,
			ownerID)
		if err != nil {
			return storageErr("query monitors", err)
		}
		for rows.Next() {
			m, err := scanMonitor(rows.Scan)
			if err != nil {
				rows.Close()
				return storageErr("scan monitor", err)
			}
			monitors = append(monitors, m)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return storageErr("iterate monitors", err)
		}
		rows.Close()
		return attachNotifications(ctx, tx, monitors, "owner_id", ownerID)
	})
	if err != nil {
		return nil, err
	}
	return monitors, nil
}

// Deactivate soft-stops a monitor. Stopping an inactive monitor is a no-op.
func (s *Storage) Deactivate(ctx context.Context, id, ownerID string) (*models.Monitor, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("begin transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`UPDATE monitors SET active = 0, updated_at = ? WHERE id = ? AND owner_id = ? AND active = 1`,
		time.Now().UnixNano(), id, ownerID); err != nil {
		return nil, storageErr("deactivate monitor", err)
	}

	m, err := getOwned(ctx, tx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, storageErr("commit deactivation", err)
	}
	return m, nil
}

// RecordCheck stores reading as the monitor's last reading and appends
// notifications, keeping only the newest maxNotifications. All of it commits
// together or not at all.
func (s *Storage) RecordCheck(ctx context.Context, monitorID string, reading *models.Reading, notifications []models.Notification) error {
	return s.recordCheck(ctx, monitorID, nil, reading, notifications)
}

// RecordCheckIfUnchanged is RecordCheck guarded by the Version the monitor had
// when it was read. If another check was recorded since, nothing is written
// and models.ErrStale is returned.
func (s *Storage) RecordCheckIfUnchanged(ctx context.Context, monitorID string, version int64, reading *models.Reading, notifications []models.Notification) error {
	return s.recordCheck(ctx, monitorID, &version, reading, notifications)
}

func (s *Storage) recordCheck(ctx context.Context, monitorID string, version *int64, reading *models.Reading, notifications []models.Notification) error {
	if reading == nil {
		return fmt.Errorf("%w: reading must not be nil", models.ErrInvalid)
	}
	readingJSON, err := marshalReading(reading)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck

	query := `UPDATE monitors SET last_reading = ?, updated_at = ?, version = version + 1 WHERE id = ?`
	args := []any{readingJSON, time.Now().UnixNano(), monitorID}
	if version != nil {
		query += ` AND version = ?`
		args = append(args, *version)
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return storageErr("update last reading", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM monitors WHERE id = ?`, monitorID,
		).Scan(&exists); err != nil {
			return storageErr("check monitor", err)
		}
		if exists > 0 && version != nil {
			return fmt.Errorf("%w: monitor %s changed since version %d", models.ErrStale, monitorID, *version)
		}
		return fmt.Errorf("%w: monitor %s", models.ErrNotFound, monitorID)
	}

	for _, n := range notifications {
		oldJSON, err := json.Marshal(n.OldValue)
		if err != nil {
			return fmt.Errorf("failed to marshal old value: %w", err)
		}
		newJSON, err := json.Marshal(n.NewValue)
		if err != nil {
			return fmt.Errorf("failed to marshal new value: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO notifications
				(id, monitor_id, metric, change_type, old_value, new_value, message, is_read, created_at)
			VALUES (?,?,?,?,?,?,?,?,?)`,
			n.ID, monitorID, string(n.Metric), string(n.ChangeType),
			string(oldJSON), string(newJSON), n.Message, boolToInt(n.Read), n.Timestamp.UnixNano(),
		); err != nil {
			return storageErr("insert notification", err)
		}
	}

	if len(notifications) > 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM notifications WHERE monitor_id = ? AND seq NOT IN (
				SELECT seq FROM notifications WHERE monitor_id = ? ORDER BY seq DESC LIMIT ?
			)`, monitorID, monitorID, s.maxNotifications); err != nil {
			return storageErr("enforce notification cap", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit check", err)
	}
	return nil
}

// MarkRead marks one notification read. Marking a read notification is a no-op.
func (s *Storage) MarkRead(ctx context.Context, monitorID, ownerID, notificationID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var owned int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM monitors WHERE id = ? AND owner_id = ?`, monitorID, ownerID,
	).Scan(&owned); err != nil {
		return storageErr("check monitor", err)
	}
	if owned == 0 {
		return fmt.Errorf("%w: monitor %s", models.ErrNotFound, monitorID)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1 WHERE id = ? AND monitor_id = ?`,
		notificationID, monitorID)
	if err != nil {
		return storageErr("mark notification read", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: notification %s", models.ErrNotFound, notificationID)
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit mark read", err)
	}
	return nil
}

// MarkAllRead marks every notification of every monitor the owner has read.
func (s *Storage) MarkAllRead(ctx context.Context, ownerID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET is_read = 1
		WHERE is_read = 0 AND monitor_id IN (SELECT id FROM monitors WHERE owner_id = ?)`,
		ownerID)
	if err != nil {
		return storageErr("mark all notifications read", err)
	}
	return nil
}

// readTx runs fn in a transaction that is always rolled back, giving fn a
// consistent view across several queries.
func (s *Storage) readTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck
	return fn(tx)
}

func getOwned(ctx context.Context, tx *sql.Tx, id, ownerID string) (*models.Monitor, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+monitorCols+` FROM monitors WHERE id = ? AND owner_id = ?`, id, ownerID)
	m, err := scanMonitor(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: monitor %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, storageErr("get monitor", err)
	}
	if err := attachNotifications(ctx, tx, []*models.Monitor{m}, "id", m.ID); err != nil {
		return nil, err
	}
	return m, nil
}

// attachNotifications loads notifications for monitors selected by
// monitors.<column> = value. column is always a constant from this file.
func attachNotifications(ctx context.Context, tx *sql.Tx, monitors []*models.Monitor, column string, value string) error {
	byID := make(map[string]*models.Monitor, len(monitors))
	for _, m := range monitors {
		m.Notifications = []models.Notification{}
		byID[m.ID] = m
	}
	if len(monitors) == 0 {
		return nil
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT n.monitor_id, n.id, n.metric, n.change_type, n.old_value, n.new_value,
		       n.message, n.is_read, n.created_at
		FROM notifications n JOIN monitors m ON m.id = n.monitor_id
		WHERE m.`+column+` = ?
		ORDER BY n.seq`, value)
	if err != nil {
		return storageErr("query notifications", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			monitorID, metric, changeType, oldJSON, newJSON string
			n                                               models.Notification
			read                                            int
			createdAtNano                                   int64
		)
		if err := rows.Scan(&monitorID, &n.ID, &metric, &changeType, &oldJSON, &newJSON,
			&n.Message, &read, &createdAtNano); err != nil {
			return storageErr("scan notification", err)
		}
		if err := json.Unmarshal([]byte(oldJSON), &n.OldValue); err != nil {
			return fmt.Errorf("failed to unmarshal old value: %w", err)
		}
		if err := json.Unmarshal([]byte(newJSON), &n.NewValue); err != nil {
			return fmt.Errorf("failed to unmarshal new value: %w", err)
		}
		n.Metric = models.Metric(metric)
		n.ChangeType = models.ChangeType(changeType)
		n.Read = read != 0
		n.Timestamp = time.Unix(0, createdAtNano)

		if m, ok := byID[monitorID]; ok {
			m.Notifications = append(m.Notifications, n)
		}
	}
	if err := rows.Err(); err != nil {
		return storageErr("iterate notifications", err)
	}
	return nil
}

const monitorCols = `id, owner_id, location_name, latitude, longitude, active, last_reading,
	version, created_at, updated_at`

func scanMonitor(scan func(...any) error) (*models.Monitor, error) {
	var m models.Monitor
	var active int
	var readingJSON sql.NullString
	var createdAtNano, updatedAtNano int64
	err := scan(
		&m.ID, &m.OwnerID, &m.LocationName, &m.Coordinates.Latitude, &m.Coordinates.Longitude,
		&active, &readingJSON, &m.Version, &createdAtNano, &updatedAtNano,
	)
	if err != nil {
		return nil, err
	}
	if readingJSON.Valid {
		var r models.Reading
		if err := json.Unmarshal([]byte(readingJSON.String), &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal last reading: %w", err)
		}
		m.LastReading = &r
	}
	m.Active = active != 0
	m.CreatedAt = time.Unix(0, createdAtNano)
	m.UpdatedAt = time.Unix(0, updatedAtNano)
	return &m, nil
}

func marshalReading(r *models.Reading) (sql.NullString, error) {
	if r == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal reading: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %w", models.ErrStorage, op, err)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
