// Package registry provides background-service persistence using SQLite.
//
// The container runtime remains the source of truth for live state; the
// registry is the audit table that survives it, mapping each runtime-assigned
// container ID to its originating command, status history, and retry usage.
package registry

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Status represents the recorded state of a background service.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusFailed  Status = "failed"
	StatusRemoved Status = "removed"
)

// Service represents one background service launch.
type Service struct {
	ID          string    `json:"id"` // runtime-assigned container ID
	Command     string    `json:"command"`
	Image       string    `json:"image"`
	Status      Status    `json:"status"`
	RetriesUsed int       `json:"retries_used"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Event represents a single entry in a service's lifecycle history.
type Event struct {
	ID        int64     `json:"id"`
	ServiceID string    `json:"service_id"`
	Type      string    `json:"type"` // "created", "poll", "running", "failed", "stopped", "removed"
	Data      string    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

// Store manages service and event persistence in SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at the given path.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent read/write performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS services (
			id           TEXT PRIMARY KEY,
			command      TEXT NOT NULL,
			image        TEXT NOT NULL,
			status       TEXT NOT NULL DEFAULT 'pending',
			retries_used INTEGER NOT NULL DEFAULT 0,
			error        TEXT NOT NULL DEFAULT '',
			created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
			updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
		);

		CREATE TABLE IF NOT EXISTS service_events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			service_id TEXT NOT NULL,
			type       TEXT NOT NULL,
			data       TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT (datetime('now')),
			FOREIGN KEY (service_id) REFERENCES services(id)
		);

		CREATE INDEX IF NOT EXISTS idx_service_events_service_id
			ON service_events(service_id);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts a new service row.
func (s *Store) Create(svc *Service) error {
	if svc.Status == "" {
		svc.Status = StatusPending
	}
	_, err := s.db.Exec(
		`INSERT INTO services (id, command, image, status, retries_used, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		svc.ID, svc.Command, svc.Image, svc.Status, svc.RetriesUsed, svc.Error,
		svc.CreatedAt, svc.UpdatedAt,
	)
	return err
}

// Get retrieves a service by container ID.
func (s *Store) Get(id string) (*Service, error) {
	row := s.db.QueryRow(
		`SELECT id, command, image, status, retries_used, error, created_at, updated_at
		 FROM services WHERE id = ?`, id,
	)
	return scanService(row)
}

// List returns all services ordered by creation time (newest first).
func (s *Store) List() ([]*Service, error) {
	rows, err := s.db.Query(
		`SELECT id, command, image, status, retries_used, error, created_at, updated_at
		 FROM services ORDER BY created_at DESC, id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var services []*Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	return services, rows.Err()
}

// SetStatus updates a service's status, retry usage, and error message.
// Rows are never deleted; removal is recorded as StatusRemoved so the audit
// history outlives the container.
func (s *Store) SetStatus(id string, status Status, retriesUsed int, errMsg string) error {
	_, err := s.db.Exec(
		`UPDATE services SET status = ?, retries_used = ?, error = ?, updated_at = ?
		 WHERE id = ?`,
		status, retriesUsed, errMsg, time.Now().UTC(), id,
	)
	return err
}

// AddEvent appends an event to a service's history and returns its ID.
func (s *Store) AddEvent(event *Event) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	result, err := s.db.Exec(
		`INSERT INTO service_events (service_id, type, data, created_at)
		 VALUES (?, ?, ?, ?)`,
		event.ServiceID, event.Type, event.Data, event.CreatedAt,
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	event.ID = id
	return nil
}

// Events returns a service's history in insertion order.
func (s *Store) Events(serviceID string) ([]*Event, error) {
	rows, err := s.db.Query(
		`SELECT id, service_id, type, data, created_at
		 FROM service_events
		 WHERE service_id = ?
		 ORDER BY id ASC`,
		serviceID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		if err := rows.Scan(&e.ID, &e.ServiceID, &e.Type, &e.Data, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Scan helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanService(row scannable) (*Service, error) {
	svc := &Service{}
	err := row.Scan(
		&svc.ID, &svc.Command, &svc.Image, &svc.Status,
		&svc.RetriesUsed, &svc.Error, &svc.CreatedAt, &svc.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("service not found")
	}
	if err != nil {
		return nil, err
	}
	return svc, nil
}
