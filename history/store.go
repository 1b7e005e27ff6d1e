// Package history - SQLite persistence of accepted detections.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/khactrung2406/Do-An-Tot-Nghiep/images"
)

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 50

// Record is one accepted detection.
type Record struct {
	ID          int64       `json:"id"`
	Species     string      `json:"species"`
	Label       string      `json:"label"`
	Score       float32     `json:"score"`
	Box         images.Rect `json:"box"`
	ImageWidth  int         `json:"image_width"`
	ImageHeight int         `json:"image_height"`
	// Source is where the image came from: a file path or an upload name.
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter narrows List results.
type Filter struct {
	Species string
	Limit   int
	Offset  int
}

// Store handles SQLite operations.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens or creates the database at path and migrates the schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS detections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		species TEXT NOT NULL,
		label TEXT NOT NULL,
		score REAL NOT NULL,
		x1 REAL NOT NULL,
		y1 REAL NOT NULL,
		x2 REAL NOT NULL,
		y2 REAL NOT NULL,
		image_width INTEGER DEFAULT 0,
		image_height INTEGER DEFAULT 0,
		source TEXT DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_detections_species ON detections(species);
	CREATE INDEX IF NOT EXISTS idx_detections_created_at ON detections(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Insert stores a record and sets its ID. A zero CreatedAt is set to the current time.
func (s *Store) Insert(ctx context.Context, r *Record) (int64, error) {
	if r.Species == "" {
		return 0, fmt.Errorf("record has no species")
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO detections (species, label, score, x1, y1, x2, y2, image_width, image_height, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.Species, r.Label, r.Score, r.Box.X1, r.Box.Y1, r.Box.X2, r.Box.Y2,
		r.ImageWidth, r.ImageHeight, r.Source, r.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert detection: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	r.ID = id
	return id, nil
}

// List returns records newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Record, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	query := `
		SELECT id, species, label, score, x1, y1, x2, y2, image_width, image_height, source, created_at
		FROM detections`
	var args []interface{}
	if f.Species != "" {
		query += ` WHERE species = ?`
		args = append(args, f.Species)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, f.Limit, f.Offset)

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Species, &r.Label, &r.Score,
			&r.Box.X1, &r.Box.Y1, &r.Box.X2, &r.Box.Y2,
			&r.ImageWidth, &r.ImageHeight, &r.Source, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// CountBySpecies returns how many records exist per species.
func (s *Store) CountBySpecies(ctx context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT species, COUNT(*) FROM detections GROUP BY species`)
	if err != nil {
		return nil, fmt.Errorf("failed to count detections: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var species string
		var n int
		if err := rows.Scan(&species, &n); err != nil {
			return nil, err
		}
		counts[species] = n
	}
	return counts, rows.Err()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
