// Package rundb keeps a SQLite log of every frame the simulator publishes or
// saves, with the ground-truth pose that produced it.
package rundb

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/WVU-ASEL/glidar/pkg/wire"
)

// Frame kinds.
const (
	KindPublished = "published"
	KindSaved     = "saved"
)

// ErrNotFound is returned by Get for an unknown frame id.
var ErrNotFound = errors.New("rundb: frame not found")

const schema = `
CREATE TABLE IF NOT EXISTS frames (
	frame_id    TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL,
	timestamp   INTEGER NOT NULL,
	kind        TEXT NOT NULL,
	pose_json   TEXT NOT NULL,
	near        REAL NOT NULL,
	far         REAL NOT NULL,
	points      INTEGER NOT NULL,
	pcd_path    TEXT,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_frames_run ON frames (run_id, timestamp);
`

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
}

// Frame is one logged frame.
type Frame struct {
	FrameID   string              `json:"frame_id"`
	RunID     string              `json:"run_id"`
	Timestamp uint64              `json:"timestamp"`
	Kind      string              `json:"kind"`
	Pose      wire.PoseComponents `json:"-"`
	Near      float64             `json:"near"`
	Far       float64             `json:"far"`
	Points    int                 `json:"points"`
	PCDPath   string              `json:"pcd_path,omitempty"`
	CreatedAt int64               `json:"created_at"`
}

// poseJSON is the stored form of the three pose parts.
type poseJSON struct {
	Object      [4]float64 `json:"object"`
	Translation [3]float64 `json:"translation"`
	Sensor      [4]float64 `json:"sensor"`
}

// Store persists frames.
type Store struct {
	db *sql.DB
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.New().String()
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open run log %s: %w", path, err)
	}
	// One writer; also keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q: %w", p, err)
		}
	}
	s, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database and creates the frames table if needed.
func New(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("apply run log schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert persists f. Empty FrameID and zero CreatedAt are filled in.
func (s *Store) Insert(f *Frame) error {
	if f.RunID == "" {
		return fmt.Errorf("insert frame: missing run id")
	}
	if f.FrameID == "" {
		f.FrameID = uuid.New().String()
	}
	if f.CreatedAt == 0 {
		f.CreatedAt = time.Now().UnixNano()
	}
	pose, err := json.Marshal(poseJSON{
		Object:      f.Pose.Object,
		Translation: f.Pose.Translation,
		Sensor:      f.Pose.Sensor,
	})
	if err != nil {
		return fmt.Errorf("encode pose: %w", err)
	}

	var path interface{}
	if f.PCDPath != "" {
		path = f.PCDPath
	}

	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO frames (
				frame_id, run_id, timestamp, kind, pose_json,
				near, far, points, pcd_path, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			f.FrameID, f.RunID, int64(f.Timestamp), f.Kind, string(pose),
			f.Near, f.Far, f.Points, path, f.CreatedAt,
		)
		return err
	})
}

const selectFrame = `
	SELECT frame_id, run_id, timestamp, kind, pose_json,
	       near, far, points, pcd_path, created_at
	FROM frames`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanFrame(row scanner) (*Frame, error) {
	var (
		f    Frame
		ts   int64
		pose string
		path sql.NullString
	)
	if err := row.Scan(&f.FrameID, &f.RunID, &ts, &f.Kind, &pose,
		&f.Near, &f.Far, &f.Points, &path, &f.CreatedAt); err != nil {
		return nil, err
	}
	var p poseJSON
	if err := json.Unmarshal([]byte(pose), &p); err != nil {
		return nil, fmt.Errorf("decode pose of frame %s: %w", f.FrameID, err)
	}
	f.Timestamp = uint64(ts)
	f.Pose = wire.PoseComponents{Timestamp: f.Timestamp, Object: p.Object, Translation: p.Translation, Sensor: p.Sensor}
	if path.Valid {
		f.PCDPath = path.String
	}
	return &f, nil
}

// ListByRun returns the frames of a run in timestamp order.
func (s *Store) ListByRun(runID string) ([]*Frame, error) {
	rows, err := s.db.Query(selectFrame+` WHERE run_id = ? ORDER BY timestamp, created_at`, runID)
	if err != nil {
		return nil, fmt.Errorf("query frames: %w", err)
	}
	defer rows.Close()

	var frames []*Frame
	for rows.Next() {
		f, err := scanFrame(rows)
		if err != nil {
			return nil, fmt.Errorf("scan frame: %w", err)
		}
		frames = append(frames, f)
	}
	return frames, rows.Err()
}

// Get returns one frame by id.
func (s *Store) Get(frameID string) (*Frame, error) {
	f, err := scanFrame(s.db.QueryRow(selectFrame+` WHERE frame_id = ?`, frameID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get frame: %w", err)
	}
	return f, nil
}

// Runs returns every run id in the log, oldest first.
func (s *Store) Runs() ([]string, error) {
	rows, err := s.db.Query(`SELECT run_id FROM frames GROUP BY run_id ORDER BY MIN(created_at)`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, id)
	}
	return runs, rows.Err()
}

// Count returns the number of frames logged for a run.
func (s *Store) Count(runID string) (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM frames WHERE run_id = ?`, runID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count frames: %w", err)
	}
	return n, nil
}

const (
	maxBusyAttempts = 5
	busyBackoff     = 10 * time.Millisecond
)

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// retryOnBusy runs fn until it succeeds, fails with something other than
// SQLITE_BUSY, or runs out of attempts. The delay doubles each retry.
func retryOnBusy(fn func() error) error {
	delay := busyBackoff
	var err error
	for attempt := 1; attempt <= maxBusyAttempts; attempt++ {
		if err = fn(); !isSQLiteBusy(err) {
			return err
		}
		if attempt < maxBusyAttempts {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return fmt.Errorf("database busy after %d attempts: %w", maxBusyAttempts, err)
}
