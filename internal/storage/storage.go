package storage

import (
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps SQLite-backed persistence for pipeline runs and their stages.
type Store struct {
	DB *sql.DB // Export for direct database access
}

// New opens (or creates) the database at path and ensures schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS pipeline_runs (
            id TEXT PRIMARY KEY,
            input_dir TEXT NOT NULL,
            status TEXT NOT NULL,
            srid TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            started_at TIMESTAMP,
            completed_at TIMESTAMP,
            error_message TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS stage_results (
            run_id TEXT NOT NULL,
            stage TEXT NOT NULL,
            status TEXT NOT NULL,
            duration_ms INTEGER,
            detail TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS run_bounds (
            run_id TEXT PRIMARY KEY,
            upper_left_x REAL,
            upper_left_y REAL,
            lower_right_x REAL,
            lower_right_y REAL,
            width INTEGER,
            height INTEGER,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS tie_point_stats (
            run_id TEXT NOT NULL,
            homol_file TEXT,
            point_count INTEGER,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE INDEX IF NOT EXISTS idx_stage_results_run_id ON stage_results(run_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// RunRecord captures persisted run info.
type RunRecord struct {
	ID          string
	InputDir    string
	Status      string
	SRID        string
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// StageRecord captures one executed stage of a run.
type StageRecord struct {
	RunID      string
	Stage      string
	Status     string
	DurationMS int64
	Detail     string
	CreatedAt  time.Time
}

// BoundsRecord captures the derived georeferencing extent of a run.
type BoundsRecord struct {
	RunID       string
	UpperLeftX  float64
	UpperLeftY  float64
	LowerRightX float64
	LowerRightY float64
	Width       int
	Height      int
}

// RecordRunQueued inserts a pending run.
func (s *Store) RecordRunQueued(rec RunRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO pipeline_runs (id, input_dir, status, srid) VALUES (?, ?, ?, ?);`,
		rec.ID, rec.InputDir, rec.Status, rec.SRID)
	return err
}

// RecordRunStart marks a run as running.
func (s *Store) RecordRunStart(id string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE pipeline_runs SET status='running', started_at=CURRENT_TIMESTAMP WHERE id=?;`, id)
	return err
}

// RecordRunResult finalizes a run.
func (s *Store) RecordRunResult(id string, status string, errMsg string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE pipeline_runs SET status=?, completed_at=CURRENT_TIMESTAMP, error_message=? WHERE id=?;`,
		status, errMsg, id)
	return err
}

// RecordStage persists one stage outcome.
func (s *Store) RecordStage(rec StageRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT INTO stage_results (run_id, stage, status, duration_ms, detail) VALUES (?, ?, ?, ?, ?);`,
		rec.RunID, rec.Stage, rec.Status, rec.DurationMS, rec.Detail)
	return err
}

// RecordBounds persists the derived extent of a run's DSM.
func (s *Store) RecordBounds(rec BoundsRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO run_bounds (run_id, upper_left_x, upper_left_y, lower_right_x, lower_right_y, width, height)
        VALUES (?, ?, ?, ?, ?, ?, ?);`,
		rec.RunID, rec.UpperLeftX, rec.UpperLeftY, rec.LowerRightX, rec.LowerRightY, rec.Width, rec.Height)
	return err
}

// RecordTiePointStats persists how many tie points Tapioca produced.
func (s *Store) RecordTiePointStats(runID, homolFile string, count int) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT INTO tie_point_stats (run_id, homol_file, point_count) VALUES (?, ?, ?);`,
		runID, homolFile, count)
	return err
}

// RecentRuns returns the latest runs up to limit.
func (s *Store) RecentRuns(limit int) ([]RunRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, input_dir, status, srid, created_at, started_at, completed_at, error_message FROM pipeline_runs ORDER BY created_at DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []RunRecord
	for rows.Next() {
		var rec RunRecord
		var created time.Time
		var started, completed sql.NullTime
		var srid, errorMsg sql.NullString
		if err := rows.Scan(&rec.ID, &rec.InputDir, &rec.Status, &srid, &created, &started, &completed, &errorMsg); err != nil {
			return nil, err
		}
		rec.CreatedAt = created
		if srid.Valid {
			rec.SRID = srid.String
		}
		if started.Valid {
			rec.StartedAt = &started.Time
		}
		if completed.Valid {
			rec.CompletedAt = &completed.Time
		}
		if errorMsg.Valid {
			rec.Error = errorMsg.String
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// RunStages returns the recorded stages of one run in execution order.
func (s *Store) RunStages(runID string) ([]StageRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT run_id, stage, status, duration_ms, detail, created_at FROM stage_results WHERE run_id=? ORDER BY created_at ASC;`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []StageRecord
	for rows.Next() {
		var rec StageRecord
		var duration sql.NullInt64
		var detail sql.NullString
		if err := rows.Scan(&rec.RunID, &rec.Stage, &rec.Status, &duration, &detail, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if duration.Valid {
			rec.DurationMS = duration.Int64
		}
		if detail.Valid {
			rec.Detail = detail.String
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
