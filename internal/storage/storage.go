package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps SQLite-backed persistence for jobs, fold steps and uploads.
type Store struct {
	DB *sql.DB // Export for direct database access
}

// New opens (or creates) the database at path and ensures schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer; workers share this handle
	db.SetMaxOpenConns(1)
	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS processing_jobs (
            id TEXT PRIMARY KEY,
            job_type TEXT NOT NULL,
            status TEXT NOT NULL,
            input_path TEXT,
            output_path TEXT,
            options_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            started_at TIMESTAMP,
            completed_at TIMESTAMP,
            error_message TEXT,
            error_kind TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS job_results (
            job_id TEXT,
            meta_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS stitch_steps (
            job_id TEXT NOT NULL,
            step INTEGER NOT NULL,
            left_index INTEGER NOT NULL,
            right_index INTEGER NOT NULL,
            keypoints INTEGER,
            matches INTEGER,
            inliers INTEGER,
            width INTEGER,
            height INTEGER,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            PRIMARY KEY (job_id, step)
        );`,
		`CREATE TABLE IF NOT EXISTS image_metadata (
            file_path TEXT PRIMARY KEY,
            format TEXT,
            width INTEGER,
            height INTEGER,
            size_bytes INTEGER,
            uploaded_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE INDEX IF NOT EXISTS idx_job_results_job_id ON job_results(job_id);`,
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

// JobRecord captures persisted job info.
type JobRecord struct {
	ID          string     `json:"id"`
	JobType     string     `json:"type"`
	Status      string     `json:"status"`
	InputPath   string     `json:"input"`
	OutputPath  string     `json:"output"`
	OptionsJSON string     `json:"options,omitempty"`
	Error       string     `json:"error,omitempty"`
	ErrorKind   string     `json:"error_kind,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// StepRecord is one fold step of a stitch job.
type StepRecord struct {
	JobID      string `json:"job_id"`
	Step       int    `json:"step"`
	LeftIndex  int    `json:"left_index"`
	RightIndex int    `json:"right_index"`
	Keypoints  int    `json:"keypoints"`
	Matches    int    `json:"matches"`
	Inliers    int    `json:"inliers"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

// ImageMetadata describes an accepted upload.
type ImageMetadata struct {
	FilePath  string `json:"file_path"`
	Format    string `json:"format"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	SizeBytes int64  `json:"size_bytes"`
}

// ErrNotFound is returned for lookups of unknown jobs.
var ErrNotFound = errors.New("not found")

// RecordJobQueued inserts a pending job.
func (s *Store) RecordJobQueued(rec JobRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO processing_jobs (id, job_type, status, input_path, output_path, options_json) VALUES (?, ?, ?, ?, ?, ?);`,
		rec.ID, rec.JobType, rec.Status, rec.InputPath, rec.OutputPath, rec.OptionsJSON)
	return err
}

// RecordJobStart marks a job as running.
func (s *Store) RecordJobStart(id string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE processing_jobs SET status='running', started_at=CURRENT_TIMESTAMP WHERE id=?;`, id)
	return err
}

// RecordJobResult finalizes a job with status, meta and the failure kind.
func (s *Store) RecordJobResult(id string, status string, meta map[string]any, errMsg, errKind string) error {
	if s == nil {
		return nil
	}
	metaJSON, _ := json.Marshal(meta)
	_, err := s.DB.Exec(`UPDATE processing_jobs SET status=?, completed_at=CURRENT_TIMESTAMP, error_message=?, error_kind=? WHERE id=?;`, status, errMsg, errKind, id)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(`INSERT INTO job_results (job_id, meta_json) VALUES (?, ?);`, id, string(metaJSON))
	return err
}

const jobColumns = `id, job_type, status, input_path, output_path, options_json, created_at, started_at, completed_at, error_message, error_kind`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (JobRecord, error) {
	var rec JobRecord
	var created time.Time
	var started, completed sql.NullTime
	var input, output, opts, errorMsg, errorKind sql.NullString
	if err := row.Scan(&rec.ID, &rec.JobType, &rec.Status, &input, &output, &opts, &created, &started, &completed, &errorMsg, &errorKind); err != nil {
		return rec, err
	}
	rec.InputPath = input.String
	rec.OutputPath = output.String
	rec.OptionsJSON = opts.String
	rec.CreatedAt = created
	if started.Valid {
		rec.StartedAt = &started.Time
	}
	if completed.Valid {
		rec.CompletedAt = &completed.Time
	}
	rec.Error = errorMsg.String
	rec.ErrorKind = errorKind.String
	return rec, nil
}

// RecentJobs returns the latest jobs up to limit.
func (s *Store) RecentJobs(limit int) ([]JobRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT `+jobColumns+` FROM processing_jobs ORDER BY created_at DESC, rowid DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []JobRecord
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Job fetches a single job record.
func (s *Store) Job(id string) (JobRecord, error) {
	if s == nil {
		return JobRecord{}, errors.New("store not initialized")
	}
	rec, err := scanJob(s.DB.QueryRow(`SELECT `+jobColumns+` FROM processing_jobs WHERE id=?;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return rec, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return rec, err
}

// JobMeta fetches the last meta blob for a job.
func (s *Store) JobMeta(id string) (map[string]any, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	var metaJSON string
	err := s.DB.QueryRow(`SELECT meta_json FROM job_results WHERE job_id=? ORDER BY created_at DESC, rowid DESC LIMIT 1;`, id).Scan(&metaJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("meta for job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal meta: %w", err)
	}
	return meta, nil
}

// RecordStitchStep persists one fold step.
func (s *Store) RecordStitchStep(rec StepRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO stitch_steps (job_id, step, left_index, right_index, keypoints, matches, inliers, width, height) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		rec.JobID, rec.Step, rec.LeftIndex, rec.RightIndex, rec.Keypoints, rec.Matches, rec.Inliers, rec.Width, rec.Height)
	return err
}

// JobSteps returns the fold steps of a job in order.
func (s *Store) JobSteps(id string) ([]StepRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT job_id, step, left_index, right_index, keypoints, matches, inliers, width, height FROM stitch_steps WHERE job_id=? ORDER BY step;`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StepRecord
	for rows.Next() {
		var r StepRecord
		if err := rows.Scan(&r.JobID, &r.Step, &r.LeftIndex, &r.RightIndex, &r.Keypoints, &r.Matches, &r.Inliers, &r.Width, &r.Height); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordImageMetadata stores details of an accepted upload.
func (s *Store) RecordImageMetadata(meta ImageMetadata) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO image_metadata (file_path, format, width, height, size_bytes) VALUES (?, ?, ?, ?, ?);`,
		meta.FilePath, meta.Format, meta.Width, meta.Height, meta.SizeBytes)
	return err
}

// ClearImageMetadata forgets every recorded upload.
func (s *Store) ClearImageMetadata() error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`DELETE FROM image_metadata;`)
	return err
}

// Uploads lists recorded uploads ordered by path.
func (s *Store) Uploads() ([]ImageMetadata, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT file_path, format, width, height, size_bytes FROM image_metadata ORDER BY file_path;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ImageMetadata
	for rows.Next() {
		var m ImageMetadata
		if err := rows.Scan(&m.FilePath, &m.Format, &m.Width, &m.Height, &m.SizeBytes); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
