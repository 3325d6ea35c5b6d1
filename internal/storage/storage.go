package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps SQLite-backed persistence for projects, videos, detections,
// tracks and analysis jobs.
type Store struct {
	DB *sql.DB
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
		`CREATE TABLE IF NOT EXISTS projects (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL UNIQUE,
            project_folder TEXT,
            data_folder TEXT,
            relative_paths BOOLEAN DEFAULT TRUE,
            description TEXT,
            date_created TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            date_finished TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS locations (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            project_id INTEGER NOT NULL REFERENCES projects(id),
            name TEXT NOT NULL,
            lat REAL,
            lon REAL,
            UNIQUE(project_id, name)
        );`,
		`CREATE TABLE IF NOT EXISTS videos (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            location_id INTEGER NOT NULL REFERENCES locations(id),
            path TEXT NOT NULL,
            started_at TIMESTAMP,
            duration_secs REAL,
            fps REAL,
            width INTEGER,
            height INTEGER,
            date_added TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            UNIQUE(location_id, path)
        );`,
		`CREATE TABLE IF NOT EXISTS detections (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            video_id INTEGER NOT NULL REFERENCES videos(id),
            track_id TEXT,
            frame_index INTEGER NOT NULL,
            ts_nanos INTEGER NOT NULL,
            cx REAL, cy REAL,
            x INTEGER, y INTEGER, w INTEGER, h INTEGER,
            area INTEGER
        );`,
		`CREATE TABLE IF NOT EXISTS tracks (
            id TEXT PRIMARY KEY,
            location_id INTEGER NOT NULL REFERENCES locations(id),
            state TEXT NOT NULL,
            first_ts_nanos INTEGER,
            last_ts_nanos INTEGER,
            observation_count INTEGER,
            avg_area REAL,
            avg_speed_pps REAL,
            peak_speed_pps REAL,
            bbox_width_avg REAL,
            bbox_height_avg REAL,
            trail_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS analysis_jobs (
            id TEXT PRIMARY KEY,
            job_type TEXT NOT NULL,
            status TEXT NOT NULL,
            input_path TEXT,
            output_path TEXT,
            options_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            started_at TIMESTAMP,
            completed_at TIMESTAMP,
            error_message TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS job_results (
            job_id TEXT,
            meta_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE INDEX IF NOT EXISTS idx_videos_location ON videos(location_id);`,
		`CREATE INDEX IF NOT EXISTS idx_detections_video ON detections(video_id);`,
		`CREATE INDEX IF NOT EXISTS idx_detections_track ON detections(track_id);`,
		`CREATE INDEX IF NOT EXISTS idx_tracks_location ON tracks(location_id);`,
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

// ProjectRecord captures a registered project.
type ProjectRecord struct {
	ID            int64
	Name          string
	ProjectFolder string
	DataFolder    string
	RelativePaths bool
	Description   string
	DateCreated   time.Time
}

// LocationRecord captures a camera location within a project.
type LocationRecord struct {
	ID        int64
	ProjectID int64
	Name      string
	Lat       float64
	Lon       float64
}

// VideoRecord captures a discovered video file.
type VideoRecord struct {
	ID           int64
	LocationID   int64
	Path         string
	StartedAt    time.Time
	DurationSecs float64
	FPS          float64
	Width        int
	Height       int
}

// DetectionRecord captures a single blob observation in a frame.
type DetectionRecord struct {
	ID         int64
	VideoID    int64
	TrackID    string
	FrameIndex int
	TsNanos    int64
	CX, CY     float64
	X, Y, W, H int
	Area       int
}

// TrackRecord captures a finalised track.
type TrackRecord struct {
	ID               string
	LocationID       int64
	State            string
	FirstTsNanos     int64
	LastTsNanos      int64
	ObservationCount int
	AvgArea          float64
	AvgSpeedPps      float64
	PeakSpeedPps     float64
	BBoxWidthAvg     float64
	BBoxHeightAvg    float64
	TrailJSON        string
}

// JobRecord captures persisted job info.
type JobRecord struct {
	ID          string
	JobType     string
	Status      string
	InputPath   string
	OutputPath  string
	OptionsJSON string
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// InsertProject registers a project and returns its ID.
func (s *Store) InsertProject(rec ProjectRecord) (int64, error) {
	res, err := s.DB.Exec(`INSERT INTO projects (name, project_folder, data_folder, relative_paths, description) VALUES (?, ?, ?, ?, ?);`,
		rec.Name, rec.ProjectFolder, rec.DataFolder, rec.RelativePaths, rec.Description)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ProjectByName looks a project up by its unique name.
func (s *Store) ProjectByName(name string) (ProjectRecord, error) {
	var rec ProjectRecord
	err := s.DB.QueryRow(`SELECT id, name, project_folder, data_folder, relative_paths, IFNULL(description, ''), date_created FROM projects WHERE name = ?;`, name).
		Scan(&rec.ID, &rec.Name, &rec.ProjectFolder, &rec.DataFolder, &rec.RelativePaths, &rec.Description, &rec.DateCreated)
	return rec, err
}

// Projects returns all registered projects.
func (s *Store) Projects() ([]ProjectRecord, error) {
	rows, err := s.DB.Query(`SELECT id, name, project_folder, data_folder, relative_paths, IFNULL(description, ''), date_created FROM projects ORDER BY id;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []ProjectRecord
	for rows.Next() {
		var rec ProjectRecord
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.ProjectFolder, &rec.DataFolder, &rec.RelativePaths, &rec.Description, &rec.DateCreated); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// InsertLocation registers a location and returns its ID.
func (s *Store) InsertLocation(rec LocationRecord) (int64, error) {
	res, err := s.DB.Exec(`INSERT INTO locations (project_id, name, lat, lon) VALUES (?, ?, ?, ?);`,
		rec.ProjectID, rec.Name, rec.Lat, rec.Lon)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// LocationsByProject returns the locations of a project ordered by name.
func (s *Store) LocationsByProject(projectID int64) ([]LocationRecord, error) {
	rows, err := s.DB.Query(`SELECT id, project_id, name, IFNULL(lat, 0), IFNULL(lon, 0) FROM locations WHERE project_id = ? ORDER BY name;`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []LocationRecord
	for rows.Next() {
		var rec LocationRecord
		if err := rows.Scan(&rec.ID, &rec.ProjectID, &rec.Name, &rec.Lat, &rec.Lon); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Location returns a single location by ID.
func (s *Store) Location(id int64) (LocationRecord, error) {
	var rec LocationRecord
	err := s.DB.QueryRow(`SELECT id, project_id, name, IFNULL(lat, 0), IFNULL(lon, 0) FROM locations WHERE id = ?;`, id).
		Scan(&rec.ID, &rec.ProjectID, &rec.Name, &rec.Lat, &rec.Lon)
	return rec, err
}

// LocationByName finds the location whose videos live under dataFolder/name.
func (s *Store) LocationByName(projectID int64, name string) (LocationRecord, error) {
	var rec LocationRecord
	err := s.DB.QueryRow(`SELECT id, project_id, name, IFNULL(lat, 0), IFNULL(lon, 0) FROM locations WHERE project_id = ? AND name = ?;`, projectID, name).
		Scan(&rec.ID, &rec.ProjectID, &rec.Name, &rec.Lat, &rec.Lon)
	return rec, err
}

// UpsertVideo inserts a video unless its (location, path) pair already exists.
// Returns the video ID either way.
func (s *Store) UpsertVideo(rec VideoRecord) (int64, error) {
	_, err := s.DB.Exec(`INSERT INTO videos (location_id, path, started_at, duration_secs, fps, width, height)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(location_id, path) DO UPDATE SET
            started_at=excluded.started_at,
            duration_secs=excluded.duration_secs,
            fps=excluded.fps,
            width=excluded.width,
            height=excluded.height;`,
		rec.LocationID, rec.Path, rec.StartedAt, rec.DurationSecs, rec.FPS, rec.Width, rec.Height)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.DB.QueryRow(`SELECT id FROM videos WHERE location_id = ? AND path = ?;`, rec.LocationID, rec.Path).Scan(&id)
	return id, err
}

// VideosByLocation returns a location's videos in chronological order.
func (s *Store) VideosByLocation(locationID int64) ([]VideoRecord, error) {
	rows, err := s.DB.Query(`SELECT id, location_id, path, started_at, IFNULL(duration_secs, 0), IFNULL(fps, 0), IFNULL(width, 0), IFNULL(height, 0)
        FROM videos WHERE location_id = ? ORDER BY started_at, path;`, locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []VideoRecord
	for rows.Next() {
		var rec VideoRecord
		var started sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.LocationID, &rec.Path, &started, &rec.DurationSecs, &rec.FPS, &rec.Width, &rec.Height); err != nil {
			return nil, err
		}
		if started.Valid {
			rec.StartedAt = started.Time
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// InsertDetections bulk-inserts detection rows inside one transaction.
func (s *Store) InsertDetections(recs []DetectionRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO detections (video_id, track_id, frame_index, ts_nanos, cx, cy, x, y, w, h, area)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, rec := range recs {
		var trackID any
		if rec.TrackID != "" {
			trackID = rec.TrackID
		}
		if _, err := stmt.Exec(rec.VideoID, trackID, rec.FrameIndex, rec.TsNanos,
			rec.CX, rec.CY, rec.X, rec.Y, rec.W, rec.H, rec.Area); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// DetectionsByTrack returns a track's detections ordered by timestamp.
func (s *Store) DetectionsByTrack(trackID string) ([]DetectionRecord, error) {
	rows, err := s.DB.Query(`SELECT id, video_id, IFNULL(track_id, ''), frame_index, ts_nanos, cx, cy, x, y, w, h, area
        FROM detections WHERE track_id = ? ORDER BY ts_nanos;`, trackID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDetections(rows)
}

// DetectionsByVideo returns a video's detections ordered by frame.
func (s *Store) DetectionsByVideo(videoID int64) ([]DetectionRecord, error) {
	rows, err := s.DB.Query(`SELECT id, video_id, IFNULL(track_id, ''), frame_index, ts_nanos, cx, cy, x, y, w, h, area
        FROM detections WHERE video_id = ? ORDER BY frame_index;`, videoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDetections(rows)
}

func scanDetections(rows *sql.Rows) ([]DetectionRecord, error) {
	var recs []DetectionRecord
	for rows.Next() {
		var rec DetectionRecord
		if err := rows.Scan(&rec.ID, &rec.VideoID, &rec.TrackID, &rec.FrameIndex, &rec.TsNanos,
			&rec.CX, &rec.CY, &rec.X, &rec.Y, &rec.W, &rec.H, &rec.Area); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// SaveTrack persists a finalised track, replacing any previous row.
func (s *Store) SaveTrack(rec TrackRecord) error {
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO tracks
        (id, location_id, state, first_ts_nanos, last_ts_nanos, observation_count,
         avg_area, avg_speed_pps, peak_speed_pps, bbox_width_avg, bbox_height_avg, trail_json)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		rec.ID, rec.LocationID, rec.State, rec.FirstTsNanos, rec.LastTsNanos, rec.ObservationCount,
		rec.AvgArea, rec.AvgSpeedPps, rec.PeakSpeedPps, rec.BBoxWidthAvg, rec.BBoxHeightAvg, rec.TrailJSON)
	return err
}

// TracksByLocation returns a location's tracks, newest first.
func (s *Store) TracksByLocation(locationID int64) ([]TrackRecord, error) {
	rows, err := s.DB.Query(`SELECT id, location_id, state, first_ts_nanos, last_ts_nanos, observation_count,
        avg_area, avg_speed_pps, peak_speed_pps, bbox_width_avg, bbox_height_avg, IFNULL(trail_json, '')
        FROM tracks WHERE location_id = ? ORDER BY first_ts_nanos DESC;`, locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []TrackRecord
	for rows.Next() {
		var rec TrackRecord
		if err := rows.Scan(&rec.ID, &rec.LocationID, &rec.State, &rec.FirstTsNanos, &rec.LastTsNanos,
			&rec.ObservationCount, &rec.AvgArea, &rec.AvgSpeedPps, &rec.PeakSpeedPps,
			&rec.BBoxWidthAvg, &rec.BBoxHeightAvg, &rec.TrailJSON); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Track returns a single track by ID.
func (s *Store) Track(id string) (TrackRecord, error) {
	var rec TrackRecord
	err := s.DB.QueryRow(`SELECT id, location_id, state, first_ts_nanos, last_ts_nanos, observation_count,
        avg_area, avg_speed_pps, peak_speed_pps, bbox_width_avg, bbox_height_avg, IFNULL(trail_json, '')
        FROM tracks WHERE id = ?;`, id).
		Scan(&rec.ID, &rec.LocationID, &rec.State, &rec.FirstTsNanos, &rec.LastTsNanos,
			&rec.ObservationCount, &rec.AvgArea, &rec.AvgSpeedPps, &rec.PeakSpeedPps,
			&rec.BBoxWidthAvg, &rec.BBoxHeightAvg, &rec.TrailJSON)
	return rec, err
}

// RecordJobQueued inserts a pending job.
func (s *Store) RecordJobQueued(rec JobRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO analysis_jobs (id, job_type, status, input_path, output_path, options_json) VALUES (?, ?, ?, ?, ?, ?);`,
		rec.ID, rec.JobType, rec.Status, rec.InputPath, rec.OutputPath, rec.OptionsJSON)
	return err
}

// RecordJobStart marks a job as running.
func (s *Store) RecordJobStart(id string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE analysis_jobs SET status='running', started_at=CURRENT_TIMESTAMP WHERE id=?;`, id)
	return err
}

// RecordJobResult finalizes a job with status and meta.
func (s *Store) RecordJobResult(id string, status string, meta map[string]any, errMsg string) error {
	if s == nil {
		return nil
	}
	metaJSON, _ := json.Marshal(meta)
	_, err := s.DB.Exec(`UPDATE analysis_jobs SET status=?, completed_at=CURRENT_TIMESTAMP, error_message=? WHERE id=?;`, status, errMsg, id)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(`INSERT INTO job_results (job_id, meta_json) VALUES (?, ?);`, id, string(metaJSON))
	return err
}

// RecentJobs returns the latest jobs up to limit.
func (s *Store) RecentJobs(limit int) ([]JobRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, job_type, status, IFNULL(input_path, ''), IFNULL(output_path, ''), IFNULL(options_json, ''), created_at, started_at, completed_at, error_message
        FROM analysis_jobs ORDER BY created_at DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []JobRecord
	for rows.Next() {
		var rec JobRecord
		var created time.Time
		var started, completed sql.NullTime
		var errorMsg sql.NullString
		if err := rows.Scan(&rec.ID, &rec.JobType, &rec.Status, &rec.InputPath, &rec.OutputPath, &rec.OptionsJSON, &created, &started, &completed, &errorMsg); err != nil {
			return nil, err
		}
		rec.CreatedAt = created
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

// JobMeta fetches the last meta blob for a job.
func (s *Store) JobMeta(id string) (map[string]any, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	var metaJSON string
	err := s.DB.QueryRow(`SELECT meta_json FROM job_results WHERE job_id=? ORDER BY created_at DESC LIMIT 1;`, id).Scan(&metaJSON)
	if err != nil {
		return nil, err
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal meta: %w", err)
	}
	return meta, nil
}
