package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver (pure Go)

	"github.com/coastwise/swath/pkg/core"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore creates a new SQLite state store instance.
func NewSQLiteStore() *SQLiteStore {
	return &SQLiteStore{}
}

// Open opens a connection to the SQLite database.
// Use ":memory:" for an in-memory database.
func (s *SQLiteStore) Open(path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	db.SetMaxOpenConns(1)

	s.db = db
	s.path = path
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func generateID() string {
	return uuid.New().String()
}

// --- Container operations ---

// SaveContainer inserts or replaces a container record.
func (s *SQLiteStore) SaveContainer(c ContainerRecord) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	_, err := s.db.Exec(`
		INSERT INTO containers (id, serial_number, start_ts, end_ts, last_data_change, min_lat, max_lat, min_lon, max_lon)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			serial_number = excluded.serial_number,
			start_ts = excluded.start_ts,
			end_ts = excluded.end_ts,
			last_data_change = excluded.last_data_change,
			min_lat = excluded.min_lat, max_lat = excluded.max_lat,
			min_lon = excluded.min_lon, max_lon = excluded.max_lon`,
		c.ID, c.SerialNumber, c.TimeRange.Start, c.TimeRange.End, c.LastDataChange,
		c.Extent.MinLat, c.Extent.MaxLat, c.Extent.MinLon, c.Extent.MaxLon,
	)
	if err != nil {
		return fmt.Errorf("failed to save container: %w", err)
	}
	return nil
}

// GetContainer retrieves a container by id, or nil when absent.
func (s *SQLiteStore) GetContainer(id string) (*ContainerRecord, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	c := &ContainerRecord{}
	err := s.db.QueryRow(`
		SELECT id, serial_number, start_ts, end_ts, last_data_change, min_lat, max_lat, min_lon, max_lon
		FROM containers WHERE id = ?`, id,
	).Scan(&c.ID, &c.SerialNumber, &c.TimeRange.Start, &c.TimeRange.End, &c.LastDataChange,
		&c.Extent.MinLat, &c.Extent.MaxLat, &c.Extent.MinLon, &c.Extent.MaxLon)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get container: %w", err)
	}
	return c, nil
}

// ListContainers retrieves all containers ordered by id.
func (s *SQLiteStore) ListContainers() ([]*ContainerRecord, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	rows, err := s.db.Query(`
		SELECT id, serial_number, start_ts, end_ts, last_data_change, min_lat, max_lat, min_lon, max_lon
		FROM containers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	defer rows.Close()

	var out []*ContainerRecord
	for rows.Next() {
		c := &ContainerRecord{}
		if err := rows.Scan(&c.ID, &c.SerialNumber, &c.TimeRange.Start, &c.TimeRange.End, &c.LastDataChange,
			&c.Extent.MinLat, &c.Extent.MaxLat, &c.Extent.MinLon, &c.Extent.MaxLon); err != nil {
			return nil, fmt.Errorf("failed to scan container: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteContainer removes a container and its stage runs.
func (s *SQLiteStore) DeleteContainer(id string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	result, err := s.db.Exec(`DELETE FROM containers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete container: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("container not found: %s", id)
	}
	return nil
}

// --- Stage run operations ---

// RecordStageRun records the start of a stage execution.
func (s *SQLiteStore) RecordStageRun(run *StageRun) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	if run.ID == "" {
		run.ID = generateID()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO stage_runs (id, container_id, stage, status, fingerprint, started_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.ContainerID, string(run.Stage), string(run.Status), run.Fingerprint, run.StartedAt, run.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to record stage run: %w", err)
	}
	return nil
}

// CompleteStageRun marks a stage run finished with the given status.
func (s *SQLiteStore) CompleteStageRun(id string, status core.StageStatus, errMsg string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	var errorPtr *string
	if errMsg != "" {
		errorPtr = &errMsg
	}
	result, err := s.db.Exec(
		`UPDATE stage_runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		string(status), time.Now().UTC(), errorPtr, id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete stage run: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("stage run not found: %s", id)
	}
	return nil
}

// LatestStageRun retrieves the most recent run of a stage for a container,
// or nil when the stage never ran.
func (s *SQLiteStore) LatestStageRun(containerID string, stage core.Stage) (*StageRun, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	run := &StageRun{}
	var stageStr, statusStr string
	var completedAt sql.NullTime
	var errMsg sql.NullString

	err := s.db.QueryRow(`
		SELECT id, container_id, stage, status, fingerprint, started_at, completed_at, error
		FROM stage_runs WHERE container_id = ? AND stage = ?
		ORDER BY started_at DESC LIMIT 1`,
		containerID, string(stage),
	).Scan(&run.ID, &run.ContainerID, &stageStr, &statusStr, &run.Fingerprint, &run.StartedAt, &completedAt, &errMsg)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest stage run: %w", err)
	}
	run.Stage = core.Stage(stageStr)
	run.Status = core.StageStatus(statusStr)
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	if errMsg.Valid {
		run.Error = errMsg.String
	}
	return run, nil
}

// --- Registry operations ---

// SaveRegistryEntries replaces the persisted registry log.
func (s *SQLiteStore) SaveRegistryEntries(entries []RegistryEntryRecord) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM registry_entries`); err != nil {
		return fmt.Errorf("failed to clear registry entries: %w", err)
	}
	for _, e := range entries {
		superseded := 0
		if e.Superseded {
			superseded = 1
		}
		if _, err := tx.Exec(`
			INSERT INTO registry_entries (id, kind, serial, identifier, interval_start, interval_end, fingerprint, created_at, superseded)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, string(e.Kind), e.Serial, e.Identifier, e.Interval.Start, e.Interval.End, e.Fingerprint, e.CreatedAt, superseded,
		); err != nil {
			return fmt.Errorf("failed to insert registry entry: %w", err)
		}
	}
	return tx.Commit()
}

// LoadRegistryEntries retrieves the persisted registry log in creation order.
func (s *SQLiteStore) LoadRegistryEntries() ([]RegistryEntryRecord, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	rows, err := s.db.Query(`
		SELECT id, kind, serial, identifier, interval_start, interval_end, fingerprint, created_at, superseded
		FROM registry_entries ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load registry entries: %w", err)
	}
	defer rows.Close()

	var out []RegistryEntryRecord
	for rows.Next() {
		var e RegistryEntryRecord
		var kind string
		var superseded int
		if err := rows.Scan(&e.ID, &kind, &e.Serial, &e.Identifier,
			&e.Interval.Start, &e.Interval.End, &e.Fingerprint, &e.CreatedAt, &superseded); err != nil {
			return nil, fmt.Errorf("failed to scan registry entry: %w", err)
		}
		e.Kind = core.SourceKind(kind)
		e.Superseded = superseded != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Report operations ---

// SaveReport persists a scheduler run report with its action rows.
func (s *SQLiteStore) SaveReport(rep *ReportRecord, actions []ActionRecord) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	if rep.ID == "" {
		rep.ID = generateID()
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO reports (id, started_at, finished_at, total, complete, failed, skipped)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rep.ID, rep.StartedAt, rep.FinishedAt, rep.Total, rep.Complete, rep.Failed, rep.Skipped,
	); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	for _, a := range actions {
		if _, err := tx.Exec(`
			INSERT INTO report_actions (report_id, container_id, stage, status, error)
			VALUES (?, ?, ?, ?, ?)`,
			rep.ID, a.ContainerID, string(a.Stage), a.Status, a.Error,
		); err != nil {
			return fmt.Errorf("failed to save report action: %w", err)
		}
	}
	return tx.Commit()
}

// GetReport retrieves a report and its action rows.
func (s *SQLiteStore) GetReport(id string) (*ReportRecord, []ActionRecord, error) {
	if s.db == nil {
		return nil, nil, fmt.Errorf("database not opened")
	}
	rep := &ReportRecord{}
	err := s.db.QueryRow(`
		SELECT id, started_at, finished_at, total, complete, failed, skipped
		FROM reports WHERE id = ?`, id,
	).Scan(&rep.ID, &rep.StartedAt, &rep.FinishedAt, &rep.Total, &rep.Complete, &rep.Failed, &rep.Skipped)
	if err == sql.ErrNoRows {
		return nil, nil, fmt.Errorf("report not found: %s", id)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get report: %w", err)
	}

	rows, err := s.db.Query(`
		SELECT container_id, stage, status, error FROM report_actions
		WHERE report_id = ? ORDER BY container_id, stage`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get report actions: %w", err)
	}
	defer rows.Close()

	var actions []ActionRecord
	for rows.Next() {
		a := ActionRecord{ReportID: id}
		var stage string
		var errMsg sql.NullString
		if err := rows.Scan(&a.ContainerID, &stage, &a.Status, &errMsg); err != nil {
			return nil, nil, fmt.Errorf("failed to scan report action: %w", err)
		}
		a.Stage = core.Stage(stage)
		if errMsg.Valid {
			a.Error = errMsg.String
		}
		actions = append(actions, a)
	}
	return rep, actions, rows.Err()
}

// --- Surface operations ---

// SaveSurface inserts or replaces grid surface metadata.
func (s *SQLiteStore) SaveSurface(sr SurfaceRecord) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	if sr.CreatedAt.IsZero() {
		sr.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO surfaces (name, tile_size, crs, vertical_ref, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			tile_size = excluded.tile_size,
			crs = excluded.crs,
			vertical_ref = excluded.vertical_ref`,
		sr.Name, sr.TileSize, sr.CRS, sr.VerticalRef, sr.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save surface: %w", err)
	}
	return nil
}

// ListSurfaces retrieves all surfaces ordered by name.
func (s *SQLiteStore) ListSurfaces() ([]*SurfaceRecord, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	rows, err := s.db.Query(`SELECT name, tile_size, crs, vertical_ref, created_at FROM surfaces ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list surfaces: %w", err)
	}
	defer rows.Close()

	var out []*SurfaceRecord
	for rows.Next() {
		sr := &SurfaceRecord{}
		if err := rows.Scan(&sr.Name, &sr.TileSize, &sr.CRS, &sr.VerticalRef, &sr.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan surface: %w", err)
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

// DeleteSurface removes surface metadata.
func (s *SQLiteStore) DeleteSurface(name string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	result, err := s.db.Exec(`DELETE FROM surfaces WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete surface: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("surface not found: %s", name)
	}
	return nil
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
