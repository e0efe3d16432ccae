// Package state persists project state between sessions: containers, stage
// runs, registry entries, action reports, and grid surface metadata.
package state

import (
	"time"

	"github.com/coastwise/swath/pkg/core"
)

// ContainerRecord is the persisted summary of one survey line container.
type ContainerRecord struct {
	ID             string
	SerialNumber   string
	TimeRange      core.TimeRange
	LastDataChange time.Time
	Extent         core.Box
}

// StageRun is one recorded execution of a processing stage.
type StageRun struct {
	ID          string
	ContainerID string
	Stage       core.Stage
	Status      core.StageStatus
	Fingerprint string
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       string
}

// ReportRecord summarizes one scheduler run.
type ReportRecord struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Total      int
	Complete   int
	Failed     int
	Skipped    int
}

// ActionRecord is one action row of a report.
type ActionRecord struct {
	ReportID    string
	ContainerID string
	Stage       core.Stage
	Status      string
	Error       string
}

// SurfaceRecord is the persisted metadata of one grid surface.
type SurfaceRecord struct {
	Name        string
	TileSize    float64
	CRS         string
	VerticalRef string
	CreatedAt   time.Time
}

// Store is the project state store.
type Store interface {
	Open(path string) error
	Close() error
	Migrate() error

	SaveContainer(c ContainerRecord) error
	GetContainer(id string) (*ContainerRecord, error)
	ListContainers() ([]*ContainerRecord, error)
	DeleteContainer(id string) error

	RecordStageRun(run *StageRun) error
	CompleteStageRun(id string, status core.StageStatus, errMsg string) error
	LatestStageRun(containerID string, stage core.Stage) (*StageRun, error)

	SaveRegistryEntries(entries []RegistryEntryRecord) error
	LoadRegistryEntries() ([]RegistryEntryRecord, error)

	SaveReport(rep *ReportRecord, actions []ActionRecord) error
	GetReport(id string) (*ReportRecord, []ActionRecord, error)

	SaveSurface(s SurfaceRecord) error
	ListSurfaces() ([]*SurfaceRecord, error)
	DeleteSurface(name string) error
}

// RegistryEntryRecord mirrors a registry entry for persistence, decoupled
// from the in-memory registry type.
type RegistryEntryRecord struct {
	ID          string
	Kind        core.SourceKind
	Serial      string
	Identifier  string
	Interval    core.TimeRange
	Fingerprint string
	CreatedAt   time.Time
	Superseded  bool
}
