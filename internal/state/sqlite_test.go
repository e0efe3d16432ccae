package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coastwise/swath/pkg/core"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s := NewSQLiteStore()
	require.NoError(t, s.Open(":memory:"))
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrateIsVersioned(t *testing.T) {
	s := NewSQLiteStore()
	require.NoError(t, s.Open(":memory:"))
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.Migrate())
	v, err := s.GetMigrationVersion()
	require.NoError(t, err)
	assert.Greater(t, v, int64(0))

	// Re-running applies nothing and keeps the version.
	require.NoError(t, s.Migrate())
	v2, err := s.GetMigrationVersion()
	require.NoError(t, err)
	assert.Equal(t, v, v2)
}

func TestMigrateRequiresOpenDatabase(t *testing.T) {
	assert.Error(t, NewSQLiteStore().Migrate())
}

func testContainer(id string) ContainerRecord {
	start := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	return ContainerRecord{
		ID:             id,
		SerialNumber:   "em2040_40",
		TimeRange:      core.TimeRange{Start: start, End: start.Add(time.Hour)},
		LastDataChange: start.Add(time.Hour),
		Extent:         core.Box{MinLat: 47.1, MaxLat: 47.2, MinLon: -122.5, MaxLon: -122.4},
	}
}

func TestContainerRoundTrip(t *testing.T) {
	s := openTestStore(t)

	c := testContainer("0009_20260310_080000")
	require.NoError(t, s.SaveContainer(c))

	got, err := s.GetContainer(c.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, c.SerialNumber, got.SerialNumber)
	assert.True(t, c.TimeRange.Start.Equal(got.TimeRange.Start))
	assert.Equal(t, c.Extent, got.Extent)

	// Upsert keeps one row.
	c.SerialNumber = "em2040_41"
	require.NoError(t, s.SaveContainer(c))
	all, err := s.ListContainers()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "em2040_41", all[0].SerialNumber)
}

func TestGetContainerMissing(t *testing.T) {
	s := openTestStore(t)
	got, err := s.GetContainer("nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDeleteContainerCascadesStageRuns(t *testing.T) {
	s := openTestStore(t)
	c := testContainer("line1")
	require.NoError(t, s.SaveContainer(c))

	run := &StageRun{ContainerID: c.ID, Stage: core.StageConvert, Status: core.StageRunning}
	require.NoError(t, s.RecordStageRun(run))
	require.NoError(t, s.DeleteContainer(c.ID))

	latest, err := s.LatestStageRun(c.ID, core.StageConvert)
	require.NoError(t, err)
	assert.Nil(t, latest)

	assert.Error(t, s.DeleteContainer(c.ID))
}

func TestStageRunLifecycle(t *testing.T) {
	s := openTestStore(t)
	c := testContainer("line1")
	require.NoError(t, s.SaveContainer(c))

	run := &StageRun{
		ContainerID: c.ID,
		Stage:       core.StageGeoreference,
		Status:      core.StageRunning,
		Fingerprint: "abc123",
	}
	require.NoError(t, s.RecordStageRun(run))
	require.NotEmpty(t, run.ID)

	require.NoError(t, s.CompleteStageRun(run.ID, core.StageComplete, ""))

	got, err := s.LatestStageRun(c.ID, core.StageGeoreference)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, core.StageComplete, got.Status)
	assert.Equal(t, "abc123", got.Fingerprint)
	require.NotNil(t, got.CompletedAt)

	// A later failed run becomes the latest.
	run2 := &StageRun{
		ContainerID: c.ID,
		Stage:       core.StageGeoreference,
		Status:      core.StageRunning,
		StartedAt:   time.Now().UTC().Add(time.Minute),
	}
	require.NoError(t, s.RecordStageRun(run2))
	require.NoError(t, s.CompleteStageRun(run2.ID, core.StageFailed, "raytrace diverged"))

	got, err = s.LatestStageRun(c.ID, core.StageGeoreference)
	require.NoError(t, err)
	assert.Equal(t, core.StageFailed, got.Status)
	assert.Equal(t, "raytrace diverged", got.Error)
}

func TestRegistryEntriesRoundTrip(t *testing.T) {
	s := openTestStore(t)
	start := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	entries := []RegistryEntryRecord{
		{
			ID:          "e1",
			Kind:        core.SourceSVP,
			Serial:      "em2040_40",
			Identifier:  "cast_0310.svp",
			Interval:    core.TimeRange{Start: start, End: start.Add(24 * time.Hour)},
			Fingerprint: "f1",
			CreatedAt:   start,
		},
		{
			ID:          "e2",
			Kind:        core.SourceSVP,
			Serial:      "em2040_40",
			Identifier:  "cast_0310.svp",
			Interval:    core.TimeRange{Start: start, End: start.Add(24 * time.Hour)},
			Fingerprint: "f2",
			CreatedAt:   start.Add(time.Hour),
			Superseded:  false,
		},
	}
	entries[0].Superseded = true
	require.NoError(t, s.SaveRegistryEntries(entries))

	got, err := s.LoadRegistryEntries()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Superseded)
	assert.False(t, got[1].Superseded)
	assert.Equal(t, core.SourceSVP, got[0].Kind)
	assert.True(t, got[0].Interval.Overlaps(got[1].Interval))
}

func TestReportRoundTrip(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	rep := ReportRecord{
		StartedAt:  now,
		FinishedAt: now.Add(time.Minute),
		Total:      3, Complete: 1, Failed: 1, Skipped: 1,
	}
	actions := []ActionRecord{
		{ContainerID: "line1", Stage: core.StageGeoreference, Status: "complete"},
		{ContainerID: "line1", Stage: core.StageGrid, Status: "skipped"},
		{ContainerID: "line2", Stage: core.StageConvert, Status: "failed", Error: "input unavailable"},
	}
	require.NoError(t, s.SaveReport(&rep, actions))
	require.NotEmpty(t, rep.ID)

	gotRep, gotActions, err := s.GetReport(rep.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, gotRep.Total)
	require.Len(t, gotActions, 3)
	assert.Equal(t, "input unavailable", gotActions[2].Error)
}

func TestSurfaceRoundTrip(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveSurface(SurfaceRecord{
		Name: "main", TileSize: 128, CRS: "EPSG:32610", VerticalRef: "MLLW",
	}))
	surfaces, err := s.ListSurfaces()
	require.NoError(t, err)
	require.Len(t, surfaces, 1)
	assert.Equal(t, 128.0, surfaces[0].TileSize)

	require.NoError(t, s.DeleteSurface("main"))
	assert.Error(t, s.DeleteSurface("main"))
}
