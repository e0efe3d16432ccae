// Package commands tests for CLI command creation and rendering.
package commands

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coastwise/swath/internal/intel"
	"github.com/coastwise/swath/pkg/core"
)

func TestNewVersionCommand(t *testing.T) {
	cmd := NewVersionCommand("1.2.3")

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.Run(cmd, nil)

	assert.Contains(t, out.String(), "swath v1.2.3")
}

func TestNewActionsCommand(t *testing.T) {
	cmd := NewActionsCommand()

	assert.Equal(t, "actions", cmd.Use)
	assert.NotEmpty(t, cmd.Short, "Short should not be empty")

	for _, flag := range []string{"lines", "json"} {
		assert.NotNil(t, cmd.Flags().Lookup(flag), "flag %q should exist", flag)
	}
}

func TestNewRunCommand(t *testing.T) {
	cmd := NewRunCommand()

	assert.Equal(t, "run", cmd.Use)
	assert.NotEmpty(t, cmd.Short, "Short should not be empty")
	assert.NotNil(t, cmd.Flags().Lookup("lines"), "flag lines should exist")

	require.NotEmpty(t, cmd.Aliases)
	assert.Equal(t, "process", cmd.Aliases[0])
}

func TestNewPointsCommand(t *testing.T) {
	cmd := NewPointsCommand()

	assert.Equal(t, "points", cmd.Use)
	for _, flag := range []string{"min-lat", "max-lat", "min-lon", "max-lon", "lines", "accepted-only", "limit", "json"} {
		assert.NotNil(t, cmd.Flags().Lookup(flag), "flag %q should exist", flag)
	}
}

func TestNewGridCommand(t *testing.T) {
	cmd := NewGridCommand()

	assert.Equal(t, "grid", cmd.Use)
	subs := map[string]bool{}
	for _, sub := range cmd.Commands() {
		subs[sub.Name()] = true
	}
	assert.True(t, subs["export"], "grid export should exist")
	assert.True(t, subs["info"], "grid info should exist")
}

func TestNewProjectCommand(t *testing.T) {
	cmd := NewProjectCommand()

	subs := map[string]bool{}
	for _, sub := range cmd.Commands() {
		subs[sub.Name()] = true
	}
	for _, name := range []string{"init", "info", "add-line", "add-surface"} {
		assert.True(t, subs[name], "project %s should exist", name)
	}
}

func TestNewImportCommand(t *testing.T) {
	cmd := NewImportCommand()

	subs := map[string]bool{}
	for _, sub := range cmd.Commands() {
		subs[sub.Name()] = true
	}
	assert.True(t, subs["vessel"], "import vessel should exist")
	assert.True(t, subs["svp"], "import svp should exist")
}

func TestRenderActionsTable(t *testing.T) {
	var out bytes.Buffer
	renderActionsTable(&out, []intel.Action{
		{Container: "line_0001", Stage: core.StageConvert},
		{Container: "line_0001", Stage: core.StageGrid},
	})

	assert.Contains(t, out.String(), "line_0001")
	assert.Contains(t, out.String(), "2 pending actions")
}

func TestRenderActionsTableEmpty(t *testing.T) {
	var out bytes.Buffer
	renderActionsTable(&out, nil)
	assert.Contains(t, out.String(), "up to date")
}

func TestRenderRunTable(t *testing.T) {
	var out bytes.Buffer
	renderRunTable(&out, []intel.Action{
		{Container: "line_0001", Stage: core.StageConvert, Status: intel.ActionComplete},
		{Container: "line_0001", Stage: core.StageOrientation, Status: intel.ActionFailed, Error: "no calibration"},
		{Container: "line_0001", Stage: core.StageSoundVelocity, Status: intel.ActionSkipped},
	})

	s := out.String()
	assert.Contains(t, s, "no calibration")
	assert.Contains(t, s, "1 complete, 1 failed, 1 skipped")
}

func TestActionStatusToStage(t *testing.T) {
	assert.Equal(t, core.StageComplete, actionStatusToStage(intel.ActionComplete))
	assert.Equal(t, core.StageFailed, actionStatusToStage(intel.ActionFailed))
	assert.Equal(t, core.StageStale, actionStatusToStage(intel.ActionSkipped))
}
