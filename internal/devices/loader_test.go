package devices

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const plcProfileJSON = `{
	"station": {
		"id": "plc-sim-01",
		"kind": "plc",
		"vendor": "SimWorks",
		"model": "LogicSim 500",
		"version": "1.0"
	},
	"io_points": [
		{"name": "conveyor_motor", "kind": "output", "initial": false},
		{"name": "part_present", "kind": "input", "initial": false}
	],
	"parameters": {
		"cycle_time_min": 1.5,
		"cycle_time_max": 2.5
	}
}`

const robotProfileJSON = `{
	"station": {
		"id": "robot-sim-01",
		"kind": "robot",
		"vendor": "SimWorks",
		"model": "ArmSim 6X",
		"version": "1.0"
	},
	"parameters": {
		"home_position": {"x": 120.5, "y": -40.0, "z": 300.0},
		"nominal_speed": 250
	}
}`

func writeProfile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".json"), []byte(content), 0o644))
}

func TestLoaderLoadsValidProfiles(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "plc-simulated", plcProfileJSON)
	writeProfile(t, dir, "robot-simulated", robotProfileJSON)

	loader, err := NewProfileLoader([]string{dir})
	require.NoError(t, err)

	plc, err := loader.Load("plc-simulated")
	require.NoError(t, err)
	assert.Equal(t, StationPLC, plc.Station.Kind)
	assert.Len(t, plc.IOPoints, 2)
	assert.Equal(t, "conveyor_motor", plc.IOPoints[0].Name)
	assert.InDelta(t, 1.5, plc.Parameters.CycleTimeMin, 1e-9)

	robot, err := loader.Load("robot-simulated")
	require.NoError(t, err)
	require.NotNil(t, robot.Parameters.HomePosition)
	assert.InDelta(t, 120.5, robot.Parameters.HomePosition.X, 1e-9)
	assert.InDelta(t, 250.0, robot.Parameters.NominalSpeed, 1e-9)
}

func TestLoaderRejectsPLCWithoutIOPoints(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "bad-plc", `{
		"station": {"id": "p", "kind": "plc", "vendor": "v", "model": "m", "version": "1"},
		"parameters": {}
	}`)

	loader, err := NewProfileLoader([]string{dir})
	require.NoError(t, err)

	_, err = loader.Load("bad-plc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestLoaderRejectsUnknownKind(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "bad-kind", `{
		"station": {"id": "x", "kind": "conveyor", "vendor": "v", "model": "m", "version": "1"},
		"parameters": {}
	}`)

	loader, err := NewProfileLoader([]string{dir})
	require.NoError(t, err)

	_, err = loader.Load("bad-kind")
	assert.Error(t, err)
}

func TestLoaderReportsMissingProfile(t *testing.T) {
	loader, err := NewProfileLoader([]string{t.TempDir()})
	require.NoError(t, err)

	_, err = loader.Load("no-such-station")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "profile not found")
}

func TestLoaderCachesParsedProfiles(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "robot-simulated", robotProfileJSON)

	loader, err := NewProfileLoader([]string{dir})
	require.NoError(t, err)

	first, err := loader.Load("robot-simulated")
	require.NoError(t, err)

	// Remove the file; the cached entry must still serve.
	require.NoError(t, os.Remove(filepath.Join(dir, "robot-simulated.json")))

	second, err := loader.Load("robot-simulated")
	require.NoError(t, err)
	assert.Same(t, first, second)

	loader.ClearCache()
	_, err = loader.Load("robot-simulated")
	assert.Error(t, err)
}
