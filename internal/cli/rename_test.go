package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dropcam/internal/rename"
	"github.com/roach88/dropcam/internal/store"
)

const (
	video1  = "DJI_20240302091500_0001.MP4"
	video2  = "DJI_20240302093000_0002.MP4"
	target1 = "ID12_20240302_091530.MP4"
	target2 = "ID13_20240302_092910.MP4"
)

// survey lays out two DJI videos and the waypoints they were shot at.
func survey(t *testing.T) (*env, string) {
	t.Helper()
	e := newEnv(t)
	e.video(t, video1)
	e.video(t, video2)
	wps := e.file(t, "waypoints.csv",
		"POINT_ID,DATE_TIME\n"+
			"12,2024-03-02 09:15:30\n"+
			"13,2024-03-02 09:29:10\n")
	return e, wps
}

func TestMatch(t *testing.T) {
	e, wps := survey(t)

	out, _, err := e.run("match", "--waypoints", wps)
	require.NoError(t, err)
	assert.Contains(t, out, video1)
	assert.Contains(t, out, target1)
	assert.Contains(t, out, target2)
	assert.Contains(t, out, "2 matched, 0 inferred, 0 unmatched, 0 sharing a waypoint")

	// match never touches the files.
	assert.FileExists(t, filepath.Join(e.Videos, video1))
	assert.NoFileExists(t, filepath.Join(e.Videos, target1))
}

func TestMatch_JSON(t *testing.T) {
	e, wps := survey(t)

	out, _, err := e.run("--format", "json", "match", "--waypoints", wps, "--template", "{POINT_ID}_{ORIG}")
	require.NoError(t, err)

	var resp struct {
		Data MatchResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 2, resp.Data.Summary.Matched)
	require.Len(t, resp.Data.Plan.Ops, 2)
	assert.Equal(t, "12_DJI_20240302091500_0001.MP4", filepath.Base(resp.Data.Plan.Ops[0].To))
}

func TestMatch_RequiresWaypoints(t *testing.T) {
	e := newEnv(t)

	_, _, err := e.run("match")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "waypoints")
}

func TestMatch_MissingWaypointsFile(t *testing.T) {
	e := newEnv(t)

	_, _, err := e.run("match", "--waypoints", filepath.Join(e.Root, "none.csv"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRename_DryRun(t *testing.T) {
	e, wps := survey(t)

	out, _, err := e.run("rename", "--dry-run", "--waypoints", wps)
	require.NoError(t, err)
	assert.Contains(t, out, target1)
	assert.FileExists(t, filepath.Join(e.Videos, video1))
	assert.NoFileExists(t, e.Database)
}

func TestRename_ApplyAndUndo(t *testing.T) {
	e, wps := survey(t)

	out, _, err := e.run("--format", "json", "rename", "--waypoints", wps)
	require.NoError(t, err)
	var applied struct {
		Data rename.Result `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &applied))
	assert.Equal(t, 2, applied.Data.Done)
	assert.Equal(t, 2, applied.Data.Total)
	require.NotEmpty(t, applied.Data.RunID)

	assert.FileExists(t, filepath.Join(e.Videos, target1))
	assert.FileExists(t, filepath.Join(e.Videos, target2))
	assert.NoFileExists(t, filepath.Join(e.Videos, video1))

	out, _, err = e.run("runs")
	require.NoError(t, err)
	assert.Contains(t, out, shortID(applied.Data.RunID))
	assert.Contains(t, out, string(store.RunApplied))

	out, _, err = e.run("--format", "json", "runs", shortID(applied.Data.RunID))
	require.NoError(t, err)
	var detail struct {
		Data RunDetail `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &detail))
	assert.Equal(t, applied.Data.RunID, detail.Data.Run.ID)
	require.Len(t, detail.Data.Renames, 2)
	assert.Equal(t, "12", detail.Data.Renames[0].PointID)

	out, _, err = e.run("undo", shortID(applied.Data.RunID))
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Reverted 2 of 2 rename(s)")
	assert.FileExists(t, filepath.Join(e.Videos, video1))
	assert.FileExists(t, filepath.Join(e.Videos, video2))
	assert.NoFileExists(t, filepath.Join(e.Videos, target1))

	_, _, err = e.run("undo", applied.Data.RunID)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, ErrCodeUndone, exitErr.Message)
}

func TestRename_NothingToDo(t *testing.T) {
	e, wps := survey(t)

	_, _, err := e.run("rename", "--waypoints", wps)
	require.NoError(t, err)

	// Matching the renamed files again plans no-op renames only.
	out, _, err := e.run("rename", "--waypoints", wps)
	require.NoError(t, err)
	assert.Contains(t, out, "Nothing to rename.")
}

func TestRename_ConflictTouchesNothing(t *testing.T) {
	e, wps := survey(t)
	require.NoError(t, os.Mkdir(filepath.Join(e.Videos, target1), 0o755))

	out, _, err := e.run("rename", "--waypoints", wps)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, string(rename.ReasonTargetExists))

	assert.FileExists(t, filepath.Join(e.Videos, video1))
	assert.FileExists(t, filepath.Join(e.Videos, video2))
	assert.NoFileExists(t, filepath.Join(e.Videos, target2))

	_, _, err = e.run("rename", "--dry-run", "--waypoints", wps)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestRuns_Empty(t *testing.T) {
	e := newEnv(t)

	out, _, err := e.run("runs")
	require.NoError(t, err)
	assert.Contains(t, out, "No runs.")
}

func TestUndo_UnknownRun(t *testing.T) {
	e := newEnv(t)

	out, _, err := e.run("--format", "json", "undo", "0190ffff")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	resp := decodeResponse(t, out)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeUnknownRun, resp.Error.Code)
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "0190a5b2-7c1e-7d3f", shortID("0190a5b2-7c1e-7d3f-9a4b-1c2d3e4f5a6b"))
	assert.Equal(t, "abc", shortID("abc"))
}
