package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dropcam.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := LoadWithEnv("", map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 2*time.Minute, cfg.Match.Tolerance)
	assert.True(t, cfg.Match.InferSequential)
	assert.Equal(t, "ID{POINT_ID}_{DATE}_{TIME}{EXT}", cfg.Rename.Template)
	assert.Equal(t, filepath.Join("data", "data_entries.csv"), cfg.EntriesPath())
	assert.NoError(t, cfg.Validate())
}

func TestFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
videos_dir: /survey/videos
match:
  tolerance: 90s
  infer_sequential: false
waypoints:
  id_column: WP
  layouts: ["2006-01-02 15:04"]
log:
  level: debug
`)

	cfg, err := LoadWithEnv(path, map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, "/survey/videos", cfg.VideosDir)
	assert.Equal(t, "drop_stills", cfg.StillsDir, "unset keys keep defaults")
	assert.Equal(t, 90*time.Second, cfg.Match.Tolerance)
	assert.False(t, cfg.Match.InferSequential)
	assert.Equal(t, "WP", cfg.Waypoints.IDColumn)
	assert.Equal(t, "DATE_TIME", cfg.Waypoints.TimeColumn)
	assert.Equal(t, []string{"2006-01-02 15:04"}, cfg.Waypoints.Layouts)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "videos_dir: from-file\nmatch:\n  tolerance: 1m\n")

	cfg, err := LoadWithEnv(path, map[string]string{
		"DROPCAM_VIDEOS_DIR":             "from-env",
		"DROPCAM_MATCH_TOLERANCE":        "45s",
		"DROPCAM_MATCH_INFER_SEQUENTIAL": "false",
		"DROPCAM_MEDIA_PROBE_WORKERS":    "8",
		"DROPCAM_WAYPOINTS_LAYOUTS":      "02/01/2006 15:04|2006-01-02",
		"DROPCAM_LOG_FORMAT":             "json",
		"VIDEOS_DIR":                     "unprefixed is ignored",
	})
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.VideosDir)
	assert.Equal(t, 45*time.Second, cfg.Match.Tolerance)
	assert.False(t, cfg.Match.InferSequential)
	assert.Equal(t, 8, cfg.Media.ProbeWorkers)
	assert.Equal(t, []string{"02/01/2006 15:04", "2006-01-02"}, cfg.Waypoints.Layouts)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadErrors(t *testing.T) {
	_, err := LoadWithEnv(filepath.Join(t.TempDir(), "missing.yaml"), map[string]string{})
	assert.ErrorContains(t, err, "read config")

	_, err = LoadWithEnv(writeConfig(t, "video_dir: typo\n"), map[string]string{})
	assert.ErrorContains(t, err, "video_dir")

	_, err = LoadWithEnv("", map[string]string{"DROPCAM_MATCH_TOLERANCE": "soon"})
	assert.ErrorContains(t, err, "parse env")
}

func TestEmptyFile(t *testing.T) {
	cfg, err := LoadWithEnv(writeConfig(t, "\n"), map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Match.Tolerance = -time.Second
	cfg.Match.Timezone = "Mars/Olympus"
	cfg.Rename.Template = " "
	cfg.Media.ProbeWorkers = 0
	cfg.Media.JPEGQuality = 40
	cfg.Log.Level = "loud"
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"match.tolerance",
		"match.timezone",
		"rename.template",
		"media.probe_workers",
		"media.jpeg_quality",
		"log.level",
		"log.format",
	} {
		assert.ErrorContains(t, err, want)
	}
}

func TestLocation(t *testing.T) {
	cfg := Default()
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)

	cfg.Match.Timezone = "UTC"
	loc, err = cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())
}

func TestEntriesPathAbsolute(t *testing.T) {
	cfg := Default()
	cfg.EntriesFile = "/abs/entries.csv"
	assert.Equal(t, "/abs/entries.csv", cfg.EntriesPath())
}
