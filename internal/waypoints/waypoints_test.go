package waypoints

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBasic(t *testing.T) {
	csv := "POINT_ID,DATE_TIME,LAT,LON,SITE\n" +
		"1,02/03/2024 09:00:00,-33.85,151.2,North\n" +
		"2,02/03/2024 09:10,-33.86,,South\n"

	wps, err := Parse(strings.NewReader(csv), Options{Location: time.UTC})
	require.NoError(t, err)
	require.Len(t, wps, 2)

	assert.Equal(t, "1", wps[0].PointID)
	assert.Equal(t, time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC), wps[0].Time)
	require.NotNil(t, wps[0].Lat)
	assert.Equal(t, -33.85, *wps[0].Lat)
	assert.Equal(t, "North", wps[0].Row["SITE"])

	assert.Equal(t, time.Date(2024, 3, 2, 9, 10, 0, 0, time.UTC), wps[1].Time)
	assert.Nil(t, wps[1].Lon)
}

func TestParseBOMAndCaseInsensitiveColumns(t *testing.T) {
	csv := "\ufeffpoint_id , date_time\n7,2024-03-02 10:00:00\n"

	wps, err := Parse(strings.NewReader(csv), Options{Location: time.UTC})
	require.NoError(t, err)
	require.Len(t, wps, 1)
	assert.Equal(t, "7", wps[0].PointID)
	assert.Equal(t, "2024-03-02 10:00:00", wps[0].Row["date_time"])
}

func TestParseSkipsRowsWithoutID(t *testing.T) {
	csv := "POINT_ID,DATE_TIME\n,02/03/2024 09:00\n3,02/03/2024 09:05\n"

	wps, err := Parse(strings.NewReader(csv), Options{Location: time.UTC})
	require.NoError(t, err)
	require.Len(t, wps, 1)
	assert.Equal(t, "3", wps[0].PointID)
}

func TestParseBadTimeReportsRow(t *testing.T) {
	csv := "POINT_ID,DATE_TIME\n1,02/03/2024 09:00\n2,yesterday\n"

	_, err := Parse(strings.NewReader(csv), Options{Location: time.UTC})
	require.Error(t, err)

	var rowErr *RowError
	require.True(t, errors.As(err, &rowErr))
	assert.Equal(t, 3, rowErr.Row)
	assert.Equal(t, "DATE_TIME", rowErr.Column)
	assert.Equal(t, "yesterday", rowErr.Value)
}

func TestParseSeparateDateAndClock(t *testing.T) {
	csv := "ID,DATE,TIME\nA1,02/03/2024,9:05\n"

	_, err := Parse(strings.NewReader(csv), Options{IDColumn: "ID", Location: time.UTC})
	require.ErrorIs(t, err, ErrMissingColumn)

	wps, err := Parse(strings.NewReader(csv), Options{
		IDColumn:    "ID",
		DateColumn:  "DATE",
		ClockColumn: "TIME",
		Layouts:     []string{"02/01/2006 15:04", "02/01/2006 3:04"},
		Location:    time.UTC,
	})
	require.NoError(t, err)
	require.Len(t, wps, 1)
	assert.Equal(t, time.Date(2024, 3, 2, 9, 5, 0, 0, time.UTC), wps[0].Time)
}

func TestParseMissingIDColumn(t *testing.T) {
	_, err := Parse(strings.NewReader("WAYPOINT,DATE_TIME\n"), Options{})
	require.ErrorIs(t, err, ErrMissingColumn)
	assert.Contains(t, err.Error(), "POINT_ID")
}

func TestParseEmpty(t *testing.T) {
	_, err := Parse(strings.NewReader(""), Options{})
	require.ErrorIs(t, err, ErrMissingColumn)
}

func TestParseLocation(t *testing.T) {
	loc := time.FixedZone("AEST", 10*60*60)
	csv := "POINT_ID,DATE_TIME\n1,02/03/2024 09:00\n"

	wps, err := Parse(strings.NewReader(csv), Options{Location: loc})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC), wps[0].Time.UTC())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wp.csv")
	require.NoError(t, os.WriteFile(path, []byte("POINT_ID,DATE_TIME\n1,2024-03-02T09:00:00Z\n"), 0o644))

	wps, err := Load(path, Options{})
	require.NoError(t, err)
	require.Len(t, wps, 1)
	assert.True(t, wps[0].Time.Equal(time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)))

	_, err = Load(filepath.Join(t.TempDir(), "missing.csv"), Options{})
	require.Error(t, err)
}

func TestParseTime(t *testing.T) {
	ts, err := ParseTime(" 02/03/2024 09:00:30 ", DefaultLayouts, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 2, 9, 0, 30, 0, time.UTC), ts)

	_, err = ParseTime("", DefaultLayouts, time.UTC)
	require.Error(t, err)
}
