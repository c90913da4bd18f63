package entries

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dropcam/internal/ir"
	"github.com/roach88/dropcam/internal/testutil"
)

var ledgerFields = []string{"POINT_ID", "DROP_ID", "FILENAME", "DATE", "TIME", "DATE_TIME", "SUBSTRATE"}

func entry(values map[string]string) *ir.Entry {
	return ir.EntryFromMap(ledgerFields, values)
}

func TestLoadTemplate(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteCSV(t, dir, "template.csv", []string{"\ufeffPOINT_ID", " DROP_ID ", "", "DROP_ID", "NOTES"})

	fields, err := LoadTemplate(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"POINT_ID", "DROP_ID", "NOTES"}, fields)
}

func TestLoadTemplateErrors(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.csv")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))

	_, err := LoadTemplate(empty)
	assert.ErrorIs(t, err, ErrNoHeader)

	_, err = LoadTemplate(filepath.Join(dir, "missing.csv"))
	assert.Error(t, err)
}

func TestLedgerAppendCreatesHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "data_entries.csv")
	l := NewLedger(path, ledgerFields)

	require.NoError(t, l.Append(entry(map[string]string{"POINT_ID": "12", "DROP_ID": "drop1"})))
	require.NoError(t, l.Append(entry(map[string]string{"POINT_ID": "12", "DROP_ID": "drop2", "SUBSTRATE": "sand, shell"})))

	records := testutil.ReadCSV(t, path)
	require.Len(t, records, 3)
	assert.Equal(t, ledgerFields, records[0])
	assert.Equal(t, "drop2", records[2][1])
	assert.Equal(t, "sand, shell", records[2][6])
}

func TestLedgerAppendFollowsExistingHeader(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteCSV(t, dir, "data_entries.csv", []string{"DROP_ID", "POINT_ID"})
	l := NewLedger(path, ledgerFields)

	require.NoError(t, l.Append(entry(map[string]string{"POINT_ID": "7", "DROP_ID": "drop1"})))

	records := testutil.ReadCSV(t, path)
	assert.Equal(t, [][]string{{"DROP_ID", "POINT_ID"}, {"drop1", "7"}}, records)
}

func TestLedgerLoadMissingFile(t *testing.T) {
	l := NewLedger(filepath.Join(t.TempDir(), "nope.csv"), ledgerFields)

	all, err := l.Load()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestLedgerLoadKeepsExtraColumns(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteCSV(t, dir, "d.csv", []string{"POINT_ID", "DROP_ID", "LEGACY"},
		[]string{"12", "drop1", "x"},
		[]string{"", "", ""},
	)
	l := NewLedger(path, []string{"POINT_ID", "DROP_ID", "SUBSTRATE"})

	all, err := l.Load()
	require.NoError(t, err)
	require.Len(t, all, 1, "blank rows are skipped")
	assert.Equal(t, []string{"POINT_ID", "DROP_ID", "SUBSTRATE", "LEGACY"}, all[0].Fields())
	assert.Equal(t, "x", all[0].Get("LEGACY"))
	assert.Equal(t, "", all[0].Get("SUBSTRATE"))
}

func TestLedgerBlankHeaderCellKeepsColumns(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteCSV(t, dir, "d.csv", []string{"POINT_ID", "", "DROP_ID"},
		[]string{"5", "note", "drop3"},
	)
	l := NewLedger(path, nil)

	all, err := l.Load()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "5", all[0].Get("POINT_ID"))
	assert.Equal(t, "drop3", all[0].Get("DROP_ID"))

	next, err := l.NextDropNumber("5")
	require.NoError(t, err)
	assert.Equal(t, 4, next)

	require.NoError(t, l.Append(ir.EntryFromMap([]string{"POINT_ID", "DROP_ID"},
		map[string]string{"POINT_ID": "5", "DROP_ID": "drop4"})))
	all, err = l.Load()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "drop4", all[1].Get("DROP_ID"))

	require.NoError(t, l.Update(0, ir.EntryFromMap([]string{"POINT_ID", "DROP_ID"},
		map[string]string{"POINT_ID": "5", "DROP_ID": "drop3"})))
	all, err = l.Load()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "drop3", all[0].Get("DROP_ID"))
	assert.Equal(t, "drop4", all[1].Get("DROP_ID"))

	next, err = l.NextDropNumber("5")
	require.NoError(t, err)
	assert.Equal(t, 5, next)
}

func TestLedgerUpdateAndDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.csv")
	l := NewLedger(path, ledgerFields)
	for _, id := range []string{"drop1", "drop2", "drop3"} {
		require.NoError(t, l.Append(entry(map[string]string{"POINT_ID": "12", "DROP_ID": id})))
	}

	require.NoError(t, l.Update(1, entry(map[string]string{"POINT_ID": "12", "DROP_ID": "drop2", "SUBSTRATE": "rock"})))
	removed, err := l.Delete(0)
	require.NoError(t, err)
	assert.Equal(t, "drop1", removed.Get("DROP_ID"))

	all, err := l.Load()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "drop2", all[0].Get("DROP_ID"))
	assert.Equal(t, "rock", all[0].Get("SUBSTRATE"))
	assert.Equal(t, "drop3", all[1].Get("DROP_ID"))

	assert.ErrorIs(t, l.Update(5, entry(nil)), ErrIndexOutOfRange)
	_, err = l.Delete(-1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".ledger-*"))
	require.NoError(t, err)
	assert.Empty(t, matches, "temp files are cleaned up")
}

func TestNextDropNumber(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteCSV(t, dir, "d.csv", ledgerFields,
		[]string{"12", "drop1"},
		[]string{"12", "Drop3"},
		[]string{"13", "drop9"},
		[]string{"12", "bogus"},
		[]string{" 12 ", "drop2"},
	)
	l := NewLedger(path, ledgerFields)

	tests := []struct {
		point string
		want  int
	}{
		{"12", 4},
		{"13", 10},
		{"99", 1},
	}
	for _, tt := range tests {
		t.Run(tt.point, func(t *testing.T) {
			got, err := l.NextDropNumber(tt.point)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	missing := NewLedger(filepath.Join(dir, "none.csv"), ledgerFields)
	got, err := missing.NextDropNumber("12")
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}

func TestDropNumber(t *testing.T) {
	n, ok := DropNumber("drop12")
	assert.True(t, ok)
	assert.Equal(t, 12, n)

	_, ok = DropNumber("drop")
	assert.False(t, ok)
	_, ok = DropNumber("xdrop1")
	assert.False(t, ok)

	assert.Equal(t, "drop4", DropID(4))
}

func TestLookupVideoDuplicateHeader(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteCSV(t, dir, "base.csv", []string{"SITE", "SITE", "VIDEO_FILENAME", "POINT_ID"},
		[]string{"A", "B", "v1.mp4", "7"},
	)
	base, err := LoadBase(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"SITE", "VIDEO_FILENAME", "POINT_ID"}, base.Header)

	row, ok := base.LookupVideo("v1.mp4")
	require.True(t, ok)
	assert.Equal(t, "7", row["POINT_ID"])
	assert.Equal(t, "A", row["SITE"], "first occurrence wins")
}

func TestLookupVideo(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteCSV(t, dir, "base.csv", []string{"VIDEO_FILENAME", "POINT_ID"},
		[]string{"GOPR0001.MP4", "12"},
		[]string{"ID13_reef", "13"},
		[]string{"Café.mp4", "14"},
	)
	base, err := LoadBase(path)
	require.NoError(t, err)

	tests := []struct {
		video string
		want  string
		ok    bool
	}{
		{"/videos/GOPR0001.MP4", "12", true},
		{"GOPR0001.mov", "12", true},
		{"ID13_reef.mp4", "13", true},
		{"Cafe\u0301.mp4", "14", true},
		{"other.mp4", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.video, func(t *testing.T) {
			row, ok := base.LookupVideo(tt.video)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, row["POINT_ID"])
			}
		})
	}

	var none *BaseTable
	_, ok := none.LookupVideo("a.mp4")
	assert.False(t, ok)
}

func TestPointIDFromName(t *testing.T) {
	id, ok := PointIDFromName("/v/survey_id042_left.mp4")
	assert.True(t, ok)
	assert.Equal(t, "042", id)

	_, ok = PointIDFromName("GOPR0001.MP4")
	assert.False(t, ok)
}

func TestPrefillFromVideoTimestamp(t *testing.T) {
	fields := []string{"POINT_ID", "SITE", "YEAR", "DATE", "TIME", "DATE_TIME", "DROP_ID"}
	base := map[string]string{
		"POINT_ID":        "12",
		"SITE":            " North ",
		"YEAR":            "1999",
		"VIDEO_TIMESTAMP": "27/11/2025 9:22",
		"UNRELATED":       "x",
	}

	e := Prefill(base, fields)
	assert.Equal(t, fields, e.Fields())
	assert.Equal(t, "12", e.Get("POINT_ID"))
	assert.Equal(t, "North", e.Get("SITE"))
	assert.Equal(t, "2025", e.Get("YEAR"))
	assert.Equal(t, "27/11/2025", e.Get("DATE"))
	assert.Equal(t, "9:22", e.Get("TIME"))
	assert.Equal(t, "27/11/2025 9:22", e.Get("DATE_TIME"))
	assert.False(t, e.Has("UNRELATED"))
}

func TestPrefillFallsBackToBaseColumns(t *testing.T) {
	fields := []string{"YEAR", "DATE", "TIME", "DATE_TIME"}
	base := map[string]string{"YEAR": "2024", "DATE": "01/02/2024", "TIME": "10:00", "DATE_TIME": "01/02/2024 10:00"}

	e := Prefill(base, fields)
	assert.Equal(t, []string{"2024", "01/02/2024", "10:00", "01/02/2024 10:00"}, e.Values(fields))

	empty := Prefill(nil, fields)
	assert.Equal(t, []string{"", "", "", ""}, empty.Values(fields))
}

func TestSplitVideoTimestamp(t *testing.T) {
	date, clock, year, ok := SplitVideoTimestamp("27/11/2025 9:22:05")
	assert.True(t, ok)
	assert.Equal(t, []string{"27/11/2025", "9:22:05", "2025"}, []string{date, clock, year})

	_, clock, year, ok = SplitVideoTimestamp("2025-11-27 09:22")
	assert.True(t, ok)
	assert.Equal(t, "09:22", clock)
	assert.Empty(t, year)

	_, _, _, ok = SplitVideoTimestamp("27/11/2025")
	assert.False(t, ok)
}

func TestComposeDateTime(t *testing.T) {
	e := entry(map[string]string{"DATE": "27/11/2025", "TIME": "9:22", "DATE_TIME": "stale"})
	ComposeDateTime(e)
	assert.Equal(t, "27/11/2025 9:22", e.Get("DATE_TIME"))

	e.Set("TIME", " ")
	ComposeDateTime(e)
	assert.Equal(t, "", e.Get("DATE_TIME"))

	noField := ir.NewEntry([]string{"DATE", "TIME"})
	ComposeDateTime(noField)
	assert.False(t, noField.Has("DATE_TIME"))
}
