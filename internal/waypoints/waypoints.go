// Package waypoints loads survey waypoint tables from CSV.
package waypoints

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/dropcam/internal/ir"
)

// DefaultLayouts are tried in order when Options.Layouts is empty.
var DefaultLayouts = []string{
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

var (
	latColumns = []string{"LAT", "LATITUDE"}
	lonColumns = []string{"LON", "LONG", "LONGITUDE"}
)

// Options controls column resolution and time parsing.
type Options struct {
	IDColumn    string // default POINT_ID
	TimeColumn  string // default DATE_TIME
	DateColumn  string // used with ClockColumn when TimeColumn is absent
	ClockColumn string
	Layouts     []string
	Location    *time.Location // default time.Local
	Logger      *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.IDColumn == "" {
		o.IDColumn = "POINT_ID"
	}
	if o.TimeColumn == "" {
		o.TimeColumn = "DATE_TIME"
	}
	if len(o.Layouts) == 0 {
		o.Layouts = DefaultLayouts
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// RowError reports a problem with one data row. Row is 1-based and counts
// the header, so it matches what a spreadsheet shows.
type RowError struct {
	Row    int
	Column string
	Value  string
	Err    error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %s %q: %v", e.Row, e.Column, e.Value, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// ErrMissingColumn is returned when the ID or time column cannot be found.
var ErrMissingColumn = errors.New("missing column")

// Load reads a waypoint CSV file.
func Load(path string, opts Options) ([]ir.Waypoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open waypoints: %w", err)
	}
	defer f.Close()

	wps, err := Parse(f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return wps, nil
}

// Parse reads waypoints from CSV. Rows without an ID are skipped.
func Parse(r io.Reader, opts Options) ([]ir.Waypoint, error) {
	opts = opts.withDefaults()

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty file", ErrMissingColumn)
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	header = CleanHeader(header)

	idCol := ColumnIndex(header, opts.IDColumn)
	if idCol < 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, opts.IDColumn)
	}

	timeCol := ColumnIndex(header, opts.TimeColumn)
	dateCol, clockCol := -1, -1
	if timeCol < 0 {
		if opts.DateColumn != "" && opts.ClockColumn != "" {
			dateCol = ColumnIndex(header, opts.DateColumn)
			clockCol = ColumnIndex(header, opts.ClockColumn)
		}
		if dateCol < 0 || clockCol < 0 {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, opts.TimeColumn)
		}
	}

	latCol := firstColumn(header, latColumns)
	lonCol := firstColumn(header, lonColumns)

	var out []ir.Waypoint
	for row := 2; ; row++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}

		id := strings.TrimSpace(field(rec, idCol))
		if id == "" {
			opts.Logger.Warn("skipping waypoint row without id", "row", row)
			continue
		}

		var raw, column string
		if timeCol >= 0 {
			raw, column = field(rec, timeCol), header[timeCol]
		} else {
			raw = strings.TrimSpace(field(rec, dateCol)) + " " + strings.TrimSpace(field(rec, clockCol))
			column = header[dateCol] + "+" + header[clockCol]
		}
		ts, err := ParseTime(raw, opts.Layouts, opts.Location)
		if err != nil {
			return nil, &RowError{Row: row, Column: column, Value: raw, Err: err}
		}

		wp := ir.Waypoint{
			PointID: id,
			Time:    ts,
			Row:     make(map[string]string, len(header)),
		}
		for i, name := range header {
			wp.Row[name] = field(rec, i)
		}
		if wp.Lat, err = optionalFloat(rec, latCol); err != nil {
			return nil, &RowError{Row: row, Column: header[latCol], Value: field(rec, latCol), Err: err}
		}
		if wp.Lon, err = optionalFloat(rec, lonCol); err != nil {
			return nil, &RowError{Row: row, Column: header[lonCol], Value: field(rec, lonCol), Err: err}
		}
		out = append(out, wp)
	}

	opts.Logger.Debug("loaded waypoints", "count", len(out))
	return out, nil
}

// ParseTime tries each layout in order.
func ParseTime(s string, layouts []string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty time")
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("no layout matches (tried %s)", strings.Join(layouts, ", "))
}

// CleanHeader trims names and strips a UTF-8 byte order mark.
func CleanHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		out[i] = strings.TrimSpace(h)
	}
	return out
}

// ColumnIndex finds a column by case-insensitive name, or -1.
func ColumnIndex(header []string, name string) int {
	for i, h := range header {
		if strings.EqualFold(h, name) {
			return i
		}
	}
	return -1
}

func firstColumn(header []string, names []string) int {
	for _, n := range names {
		if i := ColumnIndex(header, n); i >= 0 {
			return i
		}
	}
	return -1
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return rec[i]
}

func optionalFloat(rec []string, i int) (*float64, error) {
	s := strings.TrimSpace(field(rec, i))
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}
