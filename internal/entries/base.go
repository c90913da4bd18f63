package entries

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/dropcam/internal/ir"
)

var pointIDPattern = regexp.MustCompile(`(?i)ID(\d+)`)

// BaseTable holds per-video base data keyed by VIDEO_FILENAME.
type BaseTable struct {
	Header []string
	Rows   []map[string]string
}

// LoadBase reads a base data CSV. The file must have a header row; a
// VIDEO_FILENAME column is needed for lookups but not required to load.
func LoadBase(path string) (*BaseTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open base data: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.LazyQuotes = true
	header, err := readHeader(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	t := &BaseTable{Header: header.Names}
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if blank(rec) {
			continue
		}
		row := make(map[string]string, len(header.Names))
		header.each(rec, func(name, value string) {
			row[name] = strings.TrimSpace(value)
		})
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// LookupVideo returns the first row whose VIDEO_FILENAME equals the video
// file name, with or without extension. Names are compared NFC-normalised
// so names typed on macOS match names written elsewhere.
func (t *BaseTable) LookupVideo(filename string) (map[string]string, bool) {
	if t == nil {
		return nil, false
	}
	name := norm.NFC.String(filepath.Base(filename))
	stem := strings.TrimSuffix(name, filepath.Ext(name))

	for _, row := range t.Rows {
		v := norm.NFC.String(strings.TrimSpace(row[FieldVideoFilename]))
		if v == "" {
			continue
		}
		if v == name || strings.TrimSuffix(v, filepath.Ext(v)) == stem {
			return row, true
		}
	}
	return nil, false
}

// PointIDFromName extracts the digits of an "ID<digits>" token from a file
// name, case-insensitively. ok is false when there is none.
func PointIDFromName(name string) (string, bool) {
	m := pointIDPattern.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Prefill builds a fresh entry over fields from a base row.
//
// Base columns that are ledger fields are copied when non-empty. YEAR, DATE
// and TIME then come from VIDEO_TIMESTAMP ("DD/MM/YYYY H:MM[:SS]") when the
// row has one, and from the row's own YEAR/DATE/TIME otherwise. DATE and
// YEAR are only taken from a day/month/year date. DATE_TIME is the row's
// DATE_TIME, else VIDEO_TIMESTAMP.
func Prefill(base map[string]string, fields []string) *ir.Entry {
	e := ir.NewEntry(fields)
	if base == nil {
		return e
	}
	for _, f := range fields {
		if v := strings.TrimSpace(base[f]); v != "" {
			e.Set(f, v)
		}
	}

	stamp := strings.TrimSpace(base[FieldVideoTimestamp])
	if stamp != "" {
		if date, clock, year, ok := SplitVideoTimestamp(stamp); ok {
			if year != "" {
				e.SetKnown(FieldYear, year)
				e.SetKnown(FieldDate, date)
			}
			e.SetKnown(FieldTime, clock)
		}
	}

	switch {
	case strings.TrimSpace(base[FieldDateTime]) != "":
		e.SetKnown(FieldDateTime, strings.TrimSpace(base[FieldDateTime]))
	case stamp != "":
		e.SetKnown(FieldDateTime, stamp)
	}
	return e
}

// SplitVideoTimestamp splits "27/11/2025 9:22" into date "27/11/2025",
// time "9:22" and year "2025". The year is empty when the date is not
// day/month/year. ok is false when there is no time part.
func SplitVideoTimestamp(s string) (date, clock, year string, ok bool) {
	parts := strings.Fields(s)
	if len(parts) < 2 {
		return "", "", "", false
	}
	date, clock = parts[0], parts[1]
	if dmy := strings.Split(date, "/"); len(dmy) == 3 {
		year = dmy[2]
	}
	return date, clock, year, true
}
