package entries

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/roach88/dropcam/internal/ir"
	"github.com/roach88/dropcam/internal/waypoints"
)

// Well-known ledger fields.
const (
	FieldPointID        = "POINT_ID"
	FieldDropID         = "DROP_ID"
	FieldFilename       = "FILENAME"
	FieldVideoFilename  = "VIDEO_FILENAME"
	FieldVideoTimestamp = "VIDEO_TIMESTAMP"
	FieldYear           = "YEAR"
	FieldDate           = "DATE"
	FieldTime           = "TIME"
	FieldDateTime       = "DATE_TIME"
)

// ErrNoHeader is returned for a CSV file without a usable header row.
var ErrNoHeader = errors.New("no header row")

// LoadTemplate returns the field names from the header of a template CSV.
// Blank names are dropped; duplicates keep their first position.
func LoadTemplate(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open template: %w", err)
	}
	defer f.Close()

	header, err := readHeader(csv.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return header.Names, nil
}

// csvHeader is a cleaned header row. Names are unique and non-blank, in file
// order; Cols holds the raw record position of each name, so blank and
// repeated header cells never shift the columns after them.
type csvHeader struct {
	Names []string
	Cols  []int
	Width int // raw header length
}

// each calls fn with every named cell of rec.
func (h csvHeader) each(rec []string, fn func(name, value string)) {
	for i, c := range h.Cols {
		if c < len(rec) {
			fn(h.Names[i], rec[c])
		}
	}
}

// record lays e out in the raw header's column positions. Unnamed columns
// are left empty.
func (h csvHeader) record(e *ir.Entry) []string {
	rec := make([]string, h.Width)
	for i, c := range h.Cols {
		rec[c] = e.Get(h.Names[i])
	}
	return rec
}

func newHeader(names []string) csvHeader {
	h := csvHeader{Names: names, Cols: make([]int, len(names)), Width: len(names)}
	for i := range names {
		h.Cols[i] = i
	}
	return h
}

func readHeader(r *csv.Reader) (csvHeader, error) {
	r.FieldsPerRecord = -1
	raw, err := r.Read()
	if errors.Is(err, io.EOF) {
		return csvHeader{}, ErrNoHeader
	}
	if err != nil {
		return csvHeader{}, fmt.Errorf("read header: %w", err)
	}

	cleaned := waypoints.CleanHeader(raw)
	h := csvHeader{Width: len(cleaned)}
	seen := make(map[string]bool, len(cleaned))
	for i, name := range cleaned {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		h.Names = append(h.Names, name)
		h.Cols = append(h.Cols, i)
	}
	if len(h.Names) == 0 {
		return csvHeader{}, ErrNoHeader
	}
	return h, nil
}

// ComposeDateTime sets DATE_TIME to "DATE TIME" when both are present and
// clears it otherwise. Entries without a DATE_TIME field are unchanged.
func ComposeDateTime(e *ir.Entry) {
	if !e.Has(FieldDateTime) {
		return
	}
	date, clock := e.Trimmed(FieldDate), e.Trimmed(FieldTime)
	if date == "" || clock == "" {
		e.Set(FieldDateTime, "")
		return
	}
	e.Set(FieldDateTime, date+" "+clock)
}
