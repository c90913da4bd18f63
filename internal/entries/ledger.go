package entries

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/roach88/dropcam/internal/ir"
)

// ErrIndexOutOfRange is returned by Update and Delete for a bad row index.
var ErrIndexOutOfRange = errors.New("entry index out of range")

var dropIDPattern = regexp.MustCompile(`(?i)^drop(\d+)$`)

// Ledger is the drop ledger CSV file.
//
// Fields is the column order used when the file is created or rewritten.
// When empty, the header of the existing file is used.
type Ledger struct {
	Path   string
	Fields []string
}

// NewLedger creates a ledger handle. The file is not touched.
func NewLedger(path string, fields []string) *Ledger {
	return &Ledger{Path: path, Fields: fields}
}

// Load reads every row. A missing or empty file yields no entries.
// Each entry carries the ledger fields plus any extra file columns.
func (l *Ledger) Load() ([]*ir.Entry, error) {
	header, rows, err := l.read()
	if err != nil {
		return nil, err
	}
	fields := l.columns(header.Names)

	out := make([]*ir.Entry, 0, len(rows))
	for _, rec := range rows {
		e := ir.NewEntry(fields)
		header.each(rec, e.Set)
		out = append(out, e)
	}
	return out, nil
}

// Append adds one row, writing the header first if the file is new or
// empty. The row follows the existing header when there is one.
func (l *Ledger) Append(e *ir.Entry) error {
	header, _, err := l.read()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(l.Path), 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	f, err := os.OpenFile(l.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if len(header.Names) == 0 {
		names := l.columns(nil)
		if len(names) == 0 {
			names = e.Fields()
		}
		if err := w.Write(names); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		header = newHeader(names)
	}
	if err := w.Write(header.record(e)); err != nil {
		return fmt.Errorf("append entry: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("append entry: %w", err)
	}
	return f.Close()
}

// Update replaces row i (0-based) and rewrites the file.
func (l *Ledger) Update(i int, e *ir.Entry) error {
	all, err := l.Load()
	if err != nil {
		return err
	}
	if i < 0 || i >= len(all) {
		return fmt.Errorf("update %d of %d: %w", i, len(all), ErrIndexOutOfRange)
	}
	all[i] = e
	return l.rewrite(all)
}

// Delete removes row i (0-based) and rewrites the file.
func (l *Ledger) Delete(i int) (*ir.Entry, error) {
	all, err := l.Load()
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= len(all) {
		return nil, fmt.Errorf("delete %d of %d: %w", i, len(all), ErrIndexOutOfRange)
	}
	removed := all[i]
	all = append(all[:i], all[i+1:]...)
	return removed, l.rewrite(all)
}

// NextDropNumber returns one more than the highest dropN among rows with
// the given POINT_ID, or 1 when there are none.
func (l *Ledger) NextDropNumber(pointID string) (int, error) {
	pointID = strings.TrimSpace(pointID)
	all, err := l.Load()
	if err != nil {
		return 0, err
	}
	highest := 0
	for _, e := range all {
		if e.Trimmed(FieldPointID) != pointID {
			continue
		}
		if n, ok := DropNumber(e.Trimmed(FieldDropID)); ok {
			highest = max(highest, n)
		}
	}
	return highest + 1, nil
}

// DropNumber parses "drop<N>".
func DropNumber(dropID string) (int, bool) {
	m := dropIDPattern.FindStringSubmatch(dropID)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// DropID formats a drop number.
func DropID(n int) string {
	return "drop" + strconv.Itoa(n)
}

// columns merges the configured fields with file columns not among them.
func (l *Ledger) columns(header []string) []string {
	if len(l.Fields) == 0 {
		return header
	}
	out := append([]string(nil), l.Fields...)
	for _, h := range header {
		known := false
		for _, f := range l.Fields {
			if f == h {
				known = true
				break
			}
		}
		if !known {
			out = append(out, h)
		}
	}
	return out
}

func (l *Ledger) read() (csvHeader, [][]string, error) {
	f, err := os.Open(l.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return csvHeader{}, nil, nil
	}
	if err != nil {
		return csvHeader{}, nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := readHeader(r)
	if errors.Is(err, ErrNoHeader) {
		return csvHeader{}, nil, nil
	}
	if err != nil {
		return csvHeader{}, nil, fmt.Errorf("%s: %w", l.Path, err)
	}

	var rows [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return csvHeader{}, nil, fmt.Errorf("%s: %w", l.Path, err)
		}
		if blank(rec) {
			continue
		}
		rows = append(rows, rec)
	}
	return header, rows, nil
}

// rewrite replaces the file through a temp file in the same directory.
// The new header has the named columns only; blank and repeated header
// cells are dropped.
func (l *Ledger) rewrite(all []*ir.Entry) error {
	header, _, err := l.read()
	if err != nil {
		return err
	}
	fields := l.columns(header.Names)

	tmp, err := os.CreateTemp(filepath.Dir(l.Path), ".ledger-*.csv")
	if err != nil {
		return fmt.Errorf("rewrite ledger: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(fields); err != nil {
		tmp.Close()
		return fmt.Errorf("rewrite ledger: %w", err)
	}
	for _, e := range all {
		if err := w.Write(e.Values(fields)); err != nil {
			tmp.Close()
			return fmt.Errorf("rewrite ledger: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("rewrite ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("rewrite ledger: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.Path); err != nil {
		return fmt.Errorf("rewrite ledger: %w", err)
	}
	return nil
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
