// Package rename turns matched videos into file renames, applies them
// through the journal, and reverts recorded runs.
package rename

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/roach88/dropcam/internal/ir"
)

// DefaultTemplate names a video after its waypoint and the waypoint time.
const DefaultTemplate = "ID{POINT_ID}_{DATE}_{TIME}{EXT}"

// Built-in placeholders. Anything else is looked up as a waypoint column.
const (
	PlaceholderPointID = "POINT_ID"
	PlaceholderDate    = "DATE"
	PlaceholderTime    = "TIME"
	PlaceholderOrig    = "ORIG"
	PlaceholderExt     = "EXT"
	PlaceholderSeq     = "SEQ"
)

// ErrEmptyTemplate is returned by Plan for a blank template.
var ErrEmptyTemplate = errors.New("rename template is empty")

var placeholderPattern = regexp.MustCompile(`\{([^{}]*)\}`)

// UnknownPlaceholderError reports a template placeholder that is neither
// built in nor a column of the matched waypoint's row.
type UnknownPlaceholderError struct {
	Name  string
	Video string
}

func (e *UnknownPlaceholderError) Error() string {
	return fmt.Sprintf("placeholder {%s}: no such waypoint column for %s", e.Name, e.Video)
}

// Plan builds the renames for matched and inferred videos.
//
// Ops follow the order of matches. Unmatched videos are listed by path in
// Plan.Unmatched. Videos whose name already equals the target are skipped.
func Plan(matches []ir.Match, template string) (*ir.Plan, error) {
	if strings.TrimSpace(template) == "" {
		return nil, ErrEmptyTemplate
	}
	hasSeq := strings.Contains(template, "{"+PlaceholderSeq+"}")

	plan := &ir.Plan{
		Template:  template,
		Ops:       []ir.RenameOp{},
		Unmatched: []string{},
	}
	for _, m := range matches {
		if m.Waypoint == nil || m.Status == ir.MatchUnmatched {
			plan.Unmatched = append(plan.Unmatched, m.Video.Path)
			continue
		}

		name, err := TargetName(m, template)
		if err != nil {
			return nil, err
		}
		if m.Shared > 1 && !hasSeq {
			ext := filepath.Ext(name)
			name = strings.TrimSuffix(name, ext) + "_" + strconv.Itoa(m.Seq) + ext
		}

		to := filepath.Join(filepath.Dir(m.Video.Path), name)
		if to == m.Video.Path {
			continue
		}
		plan.Ops = append(plan.Ops, ir.RenameOp{
			From:    m.Video.Path,
			To:      to,
			PointID: m.Waypoint.PointID,
			Status:  m.Status,
			Delta:   m.Delta,
		})
	}
	return plan, nil
}

// TargetName expands template for one match and makes the result safe to
// use as a file name. A name without an extension keeps the video's own.
func TargetName(m ir.Match, template string) (string, error) {
	if m.Waypoint == nil {
		return "", fmt.Errorf("%s: not matched", m.Video.Name)
	}
	name := m.Video.Name
	if name == "" {
		name = filepath.Base(m.Video.Path)
	}
	ext := filepath.Ext(name)
	wp := m.Waypoint

	var missing string
	out := placeholderPattern.ReplaceAllStringFunc(template, func(tok string) string {
		key := tok[1 : len(tok)-1]
		switch key {
		case PlaceholderPointID:
			return wp.PointID
		case PlaceholderDate:
			return wp.Time.Format("20060102")
		case PlaceholderTime:
			return wp.Time.Format("150405")
		case PlaceholderOrig:
			return strings.TrimSuffix(name, ext)
		case PlaceholderExt:
			return ext
		case PlaceholderSeq:
			return strconv.Itoa(max(m.Seq, 1))
		}
		if v, ok := column(wp.Row, key); ok {
			return v
		}
		if missing == "" {
			missing = key
		}
		return ""
	})
	if missing != "" {
		return "", &UnknownPlaceholderError{Name: missing, Video: name}
	}

	out = Sanitize(out)
	if out == "" || out == ext {
		return "", fmt.Errorf("%s: template %q expands to an empty name", name, template)
	}
	if filepath.Ext(out) == "" {
		out += ext
	}
	return out, nil
}

func column(row map[string]string, key string) (string, bool) {
	if v, ok := row[key]; ok {
		return strings.TrimSpace(v), true
	}
	for k, v := range row {
		if strings.EqualFold(k, key) {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

// Sanitize replaces characters that are unsafe in file names on common
// filesystems with '_' and trims surrounding spaces and trailing dots.
func Sanitize(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, r == 0x7f:
			return '_'
		case strings.ContainsRune(`<>:"/\|?*`, r):
			return '_'
		}
		return r
	}, name)
	return strings.TrimRight(strings.TrimSpace(name), ".")
}
