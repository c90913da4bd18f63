package ir

import "time"

// Waypoint is one row of the survey waypoint table.
type Waypoint struct {
	PointID string            `json:"point_id"`
	Time    time.Time         `json:"time"`
	Lat     *float64          `json:"lat,omitempty"`
	Lon     *float64          `json:"lon,omitempty"`
	Row     map[string]string `json:"row,omitempty"` // every column of the source row
}

// TimeSource records where a video's creation time came from.
type TimeSource string

const (
	TimeSourceMetadata TimeSource = "metadata" // container creation_time tag
	TimeSourceFilename TimeSource = "filename" // timestamp embedded in the file name
	TimeSourceModTime  TimeSource = "modtime"  // filesystem modification time
)

// Video describes a video file and its probed properties.
type Video struct {
	Path     string        `json:"path"`
	Name     string        `json:"name"`
	Created  time.Time     `json:"created"`
	Source   TimeSource    `json:"source"`
	Duration time.Duration `json:"duration,omitempty"`
	FPS      float64       `json:"fps,omitempty"`
	Frames   int           `json:"frames,omitempty"`
}

// MatchStatus is the outcome of matching one video.
type MatchStatus string

const (
	MatchMatched   MatchStatus = "matched"   // nearest waypoint within tolerance
	MatchInferred  MatchStatus = "inferred"  // assigned from sequential POINT_ID neighbours
	MatchUnmatched MatchStatus = "unmatched" // nothing within tolerance
)

// Match pairs a video with a waypoint.
type Match struct {
	Video    Video         `json:"video"`
	Waypoint *Waypoint     `json:"waypoint,omitempty"` // nil when unmatched
	Delta    time.Duration `json:"delta"`              // video time (offset applied) minus waypoint time
	Status   MatchStatus   `json:"status"`
	Seq      int           `json:"seq,omitempty"`    // 1-based position among videos sharing the waypoint
	Shared   int           `json:"shared,omitempty"` // number of videos sharing the waypoint
}

// RenameOp is a single planned file rename.
type RenameOp struct {
	From    string        `json:"from"`
	To      string        `json:"to"`
	PointID string        `json:"point_id"`
	Status  MatchStatus   `json:"status"`
	Delta   time.Duration `json:"delta"`
}

// Plan is an ordered list of renames plus the videos that were left alone.
type Plan struct {
	Template  string     `json:"template"`
	Ops       []RenameOp `json:"ops"`
	Unmatched []string   `json:"unmatched,omitempty"`
}

// Rule kinds.
const (
	RuleAllowed     = "allowed"
	RuleRange       = "range"
	RuleRequired    = "required"
	RuleConditional = "conditional"
	RuleSum         = "sum"
	RuleAutofill    = "autofill"
	RulePattern     = "pattern"
)

// ValidRuleKinds defines allowed rule kinds.
var ValidRuleKinds = map[string]bool{
	RuleAllowed:     true,
	RuleRange:       true,
	RuleRequired:    true,
	RuleConditional: true,
	RuleSum:         true,
	RuleAutofill:    true,
	RulePattern:     true,
}

// RuleSet is a compiled, ordered set of validation rules.
type RuleSet struct {
	Name   string   `json:"name"`
	Fields []string `json:"fields,omitempty"` // known form fields, optional
	Rules  []Rule   `json:"rules"`
}

// Rule is a single declarative check or auto-fill.
// Which fields are meaningful depends on Kind.
type Rule struct {
	ID            string     `json:"id"`
	Kind          string     `json:"kind"`
	Field         string     `json:"field,omitempty"`
	Fields        []string   `json:"fields,omitempty"`         // sum
	Values        []string   `json:"values,omitempty"`         // allowed
	CaseSensitive bool       `json:"case_sensitive,omitempty"` // allowed, conditional
	Min           *float64   `json:"min,omitempty"`            // range
	Max           *float64   `json:"max,omitempty"`            // range
	Equals        float64    `json:"equals,omitempty"`         // sum
	Tolerance     float64    `json:"tolerance,omitempty"`      // sum
	Pattern       string     `json:"pattern,omitempty"`        // pattern
	Template      string     `json:"template,omitempty"`       // autofill
	Overwrite     bool       `json:"overwrite,omitempty"`      // autofill
	When          *Condition `json:"when,omitempty"`           // conditional
	Then          []Rule     `json:"then,omitempty"`           // conditional
	Message       string     `json:"message,omitempty"`        // custom violation text
}

// Condition guards a conditional rule.
// Exactly one of Equals, In or NotEmpty is expected to be set.
type Condition struct {
	Field    string   `json:"field"`
	Equals   *string  `json:"equals,omitempty"`
	In       []string `json:"in,omitempty"`
	NotEmpty bool     `json:"not_empty,omitempty"`
}
