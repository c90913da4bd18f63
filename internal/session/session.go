// Package session drives drop extraction: it walks the video queue, keeps
// the per-POINT_ID drop counter, writes stills through ffmpeg and appends
// validated entries to the ledger.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/dropcam/internal/entries"
	"github.com/roach88/dropcam/internal/ir"
	"github.com/roach88/dropcam/internal/media"
	"github.com/roach88/dropcam/internal/rules"
)

// ErrNoVideo is returned by operations that need a loaded video.
var ErrNoVideo = errors.New("no video loaded")

// ErrUnknownFrameCount is returned by BatchExtract when the probe could not
// tell how many frames a video has.
var ErrUnknownFrameCount = errors.New("unknown frame count")

// UnknownFieldError reports an observation for a field the ledger does not have.
type UnknownFieldError struct {
	Field string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown field %q", e.Field)
}

// Config wires a Session to its collaborators.
type Config struct {
	StillsDir string
	Fields    []string // ledger field order; usually from the template CSV
	Ledger    *entries.Ledger
	Base      *entries.BaseTable // optional
	Evaluator *rules.Evaluator   // optional; nil accepts every entry
	Prober    media.Prober
	Extractor media.Extractor
	Workers   int              // parallel ffmpeg runs for BatchExtract, default 1
	Now       func() time.Time // default time.Now
	Logger    *slog.Logger
}

// State describes the loaded video.
type State struct {
	Index    int               `json:"index"`
	Video    ir.Video          `json:"video"`
	Base     map[string]string `json:"base,omitempty"`
	PointID  string            `json:"point_id,omitempty"`
	NextDrop int               `json:"next_drop"`
}

// Extracted is the outcome of a successful Extract.
type Extracted struct {
	Still  string       `json:"still"`
	Entry  *ir.Entry    `json:"entry"`
	Report rules.Report `json:"-"`
}

// Session is one data-entry sitting over a queue of videos. It is safe for
// concurrent use; Load, ResetDropCount and Extract run one at a time.
type Session struct {
	cfg   Config
	queue *Queue
	log   *slog.Logger

	opMu sync.Mutex // serializes state-changing operations

	mu     sync.Mutex // guards loaded and state
	loaded bool
	state  State
}

// New creates a session. No video is loaded yet.
func New(queue *Queue, cfg Config) *Session {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Session{cfg: cfg, queue: queue, log: log}
}

// Queue returns the session's video queue.
func (s *Session) Queue() *Queue {
	return s.queue
}

// Load selects video i of the queue, probes it, looks up its base row and
// works out the next drop number.
//
// The POINT_ID comes from the base row, else an "ID<digits>" token in the
// file name. With a POINT_ID the next drop follows the ledger; without one
// it follows the stills already written for this video.
func (s *Session) Load(ctx context.Context, i int) (State, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	path, err := s.queue.Seek(i)
	if err != nil {
		return State{}, err
	}
	video, err := s.cfg.Prober.Probe(ctx, path)
	if err != nil {
		return State{}, err
	}

	st := State{Index: i, Video: video}
	if row, ok := s.cfg.Base.LookupVideo(video.Name); ok {
		st.Base = row
		st.PointID = strings.TrimSpace(row[entries.FieldPointID])
	}
	if st.PointID == "" {
		st.PointID, _ = entries.PointIDFromName(video.Name)
	}

	if st.PointID != "" {
		st.NextDrop, err = s.cfg.Ledger.NextDropNumber(st.PointID)
		if err != nil {
			return State{}, err
		}
	} else {
		st.NextDrop, err = NextStillNumber(s.cfg.StillsDir, video.Name)
		if err != nil {
			return State{}, err
		}
	}

	s.mu.Lock()
	s.state = st
	s.loaded = true
	s.mu.Unlock()

	s.log.Info("video loaded",
		"video", video.Name,
		"point_id", st.PointID,
		"next_drop", st.NextDrop,
		"base_row", st.Base != nil,
	)
	return st, nil
}

// State returns the loaded video's state.
func (s *Session) State() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return State{}, ErrNoVideo
	}
	return s.state, nil
}

// Draft returns the entry the next extraction starts from: the base row
// prefill with DROP_ID set to the next drop.
func (s *Session) Draft() (*ir.Entry, error) {
	st, err := s.State()
	if err != nil {
		return nil, err
	}
	return s.draft(st), nil
}

func (s *Session) draft(st State) *ir.Entry {
	e := entries.Prefill(st.Base, s.cfg.Fields)
	if st.PointID != "" && e.Trimmed(entries.FieldPointID) == "" {
		e.SetKnown(entries.FieldPointID, st.PointID)
	}
	e.Set(entries.FieldDropID, entries.DropID(st.NextDrop))
	return e
}

// ResetDropCount sets the next drop number for the loaded video.
func (s *Session) ResetDropCount(n int) error {
	if n < 1 {
		return fmt.Errorf("drop count must be at least 1, got %d", n)
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return ErrNoVideo
	}
	s.state.NextDrop = n
	s.log.Info("drop count reset", "video", s.state.Video.Name, "next_drop", n)
	return nil
}

// Extract writes frame of the loaded video as the next drop still and
// appends its entry to the ledger.
//
// observations are set on top of the draft. The entry is checked against
// the rules first; violations refuse the save unless force is set.
func (s *Session) Extract(ctx context.Context, frame int, observations map[string]string, force bool) (Extracted, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	st, err := s.State()
	if err != nil {
		return Extracted{}, err
	}
	if st.Video.Frames > 0 && (frame < 0 || frame >= st.Video.Frames) {
		return Extracted{}, fmt.Errorf("frame %d out of range [0, %d)", frame, st.Video.Frames)
	}

	e := s.draft(st)
	if err := s.applyObservations(e, observations); err != nil {
		return Extracted{}, err
	}

	still := StillName(st.Video.Name, st.NextDrop)
	e.Set(entries.FieldDropID, entries.DropID(st.NextDrop))
	e.Set(entries.FieldFilename, still)
	entries.ComposeDateTime(e)

	report, err := s.check(e, force)
	if err != nil {
		return Extracted{Entry: report.Entry, Report: report}, err
	}

	out := filepath.Join(s.cfg.StillsDir, still)
	if _, err := os.Stat(out); err == nil {
		s.log.Warn("overwriting still", "still", still)
	}
	if err := s.cfg.Extractor.ExtractFrame(ctx, st.Video.Path, frame, st.Video.FPS, out); err != nil {
		return Extracted{}, err
	}
	if err := s.cfg.Ledger.Append(report.Entry); err != nil {
		return Extracted{}, fmt.Errorf("still %s written but entry not saved: %w", still, err)
	}

	s.mu.Lock()
	s.state.NextDrop = st.NextDrop + 1
	s.mu.Unlock()

	s.log.Info("drop extracted",
		"video", st.Video.Name,
		"point_id", e.Get(entries.FieldPointID),
		"drop_id", e.Get(entries.FieldDropID),
		"frame", frame,
		"forced", force && !report.Pass(),
	)
	return Extracted{Still: out, Entry: report.Entry, Report: report}, nil
}

func (s *Session) applyObservations(e *ir.Entry, observations map[string]string) error {
	for k, v := range observations {
		if len(s.cfg.Fields) == 0 {
			e.Set(k, v)
			continue
		}
		if !e.SetKnown(k, v) {
			return &UnknownFieldError{Field: k}
		}
	}
	return nil
}

// check runs the rules. With force the report is returned without error
// even when it fails.
func (s *Session) check(e *ir.Entry, force bool) (rules.Report, error) {
	if s.cfg.Evaluator == nil {
		return rules.Report{Entry: e, Violations: []rules.Violation{}, Filled: []string{}}, nil
	}
	report := s.cfg.Evaluator.Evaluate(e)
	if report.Pass() {
		return report, nil
	}
	if force {
		s.log.Warn("saving entry with violations", "violations", len(report.Violations))
		return report, nil
	}
	return report, report.Err()
}

// Entries returns every ledger row.
func (s *Session) Entries() ([]*ir.Entry, error) {
	return s.cfg.Ledger.Load()
}

// SaveEdit checks an edited entry and writes it over ledger row i.
func (s *Session) SaveEdit(i int, e *ir.Entry, force bool) (rules.Report, error) {
	e = e.Clone()
	entries.ComposeDateTime(e)
	report, err := s.check(e, force)
	if err != nil {
		return report, err
	}
	if err := s.cfg.Ledger.Update(i, report.Entry); err != nil {
		return report, err
	}
	s.log.Info("entry updated", "index", i, "drop_id", report.Entry.Get(entries.FieldDropID))
	return report, nil
}

// Delete removes ledger row i and returns it.
func (s *Session) Delete(i int) (*ir.Entry, error) {
	removed, err := s.cfg.Ledger.Delete(i)
	if err != nil {
		return nil, err
	}
	s.log.Info("entry deleted", "index", i, "drop_id", removed.Get(entries.FieldDropID))
	return removed, nil
}

// ExtractManual writes one frame of video to <video>_frames/ next to the
// video, named by frame index and wall-clock time.
func (s *Session) ExtractManual(ctx context.Context, video string, frame int) (string, error) {
	v, err := s.cfg.Prober.Probe(ctx, video)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("frame_%06d_%s.jpg", frame, s.cfg.Now().Format("20060102_150405"))
	out := filepath.Join(FramesDir(video, "_frames"), name)
	if err := s.cfg.Extractor.ExtractFrame(ctx, v.Path, frame, v.FPS, out); err != nil {
		return "", err
	}
	return out, nil
}

// BatchExtract writes every Nth frame of video to <video>_batch_frames/,
// named by frame index. Returns the written paths in frame order.
func (s *Session) BatchExtract(ctx context.Context, video string, every int) ([]string, error) {
	if every < 1 {
		return nil, fmt.Errorf("frame interval must be at least 1, got %d", every)
	}
	v, err := s.cfg.Prober.Probe(ctx, video)
	if err != nil {
		return nil, err
	}
	if v.Frames <= 0 {
		return nil, fmt.Errorf("batch extract %s: %w", v.Name, ErrUnknownFrameCount)
	}

	dir := FramesDir(video, "_batch_frames")
	var frames []int
	for f := 0; f < v.Frames; f += every {
		frames = append(frames, f)
	}
	outs := make([]string, len(frames))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i, f := range frames {
		outs[i] = filepath.Join(dir, fmt.Sprintf("frame_%06d.jpg", f))
		g.Go(func() error {
			return s.cfg.Extractor.ExtractFrame(gctx, v.Path, f, v.FPS, outs[i])
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.log.Info("batch extracted", "video", v.Name, "stills", len(outs), "every", every)
	return outs, nil
}

// StillName is the drop still file name for a video: <stem>_drop<N>.jpg.
func StillName(video string, n int) string {
	return stem(video) + "_drop" + strconv.Itoa(n) + ".jpg"
}

// FramesDir is the folder next to video named <stem><suffix>.
func FramesDir(video, suffix string) string {
	return filepath.Join(filepath.Dir(video), stem(video)+suffix)
}

// NextStillNumber returns one more than the highest N among
// <stem>_drop<N>.jpg files in dir, or 1. A missing dir counts as empty.
func NextStillNumber(dir, video string) (int, error) {
	des, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("list stills: %w", err)
	}
	pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(stem(video)) + `_drop(\d+)\.jpg$`)
	highest := 0
	for _, de := range des {
		m := pattern.FindStringSubmatch(de.Name())
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil {
			highest = max(highest, n)
		}
	}
	return highest + 1, nil
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
