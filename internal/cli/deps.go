package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/roach88/dropcam/internal/compiler"
	"github.com/roach88/dropcam/internal/entries"
	"github.com/roach88/dropcam/internal/ir"
	"github.com/roach88/dropcam/internal/media"
	"github.com/roach88/dropcam/internal/rename"
	"github.com/roach88/dropcam/internal/rules"
	"github.com/roach88/dropcam/internal/session"
	"github.com/roach88/dropcam/internal/store"
	"github.com/roach88/dropcam/internal/timematch"
	"github.com/roach88/dropcam/internal/waypoints"
)

func (o *RootOptions) newProber() media.Prober {
	if o.prober != nil {
		return o.prober
	}
	loc, _ := o.Config.Location() // validated in setup
	return &media.FFprobe{
		Bin:      o.Config.Media.FFprobe,
		Location: loc,
		Logger:   o.Logger,
	}
}

func (o *RootOptions) newExtractor() media.Extractor {
	if o.extractor != nil {
		return o.extractor
	}
	return &media.FFmpeg{
		Bin:     o.Config.Media.FFmpeg,
		Quality: o.Config.Media.JPEGQuality,
	}
}

func (o *RootOptions) openStore() (*store.Store, error) {
	path := o.Config.Database
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	s, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	return s, nil
}

// loadRuleSet loads dir (or the configured rules_dir when dir is empty).
// Returns nil without error when neither is set. Validation errors are
// fatal.
func (o *RootOptions) loadRuleSet(dir string) (*compiler.LoadResult, error) {
	if dir == "" {
		dir = o.Config.RulesDir
	}
	if dir == "" {
		return nil, nil
	}
	res, err := LoadRules(dir)
	if err != nil {
		return nil, err
	}
	if verrs := compiler.Validate(res.RuleSet); len(verrs) > 0 {
		msg := verrs[0].Error()
		if len(verrs) > 1 {
			msg = fmt.Sprintf("%s (and %d more)", msg, len(verrs)-1)
		}
		return nil, &LoadError{Code: verrs[0].Code, Message: msg}
	}
	for _, w := range res.Warnings {
		o.Logger.Warn("autofill dependency", "path", w.Path, "message", w.Message)
	}
	return res, nil
}

// matchInputs are the flags shared by match and rename.
type matchInputs struct {
	Videos    string
	Waypoints string
	Template  string
}

// buildPlan probes the videos, loads the waypoints, matches and plans.
func (o *RootOptions) buildPlan(ctx context.Context, in matchInputs) ([]ir.Match, *ir.Plan, error) {
	cfg := o.Config
	videosDir := in.Videos
	if videosDir == "" {
		videosDir = cfg.VideosDir
	}
	if in.Waypoints == "" {
		return nil, nil, errors.New("--waypoints is required")
	}
	template := in.Template
	if template == "" {
		template = cfg.Rename.Template
	}

	paths, err := media.ListVideos(videosDir)
	if err != nil {
		return nil, nil, err
	}
	o.Logger.Debug("listed videos", "dir", videosDir, "count", len(paths))

	videos, err := media.ProbeAll(ctx, o.newProber(), paths, cfg.Media.ProbeWorkers)
	if err != nil {
		return nil, nil, err
	}

	loc, _ := cfg.Location()
	wps, err := waypoints.Load(in.Waypoints, waypoints.Options{
		IDColumn:    cfg.Waypoints.IDColumn,
		TimeColumn:  cfg.Waypoints.TimeColumn,
		DateColumn:  cfg.Waypoints.DateColumn,
		ClockColumn: cfg.Waypoints.ClockColumn,
		Layouts:     cfg.Waypoints.Layouts,
		Location:    loc,
		Logger:      o.Logger,
	})
	if err != nil {
		return nil, nil, err
	}

	matches := timematch.Match(videos, wps, timematch.Options{
		Tolerance:       cfg.Match.Tolerance,
		ClockOffset:     cfg.Match.ClockOffset,
		InferSequential: cfg.Match.InferSequential,
	})
	plan, err := rename.Plan(matches, template)
	if err != nil {
		return nil, nil, err
	}
	return matches, plan, nil
}

// ledgerFields resolves the ledger column order: the template CSV header,
// else the rule set's fields, else whatever the ledger file has.
func (o *RootOptions) ledgerFields(rs *ir.RuleSet) ([]string, error) {
	if o.Config.Template != "" {
		return entries.LoadTemplate(o.Config.Template)
	}
	if rs != nil && len(rs.Fields) > 0 {
		return rs.Fields, nil
	}
	return nil, nil
}

// newSession wires queue, ledger, base table, rules and media tools from
// the configuration.
func (o *RootOptions) newSession() (*session.Session, error) {
	cfg := o.Config

	loaded, err := o.loadRuleSet("")
	if err != nil {
		return nil, err
	}
	var (
		rs   *ir.RuleSet
		eval *rules.Evaluator
	)
	if loaded != nil {
		rs = loaded.RuleSet
		eval = rules.NewEvaluator(rs)
	}

	fields, err := o.ledgerFields(rs)
	if err != nil {
		return nil, err
	}

	var base *entries.BaseTable
	if cfg.BaseCSV != "" {
		if base, err = entries.LoadBase(cfg.BaseCSV); err != nil {
			return nil, err
		}
	}

	// The folders are created on first use, like the ledger.
	if err := os.MkdirAll(cfg.VideosDir, 0o755); err != nil {
		return nil, fmt.Errorf("create videos dir: %w", err)
	}
	queue, err := session.NewQueue(cfg.VideosDir)
	if err != nil {
		return nil, err
	}
	queue.Logger = o.Logger

	return session.New(queue, session.Config{
		StillsDir: cfg.StillsDir,
		Fields:    fields,
		Ledger:    entries.NewLedger(cfg.EntriesPath(), fields),
		Base:      base,
		Evaluator: eval,
		Prober:    o.newProber(),
		Extractor: o.newExtractor(),
		Workers:   cfg.Media.ProbeWorkers,
		Logger:    o.Logger,
	}), nil
}
