package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/dropcam/internal/ir"
	"github.com/roach88/dropcam/internal/rename"
	"github.com/roach88/dropcam/internal/store"
	"github.com/roach88/dropcam/internal/timematch"
)

func addMatchFlags(cmd *cobra.Command, in *matchInputs) {
	cmd.Flags().StringVar(&in.Videos, "videos", "", "videos folder (default videos_dir from config)")
	cmd.Flags().StringVar(&in.Waypoints, "waypoints", "", "waypoint CSV")
	cmd.Flags().StringVar(&in.Template, "template", "", "target name template (default rename.template from config)")
	_ = cmd.MarkFlagRequired("waypoints")
}

// MatchResult is the output of match and rename --dry-run.
type MatchResult struct {
	Summary timematch.Summary `json:"summary"`
	Plan    *ir.Plan          `json:"plan"`
}

// NewMatchCommand creates the match command.
func NewMatchCommand(rootOpts *RootOptions) *cobra.Command {
	var in matchInputs

	cmd := &cobra.Command{
		Use:   "match",
		Short: "Pair videos with waypoints by timestamp",
		Long: `Probe every video, pair it with the nearest waypoint within the configured
tolerance and print the resulting rename plan. Nothing is renamed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			matches, plan, err := rootOpts.buildPlan(cmd.Context(), in)
			if err != nil {
				return fail(f, err, nil)
			}
			return outputPlan(f, matches, plan)
		},
	}
	addMatchFlags(cmd, &in)
	return cmd
}

func outputPlan(f *OutputFormatter, matches []ir.Match, plan *ir.Plan) error {
	summary := timematch.Summarize(matches)
	if f.JSON() {
		return f.Success(MatchResult{Summary: summary, Plan: plan})
	}

	rows := make([][]string, 0, len(matches))
	for _, m := range matches {
		point, delta := "-", "-"
		if m.Waypoint != nil {
			point = m.Waypoint.PointID
			delta = m.Delta.String()
		}
		rows = append(rows, []string{m.Video.Name, m.Video.Created.Format(time.DateTime), string(m.Video.Source), point, delta, string(m.Status)})
	}
	f.Table([]string{"VIDEO", "TIME", "SOURCE", "POINT", "DELTA", "STATUS"}, rows)
	f.Textf("")

	if len(plan.Ops) > 0 {
		ops := make([][]string, 0, len(plan.Ops))
		for _, op := range plan.Ops {
			ops = append(ops, []string{filepath.Base(op.From), "->", filepath.Base(op.To)})
		}
		f.Table([]string{"FROM", "", "TO"}, ops)
		f.Textf("")
	}
	f.Textf("%d matched, %d inferred, %d unmatched, %d sharing a waypoint",
		summary.Matched, summary.Inferred, summary.Unmatched, summary.Shared)
	return nil
}

// NewRenameCommand creates the rename command.
func NewRenameCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		in     matchInputs
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "rename",
		Short: "Rename videos after their matched waypoints",
		Long: `Match videos to waypoints and rename them with the target template.

The whole plan is checked for collisions first; if any target is taken or
shared, nothing is renamed. Every run is journaled and can be reverted
with "dropcam undo <run-id>".

Exit codes:
  0 - Renamed (or nothing to rename)
  1 - Plan has conflicts
  2 - Command error`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRename(rootOpts, cmd, in, dryRun)
		},
	}
	addMatchFlags(cmd, &in)
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the plan without renaming")
	return cmd
}

func runRename(opts *RootOptions, cmd *cobra.Command, in matchInputs, dryRun bool) error {
	f := opts.formatter(cmd)
	ctx := cmd.Context()

	matches, plan, err := opts.buildPlan(ctx, in)
	if err != nil {
		return fail(f, err, nil)
	}

	if dryRun {
		if err := rename.Check(plan); err != nil {
			return outputConflicts(f, err)
		}
		return outputPlan(f, matches, plan)
	}

	if len(plan.Ops) == 0 {
		if f.JSON() {
			return f.Success(rename.Result{})
		}
		f.Textf("Nothing to rename.")
		return nil
	}

	s, err := opts.openStore()
	if err != nil {
		return fail(f, err, nil)
	}
	defer s.Close()

	rulesHash := ""
	if loaded, err := opts.loadRuleSet(""); err == nil && loaded != nil {
		rulesHash = loaded.Hash
	}

	res, err := rename.Apply(ctx, plan, s, rename.Options{
		Tolerance: opts.Config.Match.Tolerance,
		RulesHash: rulesHash,
		Logger:    opts.Logger,
	})
	if err != nil {
		var conflicts *rename.ConflictError
		if errors.As(err, &conflicts) {
			return outputConflicts(f, err)
		}
		return fail(f, err, res)
	}

	if f.JSON() {
		return f.Success(res)
	}
	f.Textf("✓ Renamed %d of %d video(s), run %s", res.Done, res.Total, res.RunID)
	return nil
}

func outputConflicts(f *OutputFormatter, err error) error {
	var conflicts *rename.ConflictError
	if !errors.As(err, &conflicts) {
		return fail(f, err, nil)
	}
	if !f.JSON() {
		rows := make([][]string, 0, len(conflicts.Conflicts))
		for _, c := range conflicts.Conflicts {
			rows = append(rows, []string{filepath.Base(c.Target), string(c.Reason), strings.Join(c.Sources, ", ")})
		}
		f.Table([]string{"TARGET", "REASON", "SOURCES"}, rows)
	}
	return fail(f, err, conflicts.Conflicts)
}

// NewUndoCommand creates the undo command.
func NewUndoCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "undo <run-id>",
		Short: "Revert a rename run",
		Long: `Revert the renames of a run in reverse order. A unique prefix of the run
ID is accepted. A run that stopped part way is reverted as far as it got.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			s, err := rootOpts.openStore()
			if err != nil {
				return fail(f, err, nil)
			}
			defer s.Close()

			res, err := rename.Undo(cmd.Context(), args[0], s, rename.Options{Logger: rootOpts.Logger})
			if err != nil {
				return fail(f, err, nil)
			}
			if f.JSON() {
				return f.Success(res)
			}
			f.Textf("✓ Reverted %d of %d rename(s), run %s", res.Done, res.Total, res.RunID)
			return nil
		},
	}
}

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List journaled rename runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			s, err := rootOpts.openStore()
			if err != nil {
				return fail(f, err, nil)
			}
			defer s.Close()

			if len(args) == 1 {
				return showRun(cmd, f, s, args[0])
			}
			runs, err := s.ListRuns(cmd.Context())
			if err != nil {
				return fail(f, err, nil)
			}
			if f.JSON() {
				return f.Success(runs)
			}
			if len(runs) == 0 {
				f.Textf("No runs.")
				return nil
			}
			rows := make([][]string, 0, len(runs))
			for _, r := range runs {
				rows = append(rows, []string{shortID(r.ID), r.CreatedAt.Local().Format(time.DateTime), string(r.Status), fmt.Sprint(r.Renames), r.Template})
			}
			f.Table([]string{"RUN", "CREATED", "STATUS", "RENAMES", "TEMPLATE"}, rows)
			return nil
		},
	}
	return cmd
}

// RunDetail is the output of runs <run-id>.
type RunDetail struct {
	Run     store.Run      `json:"run"`
	Renames []store.Rename `json:"renames"`
}

func showRun(cmd *cobra.Command, f *OutputFormatter, s *store.Store, id string) error {
	run, err := s.GetRun(cmd.Context(), id)
	if err != nil {
		return fail(f, err, nil)
	}
	renames, err := s.ReadRenames(cmd.Context(), run.ID)
	if err != nil {
		return fail(f, err, nil)
	}
	if f.JSON() {
		return f.Success(RunDetail{Run: run, Renames: renames})
	}
	f.Textf("Run %s (%s), %s", run.ID, run.Status, run.CreatedAt.Local().Format(time.DateTime))
	rows := make([][]string, 0, len(renames))
	for _, r := range renames {
		rows = append(rows, []string{fmt.Sprint(r.Seq), filepath.Base(r.Src), filepath.Base(r.Dst), r.PointID, string(r.Status)})
	}
	f.Table([]string{"SEQ", "FROM", "TO", "POINT", "STATUS"}, rows)
	return nil
}

// shortID is the first three blocks of a UUIDv7 (timestamp plus 12 random
// bits). GetRun accepts it as a prefix.
func shortID(id string) string {
	blocks := strings.SplitN(id, "-", 4)
	if len(blocks) < 4 {
		return id
	}
	return strings.Join(blocks[:3], "-")
}
