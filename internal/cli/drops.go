package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/dropcam/internal/entries"
	"github.com/roach88/dropcam/internal/ir"
	"github.com/roach88/dropcam/internal/rules"
	"github.com/roach88/dropcam/internal/session"
)

// NewDropsCommand groups the drop extraction commands.
func NewDropsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drops",
		Short: "Extract drop stills and record their observations",
		Long: `Walk the renamed videos, extract one still per drop and append a validated
row to the entries ledger. The POINT_ID comes from the base CSV row for the
video, else an ID<digits> token in its file name; drop numbers continue per
POINT_ID.`,
	}
	cmd.AddCommand(newDropsQueueCommand(rootOpts))
	cmd.AddCommand(newDropsShowCommand(rootOpts))
	cmd.AddCommand(newDropsExtractCommand(rootOpts))
	cmd.AddCommand(newDropsFrameCommand(rootOpts))
	cmd.AddCommand(newDropsBatchCommand(rootOpts))
	cmd.AddCommand(newDropsListCommand(rootOpts))
	cmd.AddCommand(newDropsEditCommand(rootOpts))
	cmd.AddCommand(newDropsDeleteCommand(rootOpts))
	return cmd
}

// QueueItem is one video in the queue listing.
type QueueItem struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Path  string `json:"path"`
}

func queueItems(videos []string) []QueueItem {
	items := make([]QueueItem, len(videos))
	for i, v := range videos {
		items[i] = QueueItem{Index: i, Name: filepath.Base(v), Path: v}
	}
	return items
}

func newDropsQueueCommand(rootOpts *RootOptions) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "List the videos waiting for drop extraction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			q, err := session.NewQueue(rootOpts.Config.VideosDir)
			if err != nil {
				return fail(f, err, nil)
			}
			q.Logger = rootOpts.Logger

			show := func(videos []string) {
				if f.JSON() {
					_ = f.Success(queueItems(videos))
					return
				}
				rows := make([][]string, 0, len(videos))
				for _, it := range queueItems(videos) {
					rows = append(rows, []string{strconv.Itoa(it.Index), it.Name})
				}
				f.Table([]string{"#", "VIDEO"}, rows)
				f.Textf("%d video(s) in %s", len(videos), q.Dir())
			}
			show(q.Videos())
			if !watch {
				return nil
			}

			q.OnChange = show
			if err := q.Watch(cmd.Context()); err != nil {
				return fail(f, err, nil)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "keep running and reprint when the folder changes")
	return cmd
}

// resolveVideo turns a queue index or a file name into a queue index.
func resolveVideo(q *session.Queue, ref string) (int, error) {
	if i, err := strconv.Atoi(ref); err == nil {
		return i, nil
	}
	videos := q.Videos()
	if i := slices.IndexFunc(videos, func(v string) bool {
		return filepath.Base(v) == ref || v == ref
	}); i >= 0 {
		return i, nil
	}
	return 0, fmt.Errorf("video %q is not in %s", ref, q.Dir())
}

// parseSets parses repeated --set FIELD=VALUE flags.
func parseSets(sets []string) (map[string]string, error) {
	out := make(map[string]string, len(sets))
	for _, s := range sets {
		k, v, ok := strings.Cut(s, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("--set %q: want FIELD=VALUE", s)
		}
		out[k] = v
	}
	return out, nil
}

// DropState is the output of drops show.
type DropState struct {
	State session.State `json:"state"`
	Draft *ir.Entry     `json:"draft"`
}

func newDropsShowCommand(rootOpts *RootOptions) *cobra.Command {
	var video string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a video's base row, next drop and prefilled entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			sess, err := rootOpts.newSession()
			if err != nil {
				return fail(f, err, nil)
			}
			i, err := resolveVideo(sess.Queue(), video)
			if err != nil {
				return fail(f, err, nil)
			}
			st, err := sess.Load(cmd.Context(), i)
			if err != nil {
				return fail(f, err, nil)
			}
			draft, err := sess.Draft()
			if err != nil {
				return fail(f, err, nil)
			}

			if f.JSON() {
				return f.Success(DropState{State: st, Draft: draft})
			}
			f.Textf("%s  point %s  next %s  (%d frames @ %.3g fps)",
				st.Video.Name, orDash(st.PointID), entries.DropID(st.NextDrop), st.Video.Frames, st.Video.FPS)
			printEntry(f, draft)
			return nil
		},
	}
	cmd.Flags().StringVar(&video, "video", "0", "queue index or file name")
	return cmd
}

func newDropsExtractCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		video string
		frame int
		sets  []string
		force bool
		drop  int
	)

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract a drop still and append its entry",
		Long: `Extract one frame of a queued video as <video>_drop<N>.jpg and append the
prefilled entry, with --set observations on top, to the ledger.

The entry is checked against the configured rules first. Violations refuse
the save unless --force is given.

Exit codes:
  0 - Still written and entry saved
  1 - Entry violates the rules
  2 - Command error`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			observations, err := parseSets(sets)
			if err != nil {
				return fail(f, err, nil)
			}
			sess, err := rootOpts.newSession()
			if err != nil {
				return fail(f, err, nil)
			}
			i, err := resolveVideo(sess.Queue(), video)
			if err != nil {
				return fail(f, err, nil)
			}
			if _, err := sess.Load(cmd.Context(), i); err != nil {
				return fail(f, err, nil)
			}
			if drop > 0 {
				if err := sess.ResetDropCount(drop); err != nil {
					return fail(f, err, nil)
				}
			}

			out, err := sess.Extract(cmd.Context(), frame, observations, force)
			if err != nil {
				return outputViolations(f, err)
			}
			if f.JSON() {
				return f.Success(out)
			}
			f.Textf("✓ %s  %s", filepath.Base(out.Still), out.Entry.Get(entries.FieldDropID))
			for _, v := range out.Report.Violations {
				f.Textf("  forced past %s", v)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&video, "video", "0", "queue index or file name")
	cmd.Flags().IntVar(&frame, "frame", 0, "frame index to extract")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "observation FIELD=VALUE (repeatable)")
	cmd.Flags().BoolVar(&force, "force", false, "save even when the entry violates the rules")
	cmd.Flags().IntVar(&drop, "drop", 0, "restart the drop count at N for this video")
	_ = cmd.MarkFlagRequired("frame")
	return cmd
}

// outputViolations reports a refused save with its violations (exit code
// 1), or any other error.
func outputViolations(f *OutputFormatter, err error) error {
	var violations *rules.ViolationsError
	if !errors.As(err, &violations) {
		return fail(f, err, nil)
	}
	if !f.JSON() {
		rows := make([][]string, 0, len(violations.Violations))
		for _, v := range violations.Violations {
			rows = append(rows, []string{v.RuleID, v.Field, v.Message})
		}
		f.Table([]string{"RULE", "FIELD", "MESSAGE"}, rows)
	}
	return fail(f, err, violations.Violations)
}

func newDropsFrameCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		video string
		frame int
	)

	cmd := &cobra.Command{
		Use:   "frame",
		Short: "Save one frame of any video to <video>_frames/",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			sess, err := rootOpts.newSession()
			if err != nil {
				return fail(f, err, nil)
			}
			out, err := sess.ExtractManual(cmd.Context(), video, frame)
			if err != nil {
				return fail(f, err, nil)
			}
			if f.JSON() {
				return f.Success(map[string]string{"still": out})
			}
			f.Textf("✓ %s", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&video, "video", "", "video path")
	cmd.Flags().IntVar(&frame, "frame", 0, "frame index")
	_ = cmd.MarkFlagRequired("video")
	return cmd
}

func newDropsBatchCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		video string
		every int
	)

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Save every Nth frame of a video to <video>_batch_frames/",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			sess, err := rootOpts.newSession()
			if err != nil {
				return fail(f, err, nil)
			}
			outs, err := sess.BatchExtract(cmd.Context(), video, every)
			if err != nil {
				return fail(f, err, nil)
			}
			if f.JSON() {
				return f.Success(map[string]any{"stills": outs})
			}
			dir := ""
			if len(outs) > 0 {
				dir = filepath.Dir(outs[0])
			}
			f.Textf("✓ Wrote %d still(s) to %s", len(outs), dir)
			return nil
		},
	}
	cmd.Flags().StringVar(&video, "video", "", "video path")
	cmd.Flags().IntVar(&every, "every", 30, "frame interval")
	_ = cmd.MarkFlagRequired("video")
	return cmd
}

func newDropsListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the ledger entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			sess, err := rootOpts.newSession()
			if err != nil {
				return fail(f, err, nil)
			}
			all, err := sess.Entries()
			if err != nil {
				return fail(f, err, nil)
			}
			if f.JSON() {
				return f.Success(all)
			}
			if len(all) == 0 {
				f.Textf("No entries in %s.", rootOpts.Config.EntriesPath())
				return nil
			}
			rows := make([][]string, 0, len(all))
			for i, e := range all {
				rows = append(rows, []string{
					strconv.Itoa(i),
					e.Get(entries.FieldPointID),
					e.Get(entries.FieldDropID),
					e.Get(entries.FieldFilename),
					e.Get(entries.FieldDateTime),
				})
			}
			f.Table([]string{"#", "POINT", "DROP", "FILENAME", "DATE_TIME"}, rows)
			return nil
		},
	}
}

func parseIndex(s string) (int, error) {
	i, err := strconv.Atoi(s)
	if err != nil || i < 0 {
		return 0, fmt.Errorf("index %q: want a row number from drops list", s)
	}
	return i, nil
}

func newDropsEditCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		sets  []string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "edit <index>",
		Short: "Change fields of a ledger entry",
		Long: `Change fields of a ledger entry. The edited entry is checked against the
rules before it is written; violations refuse the save unless --force.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			i, err := parseIndex(args[0])
			if err != nil {
				return fail(f, err, nil)
			}
			changes, err := parseSets(sets)
			if err != nil {
				return fail(f, err, nil)
			}
			sess, err := rootOpts.newSession()
			if err != nil {
				return fail(f, err, nil)
			}
			all, err := sess.Entries()
			if err != nil {
				return fail(f, err, nil)
			}
			if i >= len(all) {
				return fail(f, fmt.Errorf("edit %d of %d: %w", i, len(all), entries.ErrIndexOutOfRange), nil)
			}

			e := all[i]
			for k, v := range changes {
				if !e.SetKnown(k, v) {
					return fail(f, &session.UnknownFieldError{Field: k}, nil)
				}
			}
			report, err := sess.SaveEdit(i, e, force)
			if err != nil {
				return outputViolations(f, err)
			}
			if f.JSON() {
				return f.Success(report.Entry)
			}
			f.Textf("✓ Updated entry %d", i)
			printEntry(f, report.Entry)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "FIELD=VALUE (repeatable)")
	cmd.Flags().BoolVar(&force, "force", false, "save even when the entry violates the rules")
	return cmd
}

func newDropsDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <index>",
		Short: "Remove a ledger entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			i, err := parseIndex(args[0])
			if err != nil {
				return fail(f, err, nil)
			}
			sess, err := rootOpts.newSession()
			if err != nil {
				return fail(f, err, nil)
			}
			removed, err := sess.Delete(i)
			if err != nil {
				return fail(f, err, nil)
			}
			if f.JSON() {
				return f.Success(removed)
			}
			f.Textf("✓ Deleted entry %d (%s %s)", i, removed.Get(entries.FieldPointID), removed.Get(entries.FieldDropID))
			return nil
		},
	}
}

func printEntry(f *OutputFormatter, e *ir.Entry) {
	rows := make([][]string, 0, len(e.Fields()))
	for _, field := range e.Fields() {
		rows = append(rows, []string{field, e.Get(field)})
	}
	f.Table([]string{"FIELD", "VALUE"}, rows)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
