package rename

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/dropcam/internal/ir"
	"github.com/roach88/dropcam/internal/store"
)

// ErrAlreadyUndone is returned by Undo for a run that was already reverted.
var ErrAlreadyUndone = errors.New("run already undone")

// Journal records runs and their renames. *store.Store implements it.
type Journal interface {
	CreateRun(ctx context.Context, run store.Run) error
	RecordRename(ctx context.Context, r store.Rename) error
	MarkRename(ctx context.Context, runID string, seq int64, status store.RenameStatus) error
	SetRunStatus(ctx context.Context, runID string, status store.RunStatus) error
	GetRun(ctx context.Context, id string) (store.Run, error)
	ReadRenames(ctx context.Context, runID string) ([]store.Rename, error)
}

// Options carries run metadata and hooks for Apply and Undo.
type Options struct {
	Tolerance time.Duration // recorded with the run
	RulesHash string        // recorded with the run

	Now    func() time.Time // defaults to time.Now
	NewID  func() string    // defaults to a UUIDv7
	Logger *slog.Logger
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o Options) newID() string {
	if o.NewID != nil {
		return o.NewID()
	}
	return uuid.Must(uuid.NewV7()).String()
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.New(slog.DiscardHandler)
}

// Result reports what a run did.
type Result struct {
	RunID string `json:"run_id"`
	Done  int    `json:"done"`  // renames performed (or reverted, for Undo)
	Total int    `json:"total"` // renames in the run
}

// Apply checks the plan for conflicts, journals it, then renames files one
// at a time in plan order. The first failure stops the run; the Result
// says how many renames completed before it.
func Apply(ctx context.Context, plan *ir.Plan, journal Journal, opts Options) (Result, error) {
	log := opts.logger()
	if err := Check(plan); err != nil {
		return Result{}, err
	}

	run := store.Run{
		ID:        opts.newID(),
		CreatedAt: opts.now(),
		Template:  plan.Template,
		Tolerance: opts.Tolerance,
		RulesHash: opts.RulesHash,
		Status:    store.RunPending,
	}
	res := Result{RunID: run.ID, Total: len(plan.Ops)}

	if err := journal.CreateRun(ctx, run); err != nil {
		return res, err
	}
	for i, op := range plan.Ops {
		err := journal.RecordRename(ctx, store.Rename{
			RunID:   run.ID,
			Seq:     int64(i + 1),
			Src:     op.From,
			Dst:     op.To,
			PointID: op.PointID,
			Status:  store.RenamePlanned,
			Delta:   op.Delta,
		})
		if err != nil {
			return res, err
		}
	}

	for i, op := range plan.Ops {
		seq := int64(i + 1)
		if err := ctx.Err(); err != nil {
			return res, fail(ctx, journal, run.ID, err)
		}
		if err := renameFile(op.From, op.To); err != nil {
			log.Error("rename failed", "run", run.ID, "from", op.From, "to", op.To, "error", err)
			if merr := journal.MarkRename(ctx, run.ID, seq, store.RenameFailed); merr != nil {
				err = errors.Join(err, merr)
			}
			return res, fail(ctx, journal, run.ID, err)
		}
		if err := journal.MarkRename(ctx, run.ID, seq, store.RenameDone); err != nil {
			return res, err
		}
		res.Done++
		log.Info("renamed", "run", run.ID, "from", op.From, "to", op.To, "point_id", op.PointID)
	}

	if err := journal.SetRunStatus(ctx, run.ID, store.RunApplied); err != nil {
		return res, err
	}
	return res, nil
}

// Undo reverts the completed renames of a run, newest first. Renames that
// were never performed are left alone, so an interrupted Undo can be rerun.
func Undo(ctx context.Context, runID string, journal Journal, opts Options) (Result, error) {
	log := opts.logger()

	run, err := journal.GetRun(ctx, runID)
	if err != nil {
		return Result{}, err
	}
	if run.Status == store.RunUndone {
		return Result{RunID: run.ID}, fmt.Errorf("run %s: %w", run.ID, ErrAlreadyUndone)
	}

	renames, err := journal.ReadRenames(ctx, run.ID)
	if err != nil {
		return Result{RunID: run.ID}, err
	}

	res := Result{RunID: run.ID}
	for _, r := range renames {
		if r.Status == store.RenameDone {
			res.Total++
		}
	}

	for i := len(renames) - 1; i >= 0; i-- {
		r := renames[i]
		if r.Status != store.RenameDone {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := renameFile(r.Dst, r.Src); err != nil {
			log.Error("undo failed", "run", run.ID, "from", r.Dst, "to", r.Src, "error", err)
			return res, err
		}
		if err := journal.MarkRename(ctx, run.ID, r.Seq, store.RenameReverted); err != nil {
			return res, err
		}
		res.Done++
		log.Info("reverted", "run", run.ID, "from", r.Dst, "to", r.Src)
	}

	if err := journal.SetRunStatus(ctx, run.ID, store.RunUndone); err != nil {
		return res, err
	}
	return res, nil
}

// renameFile moves from to to, refusing to replace a different file.
// Conflicts were checked up front; this guards against files that appeared
// since.
func renameFile(from, to string) error {
	exists, err := occupied(from, to)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("rename %s: %s already exists", from, to)
	}
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// fail marks the run failed and returns cause. The status update uses a
// fresh context so a cancelled run is still recorded as failed.
func fail(ctx context.Context, journal Journal, runID string, cause error) error {
	if err := journal.SetRunStatus(context.WithoutCancel(ctx), runID, store.RunFailed); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}
