package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RunStatus is the lifecycle state of a rename run.
type RunStatus string

const (
	RunPending RunStatus = "pending" // recorded, renames not finished
	RunApplied RunStatus = "applied"
	RunFailed  RunStatus = "failed" // stopped part way; see rename statuses
	RunUndone  RunStatus = "undone"
)

// RenameStatus is the state of one rename operation.
type RenameStatus string

const (
	RenamePlanned  RenameStatus = "planned"
	RenameDone     RenameStatus = "done"
	RenameFailed   RenameStatus = "failed"
	RenameReverted RenameStatus = "reverted"
)

// ErrNotFound is returned when a run or rename does not exist.
var ErrNotFound = errors.New("not found")

// ErrAmbiguous is returned when a run ID prefix matches several runs.
var ErrAmbiguous = errors.New("ambiguous run id")

// Run is one recorded rename run.
type Run struct {
	ID        string        `json:"id"`
	CreatedAt time.Time     `json:"created_at"`
	Template  string        `json:"template"`
	Tolerance time.Duration `json:"tolerance"`
	RulesHash string        `json:"rules_hash,omitempty"`
	Status    RunStatus     `json:"status"`
	Renames   int           `json:"renames"` // filled by reads
}

// Rename is one recorded rename operation.
type Rename struct {
	RunID   string        `json:"run_id"`
	Seq     int64         `json:"seq"`
	Src     string        `json:"src"`
	Dst     string        `json:"dst"`
	PointID string        `json:"point_id"`
	Status  RenameStatus  `json:"status"`
	Delta   time.Duration `json:"delta"`
}

// CreateRun inserts a run record.
func (s *Store) CreateRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, created_at, template, tolerance_ms, rules_hash, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.CreatedAt.UTC().Format(time.RFC3339Nano),
		run.Template,
		run.Tolerance.Milliseconds(),
		run.RulesHash,
		string(run.Status),
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// RecordRename inserts a rename record.
// Uses ON CONFLICT DO NOTHING so recording the same (run_id, seq) twice is
// a no-op.
//
// Note: The run referenced by RunID must exist (foreign key constraint).
func (s *Store) RecordRename(ctx context.Context, r Rename) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO renames (run_id, seq, src, dst, point_id, status, delta_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, seq) DO NOTHING
	`,
		r.RunID,
		r.Seq,
		r.Src,
		r.Dst,
		r.PointID,
		string(r.Status),
		r.Delta.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("record rename: %w", err)
	}
	return nil
}

// MarkRename updates the status of one rename.
func (s *Store) MarkRename(ctx context.Context, runID string, seq int64, status RenameStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE renames SET status = ? WHERE run_id = ? AND seq = ?
	`, string(status), runID, seq)
	if err != nil {
		return fmt.Errorf("mark rename: %w", err)
	}
	return expectOneRow(res, fmt.Sprintf("rename %s/%d", runID, seq))
}

// SetRunStatus updates the status of a run.
func (s *Store) SetRunStatus(ctx context.Context, runID string, status RunStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ? WHERE id = ?
	`, string(status), runID)
	if err != nil {
		return fmt.Errorf("set run status: %w", err)
	}
	return expectOneRow(res, "run "+runID)
}

func expectOneRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

const runColumns = `
	r.id, r.created_at, r.template, r.tolerance_ms, r.rules_hash, r.status,
	(SELECT COUNT(*) FROM renames n WHERE n.run_id = r.id)
`

// GetRun returns a run by ID. A unique ID prefix is also accepted, so the
// short form printed by `dropcam runs` works.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs r WHERE r.id = ?`, id)
	run, err := scanRun(row)
	if err == nil {
		return run, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("get run: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM runs r
		WHERE substr(r.id, 1, length(?)) = ?
		ORDER BY r.id COLLATE BINARY ASC
		LIMIT 2
	`, id, id)
	if err != nil {
		return Run{}, fmt.Errorf("get run: %w", err)
	}
	defer rows.Close()

	var matches []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return Run{}, fmt.Errorf("get run: %w", err)
		}
		matches = append(matches, r)
	}
	if err := rows.Err(); err != nil {
		return Run{}, fmt.Errorf("get run: %w", err)
	}

	switch len(matches) {
	case 0:
		return Run{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return Run{}, fmt.Errorf("run %s: %w", id, ErrAmbiguous)
	}
}

// ListRuns returns all runs, newest first.
// Returns an empty slice (not nil) when there are none.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM runs r
		ORDER BY r.id COLLATE BINARY DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadRenames returns the renames of a run ordered by seq.
// Returns an empty slice (not nil) when the run has none.
func (s *Store) ReadRenames(ctx context.Context, runID string) ([]Rename, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, seq, src, dst, point_id, status, delta_ms
		FROM renames
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query renames: %w", err)
	}
	defer rows.Close()

	renames := []Rename{}
	for rows.Next() {
		var (
			r       Rename
			status  string
			deltaMS int64
		)
		if err := rows.Scan(&r.RunID, &r.Seq, &r.Src, &r.Dst, &r.PointID, &status, &deltaMS); err != nil {
			return nil, fmt.Errorf("scan rename: %w", err)
		}
		r.Status = RenameStatus(status)
		r.Delta = time.Duration(deltaMS) * time.Millisecond
		renames = append(renames, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate renames: %w", err)
	}
	return renames, nil
}

// FindRenameTo returns the most recent applied rename whose target is dst.
// Used to tell a user which run produced an existing file.
func (s *Store) FindRenameTo(ctx context.Context, dst string) (Rename, error) {
	var (
		r       Rename
		status  string
		deltaMS int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, seq, src, dst, point_id, status, delta_ms
		FROM renames
		WHERE dst = ? AND status = 'done'
		ORDER BY run_id COLLATE BINARY DESC, seq DESC
		LIMIT 1
	`, dst).Scan(&r.RunID, &r.Seq, &r.Src, &r.Dst, &r.PointID, &status, &deltaMS)
	if errors.Is(err, sql.ErrNoRows) {
		return Rename{}, fmt.Errorf("rename to %s: %w", dst, ErrNotFound)
	}
	if err != nil {
		return Rename{}, fmt.Errorf("find rename: %w", err)
	}
	r.Status = RenameStatus(status)
	r.Delta = time.Duration(deltaMS) * time.Millisecond
	return r, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		r           Run
		createdAt   string
		toleranceMS int64
		status      string
	)
	if err := row.Scan(&r.ID, &createdAt, &r.Template, &toleranceMS, &r.RulesHash, &status, &r.Renames); err != nil {
		return Run{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Run{}, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	r.CreatedAt = ts
	r.Tolerance = time.Duration(toleranceMS) * time.Millisecond
	r.Status = RunStatus(status)
	return r, nil
}
