package compiler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/dropcam/internal/ir"
)

var (
	// ErrDirNotFound is returned when the rules directory does not exist or
	// is not a directory.
	ErrDirNotFound = errors.New("rules directory not found")

	// ErrNoFiles is returned when the rules directory has no .cue files.
	ErrNoFiles = errors.New("no CUE files found")

	// ErrLoadFailed wraps CUE loader failures (syntax errors, bad imports).
	ErrLoadFailed = errors.New("loading CUE files")
)

// LoadResult is a compiled rules directory.
type LoadResult struct {
	RuleSet  *ir.RuleSet
	Files    []string // .cue files in the directory, sorted
	Hash     string   // ir.RuleSetHash of RuleSet
	Warnings []CycleWarning
}

// LoadDir loads the CUE package in dir and compiles its rule set.
//
// Only the files directly in dir are read, as one CUE package. Structural
// problems come back as *CompileError. The rule set is not passed through
// Validate; callers decide whether validation errors are fatal.
func LoadDir(dir string) (*LoadResult, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrDirNotFound, dir)
		}
		return nil, fmt.Errorf("accessing rules directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: not a directory: %s", ErrDirNotFound, dir)
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoFiles, dir)
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("%w: no instances in %s", ErrLoadFailed, dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadFailed, inst.Err)
	}

	value := cuecontext.New().BuildInstance(inst)
	rs, err := CompileRuleSet(value)
	if err != nil {
		return nil, err
	}

	hash, err := ir.RuleSetHash(*rs)
	if err != nil {
		return nil, fmt.Errorf("hashing rule set: %w", err)
	}

	return &LoadResult{
		RuleSet:  rs,
		Files:    files,
		Hash:     hash,
		Warnings: AnalyzeAutofill(rs),
	}, nil
}

// FindCUEFiles returns the .cue files directly inside dir, sorted.
func FindCUEFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".cue") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	slices.Sort(files)
	return files, nil
}
