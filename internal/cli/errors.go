package cli

import (
	"errors"
	"fmt"

	"cuelang.org/go/cue/token"

	"github.com/roach88/dropcam/internal/compiler"
	"github.com/roach88/dropcam/internal/entries"
	"github.com/roach88/dropcam/internal/rename"
	"github.com/roach88/dropcam/internal/rules"
	"github.com/roach88/dropcam/internal/session"
	"github.com/roach88/dropcam/internal/store"
)

// Error code constants, unified across all CLI commands.
// Rule validation codes E101-E110 come from compiler.ValidationError.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodeConfig      = "E008" // Invalid configuration
	ErrCodeStore       = "E009" // Journal error
	ErrCodeMedia       = "E010" // ffprobe/ffmpeg failure

	ErrCodeMalformedRule = "E100" // Rule struct does not compile

	ErrCodeViolations   = "E201" // Entry fails its rules
	ErrCodeConflict     = "E202" // Rename targets collide
	ErrCodeUnknownRun   = "E203" // Run ID not in the journal
	ErrCodeAmbiguousRun = "E204" // Run ID prefix matches several runs
	ErrCodeUndone       = "E205" // Run already undone
	ErrCodeUnknownField = "E206" // --set names a field outside the template
	ErrCodeIndex        = "E207" // Ledger row or queue index out of range
	ErrCodeNoVideos     = "E208" // Video folder is empty
)

// LoadError represents an error that occurred while loading rules.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadRules loads and compiles the rules directory, mapping failures to
// CLI error codes.
func LoadRules(dir string) (*compiler.LoadResult, error) {
	res, err := compiler.LoadDir(dir)
	if err != nil {
		return nil, convertLoadError(err)
	}
	return res, nil
}

func convertLoadError(err error) *LoadError {
	var compileErr *compiler.CompileError
	switch {
	case errors.Is(err, compiler.ErrDirNotFound):
		return &LoadError{Code: ErrCodeNotFound, Message: err.Error()}
	case errors.Is(err, compiler.ErrNoFiles):
		return &LoadError{Code: ErrCodeNoFiles, Message: err.Error()}
	case errors.Is(err, compiler.ErrLoadFailed):
		return &LoadError{Code: ErrCodeLoadFailed, Message: err.Error()}
	case errors.As(err, &compileErr):
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: compileErr.Message,
			Pos:     compileErr.Pos,
		}
	default:
		return &LoadError{Code: ErrCodeScanError, Message: err.Error()}
	}
}

// MapFieldToErrorCode maps a compiler error field to an error code.
func MapFieldToErrorCode(field string) string {
	if field == "cue" {
		return ErrCodeBuildFailed
	}
	return ErrCodeMalformedRule
}

// classify maps a domain error to a CLI error code and exit code.
func classify(err error) (string, int) {
	var (
		loadErr      *LoadError
		violations   *rules.ViolationsError
		conflicts    *rename.ConflictError
		unknownField *session.UnknownFieldError
	)
	switch {
	case errors.As(err, &loadErr):
		return loadErr.Code, ExitCommandError
	case errors.As(err, &violations):
		return ErrCodeViolations, ExitFailure
	case errors.As(err, &conflicts):
		return ErrCodeConflict, ExitFailure
	case errors.As(err, &unknownField):
		return ErrCodeUnknownField, ExitCommandError
	case errors.Is(err, rename.ErrAlreadyUndone):
		return ErrCodeUndone, ExitFailure
	case errors.Is(err, store.ErrAmbiguous):
		return ErrCodeAmbiguousRun, ExitCommandError
	case errors.Is(err, store.ErrNotFound):
		return ErrCodeUnknownRun, ExitCommandError
	case errors.Is(err, entries.ErrIndexOutOfRange):
		return ErrCodeIndex, ExitCommandError
	case errors.Is(err, session.ErrEmptyQueue):
		return ErrCodeNoVideos, ExitCommandError
	default:
		return ErrCodeGeneric, ExitCommandError
	}
}

// fail reports err through the formatter with its classified codes.
func fail(f *OutputFormatter, err error, details any) error {
	code, exit := classify(err)
	_ = f.Error(code, err.Error(), details)
	return WrapExitError(exit, code, err)
}
