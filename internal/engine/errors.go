package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/KaramelBytes/mpie/internal/artifact"
	"github.com/KaramelBytes/mpie/internal/dataset"
	"github.com/KaramelBytes/mpie/internal/report"
	"github.com/KaramelBytes/mpie/internal/runner"
)

// Error kinds reported by Kind.
const (
	KindInput    = "input"
	KindScript   = "script"
	KindFormat   = "format"
	KindCanceled = "canceled"
	KindInternal = "internal"
)

// RunError ties a failed analysis to its run ID.
type RunError struct {
	RunID string
	Err   error
}

func (e *RunError) Error() string { return fmt.Sprintf("run %s: %v", e.RunID, e.Err) }
func (e *RunError) Unwrap() error { return e.Err }

// RunID extracts the run ID from err, if it carries one.
func RunID(err error) string {
	var re *RunError
	if errors.As(err, &re) {
		return re.RunID
	}
	return ""
}

// Kind classifies err for users, metrics and history.
func Kind(err error) string {
	var (
		art *artifact.Error
		hub *artifact.HubError
	)
	switch {
	case err == nil:
		return ""
	case dataset.IsInputError(err):
		return KindInput
	case runner.IsScriptFailure(err), errors.As(err, &art), errors.As(err, &hub):
		return KindScript
	case report.IsFormatError(err):
		return KindFormat
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindInternal
	}
}

// UserMessage is the failure text safe to show end users: input problems
// verbatim, everything else generic.
func UserMessage(err error) string {
	switch Kind(err) {
	case KindInput:
		var ie *dataset.InputError
		errors.As(err, &ie)
		return ie.Error()
	case KindScript:
		return "the analysis script failed"
	case KindFormat:
		return "the analysis script produced unexpected output"
	case KindCanceled:
		return "the analysis was canceled"
	default:
		return "internal error"
	}
}

// FailureMarkdown renders the failure block for err.
func FailureMarkdown(err error) string {
	kind := Kind(err)
	detail := ""
	if kind == KindInput {
		detail = UserMessage(err)
	}
	return report.FailureSummary(kind, RunID(err), detail)
}
