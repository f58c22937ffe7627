package runner

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ExitError reports a script that ran and exited non-zero.
type ExitError struct {
	Code   int
	Stderr string
	Stdout string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("analysis script exited with status %d", e.Code)
	if tail := lastLine(e.Stderr); tail != "" {
		msg += ": " + tail
	}
	return msg
}

// TimeoutError reports a script killed after exceeding its time limit.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("analysis script timed out after %s", e.After)
}

// StartError reports a script that could not be launched at all.
type StartError struct {
	Command string
	Err     error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start %s: %v", e.Command, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// IsScriptFailure reports whether err came from running the script rather
// than from the caller (for example a canceled context).
func IsScriptFailure(err error) bool {
	var (
		ee *ExitError
		te *TimeoutError
		se *StartError
	)
	return errors.As(err, &ee) || errors.As(err, &te) || errors.As(err, &se)
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// tail keeps at most the last n bytes of s.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "…" + s[len(s)-n:]
}
