// Package runner executes the analysis script as a subprocess.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	outputTail = 8 << 10
	waitDelay  = 5 * time.Second
)

// Options configures the interpreter invocation.
type Options struct {
	Python  string
	Args    []string
	Timeout time.Duration
}

// Runner launches `python script --data path args...`.
type Runner struct {
	opts Options
	log  logrus.FieldLogger
}

// Output is what a successful run printed.
type Output struct {
	Stdout   string
	Stderr   string
	Duration time.Duration
}

func New(opts Options, log logrus.FieldLogger) *Runner {
	if opts.Python == "" {
		opts.Python = "python"
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Runner{opts: opts, log: log.WithField("component", "runner")}
}

// Run executes script against dataPath with the script's directory as the
// working directory. A non-zero exit yields *ExitError, the time limit
// *TimeoutError and a failed launch *StartError. When ctx is canceled the
// process is killed and ctx.Err() is returned.
func (r *Runner) Run(ctx context.Context, script, dataPath string) (*Output, error) {
	command := fmt.Sprintf("%s %s", r.opts.Python, filepath.Base(script))
	if _, err := os.Stat(script); err != nil {
		return nil, &StartError{Command: command, Err: err}
	}
	runCtx := ctx
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	args := append([]string{script, "--data", dataPath}, r.opts.Args...)
	cmd := exec.CommandContext(runCtx, r.opts.Python, args...)
	cmd.Dir = filepath.Dir(script)
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log := r.log.WithFields(logrus.Fields{"script": filepath.Base(script), "data": filepath.Base(dataPath)})
	log.Debug("starting analysis script")
	start := time.Now()
	err := cmd.Run()
	dur := time.Since(start)

	if stderr.Len() > 0 {
		log.WithField("stderr", tail(stderr.String(), outputTail)).Debug("script stderr")
	}
	if err == nil {
		log.WithField("duration", dur).Debug("analysis script finished")
		return &Output{Stdout: stdout.String(), Stderr: stderr.String(), Duration: dur}, nil
	}

	// Context errors win over the kill-induced exit status.
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return nil, &TimeoutError{After: r.opts.Timeout}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil, &ExitError{
			Code:   exitErr.ExitCode(),
			Stderr: tail(stderr.String(), outputTail),
			Stdout: tail(stdout.String(), outputTail),
		}
	}
	return nil, &StartError{Command: command, Err: err}
}
