package pipeline

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/mosaicgis/cartographer/internal/command"
)

// RunResult captures a finished subprocess: its exit code and combined
// output, trimmed to a tail long enough for diagnosis.
type RunResult struct {
	ExitCode int
	Output   string
}

// Runner executes pipeline commands. The production runner shells out; tests
// substitute fakes.
type Runner interface {
	Run(ctx context.Context, cmd command.Command) (RunResult, error)
}

const outputTailBytes = 16 * 1024

type RunnerOption func(*execRunner)

func WithRunnerLogger(logger *zap.Logger) RunnerOption {
	return func(r *execRunner) {
		r.logger = logger
	}
}

func WithTimeout(d time.Duration) RunnerOption {
	return func(r *execRunner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithDryRun logs commands instead of executing them; every command reports
// exit code 0 with empty output.
func WithDryRun(dry bool) RunnerOption {
	return func(r *execRunner) {
		r.dryRun = dry
	}
}

type execRunner struct {
	timeout time.Duration
	dryRun  bool
	logger  *zap.Logger
}

func NewRunner(opts ...RunnerOption) Runner {
	r := &execRunner{
		timeout: 30 * time.Minute,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes a command with the configured timeout and captures combined
// output. A non-zero exit is returned in the result, not as an error; errors
// mean the process could not run at all (or timed out).
func (r *execRunner) Run(ctx context.Context, c command.Command) (RunResult, error) {
	if r.dryRun {
		r.logger.Info("dry run", zap.String("command", c.String()), zap.String("dir", c.Dir))
		return RunResult{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.Program, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = c.Env
	}

	start := time.Now()
	output, err := cmd.CombinedOutput()
	elapsed := time.Since(start)

	result := RunResult{Output: tail(string(output))}
	if ctx.Err() == context.DeadlineExceeded {
		return result, fmt.Errorf("command timed out after %s: %s", r.timeout, c.String())
	}

	switch e := err.(type) {
	case nil:
		result.ExitCode = 0
	case *exec.ExitError:
		result.ExitCode = e.ExitCode()
	default:
		return result, fmt.Errorf("run %s: %w", c.String(), err)
	}

	r.logger.Debug("command finished",
		zap.String("command", c.String()),
		zap.Int("exit_code", result.ExitCode),
		zap.Duration("elapsed", elapsed))
	return result, nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= outputTailBytes {
		return s
	}
	s = s[len(s)-outputTailBytes:]
	// The byte offset can land mid-rune; trim forward to the next boundary.
	for len(s) > 0 && !utf8.RuneStart(s[0]) {
		s = s[1:]
	}
	return s
}
