// Package svmrank runs the svm_rank_learn and svm_rank_classify tools as
// subprocesses.
package svmrank

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
)

// ExitError reports a tool that exited unsuccessfully.
type ExitError struct {
	Tool   string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with status %d: %s", e.Tool, e.Code, e.Stderr)
}

const (
	maxLogLine = 1 << 20
	waitDelay  = 5 * time.Second
)

// Runner invokes the svm_rank binaries.
type Runner struct {
	LearnPath    string
	ClassifyPath string
	Logger       *slog.Logger
}

// New returns a Runner for the given binaries.
func New(learnPath, classifyPath string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{LearnPath: learnPath, ClassifyPath: classifyPath, Logger: logger}
}

// Train runs "learn -c C featureFile modelFile".
func (r *Runner) Train(ctx context.Context, featureFile, modelFile string, c float64) error {
	return r.run(ctx, r.LearnPath, "-c", strconv.FormatFloat(c, 'g', -1, 64), featureFile, modelFile)
}

// Classify runs "classify featureFile modelFile scoreFile".
func (r *Runner) Classify(ctx context.Context, featureFile, modelFile, scoreFile string) error {
	return r.run(ctx, r.ClassifyPath, featureFile, modelFile, scoreFile)
}

// run starts the tool and drains stdout and stderr while it runs, so a
// chatty tool never blocks on a full pipe. Stdout is logged at debug level;
// stderr is kept for the error.
func (r *Runner) run(ctx context.Context, path string, args ...string) error {
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.WaitDelay = waitDelay
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", path, err)
	}

	logger := r.logger().With(slog.String("tool", path))
	var errBuf bytes.Buffer
	var g errgroup.Group
	g.Go(func() error {
		sc := bufio.NewScanner(stdout)
		sc.Buffer(make([]byte, 64*1024), maxLogLine)
		for sc.Scan() {
			logger.Debug(sc.Text())
		}
		err := sc.Err()
		if err == nil {
			return nil
		}
		// The scanner stops at the first bad line; the pipe still has to
		// reach EOF or the tool blocks writing to it.
		_, copyErr := io.Copy(io.Discard, stdout)
		if errors.Is(err, bufio.ErrTooLong) {
			logger.Warn("ranker output line too long to log", slog.Int("limit", maxLogLine))
			return copyErr
		}
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(&errBuf, stderr)
		return err
	})

	// Both pipes must reach EOF before Wait closes them.
	drainErr := g.Wait()
	waitErr := cmd.Wait()

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &ExitError{Tool: path, Code: exitErr.ExitCode(), Stderr: errBuf.String()}
	}
	if waitErr != nil {
		return fmt.Errorf("wait for %s: %w", path, waitErr)
	}
	if drainErr != nil {
		return fmt.Errorf("read output of %s: %w", path, drainErr)
	}
	if errBuf.Len() > 0 {
		logger.Warn("ranker wrote to stderr", slog.String("stderr", errBuf.String()))
	}
	return nil
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}
