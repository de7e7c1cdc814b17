// Package ytdlp runs the yt-dlp discovery tool in simulate mode and turns its
// JSON output into discovery results.
package ytdlp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/mediacrawler/internal/jsonscan"
	"github.com/JakeFAU/mediacrawler/internal/metrics"
	"github.com/JakeFAU/mediacrawler/internal/scratch"
)

// ErrSpawn reports that the tool could not be started.
var ErrSpawn = errors.New("spawn yt-dlp")

// DefaultArgs is the tool invocation without the target URL.
var DefaultArgs = []string{
	"yt-dlp",
	"--ignore-config",
	"--simulate",
	"--dump-single-json",
	"-S vcodec:h264,res:720,acodec:aac",
	"--no-cache-dir",
	"--no-playlist",
	"--playlist-end=1000",
}

const (
	// DefaultExitTimeout bounds the wait for the tool to exit after its output
	// has been read.
	DefaultExitTimeout = time.Second
	// DefaultRunTimeout bounds a whole invocation, output reading included.
	DefaultRunTimeout = 2 * time.Minute
)

// Config controls how the tool is invoked.
type Config struct {
	// Args is the command and its flags. The target URL is appended last.
	Args []string
	// ExitTimeout bounds the post-read wait before the process is killed.
	ExitTimeout time.Duration
	// RunTimeout bounds the whole invocation. When it expires the process is
	// killed, its pipes are closed and whatever was parsed so far is kept.
	RunTimeout time.Duration
	// Env is appended to the inherited environment.
	Env []string
}

// Runner invokes the discovery tool. It is safe for concurrent use as long as
// each call gets its own scratch buffer.
type Runner struct {
	args        []string
	exitTimeout time.Duration
	runTimeout  time.Duration
	env         []string
	logger      *zap.Logger
}

// NewRunner builds a Runner, filling unset config values with defaults.
func NewRunner(cfg Config, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	args := cfg.Args
	if len(args) == 0 {
		args = DefaultArgs
	}
	timeout := cfg.ExitTimeout
	if timeout <= 0 {
		timeout = DefaultExitTimeout
	}
	runTimeout := cfg.RunTimeout
	if runTimeout <= 0 {
		runTimeout = DefaultRunTimeout
	}
	return &Runner{
		args:        append([]string(nil), args...),
		exitTimeout: timeout,
		runTimeout:  runTimeout,
		env:         cfg.Env,
		logger:      logger.Named("ytdlp"),
	}
}

// Args returns the full argv used for url.
func (r *Runner) Args(url string) []string {
	return append(append([]string(nil), r.args...), url)
}

// Run executes the tool for url. Every byte of stdout is written to buf before
// it is parsed. When the output ends early the partial results gathered so far
// are returned with a nil error, and so are the results gathered before the
// run timeout expired. Spawn and other read failures, and cancellation of ctx,
// return nil results and an error. The caller owns buf and must have reset it.
func (r *Runner) Run(ctx context.Context, url string, buf *scratch.Buffer) (*jsonscan.Results, error) {
	start := time.Now()
	argv := r.Args(url)
	logger := r.logger.With(zap.String("url", url))

	runCtx, cancel := context.WithTimeout(ctx, r.runTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...) //nolint:gosec // argv is operator configuration
	cmd.WaitDelay = r.exitTimeout
	if len(r.env) > 0 {
		cmd.Env = append(cmd.Environ(), r.env...)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, r.spawnFailed(logger, start, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, r.spawnFailed(logger, start, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, r.spawnFailed(logger, start, err)
	}
	// Killing the tool does not close pipes inherited by its children, so the
	// readers are released by closing our ends.
	stopClose := context.AfterFunc(runCtx, func() {
		_ = stdout.Close()
		_ = stderr.Close()
	})
	defer stopClose()

	var g errgroup.Group
	var errText strings.Builder
	g.Go(func() error {
		if _, err := io.Copy(&errText, stderr); err != nil {
			return fmt.Errorf("drain stderr: %w", err)
		}
		return nil
	})

	counted := &countingWriter{w: buf}
	results := &jsonscan.Results{Payload: buf}
	scanErr := jsonscan.Scan(io.TeeReader(stdout, counted), results.Add)

	r.awaitExit(logger, cmd, &g, cancel)

	switch {
	case scanErr != nil && ctx.Err() != nil:
		metrics.ObserveYtdlpRun(metrics.RunError, time.Since(start))
		return nil, fmt.Errorf("run yt-dlp: %w", ctx.Err())
	case scanErr != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded):
		logger.Warn("yt-dlp still running? killing it",
			zap.Duration("run_timeout", r.runTimeout),
			zap.Int64("bytes", counted.n),
			zap.Int("videos", len(results.VideoURLs)),
			zap.Int("pages", len(results.PageURLs)),
		)
		metrics.ObserveYtdlpKill()
		metrics.ObserveYtdlpRun(metrics.RunPartial, time.Since(start))
	case scanErr == nil:
		metrics.ObserveYtdlpRun(metrics.RunOK, time.Since(start))
	case errors.Is(scanErr, jsonscan.ErrPrematureEOF):
		logger.Debug("yt-dlp output ended early",
			zap.Int64("bytes", counted.n),
			zap.Int("videos", len(results.VideoURLs)),
			zap.Int("pages", len(results.PageURLs)),
			zap.String("stderr", errText.String()),
			zap.Error(scanErr),
		)
		metrics.ObserveYtdlpRun(metrics.RunPartial, time.Since(start))
	default:
		logger.Warn("problem parsing yt-dlp output",
			zap.Int64("bytes", counted.n),
			zap.String("stderr", errText.String()),
			zap.Error(scanErr),
		)
		metrics.ObserveYtdlpRun(metrics.RunError, time.Since(start))
		return nil, fmt.Errorf("parse yt-dlp output: %w", scanErr)
	}

	metrics.ObserveYtdlpLinks(jsonscan.FieldVideoURL.String(), len(results.VideoURLs))
	metrics.ObserveYtdlpLinks(jsonscan.FieldPageURL.String(), len(results.PageURLs))
	return results, nil
}

// awaitExit gives the process exitTimeout to finish after stdout has been
// consumed, then kills it through kill. The stderr task is always joined
// before Wait.
func (r *Runner) awaitExit(logger *zap.Logger, cmd *exec.Cmd, g *errgroup.Group, kill context.CancelFunc) {
	timer := time.AfterFunc(r.exitTimeout, func() {
		logger.Warn("yt-dlp still running? killing it")
		metrics.ObserveYtdlpKill()
		kill()
	})
	defer timer.Stop()

	if err := g.Wait(); err != nil {
		logger.Debug("stderr drain failed", zap.Error(err))
	}
	if err := cmd.Wait(); err != nil {
		logger.Debug("yt-dlp exited", zap.Error(err))
	}
}

func (r *Runner) spawnFailed(logger *zap.Logger, start time.Time, err error) error {
	logger.Warn("problem running yt-dlp", zap.Strings("argv", r.args), zap.Error(err))
	metrics.ObserveYtdlpRun(metrics.RunSpawnFail, time.Since(start))
	return fmt.Errorf("%w: %w", ErrSpawn, err)
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
