package runner

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"profiler/pkg/errs"
	"profiler/pkg/logger"
	"profiler/pkg/metrics"
	tracing "profiler/pkg/observability"
)

// Outcome labels used for logs and metrics.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusTimeout = "timeout"
	StatusError   = "error"
)

// waitDelay bounds how long Wait keeps reading pipes after the child was
// killed; grandchildren may hold them open.
const waitDelay = 2 * time.Second

// ShellRunner runs commands through os/exec.
type ShellRunner struct {
	shell  []string
	logger *zap.Logger
	tracer trace.Tracer
}

// Option configures a ShellRunner.
type Option func(*ShellRunner)

// WithLogger overrides the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *ShellRunner) { s.logger = l }
}

// WithShell overrides the shell prefix used when Command.Shell is set,
// e.g. []string{"/bin/bash", "-c"}.
func WithShell(prefix ...string) Option {
	return func(s *ShellRunner) { s.shell = prefix }
}

func NewShellRunner(opts ...Option) *ShellRunner {
	s := &ShellRunner{
		shell:  defaultShell,
		logger: logger.Named("runner"),
		tracer: otel.Tracer("profiler/runner"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Runner = (*ShellRunner)(nil)

func (s *ShellRunner) Run(ctx context.Context, c Command) (Result, error) {
	result := Result{ExitCode: -1, Dir: c.Dir, Env: copyEnv(c.Env)}

	argv, err := s.resolve(c)
	if err != nil {
		s.report(ctx, c, result, StatusError, err)
		return result, err
	}
	result.Command = argv

	if err := ValidateSampleRate(c.SampleRate); err != nil {
		s.report(ctx, c, result, StatusError, err)
		return result, err
	}

	ctx, span := s.tracer.Start(ctx, "runner.Run", trace.WithAttributes(
		attribute.String("command", strings.Join(argv, " ")),
		attribute.String("command.cwd", c.Dir),
		attribute.Bool("command.shell", c.Shell),
		attribute.String("command.timeout", c.Timeout.String()),
	))
	defer span.End()

	runCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	// #nosec G204 - running caller-supplied commands is the purpose of this package
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = mergeEnv(os.Environ(), c.Env)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf
	cmd.WaitDelay = waitDelay

	// The child gets its own process group so a timeout kills the whole tree.
	configureProcessGroup(cmd)

	s.logger.Debug("Starting command",
		zap.Strings("command", argv),
		zap.String("cwd", c.Dir),
		zap.Duration("timeout", c.Timeout),
		zap.Int("env_overrides", len(c.Env)),
	)

	result.StartedAt = time.Now()
	if err := cmd.Start(); err != nil {
		result.Duration = time.Since(result.StartedAt)
		startErr := errs.NewCommandExecutionError("failed to start command", argv, -1, err).
			With(errs.KeyCwd, c.Dir)
		s.report(ctx, c, result, StatusError, startErr)
		return result, startErr
	}

	metrics.CommandsRunning.Inc()
	var sampler *usageSampler
	if c.SampleRate > 0 {
		sampler = startSampler(ctx, cmd.Process.Pid, c.SampleRate, s.logger)
	}

	waitErr := cmd.Wait()
	metrics.CommandsRunning.Dec()

	result.Duration = time.Since(result.StartedAt)
	result.Stdout = stdoutBuf.String()
	result.Stderr = stderrBuf.String()
	if cmd.ProcessState != nil {
		result.ExitCode = exitStatus(cmd.ProcessState)
		result.Usage.CPUTime = cmd.ProcessState.UserTime() + cmd.ProcessState.SystemTime()
	}
	if sampler != nil {
		peak, samples := sampler.Stop()
		result.Usage.PeakRSS = peak
		result.Usage.Samples = samples
		metrics.RecordSamples(samples, peak)
	}

	span.SetAttributes(attribute.Int("command.exit_code", result.ExitCode))

	status, runErr := classify(ctx, runCtx, c, result, waitErr)
	s.report(ctx, c, result, status, runErr)
	return result, runErr
}

// resolve turns a Command into argv.
func (s *ShellRunner) resolve(c Command) ([]string, error) {
	if c.Shell {
		line := c.Line
		if len(c.Args) > 0 {
			line = strings.Join(c.Args, " ")
		}
		if strings.TrimSpace(line) == "" {
			return nil, errs.NewConfigurationError("empty command", "command")
		}
		argv := make([]string, 0, len(s.shell)+1)
		argv = append(argv, s.shell...)
		return append(argv, line), nil
	}

	if len(c.Args) > 0 {
		if c.Args[0] == "" {
			return nil, errs.NewConfigurationError("empty program name", "command")
		}
		return append([]string(nil), c.Args...), nil
	}

	argv, err := shellwords.Parse(c.Line)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "failed to parse command line", err).
			With(errs.KeyCommand, c.Line)
	}
	if len(argv) == 0 {
		return nil, errs.NewConfigurationError("empty command", "command")
	}
	return argv, nil
}

// classify maps the outcome of Wait onto a status and a typed error.
func classify(parent, runCtx context.Context, c Command, r Result, waitErr error) (string, error) {
	if waitErr != nil {
		switch ctxErr := runCtx.Err(); {
		case errors.Is(ctxErr, context.DeadlineExceeded):
			timeout := c.Timeout
			if timeout == 0 {
				if deadline, ok := parent.Deadline(); ok {
					timeout = deadline.Sub(r.StartedAt).Round(time.Millisecond)
				}
			}
			return StatusTimeout, errs.NewCommandTimeoutError(r.Command, timeout, context.DeadlineExceeded).
				With(errs.KeyCwd, c.Dir).
				With(errs.KeyStdout, r.Stdout).
				With(errs.KeyStderr, r.Stderr)
		case errors.Is(ctxErr, context.Canceled):
			return StatusError, errs.NewCommandExecutionError("command cancelled", r.Command, r.ExitCode, context.Canceled).
				With(errs.KeyCwd, c.Dir).
				With(errs.KeyStdout, r.Stdout).
				With(errs.KeyStderr, r.Stderr)
		}

		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return StatusError, errs.NewCommandExecutionError("command failed", r.Command, r.ExitCode, waitErr).
				With(errs.KeyCwd, c.Dir).
				With(errs.KeyStdout, r.Stdout).
				With(errs.KeyStderr, r.Stderr)
		}
	}

	if r.ExitCode == 0 {
		return StatusSuccess, nil
	}
	if !c.Check {
		return StatusFailed, nil
	}
	return StatusFailed, errs.NewCommandExecutionError("command exited with non-zero status", r.Command, r.ExitCode, waitErr).
		With(errs.KeyCwd, c.Dir).
		With(errs.KeyStdout, r.Stdout).
		With(errs.KeyStderr, r.Stderr)
}

// report logs and records metrics for a finished (or rejected) command.
func (s *ShellRunner) report(ctx context.Context, c Command, r Result, status string, err error) {
	fields := []zap.Field{
		zap.String("command", c.String()),
		zap.String("status", status),
		zap.Int("exit_code", r.ExitCode),
		zap.Duration("duration", r.Duration),
	}
	if r.Usage.Samples > 0 {
		fields = append(fields, zap.Uint64("peak_rss", r.Usage.PeakRSS))
	}

	if err != nil {
		tracing.RecordError(ctx, err)
		if kind, ok := errs.KindOf(err); ok {
			metrics.RecordError(kind.String())
		}
		s.logger.Error("Command failed", append(fields, logger.Err(err))...)
	} else if status == StatusFailed {
		s.logger.Warn("Command exited with non-zero status", fields...)
	} else {
		s.logger.Info("Command finished", fields...)
	}

	if len(r.Command) > 0 {
		metrics.RecordCommand(status, r.Duration.Seconds())
	}
}

// mergeEnv overlays overrides onto a KEY=VALUE environment. Override order
// is deterministic.
func mergeEnv(base []string, overrides map[string]string) []string {
	out := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, replaced := overrides[key]; replaced {
			continue
		}
		out = append(out, kv)
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+overrides[k])
	}
	return out
}

func copyEnv(env map[string]string) map[string]string {
	if env == nil {
		return nil
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}
