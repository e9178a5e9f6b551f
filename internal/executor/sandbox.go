package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/matthewbaird/askdb/internal/qerr"
)

// Sandbox runs a wrapper script in isolation and returns its stdout.
type Sandbox interface {
	Run(ctx context.Context, script string) (string, error)
}

// DefaultTimeout bounds one sandbox run.
const DefaultTimeout = 30 * time.Second

// SandboxConfig configures the mongosh subprocess.
type SandboxConfig struct {
	Binary  string        `yaml:"binary"`
	URI     string        `yaml:"-"`
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultSandboxConfig returns mongosh on PATH with the default timeout.
func DefaultSandboxConfig() SandboxConfig {
	return SandboxConfig{Binary: "mongosh", Timeout: DefaultTimeout}
}

// execCommandContext is swapped out in tests.
var execCommandContext = exec.CommandContext

// ShellSandbox runs scripts with `mongosh <uri> --quiet <script>`. The script
// is written to a temporary file that is removed on every exit path.
type ShellSandbox struct {
	cfg    SandboxConfig
	logger *zap.Logger
}

// NewShellSandbox creates a sandbox.
func NewShellSandbox(cfg SandboxConfig, logger *zap.Logger) *ShellSandbox {
	if cfg.Binary == "" {
		cfg.Binary = "mongosh"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ShellSandbox{cfg: cfg, logger: logger.Named("sandbox")}
}

func (s *ShellSandbox) Run(ctx context.Context, script string) (string, error) {
	f, err := os.CreateTemp("", "askdb-*.js")
	if err != nil {
		return "", qerr.New(qerr.ClassInternal, "sandbox.script", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.WriteString(script); err != nil {
		f.Close()
		return "", qerr.New(qerr.ClassInternal, "sandbox.script", err)
	}
	if err := f.Close(); err != nil {
		return "", qerr.New(qerr.ClassInternal, "sandbox.script", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	cmd := execCommandContext(execCtx, s.cfg.Binary, s.cfg.URI, "--quiet", path)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			s.logger.Warn("sandbox timed out", zap.Duration("timeout", s.cfg.Timeout))
			return "", qerr.Newf(qerr.ClassExecution, "sandbox.run", "query timed out after %s", s.cfg.Timeout)
		}
		if ctx.Err() != nil {
			return "", qerr.New(qerr.ClassInternal, "sandbox.run", ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		s.logger.Warn("sandbox exited with error",
			zap.Error(err),
			zap.String("stderr", msg),
			zap.Duration("elapsed", elapsed),
		)
		return "", qerr.Newf(qerr.ClassExecution, "sandbox.run", "database shell failed: %v: %s", err, msg)
	}

	s.logger.Debug("sandbox finished",
		zap.Int("stdout_bytes", stdout.Len()),
		zap.Duration("elapsed", elapsed),
	)
	return stdout.String(), nil
}

// String describes the sandbox without exposing the connection string.
func (s *ShellSandbox) String() string {
	return fmt.Sprintf("%s --quiet (timeout %s)", s.cfg.Binary, s.cfg.Timeout)
}
