package webcamctl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Executor runs an external command and returns its standard output.
// Any failure, including a non-zero exit status, is an error.
type Executor interface {
	Execute(ctx context.Context, argv []string) (string, error)
}

// ExecutorFunc adapts a plain function to the Executor interface
type ExecutorFunc func(ctx context.Context, argv []string) (string, error)

func (f ExecutorFunc) Execute(ctx context.Context, argv []string) (string, error) {
	return f(ctx, argv)
}

// ExecutionError reports an external command that could not start or exited
// with non-zero status. ExitCode is -1 when no exit status is available.
type ExecutionError struct {
	Argv     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExecutionError) Error() string {
	cmd := strings.Join(e.Argv, " ")
	msg := fmt.Sprintf("command %q failed", cmd)
	if e.ExitCode >= 0 {
		msg = fmt.Sprintf("command %q exited with status %d", cmd, e.ExitCode)
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// CommandExecutor runs commands as child processes, each bounded by Timeout
type CommandExecutor struct {
	Timeout time.Duration
	Logger  *zap.SugaredLogger
}

// NewCommandExecutor returns an executor with the given per-command timeout;
// non-positive timeouts fall back to DefaultCommandTimeout
func NewCommandExecutor(timeout time.Duration, logger *zap.SugaredLogger) *CommandExecutor {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &CommandExecutor{Timeout: timeout, Logger: logger}
}

func (ce *CommandExecutor) Execute(ctx context.Context, argv []string) (string, error) {
	if len(argv) == 0 {
		return "", &ExecutionError{ExitCode: -1, Err: errors.New("empty command")}
	}
	timeout := ce.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(cmdCtx, argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// grandchildren holding the output pipes must not outlive the deadline
	cmd.WaitDelay = time.Second
	err := cmd.Run()
	if err == nil {
		return stdout.String(), nil
	}

	execErr := &ExecutionError{Argv: argv, ExitCode: -1, Stderr: stderr.String(), Err: err}
	if ctxErr := cmdCtx.Err(); ctxErr != nil {
		// killed by deadline or caller cancellation; the exit status is meaningless
		execErr.Err = ctxErr
	} else {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			execErr.ExitCode = exitErr.ExitCode()
		}
	}
	if ce.Logger != nil {
		ce.Logger.Debugw("external command failed", "argv", argv, "exit_code", execErr.ExitCode, "error", execErr.Err)
	}
	return stdout.String(), execErr
}
