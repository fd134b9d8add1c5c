// Package exec wraps external command execution behind a small interface so
// that command-driven logic (git, platform CLIs) can be tested without
// spawning real processes.
package exec

import (
	"bytes"
	"context"
	"os"
	osexec "os/exec"
	"time"
)

// DefaultTimeout bounds a single command invocation when the caller's context
// carries no deadline of its own. Network-touching git operations (fetch,
// push) can hang indefinitely on a broken remote without it.
const DefaultTimeout = 2 * time.Minute

// CommandExecutor executes a single external command in a working directory.
// An implementation must not retain the extra environment beyond one call.
type CommandExecutor interface {
	// Run executes the command and returns captured stdout and stderr.
	Run(ctx context.Context, dir, name string, args ...string) (stdout, stderr []byte, err error)

	// Output executes the command and returns its stdout.
	Output(ctx context.Context, dir, name string, args ...string) ([]byte, error)

	// CombinedOutput executes the command and returns interleaved
	// stdout and stderr.
	CombinedOutput(ctx context.Context, dir, name string, args ...string) ([]byte, error)

	// CombinedOutputEnv is CombinedOutput with an environment overlay
	// appended to the process environment for exactly this invocation.
	CombinedOutputEnv(ctx context.Context, dir string, extraEnv []string, name string, args ...string) ([]byte, error)
}

// RealExecutor runs commands with os/exec.
type RealExecutor struct {
	// Timeout bounds each invocation when the incoming context has no
	// deadline. Zero means DefaultTimeout.
	Timeout time.Duration
}

// NewRealExecutor returns an executor that spawns real processes.
func NewRealExecutor() *RealExecutor {
	return &RealExecutor{}
}

func (e *RealExecutor) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	timeout := e.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

func (e *RealExecutor) command(ctx context.Context, dir string, extraEnv []string, name string, args ...string) *osexec.Cmd {
	cmd := osexec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if len(extraEnv) > 0 {
		cmd.Env = append(os.Environ(), extraEnv...)
	}
	return cmd
}

// Run executes the command and returns captured stdout and stderr.
func (e *RealExecutor) Run(ctx context.Context, dir, name string, args ...string) ([]byte, []byte, error) {
	ctx, cancel := e.bound(ctx)
	defer cancel()

	cmd := e.command(ctx, dir, nil, name, args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err := cmd.Run()
	return outBuf.Bytes(), errBuf.Bytes(), err
}

// Output executes the command and returns its stdout.
func (e *RealExecutor) Output(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	ctx, cancel := e.bound(ctx)
	defer cancel()

	return e.command(ctx, dir, nil, name, args...).Output()
}

// CombinedOutput executes the command and returns interleaved stdout and stderr.
func (e *RealExecutor) CombinedOutput(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	ctx, cancel := e.bound(ctx)
	defer cancel()

	return e.command(ctx, dir, nil, name, args...).CombinedOutput()
}

// CombinedOutputEnv executes the command with an environment overlay that
// lives for exactly this invocation.
func (e *RealExecutor) CombinedOutputEnv(ctx context.Context, dir string, extraEnv []string, name string, args ...string) ([]byte, error) {
	ctx, cancel := e.bound(ctx)
	defer cancel()

	return e.command(ctx, dir, extraEnv, name, args...).CombinedOutput()
}

// LookPath reports whether the named binary is installed.
func LookPath(name string) bool {
	_, err := osexec.LookPath(name)
	return err == nil
}

var _ CommandExecutor = (*RealExecutor)(nil)
