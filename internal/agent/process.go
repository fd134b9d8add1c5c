// Package agent manages the lifecycle of a backing coding-agent process:
// starting it in a working directory, feeding it input, interrupting it, and
// monitoring its exit.
package agent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// StopGracePeriod is how long Stop waits for a clean exit before killing.
const StopGracePeriod = 2 * time.Second

// Config holds what a backing process needs to start.
type Config struct {
	Command    string   // agent binary, e.g. "claude"
	Args       []string // extra arguments
	WorkingDir string
}

// Callbacks let the owner react to process events. All callbacks fire from
// the process's internal goroutines and must not block.
type Callbacks struct {
	// OnLine is called for each stdout line, trailing newline included.
	OnLine func(line string)

	// OnExit is called when the process exits on its own. Not called when
	// Stop initiated the exit. The process is not restarted; the owning
	// session decides what an unexpected exit means.
	OnExit func(err error, stderrContent string)
}

// Process runs one backing agent process.
type Process struct {
	config    Config
	callbacks Callbacks
	log       *slog.Logger

	mu            sync.Mutex
	cmd           *exec.Cmd
	stdin         io.WriteCloser
	stdout        *bufio.Reader
	stderr        io.ReadCloser
	stderrContent string
	stderrDone    chan struct{}
	running       bool

	// waitDone is closed by monitorExit when cmd.Wait() completes. Stop
	// selects on it instead of calling cmd.Wait() again; double Wait is
	// undefined behavior.
	waitDone chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// readResult carries one line read from stdout.
type readResult struct {
	line string
	err  error
}

// New creates a Process. Start must be called before use.
func New(config Config, callbacks Callbacks, log *slog.Logger) *Process {
	if config.Command == "" {
		config.Command = "claude"
	}
	return &Process{config: config, callbacks: callbacks, log: log}
}

// WorkingDir returns the directory the process runs in.
func (p *Process) WorkingDir() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.config.WorkingDir
}

// SetWorkingDir updates the directory for the next Start. Pool-idled
// processes are retargeted this way before reuse.
func (p *Process) SetWorkingDir(dir string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.config.WorkingDir = dir
}

// SetOnLine replaces the stdout line callback. Pool-idled processes are
// rebound to their new owner this way before reuse.
func (p *Process) SetOnLine(fn func(line string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callbacks.OnLine = fn
}

// SetOnExit replaces the unexpected-exit callback.
func (p *Process) SetOnExit(fn func(err error, stderrContent string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callbacks.OnExit = fn
}

// Start launches the agent process. Starting an already-running process is
// a no-op.
func (p *Process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	p.log.Info("starting agent process", "command", p.config.Command)

	cmd := exec.Command(p.config.Command, p.config.Args...)
	cmd.Dir = p.config.WorkingDir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return fmt.Errorf("failed to start %s: %w", p.config.Command, err)
	}

	p.cmd = cmd
	p.stdin = stdin
	p.stdout = bufio.NewReader(stdout)
	p.stderr = stderr
	p.stderrContent = ""
	p.stderrDone = make(chan struct{})
	p.waitDone = make(chan struct{})
	p.running = true

	if p.cancel != nil {
		p.cancel()
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())

	p.log.Info("agent process started", "pid", cmd.Process.Pid)

	p.wg.Add(3)
	go func() {
		defer p.wg.Done()
		p.readOutput()
	}()
	go func() {
		defer p.wg.Done()
		p.drainStderr()
	}()
	go func() {
		defer p.wg.Done()
		p.monitorExit()
	}()

	return nil
}

// Stop terminates the process, waiting briefly for a clean exit before
// killing. Safe to call multiple times.
func (p *Process) Stop() {
	p.mu.Lock()
	wasRunning := p.running

	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}

	if !wasRunning {
		p.mu.Unlock()
		return
	}

	p.log.Debug("stopping agent process")
	p.running = false

	if p.stdin != nil {
		p.stdin.Close()
		p.stdin = nil
	}

	cmd := p.cmd
	waitDone := p.waitDone
	p.mu.Unlock()

	if cmd != nil && cmd.Process != nil && waitDone != nil {
		select {
		case <-waitDone:
			p.log.Debug("agent process exited gracefully")
		case <-time.After(StopGracePeriod):
			p.log.Debug("force killing agent process")
			cmd.Process.Kill()
			<-waitDone
		}
	}

	p.wg.Wait()

	p.mu.Lock()
	if p.stderr != nil {
		p.stderr.Close()
		p.stderr = nil
	}
	p.cmd = nil
	p.stdout = nil
	p.mu.Unlock()
}

// IsRunning reports whether the process is alive.
func (p *Process) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Write sends data to the process stdin.
func (p *Process) Write(data []byte) error {
	p.mu.Lock()
	stdin := p.stdin
	running := p.running
	p.mu.Unlock()

	if !running || stdin == nil {
		return fmt.Errorf("agent process not running")
	}
	if _, err := stdin.Write(data); err != nil {
		return fmt.Errorf("failed to write to agent process: %w", err)
	}
	return nil
}

// Interrupt sends SIGINT to interrupt the current operation. A dead process
// is not an error; interrupt is best effort.
func (p *Process) Interrupt() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running || p.cmd == nil || p.cmd.Process == nil {
		p.log.Debug("interrupt called but agent process not running")
		return nil
	}

	p.log.Info("sending SIGINT", "pid", p.cmd.Process.Pid)
	if err := p.cmd.Process.Signal(syscall.SIGINT); err != nil {
		return fmt.Errorf("failed to send interrupt signal: %w", err)
	}
	return nil
}

// readOutput reads stdout lines and forwards them to OnLine.
func (p *Process) readOutput() {
	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		p.mu.Lock()
		running := p.running
		reader := p.stdout
		onLine := p.callbacks.OnLine
		p.mu.Unlock()

		if !running || reader == nil {
			return
		}

		line, err := p.readLine(reader)
		if err != nil {
			// EOF or cancel; exit handling belongs to monitorExit.
			return
		}
		if len(line) == 0 {
			continue
		}
		if onLine != nil {
			onLine(line)
		}
	}
}

// readLine blocks on one line while staying cancellable. The inner goroutine
// cannot itself be cancelled, so the channel is buffered and the goroutine
// unblocks when Stop closes stdin or kills the process.
func (p *Process) readLine(reader *bufio.Reader) (string, error) {
	resultCh := make(chan readResult, 1)

	go func() {
		line, err := reader.ReadString('\n')
		resultCh <- readResult{line: line, err: err}
	}()

	select {
	case <-p.ctx.Done():
		return "", p.ctx.Err()
	case result := <-resultCh:
		return result.line, result.err
	}
}

// drainStderr captures all stderr before cmd.Wait() closes the pipe.
func (p *Process) drainStderr() {
	defer close(p.stderrDone)

	p.mu.Lock()
	stderr := p.stderr
	p.mu.Unlock()

	if stderr == nil {
		return
	}

	stderrBytes, err := io.ReadAll(stderr)
	if err != nil || len(stderrBytes) == 0 {
		return
	}

	p.mu.Lock()
	p.stderrContent = strings.TrimSpace(string(stderrBytes))
	p.mu.Unlock()
}

// monitorExit is the sole caller of cmd.Wait(); Stop coordinates through the
// waitDone channel.
func (p *Process) monitorExit() {
	p.mu.Lock()
	cmd := p.cmd
	waitDone := p.waitDone
	p.mu.Unlock()

	if cmd == nil {
		if waitDone != nil {
			close(waitDone)
		}
		return
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case err := <-done:
		p.log.Debug("agent process exited", "error", err)
		if waitDone != nil {
			close(waitDone)
		}
		p.handleExit(err)
	case <-p.ctx.Done():
		// Stop was called; consume Wait so the goroutine does not leak.
		<-done
		if waitDone != nil {
			close(waitDone)
		}
	}
}

// handleExit reports an unexpected exit to the owner. Exits triggered by
// Stop were already handled there and are skipped.
func (p *Process) handleExit(err error) {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	stderrDone := p.stderrDone
	ctxCancelled := p.ctx != nil && p.ctx.Err() != nil
	p.mu.Unlock()

	if stderrDone != nil {
		<-stderrDone
	}

	p.mu.Lock()
	stderrContent := p.stderrContent
	onExit := p.callbacks.OnExit
	if p.stdin != nil {
		p.stdin.Close()
		p.stdin = nil
	}
	if p.stderr != nil {
		p.stderr.Close()
		p.stderr = nil
	}
	p.cmd = nil
	p.stdout = nil
	p.running = false
	p.mu.Unlock()

	if ctxCancelled {
		return
	}

	p.log.Warn("agent process exited unexpectedly", "error", err, "stderr", stderrContent)
	if onExit != nil {
		onExit(err, stderrContent)
	}
}
