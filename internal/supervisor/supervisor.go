// Package supervisor owns the lifecycle of the external tailscaled and
// tailscale processes. It is the only package that signals or reaps
// them. Processes are modelled as durable handles (PID plus start-time
// fingerprint) rather than in-memory objects, because the manager
// process does not outlive a single CLI invocation and ownership must be
// re-derived from disk every run.
package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"tailsocks/internal/logger"
)

var (
	ErrLaunchFailed      = errors.New("failed to launch process")
	ErrTerminationFailed = errors.New("failed to terminate process")
	ErrTimeout           = errors.New("timed out")

	// ErrDaemonExited is a launch failure where the process did start
	// and then died before becoming ready. Unlike a missing or broken
	// binary this can be a transient bind conflict, so callers may
	// retry it. It wraps ErrLaunchFailed.
	ErrDaemonExited = errors.New("process exited before becoming ready")
)

// startTimeTolerance absorbs clock rounding between the kernel's process
// start tick and the millisecond timestamp we persist.
const startTimeTolerance = int64(1000)

// Handle identifies a launched process across invocations. StartedAt is
// the process creation time in milliseconds since the epoch; a PID whose
// creation time no longer matches belongs to an unrelated program that
// reused the number.
type Handle struct {
	PID       int
	StartedAt int64
}

// Launch starts bin detached in its own session so it survives this CLI
// invocation. Its output is appended to logPath. Launch returns as soon
// as the process exists; readiness is the caller's concern (WaitReady).
func Launch(bin string, args []string, dir, logPath string) (Handle, error) {
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return Handle{}, fmt.Errorf("%w: cannot open log file %s: %v", ErrLaunchFailed, logPath, err)
	}
	defer logFile.Close()

	cmd := exec.Command(bin, args...)
	cmd.Dir = dir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = detachedSysProcAttr()

	if err := cmd.Start(); err != nil {
		return Handle{}, fmt.Errorf("%w: %s: %v", ErrLaunchFailed, bin, err)
	}
	pid := cmd.Process.Pid

	// Reap the child if it exits while we are still around.
	go func() { _ = cmd.Wait() }()

	h := Handle{PID: pid, StartedAt: fingerprint(pid)}
	logger.Log.Debugf("Launched %s with PID %d (started_ms=%d)", bin, h.PID, h.StartedAt)
	return h, nil
}

// Alive reports whether the handle still refers to the process we
// launched. It never errors: a vanished process, a permission failure,
// or a reused PID all read as not alive.
func Alive(h Handle) bool {
	if h.PID <= 0 {
		return false
	}
	p, err := process.NewProcess(int32(h.PID))
	if err != nil {
		return false
	}
	running, err := p.IsRunning()
	if err != nil || !running {
		return false
	}
	if h.StartedAt == 0 {
		// Legacy state without a fingerprint: PID existence is all we have.
		return true
	}
	created, err := p.CreateTime()
	if err != nil {
		return false
	}
	diff := created - h.StartedAt
	if diff < 0 {
		diff = -diff
	}
	return diff <= startTimeTolerance
}

// Terminate stops the process gracefully, escalating to a kill after the
// grace period. Success means the process is confirmed gone, regardless
// of which signal achieved it. On ErrTerminationFailed the caller must
// keep its recorded state so the problem stays visible.
func Terminate(ctx context.Context, h Handle, grace time.Duration) error {
	if !Alive(h) {
		return nil
	}
	p, err := process.NewProcess(int32(h.PID))
	if err != nil {
		return nil
	}

	if err := p.Terminate(); err != nil {
		logger.Log.Debugf("SIGTERM to PID %d failed: %v", h.PID, err)
	} else {
		logger.Log.Debugf("Sent SIGTERM to PID %d", h.PID)
	}
	if waitGone(ctx, h, grace) {
		return nil
	}

	if err := p.Kill(); err != nil {
		logger.Log.Debugf("SIGKILL to PID %d failed: %v", h.PID, err)
	} else {
		logger.Log.Debugf("Sent SIGKILL to PID %d", h.PID)
	}
	if waitGone(ctx, h, 2*time.Second) {
		return nil
	}
	return fmt.Errorf("%w: PID %d survived SIGKILL", ErrTerminationFailed, h.PID)
}

func waitGone(ctx context.Context, h Handle, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if !Alive(h) {
			return true
		}
		select {
		case <-ctx.Done():
			return !Alive(h)
		case <-time.After(200 * time.Millisecond):
		}
	}
	return !Alive(h)
}

// Run executes bin in the foreground with a timeout and returns captured
// stdout and stderr. Used for the tailscale client verbs (up, down,
// status) whose whole contract is exit code plus output.
func Run(ctx context.Context, bin string, args []string, timeout time.Duration) (string, string, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return stdout.String(), stderr.String(),
			fmt.Errorf("%w after %s: %s %s", ErrTimeout, timeout, bin, strings.Join(args, " "))
	}
	return stdout.String(), stderr.String(), err
}
