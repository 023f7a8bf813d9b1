package supervisor

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/shirou/gopsutil/v4/process"

	"tailsocks/internal/logger"
)

// fingerprint returns the creation time of pid in ms since the epoch, or
// zero when it cannot be read (the handle then degrades to PID-only).
func fingerprint(pid int) int64 {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return 0
	}
	created, err := p.CreateTime()
	if err != nil {
		return 0
	}
	return created
}

// WaitReady polls until the daemon's control socket appears. A daemon
// that dies before creating its socket is a launch failure, reported
// with the tail of its log for context.
func WaitReady(ctx context.Context, h Handle, socketPath, logPath string, timeout time.Duration) error {
	spinner := progressbar.NewOptions(-1,
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetDescription("Waiting for tailscaled..."),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionClearOnFinish(),
	)
	defer spinner.Finish()

	deadline := time.Now().Add(timeout)
	for {
		if _, err := os.Stat(socketPath); err == nil {
			logger.Log.Debugf("Control socket appeared at %s", socketPath)
			return nil
		}
		if !Alive(h) {
			return fmt.Errorf("%w: %w%s", ErrLaunchFailed, ErrDaemonExited, logTailSuffix(logPath))
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w waiting for control socket %s", ErrTimeout, socketPath)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w waiting for control socket %s", ErrTimeout, socketPath)
		case <-time.After(200 * time.Millisecond):
			_ = spinner.Add(1)
		}
	}
}

// logTailSuffix formats the last few log lines for inclusion in an error
// message, or nothing when the log is unreadable.
func logTailSuffix(logPath string) string {
	const tailBytes = 2048
	data, err := os.ReadFile(logPath)
	if err != nil || len(data) == 0 {
		return ""
	}
	if len(data) > tailBytes {
		data = data[len(data)-tailBytes:]
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return ":\n  " + strings.Join(lines, "\n  ")
}
