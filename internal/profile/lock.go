package profile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"tailsocks/internal/logger"
)

// ErrLockContended means another invocation held the profile lock for the
// whole bounded wait. The lock is never stolen: breaking it while the
// holder mutates state risks corrupting the recorded process handles.
var ErrLockContended = errors.New("profile lock contended")

const lockRetryInterval = 100 * time.Millisecond

// Lock acquires the profile's exclusive advisory lock, retrying until ctx
// expires. Mutating verbs hold it for their full duration. flock(2) locks
// are released by the kernel when the holder dies, so a crashed
// invocation cannot leave a stale lock behind.
func (st *Store) Lock(ctx context.Context, name string) (*flock.Flock, error) {
	if err := st.EnsureDirs(name); err != nil {
		return nil, err
	}

	fl := flock.New(st.LockPath(name))
	ok, err := fl.TryLockContext(ctx, lockRetryInterval)
	if err != nil || !ok {
		holder := readLockHolder(st.LockPath(name))
		return nil, fmt.Errorf("%w: profile %s%s", ErrLockContended, name, holder)
	}

	// Record the holder PID for diagnostics. The flock itself, not this
	// content, is what enforces exclusion.
	if err := os.WriteFile(st.LockPath(name), []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		logger.Log.Debugf("Could not record lock holder: %v", err)
	}
	return fl, nil
}

func readLockHolder(path string) string {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return ""
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return ""
	}
	return fmt.Sprintf(" (held by pid %d)", pid)
}
