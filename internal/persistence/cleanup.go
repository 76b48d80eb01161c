package persistence

import (
	"syscall"
	"time"
)

const (
	startupTerminateTimeout     = 500 * time.Millisecond
	startupKillTimeout          = 500 * time.Millisecond
	startupKillPollInterval     = 25 * time.Millisecond
)

// CleanupStaleSessions runs once when a SessionManager is constructed:
// for every persisted entry, it reaps zombies, verifies the pid still
// belongs to the session that was persisted, and removes or terminates
// accordingly. It returns the number of entries removed.
func (st *Store) CleanupStaleSessions() (int, error) {
	persisted, err := st.Load()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, s := range persisted {
		if s.Pid == 0 {
			_ = st.Remove(s.ID)
			removed++
			continue
		}

		reapZombie(s.Pid)

		if !processRunning(s.Pid) {
			_ = st.Remove(s.ID)
			removed++
			continue
		}

		switch verifyProcessIdentity(s) {
		case IdentityMatch:
			if terminateProcessGroup(s.Pid) {
				_ = st.Remove(s.ID)
				removed++
			} else {
				st.logger.Warn("failed to terminate stale session process group", "id", s.ID, "pid", s.Pid)
			}
		case IdentityMismatch:
			_ = st.Remove(s.ID)
			removed++
		case IdentityUnknown:
			st.logger.Warn("could not verify stale session process identity", "id", s.ID, "pid", s.Pid)
		}
	}

	return removed, nil
}

func reapZombie(pid int) {
	var wstatus syscall.WaitStatus
	_, _ = syscall.Wait4(pid, &wstatus, syscall.WNOHANG, nil)
}

func processRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// terminateProcessGroup sends SIGTERM to the process group led by pid,
// polls for exit, and escalates to SIGKILL if it's still alive after
// startupTerminateTimeout. Returns true if the group is no longer
// running by the time this returns.
func terminateProcessGroup(pid int) bool {
	_ = syscall.Kill(-pid, syscall.SIGTERM)
	if waitForExit(pid, startupTerminateTimeout) {
		return true
	}

	_ = syscall.Kill(-pid, syscall.SIGKILL)
	return waitForExit(pid, startupKillTimeout)
}

func waitForExit(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !processRunning(pid) {
			return true
		}
		time.Sleep(startupKillPollInterval)
	}
	return !processRunning(pid)
}
