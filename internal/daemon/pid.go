package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// pidStartToleranceSecs bounds how far a live process's observed /proc
// start time may drift from the start time recorded in the PID file before
// it's treated as a different process that happens to reuse the PID.
const pidStartToleranceSecs = 30

// PIDFile manages a PID file with flock-based locking to prevent concurrent daemon instances.
//
// Beyond the raw PID, the file's second line records the daemon's own
// /proc start time, so IsRunning can tell a live daemon apart from an
// unrelated process that reused the same PID after a crash — the same
// problem internal/persistence solves for recovered sessions via
// verifyProcessIdentity, applied here to the daemon's own lock file.
type PIDFile struct {
	path string
	file *os.File
}

// NewPIDFile creates a PIDFile instance for the given path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Path returns the PID file path.
func (p *PIDFile) Path() string {
	return p.path
}

// Write creates and locks the PID file, writing the current process ID.
// Returns an error if another process holds the lock.
func (p *PIDFile) Write() error {
	// Ensure directory exists
	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create pid directory: %w", err)
	}

	// Open file for writing (create if not exists)
	file, err := os.OpenFile(p.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("open pid file: %w", err)
	}

	// Try to acquire exclusive lock (non-blocking)
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = file.Close()
		if err == syscall.EWOULDBLOCK {
			return fmt.Errorf("daemon already running (pid file locked)")
		}
		return fmt.Errorf("lock pid file: %w", err)
	}

	// Truncate and write PID plus our own observed start time, if available.
	if err := file.Truncate(0); err != nil {
		p.unlockAndClose(file)
		return fmt.Errorf("truncate pid file: %w", err)
	}
	if _, err := file.Seek(0, 0); err != nil {
		p.unlockAndClose(file)
		return fmt.Errorf("seek pid file: %w", err)
	}
	pid := os.Getpid()
	if startTime, ok := procStartTime(pid); ok {
		_, err = fmt.Fprintf(file, "%d\n%d\n", pid, startTime.UnixNano())
	} else {
		_, err = fmt.Fprintf(file, "%d\n", pid)
	}
	if err != nil {
		p.unlockAndClose(file)
		return fmt.Errorf("write pid: %w", err)
	}
	if err := file.Sync(); err != nil {
		p.unlockAndClose(file)
		return fmt.Errorf("sync pid file: %w", err)
	}

	p.file = file
	return nil
}

// Read returns the PID from the file, or 0 if the file doesn't exist or is invalid.
func (p *PIDFile) Read() int {
	pid, _ := p.readPIDAndStart()
	return pid
}

// readPIDAndStart parses the PID from the file's first line and, if
// present, the recorded start time from its second line.
func (p *PIDFile) readPIDAndStart() (pid int, startTime time.Time) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, time.Time{}
	}
	lines := strings.SplitN(strings.TrimSpace(string(data)), "\n", 2)
	pid, err = strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return 0, time.Time{}
	}
	if len(lines) < 2 {
		return pid, time.Time{}
	}
	nanos, err := strconv.ParseInt(strings.TrimSpace(lines[1]), 10, 64)
	if err != nil {
		return pid, time.Time{}
	}
	return pid, time.Unix(0, nanos)
}

// Remove releases the lock and removes the PID file.
func (p *PIDFile) Remove() error {
	if p.file != nil {
		// Release lock and close
		p.unlockAndClose(p.file)
		p.file = nil
	}
	// Remove file (ignore error if already gone)
	_ = os.Remove(p.path)
	return nil
}

// unlockAndClose releases the flock and closes the file.
func (p *PIDFile) unlockAndClose(file *os.File) {
	_ = syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
	_ = file.Close()
}

// IsProcessRunning checks if the given PID represents a running process.
// On Unix, this sends signal 0 to check process existence.
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds - send signal 0 to check existence
	err = process.Signal(syscall.Signal(0))
	return err == nil
}

// IsRunning checks if the daemon is running based on the PID file. Returns
// true if the PID file exists, the process is alive, and — when a start
// time was recorded — that process's own /proc start time still matches
// it, so a PID reused by an unrelated process after a crash isn't mistaken
// for the daemon.
func (p *PIDFile) IsRunning() bool {
	pid, recordedStart := p.readPIDAndStart()
	if !IsProcessRunning(pid) {
		return false
	}
	if recordedStart.IsZero() {
		return true
	}
	observedStart, ok := procStartTime(pid)
	if !ok {
		return true
	}
	delta := observedStart.Sub(recordedStart)
	if delta < 0 {
		delta = -delta
	}
	return delta <= pidStartToleranceSecs*time.Second
}

// procStartTime reads /proc/<pid>/stat field 22 (process start time in
// clock ticks since boot) and converts it to a wall-clock time using
// /proc/uptime, mirroring internal/persistence's identity check. No
// third-party library in the corpus wraps this kernel-ABI detail, so it is
// read directly.
func procStartTime(pid int) (time.Time, bool) {
	statData, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return time.Time{}, false
	}

	text := string(statData)
	closeParen := strings.LastIndex(text, ")")
	if closeParen < 0 {
		return time.Time{}, false
	}
	fields := strings.Fields(text[closeParen+1:])
	const starttimeFieldIndex = 22 - 3
	if starttimeFieldIndex >= len(fields) {
		return time.Time{}, false
	}
	ticks, err := strconv.ParseInt(fields[starttimeFieldIndex], 10, 64)
	if err != nil {
		return time.Time{}, false
	}

	clockTicksPerSec := int64(100) // USER_HZ is 100 on effectively all Linux platforms
	uptimeData, err := os.ReadFile("/proc/uptime")
	if err != nil {
		return time.Time{}, false
	}
	uptimeFields := strings.Fields(string(uptimeData))
	if len(uptimeFields) == 0 {
		return time.Time{}, false
	}
	uptimeSecs, err := strconv.ParseFloat(uptimeFields[0], 64)
	if err != nil {
		return time.Time{}, false
	}

	bootTime := time.Now().Add(-time.Duration(uptimeSecs * float64(time.Second)))
	return bootTime.Add(time.Duration(ticks) * time.Second / time.Duration(clockTicksPerSec)), true
}

// CleanupStale removes stale PID and socket files if the daemon is not running.
// This handles crash recovery where files were left behind.
func (p *PIDFile) CleanupStale(socketPath string) {
	if p.IsRunning() {
		return
	}
	// Remove stale PID file (ignore errors - file may not exist)
	_ = os.Remove(p.path)
	// Remove stale socket (ignore errors - file may not exist)
	if socketPath != "" {
		_ = os.Remove(socketPath)
	}
}
