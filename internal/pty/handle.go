// Package pty owns the pseudo-terminal collaborator and the pump that
// drains it into a session's stream buffer and terminal emulator.
package pty

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
)

// Size is a terminal's column/row dimensions.
type Size struct {
	Cols uint16
	Rows uint16
}

// Handle is the collaborator contract a Pump drains. It abstracts over a
// real spawned PTY so tests can substitute a fake without starting a
// process.
type Handle interface {
	// Read blocks until data is available, EOF, or an error occurs. It has
	// the same contract as io.Reader.
	Read(p []byte) (int, error)
	// Write sends bytes to the PTY's input side (i.e. to the child's
	// stdin).
	Write(p []byte) (int, error)
	// Resize updates the PTY's window size.
	Resize(size Size) error
	// Close releases the PTY file descriptor.
	Close() error
	// Pid returns the child process's pid.
	Pid() int
	// Signal sends a signal to the child process group.
	Signal(sig syscall.Signal) error
	// Wait blocks until the child process exits.
	Wait() error
}

// processHandle is the real Handle backed by creack/pty and an
// os/exec.Cmd running in its own session (so it can be killed as a
// process group).
type processHandle struct {
	cmd  *exec.Cmd
	ptmx *os.File
}

// Spawn starts command as a child attached to a new PTY sized to size,
// running in its own process group.
func Spawn(name string, args []string, dir string, env []string, size Size) (Handle, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	if env != nil {
		cmd.Env = env
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: size.Cols,
		Rows: size.Rows,
	})
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}

	return &processHandle{cmd: cmd, ptmx: ptmx}, nil
}

func (h *processHandle) Read(p []byte) (int, error)  { return h.ptmx.Read(p) }
func (h *processHandle) Write(p []byte) (int, error) { return h.ptmx.Write(p) }

func (h *processHandle) Resize(size Size) error {
	return pty.Setsize(h.ptmx, &pty.Winsize{Cols: size.Cols, Rows: size.Rows})
}

func (h *processHandle) Close() error {
	return h.ptmx.Close()
}

func (h *processHandle) Pid() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Signal sends sig to the child's entire process group, since it was
// started with Setsid.
func (h *processHandle) Signal(sig syscall.Signal) error {
	if h.cmd.Process == nil {
		return nil
	}
	return syscall.Kill(-h.cmd.Process.Pid, sig)
}

// Wait blocks until the child process exits.
func (h *processHandle) Wait() error {
	return h.cmd.Wait()
}
