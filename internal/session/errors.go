package session

import (
	"errors"
	"fmt"
)

// Sentinel error kinds surfaced to RPC handlers and mapped to JSON-RPC
// error objects at the dispatcher boundary.
var (
	ErrNotFound        = errors.New("session not found")
	ErrAlreadyExists   = errors.New("session already exists")
	ErrNoActiveSession = errors.New("no active session")
	ErrInvalidKey      = errors.New("invalid key")
	ErrLockTimeout     = errors.New("session lock timeout")
)

// LimitReachedError reports that SessionManager.Spawn was refused because
// the registry is already at its configured ceiling.
type LimitReachedError struct {
	Max int
}

func (e *LimitReachedError) Error() string {
	return fmt.Sprintf("session limit reached (max %d)", e.Max)
}

// PersistenceError wraps a failed persistence operation with the
// operation name, so logs and (where surfaced) RPC errors can say exactly
// what failed.
type PersistenceError struct {
	Operation string
	Reason    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Operation, e.Reason)
}

func (e *PersistenceError) Unwrap() error { return e.Reason }

// TerminalError wraps a failure from the PTY or terminal-emulator
// collaborator.
type TerminalError struct {
	Reason string
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("terminal error: %s", e.Reason)
}

// NotFoundError names the specific session id that couldn't be resolved,
// so messages shown to a user are actionable ("session \"abc123\" not
// found") without losing errors.Is(err, ErrNotFound) compatibility.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("session %q not found", e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// AlreadyExistsError names the session id that collided with an existing
// registry entry.
type AlreadyExistsError struct {
	ID string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("session %q already exists", e.ID)
}

func (e *AlreadyExistsError) Unwrap() error { return ErrAlreadyExists }

// LockTimeoutError names the session whose lock could not be acquired
// within the caller's bound.
type LockTimeoutError struct {
	ID string
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("session %q lock timeout", e.ID)
}

func (e *LockTimeoutError) Unwrap() error { return ErrLockTimeout }
