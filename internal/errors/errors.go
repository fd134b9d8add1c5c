// Package errors provides structured error types for helmsman.
// These errors provide context about what operation failed and where,
// and carry a kind so callers can branch on failure category without
// parsing message strings.
package errors

import (
	"errors"
	"fmt"
)

// Op describes an operation, usually as "package.function".
type Op string

// Kind categorizes the type of error.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindValidation
	KindConflict
	KindExternalTool
	KindAuth
	KindTimeout
	KindCancelled
	KindIO
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindValidation:
		return "invalid input"
	case KindConflict:
		return "conflict"
	case KindExternalTool:
		return "external tool failure"
	case KindAuth:
		return "authentication failure"
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	case KindIO:
		return "I/O error"
	case KindConfig:
		return "configuration error"
	default:
		return "unknown error"
	}
}

// Error is the structured error type for helmsman.
type Error struct {
	Op      Op     // Operation that failed
	Kind    Kind   // Category of error
	Err     error  // Underlying error
	Context string // Additional context
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Context, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// E creates a new Error. Arguments can be:
// - Op: the operation name
// - Kind: the error kind
// - string: context message
// - error: the underlying error
func E(args ...interface{}) error {
	e := &Error{}
	for _, arg := range args {
		switch a := arg.(type) {
		case Op:
			e.Op = a
		case Kind:
			e.Kind = a
		case string:
			e.Context = a
		case error:
			e.Err = a
		}
	}
	if e.Err == nil {
		e.Err = errors.New(e.Context)
		e.Context = ""
	}
	return e
}

// Is reports whether err is of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// GetKind returns the Kind of an error.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Session errors

func SessionNotFound(id string) error {
	return E(Op("session.Get"), KindNotFound, fmt.Sprintf("session %s not found", id))
}

func CannotRemoveLastRepo(id string) error {
	return E(Op("session.RemoveRepo"), KindConflict, fmt.Sprintf("session %s has a single repository which cannot be removed", id))
}

func SessionTerminated(id string) error {
	return E(Op("session.Update"), KindConflict, fmt.Sprintf("session %s is terminated", id))
}

// Repository errors

func RepositoryNotFound(id string) error {
	return E(Op("repo.Get"), KindNotFound, fmt.Sprintf("repository %s not registered", id))
}

func NotAGitRepository(path string) error {
	return E(Op("repo.Add"), KindValidation, fmt.Sprintf("%s is not a git repository", path))
}

// Worktree errors

func WorktreeCreateFailed(branch string, err error) error {
	return E(Op("worktree.Create"), KindExternalTool, fmt.Sprintf("failed to create worktree for branch %s", branch), err)
}

func BranchCollision(branch string) error {
	return E(Op("worktree.Create"), KindConflict, fmt.Sprintf("branch %s already exists", branch))
}

// Ship errors

func StageFailed(err error) error {
	return E(Op("ship.Stage"), KindExternalTool, "failed to stage changes", err)
}

func CommitMessageRequired() error {
	return E(Op("ship.Commit"), KindValidation, "commit message required: worktree has staged changes and no message was supplied")
}

// Config errors

func ConfigLoadFailed(path string, err error) error {
	return E(Op("config.Load"), KindConfig, fmt.Sprintf("failed to load config from %s", path), err)
}

func ConfigSaveFailed(path string, err error) error {
	return E(Op("config.Save"), KindConfig, fmt.Sprintf("failed to save config to %s", path), err)
}

// CLI prerequisite errors

func CLINotFound(name string) error {
	return E(Op("cli.Check"), KindNotFound, fmt.Sprintf("required CLI tool '%s' not found in PATH", name))
}
