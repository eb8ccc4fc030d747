package git

import (
	"context"
)

// Cloner obtains a local working copy of a remote repository.
// This interface is designed to be implementation-agnostic,
// allowing for testing with mock implementations.
type Cloner interface {
	// Clone copies remoteURL into dest, which must not exist yet.
	// On failure dest is left absent.
	Clone(ctx context.Context, remoteURL, dest string) error
}

// ClonerFunc adapts a function to the Cloner interface.
type ClonerFunc func(ctx context.Context, remoteURL, dest string) error

// Clone calls f.
func (f ClonerFunc) Clone(ctx context.Context, remoteURL, dest string) error {
	return f(ctx, remoteURL, dest)
}

// CloneOptions tunes the git CLI invocation.
type CloneOptions struct {
	// Depth makes a shallow clone when > 0. Handlers that inspect history
	// need the full clone (the default).
	Depth int

	// Quiet suppresses git's progress output
	Quiet bool
}
