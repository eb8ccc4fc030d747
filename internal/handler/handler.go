// Package handler defines the per-repository decision hook that the
// pipeline runs on every admitted repository, plus the builtin handlers
// and the loaders for external ones.
package handler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/poacher-dev/poacher/internal/console"
	"github.com/poacher-dev/poacher/internal/types"
)

// Handler decides whether a repository is worth archiving.
//
// localPath is the fresh working copy, or "" when cloning is disabled.
// Returning true with a working copy asks the pipeline to archive it.
// An error counts as a failed attempt and may be retried.
type Handler interface {
	Name() string
	Run(ctx context.Context, localPath string, repo *types.Repository, log LogSink) (bool, error)
}

// LogSink collects the lines a handler wants recorded with an archived
// repository. It is append-only.
type LogSink interface {
	Log(format string, args ...interface{})
	Entries() []string
}

// Sink is the LogSink handed to handlers by the pipeline. Every line is
// echoed to the console with the handler name as descriptor.
type Sink struct {
	mu      sync.Mutex
	entries []string
	echo    *console.Logger
}

// NewSink creates an empty sink echoing to echo (nil echoes nowhere).
func NewSink(echo *console.Logger) *Sink {
	return &Sink{echo: echo}
}

// Log records one line.
func (s *Sink) Log(format string, args ...interface{}) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}

	s.mu.Lock()
	s.entries = append(s.entries, msg)
	s.mu.Unlock()

	if s.echo != nil {
		s.echo.Write("%s", msg)
	}
}

// Entries returns a copy of the recorded lines in order.
func (s *Sink) Entries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, len(s.entries))
	copy(out, s.entries)
	return out
}

// SafeRun invokes h and converts a panic into an error, so one bad
// repository cannot take the whole session down.
func SafeRun(ctx context.Context, h Handler, localPath string, repo *types.Repository, log LogSink) (matched bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			matched = false
			err = fmt.Errorf("handler %s panicked: %v\n%s", h.Name(), r, debug.Stack())
		}
	}()
	return h.Run(ctx, localPath, repo, log)
}

// Func adapts a plain function into a Handler.
type Func struct {
	HandlerName string
	Fn          func(ctx context.Context, localPath string, repo *types.Repository, log LogSink) (bool, error)
}

// Name implements Handler.
func (f Func) Name() string { return f.HandlerName }

// Run implements Handler.
func (f Func) Run(ctx context.Context, localPath string, repo *types.Repository, log LogSink) (bool, error) {
	return f.Fn(ctx, localPath, repo, log)
}

// LogOnly records the repository and never asks for archiving. It is
// useful to watch the handler stage with cloning disabled.
type LogOnly struct{}

// Name implements Handler.
func (LogOnly) Name() string { return "log-only" }

// Run implements Handler.
func (LogOnly) Run(ctx context.Context, localPath string, repo *types.Repository, log LogSink) (bool, error) {
	if localPath == "" {
		log.Log("Saw %s (%s)", repo.DisplayName(), repo.HTMLURL)
	} else {
		log.Log("Saw %s at %s", repo.DisplayName(), localPath)
	}
	return false, nil
}
