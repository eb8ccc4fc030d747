package handler

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poacher-dev/poacher/internal/console"
	"github.com/poacher-dev/poacher/internal/types"
)

func TestSinkEchoesWithHandlerName(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	sink := NewSink(console.New(&buf, false).With("secrets.so"))

	sink.Log("Found match in file %s: %s", "a.env", "password=x")
	sink.Log("plain line with %d no args")

	assert.Equal(t, []string{"Found match in file a.env: password=x", "plain line with %d no args"}, sink.Entries())
	out := buf.String()
	assert.Contains(t, out, "secrets:> Found match in file a.env: password=x")
	assert.Equal(t, 2, strings.Count(out, "\n"))
}

func TestSinkEntriesIsACopy(t *testing.T) {
	sink := NewSink(nil)
	sink.Log("one")
	entries := sink.Entries()
	entries[0] = "changed"
	assert.Equal(t, []string{"one"}, sink.Entries())
}

func TestSafeRunRecoversPanics(t *testing.T) {
	h := Func{HandlerName: "boom", Fn: func(ctx context.Context, localPath string, repo *types.Repository, log LogSink) (bool, error) {
		panic("kaboom")
	}}

	matched, err := SafeRun(context.Background(), h, "", &types.Repository{ID: 1, Name: "x"}, NewSink(nil))
	require.Error(t, err)
	assert.False(t, matched)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestSafeRunPassesThrough(t *testing.T) {
	want := errors.New("nope")
	h := Func{HandlerName: "err", Fn: func(ctx context.Context, localPath string, repo *types.Repository, log LogSink) (bool, error) {
		return true, want
	}}

	matched, err := SafeRun(context.Background(), h, "/tmp/x", &types.Repository{ID: 1, Name: "x"}, NewSink(nil))
	assert.ErrorIs(t, err, want)
	assert.True(t, matched)
}

func TestLogOnly(t *testing.T) {
	sink := NewSink(nil)
	repo := &types.Repository{ID: 5, Name: "demo", FullName: "octo/demo", HTMLURL: "https://github.com/octo/demo"}

	matched, err := LogOnly{}.Run(context.Background(), "", repo, sink)
	require.NoError(t, err)
	assert.False(t, matched)
	assert.Equal(t, []string{"Saw octo/demo (https://github.com/octo/demo)"}, sink.Entries())
}
