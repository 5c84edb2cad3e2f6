// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package snapshot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianLSP/services/lsp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openInMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func diag(msg string, sev lsp.DiagnosticSeverity) lsp.Diagnostic {
	return lsp.Diagnostic{
		Range:    lsp.Range{Start: lsp.Position{Line: 1}, End: lsp.Position{Line: 1, Character: 4}},
		Severity: sev,
		Message:  msg,
	}
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestSaveLoad(t *testing.T) {
	s := openInMemory(t)
	ctx := context.Background()

	diags := map[string][]lsp.Diagnostic{
		"file:///p/a.go": {diag("undefined: x", lsp.SeverityError)},
		"file:///p/b.go": {diag("unused", lsp.SeverityWarning), diag("shadow", lsp.SeverityHint)},
		"file:///p/c.go": nil,
	}
	meta := Meta{Server: "gopls", Root: "/p", Version: 7, Counts: lsp.DiagnosticCounts{Errors: 1, Warnings: 1, Hints: 1}}
	require.NoError(t, s.Save(ctx, meta, diags))

	gotMeta, got, err := s.Load(ctx, "gopls", "/p")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), gotMeta.Version)
	assert.Equal(t, meta.Counts, gotMeta.Counts)
	require.Len(t, got, 2, "empty lists are not stored")
	assert.Equal(t, diags["file:///p/b.go"], got["file:///p/b.go"])
}

func TestSave_ReplacesPreviousSnapshot(t *testing.T) {
	s := openInMemory(t)
	ctx := context.Background()

	first := map[string][]lsp.Diagnostic{
		"file:///p/a.go": {diag("one", lsp.SeverityError)},
		"file:///p/b.go": {diag("two", lsp.SeverityError)},
	}
	require.NoError(t, s.Save(ctx, Meta{Server: "gopls", Root: "/p"}, first))

	second := map[string][]lsp.Diagnostic{
		"file:///p/b.go": {diag("three", lsp.SeverityWarning)},
	}
	require.NoError(t, s.Save(ctx, Meta{Server: "gopls", Root: "/p"}, second))

	_, got, err := s.Load(ctx, "gopls", "/p")
	require.NoError(t, err)
	assert.Equal(t, second, got)
}

func TestSnapshotsAreKeyedByServerAndRoot(t *testing.T) {
	s := openInMemory(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, Meta{Server: "gopls", Root: "/p"}, map[string][]lsp.Diagnostic{
		"file:///p/a.go": {diag("go", lsp.SeverityError)},
	}))
	require.NoError(t, s.Save(ctx, Meta{Server: "gopls", Root: "/p2"}, map[string][]lsp.Diagnostic{
		"file:///p2/a.go": {diag("other root", lsp.SeverityError)},
	}))

	_, got, err := s.Load(ctx, "gopls", "/p")
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Contains(t, got, "file:///p/a.go")

	_, _, err = s.Load(ctx, "pyright", "/p")
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestDelete(t *testing.T) {
	s := openInMemory(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, Meta{Server: "gopls", Root: "/p"}, map[string][]lsp.Diagnostic{
		"file:///p/a.go": {diag("x", lsp.SeverityError)},
	}))
	require.NoError(t, s.Delete(ctx, "gopls", "/p"))

	_, _, err := s.Load(ctx, "gopls", "/p")
	assert.ErrorIs(t, err, ErrNoSnapshot)

	require.NoError(t, s.Delete(ctx, "gopls", "/p"), "deleting twice is fine")
}

func TestRestore(t *testing.T) {
	s := openInMemory(t)
	ctx := context.Background()

	cache := lsp.NewDiagnosticCache()
	n, err := s.Restore(ctx, "gopls", "/p", cache)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, s.Save(ctx, Meta{Server: "gopls", Root: "/p"}, map[string][]lsp.Diagnostic{
		"file:///p/a.go": {diag("x", lsp.SeverityError)},
		"file:///p/b.go": {diag("y", lsp.SeverityWarning)},
	}))

	n, err = s.Restore(ctx, "gopls", "/p", cache)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, lsp.DiagnosticCounts{Errors: 1, Warnings: 1}, cache.Counts())
}

func TestCanceledContext(t *testing.T) {
	s := openInMemory(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Save(ctx, Meta{Server: "gopls"}, nil), context.Canceled)
	_, _, err := s.Load(ctx, "gopls", "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFollow(t *testing.T) {
	s := openInMemory(t)
	cache := lsp.NewDiagnosticCache()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Follow(ctx, "gopls", "/p", cache, 0) }()

	cache.Set("file:///p/a.go", []lsp.Diagnostic{diag("x", lsp.SeverityError)})

	require.Eventually(t, func() bool {
		_, got, err := s.Load(context.Background(), "gopls", "/p")
		return err == nil && len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cache.Remove("file:///p/a.go")
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("Follow did not return after cancel")
	}

	meta, got, err := s.Load(context.Background(), "gopls", "/p")
	require.NoError(t, err)
	assert.Empty(t, got, "final state is saved on exit")
	assert.Equal(t, cache.Version(), meta.Version)
	assert.Equal(t, lsp.DiagnosticCounts{}, meta.Counts, "counts describe the saved entries")
}

func TestPersistentReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.GCInterval = 0

	s, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), Meta{Server: "gopls", Root: "/p"}, map[string][]lsp.Diagnostic{
		"file:///p/a.go": {diag("x", lsp.SeverityError)},
	}))
	require.NoError(t, s.Close())

	s2, err := Open(cfg)
	require.NoError(t, err)
	defer s2.Close()

	_, got, err := s2.Load(context.Background(), "gopls", "/p")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
