// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianLSP/services/lsp"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource serves canned data and records opened paths.
type fakeSource struct {
	state   lsp.ServerState
	root    string
	diags   map[string][]lsp.Diagnostic
	opened  []string
	openErr error
}

func (f *fakeSource) Server() lsp.ServerDefinition { return lsp.ServerDefinition{Name: "gopls"} }
func (f *fakeSource) RootPath() string             { return f.root }
func (f *fakeSource) State() lsp.ServerState       { return f.state }
func (f *fakeSource) IsReady() bool                { return f.state == lsp.ServerStateReady }
func (f *fakeSource) OpenFiles() []string          { return nil }

func (f *fakeSource) DiagnosticCounts() lsp.DiagnosticCounts {
	var c lsp.DiagnosticCounts
	for _, diags := range f.diags {
		for _, d := range diags {
			c.Record(d.Severity)
		}
	}
	return c
}

func (f *fakeSource) AllDiagnostics() map[string][]lsp.Diagnostic { return f.diags }

func (f *fakeSource) FileDiagnostics(uri string) []lsp.Diagnostic { return f.diags[uri] }

func (f *fakeSource) FormatDiagnostics(limit int) string {
	return fmt.Sprintf("limit=%d total=%d", limit, f.DiagnosticCounts().Total())
}

func (f *fakeSource) OpenFileOnDemand(_ context.Context, path string) (string, error) {
	if f.openErr != nil {
		return "", f.openErr
	}
	f.opened = append(f.opened, path)
	return lsp.PathToURI(path), nil
}

func newTestSource() *fakeSource {
	return &fakeSource{
		state: lsp.ServerStateReady,
		root:  "/proj",
		diags: map[string][]lsp.Diagnostic{
			"file:///proj/a.go": {
				{Message: "undefined: x", Severity: lsp.SeverityError},
				{Message: "unused", Severity: lsp.SeverityWarning},
			},
		},
	}
}

func newTestRouter(t *testing.T, src diagnosticsSource) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router, err := newRouter(src, slog.New(slog.NewTextHandler(io.Discard, nil)), false)
	require.NoError(t, err)
	return router
}

func do(t *testing.T, router http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRouter_Status(t *testing.T) {
	router := newTestRouter(t, newTestSource())

	w := do(t, router, http.MethodGet, "/v1/lsp/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Server    string               `json:"server"`
		State     string               `json:"state"`
		Root      string               `json:"root"`
		OpenFiles []string             `json:"open_files"`
		Counts    lsp.DiagnosticCounts `json:"counts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "gopls", resp.Server)
	assert.Equal(t, "ready", resp.State)
	assert.Equal(t, "/proj", resp.Root)
	assert.NotNil(t, resp.OpenFiles)
	assert.Equal(t, lsp.DiagnosticCounts{Errors: 1, Warnings: 1}, resp.Counts)
}

func TestRouter_Health(t *testing.T) {
	src := newTestSource()
	router := newTestRouter(t, src)

	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/v1/lsp/health", "").Code)

	src.state = lsp.ServerStateError
	w := do(t, router, http.MethodGet, "/v1/lsp/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "NOT_READY")
}

func TestRouter_Diagnostics(t *testing.T) {
	router := newTestRouter(t, newTestSource())

	w := do(t, router, http.MethodGet, "/v1/lsp/diagnostics", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp DiagnosticsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Counts.Total())
	require.Len(t, resp.Files["file:///proj/a.go"], 2)
	assert.Equal(t, "undefined: x", resp.Files["file:///proj/a.go"][0].Message)
}

func TestRouter_FileDiagnostics(t *testing.T) {
	router := newTestRouter(t, newTestSource())

	t.Run("by uri", func(t *testing.T) {
		w := do(t, router, http.MethodGet, "/v1/lsp/diagnostics/file?uri=file:///proj/a.go", "")
		require.Equal(t, http.StatusOK, w.Code)
		var resp FileDiagnosticsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Len(t, resp.Diagnostics, 2)
	})

	t.Run("by relative path", func(t *testing.T) {
		w := do(t, router, http.MethodGet, "/v1/lsp/diagnostics/file?path=a.go", "")
		require.Equal(t, http.StatusOK, w.Code)
		var resp FileDiagnosticsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "file:///proj/a.go", resp.URI)
		assert.Len(t, resp.Diagnostics, 2)
	})

	t.Run("unknown file is an empty list", func(t *testing.T) {
		w := do(t, router, http.MethodGet, "/v1/lsp/diagnostics/file?uri=file:///proj/b.go", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"diagnostics":[]`)
	})

	t.Run("path outside root", func(t *testing.T) {
		w := do(t, router, http.MethodGet, "/v1/lsp/diagnostics/file?path=../other/a.go", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "OUTSIDE_ROOT")
	})

	t.Run("missing parameter", func(t *testing.T) {
		w := do(t, router, http.MethodGet, "/v1/lsp/diagnostics/file", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "MISSING_URI")
	})
}

func TestRouter_DiagnosticsText(t *testing.T) {
	router := newTestRouter(t, newTestSource())

	w := do(t, router, http.MethodGet, "/v1/lsp/diagnostics/text", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "limit=20 total=2", w.Body.String())

	w = do(t, router, http.MethodGet, "/v1/lsp/diagnostics/text?limit=0", "")
	assert.Equal(t, "limit=0 total=2", w.Body.String())

	w = do(t, router, http.MethodGet, "/v1/lsp/diagnostics/text?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_Open(t *testing.T) {
	t.Run("opens relative to root", func(t *testing.T) {
		src := newTestSource()
		router := newTestRouter(t, src)

		w := do(t, router, http.MethodPost, "/v1/lsp/open", `{"path":"pkg/b.go"}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []string{"/proj/pkg/b.go"}, src.opened)
		assert.Contains(t, w.Body.String(), "file:///proj/pkg/b.go")
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	})

	t.Run("rejects paths outside root", func(t *testing.T) {
		for _, path := range []string{"/etc/passwd", "../secret.go", "pkg/../../secret.go"} {
			src := newTestSource()
			router := newTestRouter(t, src)
			w := do(t, router, http.MethodPost, "/v1/lsp/open", `{"path":"`+path+`"}`)
			assert.Equal(t, http.StatusBadRequest, w.Code, path)
			assert.Contains(t, w.Body.String(), "OUTSIDE_ROOT", path)
			assert.Empty(t, src.opened, "%s must not reach the server", path)
		}
	})

	t.Run("absolute path under root", func(t *testing.T) {
		src := newTestSource()
		router := newTestRouter(t, src)
		w := do(t, router, http.MethodPost, "/v1/lsp/open", `{"path":"/proj/pkg/../c.go"}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []string{"/proj/c.go"}, src.opened)
	})

	t.Run("missing path", func(t *testing.T) {
		router := newTestRouter(t, newTestSource())
		w := do(t, router, http.MethodPost, "/v1/lsp/open", `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "INVALID_REQUEST")
	})

	errorCases := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", fmt.Errorf("%w: /proj/x.go", lsp.ErrFileNotFound), http.StatusNotFound},
		{"not ready", lsp.ErrNotReady, http.StatusServiceUnavailable},
		{"other", lsp.ErrCommunication, http.StatusInternalServerError},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			src := newTestSource()
			src.openErr = tc.err
			router := newTestRouter(t, src)
			w := do(t, router, http.MethodPost, "/v1/lsp/open", `{"path":"x.go"}`)
			assert.Equal(t, tc.status, w.Code)
		})
	}
}

func TestRouter_RequestIDEchoed(t *testing.T) {
	router := newTestRouter(t, newTestSource())
	req := httptest.NewRequest(http.MethodPost, "/v1/lsp/open", strings.NewReader(`{"path":"a.go"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))

	for _, target := range []string{"/v1/lsp/status", "/v1/lsp/health", "/v1/lsp/diagnostics/file", "/metrics"} {
		w := do(t, router, http.MethodGet, target, "")
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"), target)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/lsp/diagnostics", nil)
	req.Header.Set("X-Request-ID", "req-43")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "req-43", w.Header().Get("X-Request-ID"))
}

func TestRouter_Metrics(t *testing.T) {
	router := newTestRouter(t, newTestSource())
	w := do(t, router, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
