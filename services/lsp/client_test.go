// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// =============================================================================
// STUB SERVER
// =============================================================================

// The test binary doubles as a language server. When stubModeEnv is set,
// TestHelperProcess speaks the protocol over stdin/stdout and exits.
const stubModeEnv = "LSP_STUB_MODE"

const (
	stubDiagURI   = "file:///stub/a.go"
	stubConfigURI = "file:///stub/config"
	stubInitURI   = "file:///stub/initialize"
)

func TestHelperProcess(t *testing.T) {
	mode := os.Getenv(stubModeEnv)
	if mode == "" {
		return
	}
	os.Exit(runStub(strings.Split(mode, ",")))
}

type stubServer struct {
	modes  map[string]bool
	w      *bufio.Writer
	hovers int

	// heldHover is the first hover request in reorder mode, answered
	// after the second one.
	heldHover *incomingMessage
}

func runStub(modes []string) int {
	s := &stubServer{modes: make(map[string]bool), w: bufio.NewWriter(os.Stdout)}
	for _, m := range modes {
		s.modes[m] = true
	}

	fr := newFrameReader(os.Stdin)
	for {
		frame, err := fr.ReadFrame()
		if errors.Is(err, errMalformedFrame) {
			continue
		}
		if err != nil {
			return 0
		}
		var msg incomingMessage
		if err := json.Unmarshal(frame, &msg); err != nil {
			continue
		}
		if code, exit := s.handle(&msg); exit {
			return code
		}
	}
}

func (s *stubServer) handle(msg *incomingMessage) (int, bool) {
	switch msg.Method {
	case "initialize":
		if s.modes["failinit"] {
			s.fail(msg.ID, CodeInternalError, "cannot initialize")
			return 0, false
		}
		caps := `{}`
		if s.modes["nohover"] {
			caps = `{"hoverProvider":false}`
		}
		s.reply(msg.ID, `{"capabilities":`+caps+`,"serverInfo":{"name":"stub"}}`)
		if s.modes["early"] {
			s.publish(stubDiagURI, SeverityError, "undefined: x")
		}
		if s.modes["echoinit"] {
			s.publish(stubInitURI, SeverityHint, string(msg.Params))
		}

	case "initialized":
		if s.modes["diag"] {
			s.publish(stubDiagURI, SeverityError, "undefined: x")
		}
		if s.modes["config"] {
			s.send(map[string]any{
				"jsonrpc": JSONRPCVersion,
				"id":      "cfg-1",
				"method":  "workspace/configuration",
				"params":  json.RawMessage(`{"items":[{"section":"gopls"},{"section":"missing"}]}`),
			})
		}

	case "textDocument/didOpen", "textDocument/didChange":
		uri := gjson.GetBytes(msg.Params, "textDocument.uri").String()
		version := gjson.GetBytes(msg.Params, "textDocument.version").Int()
		s.publish(uri, SeverityWarning, fmt.Sprintf("%s v%d by %d", msg.Method, version, os.Getpid()))

	case "textDocument/hover":
		s.hovers++
		if s.modes["crash"] {
			return 3, true
		}
		if s.modes["slowhover"] && s.hovers == 1 {
			return 0, false
		}
		if s.modes["reorder"] {
			if s.heldHover == nil {
				s.heldHover = msg
				return 0, false
			}
			s.replyHoverLine(msg)
			s.replyHoverLine(s.heldHover)
			s.heldHover = nil
			return 0, false
		}
		s.reply(msg.ID, `{"contents":{"kind":"markdown","value":"hover text"}}`)

	case "textDocument/definition":
		s.reply(msg.ID, `[{
			"targetUri":"file:///stub/def.go",
			"targetRange":{"start":{"line":0,"character":0},"end":{"line":20,"character":0}},
			"targetSelectionRange":{"start":{"line":4,"character":5},"end":{"line":4,"character":9}}
		}]`)

	case "textDocument/references":
		loc := `{"uri":"file:///stub/a.go","range":{"start":{"line":%d,"character":0},"end":{"line":%d,"character":3}}}`
		s.reply(msg.ID, "["+fmt.Sprintf(loc, 1, 1)+","+fmt.Sprintf(loc, 7, 7)+"]")

	case "textDocument/documentSymbol":
		r := `{"start":{"line":0,"character":0},"end":{"line":3,"character":1}}`
		s.reply(msg.ID, `[{"name":"main","kind":12,"range":`+r+`,"selectionRange":`+r+`}]`)

	case "workspace/symbol":
		query := gjson.GetBytes(msg.Params, "query").String()
		s.reply(msg.ID, `[{"name":"`+query+`Handler","kind":5,"location":{"uri":"file:///stub/h.go","range":{"start":{"line":2,"character":5},"end":{"line":2,"character":12}}}}]`)

	case "shutdown":
		s.reply(msg.ID, "null")

	case "exit":
		return 0, true

	case "":
		if string(msg.ID) == `"cfg-1"` {
			s.publish(stubConfigURI, SeverityInformation, string(msg.Result))
		}

	default:
		if msg.hasID() {
			s.fail(msg.ID, CodeMethodNotFound, "method not found: "+msg.Method)
		}
	}
	return 0, false
}

func (s *stubServer) send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = writeFrame(s.w, data)
}

func (s *stubServer) reply(id json.RawMessage, result string) {
	s.send(map[string]any{"jsonrpc": JSONRPCVersion, "id": id, "result": json.RawMessage(result)})
}

func (s *stubServer) replyHoverLine(msg *incomingMessage) {
	line := gjson.GetBytes(msg.Params, "position.line").Int()
	s.reply(msg.ID, fmt.Sprintf(`{"contents":"hover line %d"}`, line))
}

func (s *stubServer) fail(id json.RawMessage, code int, message string) {
	s.send(map[string]any{"jsonrpc": JSONRPCVersion, "id": id, "error": ResponseError{Code: code, Message: message}})
}

func (s *stubServer) publish(uri string, severity DiagnosticSeverity, message string) {
	s.send(map[string]any{
		"jsonrpc": JSONRPCVersion,
		"method":  "textDocument/publishDiagnostics",
		"params": map[string]any{
			"uri": uri,
			"diagnostics": []Diagnostic{{
				Range:    Range{End: Position{Character: 1}},
				Severity: severity,
				Message:  message,
			}},
		},
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func stubDefinition(t *testing.T, modes ...string) ServerDefinition {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	return ServerDefinition{
		Name:             "stub",
		Command:          exe,
		Args:             []string{"-test.run=^TestHelperProcess$"},
		Env:              map[string]string{stubModeEnv: strings.Join(append([]string{"base"}, modes...), ",")},
		FileTypes:        []string{"go"},
		StartupTimeoutMs: 10000,
		RequestTimeoutMs: 5000,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStubClient(t *testing.T, def ServerDefinition, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	c := NewClient(def, t.TempDir(), opts...)
	t.Cleanup(func() { _ = c.Stop(context.Background()) })
	return c
}

func startStubClient(t *testing.T, def ServerDefinition, opts ...Option) *Client {
	t.Helper()
	c := newStubClient(t, def, opts...)
	require.NoError(t, c.Start(context.Background()))
	return c
}

func writeSource(t *testing.T, dir, name, text string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	return path
}

// =============================================================================
// TESTS
// =============================================================================

func TestClient_HandshakeAndDiagnostics(t *testing.T) {
	seen := make(chan DiagnosticCounts, 4)
	handler := DiagnosticHandlerFunc(func(counts DiagnosticCounts) {
		select {
		case seen <- counts:
		default:
		}
	})

	c := startStubClient(t, stubDefinition(t, "diag"), WithDiagnosticHandler(handler))

	assert.Equal(t, ServerStateReady, c.State())
	assert.True(t, c.IsReady())
	assert.NotEmpty(t, c.ID())

	require.Eventually(t, func() bool {
		return c.DiagnosticCounts().Errors == 1
	}, 5*time.Second, 10*time.Millisecond)

	select {
	case counts := <-seen:
		assert.Equal(t, DiagnosticCounts{Errors: 1}, counts)
	case <-time.After(5 * time.Second):
		t.Fatal("diagnostic handler was not called")
	}

	diags := c.FileDiagnostics(stubDiagURI)
	require.Len(t, diags, 1)
	assert.Equal(t, "undefined: x", diags[0].Message)
	assert.Contains(t, c.FormatDiagnostics(10), "Errors (1):")
}

func TestClient_DiagnosticsPublishedDuringHandshake(t *testing.T) {
	// The stub publishes right behind its initialize reply. Start must
	// not return before that notification reached the cache.
	for i := 0; i < 5; i++ {
		c := startStubClient(t, stubDefinition(t, "early"))
		assert.Equal(t, 1, c.DiagnosticCounts().Errors, "attempt %d", i)
		require.NoError(t, c.Stop(context.Background()))
	}
}

func TestClient_InitializeParams(t *testing.T) {
	initParams := func(t *testing.T, c *Client) gjson.Result {
		t.Helper()
		diags := c.FileDiagnostics(stubInitURI)
		require.Len(t, diags, 1, "stub echoes initialize params during the handshake")
		return gjson.Parse(diags[0].Message)
	}

	t.Run("project root", func(t *testing.T) {
		def := stubDefinition(t, "echoinit")
		def.InitOptions = map[string]any{"usePlaceholders": true}
		c := startStubClient(t, def)
		params := initParams(t, c)

		assert.Equal(t, int64(os.Getpid()), params.Get("processId").Int())
		assert.Equal(t, PathToURI(c.RootPath()), params.Get("rootUri").String())
		assert.Equal(t, c.RootPath(), params.Get("rootPath").String())

		folders := params.Get("workspaceFolders").Array()
		require.Len(t, folders, 1)
		assert.Equal(t, PathToURI(c.RootPath()), folders[0].Get("uri").String())
		assert.Equal(t, filepath.Base(c.RootPath()), folders[0].Get("name").String())

		assert.True(t, params.Get("initializationOptions.usePlaceholders").Bool())
		assert.True(t, params.Get("capabilities.workspace.workspaceFolders").Bool())
	})

	t.Run("filesystem root is named workspace", func(t *testing.T) {
		c := NewClient(stubDefinition(t, "echoinit"), string(filepath.Separator), WithLogger(quietLogger()))
		t.Cleanup(func() { _ = c.Stop(context.Background()) })
		require.NoError(t, c.Start(context.Background()))
		params := initParams(t, c)

		assert.Equal(t, "workspace", params.Get("workspaceFolders.0.name").String())
		assert.False(t, params.Get("initializationOptions").Exists(), "no options configured")
	})
}

func TestClient_ResponsesMatchedByID(t *testing.T) {
	c := startStubClient(t, stubDefinition(t, "reorder"))

	// The stub holds the first hover and answers both once the second
	// arrives, newest first.
	var (
		wg      sync.WaitGroup
		results [2]string
		errs    [2]error
	)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			text, err := c.Hover(context.Background(), stubDiagURI, Position{Line: i + 1})
			errs[i] = err
			if text != nil {
				results[i] = *text
			}
		}()
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, fmt.Sprintf("hover line %d", i+1), results[i])
	}
	assert.Equal(t, 0, c.pendingCount())
}

func TestConnection_EnqueueBlocksWhenFull(t *testing.T) {
	cn := newConnection(nil, 1)
	ctx := context.Background()
	require.NoError(t, cn.enqueue(ctx, []byte("first")))

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, cn.enqueue(short, []byte("dropped")), context.DeadlineExceeded)
	require.Len(t, cn.queue, 1, "a full queue keeps what it has")

	done := make(chan error, 1)
	go func() { done <- cn.enqueue(ctx, []byte("second")) }()
	select {
	case err := <-done:
		t.Fatalf("enqueue returned %v while the queue was full", err)
	case <-time.After(50 * time.Millisecond):
	}

	assert.Equal(t, "first", string(<-cn.queue))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("enqueue did not resume after the queue drained")
	}
	assert.Equal(t, "second", string(<-cn.queue))

	require.NoError(t, cn.enqueue(ctx, []byte("third")))
	go func() { done <- cn.enqueue(ctx, []byte("fourth")) }()
	cn.close()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrCommunication)
	case <-time.After(5 * time.Second):
		t.Fatal("close did not release a blocked enqueue")
	}
}

func TestClient_RequestTimeout(t *testing.T) {
	def := stubDefinition(t, "slowhover")
	def.RequestTimeoutMs = 200
	c := startStubClient(t, def)

	start := time.Now()
	_, err := c.Hover(context.Background(), stubDiagURI, Position{})
	require.Error(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)

	var timeout *TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "textDocument/hover", timeout.Method)
	assert.Equal(t, 200*time.Millisecond, timeout.Duration)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 0, c.pendingCount(), "timed out request must leave no pending entry")

	text, err := c.Hover(context.Background(), stubDiagURI, Position{})
	require.NoError(t, err)
	require.NotNil(t, text)
	assert.Equal(t, "hover text", *text)
	assert.Equal(t, ServerStateReady, c.State())
}

func TestClient_NotReady(t *testing.T) {
	c := newStubClient(t, stubDefinition(t))
	ctx := context.Background()

	assert.Equal(t, ServerStateStopped, c.State())

	_, err := c.Request(ctx, "textDocument/hover", nil)
	assert.ErrorIs(t, err, ErrNotReady)

	_, err = c.Hover(ctx, stubDiagURI, Position{})
	assert.ErrorIs(t, err, ErrNotReady)

	assert.ErrorIs(t, c.DidOpen(ctx, stubDiagURI, "go", 0, ""), ErrNotReady)
	_, open := c.DocumentVersion(stubDiagURI)
	assert.False(t, open, "failed didOpen must not track the document")
}

func TestClient_StartupFailures(t *testing.T) {
	t.Run("missing command", func(t *testing.T) {
		def := stubDefinition(t)
		def.Command = "aleutian-no-such-language-server"
		c := newStubClient(t, def)

		err := c.Start(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrStartupFailed)
		var startup *StartupError
		require.ErrorAs(t, err, &startup)
		assert.Equal(t, "stub", startup.Server)
		assert.Equal(t, ServerStateError, c.State())
	})

	t.Run("initialize rejected", func(t *testing.T) {
		c := newStubClient(t, stubDefinition(t, "failinit"))

		err := c.Start(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrStartupFailed)
		var serverErr *ServerError
		require.ErrorAs(t, err, &serverErr)
		assert.Equal(t, CodeInternalError, serverErr.Code)
		assert.Equal(t, ServerStateError, c.State())
		assert.Nil(t, c.activeConn(), "failed start must release the transport")
	})
}

func TestClient_Stop(t *testing.T) {
	ctx := context.Background()

	t.Run("idempotent", func(t *testing.T) {
		c := startStubClient(t, stubDefinition(t))

		require.NoError(t, c.Stop(ctx))
		assert.Equal(t, ServerStateShutdown, c.State())
		assert.Nil(t, c.activeConn())

		require.NoError(t, c.Stop(ctx))
		assert.Equal(t, ServerStateShutdown, c.State())

		_, err := c.Request(ctx, "workspace/symbol", WorkspaceSymbolParams{})
		assert.ErrorIs(t, err, ErrNotReady)
	})

	t.Run("start again after stop", func(t *testing.T) {
		c := startStubClient(t, stubDefinition(t))
		require.NoError(t, c.Stop(ctx))
		require.NoError(t, c.Start(ctx))
		assert.Equal(t, ServerStateReady, c.State())
	})

	t.Run("never started", func(t *testing.T) {
		c := newStubClient(t, stubDefinition(t))
		require.NoError(t, c.Stop(ctx))
		assert.Equal(t, ServerStateShutdown, c.State())
	})
}

func TestClient_Restart(t *testing.T) {
	ctx := context.Background()
	c := startStubClient(t, stubDefinition(t))
	path := writeSource(t, c.RootPath(), "main.go", "package main\n")

	uri, err := c.OpenFileOnDemand(ctx, path)
	require.NoError(t, err)

	var first string
	require.Eventually(t, func() bool {
		diags := c.FileDiagnostics(uri)
		if len(diags) == 0 {
			return false
		}
		first = diags[0].Message
		return true
	}, 5*time.Second, 10*time.Millisecond)

	idBefore := c.nextID.Load()
	require.NoError(t, c.Restart(ctx))
	assert.Equal(t, ServerStateReady, c.State())
	assert.Greater(t, c.nextID.Load(), idBefore, "request ids keep increasing across restarts")

	assert.Equal(t, []string{uri}, c.OpenFiles())
	version, open := c.DocumentVersion(uri)
	assert.True(t, open)
	assert.Equal(t, 0, version)

	require.Eventually(t, func() bool {
		diags := c.FileDiagnostics(uri)
		return len(diags) == 1 && diags[0].Message != first
	}, 5*time.Second, 10*time.Millisecond, "the new server should see the reopened document")
}

func TestClient_RestartSkipsUnreadableDocuments(t *testing.T) {
	ctx := context.Background()
	c := startStubClient(t, stubDefinition(t))
	kept := writeSource(t, c.RootPath(), "kept.go", "package main\n")
	gone := writeSource(t, c.RootPath(), "gone.go", "package main\n")

	keptURI, err := c.OpenFileOnDemand(ctx, kept)
	require.NoError(t, err)
	_, err = c.OpenFileOnDemand(ctx, gone)
	require.NoError(t, err)
	require.NoError(t, os.Remove(gone))

	require.NoError(t, c.Restart(ctx))
	assert.Equal(t, []string{keptURI}, c.OpenFiles())
}

func TestClient_DisableEnable(t *testing.T) {
	ctx := context.Background()
	c := startStubClient(t, stubDefinition(t, "diag"))
	require.Eventually(t, func() bool {
		return c.DiagnosticCounts().Errors == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Disable(ctx))
	assert.Equal(t, ServerStateDisabled, c.State())
	assert.Equal(t, 1, c.DiagnosticCounts().Errors, "disable keeps cached diagnostics")

	assert.ErrorIs(t, c.Start(ctx), ErrNotReady)
	assert.ErrorIs(t, c.Restart(ctx), ErrNotReady)

	require.NoError(t, c.Stop(ctx))
	assert.Equal(t, ServerStateDisabled, c.State(), "stop leaves a disabled client disabled")

	c.Enable()
	assert.Equal(t, ServerStateStopped, c.State())
	require.NoError(t, c.Start(ctx))
	assert.Equal(t, ServerStateReady, c.State())
}

func TestClient_Documents(t *testing.T) {
	ctx := context.Background()
	c := startStubClient(t, stubDefinition(t))

	t.Run("missing file", func(t *testing.T) {
		_, err := c.OpenFileOnDemand(ctx, filepath.Join(c.RootPath(), "missing.go"))
		assert.ErrorIs(t, err, ErrFileNotFound)
	})

	path := writeSource(t, c.RootPath(), "doc.go", "package doc\n")

	t.Run("open on demand once", func(t *testing.T) {
		uri, err := c.OpenFileOnDemand(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, PathToURI(path), uri)

		version, open := c.DocumentVersion(uri)
		require.True(t, open)
		assert.Equal(t, 0, version)

		again, err := c.OpenFileOnDemand(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, uri, again)
		assert.Len(t, c.OpenFiles(), 1)
	})

	t.Run("change tracks version", func(t *testing.T) {
		uri := PathToURI(path)
		require.NoError(t, c.DidChange(ctx, uri, 3, "package doc\n\nvar x int\n"))
		version, _ := c.DocumentVersion(uri)
		assert.Equal(t, 3, version)

		require.Eventually(t, func() bool {
			diags := c.FileDiagnostics(uri)
			return len(diags) == 1 && strings.HasPrefix(diags[0].Message, "textDocument/didChange v3")
		}, 5*time.Second, 10*time.Millisecond)

		require.NoError(t, c.DidSave(ctx, uri, ""))
	})

	t.Run("close forgets document", func(t *testing.T) {
		uri := PathToURI(path)
		require.NoError(t, c.DidClose(ctx, uri))
		_, open := c.DocumentVersion(uri)
		assert.False(t, open)
		assert.Empty(t, c.OpenFiles())
	})
}

func TestClient_Queries(t *testing.T) {
	ctx := context.Background()
	c := startStubClient(t, stubDefinition(t))

	t.Run("hover normalizes markup", func(t *testing.T) {
		text, err := c.Hover(ctx, stubDiagURI, Position{Line: 1})
		require.NoError(t, err)
		require.NotNil(t, text)
		assert.Equal(t, "hover text", *text)
	})

	t.Run("definition from location link", func(t *testing.T) {
		locs, err := c.Definition(ctx, stubDiagURI, Position{Line: 1})
		require.NoError(t, err)
		require.Len(t, locs, 1)
		assert.Equal(t, "file:///stub/def.go", locs[0].URI)
		assert.Equal(t, Position{Line: 4, Character: 5}, locs[0].Range.Start)
	})

	t.Run("references", func(t *testing.T) {
		locs, err := c.References(ctx, stubDiagURI, Position{Line: 1}, true)
		require.NoError(t, err)
		require.Len(t, locs, 2)
		assert.Equal(t, 7, locs[1].Range.Start.Line)
	})

	t.Run("document symbols", func(t *testing.T) {
		syms, err := c.DocumentSymbols(ctx, stubDiagURI)
		require.NoError(t, err)
		require.Len(t, syms, 1)
		assert.Equal(t, "main", syms[0].Name)
		assert.Equal(t, SymbolKindFunction, syms[0].Kind)
	})

	t.Run("workspace symbols", func(t *testing.T) {
		syms, err := c.WorkspaceSymbols(ctx, "Chat")
		require.NoError(t, err)
		require.Len(t, syms, 1)
		assert.Equal(t, "ChatHandler", syms[0].Name)
		assert.Equal(t, "file:///stub/h.go", syms[0].Location.URI)
	})

	t.Run("server error", func(t *testing.T) {
		_, err := c.Request(ctx, "custom/unknown", nil)
		require.Error(t, err)
		var serverErr *ServerError
		require.ErrorAs(t, err, &serverErr)
		assert.True(t, serverErr.IsMethodNotFound())
		assert.False(t, IsRetryable(err))
	})
}

func TestClient_UnsupportedCapability(t *testing.T) {
	c := startStubClient(t, stubDefinition(t, "nohover"))

	_, err := c.Hover(context.Background(), stubDiagURI, Position{})
	assert.ErrorIs(t, err, ErrUnsupportedCapability)

	// Other queries are not blocked by an absent provider.
	_, err = c.Definition(context.Background(), stubDiagURI, Position{})
	assert.NoError(t, err)
}

func TestClient_WorkspaceConfiguration(t *testing.T) {
	def := stubDefinition(t, "config")
	def.Settings = map[string]any{"gopls": map[string]any{"staticcheck": true}}
	c := startStubClient(t, def)

	require.Eventually(t, func() bool {
		diags := c.FileDiagnostics(stubConfigURI)
		return len(diags) == 1 && diags[0].Message == `[{"staticcheck":true},null]`
	}, 5*time.Second, 10*time.Millisecond, "server should receive the gopls section and null for unknown sections")
}

func TestClient_TransportLoss(t *testing.T) {
	ctx := context.Background()
	c := startStubClient(t, stubDefinition(t, "crash"))

	_, err := c.Hover(ctx, stubDiagURI, Position{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCommunication)
	assert.True(t, NeedsRestart(err))

	require.Eventually(t, func() bool {
		return c.State() == ServerStateError
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Restart(ctx))
	assert.Equal(t, ServerStateReady, c.State())
}

func TestClient_WaitForDiagnostics(t *testing.T) {
	c := startStubClient(t, stubDefinition(t, "diag"))
	require.Eventually(t, func() bool {
		return c.DiagnosticCounts().Errors == 1
	}, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.WaitForDiagnostics(ctx, 50*time.Millisecond))

	cancelled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	assert.ErrorIs(t, c.WaitForDiagnostics(cancelled, time.Hour), context.Canceled)
}

func TestClient_SharedCache(t *testing.T) {
	cache := NewDiagnosticCache()
	c := startStubClient(t, stubDefinition(t, "diag"), WithCache(cache))

	assert.Same(t, cache, c.Cache())
	require.Eventually(t, func() bool {
		return cache.Counts().Errors == 1
	}, 5*time.Second, 10*time.Millisecond)
}
