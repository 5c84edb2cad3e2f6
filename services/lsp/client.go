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
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultQueueSize is the outbound queue capacity.
	DefaultQueueSize = 64

	// maxShutdownWait bounds the graceful shutdown request during Stop.
	maxShutdownWait = 5 * time.Second

	// writerDrainWait bounds how long Stop waits for queued messages to flush.
	writerDrainWait = time.Second

	// handshakeSettleWindow is how long the reader waits for frames written
	// right after the initialize response before handing it to Start.
	handshakeSettleWindow = 25 * time.Millisecond

	// maxHeldFrames caps how many frames a held response can wait behind.
	maxHeldFrames = 32
)

// =============================================================================
// DIAGNOSTIC HANDLER
// =============================================================================

// DiagnosticHandler observes changes to a client's diagnostics.
//
// OnDiagnostics is called synchronously from the reader goroutine after a
// publishDiagnostics notification changed the cache, before the next
// message is processed. Implementations must not block for long and must
// not call Stop or Restart on the same client.
type DiagnosticHandler interface {
	OnDiagnostics(counts DiagnosticCounts)
}

// DiagnosticHandlerFunc adapts a function to DiagnosticHandler.
type DiagnosticHandlerFunc func(counts DiagnosticCounts)

// OnDiagnostics calls f(counts).
func (f DiagnosticHandlerFunc) OnDiagnostics(counts DiagnosticCounts) {
	f(counts)
}

// =============================================================================
// OPTIONS
// =============================================================================

// Option configures a Client.
type Option func(*Client)

// WithCache makes the client publish into cache instead of a private one.
func WithCache(cache *DiagnosticCache) Option {
	return func(c *Client) {
		if cache != nil {
			c.cache = cache
		}
	}
}

// WithLogger sets the client's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.baseLogger = logger
		}
	}
}

// WithDiagnosticHandler registers h at construction.
func WithDiagnosticHandler(h DiagnosticHandler) Option {
	return func(c *Client) {
		c.handler = h
	}
}

// WithQueueSize sets the outbound queue capacity. Values < 1 are ignored.
func WithQueueSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// WithStderr sends the server's stderr to w instead of the debug log.
func WithStderr(w io.Writer) Option {
	return func(c *Client) {
		c.stderr = w
	}
}

// =============================================================================
// CONNECTION
// =============================================================================

// connection is the per-process transport: the subprocess, the bounded
// outbound queue, the pending request table, and the two loops.
type connection struct {
	proc    *process
	queue   chan []byte
	pending *pendingRequests
	group   errgroup.Group

	done       chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once
	failOnce   sync.Once
	stopping   atomic.Bool
}

func newConnection(proc *process, queueSize int) *connection {
	return &connection{
		proc:       proc,
		queue:      make(chan []byte, queueSize),
		pending:    newPendingRequests(),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

// close stops the writer and rejects further enqueues.
func (cn *connection) close() {
	cn.closeOnce.Do(func() { close(cn.done) })
}

func (cn *connection) closed() bool {
	select {
	case <-cn.done:
		return true
	default:
		return false
	}
}

// enqueue appends payload to the outbound queue, blocking while it is full.
func (cn *connection) enqueue(ctx context.Context, payload []byte) error {
	if cn.closed() {
		return fmt.Errorf("%w: connection closed", ErrCommunication)
	}
	select {
	case cn.queue <- payload:
		return nil
	case <-cn.done:
		return fmt.Errorf("%w: connection closed", ErrCommunication)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client speaks the language server protocol to one server process on
// behalf of one project root.
//
// Description:
//
//	A Client is created per (server definition, project root) pair. Start
//	spawns the server and performs the initialize handshake. Two goroutines
//	run for the lifetime of the process: a writer draining the bounded
//	outbound queue in order and a reader dispatching responses and
//	notifications. Diagnostics published by the server land in the
//	client's DiagnosticCache.
//
//	State moves Stopped -> Starting -> Ready, and from Ready to Error when
//	the server's output ends unexpectedly or to Shutdown on Stop. Disabled
//	is only entered through Disable.
//
// Thread Safety:
//
//	Safe for concurrent use. Lifecycle calls (Start, Stop, Restart,
//	Disable) are serialized. The pending table, the cache, the document
//	map, and the capabilities each have their own lock.
type Client struct {
	id         string
	def        ServerDefinition
	rootPath   string
	cache      *DiagnosticCache
	queueSize  int
	stderr     io.Writer
	baseLogger *slog.Logger
	logger     *slog.Logger

	lifecycleMu sync.Mutex

	stateMu sync.RWMutex
	state   ServerState

	connMu sync.RWMutex
	conn   *connection

	nextID atomic.Int64

	capsMu sync.RWMutex
	caps   ServerCapabilities

	docsMu sync.Mutex
	docs   map[string]int

	handlerMu sync.RWMutex
	handler   DiagnosticHandler
}

// NewClient creates a client for def rooted at rootPath. The server is
// not started.
//
// Inputs:
//
//	def - Server definition. It is copied.
//	rootPath - Project root. Relative paths are made absolute.
//	opts - Optional configuration.
//
// Outputs:
//
//	*Client - The client in state Stopped.
func NewClient(def ServerDefinition, rootPath string, opts ...Option) *Client {
	if abs, err := filepath.Abs(rootPath); err == nil {
		rootPath = abs
	}
	c := &Client{
		id:         uuid.NewString(),
		def:        def.clone(),
		rootPath:   rootPath,
		queueSize:  DefaultQueueSize,
		baseLogger: slog.Default(),
		docs:       make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cache == nil {
		c.cache = NewDiagnosticCache()
	}
	c.logger = c.baseLogger.With(
		slog.String("client_id", c.id),
		slog.String("server", c.def.Name),
	)
	return c
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Start spawns the server and performs the initialize handshake.
//
// Description:
//
//	The whole of spawn plus handshake is bounded by the definition's
//	startup timeout. On success the state is Ready. On failure the process
//	is killed and reaped, the state is Error, and the returned error
//	matches ErrStartupFailed. Calling Start on a Ready client is a no-op.
//
// Inputs:
//
//	ctx - Context for cancellation of the handshake.
//
// Outputs:
//
//	error - Non-nil if the server could not be started.
func (c *Client) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if c.State() == ServerStateReady {
		return nil
	}
	c.clearDocuments()
	return c.startLocked(ctx)
}

func (c *Client) startLocked(ctx context.Context) (err error) {
	switch c.State() {
	case ServerStateReady:
		return nil
	case ServerStateDisabled:
		return fmt.Errorf("%w: client is disabled", ErrNotReady)
	}
	if stale := c.activeConn(); stale != nil {
		c.teardown(stale)
	}

	c.setState(ServerStateStarting)
	c.logger.Info("Starting LSP server",
		slog.String("command", c.def.Command),
		slog.String("root_path", c.rootPath),
	)

	startCtx, cancel := context.WithTimeout(ctx, c.def.StartupTimeout())
	defer cancel()

	proc, err := startProcess(&c.def, c.rootPath, c.stderrWriter())
	if err != nil {
		recordServerSpawn(ctx, c.def.Name, false)
		c.setState(ServerStateError)
		c.logger.Warn("LSP server failed to spawn", slog.String("error", err.Error()))
		return &StartupError{Server: c.def.Name, Err: err}
	}

	conn := newConnection(proc, c.queueSize)
	defer func() {
		if err != nil {
			c.teardown(conn)
			c.setState(ServerStateError)
			recordServerSpawn(ctx, c.def.Name, false)
			c.logger.Warn("LSP server handshake failed", slog.String("error", err.Error()))
		}
	}()

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	conn.group.Go(func() error {
		defer close(conn.writerDone)
		return c.writeLoop(conn)
	})
	conn.group.Go(func() error {
		return c.readLoop(conn)
	})

	result, err := c.initialize(startCtx, conn)
	if err != nil {
		return &StartupError{Server: c.def.Name, Err: err}
	}
	c.capsMu.Lock()
	c.caps = result.Capabilities
	c.capsMu.Unlock()

	if err := c.notifyConn(startCtx, conn, "initialized", struct{}{}); err != nil {
		return &StartupError{Server: c.def.Name, Err: err}
	}
	if conn.closed() {
		return &StartupError{Server: c.def.Name, Err: fmt.Errorf("%w: server exited during handshake", ErrCommunication)}
	}

	c.setState(ServerStateReady)
	recordServerSpawn(ctx, c.def.Name, true)

	attrs := []any{
		slog.Int("pid", proc.pid()),
		slog.Bool("hover", !providerDisabled(result.Capabilities.HoverProvider)),
		slog.Bool("definition", !providerDisabled(result.Capabilities.DefinitionProvider)),
		slog.Bool("references", !providerDisabled(result.Capabilities.ReferencesProvider)),
	}
	if result.ServerInfo != nil {
		attrs = append(attrs, slog.String("server_name", result.ServerInfo.Name))
	}
	c.logger.Info("LSP server ready", attrs...)
	return nil
}

// initialize sends the initialize request and decodes the result.
func (c *Client) initialize(ctx context.Context, conn *connection) (*InitializeResult, error) {
	rootURI := PathToURI(c.rootPath)
	name := filepath.Base(c.rootPath)
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "workspace"
	}

	params := InitializeParams{
		ProcessID:             os.Getpid(),
		RootURI:               rootURI,
		RootPath:              c.rootPath,
		Capabilities:          defaultClientCapabilities(),
		InitializationOptions: c.def.InitOptions,
		WorkspaceFolders:      []WorkspaceFolder{{URI: rootURI, Name: name}},
	}

	// Notifications the server writes right behind its reply, such as an
	// early publishDiagnostics, are applied before Start returns.
	raw, err := c.roundTrip(ctx, conn, "initialize", params, c.def.StartupTimeout(), true)
	if err != nil {
		return nil, fmt.Errorf("initialize request: %w", err)
	}

	var result InitializeResult
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("%w: initialize result: %v", ErrInvalidResponse, err)
		}
	}
	return &result, nil
}

// Stop shuts the server down.
//
// Description:
//
//	If the client is Ready a shutdown request and an exit notification
//	are sent, ignoring failures. The process is then killed and reaped
//	unconditionally and the state becomes Shutdown. Stopping a disabled
//	client leaves it Disabled. Stop is idempotent.
func (c *Client) Stop(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	c.stopLocked(ctx)
	return nil
}

func (c *Client) stopLocked(ctx context.Context) {
	if conn := c.activeConn(); conn != nil {
		if c.State() == ServerStateReady {
			c.logger.Info("Shutting down LSP server")
			_, _ = c.call(ctx, conn, "shutdown", nil, min(c.def.RequestTimeout(), maxShutdownWait))
			// The server may exit as soon as it reads "exit".
			conn.stopping.Store(true)
			_ = c.notifyConn(ctx, conn, "exit", nil)
		}
		c.teardown(conn)
	}
	if c.State() != ServerStateDisabled {
		c.setState(ServerStateShutdown)
	}
}

// teardown stops both loops and releases the process.
func (c *Client) teardown(conn *connection) {
	conn.stopping.Store(true)
	conn.close()

	select {
	case <-conn.writerDone:
	case <-time.After(writerDrainWait):
	}

	if err := conn.proc.release(); err != nil {
		c.logger.Debug("LSP server exited", slog.String("status", err.Error()))
	}
	conn.pending.failAll(fmt.Errorf("%w: client stopped", ErrCommunication))
	_ = conn.group.Wait()

	c.connMu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.connMu.Unlock()
}

// Restart stops the server, starts it again, and reopens every document
// that was open before. Documents that can no longer be read are skipped.
func (c *Client) Restart(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if c.State() == ServerStateDisabled {
		return fmt.Errorf("%w: client is disabled", ErrNotReady)
	}

	uris := c.OpenFiles()
	c.stopLocked(ctx)
	c.clearDocuments()

	if err := c.startLocked(ctx); err != nil {
		return err
	}

	reopened := 0
	for _, uri := range uris {
		path := URIToPath(uri)
		text, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := c.DidOpen(ctx, uri, LanguageIDForPath(path), 0, string(text)); err != nil {
			c.logger.Debug("Reopen after restart failed",
				slog.String("uri", uri),
				slog.String("error", err.Error()),
			)
			continue
		}
		reopened++
	}
	c.logger.Info("LSP server restarted", slog.Int("reopened", reopened))
	return nil
}

// Disable stops the server if running and parks the client in Disabled.
// Cached diagnostics are kept. Requests fail with ErrNotReady until Enable.
func (c *Client) Disable(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	c.stopLocked(ctx)
	c.setState(ServerStateDisabled)
	return nil
}

// Enable returns a disabled client to Stopped so it can be started again.
func (c *Client) Enable() {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	if c.State() == ServerStateDisabled {
		c.setState(ServerStateStopped)
	}
}

// =============================================================================
// REQUESTS
// =============================================================================

// Request sends a request and waits for its reply.
//
// Description:
//
//	Ids come from a per-client counter and strictly increase across
//	restarts. The wait is bounded by the definition's request timeout and
//	by ctx. On timeout the pending entry is removed, so a late reply is
//	discarded, and no cancellation is sent to the server.
//
// Outputs:
//
//	json.RawMessage - The raw result, "null" when the server returned null.
//	error - *ServerError for a JSON-RPC error reply, *TimeoutError on
//	timeout, ErrNotReady if the client has no transport, ErrCommunication
//	if the transport broke.
func (c *Client) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	conn := c.activeConn()
	if conn == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotReady, method)
	}
	return c.call(ctx, conn, method, params, c.def.RequestTimeout())
}

func (c *Client) call(ctx context.Context, conn *connection, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	return c.roundTrip(ctx, conn, method, params, timeout, false)
}

func (c *Client) roundTrip(ctx context.Context, conn *connection, method string, params any, timeout time.Duration, settle bool) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	payload, err := encodeRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	register := conn.pending.register
	if settle {
		register = conn.pending.registerSettled
	}
	slot, err := register(id)
	if err != nil {
		return nil, err
	}
	defer conn.pending.remove(id)

	reqCtx, cancel := context.WithTimeoutCause(ctx, timeout, &TimeoutError{Method: method, Duration: timeout})
	defer cancel()

	if err := conn.enqueue(reqCtx, payload); err != nil {
		return nil, c.requestFailure(reqCtx, method, err)
	}

	select {
	case res := <-slot:
		if res.err != nil {
			return nil, res.err
		}
		if res.msg.Error != nil {
			return nil, &ServerError{
				Code:    res.msg.Error.Code,
				Message: res.msg.Error.Message,
				Data:    res.msg.Error.Data,
			}
		}
		return res.msg.Result, nil
	case <-reqCtx.Done():
		return nil, c.requestFailure(reqCtx, method, reqCtx.Err())
	}
}

// requestFailure maps a request context ending into the error returned
// to the caller.
func (c *Client) requestFailure(ctx context.Context, method string, err error) error {
	var timeout *TimeoutError
	if errors.As(context.Cause(ctx), &timeout) {
		recordRequestTimeout(context.WithoutCancel(ctx), c.def.Name, method)
		c.logger.Debug("LSP request timed out",
			slog.String("method", method),
			slog.Int64("timeout_ms", timeout.Duration.Milliseconds()),
		)
		return timeout
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("lsp request %s: %w", method, err)
	}
	return err
}

// Notify enqueues a notification without waiting for delivery.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}
	conn := c.activeConn()
	if conn == nil {
		return fmt.Errorf("%w: %s", ErrNotReady, method)
	}
	return c.notifyConn(ctx, conn, method, params)
}

func (c *Client) notifyConn(ctx context.Context, conn *connection, method string, params any) error {
	payload, err := encodeNotification(method, params)
	if err != nil {
		return err
	}
	return conn.enqueue(ctx, payload)
}

// =============================================================================
// LOOPS
// =============================================================================

// writeLoop writes queued payloads in order until the connection closes,
// then drains whatever was already queued.
func (c *Client) writeLoop(conn *connection) error {
	w := bufio.NewWriter(conn.proc.stdin)
	for {
		select {
		case payload := <-conn.queue:
			if err := writeFrame(w, payload); err != nil {
				c.transportFailed(conn, err)
				return fmt.Errorf("%w: %v", ErrCommunication, err)
			}
		case <-conn.done:
			for {
				select {
				case payload := <-conn.queue:
					if err := writeFrame(w, payload); err != nil {
						return nil
					}
				default:
					return nil
				}
			}
		}
	}
}

// heldResponse is a matched response whose delivery waits until the
// frames buffered behind it have been dispatched.
type heldResponse struct {
	slot *pendingSlot
	msg  *incomingMessage
}

// readLoop reads frames until the stream ends. Undecodable frames are
// dropped. End of stream is fatal unless the client is stopping.
//
// Responses are delivered only once every frame already read behind them
// has been dispatched, so a caller woken by a response observes the
// notifications the server sent before it continued.
func (c *Client) readLoop(conn *connection) error {
	fr := newFrameReader(conn.proc.stdout)
	var held []heldResponse
	behind := 0
	defer func() { deliverHeld(held) }()

	for {
		if len(held) > 0 && responsesDue(fr, held, behind) {
			deliverHeld(held)
			held, behind = nil, 0
		}

		frame, err := fr.ReadFrame()
		if errors.Is(err, errMalformedFrame) {
			c.logger.Debug("Skipping malformed LSP frame")
			continue
		}
		if err != nil {
			if conn.stopping.Load() {
				return nil
			}
			deliverHeld(held)
			held = nil
			c.transportFailed(conn, err)
			return fmt.Errorf("%w: %v", ErrCommunication, err)
		}

		if resp, ok := c.dispatch(conn, frame); ok {
			held = append(held, resp)
		} else if len(held) > 0 {
			behind++
		}
	}
}

// responsesDue reports whether held responses can be delivered: nothing
// is left in the read buffer, and for handshake responses no further
// input arrived within the settle window.
func responsesDue(fr *frameReader, held []heldResponse, behind int) bool {
	if behind >= maxHeldFrames {
		return true
	}
	if fr.buffered() > 0 {
		return false
	}
	for _, h := range held {
		if h.slot.settle {
			return !fr.waitForData(handshakeSettleWindow)
		}
	}
	return true
}

func deliverHeld(held []heldResponse) {
	for _, h := range held {
		h.slot.deliver(callResult{msg: h.msg})
	}
}

// transportFailed handles an unexpected end of the transport: waiters are
// failed, the process is reaped, and the client moves to Error.
func (c *Client) transportFailed(conn *connection, cause error) {
	if conn.stopping.Load() {
		return
	}
	conn.failOnce.Do(func() {
		c.logger.Warn("LSP server connection lost", slog.String("error", cause.Error()))
		conn.close()
		conn.pending.failAll(fmt.Errorf("%w: %v", ErrCommunication, cause))
		_ = conn.proc.release()

		c.stateMu.Lock()
		if c.state != ServerStateShutdown && c.state != ServerStateDisabled {
			c.state = ServerStateError
		}
		c.stateMu.Unlock()
	})
}

// dispatch routes one decoded frame. A response matching a pending
// request is returned to the reader for delivery instead of being
// delivered here.
func (c *Client) dispatch(conn *connection, frame []byte) (heldResponse, bool) {
	var msg incomingMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		c.logger.Debug("Dropping undecodable LSP message", slog.String("error", err.Error()))
		return heldResponse{}, false
	}

	switch {
	case msg.Method != "" && msg.hasID():
		c.answerServerRequest(conn, &msg)
	case msg.Method != "":
		c.handleNotification(&msg)
	case msg.hasID():
		if id, ok := msg.numericID(); ok {
			if slot, ok := conn.pending.take(id); ok {
				return heldResponse{slot: slot, msg: &msg}, true
			}
		}
		c.logger.Debug("Discarding unmatched LSP response", slog.String("id", string(msg.ID)))
	}
	return heldResponse{}, false
}

// handleNotification acts on server notifications.
func (c *Client) handleNotification(msg *incomingMessage) {
	switch msg.Method {
	case "textDocument/publishDiagnostics":
		uri, diags, ok := ParsePublishDiagnostics(gjson.ParseBytes(msg.Params))
		if !ok {
			c.logger.Debug("Dropping publishDiagnostics without uri")
			return
		}
		if !c.cache.Set(uri, diags) {
			return
		}
		recordDiagnosticUpdate(context.Background(), c.def.Name)
		if h := c.diagnosticHandler(); h != nil {
			h.OnDiagnostics(c.cache.Counts())
		}

	case "window/logMessage", "window/showMessage":
		params := gjson.ParseBytes(msg.Params)
		c.logger.Debug("LSP server message",
			slog.String("method", msg.Method),
			slog.Int64("type", params.Get("type").Int()),
			slog.String("message", params.Get("message").String()),
		)
	}
}

// answerServerRequest replies to a request the server sent. Replies are
// enqueued off the reader goroutine so a full queue cannot stall reading.
func (c *Client) answerServerRequest(conn *connection, msg *incomingMessage) {
	payload, err := encodeReply(msg.ID, c.serverRequestResult(msg))
	if err != nil {
		c.logger.Debug("Cannot encode reply", slog.String("method", msg.Method), slog.String("error", err.Error()))
		return
	}
	conn.group.Go(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), c.def.RequestTimeout())
		defer cancel()
		if err := conn.enqueue(ctx, payload); err != nil {
			c.logger.Debug("Reply to server request dropped",
				slog.String("method", msg.Method),
				slog.String("error", err.Error()),
			)
		}
		return nil
	})
}

// serverRequestResult computes the result for a server-initiated request.
// workspace/configuration is answered from the definition's settings,
// one entry per requested item. Everything else gets null.
func (c *Client) serverRequestResult(msg *incomingMessage) json.RawMessage {
	if msg.Method != "workspace/configuration" {
		return nil
	}

	settings := []byte("null")
	if c.def.Settings != nil {
		if data, err := json.Marshal(c.def.Settings); err == nil {
			settings = data
		}
	}

	items := gjson.GetBytes(msg.Params, "items").Array()
	parts := make([]string, 0, len(items))
	for _, item := range items {
		section := item.Get("section").String()
		if section == "" {
			parts = append(parts, string(settings))
			continue
		}
		if v := gjson.GetBytes(settings, section); v.Exists() {
			parts = append(parts, v.Raw)
		} else {
			parts = append(parts, "null")
		}
	}
	return json.RawMessage("[" + strings.Join(parts, ",") + "]")
}

// =============================================================================
// ACCESSORS
// =============================================================================

// ID returns the client's unique id.
func (c *Client) ID() string {
	return c.id
}

// Server returns a copy of the server definition.
func (c *Client) Server() ServerDefinition {
	return c.def.clone()
}

// RootPath returns the absolute project root.
func (c *Client) RootPath() string {
	return c.rootPath
}

// Cache returns the diagnostic cache the client publishes into.
func (c *Client) Cache() *DiagnosticCache {
	return c.cache
}

// State returns the current state.
func (c *Client) State() ServerState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// IsReady reports whether the state is Ready.
func (c *Client) IsReady() bool {
	return c.State() == ServerStateReady
}

func (c *Client) setState(s ServerState) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// Capabilities returns the capabilities from the last handshake.
func (c *Client) Capabilities() ServerCapabilities {
	c.capsMu.RLock()
	defer c.capsMu.RUnlock()
	return c.caps
}

// SetDiagnosticHandler replaces the diagnostic handler. nil removes it.
func (c *Client) SetDiagnosticHandler(h DiagnosticHandler) {
	c.handlerMu.Lock()
	c.handler = h
	c.handlerMu.Unlock()
}

func (c *Client) diagnosticHandler() DiagnosticHandler {
	c.handlerMu.RLock()
	defer c.handlerMu.RUnlock()
	return c.handler
}

// DiagnosticCounts returns the aggregate counts of the cache.
func (c *Client) DiagnosticCounts() DiagnosticCounts {
	return c.cache.Counts()
}

// FileDiagnostics returns the cached diagnostics for uri.
func (c *Client) FileDiagnostics(uri string) []Diagnostic {
	return c.cache.Get(uri)
}

// AllDiagnostics returns every cached diagnostic keyed by uri.
func (c *Client) AllDiagnostics() map[string][]Diagnostic {
	return c.cache.All()
}

// FormatDiagnostics renders the cache. See DiagnosticCache.Format.
func (c *Client) FormatDiagnostics(limit int) string {
	return c.cache.Format(limit)
}

// WaitForDiagnostics blocks until the cache has not changed for quiet.
//
// Description:
//
//	Servers publish diagnostics asynchronously and often in several
//	rounds. This returns once a full quiet period passes without a cache
//	change, or with ctx's error if ctx ends first.
func (c *Client) WaitForDiagnostics(ctx context.Context, quiet time.Duration) error {
	timer := time.NewTimer(quiet)
	defer timer.Stop()
	for {
		changed := c.cache.Changed()
		select {
		case <-changed:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(quiet)
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) activeConn() *connection {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn
}

// pendingCount returns the number of outstanding requests.
func (c *Client) pendingCount() int {
	if conn := c.activeConn(); conn != nil {
		return conn.pending.count()
	}
	return 0
}

func (c *Client) stderrWriter() io.Writer {
	if c.stderr != nil {
		return c.stderr
	}
	return &stderrLogger{logger: c.logger, server: c.def.Name}
}
