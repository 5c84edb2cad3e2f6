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
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/AleutianAI/AleutianLSP/pkg/telemetry"
	"github.com/AleutianAI/AleutianLSP/pkg/ux"
	"github.com/AleutianAI/AleutianLSP/services/lsp"
	"github.com/AleutianAI/AleutianLSP/services/lsp/snapshot"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
)

const serviceName = "aleutian-lsp"

func newServeCmd(a *app) *cobra.Command {
	var (
		addr      string
		watch     bool
		debug     bool
		storePath string
	)
	cmd := &cobra.Command{
		Use:   "serve <project> [files...]",
		Short: "Keep a language server running and serve its diagnostics over HTTP",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			project, files := args[0], args[1:]
			client, err := a.newSession(project, files)
			if err != nil {
				return err
			}

			if storePath != "" {
				store, err := openSnapshots(ctx, storePath, client, a.slog())
				if err != nil {
					return err
				}
				followDone := make(chan struct{})
				go func() {
					defer close(followDone)
					_ = store.Follow(ctx, client.Server().Name, client.RootPath(), client.Cache(), time.Second)
				}()
				defer func() {
					stop()
					<-followDone
					_ = store.Close()
				}()
			}

			if err := client.Start(ctx); err != nil {
				return err
			}
			defer stopSession(client)

			for _, f := range files {
				if _, err := client.OpenFileOnDemand(ctx, resolveFile(client.RootPath(), f)); err != nil {
					a.slog().Warn("Initial open failed",
						slog.String("file", f),
						slog.String("error", err.Error()),
					)
				}
			}

			if watch {
				if err := client.WatchOpenDocuments(ctx); err != nil {
					a.slog().Error("Document watcher failed to start", slog.String("error", err.Error()))
				}
			}

			if debug {
				gin.SetMode(gin.DebugMode)
			} else {
				gin.SetMode(gin.ReleaseMode)
			}
			router, err := newRouter(client, a.slog(), debug)
			if err != nil {
				return err
			}

			srv := &http.Server{
				Addr:              addr,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.ListenAndServe()
			}()

			ux.Box(cmd.OutOrStdout(), "Aleutian LSP", fmt.Sprintf("server   %s %s\nroot     %s\naddress  %s",
				client.Server().Name, ux.StateBadge(client.State().String()), client.RootPath(), addr))
			a.slog().Info("Starting Aleutian LSP server", slog.String("address", addr))

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("listen: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			a.slog().Info("Shutting down Aleutian LSP server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8089", "listen address")
	cmd.Flags().BoolVar(&watch, "watch", false, "resend open documents when they change on disk")
	cmd.Flags().BoolVar(&debug, "debug", false, "gin debug mode with request logging")
	cmd.Flags().StringVar(&storePath, "store", "", "directory for persisted diagnostic snapshots")
	return cmd
}

// openSnapshots opens the snapshot store at path and loads the last saved
// diagnostics for client into its cache.
func openSnapshots(ctx context.Context, path string, client *lsp.Client, logger *slog.Logger) (*snapshot.Store, error) {
	cfg := snapshot.DefaultConfig(path)
	cfg.Logger = logger
	store, err := snapshot.Open(cfg)
	if err != nil {
		return nil, err
	}
	n, err := store.Restore(ctx, client.Server().Name, client.RootPath(), client.Cache())
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("restore snapshot: %w", err)
	}
	if n > 0 {
		logger.Info("Restored diagnostic snapshot",
			slog.String("server", client.Server().Name),
			slog.Int("documents", n),
		)
	}
	return store, nil
}

// diagnosticsSource is the part of *lsp.Client the HTTP handlers use.
type diagnosticsSource interface {
	Server() lsp.ServerDefinition
	RootPath() string
	State() lsp.ServerState
	IsReady() bool
	OpenFiles() []string
	DiagnosticCounts() lsp.DiagnosticCounts
	AllDiagnostics() map[string][]lsp.Diagnostic
	FileDiagnostics(uri string) []lsp.Diagnostic
	FormatDiagnostics(limit int) string
	OpenFileOnDemand(ctx context.Context, path string) (string, error)
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// StatusResponse describes the running server.
type StatusResponse struct {
	Server    string               `json:"server"`
	State     lsp.ServerState      `json:"state"`
	Root      string               `json:"root"`
	OpenFiles []string             `json:"open_files"`
	Counts    lsp.DiagnosticCounts `json:"counts"`
}

// DiagnosticsResponse is the whole cache.
type DiagnosticsResponse struct {
	Counts lsp.DiagnosticCounts        `json:"counts"`
	Files  map[string][]lsp.Diagnostic `json:"files"`
}

// FileDiagnosticsResponse is the cache entry for one document.
type FileDiagnosticsResponse struct {
	URI         string           `json:"uri"`
	Diagnostics []lsp.Diagnostic `json:"diagnostics"`
}

// OpenRequest asks the server to open a file.
type OpenRequest struct {
	Path string `json:"path" binding:"required"`
}

// OpenResponse returns the uri of an opened file.
type OpenResponse struct {
	URI string `json:"uri"`
}

type handlers struct {
	src    diagnosticsSource
	logger *slog.Logger
}

// newRouter builds the gin engine with tracing, HTTP metrics, and the
// /v1/lsp routes.
func newRouter(src diagnosticsSource, logger *slog.Logger, debug bool) (*gin.Engine, error) {
	httpMetrics, err := telemetry.NewHTTPMetrics(otel.Meter(serviceName))
	if err != nil {
		return nil, fmt.Errorf("http metrics: %w", err)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if debug {
		router.Use(gin.Logger())
	}
	router.Use(requestID())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(httpMetrics.Middleware())

	h := &handlers{src: src, logger: logger}
	v1 := router.Group("/v1/lsp")
	v1.GET("/health", h.health)
	v1.GET("/status", h.status)
	v1.GET("/diagnostics", h.diagnostics)
	v1.GET("/diagnostics/file", h.fileDiagnostics)
	v1.GET("/diagnostics/text", h.diagnosticsText)
	v1.POST("/open", h.open)

	metricsHandler := telemetry.MetricsHandler()
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	router.GET("/metrics", gin.WrapH(metricsHandler))
	return router, nil
}

const requestIDKey = "request_id"

// requestID tags every request with an id and echoes it on the response.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(requestIDKey, getOrCreateRequestID(c))
		c.Next()
	}
}

// getOrCreateRequestID returns the id stored by requestID, else the
// X-Request-ID header or a new uuid, and echoes it on the response.
func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetString(requestIDKey); id != "" {
		return id
	}
	id := c.GetHeader("X-Request-ID")
	if id == "" {
		id = uuid.NewString()
	}
	c.Header("X-Request-ID", id)
	return id
}

// outsideRoot writes the 400 for a path that leaves the project root.
func outsideRoot(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: err.Error(),
		Code:  "OUTSIDE_ROOT",
	})
}

func (h *handlers) health(c *gin.Context) {
	if !h.src.IsReady() {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "server is " + h.src.State().String(),
			Code:  "NOT_READY",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) status(c *gin.Context) {
	open := h.src.OpenFiles()
	if open == nil {
		open = []string{}
	}
	c.JSON(http.StatusOK, StatusResponse{
		Server:    h.src.Server().Name,
		State:     h.src.State(),
		Root:      h.src.RootPath(),
		OpenFiles: open,
		Counts:    h.src.DiagnosticCounts(),
	})
}

func (h *handlers) diagnostics(c *gin.Context) {
	c.JSON(http.StatusOK, DiagnosticsResponse{
		Counts: h.src.DiagnosticCounts(),
		Files:  h.src.AllDiagnostics(),
	})
}

// fileDiagnostics accepts either ?uri= or ?path=.
func (h *handlers) fileDiagnostics(c *gin.Context) {
	uri := c.Query("uri")
	if uri == "" {
		if path := c.Query("path"); path != "" {
			abs, err := resolveWithinRoot(h.src.RootPath(), path)
			if err != nil {
				outsideRoot(c, err)
				return
			}
			uri = lsp.PathToURI(abs)
		}
	}
	if uri == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "uri or path query parameter is required",
			Code:  "MISSING_URI",
		})
		return
	}
	diags := h.src.FileDiagnostics(uri)
	if diags == nil {
		diags = []lsp.Diagnostic{}
	}
	c.JSON(http.StatusOK, FileDiagnosticsResponse{URI: uri, Diagnostics: diags})
}

func (h *handlers) diagnosticsText(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "limit must be a non-negative integer",
				Code:  "INVALID_LIMIT",
			})
			return
		}
		limit = n
	}
	c.String(http.StatusOK, h.src.FormatDiagnostics(limit))
}

func (h *handlers) open(c *gin.Context) {
	logger := h.logger.With(
		slog.String("request_id", getOrCreateRequestID(c)),
		slog.String("handler", "open"),
	)

	var req OpenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	path, err := resolveWithinRoot(h.src.RootPath(), req.Path)
	if err != nil {
		logger.Warn("Rejected path outside root", slog.String("path", req.Path))
		outsideRoot(c, err)
		return
	}

	uri, err := h.src.OpenFileOnDemand(c.Request.Context(), path)
	if err != nil {
		status, code := http.StatusInternalServerError, "OPEN_FAILED"
		switch {
		case errors.Is(err, lsp.ErrFileNotFound), errors.Is(err, os.ErrNotExist):
			status, code = http.StatusNotFound, "FILE_NOT_FOUND"
		case errors.Is(err, lsp.ErrNotReady):
			status, code = http.StatusServiceUnavailable, "NOT_READY"
		}
		logger.Warn("Open failed", slog.String("path", req.Path), slog.String("error", err.Error()))
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}
	c.JSON(http.StatusOK, OpenResponse{URI: uri})
}
