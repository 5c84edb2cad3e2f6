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
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianLSP/services/lsp"
)

// loadRegistry returns the built-in registry with the file at path, if
// any, merged over it.
func loadRegistry(path string) (*lsp.ServerRegistry, error) {
	reg, err := lsp.DefaultRegistry()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return reg, nil
	}
	user, err := lsp.LoadRegistryFile(path)
	if err != nil {
		return nil, err
	}
	reg.Merge(user)
	return reg, nil
}

// selectServer picks a definition by explicit name, then by the project's
// root markers when the registry auto-detects, then by the extension of the
// first file that matches.
func selectServer(reg *lsp.ServerRegistry, name, project string, files []string) (lsp.ServerDefinition, error) {
	if name != "" {
		def, ok := reg.Get(name)
		if !ok {
			return lsp.ServerDefinition{}, fmt.Errorf("%w: %s", lsp.ErrServerNotFound, name)
		}
		if def.Disabled {
			return lsp.ServerDefinition{}, fmt.Errorf("%w: %s is disabled", lsp.ErrServerNotFound, name)
		}
		return def, nil
	}
	if reg.AutoDetect {
		if def, ok := reg.ServerForProject(project); ok {
			return def, nil
		}
	}
	for _, f := range files {
		if def, ok := reg.ServerForFile(f); ok {
			return def, nil
		}
	}
	return lsp.ServerDefinition{}, fmt.Errorf("%w: no server matches %s", lsp.ErrServerNotFound, project)
}

// newSession resolves the project and picks a server. The client is not
// started.
func (a *app) newSession(project string, files []string, opts ...lsp.Option) (*lsp.Client, error) {
	root, err := filepath.Abs(project)
	if err != nil {
		return nil, fmt.Errorf("resolve project: %w", err)
	}
	reg, err := loadRegistry(a.registryPath)
	if err != nil {
		return nil, err
	}
	def, err := selectServer(reg, a.serverName, root, files)
	if err != nil {
		return nil, err
	}
	if a.timeout > 0 {
		def.RequestTimeoutMs = int(a.timeout / time.Millisecond)
	}
	opts = append([]lsp.Option{lsp.WithLogger(a.slog())}, opts...)
	return lsp.NewClient(def, root, opts...), nil
}

// startSession creates a session and starts it. The caller must Stop the
// client.
func (a *app) startSession(ctx context.Context, project string, files []string) (*lsp.Client, error) {
	client, err := a.newSession(project, files)
	if err != nil {
		return nil, err
	}
	if err := client.Start(ctx); err != nil {
		return nil, err
	}
	a.slog().Debug("Session started",
		slog.String("server", client.Server().Name),
		slog.String("root", client.RootPath()),
	)
	return client, nil
}

// stopSession stops client with a fresh context so an interrupted command
// still shuts the server down.
func stopSession(client *lsp.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = client.Stop(ctx)
}

// resolveFile makes path absolute relative to the project root unless it
// already is.
func resolveFile(root, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

// errOutsideRoot rejects paths that leave the project root.
var errOutsideRoot = errors.New("path is outside the project root")

// resolveWithinRoot is resolveFile for untrusted input: the cleaned result
// must lie under root. The check is lexical; symlinks are not followed.
func resolveWithinRoot(root, path string) (string, error) {
	abs := filepath.Clean(resolveFile(root, path))
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", errOutsideRoot, path)
	}
	return abs, nil
}

// parsePosition converts 1-indexed line and column arguments.
func parsePosition(lineArg, colArg string) (lsp.Position, error) {
	line, err := strconv.Atoi(lineArg)
	if err != nil || line < 1 {
		return lsp.Position{}, fmt.Errorf("line must be a positive integer, got %q", lineArg)
	}
	col, err := strconv.Atoi(colArg)
	if err != nil || col < 1 {
		return lsp.Position{}, fmt.Errorf("column must be a positive integer, got %q", colArg)
	}
	return lsp.Position{Line: line - 1, Character: col - 1}, nil
}
