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
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianLSP/pkg/ux"
	"github.com/AleutianAI/AleutianLSP/services/lsp"
	"github.com/spf13/cobra"
)

// errDiagnosticsFound makes check exit non-zero without printing an extra
// error line; the report already says what is wrong.
var errDiagnosticsFound = errors.New("diagnostics reported errors")

// =============================================================================
// servers
// =============================================================================

func newServersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "servers",
		Short: "List registered language servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := loadRegistry(a.registryPath)
			if err != nil {
				return err
			}
			writeServers(cmd.OutOrStdout(), reg)
			return nil
		},
	}
}

func writeServers(w io.Writer, reg *lsp.ServerRegistry) {
	rows := make([][]string, 0, len(reg.Names()))
	for _, def := range reg.All() {
		enabled := "yes"
		if def.Disabled {
			enabled = "no"
		}
		rows = append(rows, []string{
			def.Name,
			strings.Join(append([]string{def.Command}, def.Args...), " "),
			strings.Join(def.FileTypes, ", "),
			enabled,
		})
	}
	ux.Table(w, []string{"NAME", "COMMAND", "FILE TYPES", "ENABLED"}, rows)
}

// =============================================================================
// check
// =============================================================================

func newCheckCmd(a *app) *cobra.Command {
	var (
		limit   int
		quiet   time.Duration
		maxWait time.Duration
	)
	cmd := &cobra.Command{
		Use:   "check <project> [files...]",
		Short: "Open files and print the diagnostics the server reports",
		Long: `check starts the project's language server, opens each file, and
waits until the server stops publishing diagnostics. It exits with
status 1 when any error-severity diagnostic is reported.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			project, files := args[0], args[1:]

			client, err := a.startSession(ctx, project, files)
			if err != nil {
				return err
			}
			defer stopSession(client)

			for _, f := range files {
				if _, err := client.OpenFileOnDemand(ctx, resolveFile(client.RootPath(), f)); err != nil {
					return err
				}
			}

			waitCtx, cancel := context.WithTimeout(ctx, maxWait)
			defer cancel()
			if err := client.WaitForDiagnostics(waitCtx, quiet); err != nil {
				if !errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				a.slog().Warn("Diagnostics still changing, reporting current state",
					slog.Duration("max_wait", maxWait),
				)
			}

			out := cmd.OutOrStdout()
			ux.Title(out, fmt.Sprintf("%s: %s", client.Server().Name, client.RootPath()))
			fmt.Fprintln(out, ux.HighlightReport(client.FormatDiagnostics(limit)))
			if client.DiagnosticCounts().Errors > 0 {
				return errDiagnosticsFound
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum diagnostics shown per severity (0 for all)")
	cmd.Flags().DurationVar(&quiet, "quiet", time.Second, "how long the cache must stay unchanged")
	cmd.Flags().DurationVar(&maxWait, "max-wait", 30*time.Second, "upper bound on waiting for diagnostics")
	return cmd
}

// =============================================================================
// hover / definition / references
// =============================================================================

// positionQuery holds the arguments shared by the position-based commands.
type positionQuery struct {
	client *lsp.Client
	uri    string
	pos    lsp.Position
}

// runPositionQuery starts a session, opens the file, and hands the query to
// fn. The client is stopped when fn returns.
func (a *app) runPositionQuery(cmd *cobra.Command, args []string, fn func(context.Context, positionQuery) error) error {
	ctx := cmd.Context()
	project, file := args[0], args[1]
	pos, err := parsePosition(args[2], args[3])
	if err != nil {
		return err
	}

	client, err := a.startSession(ctx, project, []string{file})
	if err != nil {
		return err
	}
	defer stopSession(client)

	uri, err := client.OpenFileOnDemand(ctx, resolveFile(client.RootPath(), file))
	if err != nil {
		return err
	}
	return fn(ctx, positionQuery{client: client, uri: uri, pos: pos})
}

func newHoverCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "hover <project> <file> <line> <col>",
		Short: "Show hover information at a 1-indexed position",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runPositionQuery(cmd, args, func(ctx context.Context, q positionQuery) error {
				text, err := q.client.Hover(ctx, q.uri, q.pos)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if text == nil {
					ux.Warning(out, "No hover information.")
					return nil
				}
				fmt.Fprintln(out, *text)
				return nil
			})
		},
	}
}

func newDefinitionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "definition <project> <file> <line> <col>",
		Short: "Show where the symbol at a 1-indexed position is defined",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runPositionQuery(cmd, args, func(ctx context.Context, q positionQuery) error {
				locs, err := q.client.Definition(ctx, q.uri, q.pos)
				if err != nil {
					return err
				}
				writeLocations(cmd.OutOrStdout(), locs)
				return nil
			})
		},
	}
}

func newReferencesCmd(a *app) *cobra.Command {
	var excludeDecl bool
	cmd := &cobra.Command{
		Use:   "references <project> <file> <line> <col>",
		Short: "List references to the symbol at a 1-indexed position",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runPositionQuery(cmd, args, func(ctx context.Context, q positionQuery) error {
				locs, err := q.client.References(ctx, q.uri, q.pos, !excludeDecl)
				if err != nil {
					return err
				}
				writeLocations(cmd.OutOrStdout(), locs)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&excludeDecl, "exclude-declaration", false, "omit the declaration itself")
	return cmd
}

func writeLocations(w io.Writer, locs []lsp.Location) {
	if len(locs) == 0 {
		ux.Warning(w, "No locations found.")
		return
	}
	for _, loc := range locs {
		fmt.Fprintln(w, loc.String())
	}
}

// =============================================================================
// symbols
// =============================================================================

func newSymbolsCmd(a *app) *cobra.Command {
	var query string
	cmd := &cobra.Command{
		Use:   "symbols <project> [file]",
		Short: "List document symbols, or search the workspace with --query",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if len(args) == 1 && query == "" {
				return errors.New("pass a file or --query")
			}

			client, err := a.startSession(ctx, args[0], args[1:])
			if err != nil {
				return err
			}
			defer stopSession(client)
			out := cmd.OutOrStdout()

			if len(args) == 2 {
				uri, err := client.OpenFileOnDemand(ctx, resolveFile(client.RootPath(), args[1]))
				if err != nil {
					return err
				}
				symbols, err := client.DocumentSymbols(ctx, uri)
				if err != nil {
					return err
				}
				writeDocumentSymbols(out, symbols, 0)
				return nil
			}

			symbols, err := client.WorkspaceSymbols(ctx, query)
			if err != nil {
				return err
			}
			writeWorkspaceSymbols(out, symbols)
			return nil
		},
	}
	cmd.Flags().StringVar(&query, "query", "", "workspace symbol search string")
	return cmd
}

func writeDocumentSymbols(w io.Writer, symbols []lsp.DocumentSymbol, depth int) {
	if depth == 0 && len(symbols) == 0 {
		ux.Warning(w, "No symbols found.")
		return
	}
	indent := strings.Repeat("  ", depth)
	for _, s := range symbols {
		fmt.Fprintf(w, "%s%s %s (line %d)\n", indent, s.Kind, s.Name, s.SelectionRange.Start.Line+1)
		writeDocumentSymbols(w, s.Children, depth+1)
	}
}

func writeWorkspaceSymbols(w io.Writer, symbols []lsp.SymbolInformation) {
	if len(symbols) == 0 {
		ux.Warning(w, "No symbols found.")
		return
	}
	rows := make([][]string, 0, len(symbols))
	for _, s := range symbols {
		name := s.Name
		if s.ContainerName != "" {
			name = s.ContainerName + "." + s.Name
		}
		rows = append(rows, []string{s.Kind.String(), name, s.Location.String()})
	}
	ux.Table(w, []string{"KIND", "NAME", "LOCATION"}, rows)
}
