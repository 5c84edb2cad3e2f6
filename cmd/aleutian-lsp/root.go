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
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianLSP/pkg/logging"
	"github.com/AleutianAI/AleutianLSP/pkg/telemetry"
	"github.com/AleutianAI/AleutianLSP/pkg/ux"
	"github.com/spf13/cobra"
)

// app carries the flags and resources shared by every subcommand.
type app struct {
	registryPath string
	serverName   string
	logLevel     logging.Level
	logJSON      bool
	logDir       string
	timeout      time.Duration
	personality  string

	logger            *logging.Logger
	telemetryShutdown func(context.Context) error
}

func newRootCmd() *cobra.Command {
	a := &app{logLevel: logging.LevelWarn}

	root := &cobra.Command{
		Use:   "aleutian-lsp",
		Short: "Drive language servers for diagnostics and code navigation",
		Long: `aleutian-lsp starts the language server registered for a project,
keeps its diagnostics in a cache, and answers hover, definition,
reference, and symbol queries.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.teardown()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.registryPath, "registry", "", "YAML file with server definitions merged over the built-in registry")
	flags.StringVar(&a.serverName, "server", "", "server name to use instead of detecting one")
	flags.Var(&a.logLevel, "log-level", "log level: debug, info, warn, error")
	flags.BoolVar(&a.logJSON, "log-json", false, "write logs as JSON")
	flags.StringVar(&a.logDir, "log-dir", "", "also write JSON logs to this directory")
	flags.DurationVar(&a.timeout, "timeout", 0, "request timeout override, e.g. 5s")
	flags.StringVar(&a.personality, "personality", "", "output style: full, minimal, machine")

	root.AddCommand(
		newServersCmd(a),
		newCheckCmd(a),
		newHoverCmd(a),
		newDefinitionCmd(a),
		newReferencesCmd(a),
		newSymbolsCmd(a),
		newServeCmd(a),
	)
	return root
}

// setup builds the logger, picks the output personality, and installs
// telemetry providers.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	if a.personality != "" {
		ux.SetPersonalityLevel(ux.ParsePersonalityLevel(a.personality))
	} else {
		ux.InitPersonality()
	}

	a.logger = logging.New(logging.Config{
		Level:   a.logLevel,
		LogDir:  a.logDir,
		Service: "aleutian-lsp",
		JSON:    a.logJSON,
	})
	a.logger.SetDefault()
	if err := a.logger.FileError(); err != nil {
		a.logger.Warn("File logging disabled", slog.String("error", err.Error()))
	}

	shutdown, err := telemetry.Init(cmd.Context(), telemetry.DefaultConfig())
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	a.telemetryShutdown = shutdown
	return nil
}

func (a *app) teardown() {
	if a.telemetryShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.telemetryShutdown(ctx); err != nil {
			a.logger.Debug("Telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}
	if a.logger != nil {
		_ = a.logger.Close()
	}
}

func (a *app) slog() *slog.Logger {
	if a.logger == nil {
		return slog.Default()
	}
	return a.logger.Slog()
}
