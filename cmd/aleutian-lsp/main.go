// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command aleutian-lsp drives a language server from the command line.
//
// It starts the server registered for a project, opens files on demand,
// and prints diagnostics or answers navigation queries. The serve
// subcommand keeps the server running and exposes the diagnostic cache
// over HTTP.
//
// Usage:
//
//	aleutian-lsp servers
//	aleutian-lsp check ./myproject main.go
//	aleutian-lsp hover ./myproject main.go 12 8
//	aleutian-lsp symbols ./myproject --query Handler
//	aleutian-lsp serve ./myproject --addr 127.0.0.1:8089
//
// Example requests against serve:
//
//	curl http://localhost:8089/v1/lsp/status
//	curl http://localhost:8089/v1/lsp/diagnostics/text?limit=5
//	curl -X POST http://localhost:8089/v1/lsp/open \
//	  -H "Content-Type: application/json" \
//	  -d '{"path": "main.go"}'
package main

import (
	"errors"
	"os"

	"github.com/AleutianAI/AleutianLSP/pkg/ux"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errDiagnosticsFound) {
			ux.Error(os.Stderr, err.Error())
		}
		os.Exit(1)
	}
}
