// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lsp is a Language Server Protocol client with a versioned
// diagnostic cache.
//
// A Client launches one language server (gopls, rust-analyzer, pyright,
// ...) for one project root, performs the initialize handshake, keeps the
// server informed of open documents, and answers hover, definition,
// references, and symbol queries. Diagnostics the server publishes are
// collected in a DiagnosticCache whose aggregate counts are memoized
// against a version counter, so polling them is cheap.
//
// # Architecture
//
//	 caller ──Request/Notify──► outbound queue ──► writer ──► server stdin
//	                                                              │
//	 pending[id] ◄──response── reader ◄────────────── server stdout
//	                              │
//	                              └──publishDiagnostics──► DiagnosticCache
//	                                                          │
//	                                                          └──► DiagnosticHandler
//
// # Components
//
//   - ServerDefinition / ServerRegistry: which server to launch and which
//     files and projects it claims. The built-in registry is embedded YAML.
//   - DiagnosticCache: versioned URI to diagnostics store.
//   - Client: process supervision, framing, request correlation, and
//     document synchronization.
//   - Parse*: tolerant JSON payload parsers built on gjson.
//
// # Thread Safety
//
// All exported types are safe for concurrent use.
//
// # Example
//
//	reg, _ := lsp.DefaultRegistry()
//	def, ok := reg.ServerForProject("/path/to/project")
//	if !ok {
//	    return lsp.ErrServerNotFound
//	}
//	client := lsp.NewClient(def, "/path/to/project")
//	if err := client.Start(ctx); err != nil {
//	    return err
//	}
//	defer client.Stop(context.Background())
//
//	uri, _ := client.OpenFileOnDemand(ctx, "/path/to/project/main.go")
//	_ = client.WaitForDiagnostics(ctx, time.Second)
//	fmt.Println(client.FormatDiagnostics(20))
//	locs, err := client.Definition(ctx, uri, lsp.Position{Line: 9, Character: 4})
package lsp
