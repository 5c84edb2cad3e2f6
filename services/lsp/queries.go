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
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// =============================================================================
// FEATURE QUERIES
// =============================================================================

// runQuery wraps a feature query in a span and records its metrics.
func runQuery[T any](c *Client, ctx context.Context, name, uri string, size func(T) int, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := startQuerySpan(ctx, name, c.def.Name, uri)
	start := time.Now()

	result, err := fn(ctx)

	n := 0
	if err == nil {
		n = size(result)
	}
	endQuerySpan(span, n, err)
	recordQueryMetrics(ctx, name, c.def.Name, time.Since(start), n, err == nil)
	return result, err
}

// requireProvider fails when the server explicitly declared the feature
// unsupported. Missing declarations are let through.
func (c *Client) requireProvider(method string, provider func(ServerCapabilities) any) error {
	if providerDisabled(provider(c.Capabilities())) {
		return fmt.Errorf("%w: %s", ErrUnsupportedCapability, method)
	}
	return nil
}

// query checks the capability, sends the request, and parses the result.
func (c *Client) query(ctx context.Context, method string, provider func(ServerCapabilities) any, params any) (gjson.Result, error) {
	if err := c.requireProvider(method, provider); err != nil {
		return gjson.Result{}, err
	}
	raw, err := c.Request(ctx, method, params)
	if err != nil {
		return gjson.Result{}, err
	}
	return parseResult(raw)
}

func parseResult(raw json.RawMessage) (gjson.Result, error) {
	if len(raw) == 0 {
		return gjson.Result{}, nil
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, fmt.Errorf("%w: result is not valid JSON", ErrInvalidResponse)
	}
	return gjson.ParseBytes(raw), nil
}

func positionParams(uri string, pos Position) TextDocumentPositionParams {
	return TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
		Position:     pos,
	}
}

// Hover returns the hover text at pos, or nil when the server has none.
//
// Description:
//
//	String contents, {value} objects, and arrays of either are joined
//	with a blank line between parts.
func (c *Client) Hover(ctx context.Context, uri string, pos Position) (*string, error) {
	return runQuery(c, ctx, "Hover", uri,
		func(s *string) int {
			if s == nil {
				return 0
			}
			return 1
		},
		func(ctx context.Context) (*string, error) {
			result, err := c.query(ctx, "textDocument/hover",
				func(caps ServerCapabilities) any { return caps.HoverProvider },
				positionParams(uri, pos))
			if err != nil {
				return nil, err
			}
			text, ok := ParseHoverContents(result)
			if !ok {
				return nil, nil
			}
			return &text, nil
		})
}

// Definition returns the definition location(s) of the symbol at pos.
func (c *Client) Definition(ctx context.Context, uri string, pos Position) ([]Location, error) {
	return runQuery(c, ctx, "Definition", uri, lenOf[Location],
		func(ctx context.Context) ([]Location, error) {
			result, err := c.query(ctx, "textDocument/definition",
				func(caps ServerCapabilities) any { return caps.DefinitionProvider },
				positionParams(uri, pos))
			if err != nil {
				return nil, err
			}
			return ParseLocations(result), nil
		})
}

// References returns every reference to the symbol at pos.
func (c *Client) References(ctx context.Context, uri string, pos Position, includeDeclaration bool) ([]Location, error) {
	return runQuery(c, ctx, "References", uri, lenOf[Location],
		func(ctx context.Context) ([]Location, error) {
			result, err := c.query(ctx, "textDocument/references",
				func(caps ServerCapabilities) any { return caps.ReferencesProvider },
				ReferenceParams{
					TextDocumentPositionParams: positionParams(uri, pos),
					Context:                    ReferenceContext{IncludeDeclaration: includeDeclaration},
				})
			if err != nil {
				return nil, err
			}
			return ParseLocations(result), nil
		})
}

// DocumentSymbols returns the symbol outline of uri.
func (c *Client) DocumentSymbols(ctx context.Context, uri string) ([]DocumentSymbol, error) {
	return runQuery(c, ctx, "DocumentSymbols", uri, lenOf[DocumentSymbol],
		func(ctx context.Context) ([]DocumentSymbol, error) {
			result, err := c.query(ctx, "textDocument/documentSymbol",
				func(caps ServerCapabilities) any { return caps.DocumentSymbolProvider },
				DocumentSymbolParams{TextDocument: TextDocumentIdentifier{URI: uri}})
			if err != nil {
				return nil, err
			}
			return ParseDocumentSymbols(result), nil
		})
}

// WorkspaceSymbols searches symbols across the workspace.
func (c *Client) WorkspaceSymbols(ctx context.Context, query string) ([]SymbolInformation, error) {
	return runQuery(c, ctx, "WorkspaceSymbols", "", lenOf[SymbolInformation],
		func(ctx context.Context) ([]SymbolInformation, error) {
			result, err := c.query(ctx, "workspace/symbol",
				func(caps ServerCapabilities) any { return caps.WorkspaceSymbolProvider },
				WorkspaceSymbolParams{Query: query})
			if err != nil {
				return nil, err
			}
			return ParseSymbolInformations(result), nil
		})
}

func lenOf[T any](s []T) int {
	return len(s)
}
