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
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
)

// =============================================================================
// DOCUMENT SYNCHRONIZATION
// =============================================================================
//
// Only full-text synchronization is used. The open-document map records the
// last version sent per URI so Restart can replay didOpen.

// DidOpen sends textDocument/didOpen and starts tracking uri.
func (c *Client) DidOpen(ctx context.Context, uri, languageID string, version int, text string) error {
	err := c.Notify(ctx, "textDocument/didOpen", DidOpenTextDocumentParams{
		TextDocument: TextDocumentItem{
			URI:        uri,
			LanguageID: languageID,
			Version:    version,
			Text:       text,
		},
	})
	if err != nil {
		return fmt.Errorf("didOpen %s: %w", uri, err)
	}
	c.trackDocument(uri, version)
	return nil
}

// DidChange sends the full new text of uri as a single change event.
func (c *Client) DidChange(ctx context.Context, uri string, version int, text string) error {
	err := c.Notify(ctx, "textDocument/didChange", DidChangeTextDocumentParams{
		TextDocument:   VersionedTextDocumentIdentifier{URI: uri, Version: version},
		ContentChanges: []TextDocumentContentChangeEvent{{Text: text}},
	})
	if err != nil {
		return fmt.Errorf("didChange %s: %w", uri, err)
	}
	c.trackDocument(uri, version)
	return nil
}

// DidSave sends textDocument/didSave, including text when non-empty.
func (c *Client) DidSave(ctx context.Context, uri, text string) error {
	params := DidSaveTextDocumentParams{TextDocument: TextDocumentIdentifier{URI: uri}}
	if text != "" {
		params.Text = &text
	}
	if err := c.Notify(ctx, "textDocument/didSave", params); err != nil {
		return fmt.Errorf("didSave %s: %w", uri, err)
	}
	return nil
}

// DidClose sends textDocument/didClose and stops tracking uri. The entry
// is removed even if the notification could not be sent.
func (c *Client) DidClose(ctx context.Context, uri string) error {
	c.docsMu.Lock()
	delete(c.docs, uri)
	c.docsMu.Unlock()

	err := c.Notify(ctx, "textDocument/didClose", DidCloseTextDocumentParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
	})
	if err != nil {
		return fmt.Errorf("didClose %s: %w", uri, err)
	}
	return nil
}

// OpenFileOnDemand makes sure path is open on the server.
//
// Description:
//
//	If the file's URI is not tracked yet the file is read, its language
//	id derived from the extension, and didOpen sent with version 0.
//
// Outputs:
//
//	string - The document URI, whether or not it was opened now.
//	error - ErrFileNotFound if the file does not exist.
func (c *Client) OpenFileOnDemand(ctx context.Context, path string) (string, error) {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	uri := PathToURI(path)
	if _, open := c.DocumentVersion(uri); open {
		return uri, nil
	}

	text, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return uri, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return uri, fmt.Errorf("read %s: %w", path, err)
	}
	if err := c.DidOpen(ctx, uri, LanguageIDForPath(path), 0, string(text)); err != nil {
		return uri, err
	}
	return uri, nil
}

// OpenFiles returns the tracked URIs, sorted.
func (c *Client) OpenFiles() []string {
	c.docsMu.Lock()
	defer c.docsMu.Unlock()
	return slices.Sorted(maps.Keys(c.docs))
}

// DocumentVersion returns the last version sent for uri.
func (c *Client) DocumentVersion(uri string) (int, bool) {
	c.docsMu.Lock()
	defer c.docsMu.Unlock()
	v, ok := c.docs[uri]
	return v, ok
}

func (c *Client) trackDocument(uri string, version int) {
	c.docsMu.Lock()
	c.docs[uri] = version
	c.docsMu.Unlock()
}

func (c *Client) clearDocuments() {
	c.docsMu.Lock()
	clear(c.docs)
	c.docsMu.Unlock()
}
