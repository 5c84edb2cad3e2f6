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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// DefaultWatchDebounce batches bursts of writes to the same file.
	DefaultWatchDebounce = 100 * time.Millisecond

	// watchResyncInterval is how often the set of watched directories is
	// reconciled with the client's open documents.
	watchResyncInterval = 500 * time.Millisecond
)

// DocumentWatcher pushes on-disk edits of open documents to the server.
//
// Description:
//
//	Watches the parent directory of every document the client has open.
//	When such a file is written, its new content is sent as a full-text
//	didChange with the next version number. Files that are not open on
//	the client are ignored. Directories are reconciled periodically so
//	documents opened after Run started are picked up.
//
// Thread Safety:
//
//	Run must be called from a single goroutine.
type DocumentWatcher struct {
	client   *Client
	watcher  *fsnotify.Watcher
	debounce time.Duration
	dirs     map[string]struct{}
	dirty    map[string]struct{}
}

// NewDocumentWatcher creates a watcher for client's open documents.
func NewDocumentWatcher(client *Client, debounce time.Duration) (*DocumentWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	return &DocumentWatcher{
		client:   client,
		watcher:  w,
		debounce: debounce,
		dirs:     make(map[string]struct{}),
		dirty:    make(map[string]struct{}),
	}, nil
}

// WatchOpenDocuments starts a DocumentWatcher in the background. It stops
// when ctx is cancelled.
func (c *Client) WatchOpenDocuments(ctx context.Context) error {
	w, err := NewDocumentWatcher(c, DefaultWatchDebounce)
	if err != nil {
		return err
	}
	go func() {
		if err := w.Run(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn("Document watcher stopped", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Run processes file events until ctx is cancelled.
func (w *DocumentWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	w.resync()
	resync := time.NewTicker(watchResyncInterval)
	defer resync.Stop()

	var flush <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-resync.C:
			w.resync()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.dirty[event.Name] = struct{}{}
			if flush == nil {
				flush = time.After(w.debounce)
			}

		case <-flush:
			flush = nil
			w.flush(ctx)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.client.logger.Debug("Document watcher error", slog.String("error", err.Error()))
		}
	}
}

// resync watches the directory of every open document and drops
// directories that no longer hold one.
func (w *DocumentWatcher) resync() {
	want := make(map[string]struct{})
	for _, uri := range w.client.OpenFiles() {
		want[filepath.Dir(URIToPath(uri))] = struct{}{}
	}

	for dir := range want {
		if _, ok := w.dirs[dir]; ok {
			continue
		}
		if err := w.watcher.Add(dir); err != nil {
			w.client.logger.Debug("Cannot watch directory",
				slog.String("dir", dir),
				slog.String("error", err.Error()),
			)
			continue
		}
		w.dirs[dir] = struct{}{}
	}
	for dir := range w.dirs {
		if _, ok := want[dir]; !ok {
			_ = w.watcher.Remove(dir)
			delete(w.dirs, dir)
		}
	}
}

// flush sends didChange for every dirty file that is open on the client.
func (w *DocumentWatcher) flush(ctx context.Context) {
	for path := range w.dirty {
		delete(w.dirty, path)

		uri := PathToURI(path)
		version, open := w.client.DocumentVersion(uri)
		if !open {
			continue
		}
		text, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := w.client.DidChange(ctx, uri, version+1, string(text)); err != nil {
			w.client.logger.Debug("Cannot forward file change",
				slog.String("uri", uri),
				slog.String("error", err.Error()),
			)
		}
	}
}
