// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package snapshot persists diagnostic caches in BadgerDB.
//
// A long-running client can save its cache after every change and load it
// back on the next start, so callers see the last known diagnostics before
// the server has republished. Snapshots are keyed by server name and
// project root; each document is stored under its own key.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/AleutianAI/AleutianLSP/services/lsp"
	"github.com/dgraph-io/badger/v4"
	"golang.org/x/time/rate"
)

// ErrNoSnapshot is returned by Load when nothing was saved for the key.
var ErrNoSnapshot = errors.New("no diagnostic snapshot")

// Config holds configuration for a snapshot store.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM. Useful for testing.
	InMemory bool

	// SyncWrites makes each save durable before it returns.
	SyncWrites bool

	// Logger receives BadgerDB's own log output. Nil disables it.
	Logger *slog.Logger

	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the garbage ratio that triggers a rewrite.
	GCDiscardRatio float64
}

// DefaultConfig returns the configuration used by serve --store.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Meta describes one saved snapshot.
type Meta struct {
	Server  string               `json:"server"`
	Root    string               `json:"root"`
	SavedAt time.Time            `json:"saved_at"`
	Version uint64               `json:"version"`
	Counts  lsp.DiagnosticCounts `json:"counts"`
}

// Store saves and loads diagnostic snapshots.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db     *badger.DB
	gc     *gcRunner
	logger *slog.Logger
}

// Open opens a snapshot store.
//
// Inputs:
//
//	cfg - Store configuration. Path is required unless InMemory is true.
//
// Outputs:
//
//	*Store - The opened store. Caller must call Close.
//	error - Non-nil if the path is missing or BadgerDB cannot open.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent snapshot store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create snapshot directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, logger: logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gc = newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, logger)
		go s.gc.run()
	}
	return s, nil
}

// Close stops garbage collection and closes the database.
func (s *Store) Close() error {
	if s.gc != nil {
		s.gc.stop()
	}
	return s.db.Close()
}

func metaKey(server, root string) []byte {
	return []byte("meta/" + server + "\x00" + root)
}

func docPrefix(server, root string) []byte {
	return []byte("doc/" + server + "\x00" + root + "\x00")
}

// Save replaces the snapshot for server and root with diags.
//
// Description:
//
//	Existing document keys for the pair are deleted and the new set is
//	written in the same transaction, so a reader never sees a mix of two
//	snapshots.
func (s *Store) Save(ctx context.Context, meta Meta, diags map[string][]lsp.Diagnostic) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	prefix := docPrefix(meta.Server, meta.Root)
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode snapshot meta: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := deletePrefix(txn, prefix); err != nil {
			return err
		}
		for uri, list := range diags {
			if len(list) == 0 {
				continue
			}
			val, err := json.Marshal(list)
			if err != nil {
				return fmt.Errorf("encode diagnostics for %s: %w", uri, err)
			}
			key := append(append([]byte(nil), prefix...), uri...)
			if err := txn.Set(key, val); err != nil {
				return err
			}
		}
		return txn.Set(metaKey(meta.Server, meta.Root), metaBytes)
	})
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func deletePrefix(txn *badger.Txn, prefix []byte) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// Load returns the snapshot saved for server and root.
//
// Outputs:
//
//	Meta - The snapshot metadata.
//	map[string][]lsp.Diagnostic - Diagnostics keyed by uri.
//	error - ErrNoSnapshot if nothing was saved.
func (s *Store) Load(ctx context.Context, server, root string) (Meta, map[string][]lsp.Diagnostic, error) {
	if err := ctx.Err(); err != nil {
		return Meta{}, nil, err
	}
	var meta Meta
	diags := make(map[string][]lsp.Diagnostic)
	prefix := docPrefix(server, root)

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(server, root))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNoSnapshot
		}
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &meta)
		}); err != nil {
			return fmt.Errorf("decode snapshot meta: %w", err)
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			uri := string(item.Key()[len(prefix):])
			var list []lsp.Diagnostic
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &list)
			}); err != nil {
				return fmt.Errorf("decode diagnostics for %s: %w", uri, err)
			}
			diags[uri] = list
		}
		return nil
	})
	if err != nil {
		return Meta{}, nil, err
	}
	return meta, diags, nil
}

// Delete removes the snapshot for server and root.
func (s *Store) Delete(ctx context.Context, server, root string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := deletePrefix(txn, docPrefix(server, root)); err != nil {
			return err
		}
		err := txn.Delete(metaKey(server, root))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// Restore loads the snapshot for server and root into cache.
//
// Outputs:
//
//	int - Number of documents restored. Zero with a nil error when no
//	snapshot exists.
func (s *Store) Restore(ctx context.Context, server, root string, cache *lsp.DiagnosticCache) (int, error) {
	_, diags, err := s.Load(ctx, server, root)
	if errors.Is(err, ErrNoSnapshot) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	for uri, list := range diags {
		cache.Set(uri, list)
	}
	return len(diags), nil
}

// Follow saves cache after every change until ctx ends.
//
// Description:
//
//	Changes closer together than minInterval are coalesced into one save.
//	A final save runs when ctx ends so the last state is kept. Save
//	failures are logged and do not stop the loop.
func (s *Store) Follow(ctx context.Context, server, root string, cache *lsp.DiagnosticCache, minInterval time.Duration) error {
	save := func(saveCtx context.Context) (uint64, bool) {
		snap := cache.Snapshot()
		meta := Meta{
			Server:  server,
			Root:    root,
			SavedAt: time.Now().UTC(),
			Version: snap.Version,
			Counts:  snap.Counts,
		}
		if err := s.Save(saveCtx, meta, snap.Entries); err != nil {
			s.logger.Warn("Snapshot save failed",
				slog.String("server", server),
				slog.String("error", err.Error()),
			)
			return 0, false
		}
		s.logger.Debug("Snapshot saved",
			slog.String("server", server),
			slog.Uint64("version", meta.Version),
		)
		return meta.Version, true
	}

	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	limiter := rate.NewLimiter(limit, 1)

	saved := cache.Version()
	for {
		changed := cache.Changed()
		if cache.Version() != saved {
			if v, ok := save(ctx); ok {
				saved = v
			}
		}
		select {
		case <-ctx.Done():
			if cache.Version() != saved {
				save(context.WithoutCancel(ctx))
			}
			return ctx.Err()
		case <-changed:
		}
		// Wait fails only when ctx ends; the next pass does the final save.
		_ = limiter.Wait(ctx)
	}
}

// gcRunner runs periodic value log garbage collection.
type gcRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	stopCh   chan struct{}
	doneCh   chan struct{}
	logger   *slog.Logger
}

func newGCRunner(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) *gcRunner {
	return &gcRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logger:   logger,
	}
}

func (r *gcRunner) stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *gcRunner) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			// ErrNoRewrite means there was nothing to collect.
			if err := r.db.RunValueLogGC(r.ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				r.logger.Warn("Snapshot value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}
