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
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lsp_diagnostic_cache_mutations_total",
		Help: "Diagnostic cache writes that changed content, by operation",
	}, []string{"op"})

	cacheCountHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lsp_diagnostic_cache_count_hits_total",
		Help: "Aggregate count reads served from the memo",
	})

	cacheCountRecomputes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lsp_diagnostic_cache_count_recomputes_total",
		Help: "Aggregate count reads that rescanned the cache",
	})
)

// FileDiagnostic pairs a diagnostic with the document it belongs to.
type FileDiagnostic struct {
	URI        string     `json:"uri"`
	Diagnostic Diagnostic `json:"diagnostic"`
}

// countsMemo is an aggregate computed against one cache version.
type countsMemo struct {
	version uint64
	counts  DiagnosticCounts
}

// DiagnosticCache stores the current diagnostics of each document.
//
// Description:
//
//	Every write that actually changes content bumps a version counter.
//	Writes that leave content unchanged are no-ops: the version stays put
//	and the aggregate count memo survives. Counts() serves from the memo
//	while its version matches the cache's.
//
// Thread Safety:
//
//	Safe for concurrent use. The memo is only published while the cache
//	lock is held, so a memo always carries the version it was computed
//	against.
type DiagnosticCache struct {
	mu      sync.RWMutex
	entries map[string][]Diagnostic
	version uint64
	changed chan struct{}

	memo atomic.Pointer[countsMemo]
}

// NewDiagnosticCache creates an empty cache at version 0.
func NewDiagnosticCache() *DiagnosticCache {
	return &DiagnosticCache{
		entries: make(map[string][]Diagnostic),
		changed: make(chan struct{}),
	}
}

// bumpLocked advances the version, drops the memo, and wakes waiters.
// Caller must hold the write lock.
func (c *DiagnosticCache) bumpLocked(op string) {
	c.version++
	c.memo.Store(nil)
	close(c.changed)
	c.changed = make(chan struct{})
	cacheMutations.WithLabelValues(op).Inc()
}

// Set replaces the diagnostics for uri.
//
// Description:
//
//	An empty list removes the entry. The write happens only when the new
//	list differs from the stored one by full structural equality.
//
// Outputs:
//
//	bool - True if the cache content changed.
func (c *DiagnosticCache) Set(uri string, diags []Diagnostic) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.entries[uri]
	if len(diags) == 0 {
		if !ok {
			return false
		}
		delete(c.entries, uri)
		c.bumpLocked("remove")
		return true
	}
	if ok && diagnosticsEqual(existing, diags) {
		return false
	}
	c.entries[uri] = slices.Clone(diags)
	c.bumpLocked("set")
	return true
}

// Get returns a copy of the diagnostics for uri, or nil.
func (c *DiagnosticCache) Get(uri string) []Diagnostic {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.entries[uri])
}

// All returns a copy of every entry.
func (c *DiagnosticCache) All() map[string][]Diagnostic {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string][]Diagnostic, len(c.entries))
	for uri, diags := range c.entries {
		out[uri] = slices.Clone(diags)
	}
	return out
}

// URIs returns the documents that currently have diagnostics, sorted.
func (c *DiagnosticCache) URIs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.entries))
}

// Len returns the number of documents with diagnostics.
func (c *DiagnosticCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Remove drops the entry for uri. Reports whether anything was removed.
func (c *DiagnosticCache) Remove(uri string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[uri]; !ok {
		return false
	}
	delete(c.entries, uri)
	c.bumpLocked("remove")
	return true
}

// Clear drops every entry. Reports whether anything was removed.
func (c *DiagnosticCache) Clear() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) == 0 {
		return false
	}
	clear(c.entries)
	c.bumpLocked("clear")
	return true
}

// Version returns the current version.
func (c *DiagnosticCache) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Changed returns a channel that is closed on the next content change.
func (c *DiagnosticCache) Changed() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.changed
}

// Counts returns aggregate counts across every document.
//
// Description:
//
//	Served from the memo when the memo's version equals the current
//	version. Otherwise every stored list is rescanned and the result is
//	published as the new memo. Concurrent readers may recompute the same
//	version redundantly; they always agree on the result.
func (c *DiagnosticCache) Counts() DiagnosticCounts {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.countsLocked()
}

// countsLocked requires c.mu held for reading or writing.
func (c *DiagnosticCache) countsLocked() DiagnosticCounts {
	if m := c.memo.Load(); m != nil && m.version == c.version {
		cacheCountHits.Inc()
		return m.counts
	}

	var total DiagnosticCounts
	for _, diags := range c.entries {
		total = total.Add(countDiagnostics(diags))
	}
	c.memo.Store(&countsMemo{version: c.version, counts: total})
	cacheCountRecomputes.Inc()
	return total
}

// DiagnosticSnapshot is a point-in-time copy of the cache. Version and
// Counts always describe exactly the documents in Entries.
type DiagnosticSnapshot struct {
	Version uint64
	Counts  DiagnosticCounts
	Entries map[string][]Diagnostic
}

// Snapshot copies the version, aggregate counts and entries under a
// single read lock.
func (c *DiagnosticCache) Snapshot() DiagnosticSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries := make(map[string][]Diagnostic, len(c.entries))
	for uri, diags := range c.entries {
		entries[uri] = slices.Clone(diags)
	}
	return DiagnosticSnapshot{
		Version: c.version,
		Counts:  c.countsLocked(),
		Entries: entries,
	}
}

// FileCounts returns counts for a single document.
func (c *DiagnosticCache) FileCounts(uri string) DiagnosticCounts {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return countDiagnostics(c.entries[uri])
}

// BySeverity returns every diagnostic of the given severity, ordered by
// URI then start position.
func (c *DiagnosticCache) BySeverity(sev DiagnosticSeverity) []FileDiagnostic {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return filterSeverity(c.entries, sev)
}

func filterSeverity(entries map[string][]Diagnostic, sev DiagnosticSeverity) []FileDiagnostic {
	var out []FileDiagnostic
	for _, uri := range slices.Sorted(maps.Keys(entries)) {
		for _, d := range entries[uri] {
			if d.Severity == sev {
				out = append(out, FileDiagnostic{URI: uri, Diagnostic: d})
			}
		}
	}
	slices.SortStableFunc(out, func(a, b FileDiagnostic) int {
		if a.URI != b.URI {
			return strings.Compare(a.URI, b.URI)
		}
		switch {
		case a.Diagnostic.Range.Start.Before(b.Diagnostic.Range.Start):
			return -1
		case b.Diagnostic.Range.Start.Before(a.Diagnostic.Range.Start):
			return 1
		}
		return 0
	})
	return out
}

// Errors returns every error-severity diagnostic.
func (c *DiagnosticCache) Errors() []FileDiagnostic {
	return c.BySeverity(SeverityError)
}

// Warnings returns every warning-severity diagnostic.
func (c *DiagnosticCache) Warnings() []FileDiagnostic {
	return c.BySeverity(SeverityWarning)
}

var severityGroupTitles = map[DiagnosticSeverity]string{
	SeverityError:       "Errors",
	SeverityWarning:     "Warnings",
	SeverityInformation: "Information",
	SeverityHint:        "Hints",
}

// Format renders the cache as a human-readable report.
//
// Description:
//
//	Returns "No diagnostics." for an empty cache. Otherwise prints a total
//	summary line followed by one group per non-empty severity in the order
//	errors, warnings, information, hints. Entries are rendered as
//	"path:line:col: message" with 1-indexed positions and the file://
//	scheme stripped, followed by optional code and source lines.
//
// Inputs:
//
//	maxPerSeverity - Maximum entries per group. Values <= 0 mean no limit.
//
// The report is rendered from one Snapshot, so the summary line always
// agrees with the groups beneath it.
func (c *DiagnosticCache) Format(maxPerSeverity int) string {
	snap := c.Snapshot()
	if len(snap.Entries) == 0 {
		return "No diagnostics."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Diagnostics: %s\n", snap.Counts)

	for _, sev := range severityOrder {
		group := filterSeverity(snap.Entries, sev)
		if len(group) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n%s (%d):\n", severityGroupTitles[sev], len(group))

		shown := group
		if maxPerSeverity > 0 && len(group) > maxPerSeverity {
			shown = group[:maxPerSeverity]
		}
		for _, fd := range shown {
			writeDiagnosticEntry(&b, fd)
		}
		if len(shown) < len(group) {
			fmt.Fprintf(&b, "  ... and %d more\n", len(group)-len(shown))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeDiagnosticEntry(b *strings.Builder, fd FileDiagnostic) {
	d := fd.Diagnostic
	fmt.Fprintf(b, "  %s:%s: %s\n", URIToPath(fd.URI), d.Range.Start, d.Message)
	if d.Code != nil {
		fmt.Fprintf(b, "    code: %s\n", *d.Code)
	}
	if d.Source != nil {
		fmt.Fprintf(b, "    source: %s\n", *d.Source)
	}
}
