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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for the LSP client.
var (
	tracer = otel.Tracer("aleutian.lsp")
	meter  = otel.Meter("aleutian.lsp")
)

var (
	queryLatency      metric.Float64Histogram
	queryTotal        metric.Int64Counter
	queryResults      metric.Int64Histogram
	serverSpawns      metric.Int64Counter
	requestTimeouts   metric.Int64Counter
	diagnosticUpdates metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics creates the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		queryLatency, err = meter.Float64Histogram(
			"lsp_query_duration_seconds",
			metric.WithDescription("Duration of LSP feature queries"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		queryTotal, err = meter.Int64Counter(
			"lsp_query_total",
			metric.WithDescription("Total number of LSP feature queries"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		queryResults, err = meter.Int64Histogram(
			"lsp_query_result_count",
			metric.WithDescription("Number of results returned by LSP feature queries"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		serverSpawns, err = meter.Int64Counter(
			"lsp_server_spawns_total",
			metric.WithDescription("Total number of LSP server spawns"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		requestTimeouts, err = meter.Int64Counter(
			"lsp_request_timeouts_total",
			metric.WithDescription("Requests that received no reply within the request timeout"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		diagnosticUpdates, err = meter.Int64Counter(
			"lsp_diagnostic_updates_total",
			metric.WithDescription("publishDiagnostics notifications that changed the cache"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startQuerySpan creates a span for a feature query.
func startQuerySpan(ctx context.Context, query, server, uri string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Client."+query,
		trace.WithAttributes(
			attribute.String("lsp.query", query),
			attribute.String("lsp.server", server),
			attribute.String("lsp.uri", uri),
		),
	)
}

// endQuerySpan records the outcome on span and ends it.
func endQuerySpan(span trace.Span, resultCnt int, err error) {
	span.SetAttributes(
		attribute.Int("lsp.result_count", resultCnt),
		attribute.Bool("lsp.success", err == nil),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// recordQueryMetrics records latency, count, and result size for a query.
func recordQueryMetrics(ctx context.Context, query, server string, duration time.Duration, resultCnt int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("query", query),
		attribute.String("server", server),
		attribute.Bool("success", success),
	)

	queryLatency.Record(ctx, duration.Seconds(), attrs)
	queryTotal.Add(ctx, 1, attrs)

	if success {
		queryResults.Record(ctx, int64(resultCnt), metric.WithAttributes(
			attribute.String("query", query),
		))
	}
}

// recordServerSpawn records a spawn attempt.
func recordServerSpawn(ctx context.Context, server string, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	serverSpawns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("server", server),
		attribute.Bool("success", success),
	))
}

// recordRequestTimeout counts a request that timed out.
func recordRequestTimeout(ctx context.Context, server, method string) {
	if err := initMetrics(); err != nil {
		return
	}
	requestTimeouts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("server", server),
		attribute.String("method", method),
	))
}

// recordDiagnosticUpdate counts a cache-changing diagnostics publish.
func recordDiagnosticUpdate(ctx context.Context, server string) {
	if err := initMetrics(); err != nil {
		return
	}
	diagnosticUpdates.Add(ctx, 1, metric.WithAttributes(
		attribute.String("server", server),
	))
}
