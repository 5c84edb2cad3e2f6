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
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for LSP operations.
var (
	// ErrServerNotFound indicates no server definition matched the request.
	ErrServerNotFound = errors.New("lsp server not found")

	// ErrStartupFailed indicates the server process could not be spawned or
	// the initialize handshake failed.
	ErrStartupFailed = errors.New("lsp server startup failed")

	// ErrNotReady indicates the client has no transport to the server yet.
	ErrNotReady = errors.New("lsp server not ready")

	// ErrCommunication indicates the channel to the server is broken.
	ErrCommunication = errors.New("lsp communication error")

	// ErrTimeout indicates the LSP request exceeded the timeout.
	ErrTimeout = errors.New("lsp request timeout")

	// ErrServerError indicates the server replied with a JSON-RPC error object.
	ErrServerError = errors.New("lsp server returned error")

	// ErrInvalidResponse indicates the LSP response could not be parsed.
	ErrInvalidResponse = errors.New("invalid lsp response")

	// ErrFileNotFound indicates a document could not be read from disk.
	ErrFileNotFound = errors.New("file not found")

	// ErrUnsupportedLanguage indicates no LSP configuration exists for the language.
	ErrUnsupportedLanguage = errors.New("no lsp configuration for language")

	// ErrConfig indicates an invalid server definition or registry.
	ErrConfig = errors.New("invalid lsp configuration")

	// ErrUnsupportedCapability indicates the server declared it does not
	// provide the requested feature.
	ErrUnsupportedCapability = errors.New("capability not supported by server")
)

// JSON-RPC and LSP error codes.
const (
	CodeParseError           = -32700
	CodeInvalidRequest       = -32600
	CodeMethodNotFound       = -32601
	CodeInvalidParams        = -32602
	CodeInternalError        = -32603
	CodeServerNotInitialized = -32002
	CodeUnknownErrorCode     = -32001
	CodeRequestCancelled     = -32800
	CodeContentModified      = -32801
)

// ServerError represents an error returned by the language server via JSON-RPC.
type ServerError struct {
	// Code is the JSON-RPC error code.
	Code int

	// Message is the error message from the server.
	Message string

	// Data contains optional additional data about the error.
	Data any
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("LSP error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("LSP error %d: %s", e.Code, e.Message)
}

// Is reports whether target is ErrServerError.
func (e *ServerError) Is(target error) bool {
	return target == ErrServerError
}

// IsParseError returns true if this is a JSON-RPC parse error.
func (e *ServerError) IsParseError() bool {
	return e.Code == CodeParseError
}

// IsMethodNotFound returns true if the method is not supported by the server.
func (e *ServerError) IsMethodNotFound() bool {
	return e.Code == CodeMethodNotFound
}

// IsRequestCancelled returns true if the request was cancelled.
func (e *ServerError) IsRequestCancelled() bool {
	return e.Code == CodeRequestCancelled
}

// IsServerNotInitialized returns true if the server is not initialized.
func (e *ServerError) IsServerNotInitialized() bool {
	return e.Code == CodeServerNotInitialized
}

// TimeoutError is returned when a request receives no reply within the
// configured request timeout.
type TimeoutError struct {
	Method   string
	Duration time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("lsp request %s timed out after %dms", e.Method, e.Duration.Milliseconds())
}

// Is reports whether target is ErrTimeout.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// StartupError wraps the cause of a failed spawn or handshake.
type StartupError struct {
	Server string
	Err    error
}

// Error implements the error interface.
func (e *StartupError) Error() string {
	return fmt.Sprintf("start lsp server %s: %v", e.Server, e.Err)
}

// Is reports whether target is ErrStartupFailed.
func (e *StartupError) Is(target error) bool {
	return target == ErrStartupFailed
}

// Unwrap returns the underlying error.
func (e *StartupError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the failed operation is safe to retry as-is.
//
// Timeouts, broken channels, and not-ready clients are retryable. The client
// never retries on its own; callers own that policy.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrCommunication) ||
		errors.Is(err, ErrNotReady)
}

// NeedsRestart reports whether recovering from err requires a full
// Stop/Start cycle of the client.
func NeedsRestart(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrCommunication) || errors.Is(err, ErrStartupFailed)
}
