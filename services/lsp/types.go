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
	"slices"
)

// =============================================================================
// POSITION & RANGE TYPES
// =============================================================================

// Position represents a position in a text document.
// Line and character are 0-indexed as in the Language Server Protocol.
type Position struct {
	// Line is the 0-indexed line number.
	Line int `json:"line"`

	// Character is the 0-indexed character offset within the line.
	Character int `json:"character"`
}

// String returns the 1-indexed "line:col" display form.
func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line+1, p.Character+1)
}

// Before reports whether p comes strictly before other.
func (p Position) Before(other Position) bool {
	if p.Line != other.Line {
		return p.Line < other.Line
	}
	return p.Character < other.Character
}

// Range represents a range in a text document.
type Range struct {
	// Start is the inclusive start position.
	Start Position `json:"start"`

	// End is the exclusive end position.
	End Position `json:"end"`
}

// Contains reports whether pos lies inside the half-open range [Start, End).
func (r Range) Contains(pos Position) bool {
	if pos.Before(r.Start) {
		return false
	}
	return pos.Before(r.End)
}

// Location represents a location in a document.
type Location struct {
	// URI is the document URI (file:// scheme).
	URI string `json:"uri"`

	// Range is the range within the document.
	Range Range `json:"range"`
}

// String renders the location as path:line:col.
func (l Location) String() string {
	return fmt.Sprintf("%s:%s", URIToPath(l.URI), l.Range.Start)
}

// =============================================================================
// DIAGNOSTICS
// =============================================================================

// DiagnosticSeverity is the severity of a diagnostic.
type DiagnosticSeverity int

// Severities as defined by the Language Server Protocol.
const (
	SeverityError       DiagnosticSeverity = 1
	SeverityWarning     DiagnosticSeverity = 2
	SeverityInformation DiagnosticSeverity = 3
	SeverityHint        DiagnosticSeverity = 4
)

// severityOrder is the fixed display order used by counts and formatting.
var severityOrder = []DiagnosticSeverity{SeverityError, SeverityWarning, SeverityInformation, SeverityHint}

// String returns a human-readable severity name.
func (s DiagnosticSeverity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInformation:
		return "information"
	case SeverityHint:
		return "hint"
	default:
		return "unknown"
	}
}

// DiagnosticTag is an additional attribute of a diagnostic.
type DiagnosticTag int

// Diagnostic tags as defined by the Language Server Protocol.
const (
	TagUnnecessary DiagnosticTag = 1
	TagDeprecated  DiagnosticTag = 2
)

// DiagnosticRelatedInformation points at a related code location.
type DiagnosticRelatedInformation struct {
	Location Location `json:"location"`
	Message  string   `json:"message"`
}

// Diagnostic is a reported issue anchored to a range in a document.
//
// Diagnostics are treated as immutable once constructed. The cache hands
// out copies of its slices, never the stored ones.
type Diagnostic struct {
	Range    Range                          `json:"range"`
	Severity DiagnosticSeverity             `json:"severity"`
	Code     *string                        `json:"code,omitempty"`
	Source   *string                        `json:"source,omitempty"`
	Message  string                         `json:"message"`
	Tags     []DiagnosticTag                `json:"tags,omitempty"`
	Related  []DiagnosticRelatedInformation `json:"relatedInformation,omitempty"`
}

// Equal reports full structural equality.
func (d Diagnostic) Equal(other Diagnostic) bool {
	return d.Range == other.Range &&
		d.Severity == other.Severity &&
		optionalEqual(d.Code, other.Code) &&
		optionalEqual(d.Source, other.Source) &&
		d.Message == other.Message &&
		slices.Equal(d.Tags, other.Tags) &&
		slices.Equal(d.Related, other.Related)
}

func optionalEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// diagnosticsEqual compares two diagnostic lists element by element.
func diagnosticsEqual(a, b []Diagnostic) bool {
	return slices.EqualFunc(a, b, Diagnostic.Equal)
}

// DiagnosticCounts aggregates diagnostics by severity.
//
// The zero value is the identity for Add.
type DiagnosticCounts struct {
	Errors   int `json:"errors"`
	Warnings int `json:"warnings"`
	Info     int `json:"info"`
	Hints    int `json:"hints"`
}

// Add returns the component-wise sum of c and other.
func (c DiagnosticCounts) Add(other DiagnosticCounts) DiagnosticCounts {
	return DiagnosticCounts{
		Errors:   c.Errors + other.Errors,
		Warnings: c.Warnings + other.Warnings,
		Info:     c.Info + other.Info,
		Hints:    c.Hints + other.Hints,
	}
}

// Record counts one diagnostic of the given severity.
func (c *DiagnosticCounts) Record(sev DiagnosticSeverity) {
	switch sev {
	case SeverityWarning:
		c.Warnings++
	case SeverityInformation:
		c.Info++
	case SeverityHint:
		c.Hints++
	default:
		c.Errors++
	}
}

// Total returns the number of diagnostics across all severities.
func (c DiagnosticCounts) Total() int {
	return c.Errors + c.Warnings + c.Info + c.Hints
}

// IsZero reports whether no diagnostics are counted.
func (c DiagnosticCounts) IsZero() bool {
	return c.Total() == 0
}

// String renders the one-line summary used by Format.
func (c DiagnosticCounts) String() string {
	return fmt.Sprintf("%d errors, %d warnings, %d info, %d hints", c.Errors, c.Warnings, c.Info, c.Hints)
}

// countDiagnostics tallies a single diagnostic list.
func countDiagnostics(diags []Diagnostic) DiagnosticCounts {
	var c DiagnosticCounts
	for _, d := range diags {
		c.Record(d.Severity)
	}
	return c
}

// =============================================================================
// SERVER STATE
// =============================================================================

// ServerState represents the lifecycle state of a client's server.
type ServerState int

const (
	// ServerStateStopped is the zero value for a client that was never started.
	ServerStateStopped ServerState = iota

	// ServerStateStarting means the process is spawning or handshaking.
	ServerStateStarting

	// ServerStateReady means the handshake completed and requests are accepted.
	ServerStateReady

	// ServerStateError means startup failed or the transport died.
	ServerStateError

	// ServerStateDisabled is only assigned by callers through Client.Disable.
	ServerStateDisabled

	// ServerStateShutdown means Stop completed.
	ServerStateShutdown
)

// String returns a human-readable state name.
func (s ServerState) String() string {
	names := []string{"stopped", "starting", "ready", "error", "disabled", "shutdown"}
	if int(s) >= 0 && int(s) < len(names) {
		return names[s]
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (s ServerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// =============================================================================
// SYMBOLS
// =============================================================================

// SymbolKind represents the kind of a symbol.
type SymbolKind int

// Symbol kinds as defined by the Language Server Protocol.
const (
	SymbolKindFile          SymbolKind = 1
	SymbolKindModule        SymbolKind = 2
	SymbolKindNamespace     SymbolKind = 3
	SymbolKindPackage       SymbolKind = 4
	SymbolKindClass         SymbolKind = 5
	SymbolKindMethod        SymbolKind = 6
	SymbolKindProperty      SymbolKind = 7
	SymbolKindField         SymbolKind = 8
	SymbolKindConstructor   SymbolKind = 9
	SymbolKindEnum          SymbolKind = 10
	SymbolKindInterface     SymbolKind = 11
	SymbolKindFunction      SymbolKind = 12
	SymbolKindVariable      SymbolKind = 13
	SymbolKindConstant      SymbolKind = 14
	SymbolKindString        SymbolKind = 15
	SymbolKindNumber        SymbolKind = 16
	SymbolKindBoolean       SymbolKind = 17
	SymbolKindArray         SymbolKind = 18
	SymbolKindObject        SymbolKind = 19
	SymbolKindKey           SymbolKind = 20
	SymbolKindNull          SymbolKind = 21
	SymbolKindEnumMember    SymbolKind = 22
	SymbolKindStruct        SymbolKind = 23
	SymbolKindEvent         SymbolKind = 24
	SymbolKindOperator      SymbolKind = 25
	SymbolKindTypeParameter SymbolKind = 26
)

var symbolKindNames = [...]string{
	"", "file", "module", "namespace", "package", "class", "method", "property",
	"field", "constructor", "enum", "interface", "function", "variable",
	"constant", "string", "number", "boolean", "array", "object", "key", "null",
	"enum member", "struct", "event", "operator", "type parameter",
}

// String returns the lowercase LSP name of the kind.
func (k SymbolKind) String() string {
	if k > 0 && int(k) < len(symbolKindNames) {
		return symbolKindNames[k]
	}
	return "unknown"
}

// DocumentSymbol is a hierarchical symbol within one document.
type DocumentSymbol struct {
	Name           string           `json:"name"`
	Detail         string           `json:"detail,omitempty"`
	Kind           SymbolKind       `json:"kind"`
	Range          Range            `json:"range"`
	SelectionRange Range            `json:"selectionRange"`
	Children       []DocumentSymbol `json:"children,omitempty"`
}

// SymbolInformation is a flat symbol as returned by workspace/symbol.
type SymbolInformation struct {
	Name          string     `json:"name"`
	Kind          SymbolKind `json:"kind"`
	ContainerName string     `json:"containerName,omitempty"`
	Location      Location   `json:"location"`
}

// =============================================================================
// REQUEST PARAMETER TYPES
// =============================================================================

// TextDocumentIdentifier identifies a text document by URI.
type TextDocumentIdentifier struct {
	URI string `json:"uri"`
}

// TextDocumentItem represents a text document with its content.
type TextDocumentItem struct {
	URI        string `json:"uri"`
	LanguageID string `json:"languageId"`
	Version    int    `json:"version"`
	Text       string `json:"text"`
}

// VersionedTextDocumentIdentifier identifies a specific version of a document.
type VersionedTextDocumentIdentifier struct {
	URI     string `json:"uri"`
	Version int    `json:"version"`
}

// TextDocumentPositionParams identifies a position in a text document.
type TextDocumentPositionParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Position     Position               `json:"position"`
}

// ReferenceParams extends TextDocumentPositionParams for find references.
type ReferenceParams struct {
	TextDocumentPositionParams
	Context ReferenceContext `json:"context"`
}

// ReferenceContext contains options for find references requests.
type ReferenceContext struct {
	IncludeDeclaration bool `json:"includeDeclaration"`
}

// DocumentSymbolParams contains params for textDocument/documentSymbol.
type DocumentSymbolParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// WorkspaceSymbolParams contains workspace symbol query parameters.
type WorkspaceSymbolParams struct {
	Query string `json:"query"`
}

// DidOpenTextDocumentParams contains params for textDocument/didOpen.
type DidOpenTextDocumentParams struct {
	TextDocument TextDocumentItem `json:"textDocument"`
}

// DidChangeTextDocumentParams contains params for textDocument/didChange.
type DidChangeTextDocumentParams struct {
	TextDocument   VersionedTextDocumentIdentifier  `json:"textDocument"`
	ContentChanges []TextDocumentContentChangeEvent `json:"contentChanges"`
}

// TextDocumentContentChangeEvent carries the full new text of a document.
// Incremental range edits are never sent.
type TextDocumentContentChangeEvent struct {
	Text string `json:"text"`
}

// DidSaveTextDocumentParams contains params for textDocument/didSave.
type DidSaveTextDocumentParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Text         *string                `json:"text,omitempty"`
}

// DidCloseTextDocumentParams contains params for textDocument/didClose.
type DidCloseTextDocumentParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// =============================================================================
// INITIALIZE TYPES
// =============================================================================

// InitializeParams contains initialization parameters.
type InitializeParams struct {
	ProcessID             int                `json:"processId"`
	RootURI               string             `json:"rootUri"`
	RootPath              string             `json:"rootPath"`
	Capabilities          ClientCapabilities `json:"capabilities"`
	InitializationOptions any                `json:"initializationOptions,omitempty"`
	WorkspaceFolders      []WorkspaceFolder  `json:"workspaceFolders"`
}

// WorkspaceFolder represents a workspace folder.
type WorkspaceFolder struct {
	URI  string `json:"uri"`
	Name string `json:"name"`
}

// ClientCapabilities is the fixed capability subset the client declares.
type ClientCapabilities struct {
	TextDocument TextDocumentClientCapabilities `json:"textDocument"`
	Workspace    WorkspaceClientCapabilities    `json:"workspace"`
}

// TextDocumentClientCapabilities describes text document capabilities.
type TextDocumentClientCapabilities struct {
	Synchronization    SynchronizationCapabilities    `json:"synchronization"`
	Completion         CompletionCapabilities         `json:"completion"`
	Hover              HoverCapabilities              `json:"hover"`
	SignatureHelp      DynamicCapability              `json:"signatureHelp"`
	Definition         LinkCapability                 `json:"definition"`
	References         DynamicCapability              `json:"references"`
	DocumentSymbol     DocumentSymbolCapabilities     `json:"documentSymbol"`
	PublishDiagnostics PublishDiagnosticsCapabilities `json:"publishDiagnostics"`
}

// SynchronizationCapabilities describes document sync capabilities.
type SynchronizationCapabilities struct {
	DynamicRegistration bool `json:"dynamicRegistration"`
	WillSave            bool `json:"willSave"`
	WillSaveWaitUntil   bool `json:"willSaveWaitUntil"`
	DidSave             bool `json:"didSave"`
}

// CompletionCapabilities describes completion support.
type CompletionCapabilities struct {
	DynamicRegistration bool `json:"dynamicRegistration"`
	CompletionItem      struct {
		SnippetSupport bool `json:"snippetSupport"`
	} `json:"completionItem"`
}

// HoverCapabilities describes hover support.
type HoverCapabilities struct {
	DynamicRegistration bool     `json:"dynamicRegistration"`
	ContentFormat       []string `json:"contentFormat"`
}

// DynamicCapability is a capability with only dynamic registration.
type DynamicCapability struct {
	DynamicRegistration bool `json:"dynamicRegistration"`
}

// LinkCapability describes definition support.
type LinkCapability struct {
	DynamicRegistration bool `json:"dynamicRegistration"`
	LinkSupport         bool `json:"linkSupport"`
}

// DocumentSymbolCapabilities describes documentSymbol support.
type DocumentSymbolCapabilities struct {
	DynamicRegistration               bool `json:"dynamicRegistration"`
	HierarchicalDocumentSymbolSupport bool `json:"hierarchicalDocumentSymbolSupport"`
}

// PublishDiagnosticsCapabilities describes diagnostics support.
type PublishDiagnosticsCapabilities struct {
	RelatedInformation bool `json:"relatedInformation"`
	TagSupport         struct {
		ValueSet []DiagnosticTag `json:"valueSet"`
	} `json:"tagSupport"`
}

// WorkspaceClientCapabilities describes workspace capabilities.
type WorkspaceClientCapabilities struct {
	WorkspaceFolders bool              `json:"workspaceFolders"`
	Configuration    bool              `json:"configuration"`
	Symbol           DynamicCapability `json:"symbol"`
}

// defaultClientCapabilities returns the fixed capability subset sent in
// every initialize request.
func defaultClientCapabilities() ClientCapabilities {
	var caps ClientCapabilities
	caps.TextDocument.Synchronization = SynchronizationCapabilities{DidSave: true}
	caps.TextDocument.Hover.ContentFormat = []string{"markdown", "plaintext"}
	caps.TextDocument.DocumentSymbol.HierarchicalDocumentSymbolSupport = true
	caps.TextDocument.PublishDiagnostics.RelatedInformation = true
	caps.TextDocument.PublishDiagnostics.TagSupport.ValueSet = []DiagnosticTag{TagUnnecessary, TagDeprecated}
	caps.Workspace.WorkspaceFolders = true
	caps.Workspace.Configuration = true
	return caps
}

// ServerCapabilities is the subset of server capabilities the client consults.
type ServerCapabilities struct {
	TextDocumentSync        any `json:"textDocumentSync,omitempty"`
	HoverProvider           any `json:"hoverProvider,omitempty"`
	DefinitionProvider      any `json:"definitionProvider,omitempty"`
	ReferencesProvider      any `json:"referencesProvider,omitempty"`
	DocumentSymbolProvider  any `json:"documentSymbolProvider,omitempty"`
	WorkspaceSymbolProvider any `json:"workspaceSymbolProvider,omitempty"`
}

// providerDisabled reports whether a provider field is explicitly false.
// A missing provider is treated as unknown, not as disabled.
func providerDisabled(v any) bool {
	b, ok := v.(bool)
	return ok && !b
}

// InitializeResult contains the server's response to initialize.
type InitializeResult struct {
	Capabilities ServerCapabilities `json:"capabilities"`
	ServerInfo   *ServerInfo        `json:"serverInfo,omitempty"`
}

// ServerInfo contains information about the server.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}
