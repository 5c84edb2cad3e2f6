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
	"strings"

	"github.com/tidwall/gjson"
)

// =============================================================================
// SINGLE-VALUE PARSERS
// =============================================================================
//
// Each parser returns ok=false instead of an error when a mandatory field
// is missing or has the wrong JSON type. Optional fields with the wrong
// type are ignored.

// ParsePosition parses {line, character}.
func ParsePosition(r gjson.Result) (Position, bool) {
	if !r.IsObject() {
		return Position{}, false
	}
	line, char := r.Get("line"), r.Get("character")
	if line.Type != gjson.Number || char.Type != gjson.Number {
		return Position{}, false
	}
	return Position{Line: int(line.Int()), Character: int(char.Int())}, true
}

// ParseRange parses {start, end}.
func ParseRange(r gjson.Result) (Range, bool) {
	if !r.IsObject() {
		return Range{}, false
	}
	start, ok := ParsePosition(r.Get("start"))
	if !ok {
		return Range{}, false
	}
	end, ok := ParsePosition(r.Get("end"))
	if !ok {
		return Range{}, false
	}
	return Range{Start: start, End: end}, true
}

// ParseLocation parses a Location {uri, range} or a LocationLink
// {targetUri, targetSelectionRange}. For links the selection range is
// preferred, falling back to targetRange.
func ParseLocation(r gjson.Result) (Location, bool) {
	if !r.IsObject() {
		return Location{}, false
	}
	if uri := r.Get("uri"); uri.Type == gjson.String {
		rng, ok := ParseRange(r.Get("range"))
		if !ok {
			return Location{}, false
		}
		return Location{URI: uri.String(), Range: rng}, true
	}
	if uri := r.Get("targetUri"); uri.Type == gjson.String {
		rng, ok := ParseRange(r.Get("targetSelectionRange"))
		if !ok {
			rng, ok = ParseRange(r.Get("targetRange"))
		}
		if !ok {
			return Location{}, false
		}
		return Location{URI: uri.String(), Range: rng}, true
	}
	return Location{}, false
}

// ParseDiagnostic parses one diagnostic. Range and message are mandatory.
// A missing or out-of-range severity is read as an error.
func ParseDiagnostic(r gjson.Result) (Diagnostic, bool) {
	if !r.IsObject() {
		return Diagnostic{}, false
	}
	rng, ok := ParseRange(r.Get("range"))
	if !ok {
		return Diagnostic{}, false
	}
	msg := r.Get("message")
	if msg.Type != gjson.String {
		return Diagnostic{}, false
	}

	d := Diagnostic{
		Range:    rng,
		Severity: SeverityError,
		Message:  msg.String(),
	}

	if sev := r.Get("severity"); sev.Type == gjson.Number {
		if s := DiagnosticSeverity(sev.Int()); s >= SeverityError && s <= SeverityHint {
			d.Severity = s
		}
	}

	switch code := r.Get("code"); code.Type {
	case gjson.String:
		s := code.String()
		d.Code = &s
	case gjson.Number:
		s := code.Raw
		d.Code = &s
	}

	if src := r.Get("source"); src.Type == gjson.String {
		s := src.String()
		d.Source = &s
	}

	for _, tag := range r.Get("tags").Array() {
		if t := DiagnosticTag(tag.Int()); tag.Type == gjson.Number && (t == TagUnnecessary || t == TagDeprecated) {
			d.Tags = append(d.Tags, t)
		}
	}

	for _, rel := range r.Get("relatedInformation").Array() {
		loc, ok := ParseLocation(rel.Get("location"))
		if !ok {
			continue
		}
		d.Related = append(d.Related, DiagnosticRelatedInformation{
			Location: loc,
			Message:  rel.Get("message").String(),
		})
	}

	return d, true
}

// ParseDocumentSymbol parses a hierarchical symbol. Malformed children
// are dropped individually.
func ParseDocumentSymbol(r gjson.Result) (DocumentSymbol, bool) {
	if !r.IsObject() {
		return DocumentSymbol{}, false
	}
	name, kind := r.Get("name"), r.Get("kind")
	if name.Type != gjson.String || kind.Type != gjson.Number {
		return DocumentSymbol{}, false
	}
	rng, ok := ParseRange(r.Get("range"))
	if !ok {
		return DocumentSymbol{}, false
	}
	sel, ok := ParseRange(r.Get("selectionRange"))
	if !ok {
		sel = rng
	}

	sym := DocumentSymbol{
		Name:           name.String(),
		Detail:         r.Get("detail").String(),
		Kind:           SymbolKind(kind.Int()),
		Range:          rng,
		SelectionRange: sel,
	}
	for _, child := range r.Get("children").Array() {
		if c, ok := ParseDocumentSymbol(child); ok {
			sym.Children = append(sym.Children, c)
		}
	}
	return sym, true
}

// ParseSymbolInformation parses a flat workspace symbol.
func ParseSymbolInformation(r gjson.Result) (SymbolInformation, bool) {
	if !r.IsObject() {
		return SymbolInformation{}, false
	}
	name, kind := r.Get("name"), r.Get("kind")
	if name.Type != gjson.String || kind.Type != gjson.Number {
		return SymbolInformation{}, false
	}
	loc, ok := ParseLocation(r.Get("location"))
	if !ok {
		return SymbolInformation{}, false
	}
	return SymbolInformation{
		Name:          name.String(),
		Kind:          SymbolKind(kind.Int()),
		ContainerName: r.Get("containerName").String(),
		Location:      loc,
	}, true
}

// =============================================================================
// BATCH PARSERS
// =============================================================================

// parseEach applies parse to every array element, keeping the ones that
// parse. A non-array input yields nil.
func parseEach[T any](r gjson.Result, parse func(gjson.Result) (T, bool)) []T {
	if !r.IsArray() {
		return nil
	}
	var out []T
	r.ForEach(func(_, v gjson.Result) bool {
		if item, ok := parse(v); ok {
			out = append(out, item)
		}
		return true
	})
	return out
}

// ParseDiagnostics parses a diagnostics array, dropping malformed entries.
func ParseDiagnostics(r gjson.Result) []Diagnostic {
	return parseEach(r, ParseDiagnostic)
}

// ParsePublishDiagnostics parses textDocument/publishDiagnostics params.
// The uri is mandatory; a missing diagnostics array reads as empty.
func ParsePublishDiagnostics(params gjson.Result) (string, []Diagnostic, bool) {
	uri := params.Get("uri")
	if uri.Type != gjson.String {
		return "", nil, false
	}
	return uri.String(), ParseDiagnostics(params.Get("diagnostics")), true
}

// ParseLocations parses a definition or references result, which may be
// null, a single Location, or an array of Location or LocationLink.
func ParseLocations(r gjson.Result) []Location {
	if r.IsObject() {
		if loc, ok := ParseLocation(r); ok {
			return []Location{loc}
		}
		return nil
	}
	return parseEach(r, ParseLocation)
}

// ParseDocumentSymbols parses a textDocument/documentSymbol result. Both
// the hierarchical DocumentSymbol[] shape and the flat SymbolInformation[]
// shape are accepted; flat entries become childless symbols whose ranges
// come from their location.
func ParseDocumentSymbols(r gjson.Result) []DocumentSymbol {
	return parseEach(r, func(v gjson.Result) (DocumentSymbol, bool) {
		if v.Get("location").Exists() {
			info, ok := ParseSymbolInformation(v)
			if !ok {
				return DocumentSymbol{}, false
			}
			return DocumentSymbol{
				Name:           info.Name,
				Detail:         info.ContainerName,
				Kind:           info.Kind,
				Range:          info.Location.Range,
				SelectionRange: info.Location.Range,
			}, true
		}
		return ParseDocumentSymbol(v)
	})
}

// ParseSymbolInformations parses a workspace/symbol result.
func ParseSymbolInformations(r gjson.Result) []SymbolInformation {
	return parseEach(r, ParseSymbolInformation)
}

// ParseHoverContents extracts text from a hover result.
//
// Description:
//
//	The contents field may be a plain string, an object with a "value"
//	field (MarkupContent or MarkedString), or an array of either. Parts
//	are joined with a blank line. A null result or one without any text
//	yields ok=false.
func ParseHoverContents(result gjson.Result) (string, bool) {
	if !result.IsObject() {
		return "", false
	}
	contents := result.Get("contents")

	var parts []string
	if contents.IsArray() {
		for _, item := range contents.Array() {
			if s := hoverPart(item); s != "" {
				parts = append(parts, s)
			}
		}
	} else if s := hoverPart(contents); s != "" {
		parts = append(parts, s)
	}

	text := strings.Join(parts, "\n\n")
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	return text, true
}

func hoverPart(v gjson.Result) string {
	switch {
	case v.Type == gjson.String:
		return v.String()
	case v.IsObject():
		if val := v.Get("value"); val.Type == gjson.String {
			return val.String()
		}
	}
	return ""
}
