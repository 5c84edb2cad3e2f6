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
	_ "embed"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultStartupTimeoutMs bounds spawn plus the initialize handshake.
	DefaultStartupTimeoutMs = 30000

	// DefaultRequestTimeoutMs bounds a single request round trip.
	DefaultRequestTimeoutMs = 10000

	// MaxRegistryFileSize is the maximum accepted registry file size (1MB).
	MaxRegistryFileSize = 1024 * 1024
)

//go:embed servers.yaml
var defaultRegistryYAML []byte

var (
	registryLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lsp_registry_lookups_total",
		Help: "Total server registry lookups by kind and result",
	}, []string{"kind", "result"})

	registryLoadErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lsp_registry_load_errors_total",
		Help: "Total server registry decode or validation failures",
	})
)

// definitionValidate validates server definitions after decoding.
var definitionValidate *validator.Validate

func init() {
	definitionValidate = validator.New()
	_ = definitionValidate.RegisterValidation("filetype", validateFileType)
}

// validateFileType rejects extensions containing path separators or spaces.
func validateFileType(fl validator.FieldLevel) bool {
	ext := fl.Field().String()
	return ext != "" && !strings.ContainsAny(ext, `/\ `)
}

// =============================================================================
// SERVER DEFINITION
// =============================================================================

// ServerDefinition describes how to launch one language server and which
// projects and files it claims.
//
// Description:
//
//	Definitions are plain data built at configuration time, either from the
//	embedded default registry or from a user registry file. InitOptions and
//	Settings are passed through to the server verbatim as JSON.
type ServerDefinition struct {
	Name             string            `yaml:"name" json:"name" validate:"required"`
	Command          string            `yaml:"command" json:"command" validate:"required"`
	Args             []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env              map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	FileTypes        []string          `yaml:"file_types,omitempty" json:"file_types,omitempty" validate:"dive,filetype"`
	RootMarkers      []string          `yaml:"root_markers,omitempty" json:"root_markers,omitempty" validate:"dive,required"`
	InitOptions      any               `yaml:"init_options,omitempty" json:"init_options,omitempty"`
	Settings         any               `yaml:"settings,omitempty" json:"settings,omitempty"`
	Disabled         bool              `yaml:"disabled,omitempty" json:"disabled,omitempty"`
	StartupTimeoutMs int               `yaml:"startup_timeout_ms,omitempty" json:"startup_timeout_ms,omitempty" validate:"gte=0"`
	RequestTimeoutMs int               `yaml:"request_timeout_ms,omitempty" json:"request_timeout_ms,omitempty" validate:"gte=0"`
}

// Validate checks required fields and value ranges.
func (d *ServerDefinition) Validate() error {
	if err := definitionValidate.Struct(d); err != nil {
		return fmt.Errorf("%w: server %q: %v", ErrConfig, d.Name, err)
	}
	return nil
}

// HandlesExtension reports whether ext is one of the definition's file types.
// A leading dot is ignored and comparison is case-insensitive.
func (d *ServerDefinition) HandlesExtension(ext string) bool {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		return false
	}
	for _, ft := range d.FileTypes {
		if strings.EqualFold(strings.TrimPrefix(ft, "."), ext) {
			return true
		}
	}
	return false
}

// HandlesFile reports whether the file's extension is claimed.
func (d *ServerDefinition) HandlesFile(path string) bool {
	return d.HandlesExtension(filepath.Ext(path))
}

// HasRootMarker reports whether dir contains any of the root markers.
//
// Description:
//
//	A marker without wildcards must exist as a literal entry in dir. A
//	marker with exactly one '*' matches any entry of dir that starts with
//	the text before the '*' and ends with the text after it. Markers with
//	two or more wildcards never match.
//
// Inputs:
//
//	dir - Directory to inspect. Subdirectories are not searched.
//
// Outputs:
//
//	bool - True if at least one marker matched.
func (d *ServerDefinition) HasRootMarker(dir string) bool {
	var entries []os.DirEntry
	listed := false

	for _, marker := range d.RootMarkers {
		switch strings.Count(marker, "*") {
		case 0:
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return true
			}
		case 1:
			if !listed {
				entries, _ = os.ReadDir(dir)
				listed = true
			}
			prefix, suffix, _ := strings.Cut(marker, "*")
			for _, e := range entries {
				name := e.Name()
				if len(name) >= len(prefix)+len(suffix) &&
					strings.HasPrefix(name, prefix) &&
					strings.HasSuffix(name, suffix) {
					return true
				}
			}
		}
	}
	return false
}

// StartupTimeout returns the startup timeout, defaulting to 30s.
func (d *ServerDefinition) StartupTimeout() time.Duration {
	if d.StartupTimeoutMs <= 0 {
		return DefaultStartupTimeoutMs * time.Millisecond
	}
	return time.Duration(d.StartupTimeoutMs) * time.Millisecond
}

// RequestTimeout returns the per-request timeout, defaulting to 10s.
func (d *ServerDefinition) RequestTimeout() time.Duration {
	if d.RequestTimeoutMs <= 0 {
		return DefaultRequestTimeoutMs * time.Millisecond
	}
	return time.Duration(d.RequestTimeoutMs) * time.Millisecond
}

// clone returns a copy that shares no slices or maps with d.
func (d ServerDefinition) clone() ServerDefinition {
	d.Args = append([]string(nil), d.Args...)
	d.FileTypes = append([]string(nil), d.FileTypes...)
	d.RootMarkers = append([]string(nil), d.RootMarkers...)
	if d.Env != nil {
		d.Env = maps.Clone(d.Env)
	}
	return d
}

// =============================================================================
// SERVER REGISTRY
// =============================================================================

// registryYAML is the on-disk shape of a registry.
type registryYAML struct {
	AutoDetect bool               `yaml:"auto_detect"`
	Debug      bool               `yaml:"debug"`
	Servers    []ServerDefinition `yaml:"servers"`
}

// ServerRegistry is an ordered, named collection of server definitions.
//
// Description:
//
//	Lookups walk definitions in declared order, so when two enabled
//	definitions claim the same extension the one declared first wins.
//
// Thread Safety:
//
//	Safe for concurrent use.
type ServerRegistry struct {
	// AutoDetect enables selection by project root markers.
	AutoDetect bool

	// Debug enables verbose protocol logging in consumers.
	Debug bool

	mu      sync.RWMutex
	servers []ServerDefinition
	index   map[string]int
}

// NewServerRegistry creates an empty registry.
func NewServerRegistry() *ServerRegistry {
	return &ServerRegistry{index: make(map[string]int)}
}

// DefaultRegistry returns a fresh copy of the built-in registry.
//
// Outputs:
//
//	*ServerRegistry - Registry decoded from the embedded servers.yaml.
//	error - Non-nil only if the embedded data is invalid.
func DefaultRegistry() (*ServerRegistry, error) {
	reg, err := LoadRegistry(defaultRegistryYAML)
	if err != nil {
		return nil, fmt.Errorf("embedded registry: %w", err)
	}
	return reg, nil
}

// LoadRegistry decodes and validates a registry from YAML.
//
// Errors:
//
//	ErrConfig - Malformed YAML, invalid definitions, or duplicate names.
func LoadRegistry(data []byte) (*ServerRegistry, error) {
	if len(data) > MaxRegistryFileSize {
		registryLoadErrors.Inc()
		return nil, fmt.Errorf("%w: registry exceeds %d bytes", ErrConfig, MaxRegistryFileSize)
	}

	var raw registryYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		registryLoadErrors.Inc()
		return nil, fmt.Errorf("%w: decode registry: %v", ErrConfig, err)
	}

	reg := NewServerRegistry()
	reg.AutoDetect = raw.AutoDetect
	reg.Debug = raw.Debug
	for _, def := range raw.Servers {
		if err := def.Validate(); err != nil {
			registryLoadErrors.Inc()
			return nil, err
		}
		if _, dup := reg.index[def.Name]; dup {
			registryLoadErrors.Inc()
			return nil, fmt.Errorf("%w: duplicate server %q", ErrConfig, def.Name)
		}
		reg.add(def)
	}
	return reg, nil
}

// LoadRegistryFile reads and decodes a registry file.
func LoadRegistryFile(path string) (*ServerRegistry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: stat registry: %v", ErrConfig, err)
	}
	if info.Size() > MaxRegistryFileSize {
		registryLoadErrors.Inc()
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrConfig, path, MaxRegistryFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read registry: %v", ErrConfig, err)
	}
	return LoadRegistry(data)
}

// Add inserts def, replacing any existing definition with the same name in
// place so declared order is preserved.
func (r *ServerRegistry) Add(def ServerDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.add(def)
}

func (r *ServerRegistry) add(def ServerDefinition) {
	if r.index == nil {
		r.index = make(map[string]int)
	}
	if i, ok := r.index[def.Name]; ok {
		r.servers[i] = def.clone()
		return
	}
	r.index[def.Name] = len(r.servers)
	r.servers = append(r.servers, def.clone())
}

// Get returns a copy of the named definition.
func (r *ServerRegistry) Get(name string) (ServerDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[name]
	if !ok {
		return ServerDefinition{}, false
	}
	return r.servers[i].clone(), true
}

// Names returns definition names in declared order.
func (r *ServerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.servers))
	for i, d := range r.servers {
		names[i] = d.Name
	}
	return names
}

// All returns copies of every definition in declared order.
func (r *ServerRegistry) All() []ServerDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ServerDefinition, len(r.servers))
	for i, d := range r.servers {
		out[i] = d.clone()
	}
	return out
}

// Len returns the number of definitions.
func (r *ServerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.servers)
}

// ServerForExtension returns the first enabled definition claiming ext.
func (r *ServerRegistry) ServerForExtension(ext string) (ServerDefinition, bool) {
	return r.find("extension", func(d *ServerDefinition) bool {
		return d.HandlesExtension(ext)
	})
}

// ServerForFile returns the first enabled definition claiming path's extension.
func (r *ServerRegistry) ServerForFile(path string) (ServerDefinition, bool) {
	return r.find("file", func(d *ServerDefinition) bool {
		return d.HandlesFile(path)
	})
}

// ServerForProject returns the first enabled definition whose root markers
// are present in dir.
func (r *ServerRegistry) ServerForProject(dir string) (ServerDefinition, bool) {
	return r.find("project", func(d *ServerDefinition) bool {
		return d.HasRootMarker(dir)
	})
}

func (r *ServerRegistry) find(kind string, match func(*ServerDefinition) bool) (ServerDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := range r.servers {
		d := &r.servers[i]
		if d.Disabled {
			continue
		}
		if match(d) {
			registryLookups.WithLabelValues(kind, "hit").Inc()
			return d.clone(), true
		}
	}
	registryLookups.WithLabelValues(kind, "miss").Inc()
	return ServerDefinition{}, false
}

// Merge overlays other onto r one field at a time.
//
// Description:
//
//	AutoDetect and Debug are always taken from other. For each definition
//	in other that r already has: non-empty Args, FileTypes and RootMarkers
//	replace the existing lists wholesale; Env keys are added or
//	overwritten while existing keys are kept; non-nil InitOptions and
//	Settings replace; a non-empty Command and non-zero timeouts replace;
//	Disabled is always overwritten. Definitions r does not have are
//	appended verbatim in other's order.
//
// Thread Safety:
//
//	Safe for concurrent use. other is read under its own lock.
func (r *ServerRegistry) Merge(other *ServerRegistry) {
	if other == nil || other == r {
		return
	}
	incoming := other.All()
	autoDetect, debug := other.AutoDetect, other.Debug

	r.mu.Lock()
	defer r.mu.Unlock()

	r.AutoDetect = autoDetect
	r.Debug = debug

	for _, src := range incoming {
		i, ok := r.index[src.Name]
		if !ok {
			r.add(src)
			continue
		}
		dst := &r.servers[i]
		if src.Command != "" {
			dst.Command = src.Command
		}
		if len(src.Args) > 0 {
			dst.Args = src.Args
		}
		if len(src.FileTypes) > 0 {
			dst.FileTypes = src.FileTypes
		}
		if len(src.RootMarkers) > 0 {
			dst.RootMarkers = src.RootMarkers
		}
		if len(src.Env) > 0 {
			if dst.Env == nil {
				dst.Env = make(map[string]string, len(src.Env))
			}
			maps.Copy(dst.Env, src.Env)
		}
		if src.InitOptions != nil {
			dst.InitOptions = src.InitOptions
		}
		if src.Settings != nil {
			dst.Settings = src.Settings
		}
		if src.StartupTimeoutMs != 0 {
			dst.StartupTimeoutMs = src.StartupTimeoutMs
		}
		if src.RequestTimeoutMs != 0 {
			dst.RequestTimeoutMs = src.RequestTimeoutMs
		}
		dst.Disabled = src.Disabled
	}
}

// =============================================================================
// LANGUAGE IDS
// =============================================================================

// PlainTextLanguageID is returned for unknown extensions.
const PlainTextLanguageID = "plaintext"

var languageIDs = map[string]string{
	"go":    "go",
	"mod":   "go.mod",
	"rs":    "rust",
	"py":    "python",
	"pyi":   "python",
	"js":    "javascript",
	"mjs":   "javascript",
	"cjs":   "javascript",
	"jsx":   "javascriptreact",
	"ts":    "typescript",
	"mts":   "typescript",
	"cts":   "typescript",
	"tsx":   "typescriptreact",
	"c":     "c",
	"h":     "c",
	"cc":    "cpp",
	"cpp":   "cpp",
	"cxx":   "cpp",
	"hpp":   "cpp",
	"hh":    "cpp",
	"java":  "java",
	"kt":    "kotlin",
	"kts":   "kotlin",
	"cs":    "csharp",
	"rb":    "ruby",
	"php":   "php",
	"lua":   "lua",
	"zig":   "zig",
	"sh":    "shellscript",
	"bash":  "shellscript",
	"zsh":   "shellscript",
	"swift": "swift",
	"scala": "scala",
	"hs":    "haskell",
	"ex":    "elixir",
	"exs":   "elixir",
	"erl":   "erlang",
	"ml":    "ocaml",
	"mli":   "ocaml",
	"dart":  "dart",
	"json":  "json",
	"yaml":  "yaml",
	"yml":   "yaml",
	"toml":  "toml",
	"md":    "markdown",
	"html":  "html",
	"css":   "css",
	"scss":  "scss",
	"sql":   "sql",
	"tf":    "terraform",

	"vue":    "vue",
	"svelte": "svelte",
}

// LanguageIDForExtension maps a file extension to an LSP language id.
func LanguageIDForExtension(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if id, ok := languageIDs[ext]; ok {
		return id
	}
	return PlainTextLanguageID
}

// LanguageIDForPath maps a file path to an LSP language id.
func LanguageIDForPath(path string) string {
	return LanguageIDForExtension(filepath.Ext(path))
}
