// Package tools partitions client-declared tools into engine-native and
// external sets, and intercepts external tool execution so control can be
// handed back to the caller.
package tools

import (
	"log/slog"

	"github.com/tjfontaine/polyglot-agent-gateway/internal/domain"
)

// nativeTools is the closed set of tool names the engine executes itself.
// Classification is by name only; a declared description or schema never
// changes membership.
var nativeTools = map[string]struct{}{
	// File operations
	"Read":      {},
	"Write":     {},
	"Edit":      {},
	"MultiEdit": {},
	// Shell
	"Bash": {},
	// Search
	"Glob": {},
	"Grep": {},
	"LS":   {},
	// Web
	"WebFetch":  {},
	"WebSearch": {},
	// Task management
	"TodoRead":  {},
	"TodoWrite": {},
	"Task":      {},
	// Notebooks
	"Jupyter":      {},
	"NotebookEdit": {},
}

// IsNative reports whether the engine can execute the named tool itself.
func IsNative(name string) bool {
	_, ok := nativeTools[name]
	return ok
}

// Classify splits tool definitions into native tool names and external tool
// definitions. Both outputs preserve the input order; external definitions
// pass through unmodified. Empty input yields two empty outputs.
func Classify(defs []domain.ToolDefinition) (native []string, external []domain.ToolDefinition) {
	for _, def := range defs {
		if IsNative(def.Name) {
			native = append(native, def.Name)
		} else {
			external = append(external, def)
		}
	}

	slog.Debug("classified tools",
		slog.Int("total", len(defs)),
		slog.Int("native", len(native)),
		slog.Int("external", len(external)),
	)

	return native, external
}
