package plugin

import (
	"path"
	"strings"
)

// BuiltinPrefix marks module paths served by adapters compiled into the binary.
const BuiltinPrefix = "builtin/"

// Identifier is a parsed "<module-path>:<symbol>" extraction identifier.
type Identifier struct {
	Module string
	Symbol string
}

func (id Identifier) String() string {
	return id.Module + ":" + id.Symbol
}

// Builtin reports whether the identifier addresses a compiled-in adapter.
func (id Identifier) Builtin() bool {
	return strings.HasPrefix(id.Module, BuiltinPrefix)
}

// ParseIdentifier splits and validates an extraction identifier. Module paths
// are slash separated, relative and may not escape the plugin directory.
func ParseIdentifier(raw string) (Identifier, error) {
	raw = strings.TrimSpace(raw)
	idx := strings.LastIndex(raw, ":")
	if idx <= 0 || idx == len(raw)-1 {
		return Identifier{}, resolutionError(NotFound, raw, nil, "malformed identifier, want <module-path>:<symbol>")
	}

	id := Identifier{Module: raw[:idx], Symbol: raw[idx+1:]}
	if strings.HasPrefix(id.Module, "/") || path.Clean(id.Module) != id.Module {
		return Identifier{}, resolutionError(NotFound, raw, nil, "module path must be clean and relative")
	}
	for _, part := range strings.Split(id.Module, "/") {
		if part == ".." || part == "." || part == "" {
			return Identifier{}, resolutionError(NotFound, raw, nil, "module path must be clean and relative")
		}
	}
	if strings.ContainsAny(id.Symbol, "/\\ ") {
		return Identifier{}, resolutionError(NotFound, raw, nil, "invalid symbol %q", id.Symbol)
	}
	return id, nil
}
