package tools

import (
	"reflect"
	"testing"

	"github.com/tjfontaine/polyglot-agent-gateway/internal/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name         string
		defs         []domain.ToolDefinition
		wantNative   []string
		wantExternal []string
	}{
		{
			name: "mixed native and external",
			defs: []domain.ToolDefinition{
				{Name: "Read", Description: "read files"},
				{Name: "get_weather", Description: "fetch weather"},
			},
			wantNative:   []string{"Read"},
			wantExternal: []string{"get_weather"},
		},
		{
			name: "all native",
			defs: []domain.ToolDefinition{
				{Name: "Bash"}, {Name: "Glob"}, {Name: "WebSearch"},
			},
			wantNative: []string{"Bash", "Glob", "WebSearch"},
		},
		{
			name: "all external preserves order",
			defs: []domain.ToolDefinition{
				{Name: "zeta"}, {Name: "alpha"}, {Name: "mid"},
			},
			wantExternal: []string{"zeta", "alpha", "mid"},
		},
		{
			name: "empty input yields empty outputs",
			defs: nil,
		},
		{
			name: "native by name regardless of schema",
			defs: []domain.ToolDefinition{
				{Name: "Read", Description: "totally custom behavior", InputSchema: map[string]any{"type": "object"}},
			},
			wantNative: []string{"Read"},
		},
		{
			name: "case sensitive membership",
			defs: []domain.ToolDefinition{
				{Name: "read"}, {Name: "BASH"},
			},
			wantExternal: []string{"read", "BASH"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			native, external := Classify(tt.defs)

			if !reflect.DeepEqual(native, tt.wantNative) {
				t.Errorf("native = %v, want %v", native, tt.wantNative)
			}

			var externalNames []string
			for _, def := range external {
				externalNames = append(externalNames, def.Name)
			}
			if !reflect.DeepEqual(externalNames, tt.wantExternal) {
				t.Errorf("external = %v, want %v", externalNames, tt.wantExternal)
			}

			// Partition property: disjoint subsets whose union equals input.
			if len(native)+len(external) != len(tt.defs) {
				t.Errorf("partition lost tools: %d + %d != %d", len(native), len(external), len(tt.defs))
			}
		})
	}
}

func TestIsNative(t *testing.T) {
	if !IsNative("Read") {
		t.Error("IsNative(Read) = false, want true")
	}
	if IsNative("get_weather") {
		t.Error("IsNative(get_weather) = true, want false")
	}
}
