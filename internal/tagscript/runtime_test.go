package tagscript

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/osm"
)

const script = `
function river_name(tags)
	local n = first_of(tags, "name:en", "name", "ref")
	if n == nil then
		return nil
	end
	return clean_spaces(n)
end
`

func TestResolveName(t *testing.T) {
	r := NewRuntime()
	defer r.Close()

	if err := r.LoadString(script); err != nil {
		t.Fatalf("LoadString: %v", err)
	}

	tests := []struct {
		name string
		tags osm.Tags
		want string
	}{
		{"english name wins", osm.Tags{{Key: "name", Value: "Tamise"}, {Key: "name:en", Value: "Thames"}}, "Thames"},
		{"plain name", osm.Tags{{Key: "name", Value: "  River   Severn "}}, "River Severn"},
		{"ref fallback", osm.Tags{{Key: "ref", Value: "R1"}}, "R1"},
		{"unnamed", osm.Tags{{Key: "waterway", Value: "river"}}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.ResolveName(tt.tags)
			if err != nil {
				t.Fatalf("ResolveName: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMissingEntryPoint(t *testing.T) {
	r := NewRuntime()
	defer r.Close()

	if err := r.LoadString(`x = 1`); err == nil {
		t.Error("expected error when river_name is not defined")
	}
	if _, err := r.ResolveName(nil); err == nil {
		t.Error("expected error without a loaded script")
	}
}

func TestScriptErrors(t *testing.T) {
	r := NewRuntime()
	defer r.Close()

	if err := r.LoadString(`function river_name(tags) error("boom") end`); err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	if _, err := r.ResolveName(nil); err == nil {
		t.Error("expected runtime error to be returned")
	}

	if err := r.LoadString(`function river_name(tags) return 42 end`); err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	if _, err := r.ResolveName(nil); err == nil {
		t.Error("expected error for non-string result")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "names.lua")
	if err := os.WriteFile(path, []byte(script), 0644); err != nil {
		t.Fatal(err)
	}

	r, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer r.Close()

	got, err := r.ResolveName(osm.Tags{{Key: "name", Value: "Avon"}})
	if err != nil || got != "Avon" {
		t.Errorf("got %q, %v", got, err)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.lua")); err == nil {
		t.Error("expected error for missing file")
	}
}
