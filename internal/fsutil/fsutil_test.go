package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

type record struct {
	Name  string  `json:"name" yaml:"name" toml:"name"`
	Count int     `json:"count" yaml:"count" toml:"count"`
	Ratio float64 `json:"ratio" yaml:"ratio" toml:"ratio"`
}

func TestReadWrite_StructAllFormats(t *testing.T) {
	dir := t.TempDir()
	want := record{Name: "seqpool", Count: 3, Ratio: 0.5}

	for _, name := range []string{"r.json", "r.yaml", "r.yml", "r.toml", "r.gob"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, "nested", name)
			if err := Write(path, want); err != nil {
				t.Fatalf("Write: %v", err)
			}

			got, err := Read[record](path)
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			if got != want {
				t.Errorf("got %+v, want %+v", got, want)
			}
		})
	}
}

func TestMapHelpers(t *testing.T) {
	dir := t.TempDir()
	m := map[string]any{"name": "seqpool", "parallelism": 4}

	tests := []struct {
		name  string
		write func(string, map[string]any) error
		read  func(string) (map[string]any, error)
	}{
		{"doc.json", WriteJSON, ReadJSON},
		{"doc.yaml", WriteYAML, ReadYAML},
		{"doc.toml", WriteTOML, ReadTOML},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name)
			if err := tt.write(path, m); err != nil {
				t.Fatalf("write: %v", err)
			}

			got, err := tt.read(path)
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if got["name"] != "seqpool" {
				t.Errorf("name = %v", got["name"])
			}
			// JSON numbers decode as float64, YAML as int, TOML as int64.
			switch n := got["parallelism"].(type) {
			case float64:
				if n != 4 {
					t.Errorf("parallelism = %v", n)
				}
			case int:
				if n != 4 {
					t.Errorf("parallelism = %v", n)
				}
			case int64:
				if n != 4 {
					t.Errorf("parallelism = %v", n)
				}
			default:
				t.Errorf("unexpected parallelism type %T", n)
			}
		})
	}
}

func TestGob(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.bin")
	want := []string{"a", "b"}

	if err := WriteGob(path, want); err != nil {
		t.Fatalf("WriteGob: %v", err)
	}
	got, err := ReadGob[[]string](path)
	if err != nil {
		t.Fatalf("ReadGob: %v", err)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("got %v", got)
	}
}

func TestFormatOf(t *testing.T) {
	if _, err := FormatOf("notes.txt"); err == nil {
		t.Error("expected an error for an unknown extension")
	}
	if f, err := FormatOf("CONFIG.YML"); err != nil || f != YAML {
		t.Errorf("FormatOf(CONFIG.YML) = %v, %v", f, err)
	}
}

func TestRead_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := Read[record](filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected an error for a missing file")
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Read[record](bad); err == nil {
		t.Error("expected a decode error")
	}
}
