// Package fsutil reads and writes whole documents in JSON, YAML, TOML or gob
// form. Every helper is a plain value-in/value-out call.
package fsutil

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Format identifies a document encoding.
type Format string

const (
	JSON Format = "json"
	YAML Format = "yaml"
	TOML Format = "toml"
	Gob  Format = "gob"
)

// FormatOf infers the format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return JSON, nil
	case ".yaml", ".yml":
		return YAML, nil
	case ".toml":
		return TOML, nil
	case ".gob", ".bin":
		return Gob, nil
	}
	return "", fmt.Errorf("unsupported file extension %q", filepath.Ext(path))
}

// Read decodes the file at path into a T using the format implied by its
// extension.
func Read[T any](path string) (T, error) {
	var out T

	format, err := FormatOf(path)
	if err != nil {
		return out, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return out, fmt.Errorf("read %s: %w", path, err)
	}

	if err := Decode(format, data, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", path, err)
	}
	return out, nil
}

// Write encodes v in the format implied by path's extension and writes it
// atomically, creating parent directories as needed.
func Write(path string, v any) error {
	format, err := FormatOf(path)
	if err != nil {
		return err
	}

	data, err := Encode(format, v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return os.Rename(tmp.Name(), path)
}

// Decode parses data in the given format into v.
func Decode(format Format, data []byte, v any) error {
	switch format {
	case JSON:
		return json.Unmarshal(data, v)
	case YAML:
		return yaml.Unmarshal(data, v)
	case TOML:
		return toml.Unmarshal(data, v)
	case Gob:
		return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
	}
	return fmt.Errorf("unknown format %q", format)
}

// Encode serialises v in the given format.
func Encode(format Format, v any) ([]byte, error) {
	var buf bytes.Buffer

	switch format {
	case JSON:
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return nil, err
		}
	case YAML:
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
	case TOML:
		if err := toml.NewEncoder(&buf).Encode(v); err != nil {
			return nil, err
		}
	case Gob:
		if err := gob.NewEncoder(&buf).Encode(v); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}

	return buf.Bytes(), nil
}

// ReadJSON reads a JSON object into a map.
func ReadJSON(path string) (map[string]any, error) { return readMap(path, JSON) }

// WriteJSON writes m as indented JSON.
func WriteJSON(path string, m map[string]any) error { return writeAs(path, JSON, m) }

// ReadYAML reads a YAML mapping into a map.
func ReadYAML(path string) (map[string]any, error) { return readMap(path, YAML) }

// WriteYAML writes m as YAML.
func WriteYAML(path string, m map[string]any) error { return writeAs(path, YAML, m) }

// ReadTOML reads a TOML document into a map.
func ReadTOML(path string) (map[string]any, error) { return readMap(path, TOML) }

// WriteTOML writes m as TOML.
func WriteTOML(path string, m map[string]any) error { return writeAs(path, TOML, m) }

// ReadGob decodes an opaque gob-encoded value from path.
func ReadGob[T any](path string) (T, error) {
	var out T

	data, err := os.ReadFile(path)
	if err != nil {
		return out, fmt.Errorf("read %s: %w", path, err)
	}
	if err := Decode(Gob, data, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", path, err)
	}
	return out, nil
}

// WriteGob gob-encodes v to path.
func WriteGob(path string, v any) error { return writeAs(path, Gob, v) }

func readMap(path string, format Format) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	m := map[string]any{}
	if err := Decode(format, data, &m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return m, nil
}

// writeAs writes v to path in format regardless of the path's extension.
func writeAs(path string, format Format, v any) error {
	data, err := Encode(format, v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", path, err)
	}
	return os.WriteFile(path, data, 0o644)
}
