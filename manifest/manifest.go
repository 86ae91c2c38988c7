// Package manifest reads desired-state documents. A document is a flat map
// of fields plus an optional "status" key, written as JSON, JSONC (JSON with
// comments and trailing commas), YAML or TOML.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"virtops"
)

// Format is a document encoding.
type Format string

const (
	JSON  Format = "json"
	JSONC Format = "jsonc"
	YAML  Format = "yaml"
	TOML  Format = "toml"
)

// Extensions lists the file extensions ReadFile understands.
var Extensions = []string{".json", ".jsonc", ".yaml", ".yml", ".toml"}

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return JSON, nil
	case ".jsonc":
		return JSONC, nil
	case ".yaml", ".yml":
		return YAML, nil
	case ".toml":
		return TOML, nil
	default:
		return "", fmt.Errorf("%s: unsupported document extension %q", path, filepath.Ext(path))
	}
}

// ReadFile reads and decodes the document at path.
func ReadFile(path string) (*virtops.Record, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	rec, err := Decode(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rec, nil
}

// Decode parses data into a record. Numbers come out as float64 whatever the
// source format, so records compare equal across formats.
func Decode(data []byte, format Format) (*virtops.Record, error) {
	var doc map[string]any
	switch format {
	case JSON, JSONC:
		if format == JSONC {
			data = jsonc.ToJSON(data)
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", format, err)
		}
	case YAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	case TOML:
		if _, err := toml.Decode(string(data), &doc); err != nil {
			return nil, fmt.Errorf("decode toml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported document format %q", format)
	}
	if doc == nil {
		return nil, fmt.Errorf("document is empty")
	}

	// The round trip through JSON normalizes numbers and nested maps and
	// validates the status.
	buf, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("normalize document: %w", err)
	}
	var rec virtops.Record
	if err := json.Unmarshal(buf, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Encode renders rec in format. JSONC is written as plain JSON.
func Encode(rec *virtops.Record, format Format) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	switch format {
	case JSON, JSONC:
		var out bytes.Buffer
		if err := json.Indent(&out, data, "", "  "); err != nil {
			return nil, err
		}
		out.WriteByte('\n')
		return out.Bytes(), nil
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	switch format {
	case YAML:
		return yaml.Marshal(doc)
	case TOML:
		var out bytes.Buffer
		if err := toml.NewEncoder(&out).Encode(doc); err != nil {
			return nil, fmt.Errorf("encode toml: %w", err)
		}
		return out.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported document format %q", format)
	}
}
