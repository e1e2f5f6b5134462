package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/bundle.adjust/internal/fsutil"
)

// Format identifies a configuration file syntax.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// maxFileSize bounds configuration files read from disk.
const maxFileSize = 1 * 1024 * 1024 // 1MB

// FormatForPath picks the format from a file extension.
func FormatForPath(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("config file must have .json, .yaml, .yml or .toml extension, got %q", ext)
	}
}

// Load reads a configuration file from disk into a Block. The format
// follows the file extension.
func Load(path string) (*Block, error) {
	return LoadFS(fsutil.OSFileSystem{}, path)
}

// LoadFS is Load over fsys.
func LoadFS(fsys fsutil.FileSystem, path string) (*Block, error) {
	cleanPath := filepath.Clean(path)
	format, err := FormatForPath(cleanPath)
	if err != nil {
		return nil, err
	}
	data, err := fsutil.ReadFileLimit(fsys, cleanPath, maxFileSize)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	return Parse(data, format)
}

// Parse decodes data in the given format into a Block.
func Parse(data []byte, format Format) (*Block, error) {
	doc := make(map[string]interface{})
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	case FormatTOML:
		if _, err := toml.Decode(string(data), &doc); err != nil {
			return nil, fmt.Errorf("failed to parse config TOML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}
	return FromMap(doc)
}
