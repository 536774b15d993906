package utils

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// FileExists reports whether path can be stat'ed.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsYAMLPath reports whether path names a YAML file.
func IsYAMLPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// WriteConfigFile encodes data as YAML or TOML, picked by extension.
// The file is replaced only after encoding succeeded.
func WriteConfigFile(data any, path string) error {
	var buf bytes.Buffer
	if IsYAMLPath(path) {
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return fmt.Errorf("encoding %s: %w", path, err)
		}
		if err := enc.Close(); err != nil {
			return err
		}
	} else if err := toml.NewEncoder(&buf).Encode(data); err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// AbsPath returns path as an absolute path for display, "unknown" when empty.
func AbsPath(path string) string {
	if path == "" {
		return "unknown"
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

// WritableDir creates dir when missing and checks a file can be created in it.
func WritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".write_test")
	if err != nil {
		return fmt.Errorf("%s is not writable: %w", dir, err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
