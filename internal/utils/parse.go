package utils

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"
)

// LoadTOMLFile loads and parses a TOML file into the provided struct
func LoadTOMLFile(configPath string, config any) error {
	if _, err := toml.DecodeFile(configPath, config); err != nil {
		log.Warnf("TOML parsing error in config file %s: %v. Attempting partial recovery...", configPath, err)
		return err
	}
	return nil
}

// LoadYAMLFile loads and parses a YAML file into the provided struct
func LoadYAMLFile(configPath string, config any) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		log.Warnf("YAML parsing error in config file %s: %v. Attempting partial recovery...", configPath, err)
		return err
	}
	return nil
}

// ParseTOMLWithRecovery parses a TOML file into a generic map, so that valid
// sections can be kept when the typed decode failed.
func ParseTOMLWithRecovery(configPath string) (map[string]any, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	tempConfig := make(map[string]any)
	if _, err := toml.Decode(string(data), &tempConfig); err != nil {
		log.Warnf("Could not parse any valid configuration from %s: %v", configPath, err)
		return nil, err
	}
	return tempConfig, nil
}

// ParseYAMLWithRecovery is ParseTOMLWithRecovery for YAML files.
func ParseYAMLWithRecovery(configPath string) (map[string]any, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	tempConfig := make(map[string]any)
	if err := yaml.Unmarshal(data, &tempConfig); err != nil {
		log.Warnf("Could not parse any valid configuration from %s: %v", configPath, err)
		return nil, err
	}
	return tempConfig, nil
}

// ExtractSection extracts a specific section from parsed config data
func ExtractSection(data map[string]any, sectionName string) (map[string]any, bool) {
	section, ok := data[sectionName].(map[string]any)
	return section, ok
}

// ExtractInt64 safely extracts an integer value from a map.
// TOML decodes integers as int64, YAML as int.
func ExtractInt64(data map[string]any, key string) (int, bool) {
	switch val := data[key].(type) {
	case int64:
		return int(val), true
	case int:
		return val, true
	}
	return 0, false
}

// ExtractFloat64 safely extracts a float, accepting integer literals too.
func ExtractFloat64(data map[string]any, key string) (float64, bool) {
	switch val := data[key].(type) {
	case float64:
		return val, true
	case int64:
		return float64(val), true
	case int:
		return float64(val), true
	}
	return 0, false
}

// ExtractBool safely extracts a bool value from a map
func ExtractBool(data map[string]any, key string) (bool, bool) {
	if val, ok := data[key].(bool); ok {
		return val, true
	}
	return false, false
}

// ExtractString safely extracts a string value from a map
func ExtractString(data map[string]any, key string) (string, bool) {
	if val, ok := data[key].(string); ok {
		return val, true
	}
	return "", false
}

// ExtractIntSlice extracts a list of integers. Any non-integer element rejects the list.
func ExtractIntSlice(data map[string]any, key string) ([]int, bool) {
	raw, ok := data[key].([]any)
	if !ok {
		return nil, false
	}
	out := make([]int, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case int64:
			out = append(out, int(v))
		case int:
			out = append(out, v)
		default:
			return nil, false
		}
	}
	return out, true
}
