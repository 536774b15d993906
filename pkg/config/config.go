/*
Package config manages the TOML (or YAML) config for chatserve.

A missing config file is created with defaults. A malformed one is recovered
section by section, keeping every value that still parses.
*/
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bastiangx/chatserve/internal/logger"
	"github.com/bastiangx/chatserve/internal/utils"
	"github.com/bastiangx/chatserve/pkg/corpus"
	"github.com/bastiangx/chatserve/pkg/suggest"
	"github.com/charmbracelet/log"
)

// DefaultFileName is the config file created in the user config dir.
const DefaultFileName = "config.toml"

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds the entire config structure
type Config struct {
	Model  ModelConfig  `toml:"model" yaml:"model"`
	Search SearchConfig `toml:"search" yaml:"search"`
	Server ServerConfig `toml:"server" yaml:"server"`
	Train  TrainConfig  `toml:"train" yaml:"train"`
	Log    LogConfig    `toml:"log" yaml:"log"`
}

// ModelConfig has the n-gram model options.
type ModelConfig struct {
	MaxOrder         int     `toml:"max_order" yaml:"max_order"`
	FloorProbability float64 `toml:"floor_probability" yaml:"floor_probability"`
	// Path is where train writes the artifact and serve reads it.
	Path string `toml:"path" yaml:"path"`
}

// SearchConfig bounds the completion search.
type SearchConfig struct {
	BeamWidth           int  `toml:"beam_width" yaml:"beam_width"`
	MaxCompletionLength int  `toml:"max_completion_length" yaml:"max_completion_length"`
	StepBudget          int  `toml:"step_budget" yaml:"step_budget"`
	SpellCorrect        bool `toml:"spell_correct" yaml:"spell_correct"`
	CacheSize           int  `toml:"cache_size" yaml:"cache_size"`
}

// ServerConfig has HTTP and IPC options.
type ServerConfig struct {
	Host         string `toml:"host" yaml:"host"`
	Port         int    `toml:"port" yaml:"port"`
	DefaultLimit int    `toml:"default_limit" yaml:"default_limit"`
	MaxLimit     int    `toml:"max_limit" yaml:"max_limit"`
	MaxQueryLen  int    `toml:"max_query_len" yaml:"max_query_len"`
}

// TrainConfig selects the training corpus.
type TrainConfig struct {
	Corpus          string `toml:"corpus" yaml:"corpus"`
	CompanyGroupIDs []int  `toml:"company_group_ids" yaml:"company_group_ids"`
	IncludeCustomer bool   `toml:"include_customer" yaml:"include_customer"`
}

// LogConfig holds logger options. Debug is set from the command line only.
type LogConfig struct {
	Format    string `toml:"format" yaml:"format"`
	Timestamp bool   `toml:"timestamp" yaml:"timestamp"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	search := suggest.DefaultOptions()
	return &Config{
		Model: ModelConfig{
			MaxOrder:         3,
			FloorProbability: 1e-6,
			Path:             filepath.Join("data", "model.msgpack"),
		},
		Search: SearchConfig{
			BeamWidth:           search.BeamWidth,
			MaxCompletionLength: search.MaxCompletionLength,
			StepBudget:          search.StepBudget,
			SpellCorrect:        search.SpellCorrect,
			CacheSize:           search.CacheSize,
		},
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         8080,
			DefaultLimit: 2,
			MaxLimit:     16,
			MaxQueryLen:  256,
		},
		Train: TrainConfig{
			Corpus:          filepath.Join("data", "sample_conversations.json"),
			CompanyGroupIDs: []int{},
		},
		Log: LogConfig{
			Format:    "text",
			Timestamp: true,
		},
	}
}

// LoadConfigWithPriority loads config with priority:
// 1. Custom path from --config flag
// 2. Default path: [UserConfigDir]/chatserve/config.toml
// 3. Builtin defaults
func LoadConfigWithPriority(customConfigPath string) (*Config, string, error) {
	if customConfigPath != "" {
		if utils.FileExists(customConfigPath) {
			config, err := LoadConfig(customConfigPath)
			if err == nil {
				log.Debugf("Loaded config from custom path: %s", customConfigPath)
				return config, customConfigPath, nil
			}
			log.Warnf("Failed to load custom config from %s: %v. Trying default path...", customConfigPath, err)
		} else {
			log.Warnf("Custom config file not found at %s. Trying default path...", customConfigPath)
		}
	}

	resolver, err := utils.NewPathResolver()
	if err != nil {
		log.Warnf("Failed to resolve config dir: %v. Using built-in defaults...", err)
		return DefaultConfig(), "", nil
	}
	defaultPath, err := resolver.GetConfigPath(DefaultFileName)
	if err != nil {
		log.Warnf("Failed to determine default config path: %v. Using built-in defaults...", err)
		return DefaultConfig(), "", nil
	}

	config, err := InitConfig(defaultPath)
	if err != nil {
		log.Warnf("Failed to load/create config at default path %s: %v. Using builtin defaults...", defaultPath, err)
		return DefaultConfig(), "", nil
	}
	log.Debugf("Loaded config from default path: %s", defaultPath)
	return config, defaultPath, nil
}

// InitConfig loads config from file or creates default if missing
func InitConfig(configPath string) (*Config, error) {
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		log.Warnf("Failed to create config directory %s: %v. Using built-in defaults...", configDir, err)
		return DefaultConfig(), nil
	}

	if !utils.FileExists(configPath) {
		config := DefaultConfig()
		if err := SaveConfig(config, configPath); err != nil {
			log.Warnf("Failed to create default config file at %s: %v. Using built-in defaults...", configPath, err)
			return DefaultConfig(), nil
		}
		log.Debugf("Created default config file at: %s", configPath)
		return config, nil
	}
	return LoadConfig(configPath)
}

// LoadConfig loads a config file. Files ending in .yaml or .yml are read as
// YAML, everything else as TOML. Missing keys keep their defaults.
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	load := utils.LoadTOMLFile
	if utils.IsYAMLPath(configPath) {
		load = utils.LoadYAMLFile
	}
	if err := load(configPath, config); err != nil {
		if !utils.FileExists(configPath) {
			return nil, err
		}
		return tryPartialParse(configPath)
	}
	return config, nil
}

// tryPartialParse keeps every section value that still has the right type.
func tryPartialParse(configPath string) (*Config, error) {
	config := DefaultConfig()

	parse := utils.ParseTOMLWithRecovery
	if utils.IsYAMLPath(configPath) {
		parse = utils.ParseYAMLWithRecovery
	}
	tempConfig, err := parse(configPath)
	if err != nil {
		log.Warnf("Could not parse any valid configuration from %s: %v. Using all defaults.", configPath, err)
		return config, nil
	}

	if section, ok := utils.ExtractSection(tempConfig, "model"); ok {
		extractModelConfig(section, &config.Model)
	}
	if section, ok := utils.ExtractSection(tempConfig, "search"); ok {
		extractSearchConfig(section, &config.Search)
	}
	if section, ok := utils.ExtractSection(tempConfig, "server"); ok {
		extractServerConfig(section, &config.Server)
	}
	if section, ok := utils.ExtractSection(tempConfig, "train"); ok {
		extractTrainConfig(section, &config.Train)
	}
	if section, ok := utils.ExtractSection(tempConfig, "log"); ok {
		extractLogConfig(section, &config.Log)
	}
	return config, nil
}

func extractModelConfig(data map[string]any, model *ModelConfig) {
	if val, ok := utils.ExtractInt64(data, "max_order"); ok {
		model.MaxOrder = val
	}
	if val, ok := utils.ExtractFloat64(data, "floor_probability"); ok {
		model.FloorProbability = val
	}
	if val, ok := utils.ExtractString(data, "path"); ok {
		model.Path = val
	}
}

func extractSearchConfig(data map[string]any, search *SearchConfig) {
	if val, ok := utils.ExtractInt64(data, "beam_width"); ok {
		search.BeamWidth = val
	}
	if val, ok := utils.ExtractInt64(data, "max_completion_length"); ok {
		search.MaxCompletionLength = val
	}
	if val, ok := utils.ExtractInt64(data, "step_budget"); ok {
		search.StepBudget = val
	}
	if val, ok := utils.ExtractBool(data, "spell_correct"); ok {
		search.SpellCorrect = val
	}
	if val, ok := utils.ExtractInt64(data, "cache_size"); ok {
		search.CacheSize = val
	}
}

func extractServerConfig(data map[string]any, server *ServerConfig) {
	if val, ok := utils.ExtractString(data, "host"); ok {
		server.Host = val
	}
	if val, ok := utils.ExtractInt64(data, "port"); ok {
		server.Port = val
	}
	if val, ok := utils.ExtractInt64(data, "default_limit"); ok {
		server.DefaultLimit = val
	}
	if val, ok := utils.ExtractInt64(data, "max_limit"); ok {
		server.MaxLimit = val
	}
	if val, ok := utils.ExtractInt64(data, "max_query_len"); ok {
		server.MaxQueryLen = val
	}
}

func extractTrainConfig(data map[string]any, train *TrainConfig) {
	if val, ok := utils.ExtractString(data, "corpus"); ok {
		train.Corpus = val
	}
	if val, ok := utils.ExtractIntSlice(data, "company_group_ids"); ok {
		train.CompanyGroupIDs = val
	}
	if val, ok := utils.ExtractBool(data, "include_customer"); ok {
		train.IncludeCustomer = val
	}
}

func extractLogConfig(data map[string]any, l *LogConfig) {
	if val, ok := utils.ExtractString(data, "format"); ok {
		l.Format = val
	}
	if val, ok := utils.ExtractBool(data, "timestamp"); ok {
		l.Timestamp = val
	}
}

// Validate checks every value range and reports all problems at once.
func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(c.Model.MaxOrder >= 1, "model.max_order must be >= 1, got %d", c.Model.MaxOrder)
	check(c.Model.FloorProbability > 0 && c.Model.FloorProbability < 1,
		"model.floor_probability must be in (0, 1), got %g", c.Model.FloorProbability)
	check(c.Search.BeamWidth >= 1, "search.beam_width must be >= 1, got %d", c.Search.BeamWidth)
	check(c.Search.MaxCompletionLength >= 1,
		"search.max_completion_length must be >= 1, got %d", c.Search.MaxCompletionLength)
	check(c.Search.StepBudget >= 1, "search.step_budget must be >= 1, got %d", c.Search.StepBudget)
	check(c.Search.CacheSize >= 0, "search.cache_size must be >= 0, got %d", c.Search.CacheSize)
	check(c.Server.Port >= 1 && c.Server.Port <= 65535, "server.port must be in 1..65535, got %d", c.Server.Port)
	check(c.Server.MaxLimit >= 1, "server.max_limit must be >= 1, got %d", c.Server.MaxLimit)
	check(c.Server.DefaultLimit >= 1 && c.Server.DefaultLimit <= c.Server.MaxLimit,
		"server.default_limit must be in 1..max_limit, got %d", c.Server.DefaultLimit)
	check(c.Server.MaxQueryLen >= 1, "server.max_query_len must be >= 1, got %d", c.Server.MaxQueryLen)
	if _, err := logger.ParseFormat(c.Log.Format); err != nil {
		problems = append(problems, "log."+err.Error())
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// SearchOptions converts the search section for suggest.NewEngine.
func (c *Config) SearchOptions() suggest.Options {
	return suggest.Options{
		BeamWidth:           c.Search.BeamWidth,
		MaxCompletionLength: c.Search.MaxCompletionLength,
		StepBudget:          c.Search.StepBudget,
		SpellCorrect:        c.Search.SpellCorrect,
		CacheSize:           c.Search.CacheSize,
	}
}

// CorpusFilter converts the train section for corpus.LoadMessages.
func (c *Config) CorpusFilter() corpus.Filter {
	return corpus.Filter{
		CompanyGroupIDs: c.Train.CompanyGroupIDs,
		IncludeCustomer: c.Train.IncludeCustomer,
	}
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// GetActiveConfigPath returns the absolute path of loaded config file
func GetActiveConfigPath(configPath string) string {
	return utils.AbsPath(configPath)
}

// SaveConfig writes config in the format implied by the file extension.
func SaveConfig(config *Config, configPath string) error {
	return utils.WriteConfigFile(config, configPath)
}
