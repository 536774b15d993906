package utils

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/charmbracelet/log"
)

const appDirName = "chatserve"

// PathResolver locates config and model files for the chatserve binary
type PathResolver struct {
	executableDir string
	homeDir       string
	configDir     string
}

// NewPathResolver creates a new path resolver that determines the executable location
func NewPathResolver() (*PathResolver, error) {
	execPath, err := os.Executable()
	if err != nil {
		return nil, err
	}
	// Resolve any symlinks to get the actual binary location
	execPath, err = filepath.EvalSymlinks(execPath)
	if err != nil {
		return nil, err
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		log.Warnf("Could not determine home directory: %v", err)
		homeDir = os.TempDir()
	}

	pr := &PathResolver{
		executableDir: filepath.Dir(execPath),
		homeDir:       homeDir,
		configDir:     getConfigDir(homeDir),
	}
	log.Debugf("PathResolver initialized: execDir=%s, configDir=%s", pr.executableDir, pr.configDir)
	return pr, nil
}

// getConfigDir returns the appropriate config directory for the platform
func getConfigDir(homeDir string) string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir, ".config", appDirName)
	case "linux":
		if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
			return filepath.Join(configHome, appDirName)
		}
		return filepath.Join(homeDir, ".config", appDirName)
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, appDirName)
		}
		return filepath.Join(homeDir, "AppData", "Roaming", appDirName)
	default:
		return filepath.Join(homeDir, "."+appDirName)
	}
}

// ResolveModelPath finds a model artifact. It tries, in order:
//  1. the path as given (absolute, or relative to the working directory)
//  2. relative to the executable directory
//  3. the config directory's models/ folder
//
// When nothing exists the path as given is returned, so callers report it.
func (pr *PathResolver) ResolveModelPath(path string) string {
	for _, candidate := range pr.modelCandidates(path) {
		if stat, err := os.Stat(candidate); err == nil && !stat.IsDir() {
			log.Debugf("Found model artifact: %s", candidate)
			return candidate
		}
		log.Debugf("Model candidate not found: %s", candidate)
	}
	return path
}

func (pr *PathResolver) modelCandidates(path string) []string {
	candidates := []string{path}
	if filepath.IsAbs(path) {
		return candidates
	}
	return append(candidates,
		filepath.Join(pr.executableDir, path),
		filepath.Join(pr.configDir, "models", filepath.Base(path)),
	)
}

// GetConfigPath returns the full path for a config file
// It ensures the config directory exists and handles read-only filesystem issues
func (pr *PathResolver) GetConfigPath(filename string) (string, error) {
	configPath := filepath.Join(pr.configDir, filename)
	if pr.ensureConfigDir(pr.configDir) {
		return configPath, nil
	}

	fallbackDirs := []string{
		filepath.Join(pr.homeDir, "."+appDirName),
		filepath.Join(os.TempDir(), appDirName),
		pr.executableDir,
	}
	for _, dir := range fallbackDirs {
		if pr.ensureConfigDir(dir) {
			path := filepath.Join(dir, filename)
			log.Warnf("Using fallback config location: %s", path)
			return path, nil
		}
	}

	tempPath := filepath.Join(os.TempDir(), filename)
	log.Warnf("Using temporary config file: %s", tempPath)
	return tempPath, nil
}

// ensureConfigDir creates the directory if it doesn't exist and tests writability
func (pr *PathResolver) ensureConfigDir(dir string) bool {
	if err := WritableDir(dir); err != nil {
		log.Debugf("Cannot use config directory %s: %v", dir, err)
		return false
	}
	return true
}

// GetConfigDir returns the config directory
func (pr *PathResolver) GetConfigDir() string {
	return pr.configDir
}

// GetRuntimeInfo returns debug information about the current runtime environment
func (pr *PathResolver) GetRuntimeInfo() map[string]string {
	cwd, _ := os.Getwd()

	info := map[string]string{
		"executable_dir": pr.executableDir,
		"current_dir":    cwd,
		"config_dir":     pr.configDir,
		"os":             runtime.GOOS,
		"arch":           runtime.GOARCH,
		"go":             runtime.Version(),
	}
	for _, envVar := range []string{"XDG_CONFIG_HOME", "APPDATA"} {
		if value := os.Getenv(envVar); value != "" {
			info["env_"+strings.ToLower(envVar)] = value
		}
	}
	return info
}
