// Package config resolves rocky's settings from JSONC files, the
// environment and command-line overrides.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/hujson"

	"github.com/calvinalkan/rocky/internal/backup"
)

// Config holds all configuration options.
type Config struct {
	// From config files (serialized)
	DataDir        string `json:"data_dir,omitempty"`
	BackupKeep     int    `json:"backup_keep,omitempty"`
	BackupInterval string `json:"backup_interval,omitempty"`
	Listen         string `json:"listen,omitempty"`
	LogLevel       string `json:"log_level,omitempty"`

	// Resolved values (computed, not serialized)
	EffectiveCwd string        `json:"-"`
	DataDirAbs   string        `json:"-"`
	Interval     time.Duration `json:"-"`
	Level        slog.Level    `json:"-"`

	// Sources tracks which config files were loaded (for diagnostics)
	Sources Sources `json:"-"`
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global  string // Path to global config if loaded, empty otherwise
	Project string // Path to project or explicit config if loaded, empty otherwise
	Env     bool   // ROCKY_DATA_DIR was applied
}

// BackupConfig returns the backup policy.
func (c Config) BackupConfig() backup.Config {
	return backup.Config{Keep: c.BackupKeep, MinInterval: c.Interval}
}

// Defaults.
const (
	DefaultListen   = "127.0.0.1:8787"
	DefaultLogLevel = "info"
)

// FileName is the project config file name.
const FileName = ".rocky.json"

// EnvDataDir overrides data_dir from config files.
const EnvDataDir = "ROCKY_DATA_DIR"

// Default returns the default configuration. DataDir is left empty and
// resolved from the environment by [Load].
func Default() Config {
	return Config{
		BackupKeep:     backup.DefaultKeep,
		BackupInterval: backup.DefaultMinInterval.String(),
		Listen:         DefaultListen,
		LogLevel:       DefaultLogLevel,
	}
}

// globalConfigPath returns $XDG_CONFIG_HOME/rocky/config.json, else
// ~/.config/rocky/config.json, else "".
func globalConfigPath(env map[string]string) string {
	if xdg := env["XDG_CONFIG_HOME"]; xdg != "" {
		return filepath.Join(xdg, "rocky", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "rocky", "config.json")
	}

	return ""
}

// defaultDataDir returns $XDG_DATA_HOME/rocky, else ~/.local/share/rocky,
// else "".
func defaultDataDir(env map[string]string) string {
	if xdg := env["XDG_DATA_HOME"]; xdg != "" {
		return filepath.Join(xdg, "rocky")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".local", "share", "rocky")
	}

	return ""
}

// Overrides are values from command-line flags. Empty means no override.
type Overrides struct {
	DataDir  string
	Listen   string
	LogLevel string
}

// LoadInput holds the inputs for Load.
type LoadInput struct {
	WorkDir    string            // if empty, os.Getwd() is used
	ConfigPath string            // -c/--config flag value
	Env        map[string]string // environment variables
	Overrides  Overrides
}

// Load resolves configuration with the following precedence (highest wins):
// 1. Defaults
// 2. Global user config ($XDG_CONFIG_HOME/rocky/config.json or ~/.config/rocky/config.json)
// 3. Project config file (.rocky.json in the working directory, if it exists)
// 4. Explicit config file via ConfigPath (replaces 3)
// 5. ROCKY_DATA_DIR
// 6. CLI overrides.
//
// Relative data_dir values are resolved against the working directory.
func Load(input LoadInput) (Config, error) {
	workDir := input.WorkDir
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	cfg := Default()

	if globalPath := globalConfigPath(input.Env); globalPath != "" {
		globalCfg, loaded, err := loadFile(globalPath, false)
		if err != nil {
			return Config{}, err
		}

		if loaded {
			cfg.Sources.Global = globalPath
			cfg = merge(cfg, globalCfg)
		}
	}

	projectCfg, projectPath, err := loadProject(workDir, input.ConfigPath)
	if err != nil {
		return Config{}, err
	}

	cfg.Sources.Project = projectPath
	cfg = merge(cfg, projectCfg)

	if dir := input.Env[EnvDataDir]; dir != "" {
		cfg.DataDir = dir
		cfg.Sources.Env = true
	}

	cfg = merge(cfg, Config{
		DataDir:  input.Overrides.DataDir,
		Listen:   input.Overrides.Listen,
		LogLevel: input.Overrides.LogLevel,
	})

	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir(input.Env)
		if cfg.DataDir == "" {
			return Config{}, ErrDataDirUnknown
		}
	}

	err = resolve(&cfg)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}

	cfg.EffectiveCwd = workDir

	if filepath.IsAbs(cfg.DataDir) {
		cfg.DataDirAbs = filepath.Clean(cfg.DataDir)
	} else {
		cfg.DataDirAbs = filepath.Join(workDir, cfg.DataDir)
	}

	return cfg, nil
}

// loadProject loads the explicit config file, or .rocky.json from workDir.
func loadProject(workDir, configPath string) (Config, string, error) {
	if configPath == "" {
		path := filepath.Join(workDir, FileName)

		cfg, loaded, err := loadFile(path, false)
		if err != nil || !loaded {
			return Config{}, "", err
		}

		return cfg, path, nil
	}

	path := configPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(workDir, path)
	}

	_, statErr := os.Stat(path)
	if statErr != nil {
		return Config{}, "", fmt.Errorf("%w: %s", ErrConfigFileNotFound, configPath)
	}

	cfg, _, err := loadFile(path, true)
	if err != nil {
		return Config{}, "", err
	}

	return cfg, path, nil
}

// loadFile reads one config file. A missing file is not an error unless
// mustExist is set.
func loadFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !mustExist {
			return Config{}, false, nil
		}

		return Config{}, false, fmt.Errorf("%w %s: %w", ErrConfigFileRead, path, err)
	}

	cfg, err := parse(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return cfg, true, nil
}

func parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(standardized))
	dec.DisallowUnknownFields()

	var cfg Config

	err = dec.Decode(&cfg)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	// Explicit empty or zero values would be indistinguishable from "unset"
	// after merge, so reject them here.
	var raw map[string]any

	_ = json.Unmarshal(standardized, &raw)

	if v, ok := raw["data_dir"].(string); ok && v == "" {
		return Config{}, ErrDataDirEmpty
	}

	if v, ok := raw["backup_keep"].(float64); ok && v < 1 {
		return Config{}, ErrBackupKeepInvalid
	}

	return cfg, nil
}

func merge(base, overlay Config) Config {
	if overlay.DataDir != "" {
		base.DataDir = overlay.DataDir
	}

	if overlay.BackupKeep != 0 {
		base.BackupKeep = overlay.BackupKeep
	}

	if overlay.BackupInterval != "" {
		base.BackupInterval = overlay.BackupInterval
	}

	if overlay.Listen != "" {
		base.Listen = overlay.Listen
	}

	if overlay.LogLevel != "" {
		base.LogLevel = overlay.LogLevel
	}

	return base
}

// resolve validates cfg and fills the computed fields.
func resolve(cfg *Config) error {
	if cfg.BackupKeep < 1 {
		return ErrBackupKeepInvalid
	}

	interval, err := time.ParseDuration(cfg.BackupInterval)
	if err != nil || interval < backup.MinIntervalFloor {
		return fmt.Errorf("%w: %q", ErrIntervalInvalid, cfg.BackupInterval)
	}

	cfg.Interval = interval

	err = cfg.Level.UnmarshalText([]byte(cfg.LogLevel))
	if err != nil {
		return fmt.Errorf("%w: %q", ErrLogLevelInvalid, cfg.LogLevel)
	}

	return nil
}
