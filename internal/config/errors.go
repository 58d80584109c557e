package config

import "errors"

// Error variables for configuration loading.
var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
	ErrConfigInvalid      = errors.New("invalid config")
	ErrDataDirEmpty       = errors.New("data_dir cannot be empty")
	ErrDataDirUnknown     = errors.New("cannot determine data directory: set data_dir, ROCKY_DATA_DIR or HOME")
	ErrBackupKeepInvalid  = errors.New("backup_keep must be at least 1")
	ErrIntervalInvalid    = errors.New("backup_interval must be a duration of at least 1s")
	ErrLogLevelInvalid    = errors.New("log_level must be one of debug, info, warn, error")
)
