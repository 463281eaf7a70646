package appconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"pkt.systems/querydesk/schema"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
// A missing file yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		if !configNotFound(err) {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.IsSet("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("state_dir", cfg.StateDir)
	v.SetDefault("persistence.backend", cfg.Persistence.Backend)
	v.SetDefault("persistence.sqlite_path", cfg.Persistence.SQLitePath)
	v.SetDefault("service.default_tab_label", cfg.Service.DefaultTabLabel)
	v.SetDefault("service.default_connection", cfg.Service.DefaultConnection)
	v.SetDefault("service.disable_history_refresh", cfg.Service.DisableHistoryRefresh)
	v.SetDefault("sql.address", cfg.SQL.Address)
	v.SetDefault("sql.default_limit", cfg.SQL.DefaultLimit)
	v.SetDefault("sql.default_format", cfg.SQL.DefaultFormat)
	v.SetDefault("sql.dial_timeout_seconds", cfg.SQL.DialTimeoutSeconds)
	v.SetDefault("sql.query_timeout_seconds", cfg.SQL.QueryTimeoutSeconds)
	v.SetDefault("http.addr", cfg.HTTP.Addr)
	v.SetDefault("http.base_path", cfg.HTTP.BasePath)
	v.SetDefault("http.default_user", cfg.HTTP.DefaultUser)
	v.SetDefault("http.hub_history", cfg.HTTP.HubHistory)
	v.SetDefault("mock.addr", cfg.Mock.Addr)
	v.SetDefault("mock.embedded", cfg.Mock.Embedded)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.max_size_mb", cfg.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", cfg.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", cfg.Logging.MaxAgeDays)
	v.SetDefault("logging.compress", cfg.Logging.Compress)
}

// configNotFound reports whether the config file is absent. An explicit
// path that does not exist surfaces as an os error rather than viper's type.
func configNotFound(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	return os.IsNotExist(err)
}

// Validate checks a loaded config for values the service cannot run with.
func Validate(cfg Config) error {
	switch strings.TrimSpace(cfg.Persistence.Backend) {
	case PersistenceFile:
		if strings.TrimSpace(cfg.StateDir) == "" {
			return fmt.Errorf("state_dir is required for persistence.backend %q", PersistenceFile)
		}
	case PersistenceSQLite:
		if strings.TrimSpace(cfg.Persistence.SQLitePath) == "" {
			return fmt.Errorf("persistence.sqlite_path is required for persistence.backend %q", PersistenceSQLite)
		}
	default:
		return fmt.Errorf("unsupported persistence.backend %q", cfg.Persistence.Backend)
	}
	if cfg.SQL.DefaultLimit < 0 {
		return fmt.Errorf("sql.default_limit must not be negative")
	}
	if _, err := schema.NormalizeOutputFormat(cfg.SQL.DefaultFormat); err != nil {
		return fmt.Errorf("sql.default_format: %w", err)
	}
	if cfg.SQL.QueryTimeoutSeconds < 0 || cfg.SQL.DialTimeoutSeconds < 0 {
		return fmt.Errorf("sql timeouts must not be negative")
	}
	if cfg.HTTP.HubHistory < 0 {
		return fmt.Errorf("http.hub_history must not be negative")
	}
	if user := strings.TrimSpace(cfg.HTTP.DefaultUser); user != "" {
		if err := schema.ValidateUserID(schema.UserID(user)); err != nil {
			return fmt.Errorf("http.default_user: %w", err)
		}
	}
	return validateBasePath(cfg.HTTP.BasePath)
}

func validateBasePath(basePath string) error {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil
	}
	if strings.Contains(basePath, "://") {
		return fmt.Errorf("http.base_path must be a path prefix, not a URL")
	}
	if strings.ContainsAny(basePath, "?#") {
		return fmt.Errorf("http.base_path must not include query or fragment")
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.StateDir = expandEnv(cfg.StateDir)
	cfg.Persistence.SQLitePath = expandEnv(cfg.Persistence.SQLitePath)
	cfg.SQL.Address = expandEnv(cfg.SQL.Address)
	cfg.Mock.Addr = expandEnv(cfg.Mock.Addr)
	cfg.Logging.File = expandEnv(cfg.Logging.File)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
