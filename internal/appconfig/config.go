package appconfig

import (
	"os"
	"path/filepath"

	"pkt.systems/querydesk/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int               `mapstructure:"config_version" yaml:"config_version"`
	StateDir      string            `mapstructure:"state_dir" yaml:"state_dir"`
	Persistence   PersistenceConfig `mapstructure:"persistence" yaml:"persistence"`
	Service       ServiceConfig     `mapstructure:"service" yaml:"service"`
	SQL           SQLConfig         `mapstructure:"sql" yaml:"sql"`
	HTTP          HTTPConfig        `mapstructure:"http" yaml:"http"`
	Mock          MockConfig        `mapstructure:"mock" yaml:"mock"`
	Logging       LoggingConfig     `mapstructure:"logging" yaml:"logging"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

const (
	// PersistenceFile stores one JSON document per user under state_dir.
	PersistenceFile = "file"
	// PersistenceSQLite stores snapshots in a SQLite database.
	PersistenceSQLite = "sqlite"
)

// PersistenceConfig selects where tab snapshots are kept.
type PersistenceConfig struct {
	Backend    string `mapstructure:"backend" yaml:"backend"`
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
}

// ServiceConfig controls core service behavior.
type ServiceConfig struct {
	DefaultTabLabel       string `mapstructure:"default_tab_label" yaml:"default_tab_label"`
	DefaultConnection     string `mapstructure:"default_connection" yaml:"default_connection"`
	DisableHistoryRefresh bool   `mapstructure:"disable_history_refresh" yaml:"disable_history_refresh"`
}

// SQLConfig configures the remote SQL service client.
type SQLConfig struct {
	Address             string `mapstructure:"address" yaml:"address"`
	DefaultLimit        int    `mapstructure:"default_limit" yaml:"default_limit"`
	DefaultFormat       string `mapstructure:"default_format" yaml:"default_format"`
	DialTimeoutSeconds  int    `mapstructure:"dial_timeout_seconds" yaml:"dial_timeout_seconds"`
	QueryTimeoutSeconds int    `mapstructure:"query_timeout_seconds" yaml:"query_timeout_seconds"`
}

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Addr        string `mapstructure:"addr" yaml:"addr"`
	BasePath    string `mapstructure:"base_path" yaml:"base_path"`
	DefaultUser string `mapstructure:"default_user" yaml:"default_user"`
	HubHistory  int    `mapstructure:"hub_history" yaml:"hub_history"`
}

// MockConfig configures the in-process mock SQL service.
type MockConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Embedded bool   `mapstructure:"embedded" yaml:"embedded"`
}

// LoggingConfig controls log output and rotation.
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	stateDir := filepath.Join(home, ".querydesk", "state")
	return Config{
		ConfigVersion: CurrentConfigVersion,
		StateDir:      stateDir,
		Persistence: PersistenceConfig{
			Backend:    PersistenceFile,
			SQLitePath: filepath.Join(stateDir, "querydesk.db"),
		},
		Service: ServiceConfig{
			DefaultTabLabel:   schema.DefaultTabLabel,
			DefaultConnection: "instances/local/databases/main",
		},
		SQL: SQLConfig{
			Address:             "127.0.0.1:27490",
			DefaultLimit:        schema.DefaultRowLimit,
			DefaultFormat:       "",
			DialTimeoutSeconds:  5,
			QueryTimeoutSeconds: 300,
		},
		HTTP: HTTPConfig{
			Addr:        ":27480",
			BasePath:    "",
			DefaultUser: "",
			HubHistory:  500,
		},
		Mock: MockConfig{
			Addr:     "127.0.0.1:27490",
			Embedded: true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       "",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".querydesk", "config.yaml"), nil
}

// ServiceConfig derives the core service configuration.
func (c Config) ServiceConfig() schema.ServiceConfig {
	return schema.ServiceConfig{
		DefaultRowLimit:       c.SQL.DefaultLimit,
		DefaultFormat:         schema.OutputFormat(c.SQL.DefaultFormat),
		DefaultTabLabel:       c.Service.DefaultTabLabel,
		DefaultConnection:     schema.ConnectionTarget(c.Service.DefaultConnection),
		DisableHistoryRefresh: c.Service.DisableHistoryRefresh,
	}
}
