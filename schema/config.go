package schema

import (
	"errors"
	"strings"
)

// ServiceConfig defines defaults and limits for the core service.
type ServiceConfig struct {
	DefaultRowLimit   int
	DefaultFormat     OutputFormat
	DefaultTabLabel   string
	DefaultConnection ConnectionTarget
	// DisableHistoryRefresh stops the background history fetch after executions.
	DisableHistoryRefresh bool
}

// DefaultRowLimit is the row limit used when neither request nor session sets one.
const DefaultRowLimit = 1000

// DefaultTabLabel is the label given to tabs created without one.
const DefaultTabLabel = "Untitled Query"

// NormalizeServiceConfig applies defaults and validates the config.
func NormalizeServiceConfig(cfg ServiceConfig) (ServiceConfig, error) {
	if cfg.DefaultRowLimit < 0 {
		return ServiceConfig{}, errors.New("default row limit must not be negative")
	}
	if cfg.DefaultRowLimit == 0 {
		cfg.DefaultRowLimit = DefaultRowLimit
	}
	format, err := NormalizeOutputFormat(string(cfg.DefaultFormat))
	if err != nil {
		return ServiceConfig{}, err
	}
	cfg.DefaultFormat = format
	cfg.DefaultTabLabel = strings.TrimSpace(cfg.DefaultTabLabel)
	if cfg.DefaultTabLabel == "" {
		cfg.DefaultTabLabel = DefaultTabLabel
	}
	cfg.DefaultConnection = ConnectionTarget(strings.TrimSpace(string(cfg.DefaultConnection)))
	return cfg, nil
}
