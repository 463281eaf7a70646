package appconfig

import (
	"testing"

	"pkt.systems/querydesk/schema"
)

func TestDefaultConfigServiceConfig(t *testing.T) {
	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	if cfg.Persistence.Backend != PersistenceFile {
		t.Fatalf("expected file persistence by default, got %q", cfg.Persistence.Backend)
	}
	svc := cfg.ServiceConfig()
	if svc.DefaultRowLimit != schema.DefaultRowLimit || svc.DefaultTabLabel != schema.DefaultTabLabel {
		t.Fatalf("unexpected service config: %+v", svc)
	}
	if _, err := schema.NormalizeServiceConfig(svc); err != nil {
		t.Fatalf("expected default service config to be valid: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected defaults to validate: %v", err)
	}
}
