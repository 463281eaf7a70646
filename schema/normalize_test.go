package schema

import (
	"errors"
	"testing"
)

func TestValidateUserID(t *testing.T) {
	cases := []struct {
		name  string
		user  UserID
		valid bool
	}{
		{"simple", "alice", true},
		{"with-dots", "alice.dev", true},
		{"with-digits", "alice123", true},
		{"empty", "", false},
		{"uppercase", "Alice", false},
		{"space", "alice dev", false},
		{"trailing-space", "alice ", false},
		{"symbol", "alice@", false},
	}

	for _, tc := range cases {
		err := ValidateUserID(tc.user)
		if tc.valid && err != nil {
			t.Fatalf("case %q expected valid, got error: %v", tc.name, err)
		}
		if !tc.valid && err == nil {
			t.Fatalf("case %q expected error, got nil", tc.name)
		}
	}
}

func TestNormalizeOutputFormat(t *testing.T) {
	got, err := NormalizeOutputFormat(" CSV ")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got != FormatCSV {
		t.Fatalf("expected csv, got %q", got)
	}
	if got, err := NormalizeOutputFormat(""); err != nil || got != FormatNative {
		t.Fatalf("expected native format, got %q err=%v", got, err)
	}
	if _, err := NormalizeOutputFormat("xml"); !errors.Is(err, ErrInvalidFormat) {
		t.Fatalf("expected ErrInvalidFormat, got %v", err)
	}
}

func TestNormalizeTabLabel(t *testing.T) {
	got, err := NormalizeTabLabel("  My Query  ")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got != "My Query" {
		t.Fatalf("expected trimmed label, got %q", got)
	}
	if _, err := NormalizeTabLabel("   "); !errors.Is(err, ErrEmptyTabLabel) {
		t.Fatalf("expected ErrEmptyTabLabel, got %v", err)
	}
}

func TestNormalizeServiceConfigDefaults(t *testing.T) {
	cfg, err := NormalizeServiceConfig(ServiceConfig{})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if cfg.DefaultRowLimit != DefaultRowLimit {
		t.Fatalf("expected default limit %d, got %d", DefaultRowLimit, cfg.DefaultRowLimit)
	}
	if cfg.DefaultTabLabel != DefaultTabLabel {
		t.Fatalf("expected default label, got %q", cfg.DefaultTabLabel)
	}
	if _, err := NormalizeServiceConfig(ServiceConfig{DefaultRowLimit: -1}); err == nil {
		t.Fatalf("expected negative limit to fail")
	}
	if _, err := NormalizeServiceConfig(ServiceConfig{DefaultFormat: "xml"}); !errors.Is(err, ErrInvalidFormat) {
		t.Fatalf("expected ErrInvalidFormat, got %v", err)
	}
}
