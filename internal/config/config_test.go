package config

import "testing"

func validAutorateConfig() *AutorateConfig {
	return DefaultAutorateConfig("wan1")
}

func TestValidateIdentifierAccepts(t *testing.T) {
	if err := ValidateIdentifier("wan1-download.v2"); err != nil {
		t.Fatalf("expected valid identifier, got %v", err)
	}
}

func TestValidateIdentifierRejectsShellMeta(t *testing.T) {
	cases := []string{"wan1; rm -rf /", "wan`id`", "wan$(whoami)", "", string(make([]byte, 65))}
	for _, c := range cases {
		if err := ValidateIdentifier(c); err == nil {
			t.Fatalf("expected identifier %q to be rejected", c)
		}
	}
}

func TestAutorateConfigValidateAcceptsDefaults(t *testing.T) {
	cfg := validAutorateConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config to validate, got %v", err)
	}
}

func TestAutorateConfigRejectsFloorOrderingViolation(t *testing.T) {
	cfg := validAutorateConfig()
	cfg.Download.FloorGreen = cfg.Download.Ceiling + 1
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected floor ordering violation to be rejected")
	}
}

func TestAutorateConfigRejectsThresholdOrderingViolation(t *testing.T) {
	cfg := validAutorateConfig()
	cfg.WarnBloatMs = cfg.TargetBloatMs
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected threshold ordering violation to be rejected")
	}
}

func TestAutorateConfigRejectsAlphaOrdering(t *testing.T) {
	cfg := validAutorateConfig()
	cfg.AlphaBaseline = cfg.AlphaLoad
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected alpha_baseline >= alpha_load to be rejected")
	}
}

func TestAutorateConfigRejectsBadIdentifier(t *testing.T) {
	cfg := validAutorateConfig()
	cfg.WANName = "wan;drop"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected bad wan_name to be rejected")
	}
}

func TestSteeringConfigRejectsBaselineAboveAbsoluteCeiling(t *testing.T) {
	cfg := DefaultSteeringConfig()
	cfg.PrimaryWAN = "wan1"
	cfg.AlternateWAN = "wan2"
	cfg.BaselineMaxMs = AbsoluteBaselineCeilingMs + 1
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected baseline_max_ms above absolute ceiling to be rejected")
	}
}

func TestSteeringConfigValidateAcceptsDefaults(t *testing.T) {
	cfg := DefaultSteeringConfig()
	cfg.PrimaryWAN = "wan1"
	cfg.AlternateWAN = "wan2"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default steering config to validate, got %v", err)
	}
}
