package config

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default("colinas")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Deployment.Name != "colinas" {
		t.Fatalf("expected name colinas, got %s", cfg.Deployment.Name)
	}
	if cfg.BiometricTolerance() != 15*time.Minute {
		t.Fatalf("expected 15m tolerance, got %s", cfg.BiometricTolerance())
	}
	if cfg.AppStartWindow() != 30*time.Minute {
		t.Fatalf("expected 30m app window, got %s", cfg.AppStartWindow())
	}
	if cfg.Roles.Guard != "guardia" {
		t.Fatalf("expected guard role guardia, got %s", cfg.Roles.Guard)
	}
	if !cfg.IsSupervisory("supervisor") {
		t.Fatal("expected supervisor to be supervisory")
	}
	if cfg.IsSupervisory("guardia") {
		t.Fatal("guardia must not be supervisory")
	}
}

func TestValidateRejectsBadWindows(t *testing.T) {
	cfg := Default("x")
	cfg.Windows.BiometricToleranceMinutes = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero tolerance")
	}
	cfg = Default("x")
	cfg.Windows.AppStartMinutes = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for negative app window")
	}
}

func TestFromYAMLValidates(t *testing.T) {
	_, err := FromYAML([]byte("deployment:\n  name: ''\n"))
	if err == nil {
		t.Fatal("expected error for missing name")
	}
	cfg, err := FromYAML([]byte(GenerateDefault("torres")))
	if err != nil {
		t.Fatalf("default yaml should validate: %v", err)
	}
	if cfg.Deployment.Name != "torres" {
		t.Fatalf("expected torres, got %s", cfg.Deployment.Name)
	}
}
