package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Loop.Period != time.Second {
		t.Errorf("loop.period = %v, want 1s", cfg.Loop.Period)
	}
	if cfg.Actuator.EngageHold != 2*time.Second {
		t.Errorf("actuator.engage_hold = %v, want 2s", cfg.Actuator.EngageHold)
	}
	if cfg.Actuator.StepPulse != 220*time.Millisecond {
		t.Errorf("actuator.step_pulse = %v, want 220ms", cfg.Actuator.StepPulse)
	}
	if cfg.Link.MaxAttempts != 3 {
		t.Errorf("link.max_attempts = %d, want 3", cfg.Link.MaxAttempts)
	}
	if cfg.Hardware.Backend != "sim" {
		t.Errorf("hardware.backend = %q, want sim", cfg.Hardware.Backend)
	}
	if cfg.Link.HasIdentity() {
		t.Error("default config should not carry a network identity")
	}
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gripd.yaml")
	content := `
device:
  id: gripper-7
link:
  backend: static
  ssid: workshop
actuator:
  pressure_ceiling: 60
storage:
  backend: none
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("GRIP_LINK_SECRET", "hunter2")
	t.Setenv("GRIP_LOOP_PERIOD", "500ms")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Device.ID != "gripper-7" {
		t.Errorf("device.id = %q", cfg.Device.ID)
	}
	if cfg.Link.SSID != "workshop" || cfg.Link.Secret != "hunter2" {
		t.Errorf("link identity = %q/%q", cfg.Link.SSID, cfg.Link.Secret)
	}
	if cfg.Loop.Period != 500*time.Millisecond {
		t.Errorf("loop.period = %v, want 500ms", cfg.Loop.Period)
	}
	if cfg.Actuator.PressureCeiling != 60 {
		t.Errorf("pressure_ceiling = %d, want 60", cfg.Actuator.PressureCeiling)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}

	cfg.Actuator.PressureCeiling = 0
	cfg.Hardware.Backend = "modbus"
	cfg.Link.Backend = "carrier-pigeon"

	err = cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"pressure_ceiling", "hardware.profile", "carrier-pigeon"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestValidate_PublishTimeout(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}

	for _, timeout := range []time.Duration{0, -time.Second} {
		cfg.Telemetry.PublishTimeout = timeout
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), "publish_timeout") {
			t.Errorf("PublishTimeout %v: error = %v", timeout, err)
		}
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	db := DatabaseConfig{Host: "db", Port: 5432, Database: "gripper", User: "u", Password: "p"}
	want := "postgres://u:p@db:5432/gripper?sslmode=disable"
	if got := db.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
