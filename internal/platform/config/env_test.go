package config

import (
	"strings"
	"testing"
)

type envTestConfig struct {
	PollAttempts int `env:"SOROPASS_TEST_POLL_ATTEMPTS" envDefault:"20"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg envTestConfig

	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.PollAttempts != 20 {
		t.Fatalf("expected default poll attempts 20, got %d", cfg.PollAttempts)
	}
}

func TestParseEnvError(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("SOROPASS_TEST_POLL_ATTEMPTS", "not-an-int")

	err := ParseEnv(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestRequireValuesListsMissingSorted(t *testing.T) {
	err := RequireValues(map[string]string{
		"SOROPASS_RPC_URL":             " ",
		"SOROPASS_FACTORY_CONTRACT_ID": "",
		"SOROPASS_NETWORK_PASSPHRASE":  "Test SDF Network ; September 2015",
	})
	if err == nil {
		t.Fatal("expected error")
	}
	want := "missing required settings: SOROPASS_FACTORY_CONTRACT_ID, SOROPASS_RPC_URL"
	if err.Error() != want {
		t.Fatalf("error = %q, want %q", err.Error(), want)
	}
}

func TestRequireValuesAcceptsPresent(t *testing.T) {
	if err := RequireValues(map[string]string{"SOROPASS_RPC_URL": "http://localhost:8000"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
