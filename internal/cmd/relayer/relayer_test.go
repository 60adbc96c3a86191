package relayer

import (
	"flag"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/louisbranch/soropass/internal/platform/logging"
)

func requiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SOROPASS_RPC_URL", "http://rpc.test")
	t.Setenv("SOROPASS_FACTORY_CONTRACT_ID", "CAAQCAIBAEAQCAIBAEAQCAIBAEAQCAIBAEAQCAIBAEAQCAIBAEAQC526")
}

func TestParseConfigDefaults(t *testing.T) {
	requiredEnv(t)
	fs := flag.NewFlagSet("relayer", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != "localhost:8095" {
		t.Fatalf("http addr = %q, want localhost:8095", cfg.HTTPAddr)
	}
	if cfg.NetworkPassphrase != "Test SDF Network ; September 2015" {
		t.Fatalf("network passphrase = %q", cfg.NetworkPassphrase)
	}
	if cfg.InclusionFee != 100 || cfg.PollAttempts != 20 || cfg.PollInterval != time.Second {
		t.Fatalf("fees and polling = %d/%d/%s", cfg.InclusionFee, cfg.PollAttempts, cfg.PollInterval)
	}
	if !reflect.DeepEqual(cfg.RPOrigins, []string{"http://localhost:8095"}) {
		t.Fatalf("origins = %v", cfg.RPOrigins)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	requiredEnv(t)
	t.Setenv("SOROPASS_HTTP_ADDR", "env-addr")
	t.Setenv("SOROPASS_POLL_ATTEMPTS", "5")
	t.Setenv("SOROPASS_WEBAUTHN_RP_ORIGINS", "https://a.test,https://b.test")

	fs := flag.NewFlagSet("relayer", flag.ContinueOnError)
	args := []string{
		"-http-addr", "flag-addr",
		"-poll-interval", "250ms",
		"-rp-origins", "https://c.test, ",
		"-log-format", "json",
	}
	cfg, err := ParseConfig(fs, args)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != "flag-addr" {
		t.Fatalf("http addr = %q, want flag-addr", cfg.HTTPAddr)
	}
	if cfg.PollAttempts != 5 || cfg.PollInterval != 250*time.Millisecond {
		t.Fatalf("polling = %d/%s", cfg.PollAttempts, cfg.PollInterval)
	}
	if !reflect.DeepEqual(cfg.RPOrigins, []string{"https://c.test"}) {
		t.Fatalf("origins = %v", cfg.RPOrigins)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("log format = %q, want json", cfg.Logging.Format)
	}
}

func TestParseConfigRequiresLedgerSettings(t *testing.T) {
	t.Setenv("SOROPASS_RPC_URL", "")
	t.Setenv("SOROPASS_FACTORY_CONTRACT_ID", "")
	fs := flag.NewFlagSet("relayer", flag.ContinueOnError)
	_, err := ParseConfig(fs, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, name := range []string{"SOROPASS_RPC_URL", "SOROPASS_FACTORY_CONTRACT_ID"} {
		if !strings.Contains(err.Error(), name) {
			t.Fatalf("error %q does not name %s", err, name)
		}
	}
}

func TestBuildWiresServer(t *testing.T) {
	requiredEnv(t)
	fs := flag.NewFlagSet("relayer", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-db-path", filepath.Join(t.TempDir(), "nested", "relayer.db")})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	server, closeStore, err := build(cfg, logging.Discard())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	server.Close()
	if err := closeStore(); err != nil {
		t.Fatalf("close store: %v", err)
	}
}

func TestBuildRejectsBadFactory(t *testing.T) {
	requiredEnv(t)
	fs := flag.NewFlagSet("relayer", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-db-path", filepath.Join(t.TempDir(), "relayer.db"), "-factory-contract-id", "nope"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if _, _, err := build(cfg, logging.Discard()); err == nil {
		t.Fatal("expected error for malformed factory id")
	}
}
