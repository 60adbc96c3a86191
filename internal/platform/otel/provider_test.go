package otel

import (
	"context"
	"strings"
	"testing"
)

func TestSetupNoopWhenEndpointEmpty(t *testing.T) {
	t.Setenv("SOROPASS_OTEL_ENDPOINT", "")
	t.Setenv("SOROPASS_OTEL_ENABLED", "")

	shutdown, err := Setup(context.Background(), "relayer-test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetupNoopWhenExplicitlyDisabled(t *testing.T) {
	t.Setenv("SOROPASS_OTEL_ENDPOINT", "http://localhost:4318")
	t.Setenv("SOROPASS_OTEL_ENABLED", "FALSE")

	shutdown, err := Setup(context.Background(), "relayer-test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("noop shutdown should not error: %v", err)
	}
}

func TestSetupCreatesProviderWhenEndpointSet(t *testing.T) {
	// Non-routable address so no export actually happens.
	t.Setenv("SOROPASS_OTEL_ENDPOINT", "http://192.0.2.1:4318")
	t.Setenv("SOROPASS_OTEL_ENABLED", "")

	shutdown, err := Setup(context.Background(), "relayer-test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestConfigSampler(t *testing.T) {
	if got := (Config{SampleRatio: 1}).sampler().Description(); got != "AlwaysOnSampler" {
		t.Fatalf("sampler(1) = %q, want AlwaysOnSampler", got)
	}
	if got := (Config{}).sampler().Description(); got != "AlwaysOnSampler" {
		t.Fatalf("sampler(0) = %q, want AlwaysOnSampler", got)
	}
	if got := (Config{SampleRatio: 0.25}).sampler().Description(); !strings.HasPrefix(got, "ParentBased{root:TraceIDRatioBased{0.25}") {
		t.Fatalf("sampler(0.25) = %q", got)
	}
}
