package main

import (
	"os"
	"testing"
	"time"

	"kidstream-ingress/internal/stagepool"
)

func TestModeValueDefaultsToDevelopment(t *testing.T) {
	if got := modeValue("", ""); got != "development" {
		t.Fatalf("expected development, got %q", got)
	}
}

func TestModeValuePrefersFlagOverEnv(t *testing.T) {
	if got := modeValue("production", "development"); got != "production" {
		t.Fatalf("expected flag to win, got %q", got)
	}
}

func TestModeValueFallsBackToEnv(t *testing.T) {
	if got := modeValue("", "Production"); got != "production" {
		t.Fatalf("expected lowercased env value, got %q", got)
	}
}

func TestResolveListenAddrPrecedence(t *testing.T) {
	if got := resolveListenAddr(":9090", "development", ":7070"); got != ":9090" {
		t.Fatalf("expected flag to win, got %q", got)
	}
	if got := resolveListenAddr("", "development", ":7070"); got != ":7070" {
		t.Fatalf("expected env to win over default, got %q", got)
	}
	if got := resolveListenAddr("", "production", ""); got != ":80" {
		t.Fatalf("expected production default, got %q", got)
	}
	if got := resolveListenAddr("", "development", ""); got != ":8080" {
		t.Fatalf("expected development default, got %q", got)
	}
}

func TestResolveStorageDriverPrecedence(t *testing.T) {
	driver, err := resolveStorageDriver("postgres", "memory", "")
	if err != nil || driver != "postgres" {
		t.Fatalf("expected flag to win, got %q err=%v", driver, err)
	}

	driver, err = resolveStorageDriver("", "memory", "postgres://example")
	if err != nil || driver != "memory" {
		t.Fatalf("expected env to win over dsn inference, got %q err=%v", driver, err)
	}

	driver, err = resolveStorageDriver("", "", "postgres://example")
	if err != nil || driver != "postgres" {
		t.Fatalf("expected dsn presence to infer postgres, got %q err=%v", driver, err)
	}

	driver, err = resolveStorageDriver("", "", "")
	if err != nil || driver != "memory" {
		t.Fatalf("expected memory default, got %q err=%v", driver, err)
	}
}

func TestResolvePostgresDSNPrefersFlag(t *testing.T) {
	t.Setenv("INGRESS_POSTGRES_DSN", "postgres://from-env")
	if got := resolvePostgresDSN("postgres://from-flag"); got != "postgres://from-flag" {
		t.Fatalf("expected flag to win, got %q", got)
	}
	if got := resolvePostgresDSN(""); got != "postgres://from-env" {
		t.Fatalf("expected env fallback, got %q", got)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "  ", "value", "other"); got != "value" {
		t.Fatalf("expected first non-blank value, got %q", got)
	}
	if got := firstNonEmpty("", ""); got != "" {
		t.Fatalf("expected empty result, got %q", got)
	}
}

func TestSplitAndTrim(t *testing.T) {
	got := splitAndTrim(" https://a.example , https://b.example ,, ")
	want := []string{"https://a.example", "https://b.example"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if splitAndTrim("") != nil {
		t.Fatalf("expected nil for empty input")
	}
}

func TestResolveFloatPrefersFlagThenEnv(t *testing.T) {
	t.Setenv("TEST_RATE_RPS", "12.5")
	if got := resolveFloat(5, "TEST_RATE_RPS"); got != 5 {
		t.Fatalf("expected flag value, got %v", got)
	}
	if got := resolveFloat(0, "TEST_RATE_RPS"); got != 12.5 {
		t.Fatalf("expected env value, got %v", got)
	}
	os.Unsetenv("TEST_RATE_RPS")
	if got := resolveFloat(0, "TEST_RATE_RPS"); got != 0 {
		t.Fatalf("expected zero fallback, got %v", got)
	}
}

func TestResolveIntPrefersFlagThenEnv(t *testing.T) {
	t.Setenv("TEST_BURST", "42")
	if got := resolveInt(7, "TEST_BURST"); got != 7 {
		t.Fatalf("expected flag value, got %v", got)
	}
	if got := resolveInt(0, "TEST_BURST"); got != 42 {
		t.Fatalf("expected env value, got %v", got)
	}
}

func TestResolveDurationPrefersFlagThenEnvThenFallback(t *testing.T) {
	t.Setenv("TEST_WINDOW", "2m")
	if got := resolveDuration(30*time.Second, "TEST_WINDOW", time.Minute); got != 30*time.Second {
		t.Fatalf("expected flag value, got %v", got)
	}
	if got := resolveDuration(0, "TEST_WINDOW", time.Minute); got != 2*time.Minute {
		t.Fatalf("expected env value, got %v", got)
	}
	os.Unsetenv("TEST_WINDOW")
	if got := resolveDuration(0, "TEST_WINDOW", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback value, got %v", got)
	}
}

func TestApplyPoolOverridesOnlyOverridesNonZero(t *testing.T) {
	cfg := stagepool.DefaultConfig("us-east-1")
	applyPoolOverrides(&cfg, poolOverrides{targetPoolSize: 10})
	if cfg.TargetPoolSize != 10 {
		t.Fatalf("expected override to apply, got %d", cfg.TargetPoolSize)
	}
	if cfg.MaxPoolSize != 200 {
		t.Fatalf("expected untouched default to survive, got %d", cfg.MaxPoolSize)
	}
}
