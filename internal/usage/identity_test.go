package usage

import (
	"os"
	"testing"
)

func TestDetectRunnerFromRunBy(t *testing.T) {
	t.Setenv("REVERIE_RUN_BY", "nightly-cron")
	got := detectRunnerUncached()
	if got != "nightly-cron" {
		t.Errorf("expected nightly-cron, got %s", got)
	}
}

func TestDetectRunnerFromUser(t *testing.T) {
	_ = os.Unsetenv("REVERIE_RUN_BY")
	t.Setenv("REVERIE_USER", "adaline")
	got := detectRunnerUncached()
	if got != "adaline" {
		t.Errorf("expected adaline, got %s", got)
	}
}

func TestDetectRunnerFallback(t *testing.T) {
	_ = os.Unsetenv("REVERIE_RUN_BY")
	_ = os.Unsetenv("REVERIE_USER")
	got := detectRunnerUncached()
	// Should be either a real OS user or "unknown", never empty
	if got == "" {
		t.Error("expected non-empty result")
	}
}
