package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.MaxAttempts != 3 {
		t.Errorf("expected default max attempts 3, got %d", cfg.MaxAttempts)
	}
	if cfg.EvalMinScore != 3 {
		t.Errorf("expected default eval min score 3, got %d", cfg.EvalMinScore)
	}
	if cfg.SearchTopK != 5 {
		t.Errorf("expected default search top k 5, got %d", cfg.SearchTopK)
	}
	if cfg.SnippetByteBudget != 2048 {
		t.Errorf("expected default snippet budget 2048, got %d", cfg.SnippetByteBudget)
	}
	if cfg.SearchDeadline != 10*time.Second {
		t.Errorf("expected default search deadline 10s, got %s", cfg.SearchDeadline)
	}
	if cfg.OverallRunDeadline != 90*time.Second {
		t.Errorf("expected default run deadline 90s, got %s", cfg.OverallRunDeadline)
	}
	if len(cfg.TriggerPhrases) == 0 {
		t.Error("expected default trigger phrases")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MAX_ATTEMPTS", "5")
	t.Setenv("SEARCH_DEADLINE", "2s")
	t.Setenv("TRIGGER_PHRASES", "let me dig in, hold on a sec")
	t.Setenv("REQUIRE_GROUNDING", "false")

	cfg := Load()

	if cfg.MaxAttempts != 5 {
		t.Errorf("expected max attempts 5, got %d", cfg.MaxAttempts)
	}
	if cfg.SearchDeadline != 2*time.Second {
		t.Errorf("expected search deadline 2s, got %s", cfg.SearchDeadline)
	}
	if len(cfg.TriggerPhrases) != 2 || cfg.TriggerPhrases[0] != "let me dig in" {
		t.Errorf("unexpected trigger phrases: %v", cfg.TriggerPhrases)
	}
	if cfg.RequireGrounding {
		t.Error("expected grounding disabled")
	}
}

func TestGetEnvAsListDropsEmptyEntries(t *testing.T) {
	t.Setenv("TRIGGER_PHRASES", "a,, b ,")

	cfg := Load()
	if len(cfg.TriggerPhrases) != 2 || cfg.TriggerPhrases[1] != "b" {
		t.Errorf("unexpected trigger phrases: %v", cfg.TriggerPhrases)
	}
}
