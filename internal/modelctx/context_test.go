package modelctx

import (
	"testing"
	"time"

	"github.com/shadow-org/shadow/pkg/models"
)

func TestProviderForModel(t *testing.T) {
	cases := map[string]models.Provider{
		"claude-opus-4-6":   models.ProviderAnthropic,
		"claude-new-future": models.ProviderAnthropic,
		"gpt-5.2":           models.ProviderOpenAI,
		"gpt-6-future":      models.ProviderOpenAI,
	}
	for model, want := range cases {
		if got := ProviderForModel(model); got != want {
			t.Fatalf("ProviderForModel(%q) = %q, want %q", model, got, want)
		}
	}
}

func TestModelForOperationUsesMiniForAuxiliaryOps(t *testing.T) {
	mc := Build("t1", "claude-opus-4-6", "", nil)
	if mc.MiniModel != "claude-haiku-4-6" {
		t.Fatalf("mini model = %q, want claude-haiku-4-6", mc.MiniModel)
	}
	if got := mc.ModelForOperation(models.OperationConversation); got != "claude-opus-4-6" {
		t.Fatalf("conversation model = %q, want main model", got)
	}
	if got := mc.ModelForOperation(models.OperationCommitMessage); got != "claude-haiku-4-6" {
		t.Fatalf("commit message model = %q, want mini model", got)
	}
}

func TestModelForOperationFallsBackToMainWhenNoMiniKnown(t *testing.T) {
	mc := Build("t1", "some-unknown-model", "", nil)
	if got := mc.ModelForOperation(models.OperationPRTitle); got != "some-unknown-model" {
		t.Fatalf("got %q, want fallback to main model", got)
	}
}

func TestCacheExpiresEntries(t *testing.T) {
	c := NewCache(10 * time.Millisecond)
	mc := Build("t1", "claude-opus-4-6", "", nil)
	c.Set("t1", mc)

	if got, ok := c.Get("t1"); !ok || got != mc {
		t.Fatal("expected cache hit immediately after set")
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("t1"); ok {
		t.Fatal("expected cache entry to expire")
	}
}

func TestCacheInvalidate(t *testing.T) {
	c := NewCache(time.Minute)
	c.Set("t1", Build("t1", "claude-opus-4-6", "", nil))
	c.Invalidate("t1")
	if _, ok := c.Get("t1"); ok {
		t.Fatal("expected entry to be gone after invalidate")
	}
}
