package whatsapp

import (
	"testing"
	"time"
)

func TestSentCacheRemembersRecentIDs(t *testing.T) {
	c := NewSentCache(2 * time.Minute)
	c.Add("3EB0ABC123")
	if !c.Contains("3EB0ABC123") {
		t.Error("cache should contain a freshly added id")
	}
	if c.Contains("unknown") {
		t.Error("cache should not contain an id that was never added")
	}
}

func TestSentCacheIgnoresEmptyID(t *testing.T) {
	c := NewSentCache(0)
	c.Add("")
	if c.Contains("") {
		t.Error("empty id must never be cached")
	}
}

func TestSentCacheExpiry(t *testing.T) {
	c := NewSentCache(2 * time.Minute)
	base := time.Now()
	c.now = func() time.Time { return base }
	c.Add("msg-1")

	c.now = func() time.Time { return base.Add(time.Minute) }
	if !c.Contains("msg-1") {
		t.Error("id should still be cached before the TTL elapses")
	}

	c.now = func() time.Time { return base.Add(3 * time.Minute) }
	if c.Contains("msg-1") {
		t.Error("id should expire after the TTL elapses")
	}
}

func TestRenderNumberedPrompt(t *testing.T) {
	got := NumberedPrompt("Escolha uma opção:", []Choice{
		{ID: "yes", Label: "Sim"},
		{ID: "no", Label: "Não"},
	})
	want := "Escolha uma opção:\n1. Sim\n2. Não"
	if got != want {
		t.Errorf("NumberedPrompt() = %q, want %q", got, want)
	}
}
