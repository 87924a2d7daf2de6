package cache_test

import (
	"testing"

	"github.com/Strob0t/ReelForge/internal/port/cache"
)

func TestKey(t *testing.T) {
	if got := cache.Key("run", "abc-123"); got != "run.abc-123" {
		t.Fatalf("Key = %q", got)
	}
	if got := cache.Key("single"); got != "single" {
		t.Fatalf("Key = %q", got)
	}
}
