package useragent

import (
	"slices"
	"strings"
	"testing"
)

func TestRandomIsDesktop(t *testing.T) {
	t.Parallel()

	for i := 0; i < 100; i++ {
		ua := Random()
		if !slices.Contains(All(), ua) {
			t.Fatalf("unexpected user agent %q", ua)
		}
		if strings.Contains(ua, "Mobile") {
			t.Fatalf("expected desktop user agent, got %q", ua)
		}
	}
}

func TestOrPrefersConfigured(t *testing.T) {
	t.Parallel()

	if got := Or("harvester-test/1.0"); got != "harvester-test/1.0" {
		t.Fatalf("Or() = %q", got)
	}
	if got := Or(""); got == "" {
		t.Fatal("expected a random user agent")
	}
}
