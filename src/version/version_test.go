package version

import (
	"strings"
	"testing"
)

// TestFlagEmpty fails if version.Flag is not empty. Released versions carry no
// flag.
func TestFlagEmpty(t *testing.T) {
	if len(Flag) > 0 {
		t.Fatalf("Version Flag is not empty: %s", Flag)
	}
}

func TestVersionFormat(t *testing.T) {
	if strings.Count(Version, ".") < 2 {
		t.Fatalf("Version should be semver, not %s", Version)
	}
}
