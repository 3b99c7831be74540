// +build !unit

package version

import "testing"

// TestFlagEmpty fails if version.Flag is not empty. Enforces an empty flag on
// the master branch, to differentiate dev code from production code.
func TestFlagEmpty(t *testing.T) {
	if len(Flag) > 0 {
		t.Fatalf("Version Flag is not empty: %s", Flag)
	}
}
