package testutil

import (
	"testing"

	"github.com/testcontainers/testcontainers-go"
)

// RequireDocker skips t in -short mode or when no container runtime is
// reachable.
func RequireDocker(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
}
