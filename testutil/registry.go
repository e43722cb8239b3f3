package testutil

import (
	"testing"
	"time"

	"github.com/skosovsky/agentsy"
)

// NewTestRegistry returns a Registry with a long timeout and panic recovery enabled,
// holding the given tools. Registration failures fail the test.
func NewTestRegistry(t testing.TB, tools ...*MockTool) *agentsy.Registry {
	t.Helper()
	reg := agentsy.NewRegistry(
		agentsy.WithDefaultTimeout(30*time.Second),
		agentsy.WithRecoverPanics(true),
	)
	for _, m := range tools {
		if err := reg.RegisterTool(m.Tool()); err != nil {
			t.Fatalf("register %s: %v", m.Name(), err)
		}
	}
	return reg
}
