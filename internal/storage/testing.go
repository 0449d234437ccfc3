package storage

import (
	"context"
	"testing"
)

// NewTestStore opens an in-memory sqlite store with migrations applied and
// closes it when the test completes.
func NewTestStore(t testing.TB) *Store {
	t.Helper()

	s, err := OpenInMemory(context.Background())
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}
