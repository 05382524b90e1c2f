package testsupport

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"deepscan/internal/config"
	"deepscan/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewJob inserts a queued job for mediaRef and returns it.
func NewJob(t testing.TB, st *store.Store, mediaRef string) *store.Job {
	t.Helper()

	job := &store.Job{ID: uuid.NewString(), MediaRef: mediaRef, MaxRetries: 3}
	if err := st.UpsertJob(context.Background(), job); err != nil {
		t.Fatalf("store.UpsertJob: %v", err)
	}
	return job
}
