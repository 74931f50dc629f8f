package objectstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/midnight-ntwrk/midnight-indexer/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "objectstore-test-*")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	s, err := Open(filepath.Join(dir, "snapshots.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	digest, err := s.Put(ctx, domain.SlotA, []byte("state bytes"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := s.Get(ctx, domain.SlotA, digest)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "state bytes" {
		t.Errorf("unexpected bytes: %s", got)
	}
}

func TestGetMissingObjectErrors(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get(context.Background(), domain.SlotA, Digest{}); err == nil {
		t.Error("expected an error for a missing object")
	}
}

func TestReleaseDeletesAtZeroRefcount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	digest, err := s.Put(ctx, domain.SlotA, []byte("x"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := s.Put(ctx, domain.SlotA, []byte("x")); err != nil {
		t.Fatalf("second put: %v", err)
	}

	if err := s.Release(ctx, domain.SlotA, digest); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := s.Get(ctx, domain.SlotA, digest); err != nil {
		t.Fatalf("expected object to survive one release: %v", err)
	}

	if err := s.Release(ctx, domain.SlotA, digest); err != nil {
		t.Fatalf("second release: %v", err)
	}
	if _, err := s.Get(ctx, domain.SlotA, digest); err == nil {
		t.Error("expected object to be gone after refcount reaches zero")
	}
}

func TestActiveSlotDefaultsToA(t *testing.T) {
	s := newTestStore(t)
	active, err := s.ActiveSlot()
	if err != nil {
		t.Fatalf("active slot: %v", err)
	}
	if active != domain.SlotA {
		t.Errorf("expected default active slot A, got %s", active)
	}

	write, err := s.WriteSlot()
	if err != nil {
		t.Fatalf("write slot: %v", err)
	}
	if write != domain.SlotB {
		t.Errorf("expected write slot B, got %s", write)
	}
}

func TestSwapPublishesNewActiveSlot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Swap(ctx, domain.SlotB); err != nil {
		t.Fatalf("swap: %v", err)
	}
	active, err := s.ActiveSlot()
	if err != nil {
		t.Fatalf("active slot: %v", err)
	}
	if active != domain.SlotB {
		t.Errorf("expected active slot B after swap, got %s", active)
	}
}
