package execution

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dev-tnsq/verbex/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := OpenStore(filepath.Join(dir, "pending.db"), filepath.Join(dir, "pending.lock"))
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreSaveGetDelete(t *testing.T) {
	store := openTestStore(t)

	env := model.PendingEnvelope{
		ID:          NewPendingID(),
		Protocol:    "blend",
		Action:      "lend",
		Account:     "GABC",
		UnsignedXDR: "AAAA",
		Network:     "testnet",
	}
	if err := store.Save(env); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get(env.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.UnsignedXDR != "AAAA" || got.Protocol != "blend" || got.CreatedAt == "" {
		t.Fatalf("unexpected record %+v", got)
	}

	if err := store.Delete(env.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(env.ID); !errors.Is(err, ErrPendingNotFound) {
		t.Fatalf("expected not-found after delete, got %v", err)
	}
}

func TestStoreSaveRequiresID(t *testing.T) {
	store := openTestStore(t)
	if err := store.Save(model.PendingEnvelope{}); err == nil {
		t.Fatal("expected error for missing id")
	}
}

func TestStoreListFiltersByAccount(t *testing.T) {
	store := openTestStore(t)
	for _, account := range []string{"GAAA", "GAAA", "GBBB"} {
		env := model.PendingEnvelope{
			ID:          NewPendingID(),
			Protocol:    "soroswap",
			Action:      "swap",
			Account:     account,
			UnsignedXDR: "AAAA",
			Network:     "testnet",
		}
		if err := store.Save(env); err != nil {
			t.Fatal(err)
		}
	}

	all, err := store.List("", 10)
	if err != nil || len(all) != 3 {
		t.Fatalf("List all: %d %v", len(all), err)
	}
	mine, err := store.List("GAAA", 10)
	if err != nil || len(mine) != 2 {
		t.Fatalf("List filtered: %d %v", len(mine), err)
	}
}

func TestStoreSweepOlderThan(t *testing.T) {
	store := openTestStore(t)
	old := model.PendingEnvelope{
		ID:          NewPendingID(),
		Protocol:    "defindex",
		Action:      "deposit",
		Account:     "GCCC",
		UnsignedXDR: "AAAA",
		Network:     "testnet",
		CreatedAt:   time.Now().UTC().Add(-48 * time.Hour).Format(time.RFC3339),
	}
	fresh := old
	fresh.ID = NewPendingID()
	fresh.CreatedAt = time.Now().UTC().Format(time.RFC3339)

	if err := store.Save(old); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(fresh); err != nil {
		t.Fatal(err)
	}

	swept, err := store.SweepOlderThan(24 * time.Hour)
	if err != nil || swept != 1 {
		t.Fatalf("SweepOlderThan: %d %v", swept, err)
	}
	if _, err := store.Get(fresh.ID); err != nil {
		t.Fatalf("fresh record must survive sweep: %v", err)
	}
}
