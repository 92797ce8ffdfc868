package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/caretd/internal/domain/session"
)

func TestMemoryStore_BasicOperations(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(ctx)
	defer store.Close()

	if count := store.Count(ctx); count != 0 {
		t.Errorf("expected count 0, got %d", count)
	}

	s := session.New("a", time.Now())
	if err := store.Put(ctx, s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Put(ctx, session.New("a", time.Now())); !errors.Is(err, ErrExists) {
		t.Errorf("expected ErrExists, got %v", err)
	}

	got, err := store.Get(ctx, "a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != s {
		t.Error("expected the stored session back")
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if _, err := store.Delete(ctx, "a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.Delete(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
	if count := store.Count(ctx); count != 0 {
		t.Errorf("expected count 0, got %d", count)
	}
}

func TestMemoryStore_Capacity(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(ctx, WithMaxSessions(2))
	defer store.Close()

	for _, id := range []string{"a", "b"} {
		if err := store.Put(ctx, session.New(id, time.Now())); err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
	}
	if err := store.Put(ctx, session.New("c", time.Now())); !errors.Is(err, ErrCapacity) {
		t.Errorf("expected ErrCapacity, got %v", err)
	}
}

func TestMemoryStore_ListOrdering(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(ctx)
	defer store.Close()

	for _, id := range []string{"c", "a", "b"} {
		_ = store.Put(ctx, session.New(id, time.Now()))
	}
	list := store.List(ctx)
	if len(list) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(list))
	}
	for i, want := range []string{"a", "b", "c"} {
		if list[i].ID() != want {
			t.Errorf("position %d: expected %s, got %s", i, want, list[i].ID())
		}
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(ctx, WithMetricsUpdateInterval(time.Millisecond))

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id := fmt.Sprintf("g%d-%d", g, i)
				_ = store.Put(ctx, session.New(id, time.Now()))
				_, _ = store.Get(ctx, id)
				_ = store.List(ctx)
			}
		}(g)
	}
	wg.Wait()

	if count := store.Count(ctx); count != 400 {
		t.Errorf("expected 400 sessions, got %d", count)
	}
	if err := store.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
	// second close is a no-op
	if err := store.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}
