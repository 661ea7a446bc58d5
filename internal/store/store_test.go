package store

import (
	"context"
	"errors"
	"testing"

	"trade-router-go/order"
)

func testStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	o := &order.Order{
		ID:       "ord-1",
		TokenIn:  "ETH",
		TokenOut: "USDC",
		Amount:   100,
		Type:     order.TypeImmediate,
		Status:   order.StatusPending,
	}
	if err := s.Create(ctx, o); err != nil {
		t.Fatalf("create err: %v", err)
	}
	if o.CreatedAt.IsZero() || o.UpdatedAt.IsZero() {
		t.Fatalf("timestamps should be populated on create")
	}
	if err := s.Create(ctx, o); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	got, err := s.FindByID(ctx, "ord-1")
	if err != nil {
		t.Fatalf("find err: %v", err)
	}
	if got.TokenIn != "ETH" || got.Status != order.StatusPending {
		t.Fatalf("unexpected record: %+v", got)
	}

	got.Status = order.StatusRouting
	if err := s.Update(ctx, got); err != nil {
		t.Fatalf("update err: %v", err)
	}
	again, err := s.FindByID(ctx, "ord-1")
	if err != nil {
		t.Fatalf("find err: %v", err)
	}
	if again.Status != order.StatusRouting {
		t.Fatalf("expected ROUTING, got %s", again.Status)
	}

	if _, err := s.FindByID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Update(ctx, &order.Order{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on update, got %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestBadgerStore(t *testing.T) {
	s, err := OpenBadger(OpenOptions{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("open err: %v", err)
	}
	defer s.Close()
	testStore(t, s)
}

func TestMemoryStoreCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	o := &order.Order{ID: "ord-2", Status: order.StatusPending}
	if err := s.Create(ctx, o); err != nil {
		t.Fatalf("create err: %v", err)
	}
	got, _ := s.FindByID(ctx, "ord-2")
	got.Status = order.StatusFailed
	// 未调用 Update 前，存储内的记录不应被外部修改影响
	again, _ := s.FindByID(ctx, "ord-2")
	if again.Status != order.StatusPending {
		t.Fatalf("store should hand out copies")
	}
}
