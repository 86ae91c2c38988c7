package fake

import (
	"context"
	"testing"

	"github.com/containerd/errdefs"

	"virtops"
)

func TestStore_GetStatesUsesMatchRule(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	id := virtops.Identity{Kind: "veth", Name: "v0"}

	cur, des, err := s.GetStates(ctx, id)
	if err != nil || cur != nil || des != nil {
		t.Fatalf("empty store GetStates() = %v, %v, %v", cur, des, err)
	}

	desired := virtops.MustRecord(virtops.StatusActive, virtops.Fields{"mtu": 1500})
	if err := s.SetDesired(ctx, id, desired); err != nil {
		t.Fatal(err)
	}
	if _, des, _ := s.GetStates(ctx, id); des == nil {
		t.Fatal("expected work once desired is set")
	}

	if err := s.SetCurrent(ctx, id, desired.With("ifindex", 4)); err != nil {
		t.Fatal(err)
	}
	cur, des, _ = s.GetStates(ctx, id)
	if cur != nil || des != nil {
		t.Fatalf("matching states should report no work, got %v, %v", cur, des)
	}
}

func TestStore_LockConflicts(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	id := virtops.Identity{Kind: "veth", Name: "v0"}

	unlock, err := s.Lock(ctx, id)
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	if _, err := s.Lock(ctx, id); !errdefs.IsConflict(err) {
		t.Fatalf("second Lock() error = %v, want conflict", err)
	}
	unlock()
	if _, err := s.Lock(ctx, id); err != nil {
		t.Fatalf("Lock() after unlock error = %v", err)
	}
}
