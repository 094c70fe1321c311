package txstore

import (
	"fmt"
	"testing"

	"github.com/ezshark/ezshark-go/internal/model"
)

func newTx(session string) *model.Transaction {
	return model.NewTransaction(session, "GET", "http://example.test/", "HTTP/1.1", nil)
}

func TestInsertAssignsIncreasingGID(t *testing.T) {
	s := New(10)
	tx1 := newTx("s1")
	tx2 := newTx("s1")
	g1 := s.Insert(tx1)
	g2 := s.Insert(tx2)
	if g2 <= g1 {
		t.Fatalf("expected increasing GIDs, got %d then %d", g1, g2)
	}
}

func TestGetTouchesLRUOrder(t *testing.T) {
	s := New(2)
	tx1 := newTx("s1")
	tx2 := newTx("s1")
	g1 := s.Insert(tx1)
	g2 := s.Insert(tx2)

	// touch g1 so it's more recently used than g2
	if _, ok := s.Get(g1); !ok {
		t.Fatalf("expected g1 present")
	}

	tx3 := newTx("s1")
	s.Insert(tx3) // should evict g2, the least recently touched

	if _, ok := s.Get(g1); !ok {
		t.Errorf("g1 should survive eviction")
	}
	if _, ok := s.Get(g2); ok {
		t.Errorf("g2 should have been evicted")
	}
}

func TestCapacityEviction(t *testing.T) {
	s := New(3)
	var gids []uint64
	for i := 0; i < 5; i++ {
		gids = append(gids, s.Insert(newTx("s1")))
	}
	if s.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", s.Len())
	}
	for _, gid := range gids[:2] {
		if _, ok := s.Get(gid); ok {
			t.Errorf("expected gid %d to be evicted", gid)
		}
	}
	for _, gid := range gids[2:] {
		if _, ok := s.Get(gid); !ok {
			t.Errorf("expected gid %d to survive", gid)
		}
	}
}

func TestBySessionFiltersAndOrdersOldestFirst(t *testing.T) {
	s := New(10)
	var wantOrder []uint64
	for i := 0; i < 3; i++ {
		g := s.Insert(newTx("target"))
		wantOrder = append(wantOrder, g)
		s.Insert(newTx("other"))
	}
	got := s.BySession("target")
	if len(got) != 3 {
		t.Fatalf("BySession len = %d, want 3", len(got))
	}
	for i, tx := range got {
		if tx.GID != wantOrder[i] {
			t.Errorf("BySession[%d].GID = %d, want %d", i, tx.GID, wantOrder[i])
		}
	}
}

func TestRemoveAndClear(t *testing.T) {
	s := New(10)
	g := s.Insert(newTx("s1"))
	if !s.Remove(g) {
		t.Fatalf("Remove returned false for existing gid")
	}
	if s.Remove(g) {
		t.Fatalf("Remove returned true for already-removed gid")
	}
	s.Insert(newTx("s1"))
	s.Insert(newTx("s1"))
	s.Clear()
	if s.Len() != 0 {
		t.Fatalf("Len() after Clear = %d, want 0", s.Len())
	}
}

func TestMigrateFromPreservesGIDsAndAvoidsCollisions(t *testing.T) {
	prior := New(10)
	var priorGIDs []uint64
	for i := 0; i < 4; i++ {
		priorGIDs = append(priorGIDs, prior.Insert(newTx(fmt.Sprintf("session-%d", i))))
	}

	fresh := New(10)
	freshGID := fresh.Insert(newTx("already-here"))

	fresh.MigrateFrom(prior)

	if _, ok := fresh.Get(freshGID); !ok {
		t.Errorf("expected pre-existing entry to survive migration")
	}
	for _, gid := range priorGIDs {
		if _, ok := fresh.Get(gid); !ok {
			t.Errorf("expected migrated gid %d to be present", gid)
		}
	}

	nextGID := fresh.Insert(newTx("post-migration"))
	for _, gid := range append(priorGIDs, freshGID) {
		if nextGID == gid {
			t.Fatalf("post-migration insert collided with gid %d", gid)
		}
	}
}
