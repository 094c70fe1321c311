package searchhistory

import "testing"

func TestStoreRecordAndOrder(t *testing.T) {
	s := New(10)

	it1 := s.Record("  foo  ", "sess-1")
	if it1.Query != "foo" {
		t.Fatalf("expected normalized query 'foo', got %q", it1.Query)
	}
	if it1.Count != 1 || it1.Pinned {
		t.Fatalf("unexpected item after first record: %#v", it1)
	}

	it2 := s.Record("bar", "sess-1")

	all := s.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 items, got %d", len(all))
	}
	if all[0].ID != it2.ID || all[1].ID != it1.ID {
		t.Fatalf("unexpected order: got [%s,%s]", all[0].ID, all[1].ID)
	}
}

func TestStoreRecordDedupesByQueryAndSession(t *testing.T) {
	s := New(10)

	it1 := s.Record("foo", "sess-1")
	it2 := s.Record("foo", "sess-1")

	if it1.ID != it2.ID {
		t.Fatalf("expected same ID for duplicate query, got %s and %s", it1.ID, it2.ID)
	}
	if it2.Count != 2 {
		t.Fatalf("expected Count=2 after duplicate search, got %d", it2.Count)
	}
}

func TestStoreRecordCapacityEvictsOldest(t *testing.T) {
	s := New(3)

	for i := 0; i < 4; i++ {
		q := string(rune('a' + i))
		s.Record(q, "sess-1")
	}

	all := s.All()
	if len(all) != 3 {
		t.Fatalf("expected 3 items due to capacity, got %d", len(all))
	}
	for _, it := range all {
		if it.Query == "a" {
			t.Fatalf("expected query 'a' to be evicted due to capacity")
		}
	}
}

func TestStoreRecordEmptyIgnored(t *testing.T) {
	s := New(10)

	empty := s.Record("   ", "sess-1")
	if (empty != Item{}) {
		t.Fatalf("expected zero Item for whitespace query, got %#v", empty)
	}
	if got := s.All(); len(got) != 0 {
		t.Fatalf("expected no items, got %d", len(got))
	}
}

func TestStorePin(t *testing.T) {
	s := New(10)
	it := s.Record("foo", "sess-1")

	if !s.Pin(it.ID, true) {
		t.Fatalf("expected Pin to find item %s", it.ID)
	}
	all := s.All()
	if !all[0].Pinned {
		t.Fatalf("expected pinned item, got %#v", all[0])
	}

	if s.Pin("no-such-id", true) {
		t.Fatalf("expected Pin to report false for unknown id")
	}
}
