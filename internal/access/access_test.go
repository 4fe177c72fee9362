package access

import "testing"

func TestRecordAccess_OrderingContract(t *testing.T) {
	tr := New()
	tr.RecordAccess("/a")
	tr.RecordAccess("/b")
	tr.RecordAccess("/c")

	// After record_access(p), p is last in insertion order.
	tr.RecordAccess("/a")

	order := tr.OldestFirst()
	want := []string{"/b", "/c", "/a"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestRecordAccess_BumpsCount(t *testing.T) {
	tr := New()
	tr.RecordAccess("/a")
	tr.RecordAccess("/a")
	tr.RecordAccess("/a")

	stats, ok := tr.StatsFor("/a")
	if !ok {
		t.Fatal("expected stats for /a")
	}
	if stats.AccessCount != 3 {
		t.Errorf("AccessCount = %d, want 3", stats.AccessCount)
	}
}

func TestRemove(t *testing.T) {
	tr := New()
	tr.RecordAccess("/a")
	tr.Remove("/a")

	if tr.Knows("/a") {
		t.Error("expected /a to be forgotten after Remove")
	}
	if len(tr.OldestFirst()) != 0 {
		t.Error("expected empty order after Remove")
	}
}

func TestGeneration_BumpsOnAccess(t *testing.T) {
	tr := New()
	g0 := tr.Generation()
	tr.RecordAccess("/a")
	if tr.Generation() == g0 {
		t.Error("expected generation to advance after RecordAccess")
	}
}
