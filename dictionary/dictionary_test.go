package dictionary

import "testing"

func TestRoundTrip(t *testing.T) {
	tbl := New()
	for _, w := range words {
		id, ok := tbl.ToToken(w)
		if !ok {
			t.Fatalf("ToToken(%q) not found", w)
		}
		if id < FirstPrimaryID || id > LastPrimaryID {
			t.Fatalf("id %d for %q out of primary page range", id, w)
		}
		got, ok := tbl.ToString(byte(id))
		if !ok || got != w {
			t.Fatalf("ToString(%d) = %q, %v, want %q, true", id, got, ok, w)
		}
	}
}

func TestUnknownStringNotFound(t *testing.T) {
	tbl := New()
	if _, ok := tbl.ToToken("not-a-real-dictionary-word"); ok {
		t.Error("expected unknown string to miss")
	}
}

func TestIDsAreUnique(t *testing.T) {
	tbl := New()
	seen := make(map[int]string)
	for _, w := range words {
		id, _ := tbl.ToToken(w)
		if prev, dup := seen[id]; dup {
			t.Fatalf("id %d assigned to both %q and %q", id, prev, w)
		}
		seen[id] = w
	}
}
