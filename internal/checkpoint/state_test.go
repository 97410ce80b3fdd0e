package checkpoint

import "testing"

func TestStateAdvanceMonotonic(t *testing.T) {
	s := State{}

	steps := []struct {
		id      string
		want    bool
		current string
	}{
		{"100", true, "100"},
		{"99", false, "100"},
		{"100", false, "100"},
		{"101", true, "101"},
		{"abc", false, "101"},
		{"1000", true, "1000"},
	}

	for _, st := range steps {
		if got := s.Advance("alice", st.id); got != st.want {
			t.Errorf("Advance(%s) = %v, want %v", st.id, got, st.want)
		}
		if s.Get("alice") != st.current {
			t.Errorf("after %s last = %s, want %s", st.id, s.Get("alice"), st.current)
		}
	}
}

func TestStateAdvanceComparesNumerically(t *testing.T) {
	s := State{"bob": {LastItemID: "9"}}

	// "10" < "9" lexically but not numerically.
	if !s.Advance("bob", "10") {
		t.Fatal("expected 10 to advance past 9")
	}
}

func TestStateClone(t *testing.T) {
	s := State{"alice": {LastItemID: "1"}}
	c := s.Clone()
	c.Advance("alice", "2")

	if s.Get("alice") != "1" {
		t.Error("clone shares storage with original")
	}
	if !c.Has("alice") || c.Has("bob") {
		t.Error("Has mismatch")
	}
}

func TestStateHasIgnoresNonNumeric(t *testing.T) {
	s := State{"alice": {LastItemID: "not-an-id"}, "bob": {}}

	if s.Has("alice") || s.Has("bob") {
		t.Error("non-numeric checkpoints must count as absent")
	}
	if !s.Advance("alice", "5") || s.Get("alice") != "5" {
		t.Error("a numeric id should replace a non-numeric checkpoint")
	}
}
