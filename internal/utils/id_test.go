package utils

import "testing"

func TestIDs(t *testing.T) {
	a, b := NewID(), NewID()
	if a == b || len(a) != 36 {
		t.Fatalf("NewID returned %q and %q", a, b)
	}
	if s := ShortID(); len(s) != 8 {
		t.Fatalf("ShortID returned %q", s)
	}
}
