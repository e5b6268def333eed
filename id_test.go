package gocrdt

import "testing"

func TestID_EqualAndLess(t *testing.T) {
	a := NewID(1, 5)
	b := NewID(1, 5)
	c := NewID(1, 6)
	d := NewID(2, 0)

	if !a.Equal(b) {
		t.Errorf("expected %s to equal %s", a, b)
	}
	if a.Equal(c) {
		t.Errorf("expected %s to differ from %s", a, c)
	}
	if !a.Less(c) {
		t.Errorf("expected %s < %s", a, c)
	}
	if !a.Less(d) {
		t.Errorf("expected %s < %s (client tie-break)", a, d)
	}
	if d.Less(a) {
		t.Errorf("did not expect %s < %s", d, a)
	}
}

func TestID_Within(t *testing.T) {
	id := NewID(1, 10)

	cases := []struct {
		clock uint64
		want  bool
	}{
		{9, false},
		{10, true},
		{13, true},
		{14, false},
	}
	for _, c := range cases {
		if got := id.Within(4, c.clock); got != c.want {
			t.Errorf("Within(4, %d) = %v, want %v", c.clock, got, c.want)
		}
	}
}

func TestID_String(t *testing.T) {
	id := NewID(3, 7)
	if got, want := id.String(), "(3,7)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
