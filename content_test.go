package gocrdt

import "testing"

func TestContentString_SplitAndMerge(t *testing.T) {
	c := ContentString("hello")
	if got, want := c.Len(), uint64(5); got != want {
		t.Fatalf("Len() = %d, want %d", got, want)
	}

	left, right := c.split(2)
	if left.(ContentString) != "he" || right.(ContentString) != "llo" {
		t.Fatalf("split(2) = %q/%q, want %q/%q", left, right, "he", "llo")
	}

	merged, ok := left.mergeWith(right)
	if !ok {
		t.Fatalf("expected merge to succeed")
	}
	if merged.(ContentString) != c {
		t.Errorf("merged = %q, want %q", merged, c)
	}
}

func TestContentString_MergeRejectsOtherVariant(t *testing.T) {
	c := ContentString("x")
	if _, ok := c.mergeWith(ContentEmbed{Value: 1}); ok {
		t.Errorf("expected mergeWith(ContentEmbed) to fail")
	}
}

func TestContentEmbed_Atomic(t *testing.T) {
	c := ContentEmbed{Value: map[string]int{"n": 1}}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
	if _, ok := c.mergeWith(ContentEmbed{Value: 2}); ok {
		t.Errorf("ContentEmbed must never merge")
	}
}

func TestContentEmbed_SplitPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected split on ContentEmbed to panic")
		}
	}()
	ContentEmbed{Value: 1}.split(0)
}

func TestContentDeleted_SplitAndMerge(t *testing.T) {
	c := contentDeleted{length: 6}
	left, right := c.split(2)
	if left.Len() != 2 || right.Len() != 4 {
		t.Fatalf("split lengths = %d/%d, want 2/4", left.Len(), right.Len())
	}
	merged, ok := left.mergeWith(right)
	if !ok || merged.Len() != 6 {
		t.Fatalf("merge failed or wrong length: ok=%v len=%d", ok, merged.Len())
	}
}
