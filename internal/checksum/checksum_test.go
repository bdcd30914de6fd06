package checksum

import "testing"

func TestSumDeterministic(t *testing.T) {
	content := []byte("# Note\n\nSome content with [[links]] and #tags.\n")
	if a, b := Sum(content), Sum(content); a != b {
		t.Errorf("Sum() not deterministic: %q vs %q", a, b)
	}
	if Sum([]byte("a")) == Sum([]byte("b")) {
		t.Error("different content produced identical digests")
	}
}

func TestSumShape(t *testing.T) {
	got := Sum([]byte("x"))
	if len(got) != 64 {
		t.Errorf("len(Sum()) = %d, want 64", len(got))
	}
	for _, r := range got {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			t.Fatalf("Sum() = %q, want lower-case hex", got)
		}
	}
}

func TestSumEmpty(t *testing.T) {
	// SHA-256 of empty input.
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := Sum(nil); got != want {
		t.Errorf("Sum(nil) = %q, want %q", got, want)
	}
	if got := Sum([]byte{}); got != want {
		t.Errorf("Sum([]byte{}) = %q, want %q", got, want)
	}
}
