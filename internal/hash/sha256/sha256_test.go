// Package sha256 includes tests for the SHA-256 fingerprinter.
package sha256

import (
	"testing"

	"github.com/JakeFAU/review-notifier/internal/tracker"
)

// TestHasherHashDeterministic ensures repeated hashing yields the same digest.
func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got := h.Hash([]byte("hello world"))
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if again := h.Hash([]byte("hello world")); again != got {
		t.Fatalf("expected deterministic hash, got %s vs %s", got, again)
	}
}

func TestFingerprintFollowsChangeRule(t *testing.T) {
	t.Parallel()

	h := New()
	original := "Sehr gut"
	base := tracker.Review{ID: 1, PlaceName: "Café", Text: "Very good", OriginalText: &original, StarRating: 5, OwnerID: 7}

	sameButRetranslated := base
	sameButRetranslated.ID = 2
	sameButRetranslated.Text = "Really good"
	if h.Fingerprint(base) != h.Fingerprint(sameButRetranslated) {
		t.Fatal("translation drift must not change the fingerprint")
	}

	otherStars := base
	otherStars.StarRating = 4
	if h.Fingerprint(base) == h.Fingerprint(otherStars) {
		t.Fatal("star change must change the fingerprint")
	}

	// Field boundaries are delimited, so shifting text between fields differs.
	a := tracker.Review{PlaceName: "ab", Text: "c"}
	b := tracker.Review{PlaceName: "a", Text: "bc"}
	if h.Fingerprint(a) == h.Fingerprint(b) {
		t.Fatal("expected delimited fields to produce distinct fingerprints")
	}
}
