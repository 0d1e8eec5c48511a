package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestDiffers(t *testing.T) {
	t.Parallel()

	cached := Review{PlaceName: "A", StarRating: 4, Text: "x", ObservedAt: time.Unix(1, 0)}

	testCases := []struct {
		name  string
		fresh CandidateReview
		want  bool
	}{
		{"identical", CandidateReview{PlaceName: "A", StarRating: 4, Text: "x"}, false},
		{"place changed", CandidateReview{PlaceName: "B", StarRating: 4, Text: "x"}, true},
		{"stars changed", CandidateReview{PlaceName: "A", StarRating: 5, Text: "x"}, true},
		{"text changed", CandidateReview{PlaceName: "A", StarRating: 4, Text: "y"}, true},
		{"original appears", CandidateReview{PlaceName: "A", StarRating: 4, Text: "x", OriginalText: strPtr("z")}, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, Differs(cached, tc.fresh))
		})
	}
}

func TestDiffersIgnoresTranslationDriftWhenOriginalMatches(t *testing.T) {
	t.Parallel()

	cached := Review{PlaceName: "A", StarRating: 3, Text: "good food", OriginalText: strPtr("buen comida")}
	fresh := CandidateReview{PlaceName: "A", StarRating: 3, Text: "good meal", OriginalText: strPtr("buen comida")}
	require.False(t, Differs(cached, fresh))
}

func TestTextFor(t *testing.T) {
	t.Parallel()

	r := Review{Text: "translated"}
	require.Equal(t, "translated", r.TextFor(true))
	r.OriginalText = strPtr("original")
	require.Equal(t, "original", r.TextFor(true))
	require.Equal(t, "translated", r.TextFor(false))
}
