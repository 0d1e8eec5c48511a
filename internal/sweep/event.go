package sweep

import (
	"time"

	"github.com/JakeFAU/review-notifier/internal/tracker"
)

// ReviewChanged is published whenever a sweep observes a new review.
type ReviewChanged struct {
	UserExternalID string    `json:"user_external_id"`
	UserName       string    `json:"user_name"`
	PlaceName      string    `json:"place_name"`
	Stars          int       `json:"stars"`
	Text           string    `json:"text"`
	OriginalText   *string   `json:"original_text"`
	ObservedAt     time.Time `json:"observed_at"`
	Fingerprint    string    `json:"fingerprint"`
	SweepID        string    `json:"sweep_id"`
}

// Attributes lets subscribers filter on the reviewer without decoding.
func (e ReviewChanged) Attributes() map[string]string {
	return map[string]string{
		"user_external_id": e.UserExternalID,
		"sweep_id":         e.SweepID,
	}
}

func newReviewChanged(r tracker.ReviewWithOwner, fingerprint, sweepID string) ReviewChanged {
	return ReviewChanged{
		UserExternalID: r.Owner.ExternalID,
		UserName:       r.Owner.DisplayName,
		PlaceName:      r.Review.PlaceName,
		Stars:          r.Review.StarRating,
		Text:           r.Review.Text,
		OriginalText:   r.Review.OriginalText,
		ObservedAt:     r.Review.ObservedAt.UTC(),
		Fingerprint:    fingerprint,
		SweepID:        sweepID,
	}
}
