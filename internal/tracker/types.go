package tracker

import "time"

// ExternalUser is a reviewer on the mapping service.
type ExternalUser struct {
	ID          int64
	ExternalID  string
	DisplayName string
}

// Profile is what the profile extractor reads for an external id.
type Profile struct {
	ExternalID  string
	DisplayName string
}

// CandidateReview is a freshly extracted review that has not been persisted yet.
type CandidateReview struct {
	PlaceName    string
	Text         string
	OriginalText *string
	StarRating   int
	OwnerID      int64
}

// Body returns the text used for change detection: the original-language text
// when one was extracted, the translated text otherwise.
func (c CandidateReview) Body() string {
	return bodyOf(c.Text, c.OriginalText)
}

// Review is the latest known review of a user. At most one exists per user.
type Review struct {
	ID           int64
	PlaceName    string
	Text         string
	OriginalText *string
	StarRating   int
	OwnerID      int64
	ObservedAt   time.Time
}

// Body mirrors CandidateReview.Body.
func (r Review) Body() string {
	return bodyOf(r.Text, r.OriginalText)
}

// TextFor picks the text a follower asked for, falling back to the translated
// text when no original was extracted.
func (r Review) TextFor(wantsOriginal bool) string {
	if wantsOriginal && r.OriginalText != nil {
		return *r.OriginalText
	}
	return r.Text
}

// ReviewWithOwner joins a review with the user who wrote it.
type ReviewWithOwner struct {
	Review Review
	Owner  ExternalUser
}

// Following records that a channel wants notifications about a user.
type Following struct {
	ID                int64
	FollowedUserID    int64
	ChannelID         string
	EndpointID        string
	WantsOriginalText bool
}

// Message is a composed notification, independent of the messaging API.
type Message struct {
	Title     string
	Author    string
	Stars     string
	Body      string
	Footer    string
	Timestamp time.Time
}

func bodyOf(text string, original *string) string {
	if original != nil {
		return *original
	}
	return text
}
