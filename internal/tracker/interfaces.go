package tracker

import (
	"context"
	"io"
	"time"
)

// Repository is the typed store of users, reviews and followings.
type Repository interface {
	UserByExternalID(ctx context.Context, externalID string) (ExternalUser, error)
	User(ctx context.Context, id int64) (ExternalUser, error)
	// CreateUser inserts the user or returns the existing row untouched.
	CreateUser(ctx context.Context, profile Profile) (ExternalUser, error)

	LatestReview(ctx context.Context, userID int64) (ReviewWithOwner, error)
	// ReplaceReview deletes any cached review of the owner and inserts the
	// candidate in a single transaction.
	ReplaceReview(ctx context.Context, candidate CandidateReview, observedAt time.Time) (ReviewWithOwner, error)

	StaleFollowedUsers(ctx context.Context, cutoff time.Time) ([]ExternalUser, error)
	CountFollowedUsers(ctx context.Context) (int, error)
	FollowersOf(ctx context.Context, userID int64) ([]Following, error)
	FollowedInChannel(ctx context.Context, channelID string) ([]ExternalUser, error)
	IsFollowed(ctx context.Context, userID int64, channelID string) (bool, error)
	Follow(ctx context.Context, f Following) (Following, error)
	Unfollow(ctx context.Context, userID int64, channelID string) (Following, error)
	UpdateEndpoint(ctx context.Context, followingID int64, endpointID string) error
}

// ReviewSource extracts the latest review of a user from the live site.
type ReviewSource interface {
	LatestReview(ctx context.Context, user ExternalUser) (CandidateReview, error)
}

// ProfileSource extracts a user profile from the live site.
type ProfileSource interface {
	Profile(ctx context.Context, externalID string) (Profile, error)
}

// Messenger is the external messaging API used to deliver notifications.
type Messenger interface {
	VerifyEndpoint(ctx context.Context, endpointID string) error
	CreateEndpoint(ctx context.Context, channelID, name string) (string, error)
	Send(ctx context.Context, endpointID string, msg Message) error
	DeleteEndpoint(ctx context.Context, endpointID, reason string) error
}

// Publisher pushes review-changed events to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Locker guards a sweep against concurrent runs.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique ids.
type IDGenerator interface {
	NewID() (string, error)
}

// Fingerprinter digests the fields change detection compares, so consumers
// of review events can deduplicate them.
type Fingerprinter interface {
	Fingerprint(r Review) string
}
