package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/review-notifier/internal/tracker"
)

// Repository is an in-memory tracker.Repository with the same uniqueness
// rules as the Postgres schema.
type Repository struct {
	mu sync.RWMutex

	nextUserID      int64
	nextReviewID    int64
	nextFollowingID int64

	users      map[int64]tracker.ExternalUser
	byExternal map[string]int64
	reviews    map[int64]tracker.Review // keyed by owner id
	following  map[int64]tracker.Following
}

var _ tracker.Repository = (*Repository)(nil)

// NewRepository constructs an empty Repository.
func NewRepository() *Repository {
	return &Repository{
		users:      make(map[int64]tracker.ExternalUser),
		byExternal: make(map[string]int64),
		reviews:    make(map[int64]tracker.Review),
		following:  make(map[int64]tracker.Following),
	}
}

// UserByExternalID looks a user up by external id.
func (r *Repository) UserByExternalID(_ context.Context, externalID string) (tracker.ExternalUser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byExternal[externalID]
	if !ok {
		return tracker.ExternalUser{}, fmt.Errorf("user by external id: %w", tracker.ErrNotFound)
	}
	return r.users[id], nil
}

// User looks a user up by id.
func (r *Repository) User(_ context.Context, id int64) (tracker.ExternalUser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return tracker.ExternalUser{}, fmt.Errorf("user: %w", tracker.ErrNotFound)
	}
	return u, nil
}

// CreateUser inserts profile or returns the existing row untouched.
func (r *Repository) CreateUser(_ context.Context, profile tracker.Profile) (tracker.ExternalUser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byExternal[profile.ExternalID]; ok {
		return r.users[id], nil
	}
	r.nextUserID++
	u := tracker.ExternalUser{ID: r.nextUserID, ExternalID: profile.ExternalID, DisplayName: profile.DisplayName}
	r.users[u.ID] = u
	r.byExternal[u.ExternalID] = u.ID
	return u, nil
}

// LatestReview returns the cached review of userID.
func (r *Repository) LatestReview(_ context.Context, userID int64) (tracker.ReviewWithOwner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rev, ok := r.reviews[userID]
	if !ok {
		return tracker.ReviewWithOwner{}, fmt.Errorf("latest review: %w", tracker.ErrNotFound)
	}
	return tracker.ReviewWithOwner{Review: rev, Owner: r.users[userID]}, nil
}

// ReplaceReview swaps the owner's cached review under a single lock.
func (r *Repository) ReplaceReview(
	_ context.Context,
	candidate tracker.CandidateReview,
	observedAt time.Time,
) (tracker.ReviewWithOwner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.users[candidate.OwnerID]
	if !ok {
		return tracker.ReviewWithOwner{}, fmt.Errorf("replace review: owner %d: %w", candidate.OwnerID, tracker.ErrRepository)
	}
	r.nextReviewID++
	rev := tracker.Review{
		ID:           r.nextReviewID,
		PlaceName:    candidate.PlaceName,
		Text:         candidate.Text,
		OriginalText: cloneString(candidate.OriginalText),
		StarRating:   candidate.StarRating,
		OwnerID:      candidate.OwnerID,
		ObservedAt:   observedAt,
	}
	r.reviews[owner.ID] = rev
	return tracker.ReviewWithOwner{Review: rev, Owner: owner}, nil
}

// StaleFollowedUsers returns followed users whose review is missing or older than cutoff.
func (r *Repository) StaleFollowedUsers(_ context.Context, cutoff time.Time) ([]tracker.ExternalUser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []tracker.ExternalUser
	for _, id := range r.followedIDs() {
		rev, ok := r.reviews[id]
		if !ok || rev.ObservedAt.Before(cutoff) {
			out = append(out, r.users[id])
		}
	}
	return out, nil
}

// CountFollowedUsers returns how many distinct users have a follower.
func (r *Repository) CountFollowedUsers(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.followedIDs()), nil
}

// FollowersOf returns every following of userID ordered by id.
func (r *Repository) FollowersOf(_ context.Context, userID int64) ([]tracker.Following, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []tracker.Following
	for _, f := range r.following {
		if f.FollowedUserID == userID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// FollowedInChannel returns the users followed in channelID ordered by name.
func (r *Repository) FollowedInChannel(_ context.Context, channelID string) ([]tracker.ExternalUser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []tracker.ExternalUser
	for _, f := range r.following {
		if f.ChannelID == channelID {
			out = append(out, r.users[f.FollowedUserID])
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// IsFollowed reports whether channelID follows userID.
func (r *Repository) IsFollowed(_ context.Context, userID int64, channelID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.findFollowing(userID, channelID)
	return ok, nil
}

// Follow inserts f, rejecting duplicates with ErrAlreadyFollowing.
func (r *Repository) Follow(_ context.Context, f tracker.Following) (tracker.Following, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[f.FollowedUserID]; !ok {
		return tracker.Following{}, fmt.Errorf("follow: user %d: %w", f.FollowedUserID, tracker.ErrRepository)
	}
	if _, ok := r.findFollowing(f.FollowedUserID, f.ChannelID); ok {
		return tracker.Following{}, fmt.Errorf("follow: %w", tracker.ErrAlreadyFollowing)
	}
	r.nextFollowingID++
	f.ID = r.nextFollowingID
	r.following[f.ID] = f
	return f, nil
}

// Unfollow deletes and returns the following of userID in channelID.
func (r *Repository) Unfollow(_ context.Context, userID int64, channelID string) (tracker.Following, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.findFollowing(userID, channelID)
	if !ok {
		return tracker.Following{}, fmt.Errorf("unfollow: %w", tracker.ErrNotFollowing)
	}
	delete(r.following, f.ID)
	return f, nil
}

// UpdateEndpoint stores a recreated endpoint id.
func (r *Repository) UpdateEndpoint(_ context.Context, followingID int64, endpointID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.following[followingID]
	if !ok {
		return fmt.Errorf("update endpoint: %w", tracker.ErrNotFound)
	}
	f.EndpointID = endpointID
	r.following[followingID] = f
	return nil
}

func (r *Repository) findFollowing(userID int64, channelID string) (tracker.Following, bool) {
	for _, f := range r.following {
		if f.FollowedUserID == userID && f.ChannelID == channelID {
			return f, true
		}
	}
	return tracker.Following{}, false
}

// followedIDs returns distinct followed user ids in ascending order.
func (r *Repository) followedIDs() []int64 {
	seen := make(map[int64]struct{})
	ids := make([]int64, 0, len(r.following))
	for _, f := range r.following {
		if _, ok := seen[f.FollowedUserID]; ok {
			continue
		}
		seen[f.FollowedUserID] = struct{}{}
		ids = append(ids, f.FollowedUserID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
