package tracker

import (
	"errors"

	"github.com/JakeFAU/review-notifier/internal/browser/wait"
)

// Extraction errors.
var (
	ErrLaunchFailed       = errors.New("browser launch failed")
	ErrConsentFailed      = errors.New("consent flow failed")
	ErrNavigationFailed   = errors.New("navigation failed")
	ErrTimeout            = wait.ErrTimeout
	ErrElementNotFound    = errors.New("element not found")
	ErrNoReviewsFound     = errors.New("no reviews found")
	ErrStarRatingNotFound = errors.New("star rating not found")
	ErrProfileLoadFailed  = errors.New("profile load failed")
	ErrNameNotFound       = errors.New("profile name not found")
)

// Repository errors.
var (
	ErrRepository       = errors.New("repository error")
	ErrNotFound         = errors.New("not found")
	ErrAlreadyFollowing = errors.New("already following")
	ErrNotFollowing     = errors.New("not following")
)

// Delivery errors.
var (
	// ErrEndpointPermissionDenied does not heal by itself; the delivery is abandoned.
	ErrEndpointPermissionDenied = errors.New("endpoint permission denied")
	// ErrEndpointInvalid means the endpoint must be recreated.
	ErrEndpointInvalid = errors.New("endpoint invalid")
)
