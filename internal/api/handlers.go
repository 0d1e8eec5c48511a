package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-notifier/internal/sweep"
	"github.com/JakeFAU/review-notifier/internal/tracker"
)

type userResponse struct {
	ID          int64  `json:"id"`
	ExternalID  string `json:"external_id"`
	DisplayName string `json:"display_name"`
}

type reviewResponse struct {
	User         userResponse `json:"user"`
	PlaceName    string       `json:"place_name"`
	Stars        int          `json:"stars"`
	Text         string       `json:"text"`
	OriginalText *string      `json:"original_text,omitempty"`
	ObservedAt   time.Time    `json:"observed_at"`
}

type sweepOutcome struct {
	Summary    sweep.Summary `json:"summary"`
	Error      string        `json:"error,omitempty"`
	FinishedAt time.Time     `json:"finished_at"`
}

func toUserResponse(u tracker.ExternalUser) userResponse {
	return userResponse{ID: u.ID, ExternalID: u.ExternalID, DisplayName: u.DisplayName}
}

func (s *Server) triggerSweep(w http.ResponseWriter, _ *http.Request) {
	if s.sweeper == nil {
		writeError(w, http.StatusServiceUnavailable, "sweeps are disabled")
		return
	}
	if !s.running.CompareAndSwap(false, true) {
		writeError(w, http.StatusConflict, "sweep already running")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		summary, err := s.sweeper.Run(s.baseCtx)
		outcome := &sweepOutcome{Summary: summary, FinishedAt: time.Now().UTC()}
		if err != nil {
			outcome.Error = err.Error()
			s.logger.Error("api sweep failed", zap.Error(err))
		}
		s.mu.Lock()
		s.last = outcome
		s.mu.Unlock()
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) lastSweep(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	last := s.last
	s.mu.Unlock()
	if last == nil {
		writeError(w, http.StatusNotFound, "no sweep has finished")
		return
	}
	writeJSON(w, http.StatusOK, last)
}

func (s *Server) lookupUser(w http.ResponseWriter, r *http.Request) (tracker.ExternalUser, bool) {
	user, err := s.repo.UserByExternalID(r.Context(), chi.URLParam(r, "external_id"))
	switch {
	case errors.Is(err, tracker.ErrNotFound):
		writeError(w, http.StatusNotFound, "user not found")
		return tracker.ExternalUser{}, false
	case err != nil:
		s.logger.Error("load user", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return tracker.ExternalUser{}, false
	}
	return user, true
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	user, ok := s.lookupUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (s *Server) getLatestReview(w http.ResponseWriter, r *http.Request) {
	user, ok := s.lookupUser(w, r)
	if !ok {
		return
	}
	review, err := s.reviews.LatestReview(r.Context(), user.ID)
	if err != nil {
		s.logger.Error("latest review", zap.Int64("user_id", user.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to resolve latest review")
		return
	}
	if review == nil {
		writeError(w, http.StatusNotFound, "user has no reviews")
		return
	}
	writeJSON(w, http.StatusOK, reviewResponse{
		User:         toUserResponse(review.Owner),
		PlaceName:    review.Review.PlaceName,
		Stars:        review.Review.StarRating,
		Text:         review.Review.Text,
		OriginalText: review.Review.OriginalText,
		ObservedAt:   review.Review.ObservedAt.UTC(),
	})
}

func (s *Server) listFollowed(w http.ResponseWriter, r *http.Request) {
	users, err := s.repo.FollowedInChannel(r.Context(), chi.URLParam(r, "channel_id"))
	if err != nil {
		s.logger.Error("list followed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list followed users")
		return
	}
	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toUserResponse(u))
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": out})
}
