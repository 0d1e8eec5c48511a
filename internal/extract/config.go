package extract

import (
	"fmt"
	"time"
)

// Config tunes the page protocols.
type Config struct {
	// StepTimeout bounds every wait in the review protocol.
	StepTimeout time.Duration
	// ProfileTimeout bounds the wait for the profile page.
	ProfileTimeout time.Duration
	PollInterval   time.Duration
	// TransitionPause is slept after clicks that trigger client-side transitions.
	TransitionPause time.Duration
	// ReviewListURL is a fmt template taking the external id.
	ReviewListURL string
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		StepTimeout:     10 * time.Second,
		ProfileTimeout:  15 * time.Second,
		PollInterval:    100 * time.Millisecond,
		TransitionPause: time.Second,
		ReviewListURL:   reviewListURLTemplate,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.StepTimeout <= 0 {
		c.StepTimeout = d.StepTimeout
	}
	if c.ProfileTimeout <= 0 {
		c.ProfileTimeout = d.ProfileTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.TransitionPause < 0 {
		c.TransitionPause = 0
	}
	if c.ReviewListURL == "" {
		c.ReviewListURL = d.ReviewListURL
	}
	return c
}

func (c Config) reviewListURL(externalID string) string {
	return fmt.Sprintf(c.ReviewListURL, externalID)
}
