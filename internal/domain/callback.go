package domain

import (
	"fmt"
	"strings"
)

// Callback stages reported by the provider.
const (
	StageText     = "text"
	StageFirst    = "first"
	StageComplete = "complete"
	StageError    = "error"
)

// providerOK is the status code the provider uses for success.
const providerOK = 200

// Track is one generated result inside a callback.
type Track struct {
	AudioURL string
	ImageURL string
	Title    string
}

// Callback is a decoded provider webhook delivery.
type Callback struct {
	// Code is the provider status code, zero when the payload omits it.
	Code    int
	Message string
	Stage   string
	JobID   string
	// Tracks is nil when the payload has no results collection.
	Tracks []Track
}

// Failed reports whether the provider signals failure instead of results.
func (c Callback) Failed() bool {
	return (c.Code != 0 && c.Code != providerOK) || c.Stage == StageError
}

// Intermediate reports whether the delivery is a progress notice that
// carries no audio yet.
func (c Callback) Intermediate() bool {
	return c.Stage == StageText && !c.Failed()
}

// Validate checks the shape of the callback. Every error wraps
// ErrMalformedCallback.
func (c Callback) Validate() error {
	if strings.TrimSpace(c.Message) == "" {
		return fmt.Errorf("%w: missing msg", ErrMalformedCallback)
	}
	if c.Failed() || c.Intermediate() {
		return nil
	}
	if len(c.Tracks) == 0 {
		return fmt.Errorf("%w: missing results", ErrMalformedCallback)
	}
	if strings.TrimSpace(c.Tracks[0].AudioURL) == "" {
		return fmt.Errorf("%w: missing audio url", ErrMalformedCallback)
	}
	return nil
}

// Result builds the job result from the first track.
func (c Callback) Result() Result {
	t := c.Tracks[0]
	title := strings.TrimSpace(t.Title)
	if title == "" {
		title = DefaultTitle
	}
	return Result{
		AudioURL: strings.TrimSpace(t.AudioURL),
		ImageURL: strings.TrimSpace(t.ImageURL),
		Title:    title,
	}
}
