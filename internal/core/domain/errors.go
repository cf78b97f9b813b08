package domain

import "errors"

var (
	// Guard rejections. Logged, never surfaced as fatal: the caller simply
	// does not get a new link.
	ErrNoStreamAvailable = errors.New("participant has no stream available")
	ErrAlreadyObserving  = errors.New("already observing this participant")
	ErrAttemptInProgress = errors.New("connection attempt already in progress")

	ErrLinkClosed       = errors.New("peer link is closed")
	ErrParticipantGone  = errors.New("participant not in roster")
	ErrChannelNotReady  = errors.New("signaling channel not connected")
	ErrNoOutgoingStream = errors.New("no outgoing stream")
)
