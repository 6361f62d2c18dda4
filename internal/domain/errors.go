package domain

import "errors"

var (
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrGone is returned by a Pusher when the target connection no longer exists.
	// It is a pruning signal, not a delivery failure.
	ErrGone = errors.New("connection gone")
)
