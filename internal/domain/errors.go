package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrPositionOpen     = errors.New("position already open for market")
	ErrAmbiguousOrder   = errors.New("order placed without usable order id")
	ErrInvalidSnapshot  = errors.New("invalid market snapshot")
	ErrLockHeld         = errors.New("lock already held")
	ErrFeedDisconnected = errors.New("price feed disconnected")
)
