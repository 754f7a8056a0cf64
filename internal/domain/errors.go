package domain

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidOrderSpec      = errors.New("invalid order spec")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrStaleView             = errors.New("stale book view")
	ErrProcessorClosed       = errors.New("processor closed")
	ErrNotSynced             = errors.New("book not synced")
	ErrWSDisconnect          = errors.New("websocket disconnected")
	ErrLockHeld              = errors.New("lock already held")
)
