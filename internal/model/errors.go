package model

import (
	"errors"
)

var (
	// ErrProtocolViolation is returned when a worker message can't be understood:
	// unknown message type, malformed wire format or malformed payload.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrLivenessTimeout means no message arrived from the remote worker in time.
	ErrLivenessTimeout = errors.New("liveness timeout")
	// ErrIllegalResult is a contract error: a scraper job returned neither a string
	// nor a valid continuation envelope.
	ErrIllegalResult = errors.New("illegal result data")
	// ErrNoPlatformAvailable is returned when neither platform has a free admission token.
	ErrNoPlatformAvailable = errors.New("no platform available")
	// ErrChannelLocked is returned when another job already supervises the channel.
	ErrChannelLocked = errors.New("channel locked")
	// ErrWorkerReported wraps the payload of a worker ERROR message.
	ErrWorkerReported = errors.New("worker reported error")

	ErrInvalidCrossRequest = errors.New("invalid cross request")
	ErrInvalidProgress     = errors.New("invalid scraper progress")
	ErrMissingChannel      = errors.New("pubsub channel name is required")
)
