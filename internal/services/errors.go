package services

import "errors"

var (
	ErrInvalidCredentials     = errors.New("invalid account identifier or email address")
	ErrTokenRevoked           = errors.New("token has been revoked")
	ErrInvalidSwipe           = errors.New("invalid swipe")
	ErrNotMatched             = errors.New("users are not matched")
	ErrNotParticipant         = errors.New("user is not a participant of this conversation")
	ErrEmptyMessage           = errors.New("message content is required")
	ErrOwnMessage             = errors.New("cannot mark your own message as read")
	ErrUnsupportedContentType = errors.New("unsupported image content type")
	ErrInvalidInitialMessage  = errors.New("initial message must be an unattached message sent by you")
	ErrMessageNotInThread     = errors.New("message does not belong to this conversation")
)
