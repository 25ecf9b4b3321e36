package domain

import "errors"

var (
	// ErrInvalidName is returned for deck or asset names that are not
	// safe to use as a storage path.
	ErrInvalidName = errors.New("invalid name")
	// ErrCorruptData is returned when a stored deck is not a card list.
	ErrCorruptData = errors.New("corrupt deck data")
	// ErrMalformedCard is returned for incoming cards without a question.
	ErrMalformedCard = errors.New("malformed card")
	// ErrNotFound is returned for missing deck assets.
	ErrNotFound = errors.New("not found")
)
