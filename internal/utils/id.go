package utils

import "github.com/google/uuid"

// NewID returns a random identifier used to tag connection epochs and sessions in logs.
func NewID() string {
	return uuid.NewString()
}

// ShortID returns the first block of a fresh identifier, handy for console output.
func ShortID() string {
	id := uuid.New()
	return id.String()[:8]
}
