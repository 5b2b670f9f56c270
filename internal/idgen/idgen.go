// Package idgen generates event, session, batch and subscription identifiers.
package idgen

import (
	"fmt"

	"github.com/google/uuid"
	nanoid "github.com/matoous/go-nanoid/v2"
)

// Alphabet is the character set for short IDs.
const Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// ShortLength is the number of random characters in a short ID.
const ShortLength = 12

const (
	BatchPrefix        = "batch-"
	SubscriptionPrefix = "sub-"
)

// EventID returns a random UUID string for an event.
func EventID() string {
	return uuid.NewString()
}

// SessionID returns a random UUID string for a session.
func SessionID() string {
	return uuid.NewString()
}

// Short returns prefix followed by ShortLength nanoid characters.
func Short(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, ShortLength)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}

// MustShort is Short with a UUID fallback when the random source fails.
func MustShort(prefix string) string {
	id, err := Short(prefix)
	if err != nil {
		return prefix + uuid.NewString()
	}
	return id
}
