package domain

import "github.com/google/uuid"

// NewID returns a time-ordered identifier for canvases, folders and items.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
