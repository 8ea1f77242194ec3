// Package model defines the core domain models for the tallyfin engine.
package model

import "time"

// Category represents a user-defined transaction category.
// Categories are owned by the external repository; the engine only
// resolves and references them.
type Category struct {
	CreatedAt   time.Time
	Name        string
	Description string
	ID          int
	IsActive    bool
}
