package model

import (
	"time"

	"github.com/google/uuid"
)

// ABTest is a two-armed experiment between algorithms. It is open while
// EndedAt is nil; closing is a one-way transition.
type ABTest struct {
	ID         uuid.UUID  `json:"id"`
	Title      string     `json:"title"`
	CreatedBy  string     `json:"created_by"`
	CreatedAt  time.Time  `json:"created_at"`
	EndedAt    *time.Time `json:"ended_at"`
	Summary    *string    `json:"summary"`
	Algorithm1 uuid.UUID  `json:"algorithm_1"`
	Algorithm2 uuid.UUID  `json:"algorithm_2"`
}

// Open reports whether the experiment is still running.
func (t ABTest) Open() bool {
	return t.EndedAt == nil
}
