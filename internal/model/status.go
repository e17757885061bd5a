// Package model defines the core domain types for Hakari.
//
// All types correspond directly to database tables and API payloads.
// Types use strong typing (UUIDs, time.Time, enums) and avoid
// interface{} except for raw prediction payloads.
package model

import "fmt"

// Status is the lifecycle stage of an algorithm.
type Status string

const (
	StatusTesting    Status = "testing"
	StatusStaging    Status = "staging"
	StatusProduction Status = "production"
	StatusABTesting  Status = "ab_testing"
)

// DefaultStatus is the status a prediction routes to when none is requested.
const DefaultStatus = StatusProduction

// ParseStatus validates a status string. An empty string is rejected; callers
// that want the default should check for emptiness first.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusTesting, StatusStaging, StatusProduction, StatusABTesting:
		return st, nil
	default:
		return "", fmt.Errorf("invalid status %q (expected testing, staging, production or ab_testing)", s)
	}
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, err := ParseStatus(string(s))
	return err == nil
}
