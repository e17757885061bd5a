package model

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// OperatorRole is the RBAC role of an authenticated operator.
type OperatorRole string

const (
	RoleAdmin    OperatorRole = "admin"
	RoleOperator OperatorRole = "operator"
)

// roleRank orders roles for "at least" comparisons.
var roleRank = map[OperatorRole]int{
	RoleOperator: 1,
	RoleAdmin:    2,
}

// Valid reports whether r is a known role.
func (r OperatorRole) Valid() bool {
	return roleRank[r] > 0
}

// RoleAtLeast reports whether role is at least as privileged as min.
func RoleAtLeast(role, min OperatorRole) bool {
	return roleRank[role] >= roleRank[min] && roleRank[role] > 0
}

// Operator is a person or system allowed to change algorithm lifecycle
// state, run experiments and attach feedback. Its Name is recorded as
// created_by on everything it writes.
type Operator struct {
	ID         uuid.UUID    `json:"id"`
	Name       string       `json:"name"`
	Role       OperatorRole `json:"role"`
	APIKeyHash *string      `json:"-"`
	CreatedAt  time.Time    `json:"created_at"`
}

var operatorNameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._@-]{0,63}$`)

// ValidateOperatorName checks that name is a safe identifier.
func ValidateOperatorName(name string) error {
	if !operatorNameRe.MatchString(name) {
		return fmt.Errorf("operator name must be 1-64 characters of letters, digits, '.', '_', '@' or '-'")
	}
	return nil
}
