package ctxutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ashita-ai/hakari/internal/auth"
	"github.com/ashita-ai/hakari/internal/model"
)

func TestClaimsRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, ClaimsFromContext(ctx))
	assert.Equal(t, "anonymous", OperatorName(ctx, "anonymous"))

	ctx = WithClaims(ctx, &auth.Claims{Operator: "risk-desk", Role: model.RoleAdmin})
	assert.Equal(t, model.RoleAdmin, ClaimsFromContext(ctx).Role)
	assert.Equal(t, "risk-desk", OperatorName(ctx, "anonymous"))
}
