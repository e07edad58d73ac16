package core

import (
	"context"

	"github.com/dkeye/callbridge/internal/domain"
)

// IdentityVerifier turns an opaque identity token into a user.
// Implementations fail closed: any error means unauthenticated.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (domain.UserID, error)
}
