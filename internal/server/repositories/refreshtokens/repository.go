// Package refreshtokens declares the server-side repository contract for
// persisted refresh tokens (sessions).
package refreshtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/leadcrm/internal/server/models"
)

// Repository defines operations for issuing, looking up, revoking and purging
// refresh tokens.
type Repository interface {
	// Create stores a new, non-revoked refresh token for userID.
	Create(ctx context.Context, userID string, token string, expiresAt time.Time) error

	// Find looks up a refresh token by its opaque token string.
	// Implementations return common.ErrorNotFound when the token is absent.
	Find(ctx context.Context, token string) (*models.RefreshToken, error)

	// Revoke marks the token revoked if it is currently not revoked and
	// reports whether this call changed it. Unknown tokens yield false, nil.
	Revoke(ctx context.Context, token string) (bool, error)

	// RevokeAllForUser revokes every non-revoked token of userID.
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)

	// RevokeAllForUserExcept revokes every non-revoked token of userID but keep.
	RevokeAllForUserExcept(ctx context.Context, userID string, keep string) (int64, error)

	// DeleteExpiredOrRevoked removes rows that expired before now or are revoked.
	DeleteExpiredOrRevoked(ctx context.Context, now time.Time) (int64, error)
}
