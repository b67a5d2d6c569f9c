package auction

import (
	"context"

	"auction-sessions/internal/models"
)

// OwnershipTransfer hands the auctioned item to the winning bidder. Invoked
// at most once per session; failures are reported to the caller and left to
// the collaborator's own retry policy.
type OwnershipTransfer interface {
	TransferOwnership(ctx context.Context, itemID, bidderID string) error
}

// UserDirectory resolves a bidder or creator reference. Read-only.
type UserDirectory interface {
	ResolveUser(ctx context.Context, userID string) (models.User, error)
}

// AssetDirectory resolves an auctioned item reference. Read-only.
type AssetDirectory interface {
	ResolveAsset(ctx context.Context, itemID string) (models.Asset, error)
}

// Events receives notifications after a commit has succeeded. Implementations
// must not block; the service calls them outside any store lock.
type Events interface {
	BidAccepted(bid models.Bid)
	SessionEnded(session models.Session, winner *models.Bid)
}
