package auction

import (
	model "auction-sessions/internal/models"
)

// ResolveWinner returns the winning bid of a closed session: the highest
// amount, ties broken by earliest submission. The commit path cannot produce
// equal amounts, but imported histories can, so the tie-break stays. The
// second return is false when the session closed without bids.
func ResolveWinner(bids []model.Bid) (model.Bid, bool) {
	if len(bids) == 0 {
		return model.Bid{}, false
	}

	winning := bids[0]
	for _, b := range bids[1:] {
		if b.Amount > winning.Amount || (b.Amount == winning.Amount && b.CreatedAt.Before(winning.CreatedAt)) {
			winning = b
		}
	}
	return winning, true
}
