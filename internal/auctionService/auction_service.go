package auction

import (
	"context"
	"fmt"
	"time"

	"auction-sessions/internal/auctionerrors"
	"auction-sessions/internal/metrics"
	"auction-sessions/internal/models"
	"auction-sessions/internal/repository"
	"auction-sessions/utils"
)

const defaultRetryBudget = 5

// transferTimeout bounds the ownership-transfer call so winner resolution
// never blocks the sweep indefinitely.
const transferTimeout = 10 * time.Second

// directoryTimeout bounds the user/asset directory lookups made while
// validating session creation.
const directoryTimeout = 5 * time.Second

// AuctionService implements the bid acceptance, lifecycle and winner
// resolution logic over a SessionStore. All time-dependent decisions go
// through the injected clock.
type AuctionService struct {
	store       repository.SessionStore
	transfer    OwnershipTransfer
	users       UserDirectory
	assets      AssetDirectory
	events      Events
	now         func() time.Time
	retryBudget int
}

// NewAuctionService creates a new AuctionService instance. The transfer
// collaborator may be nil, in which case winner resolution only records the
// outcome.
func NewAuctionService(store repository.SessionStore, transfer OwnershipTransfer) *AuctionService {
	return &AuctionService{
		store:       store,
		transfer:    transfer,
		now:         func() time.Time { return time.Now().UTC() },
		retryBudget: defaultRetryBudget,
	}
}

// WithClock replaces the time source. Intended for tests.
func (s *AuctionService) WithClock(now func() time.Time) *AuctionService {
	s.now = now
	return s
}

// WithRetryBudget sets how many compare-and-set attempts a bid or status
// change gets before failing with ErrConflictExceeded.
func (s *AuctionService) WithRetryBudget(budget int) *AuctionService {
	if budget > 0 {
		s.retryBudget = budget
	}
	return s
}

// WithDirectories wires the optional user/asset lookups used to validate
// session creation. Nil directories skip the check; the references stay weak.
func (s *AuctionService) WithDirectories(users UserDirectory, assets AssetDirectory) *AuctionService {
	s.users = users
	s.assets = assets
	return s
}

// WithEvents wires the post-commit notification sink.
func (s *AuctionService) WithEvents(events Events) *AuctionService {
	s.events = events
	return s
}

// PlaceBid validates and commits a bid against a session's current price.
//
// Acceptance is a compare-and-set loop: the amount is validated against the
// loaded price, and the store commits only if that price is still current.
// A lost race re-reads and re-validates the same amount against the new
// price, up to the retry budget. Commit order, not submission order, decides
// who wins under contention.
func (s *AuctionService) PlaceBid(sessionID, bidderID string, amount float64) (models.Bid, error) {
	if sessionID == "" || bidderID == "" {
		return models.Bid{}, fmt.Errorf("service: %w - missing sessionID or bidderID", auctionerrors.ErrInvalidBid)
	}
	if amount <= 0 {
		return models.Bid{}, fmt.Errorf("service: %w - non-positive bid amount", auctionerrors.ErrInvalidBid)
	}

	for attempt := 0; attempt < s.retryBudget; attempt++ {
		session, err := s.store.LoadSession(sessionID)
		if err != nil {
			return models.Bid{}, fmt.Errorf("service: failed to load session %s: %w", sessionID, err)
		}

		now := s.now()
		if effective := session.EffectiveStatusAt(now); effective != models.StatusActive {
			if effective == models.StatusEnded {
				// expired but not yet swept: persist the terminal status and
				// resolve the winner before rejecting
				s.finalizeEnded(session)
			}
			metrics.BidsRejected.WithLabelValues("not_active").Inc()
			return models.Bid{}, fmt.Errorf("service: %w - session %s is %s", auctionerrors.ErrSessionNotActive, sessionID, effective)
		}

		if !utils.MoneyExceeds(amount, session.CurrentPrice) {
			metrics.BidsRejected.WithLabelValues("too_low").Inc()
			return models.Bid{}, fmt.Errorf("service: %w - current price is %.2f", auctionerrors.ErrBidTooLow, session.CurrentPrice)
		}

		bid := models.Bid{
			BidID:     utils.GenerateID(),
			SessionID: sessionID,
			BidderID:  bidderID,
			Amount:    amount,
			CreatedAt: now,
		}

		ok, err := s.store.AppendBid(bid, session.CurrentPrice)
		if err != nil {
			return models.Bid{}, fmt.Errorf("service: failed to commit bid for session %s by bidder %s: %w", sessionID, bidderID, err)
		}
		if ok {
			metrics.BidsAccepted.Inc()
			if s.events != nil {
				s.events.BidAccepted(bid)
			}
			utils.Info("bid accepted", map[string]any{
				"session_id": sessionID,
				"bidder_id":  bidderID,
				"amount":     amount,
				"attempt":    attempt + 1,
			})
			return bid, nil
		}

		// another bid (or a cancellation) committed first; re-read and retry
		metrics.BidConflicts.Inc()
	}

	metrics.BidsRejected.WithLabelValues("conflict").Inc()
	return models.Bid{}, fmt.Errorf("service: %w - session %s after %d attempts", auctionerrors.ErrConflictExceeded, sessionID, s.retryBudget)
}

// CreateSession validates the schedule and price and persists a new session.
// When directories are configured, the creator and item references are
// checked against them first.
func (s *AuctionService) CreateSession(creatorID, itemID string, initialPrice float64, start, end time.Time, mysterious bool) (models.Session, error) {
	now := s.now()

	if s.users != nil && creatorID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), directoryTimeout)
		defer cancel()
		if _, err := s.users.ResolveUser(ctx, creatorID); err != nil {
			return models.Session{}, fmt.Errorf("service: %w - unknown creator %s: %v", auctionerrors.ErrInvalidSession, creatorID, err)
		}
	}
	if s.assets != nil && itemID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), directoryTimeout)
		defer cancel()
		if _, err := s.assets.ResolveAsset(ctx, itemID); err != nil {
			return models.Session{}, fmt.Errorf("service: %w - unknown item %s: %v", auctionerrors.ErrInvalidSession, itemID, err)
		}
	}

	session, err := models.NewSession(utils.GenerateID(), creatorID, itemID, initialPrice, start, end, now, mysterious)
	if err != nil {
		return models.Session{}, err
	}

	if err := s.store.CreateSession(session); err != nil {
		return models.Session{}, fmt.Errorf("service: failed to create session for item %s: %w", itemID, err)
	}

	utils.Info("session created", map[string]any{
		"session_id":    session.SessionID,
		"item_id":       itemID,
		"initial_price": initialPrice,
		"status":        string(session.Status),
	})
	return session, nil
}

// CancelSession moves a pending or active session to cancelled.
func (s *AuctionService) CancelSession(sessionID string) error {
	return s.UpdateStatus(sessionID, models.StatusCancelled)
}

// UpdateStatus applies an explicit status change. Transitions are judged
// against the effective status, so an expired session can never be set back
// to active even before the sweep has persisted ended. Setting active on a
// pending session opens it early by moving its start time to now.
func (s *AuctionService) UpdateStatus(sessionID string, to models.Status) error {
	if sessionID == "" {
		return fmt.Errorf("service: %w - empty session ID", auctionerrors.ErrInvalidSession)
	}
	if to != models.StatusActive && to != models.StatusCancelled {
		return fmt.Errorf("service: %w - status %s cannot be set explicitly", auctionerrors.ErrInvalidTransition, to)
	}

	for attempt := 0; attempt < s.retryBudget; attempt++ {
		session, err := s.store.LoadSession(sessionID)
		if err != nil {
			return fmt.Errorf("service: failed to load session %s: %w", sessionID, err)
		}

		now := s.now()
		effective := session.EffectiveStatusAt(now)
		if !models.CanTransition(effective, to) {
			return fmt.Errorf("service: %w - %s -> %s", auctionerrors.ErrInvalidTransition, effective, to)
		}

		updated := session
		updated.Status = to
		if to == models.StatusActive {
			updated.StartTime = now
		}

		ok, err := s.store.SaveAtomic(updated, session.CurrentPrice, session.Status)
		if err != nil {
			return fmt.Errorf("service: failed to update status of session %s: %w", sessionID, err)
		}
		if ok {
			utils.Info("session status updated", map[string]any{
				"session_id": sessionID,
				"from":       string(effective),
				"to":         string(to),
			})
			return nil
		}
		// lost a race against a concurrent bid commit; reload and retry
	}

	return fmt.Errorf("service: %w - status update for session %s", auctionerrors.ErrConflictExceeded, sessionID)
}

// GetSession returns a session together with its effective status.
func (s *AuctionService) GetSession(sessionID string) (models.Session, models.Status, error) {
	if sessionID == "" {
		return models.Session{}, "", fmt.Errorf("service: %w - empty session ID", auctionerrors.ErrInvalidSession)
	}

	session, err := s.store.LoadSession(sessionID)
	if err != nil {
		return models.Session{}, "", fmt.Errorf("service: failed to load session %s: %w", sessionID, err)
	}
	return session, session.EffectiveStatusAt(s.now()), nil
}

// GetEffectiveStatus returns the status a session should be treated as now.
func (s *AuctionService) GetEffectiveStatus(sessionID string) (models.Status, error) {
	_, status, err := s.GetSession(sessionID)
	return status, err
}

// GetBidsForSession returns all accepted bids of a session in commit order.
func (s *AuctionService) GetBidsForSession(sessionID string) ([]models.Bid, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("service: %w - empty session ID", auctionerrors.ErrInvalidSession)
	}

	bids, err := s.store.BidsBySession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get bids for session %s: %w", sessionID, err)
	}
	return bids, nil
}

// GetWinningBid returns the currently leading bid of a session.
func (s *AuctionService) GetWinningBid(sessionID string) (models.Bid, error) {
	bids, err := s.GetBidsForSession(sessionID)
	if err != nil {
		return models.Bid{}, err
	}

	winning, ok := ResolveWinner(bids)
	if !ok {
		return models.Bid{}, fmt.Errorf("service: %w: %s", auctionerrors.ErrNoBids, sessionID)
	}
	return winning, nil
}

// ListSessions returns sessions whose effective status matches the given one.
func (s *AuctionService) ListSessions(status models.Status) ([]models.Session, error) {
	switch status {
	case models.StatusPending, models.StatusActive, models.StatusEnded, models.StatusCancelled:
	default:
		return nil, fmt.Errorf("service: %w - unknown status %q", auctionerrors.ErrInvalidSession, status)
	}

	sessions, err := s.store.ListByEffectiveStatus(status, s.now())
	if err != nil {
		return nil, fmt.Errorf("service: failed to list sessions by status %s: %w", status, err)
	}
	return sessions, nil
}

// SweepExpiredSessions persists ended for every session whose end time has
// passed and resolves the winner of each. Safe to run concurrently with bid
// traffic and with itself; the store transitions each session exactly once.
// Returns the number of sessions transitioned by this call.
func (s *AuctionService) SweepExpiredSessions(now time.Time) (int, error) {
	swept, err := s.store.SweepExpired(now)
	if err != nil {
		return len(swept), fmt.Errorf("service: sweep failed: %w", err)
	}
	metrics.SessionsSwept.Add(float64(len(swept)))

	var firstErr error
	for _, session := range swept {
		if err := s.resolveWinner(session); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return len(swept), firstErr
}

// finalizeEnded persists the terminal status for a session observed past its
// end time on the bid path, then resolves its winner. Losing the status CAS
// means another writer moved the session first: a sweep resolves the winner
// itself and a cancellation must not be overwritten, so either way this call
// backs off.
func (s *AuctionService) finalizeEnded(session models.Session) {
	if !session.Status.Terminal() {
		ended := session
		ended.Status = models.StatusEnded
		ok, err := s.store.SaveAtomic(ended, session.CurrentPrice, session.Status)
		if err != nil {
			utils.Warn("failed to persist ended status", map[string]any{
				"session_id": session.SessionID,
				"error":      err.Error(),
			})
			return
		}
		if !ok {
			return
		}
	}
	if err := s.resolveWinner(session); err != nil {
		utils.Warn("winner resolution failed", map[string]any{
			"session_id": session.SessionID,
			"error":      err.Error(),
		})
	}
}

// resolveWinner runs at most once per session, gated by the store's
// MarkResolved compare-and-set, and reports the winner to the ownership
// transfer collaborator. No bids means no transfer.
func (s *AuctionService) resolveWinner(session models.Session) error {
	first, err := s.store.MarkResolved(session.SessionID)
	if err != nil {
		return fmt.Errorf("service: failed to mark session %s resolved: %w", session.SessionID, err)
	}
	if !first {
		return nil
	}

	bids, err := s.store.BidsBySession(session.SessionID)
	if err != nil {
		return fmt.Errorf("service: failed to load bids for session %s: %w", session.SessionID, err)
	}

	winner, ok := ResolveWinner(bids)
	if !ok {
		utils.Info("session ended without bids", map[string]any{"session_id": session.SessionID})
		if s.events != nil {
			s.events.SessionEnded(session, nil)
		}
		return nil
	}

	if s.events != nil {
		s.events.SessionEnded(session, &winner)
	}
	utils.Info("session ended", map[string]any{
		"session_id": session.SessionID,
		"winner_id":  winner.BidderID,
		"amount":     winner.Amount,
	})

	if s.transfer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), transferTimeout)
	defer cancel()
	if err := s.transfer.TransferOwnership(ctx, session.ItemID, winner.BidderID); err != nil {
		metrics.OwnershipTransfers.WithLabelValues("failure").Inc()
		utils.Error("ownership transfer failed", map[string]any{
			"session_id": session.SessionID,
			"item_id":    session.ItemID,
			"winner_id":  winner.BidderID,
			"error":      err.Error(),
		})
		return fmt.Errorf("service: ownership transfer for session %s: %w", session.SessionID, err)
	}
	metrics.OwnershipTransfers.WithLabelValues("success").Inc()
	return nil
}
