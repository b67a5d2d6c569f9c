package models

import (
	"fmt"
	"time"

	"auction-sessions/internal/auctionerrors"
)

// Status is the stored lifecycle state of an auction session.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusEnded     Status = "ended"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether a session can never leave this status.
func (s Status) Terminal() bool {
	return s == StatusEnded || s == StatusCancelled
}

// Session represents one timed auction tied to a single item.
// CurrentPrice and BidCount change only through the store's
// compare-and-set commit path; nothing else may assign them.
type Session struct {
	SessionID    string    `json:"session_id" bson:"_id"`
	CreatorID    string    `json:"creator_id" bson:"creator_id"`
	ItemID       string    `json:"item_id" bson:"item_id"`
	CreatedAt    time.Time `json:"created_at" bson:"created_at"`
	StartTime    time.Time `json:"start_time" bson:"start_time"`
	EndTime      time.Time `json:"end_time" bson:"end_time"`
	InitialPrice float64   `json:"initial_price" bson:"initial_price"`
	CurrentPrice float64   `json:"current_price" bson:"current_price"`
	BidCount     int       `json:"bid_count" bson:"bid_count"`
	Status       Status    `json:"status" bson:"status"`
	Mysterious   bool      `json:"mysterious" bson:"mysterious"` // display-only: hides current price in reads
	Resolved     bool      `json:"-" bson:"resolved"`            // winner resolution already performed
}

// User is a display identity resolved from the external user directory.
// The engine never owns or mutates users.
type User struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// Asset is the auctionable item a session refers to, resolved from the
// external asset directory.
type Asset struct {
	AssetID     string `json:"asset_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Bid represents an accepted bid on a session. Append-only.
type Bid struct {
	BidID     string    `json:"bid_id" bson:"_id"`
	SessionID string    `json:"session_id" bson:"session_id"`
	BidderID  string    `json:"bidder_id" bson:"bidder_id"`
	Amount    float64   `json:"amount" bson:"amount"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// NewSession validates construction arguments and returns a session whose
// stored status reflects its schedule at creation time.
func NewSession(sessionID, creatorID, itemID string, initialPrice float64, start, end, now time.Time, mysterious bool) (Session, error) {
	if sessionID == "" || creatorID == "" || itemID == "" {
		return Session{}, fmt.Errorf("new session: %w - missing identifier", auctionerrors.ErrInvalidSession)
	}
	if initialPrice <= 0 {
		return Session{}, fmt.Errorf("new session: %w - non-positive initial price %.2f", auctionerrors.ErrInvalidSession, initialPrice)
	}
	if start.After(end) {
		return Session{}, fmt.Errorf("new session: %w - start time after end time", auctionerrors.ErrInvalidSession)
	}

	s := Session{
		SessionID:    sessionID,
		CreatorID:    creatorID,
		ItemID:       itemID,
		CreatedAt:    now,
		StartTime:    start,
		EndTime:      end,
		InitialPrice: initialPrice,
		CurrentPrice: initialPrice,
		Status:       StatusPending,
		Mysterious:   mysterious,
	}
	if !now.Before(start) {
		s.Status = StatusActive
	}
	return s, nil
}

// EffectiveStatus derives the status a session should be treated as right
// now. A cancelled session stays cancelled; otherwise the schedule wins over
// whatever status happens to be stored, so an expired session reads as ended
// even before the sweep has persisted it.
func EffectiveStatus(stored Status, start, end, now time.Time) Status {
	if stored == StatusCancelled {
		return StatusCancelled
	}
	if !now.Before(end) {
		return StatusEnded
	}
	if now.Before(start) {
		return StatusPending
	}
	return StatusActive
}

// EffectiveStatusAt is EffectiveStatus applied to this session's schedule.
func (s Session) EffectiveStatusAt(now time.Time) Status {
	return EffectiveStatus(s.Status, s.StartTime, s.EndTime, now)
}

// CanTransition reports whether an explicit status change from the session's
// effective status to the requested one is legal. Terminal states never
// reopen; cancellation is allowed while the session is pending or active.
func CanTransition(effective, to Status) bool {
	switch {
	case effective.Terminal():
		return false
	case to == StatusCancelled:
		return true
	case to == StatusActive && effective == StatusPending:
		return true
	default:
		return false
	}
}
