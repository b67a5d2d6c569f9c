package helpers

import (
	"time"

	model "auction-sessions/internal/models"
)

// Request/Response DTOs
type PlaceBidRequest struct {
	SessionID string  `json:"session_id" binding:"required"`
	BidderID  string  `json:"bidder_id" binding:"required"`
	Amount    float64 `json:"amount" binding:"required,gt=0"`
}

type CreateSessionRequest struct {
	CreatorID    string    `json:"creator_id" binding:"required"`
	ItemID       string    `json:"item_id" binding:"required"`
	InitialPrice float64   `json:"initial_price" binding:"required,gt=0"`
	StartTime    time.Time `json:"start_time" binding:"required"`
	EndTime      time.Time `json:"end_time" binding:"required"`
	Mysterious   bool      `json:"mysterious"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=active cancelled"`
}

type BidResponse struct {
	BidID     string  `json:"bid_id"`
	SessionID string  `json:"session_id"`
	BidderID  string  `json:"bidder_id"`
	Amount    float64 `json:"amount"`
	CreatedAt string  `json:"created_at"`
}

type SessionResponse struct {
	SessionID       string   `json:"session_id"`
	CreatorID       string   `json:"creator_id"`
	ItemID          string   `json:"item_id"`
	StartTime       string   `json:"start_time"`
	EndTime         string   `json:"end_time"`
	InitialPrice    float64  `json:"initial_price"`
	CurrentPrice    *float64 `json:"current_price,omitempty"` // nil for mysterious sessions
	BidCount        int      `json:"bid_count"`
	EffectiveStatus string   `json:"effective_status"`
	Mysterious      bool     `json:"mysterious"`
}

// NewBidResponse converts a bid entity into its wire form.
func NewBidResponse(bid model.Bid) BidResponse {
	return BidResponse{
		BidID:     bid.BidID,
		SessionID: bid.SessionID,
		BidderID:  bid.BidderID,
		Amount:    bid.Amount,
		CreatedAt: bid.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// NewSessionResponse converts a session into its wire form. Mysterious
// sessions omit the current price; the flag never changes engine behaviour.
func NewSessionResponse(session model.Session, effective model.Status) SessionResponse {
	resp := SessionResponse{
		SessionID:       session.SessionID,
		CreatorID:       session.CreatorID,
		ItemID:          session.ItemID,
		StartTime:       session.StartTime.UTC().Format(time.RFC3339),
		EndTime:         session.EndTime.UTC().Format(time.RFC3339),
		InitialPrice:    session.InitialPrice,
		BidCount:        session.BidCount,
		EffectiveStatus: string(effective),
		Mysterious:      session.Mysterious,
	}
	if !session.Mysterious {
		price := session.CurrentPrice
		resp.CurrentPrice = &price
	}
	return resp
}
