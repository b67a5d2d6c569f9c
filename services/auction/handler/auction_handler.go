package handler

import (
	"fmt"
	"net/http"
	"time"

	model "auction-sessions/internal/models"
	"auction-sessions/services/auction/helpers"
	"auction-sessions/utils"

	"github.com/gin-gonic/gin"
)

type AuctionServiceInterface interface {
	PlaceBid(sessionID, bidderID string, amount float64) (model.Bid, error)
	CreateSession(creatorID, itemID string, initialPrice float64, start, end time.Time, mysterious bool) (model.Session, error)
	CancelSession(sessionID string) error
	UpdateStatus(sessionID string, to model.Status) error
	GetSession(sessionID string) (model.Session, model.Status, error)
	GetEffectiveStatus(sessionID string) (model.Status, error)
	GetBidsForSession(sessionID string) ([]model.Bid, error)
	GetWinningBid(sessionID string) (model.Bid, error)
	ListSessions(status model.Status) ([]model.Session, error)
	SweepExpiredSessions(now time.Time) (int, error)
}

type AuctionHandler struct {
	service AuctionServiceInterface
}

func NewAuctionHandler(service AuctionServiceInterface) *AuctionHandler {
	return &AuctionHandler{service: service}
}

// PlaceBidHandler handles POST /bids
func (h *AuctionHandler) PlaceBidHandler(c *gin.Context) {
	var req helpers.PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "PlaceBidHandler", err)
		return
	}

	bid, err := h.service.PlaceBid(req.SessionID, req.BidderID, req.Amount)
	if err != nil {
		status, message := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
		utils.Error("PlaceBidHandler: failed to place bid", map[string]any{
			"handler":    "PlaceBidHandler",
			"session_id": req.SessionID,
			"bidder_id":  req.BidderID,
			"error":      err.Error(),
		})
		return
	}

	utils.JSONResponse(c, http.StatusCreated, helpers.NewBidResponse(bid), "bid placed successfully")
	helpers.LogSuccess("PlaceBidHandler", "bid placed successfully", map[string]any{
		"bid_id":     bid.BidID,
		"session_id": bid.SessionID,
		"bidder_id":  req.BidderID,
		"amount":     bid.Amount,
	})
}

// CreateSessionHandler handles POST /sessions
func (h *AuctionHandler) CreateSessionHandler(c *gin.Context) {
	var req helpers.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "CreateSessionHandler", err)
		return
	}

	session, err := h.service.CreateSession(req.CreatorID, req.ItemID, req.InitialPrice, req.StartTime, req.EndTime, req.Mysterious)
	if err != nil {
		status, message := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
		utils.Warn("CreateSessionHandler: failed to create session", map[string]any{
			"item_id": req.ItemID,
			"error":   err.Error(),
		})
		return
	}

	utils.JSONResponse(c, http.StatusCreated, helpers.NewSessionResponse(session, session.Status), "session created successfully")
	helpers.LogSuccess("CreateSessionHandler", "session created successfully", map[string]any{
		"session_id": session.SessionID,
		"item_id":    session.ItemID,
	})
}

// GetSessionHandler handles GET /sessions/:session_id
func (h *AuctionHandler) GetSessionHandler(c *gin.Context) {
	sessionID := c.Param("session_id")
	session, effective, err := h.service.GetSession(sessionID)
	if err != nil {
		status, message := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
		utils.Warn("GetSessionHandler: error retrieving session", map[string]any{"session_id": sessionID, "error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.NewSessionResponse(session, effective), "session retrieved successfully")
}

// ListSessionsHandler handles GET /sessions?status=
func (h *AuctionHandler) ListSessionsHandler(c *gin.Context) {
	status := model.Status(c.DefaultQuery("status", string(model.StatusActive)))

	sessions, err := h.service.ListSessions(status)
	if err != nil {
		httpStatus, message := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, httpStatus, fmt.Errorf("%s: %w", message, err), message)
		utils.Warn("ListSessionsHandler: error listing sessions", map[string]any{"status": string(status), "error": err.Error()})
		return
	}

	resp := make([]helpers.SessionResponse, 0, len(sessions))
	for _, session := range sessions {
		resp = append(resp, helpers.NewSessionResponse(session, status))
	}

	utils.JSONResponse(c, http.StatusOK, resp, "sessions retrieved successfully")
}

// GetStatusHandler handles GET /sessions/:session_id/status
func (h *AuctionHandler) GetStatusHandler(c *gin.Context) {
	sessionID := c.Param("session_id")
	status, err := h.service.GetEffectiveStatus(sessionID)
	if err != nil {
		httpStatus, message := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, httpStatus, fmt.Errorf("%s: %w", message, err), message)
		utils.Warn("GetStatusHandler: error resolving status", map[string]any{"session_id": sessionID, "error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusOK, gin.H{"session_id": sessionID, "effective_status": string(status)}, "status resolved successfully")
}

// UpdateStatusHandler handles PATCH /sessions/:session_id/status
func (h *AuctionHandler) UpdateStatusHandler(c *gin.Context) {
	sessionID := c.Param("session_id")

	var req helpers.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "UpdateStatusHandler", err)
		return
	}

	if err := h.service.UpdateStatus(sessionID, model.Status(req.Status)); err != nil {
		status, message := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
		utils.Warn("UpdateStatusHandler: failed to update status", map[string]any{
			"session_id": sessionID,
			"to":         req.Status,
			"error":      err.Error(),
		})
		return
	}

	utils.JSONResponse(c, http.StatusOK, gin.H{"session_id": sessionID, "status": req.Status}, "status updated successfully")
	helpers.LogSuccess("UpdateStatusHandler", "status updated successfully", map[string]any{
		"session_id": sessionID,
		"to":         req.Status,
	})
}

// CancelSessionHandler handles POST /sessions/:session_id/cancel
func (h *AuctionHandler) CancelSessionHandler(c *gin.Context) {
	sessionID := c.Param("session_id")

	if err := h.service.CancelSession(sessionID); err != nil {
		status, message := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
		utils.Warn("CancelSessionHandler: failed to cancel session", map[string]any{"session_id": sessionID, "error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusOK, gin.H{"session_id": sessionID, "status": string(model.StatusCancelled)}, "session cancelled successfully")
	helpers.LogSuccess("CancelSessionHandler", "session cancelled successfully", map[string]any{"session_id": sessionID})
}

// GetBidsBySessionHandler handles GET /sessions/:session_id/bids
func (h *AuctionHandler) GetBidsBySessionHandler(c *gin.Context) {
	sessionID := c.Param("session_id")
	bids, err := h.service.GetBidsForSession(sessionID)
	if err != nil {
		status, message := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
		utils.Warn("GetBidsBySessionHandler: error retrieving bids", map[string]any{"session_id": sessionID, "error": err.Error()})
		return
	}

	resp := make([]helpers.BidResponse, 0, len(bids))
	for _, bid := range bids {
		resp = append(resp, helpers.NewBidResponse(bid))
	}

	utils.JSONResponse(c, http.StatusOK, resp, "bids retrieved successfully")
	helpers.LogSuccess("GetBidsBySessionHandler", "bids retrieved successfully", map[string]any{
		"session_id": sessionID,
		"count":      len(bids),
	})
}

// GetWinningBidHandler handles GET /sessions/:session_id/winning
func (h *AuctionHandler) GetWinningBidHandler(c *gin.Context) {
	sessionID := c.Param("session_id")
	bid, err := h.service.GetWinningBid(sessionID)
	if err != nil {
		status, message := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
		utils.Warn("GetWinningBidHandler: winning bid error", map[string]any{"session_id": sessionID, "error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.NewBidResponse(bid), "winning bid retrieved successfully")
	helpers.LogSuccess("GetWinningBidHandler", "winning bid retrieved successfully", map[string]any{
		"bid_id":     bid.BidID,
		"session_id": bid.SessionID,
		"bidder_id":  bid.BidderID,
		"amount":     bid.Amount,
	})
}

// SweepHandler handles POST /admin/sweep. External schedulers call this;
// the engine itself owns no timer.
func (h *AuctionHandler) SweepHandler(c *gin.Context) {
	count, err := h.service.SweepExpiredSessions(time.Now().UTC())
	if err != nil {
		status, message := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
		utils.Error("SweepHandler: sweep failed", map[string]any{"swept": count, "error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusOK, gin.H{"swept": count}, "sweep completed successfully")
	helpers.LogSuccess("SweepHandler", "sweep completed successfully", map[string]any{"swept": count})
}
