package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	auction "auction-sessions/internal/auctionService"
	handler "auction-sessions/services/auction/handler"
)

// SetupRouter configures all Gin routes for the application. A nil limiter
// disables bid throttling.
func SetupRouter(auctionService *auction.AuctionService, limiter *KeyLimiter) *gin.Engine {
	router := gin.New() // New router without default middleware for full control over middleware and logging

	router.Use(gin.Recovery())          // recover from panics
	router.Use(RequestLoggerMiddleware) // custom request logging

	auctionHandler := handler.NewAuctionHandler(auctionService)

	sessions := router.Group("/sessions")
	{
		sessions.POST("", auctionHandler.CreateSessionHandler)
		sessions.GET("", auctionHandler.ListSessionsHandler)
		sessions.GET("/:session_id", auctionHandler.GetSessionHandler)
		sessions.GET("/:session_id/status", auctionHandler.GetStatusHandler)
		sessions.PATCH("/:session_id/status", auctionHandler.UpdateStatusHandler)
		sessions.POST("/:session_id/cancel", auctionHandler.CancelSessionHandler)
		sessions.GET("/:session_id/bids", auctionHandler.GetBidsBySessionHandler)
		sessions.GET("/:session_id/winning", auctionHandler.GetWinningBidHandler)
	}

	bids := router.Group("/bids")
	bids.Use(RateLimitMiddleware(limiter))
	{
		bids.POST("", auctionHandler.PlaceBidHandler)
	}

	admin := router.Group("/admin")
	{
		admin.POST("/sweep", auctionHandler.SweepHandler)
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}
