package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"

	auction "auction-sessions/internal/auctionService"
	"auction-sessions/internal/config"
	"auction-sessions/internal/repository"
	"auction-sessions/internal/server"
	"auction-sessions/utils"
)

func main() {
	cfg := config.LoadFromPath(os.Getenv("AUCTION_CONFIG"))

	store, err := newStore(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize store: %v\n", err)
		os.Exit(1)
	}

	auctionSvc := auction.NewAuctionService(store, logTransfer{}).
		WithRetryBudget(cfg.BidRetryBudget)

	limiter := server.NewKeyLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.RateLimitIdleTTL.Std())
	router := server.SetupRouter(auctionSvc, limiter)

	// The engine owns no timer; this outer ticker plays the scheduler role,
	// alongside the POST /admin/sweep endpoint.
	go runSweeper(auctionSvc, cfg.SweepInterval.Std())

	addr := fmt.Sprintf(":%d", cfg.Port)
	fmt.Printf("Starting auction server on %s...\n", addr)
	if err := router.Run(addr); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start server: %v\n", err)
		os.Exit(1)
	}
}

// newStore picks the Mongo-backed store when a URI is configured and the
// in-memory store otherwise.
func newStore(cfg config.Config) (repository.SessionStore, error) {
	if cfg.MongoURI == "" {
		return repository.NewMemoryStore(), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, mongooptions.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return repository.NewMongoStore(client, cfg.MongoDatabase), nil
}

// runSweeper periodically finalizes expired sessions.
func runSweeper(svc *auction.AuctionService, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for now := range ticker.C {
		count, err := svc.SweepExpiredSessions(now.UTC())
		if err != nil {
			utils.Error("sweep failed", map[string]any{"swept": count, "error": err.Error()})
			continue
		}
		if count > 0 {
			utils.Info("sweep completed", map[string]any{"swept": count})
		}
	}
}

// logTransfer stands in for the external ownership-transfer collaborator
// until one is wired; it only records the handoff.
type logTransfer struct{}

func (logTransfer) TransferOwnership(_ context.Context, itemID, bidderID string) error {
	utils.Info("ownership transferred", map[string]any{
		"item_id":   itemID,
		"bidder_id": bidderID,
	})
	return nil
}
