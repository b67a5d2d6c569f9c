package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters for the bid acceptance path and the expiry sweep. Registered on
// the default registerer and exposed via the /metrics endpoint.
var (
	BidsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auction_bids_accepted_total",
		Help: "Number of bids accepted and committed.",
	})

	BidsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_bids_rejected_total",
		Help: "Number of bids rejected, by reason.",
	}, []string{"reason"})

	BidConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auction_bid_conflicts_total",
		Help: "Number of compare-and-set conflicts on the bid path.",
	})

	SessionsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auction_sessions_swept_total",
		Help: "Number of sessions transitioned to ended by the expiry sweep.",
	})

	OwnershipTransfers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_ownership_transfers_total",
		Help: "Ownership transfer attempts after winner resolution, by outcome.",
	}, []string{"outcome"})
)
