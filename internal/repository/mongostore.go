package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"auction-sessions/internal/auctionerrors"
	model "auction-sessions/internal/models"
)

// MongoStore implements SessionStore on MongoDB. Conditional single-document
// updates provide the compare-and-set primitive: a price or status write
// carries its expected preimage in the filter, so a lost race shows up as
// MatchedCount == 0 instead of a silent overwrite.
type MongoStore struct {
	client   *mongo.Client
	sessions *mongo.Collection
	bids     *mongo.Collection
	timeout  time.Duration
}

// NewMongoStore creates a store backed by the given database.
func NewMongoStore(client *mongo.Client, database string) *MongoStore {
	db := client.Database(database)
	return &MongoStore{
		client:   client,
		sessions: db.Collection("sessions"),
		bids:     db.Collection("bids"),
		timeout:  5 * time.Second,
	}
}

func (s *MongoStore) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

// CreateSession persists a newly constructed session.
func (s *MongoStore) CreateSession(session model.Session) error {
	ctx, cancel := s.ctx()
	defer cancel()

	if _, err := s.sessions.InsertOne(ctx, session); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("create session %s: %w - duplicate id", session.SessionID, auctionerrors.ErrInvalidSession)
		}
		return fmt.Errorf("create session %s: %w: %v", session.SessionID, auctionerrors.ErrPersistence, err)
	}
	return nil
}

// LoadSession returns the current state of a session.
func (s *MongoStore) LoadSession(sessionID string) (model.Session, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	var session model.Session
	err := s.sessions.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&session)
	if err == mongo.ErrNoDocuments {
		return model.Session{}, fmt.Errorf("load session %s: %w", sessionID, auctionerrors.ErrSessionNotFound)
	}
	if err != nil {
		return model.Session{}, fmt.Errorf("load session %s: %w: %v", sessionID, auctionerrors.ErrPersistence, err)
	}
	return session, nil
}

// SaveAtomic writes the session if its stored current price and status are
// unchanged.
func (s *MongoStore) SaveAtomic(session model.Session, expectedPrice float64, expectedStatus model.Status) (bool, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	res, err := s.sessions.ReplaceOne(ctx, bson.M{
		"_id":           session.SessionID,
		"current_price": expectedPrice,
		"status":        expectedStatus,
	}, session)
	if err != nil {
		return false, fmt.Errorf("save session %s: %w: %v", session.SessionID, auctionerrors.ErrPersistence, err)
	}
	if res.MatchedCount == 0 {
		// distinguish a lost race from a missing session
		if _, loadErr := s.LoadSession(session.SessionID); loadErr != nil {
			return false, loadErr
		}
		return false, nil
	}
	return true, nil
}

// AppendBid advances the session price under the compare-and-set filter and
// records the bid row in the same transaction, so the price advance, the
// count increment and the bid row commit together or not at all.
func (s *MongoStore) AppendBid(bid model.Bid, expectedPrice float64) (bool, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	sess, err := s.client.StartSession()
	if err != nil {
		return false, fmt.Errorf("append bid for session %s: %w: %v", bid.SessionID, auctionerrors.ErrPersistence, err)
	}
	defer sess.EndSession(ctx)

	committed, err := sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		res, err := s.sessions.UpdateOne(sc, bson.M{
			"_id":           bid.SessionID,
			"current_price": expectedPrice,
			"status":        bson.M{"$ne": model.StatusCancelled},
		}, bson.M{
			"$set": bson.M{"current_price": bid.Amount},
			"$inc": bson.M{"bid_count": 1},
		})
		if err != nil {
			return false, err
		}
		if res.MatchedCount == 0 {
			return false, nil
		}
		if _, err := s.bids.InsertOne(sc, bid); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return false, fmt.Errorf("append bid for session %s: %w: %v", bid.SessionID, auctionerrors.ErrPersistence, err)
	}
	if ok, _ := committed.(bool); !ok {
		// distinguish a lost race from a missing session
		if _, loadErr := s.LoadSession(bid.SessionID); loadErr != nil {
			return false, loadErr
		}
		return false, nil
	}
	return true, nil
}

// BidsBySession returns the accepted bids of a session in commit order.
func (s *MongoStore) BidsBySession(sessionID string) ([]model.Bid, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	cur, err := s.bids.Find(ctx, bson.M{"session_id": sessionID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("get bids for session %s: %w: %v", sessionID, auctionerrors.ErrPersistence, err)
	}

	var bids []model.Bid
	if err := cur.All(ctx, &bids); err != nil {
		return nil, fmt.Errorf("get bids for session %s: %w: %v", sessionID, auctionerrors.ErrPersistence, err)
	}
	return bids, nil
}

// effectiveStatusFilter translates an effective status into a query over the
// stored status and schedule fields.
func effectiveStatusFilter(status model.Status, now time.Time) bson.M {
	notCancelled := bson.M{"$ne": model.StatusCancelled}
	switch status {
	case model.StatusCancelled:
		return bson.M{"status": model.StatusCancelled}
	case model.StatusEnded:
		return bson.M{"status": notCancelled, "end_time": bson.M{"$lte": now}}
	case model.StatusPending:
		return bson.M{"status": notCancelled, "start_time": bson.M{"$gt": now}, "end_time": bson.M{"$gt": now}}
	default: // active
		return bson.M{"status": notCancelled, "start_time": bson.M{"$lte": now}, "end_time": bson.M{"$gt": now}}
	}
}

// ListByEffectiveStatus returns sessions matching the given effective status.
func (s *MongoStore) ListByEffectiveStatus(status model.Status, now time.Time) ([]model.Session, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	cur, err := s.sessions.Find(ctx, effectiveStatusFilter(status, now),
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list sessions by status %s: %w: %v", status, auctionerrors.ErrPersistence, err)
	}

	var sessions []model.Session
	if err := cur.All(ctx, &sessions); err != nil {
		return nil, fmt.Errorf("list sessions by status %s: %w: %v", status, auctionerrors.ErrPersistence, err)
	}
	return sessions, nil
}

// SweepExpired persists StatusEnded for expired non-terminal sessions and
// returns the ones this call transitioned. The status filter makes the
// update conditional, so concurrent sweeps split the work without ever
// transitioning a session twice.
func (s *MongoStore) SweepExpired(now time.Time) ([]model.Session, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	filter := bson.M{
		"status":   bson.M{"$nin": []model.Status{model.StatusEnded, model.StatusCancelled}},
		"end_time": bson.M{"$lte": now},
	}

	var swept []model.Session
	for {
		var session model.Session
		err := s.sessions.FindOneAndUpdate(ctx, filter,
			bson.M{"$set": bson.M{"status": model.StatusEnded}},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&session)
		if err == mongo.ErrNoDocuments {
			return swept, nil
		}
		if err != nil {
			return swept, fmt.Errorf("sweep expired sessions: %w: %v", auctionerrors.ErrPersistence, err)
		}
		swept = append(swept, session)
	}
}

// MarkResolved returns true only for the caller that flips the gate.
func (s *MongoStore) MarkResolved(sessionID string) (bool, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	res, err := s.sessions.UpdateOne(ctx,
		bson.M{"_id": sessionID, "resolved": false},
		bson.M{"$set": bson.M{"resolved": true}})
	if err != nil {
		return false, fmt.Errorf("mark resolved for session %s: %w: %v", sessionID, auctionerrors.ErrPersistence, err)
	}
	if res.MatchedCount == 0 {
		if _, loadErr := s.LoadSession(sessionID); loadErr != nil {
			return false, loadErr
		}
		return false, nil
	}
	return true, nil
}
