package repository

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"auction-sessions/internal/auctionerrors"
	model "auction-sessions/internal/models"
	"auction-sessions/utils"
)

// SessionStore defines the persistence contract consumed by the auction
// engine. Implementations must provide a per-session compare-and-set
// primitive; the engine never takes a process-wide lock of its own.
type SessionStore interface {
	// CreateSession persists a newly constructed session.
	CreateSession(session model.Session) error

	// LoadSession returns the current state of a session.
	LoadSession(sessionID string) (model.Session, error)

	// SaveAtomic persists the session only if its stored current price and
	// status still equal the expected preimage. Used for status transitions;
	// returns false when another writer committed in the interim, whether that
	// writer advanced the price or moved the status.
	SaveAtomic(session model.Session, expectedPrice float64, expectedStatus model.Status) (bool, error)

	// AppendBid commits an accepted bid: if the session's current price still
	// equals expectedPrice and the session has not been cancelled, the price
	// advance, the bid-count increment and the bid row are written as one
	// indivisible unit. Returns false when the compare-and-set loses.
	AppendBid(bid model.Bid, expectedPrice float64) (bool, error)

	// BidsBySession returns the accepted bids of a session in commit order.
	BidsBySession(sessionID string) ([]model.Bid, error)

	// ListByEffectiveStatus returns sessions whose effective status at now
	// matches the given status.
	ListByEffectiveStatus(status model.Status, now time.Time) ([]model.Session, error)

	// SweepExpired persists StatusEnded for every non-terminal session whose
	// end time has passed, and returns the sessions it transitioned.
	SweepExpired(now time.Time) ([]model.Session, error)

	// MarkResolved flips the session's winner-resolution gate. Returns true
	// only for the first caller; later calls are no-ops.
	MarkResolved(sessionID string) (bool, error)
}

// sessionRecord carries one session and its bid history behind a dedicated
// mutex, so contention on one session never blocks another.
type sessionRecord struct {
	mu      sync.Mutex
	session model.Session
	bids    []model.Bid
}

// MemoryStore is a concurrency-safe in-memory implementation of SessionStore.
// The outer RWMutex guards only map membership; all per-session mutation
// happens under the record's own lock.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*sessionRecord // key: sessionID
}

// NewMemoryStore creates a new in-memory store instance
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*sessionRecord),
	}
}

func (s *MemoryStore) record(sessionID string) (*sessionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[sessionID]
	return rec, ok
}

// CreateSession persists a newly constructed session.
func (s *MemoryStore) CreateSession(session model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.SessionID]; ok {
		return fmt.Errorf("create session %s: %w - duplicate id", session.SessionID, auctionerrors.ErrInvalidSession)
	}
	s.sessions[session.SessionID] = &sessionRecord{session: session}
	return nil
}

// LoadSession returns a copy of the session's current state.
func (s *MemoryStore) LoadSession(sessionID string) (model.Session, error) {
	rec, ok := s.record(sessionID)
	if !ok {
		return model.Session{}, fmt.Errorf("load session %s: %w", sessionID, auctionerrors.ErrSessionNotFound)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.session, nil
}

// SaveAtomic writes the session if its current price and status are unchanged.
func (s *MemoryStore) SaveAtomic(session model.Session, expectedPrice float64, expectedStatus model.Status) (bool, error) {
	rec, ok := s.record(session.SessionID)
	if !ok {
		return false, fmt.Errorf("save session %s: %w", session.SessionID, auctionerrors.ErrSessionNotFound)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.session.Status != expectedStatus {
		return false, nil
	}
	if !utils.MoneyEquals(rec.session.CurrentPrice, expectedPrice) {
		return false, nil
	}
	rec.session = session
	return true, nil
}

// AppendBid commits the price advance, the count increment and the bid row
// in one critical section, guarded by the price compare-and-set.
func (s *MemoryStore) AppendBid(bid model.Bid, expectedPrice float64) (bool, error) {
	rec, ok := s.record(bid.SessionID)
	if !ok {
		return false, fmt.Errorf("append bid for session %s: %w", bid.SessionID, auctionerrors.ErrSessionNotFound)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.session.Status == model.StatusCancelled {
		return false, nil
	}
	if !utils.MoneyEquals(rec.session.CurrentPrice, expectedPrice) {
		return false, nil
	}

	rec.session.CurrentPrice = bid.Amount
	rec.session.BidCount++
	rec.bids = append(rec.bids, bid)
	return true, nil
}

// BidsBySession returns all accepted bids for a session in commit order.
func (s *MemoryStore) BidsBySession(sessionID string) ([]model.Bid, error) {
	rec, ok := s.record(sessionID)
	if !ok {
		return nil, fmt.Errorf("get bids for session %s: %w", sessionID, auctionerrors.ErrSessionNotFound)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]model.Bid(nil), rec.bids...), nil
}

// ListByEffectiveStatus returns sessions matching the given effective status,
// ordered by session id for stable output.
func (s *MemoryStore) ListByEffectiveStatus(status model.Status, now time.Time) ([]model.Session, error) {
	s.mu.RLock()
	records := make([]*sessionRecord, 0, len(s.sessions))
	for _, rec := range s.sessions {
		records = append(records, rec)
	}
	s.mu.RUnlock()

	matched := make([]model.Session, 0, len(records))
	for _, rec := range records {
		rec.mu.Lock()
		if rec.session.EffectiveStatusAt(now) == status {
			matched = append(matched, rec.session)
		}
		rec.mu.Unlock()
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].SessionID < matched[j].SessionID })
	return matched, nil
}

// SweepExpired durably marks expired sessions as ended. Idempotent: a
// session already stored as ended or cancelled is skipped, so the sweep can
// run concurrently with bid traffic and with itself.
func (s *MemoryStore) SweepExpired(now time.Time) ([]model.Session, error) {
	s.mu.RLock()
	records := make([]*sessionRecord, 0, len(s.sessions))
	for _, rec := range s.sessions {
		records = append(records, rec)
	}
	s.mu.RUnlock()

	var swept []model.Session
	for _, rec := range records {
		rec.mu.Lock()
		if !rec.session.Status.Terminal() && !now.Before(rec.session.EndTime) {
			rec.session.Status = model.StatusEnded
			swept = append(swept, rec.session)
		}
		rec.mu.Unlock()
	}

	sort.Slice(swept, func(i, j int) bool { return swept[i].SessionID < swept[j].SessionID })
	return swept, nil
}

// MarkResolved returns true only on the first call for a session.
func (s *MemoryStore) MarkResolved(sessionID string) (bool, error) {
	rec, ok := s.record(sessionID)
	if !ok {
		return false, fmt.Errorf("mark resolved for session %s: %w", sessionID, auctionerrors.ErrSessionNotFound)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.session.Resolved {
		return false, nil
	}
	rec.session.Resolved = true
	return true, nil
}
