package auction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"auction-sessions/internal/auctionerrors"
	model "auction-sessions/internal/models"
	"auction-sessions/internal/repository"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func activeSession(id string, price float64) model.Session {
	return model.Session{
		SessionID:    id,
		CreatorID:    "creator1",
		ItemID:       "item-" + id,
		StartTime:    testNow.Add(-time.Hour),
		EndTime:      testNow.Add(time.Hour),
		InitialPrice: 100,
		CurrentPrice: price,
		Status:       model.StatusActive,
	}
}

// fakeTransfer records ownership handoffs for assertions.
type fakeTransfer struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeTransfer) TransferOwnership(_ context.Context, itemID, bidderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, itemID+"->"+bidderID)
	return f.err
}

func (f *fakeTransfer) transfers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// fakeEvents counts post-commit notifications.
type fakeEvents struct {
	mu       sync.Mutex
	accepted int
	ended    []string // "sessionID:winnerBidderID", winner "-" when absent
}

func (f *fakeEvents) BidAccepted(model.Bid) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accepted++
}

func (f *fakeEvents) SessionEnded(session model.Session, winner *model.Bid) {
	f.mu.Lock()
	defer f.mu.Unlock()
	winnerID := "-"
	if winner != nil {
		winnerID = winner.BidderID
	}
	f.ended = append(f.ended, session.SessionID+":"+winnerID)
}

// fakeDirectory resolves only the ids it was seeded with.
type fakeDirectory struct {
	users  map[string]model.User
	assets map[string]model.Asset
}

func (f *fakeDirectory) ResolveUser(_ context.Context, userID string) (model.User, error) {
	if u, ok := f.users[userID]; ok {
		return u, nil
	}
	return model.User{}, errors.New("unknown user")
}

func (f *fakeDirectory) ResolveAsset(_ context.Context, itemID string) (model.Asset, error) {
	if a, ok := f.assets[itemID]; ok {
		return a, nil
	}
	return model.Asset{}, errors.New("unknown asset")
}

// Tests PlaceBid
func TestAuctionService_PlaceBid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		sessionID     string
		bidderID      string
		amount        float64
		retryBudget   int
		mockSetup     func(m *repository.MockSessionStore)
		expectError   bool
		expectedError error
	}{
		{
			name:      "accepted_first_bid",
			sessionID: "s1",
			bidderID:  "user1",
			amount:    150,
			mockSetup: func(m *repository.MockSessionStore) {
				m.EXPECT().LoadSession("s1").Return(activeSession("s1", 100), nil)
				m.EXPECT().AppendBid(gomock.Any(), 100.0).Return(true, nil)
			},
		},
		{
			name:          "empty_session_id",
			sessionID:     "",
			bidderID:      "user1",
			amount:        50,
			mockSetup:     func(m *repository.MockSessionStore) {},
			expectError:   true,
			expectedError: auctionerrors.ErrInvalidBid,
		},
		{
			name:          "empty_bidder_id",
			sessionID:     "s1",
			bidderID:      "",
			amount:        50,
			mockSetup:     func(m *repository.MockSessionStore) {},
			expectError:   true,
			expectedError: auctionerrors.ErrInvalidBid,
		},
		{
			name:          "non_positive_amount",
			sessionID:     "s1",
			bidderID:      "user1",
			amount:        0,
			mockSetup:     func(m *repository.MockSessionStore) {},
			expectError:   true,
			expectedError: auctionerrors.ErrInvalidBid,
		},
		{
			name:      "session_not_found",
			sessionID: "missing",
			bidderID:  "user1",
			amount:    150,
			mockSetup: func(m *repository.MockSessionStore) {
				m.EXPECT().LoadSession("missing").
					Return(model.Session{}, fmt.Errorf("load session missing: %w", auctionerrors.ErrSessionNotFound))
			},
			expectError:   true,
			expectedError: auctionerrors.ErrSessionNotFound,
		},
		{
			name:      "pending_session_rejected",
			sessionID: "s1",
			bidderID:  "user1",
			amount:    150,
			mockSetup: func(m *repository.MockSessionStore) {
				pending := activeSession("s1", 100)
				pending.StartTime = testNow.Add(time.Hour)
				pending.EndTime = testNow.Add(2 * time.Hour)
				pending.Status = model.StatusPending
				m.EXPECT().LoadSession("s1").Return(pending, nil)
			},
			expectError:   true,
			expectedError: auctionerrors.ErrSessionNotActive,
		},
		{
			name:      "cancelled_session_rejected",
			sessionID: "s1",
			bidderID:  "user1",
			amount:    150,
			mockSetup: func(m *repository.MockSessionStore) {
				cancelled := activeSession("s1", 100)
				cancelled.Status = model.StatusCancelled
				m.EXPECT().LoadSession("s1").Return(cancelled, nil)
			},
			expectError:   true,
			expectedError: auctionerrors.ErrSessionNotActive,
		},
		{
			// scenario: end time passed but the sweep has not run yet; the bid
			// is rejected and the session is finalized lazily
			name:      "expired_session_finalized_lazily",
			sessionID: "s1",
			bidderID:  "user1",
			amount:    150,
			mockSetup: func(m *repository.MockSessionStore) {
				expired := activeSession("s1", 100)
				expired.StartTime = testNow.Add(-2 * time.Hour)
				expired.EndTime = testNow.Add(-time.Hour)
				m.EXPECT().LoadSession("s1").Return(expired, nil)
				m.EXPECT().SaveAtomic(gomock.Any(), 100.0, model.StatusActive).Return(true, nil)
				m.EXPECT().MarkResolved("s1").Return(true, nil)
				m.EXPECT().BidsBySession("s1").Return(nil, nil)
			},
			expectError:   true,
			expectedError: auctionerrors.ErrSessionNotActive,
		},
		{
			// a cancel or sweep committed first: the lazy finalization loses
			// the status compare-and-set and must not touch winner resolution
			name:      "expired_finalization_loses_race_backs_off",
			sessionID: "s1",
			bidderID:  "user1",
			amount:    150,
			mockSetup: func(m *repository.MockSessionStore) {
				expired := activeSession("s1", 100)
				expired.StartTime = testNow.Add(-2 * time.Hour)
				expired.EndTime = testNow.Add(-time.Hour)
				m.EXPECT().LoadSession("s1").Return(expired, nil)
				m.EXPECT().SaveAtomic(gomock.Any(), 100.0, model.StatusActive).Return(false, nil)
			},
			expectError:   true,
			expectedError: auctionerrors.ErrSessionNotActive,
		},
		{
			name:      "bid_too_low",
			sessionID: "s1",
			bidderID:  "user2",
			amount:    120,
			mockSetup: func(m *repository.MockSessionStore) {
				m.EXPECT().LoadSession("s1").Return(activeSession("s1", 150), nil)
			},
			expectError:   true,
			expectedError: auctionerrors.ErrBidTooLow,
		},
		{
			name:      "bid_equal_to_current_price_too_low",
			sessionID: "s1",
			bidderID:  "user2",
			amount:    150,
			mockSetup: func(m *repository.MockSessionStore) {
				m.EXPECT().LoadSession("s1").Return(activeSession("s1", 150), nil)
			},
			expectError:   true,
			expectedError: auctionerrors.ErrBidTooLow,
		},
		{
			name:      "conflict_then_success",
			sessionID: "s1",
			bidderID:  "user1",
			amount:    200,
			mockSetup: func(m *repository.MockSessionStore) {
				gomock.InOrder(
					m.EXPECT().LoadSession("s1").Return(activeSession("s1", 100), nil),
					m.EXPECT().AppendBid(gomock.Any(), 100.0).Return(false, nil),
					m.EXPECT().LoadSession("s1").Return(activeSession("s1", 150), nil),
					m.EXPECT().AppendBid(gomock.Any(), 150.0).Return(true, nil),
				)
			},
		},
		{
			// the two-simultaneous-150-bids race: the loser re-reads the new
			// price and its amount no longer exceeds it
			name:      "conflict_then_too_low",
			sessionID: "s1",
			bidderID:  "user2",
			amount:    150,
			mockSetup: func(m *repository.MockSessionStore) {
				gomock.InOrder(
					m.EXPECT().LoadSession("s1").Return(activeSession("s1", 100), nil),
					m.EXPECT().AppendBid(gomock.Any(), 100.0).Return(false, nil),
					m.EXPECT().LoadSession("s1").Return(activeSession("s1", 150), nil),
				)
			},
			expectError:   true,
			expectedError: auctionerrors.ErrBidTooLow,
		},
		{
			name:        "retries_exhausted",
			sessionID:   "s1",
			bidderID:    "user1",
			amount:      1000,
			retryBudget: 3,
			mockSetup: func(m *repository.MockSessionStore) {
				m.EXPECT().LoadSession("s1").Return(activeSession("s1", 100), nil).Times(3)
				m.EXPECT().AppendBid(gomock.Any(), 100.0).Return(false, nil).Times(3)
			},
			expectError:   true,
			expectedError: auctionerrors.ErrConflictExceeded,
		},
		{
			name:      "persistence_failure_surfaced",
			sessionID: "s1",
			bidderID:  "user1",
			amount:    150,
			mockSetup: func(m *repository.MockSessionStore) {
				m.EXPECT().LoadSession("s1").Return(activeSession("s1", 100), nil)
				m.EXPECT().AppendBid(gomock.Any(), 100.0).
					Return(false, fmt.Errorf("append bid: %w", auctionerrors.ErrPersistence))
			},
			expectError:   true,
			expectedError: auctionerrors.ErrPersistence,
		},
	}

	for _, tc := range tests {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			mockStore := repository.NewMockSessionStore(ctrl)
			tc.mockSetup(mockStore)

			service := NewAuctionService(mockStore, nil).WithClock(fixedClock)
			if tc.retryBudget > 0 {
				service = service.WithRetryBudget(tc.retryBudget)
			}

			bid, err := service.PlaceBid(tc.sessionID, tc.bidderID, tc.amount)

			if tc.expectError {
				require.Error(t, err)
				if tc.expectedError != nil {
					require.True(t, errors.Is(err, tc.expectedError), "expected error: %v, got: %v", tc.expectedError, err)
				}
				return
			}

			require.NoError(t, err)

			require.NotEmpty(t, bid.BidID)
			_, parseErr := uuid.Parse(bid.BidID)
			require.NoError(t, parseErr, "BidID should be a valid UUID")

			require.Equal(t, tc.sessionID, bid.SessionID)
			require.Equal(t, tc.bidderID, bid.BidderID)
			require.Equal(t, tc.amount, bid.Amount)
			require.Equal(t, testNow, bid.CreatedAt)
		})
	}
}

// Scenario walk-through against the real in-memory store: first bid raises
// the price, a lower follow-up fails, the winner is the highest bidder.
func TestAuctionService_PlaceBid_Scenarios(t *testing.T) {
	t.Parallel()

	store := repository.NewMemoryStore()
	transfer := &fakeTransfer{}
	events := &fakeEvents{}
	service := NewAuctionService(store, transfer).WithClock(fixedClock).WithEvents(events)

	session, err := service.CreateSession("creator1", "item1", 100, testNow.Add(-time.Hour), testNow.Add(time.Hour), false)
	require.NoError(t, err)

	// scenario A: bid above the initial price is accepted
	bid, err := service.PlaceBid(session.SessionID, "user1", 150)
	require.NoError(t, err)
	require.Equal(t, 150.0, bid.Amount)

	loaded, _, err := service.GetSession(session.SessionID)
	require.NoError(t, err)
	require.Equal(t, 150.0, loaded.CurrentPrice)
	require.Equal(t, 1, loaded.BidCount)

	// scenario B: a lower follow-up bid fails
	_, err = service.PlaceBid(session.SessionID, "user2", 120)
	require.Error(t, err)
	require.True(t, errors.Is(err, auctionerrors.ErrBidTooLow))

	// two more raises, then close and resolve
	_, err = service.PlaceBid(session.SessionID, "user2", 180)
	require.NoError(t, err)
	_, err = service.PlaceBid(session.SessionID, "user3", 200)
	require.NoError(t, err)

	count, err := service.SweepExpiredSessions(testNow.Add(2 * time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, count)

	// scenario E: the 200 bid's bidder receives the item, exactly once
	require.Equal(t, []string{"item1->user3"}, transfer.transfers())

	count, err = service.SweepExpiredSessions(testNow.Add(3 * time.Hour))
	require.NoError(t, err)
	require.Zero(t, count)
	require.Equal(t, []string{"item1->user3"}, transfer.transfers())

	// post-commit notifications fired once per accepted bid and once at close
	require.Equal(t, 3, events.accepted)
	require.Equal(t, []string{session.SessionID + ":user3"}, events.ended)
}

// Tests directory-backed reference validation on session creation
func TestAuctionService_CreateSession_DirectoryValidation(t *testing.T) {
	t.Parallel()

	dir := &fakeDirectory{
		users:  map[string]model.User{"creator1": {UserID: "creator1", Username: "Creator"}},
		assets: map[string]model.Asset{"item1": {AssetID: "item1", Title: "Painting"}},
	}

	store := repository.NewMemoryStore()
	service := NewAuctionService(store, nil).WithClock(fixedClock).WithDirectories(dir, dir)

	_, err := service.CreateSession("creator1", "item1", 100, testNow, testNow.Add(time.Hour), false)
	require.NoError(t, err)

	_, err = service.CreateSession("ghost", "item1", 100, testNow, testNow.Add(time.Hour), false)
	require.Error(t, err)
	require.True(t, errors.Is(err, auctionerrors.ErrInvalidSession))

	_, err = service.CreateSession("creator1", "ghost-item", 100, testNow, testNow.Add(time.Hour), false)
	require.Error(t, err)
	require.True(t, errors.Is(err, auctionerrors.ErrInvalidSession))
}

// Concurrency: many equal bids against the same price; exactly one commits.
func TestAuctionService_PlaceBid_ConcurrentEqualBids(t *testing.T) {
	t.Parallel()

	store := repository.NewMemoryStore()
	service := NewAuctionService(store, nil).WithClock(fixedClock)

	session, err := service.CreateSession("creator1", "item1", 100, testNow.Add(-time.Hour), testNow.Add(time.Hour), false)
	require.NoError(t, err)

	const bidders = 25

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	var failures []error

	for i := 0; i < bidders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := service.PlaceBid(session.SessionID, fmt.Sprintf("user-%d", i), 150)

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				accepted++
			} else {
				failures = append(failures, err)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, accepted, "exactly one of the equal bids may be accepted")
	for _, err := range failures {
		require.True(t,
			errors.Is(err, auctionerrors.ErrBidTooLow) || errors.Is(err, auctionerrors.ErrConflictExceeded),
			"unexpected failure: %v", err)
	}

	loaded, _, err := service.GetSession(session.SessionID)
	require.NoError(t, err)
	require.Equal(t, 150.0, loaded.CurrentPrice)
	require.Equal(t, 1, loaded.BidCount)
}

// Tests CreateSession
func TestAuctionService_CreateSession(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		creatorID     string
		itemID        string
		initialPrice  float64
		start         time.Time
		end           time.Time
		mockSetup     func(m *repository.MockSessionStore)
		expectError   bool
		expectedError error
		wantStatus    model.Status
	}{
		{
			name:         "pending_session",
			creatorID:    "creator1",
			itemID:       "item1",
			initialPrice: 100,
			start:        testNow.Add(time.Hour),
			end:          testNow.Add(2 * time.Hour),
			mockSetup: func(m *repository.MockSessionStore) {
				m.EXPECT().CreateSession(gomock.Any()).Return(nil)
			},
			wantStatus: model.StatusPending,
		},
		{
			name:         "immediately_active_session",
			creatorID:    "creator1",
			itemID:       "item1",
			initialPrice: 100,
			start:        testNow.Add(-time.Minute),
			end:          testNow.Add(time.Hour),
			mockSetup: func(m *repository.MockSessionStore) {
				m.EXPECT().CreateSession(gomock.Any()).Return(nil)
			},
			wantStatus: model.StatusActive,
		},
		{
			name:          "start_after_end",
			creatorID:     "creator1",
			itemID:        "item1",
			initialPrice:  100,
			start:         testNow.Add(2 * time.Hour),
			end:           testNow.Add(time.Hour),
			mockSetup:     func(m *repository.MockSessionStore) {},
			expectError:   true,
			expectedError: auctionerrors.ErrInvalidSession,
		},
		{
			name:          "non_positive_price",
			creatorID:     "creator1",
			itemID:        "item1",
			initialPrice:  0,
			start:         testNow,
			end:           testNow.Add(time.Hour),
			mockSetup:     func(m *repository.MockSessionStore) {},
			expectError:   true,
			expectedError: auctionerrors.ErrInvalidSession,
		},
		{
			name:         "store_failure_wrapped",
			creatorID:    "creator1",
			itemID:       "item1",
			initialPrice: 100,
			start:        testNow,
			end:          testNow.Add(time.Hour),
			mockSetup: func(m *repository.MockSessionStore) {
				m.EXPECT().CreateSession(gomock.Any()).
					Return(fmt.Errorf("insert: %w", auctionerrors.ErrPersistence))
			},
			expectError:   true,
			expectedError: auctionerrors.ErrPersistence,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			mockStore := repository.NewMockSessionStore(ctrl)
			tc.mockSetup(mockStore)

			service := NewAuctionService(mockStore, nil).WithClock(fixedClock)

			session, err := service.CreateSession(tc.creatorID, tc.itemID, tc.initialPrice, tc.start, tc.end, false)

			if tc.expectError {
				require.Error(t, err)
				require.True(t, errors.Is(err, tc.expectedError), "expected error: %v, got: %v", tc.expectedError, err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.wantStatus, session.Status)
			require.Equal(t, tc.initialPrice, session.CurrentPrice)

			_, parseErr := uuid.Parse(session.SessionID)
			require.NoError(t, parseErr, "SessionID should be a valid UUID")
		})
	}
}

// Tests UpdateStatus and CancelSession transition rules
func TestAuctionService_UpdateStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		to            model.Status
		mockSetup     func(m *repository.MockSessionStore)
		expectError   bool
		expectedError error
	}{
		{
			name: "cancel_pending_session",
			to:   model.StatusCancelled,
			mockSetup: func(m *repository.MockSessionStore) {
				pending := activeSession("s1", 100)
				pending.StartTime = testNow.Add(time.Hour)
				pending.EndTime = testNow.Add(2 * time.Hour)
				pending.Status = model.StatusPending
				m.EXPECT().LoadSession("s1").Return(pending, nil)
				m.EXPECT().SaveAtomic(gomock.Any(), 100.0, model.StatusPending).Return(true, nil)
			},
		},
		{
			name: "cancel_active_session",
			to:   model.StatusCancelled,
			mockSetup: func(m *repository.MockSessionStore) {
				m.EXPECT().LoadSession("s1").Return(activeSession("s1", 100), nil)
				m.EXPECT().SaveAtomic(gomock.Any(), 100.0, model.StatusActive).Return(true, nil)
			},
		},
		{
			// the stored status still says active, but the clock has passed
			// the end time: the session is effectively ended and stays so
			name: "cancel_expired_session_fails",
			to:   model.StatusCancelled,
			mockSetup: func(m *repository.MockSessionStore) {
				expired := activeSession("s1", 100)
				expired.EndTime = testNow.Add(-time.Minute)
				m.EXPECT().LoadSession("s1").Return(expired, nil)
			},
			expectError:   true,
			expectedError: auctionerrors.ErrInvalidTransition,
		},
		{
			name: "reopen_expired_session_fails",
			to:   model.StatusActive,
			mockSetup: func(m *repository.MockSessionStore) {
				expired := activeSession("s1", 100)
				expired.EndTime = testNow.Add(-time.Minute)
				m.EXPECT().LoadSession("s1").Return(expired, nil)
			},
			expectError:   true,
			expectedError: auctionerrors.ErrInvalidTransition,
		},
		{
			name: "reopen_cancelled_session_fails",
			to:   model.StatusActive,
			mockSetup: func(m *repository.MockSessionStore) {
				cancelled := activeSession("s1", 100)
				cancelled.Status = model.StatusCancelled
				m.EXPECT().LoadSession("s1").Return(cancelled, nil)
			},
			expectError:   true,
			expectedError: auctionerrors.ErrInvalidTransition,
		},
		{
			name:          "explicit_ended_not_settable",
			to:            model.StatusEnded,
			mockSetup:     func(m *repository.MockSessionStore) {},
			expectError:   true,
			expectedError: auctionerrors.ErrInvalidTransition,
		},
		{
			name: "open_pending_session_early",
			to:   model.StatusActive,
			mockSetup: func(m *repository.MockSessionStore) {
				pending := activeSession("s1", 100)
				pending.StartTime = testNow.Add(time.Hour)
				pending.EndTime = testNow.Add(2 * time.Hour)
				pending.Status = model.StatusPending
				m.EXPECT().LoadSession("s1").Return(pending, nil)
				m.EXPECT().SaveAtomic(gomock.Any(), 100.0, model.StatusPending).
					DoAndReturn(func(s model.Session, _ float64, _ model.Status) (bool, error) {
						// opening early moves the start of the window
						require.Equal(t, model.StatusActive, s.Status)
						require.Equal(t, testNow, s.StartTime)
						return true, nil
					})
			},
		},
		{
			name: "conflict_with_bid_retries",
			to:   model.StatusCancelled,
			mockSetup: func(m *repository.MockSessionStore) {
				gomock.InOrder(
					m.EXPECT().LoadSession("s1").Return(activeSession("s1", 100), nil),
					m.EXPECT().SaveAtomic(gomock.Any(), 100.0, model.StatusActive).Return(false, nil),
					m.EXPECT().LoadSession("s1").Return(activeSession("s1", 150), nil),
					m.EXPECT().SaveAtomic(gomock.Any(), 150.0, model.StatusActive).Return(true, nil),
				)
			},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			mockStore := repository.NewMockSessionStore(ctrl)
			tc.mockSetup(mockStore)

			service := NewAuctionService(mockStore, nil).WithClock(fixedClock)

			err := service.UpdateStatus("s1", tc.to)

			if tc.expectError {
				require.Error(t, err)
				require.True(t, errors.Is(err, tc.expectedError), "expected error: %v, got: %v", tc.expectedError, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

// Scenario D: cancelling a pending session blocks later bids.
func TestAuctionService_CancelThenBid(t *testing.T) {
	t.Parallel()

	store := repository.NewMemoryStore()
	service := NewAuctionService(store, nil).WithClock(fixedClock)

	session, err := service.CreateSession("creator1", "item1", 100, testNow.Add(time.Hour), testNow.Add(2*time.Hour), false)
	require.NoError(t, err)
	require.Equal(t, model.StatusPending, session.Status)

	require.NoError(t, service.CancelSession(session.SessionID))

	status, err := service.GetEffectiveStatus(session.SessionID)
	require.NoError(t, err)
	require.Equal(t, model.StatusCancelled, status)

	_, err = service.PlaceBid(session.SessionID, "user1", 500)
	require.Error(t, err)
	require.True(t, errors.Is(err, auctionerrors.ErrSessionNotActive))
}

// interposingStore commits a cancellation between a caller's load and its
// save, reproducing a cancel racing an early open.
type interposingStore struct {
	*repository.MemoryStore
	once sync.Once
}

func (s *interposingStore) SaveAtomic(session model.Session, expectedPrice float64, expectedStatus model.Status) (bool, error) {
	s.once.Do(func() {
		current, err := s.MemoryStore.LoadSession(session.SessionID)
		if err != nil {
			return
		}
		cancelled := current
		cancelled.Status = model.StatusCancelled
		_, _ = s.MemoryStore.SaveAtomic(cancelled, current.CurrentPrice, current.Status)
	})
	return s.MemoryStore.SaveAtomic(session, expectedPrice, expectedStatus)
}

// A cancellation that lands between the early-open's load and its save must
// win: cancelled is terminal and may never be overwritten by active.
func TestAuctionService_CancelOpenRace(t *testing.T) {
	t.Parallel()

	store := &interposingStore{MemoryStore: repository.NewMemoryStore()}
	service := NewAuctionService(store, nil).WithClock(fixedClock)

	session, err := service.CreateSession("creator1", "item1", 100, testNow.Add(time.Hour), testNow.Add(2*time.Hour), false)
	require.NoError(t, err)
	require.Equal(t, model.StatusPending, session.Status)

	err = service.UpdateStatus(session.SessionID, model.StatusActive)
	require.Error(t, err)
	require.True(t, errors.Is(err, auctionerrors.ErrInvalidTransition))

	status, err := service.GetEffectiveStatus(session.SessionID)
	require.NoError(t, err)
	require.Equal(t, model.StatusCancelled, status)

	_, err = service.PlaceBid(session.SessionID, "user1", 500)
	require.Error(t, err)
	require.True(t, errors.Is(err, auctionerrors.ErrSessionNotActive))
}

// Tests SweepExpiredSessions winner resolution and idempotency
func TestAuctionService_SweepExpiredSessions(t *testing.T) {
	t.Parallel()

	endedAt := testNow.Add(-time.Minute)

	t.Run("resolves_winner_once", func(t *testing.T) {
		t.Parallel()

		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		session := activeSession("s1", 200)
		session.EndTime = endedAt
		session.Status = model.StatusEnded

		bids := []model.Bid{
			{BidID: "b1", SessionID: "s1", BidderID: "user1", Amount: 150, CreatedAt: testNow.Add(-time.Hour)},
			{BidID: "b2", SessionID: "s1", BidderID: "user2", Amount: 200, CreatedAt: testNow.Add(-30 * time.Minute)},
		}

		mockStore := repository.NewMockSessionStore(ctrl)
		mockStore.EXPECT().SweepExpired(testNow).Return([]model.Session{session}, nil)
		mockStore.EXPECT().MarkResolved("s1").Return(true, nil)
		mockStore.EXPECT().BidsBySession("s1").Return(bids, nil)

		transfer := &fakeTransfer{}
		service := NewAuctionService(mockStore, transfer).WithClock(fixedClock)

		count, err := service.SweepExpiredSessions(testNow)
		require.NoError(t, err)
		require.Equal(t, 1, count)
		require.Equal(t, []string{"item-s1->user2"}, transfer.transfers())
	})

	t.Run("already_resolved_is_noop", func(t *testing.T) {
		t.Parallel()

		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		session := activeSession("s1", 200)
		session.EndTime = endedAt
		session.Status = model.StatusEnded

		mockStore := repository.NewMockSessionStore(ctrl)
		mockStore.EXPECT().SweepExpired(testNow).Return([]model.Session{session}, nil)
		mockStore.EXPECT().MarkResolved("s1").Return(false, nil)

		transfer := &fakeTransfer{}
		service := NewAuctionService(mockStore, transfer).WithClock(fixedClock)

		count, err := service.SweepExpiredSessions(testNow)
		require.NoError(t, err)
		require.Equal(t, 1, count)
		require.Empty(t, transfer.transfers())
	})

	t.Run("no_bids_no_transfer", func(t *testing.T) {
		t.Parallel()

		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		session := activeSession("s1", 100)
		session.EndTime = endedAt
		session.Status = model.StatusEnded

		mockStore := repository.NewMockSessionStore(ctrl)
		mockStore.EXPECT().SweepExpired(testNow).Return([]model.Session{session}, nil)
		mockStore.EXPECT().MarkResolved("s1").Return(true, nil)
		mockStore.EXPECT().BidsBySession("s1").Return(nil, nil)

		transfer := &fakeTransfer{}
		service := NewAuctionService(mockStore, transfer).WithClock(fixedClock)

		count, err := service.SweepExpiredSessions(testNow)
		require.NoError(t, err)
		require.Equal(t, 1, count)
		require.Empty(t, transfer.transfers())
	})

	t.Run("transfer_failure_reported_not_retried", func(t *testing.T) {
		t.Parallel()

		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		session := activeSession("s1", 200)
		session.EndTime = endedAt
		session.Status = model.StatusEnded

		bids := []model.Bid{
			{BidID: "b1", SessionID: "s1", BidderID: "user1", Amount: 200, CreatedAt: testNow.Add(-time.Hour)},
		}

		mockStore := repository.NewMockSessionStore(ctrl)
		mockStore.EXPECT().SweepExpired(testNow).Return([]model.Session{session}, nil)
		mockStore.EXPECT().MarkResolved("s1").Return(true, nil)
		mockStore.EXPECT().BidsBySession("s1").Return(bids, nil)

		transfer := &fakeTransfer{err: errors.New("downstream unavailable")}
		service := NewAuctionService(mockStore, transfer).WithClock(fixedClock)

		count, err := service.SweepExpiredSessions(testNow)
		require.Error(t, err)
		require.Equal(t, 1, count)
		require.Len(t, transfer.transfers(), 1, "a failed transfer is not retried by the sweep")
	})
}

// Tests GetWinningBid
func TestAuctionService_GetWinningBid(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockStore := repository.NewMockSessionStore(ctrl)
	bids := []model.Bid{
		{BidID: "b1", SessionID: "s1", BidderID: "user1", Amount: 100, CreatedAt: testNow},
		{BidID: "b2", SessionID: "s1", BidderID: "user2", Amount: 150, CreatedAt: testNow.Add(time.Second)},
	}
	mockStore.EXPECT().BidsBySession("s1").Return(bids, nil)
	mockStore.EXPECT().BidsBySession("empty").Return(nil, nil)

	service := NewAuctionService(mockStore, nil).WithClock(fixedClock)

	winning, err := service.GetWinningBid("s1")
	require.NoError(t, err)
	require.Equal(t, "b2", winning.BidID)

	_, err = service.GetWinningBid("empty")
	require.Error(t, err)
	require.True(t, errors.Is(err, auctionerrors.ErrNoBids))
}
