package integrationtests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"

	auction "auction-sessions/internal/auctionService"
	model "auction-sessions/internal/models"
	"auction-sessions/internal/repository"
	"auction-sessions/internal/server"

	"github.com/gin-gonic/gin"
)

// recordingTransfer captures ownership transfers triggered through the API.
type recordingTransfer struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingTransfer) TransferOwnership(_ context.Context, itemID, bidderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, itemID+"->"+bidderID)
	return nil
}

func (r *recordingTransfer) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// SetupTestRouter initializes the router with an in-memory store seeded with sessions.
// The store is returned so tests can seed historical bids directly.
func SetupTestRouter(sessions ...model.Session) (*gin.Engine, *repository.MemoryStore, *recordingTransfer) {
	gin.SetMode(gin.TestMode)
	store := repository.NewMemoryStore()

	for _, session := range sessions {
		if err := store.CreateSession(session); err != nil {
			panic(err)
		}
	}

	transfer := &recordingTransfer{}
	service := auction.NewAuctionService(store, transfer)
	router := server.SetupRouter(service, nil)
	return router, store, transfer
}

// ExecuteRequestAndParse executes an HTTP request on the given router and parses the response
func ExecuteRequestAndParse(t *testing.T, router *gin.Engine, method, url string, body any) (map[string]any, *httptest.ResponseRecorder) {
	var reqBody []byte
	var err error

	switch v := body.(type) {
	case nil:
	case []byte:
		reqBody = v
	case string:
		reqBody = []byte(v)
	default:
		reqBody, err = json.Marshal(v)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, url, bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	var resp map[string]any
	if len(w.Body.Bytes()) > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to unmarshal response: %v", err)
		}
	}

	return resp, w
}
