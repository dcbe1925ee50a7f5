package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/events"
	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/pin"
)

func TestHashAndComparePinFunctions(t *testing.T) {
	server := newTestServer(t)

	hashed := server.do(t, http.MethodPost, pin.PathHashPin, pin.HashRequest{Pin: "4321"}, nil)
	if hashed.Code != http.StatusOK {
		t.Fatalf("expected hash to succeed, got %d %s", hashed.Code, hashed.Body.String())
	}
	var hash pin.HashResponse
	decode(t, hashed, &hash)
	if !strings.HasPrefix(hash.Hash, "$argon2id$") {
		t.Fatalf("expected a PHC string, got %q", hash.Hash)
	}

	compared := server.do(t, http.MethodPost, pin.PathComparePin, pin.CompareRequest{Pin: "4321", Hash: hash.Hash}, nil)
	var match pin.CompareResponse
	decode(t, compared, &match)
	if !match.Match {
		t.Fatalf("expected the pin to match its hash")
	}

	malformed := server.do(t, http.MethodPost, pin.PathComparePin, pin.CompareRequest{Pin: "4321", Hash: "plain"}, nil)
	if malformed.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request for malformed hash, got %d", malformed.Code)
	}
	invalid := server.do(t, http.MethodPost, pin.PathHashPin, pin.HashRequest{Pin: "abc"}, nil)
	if invalid.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request for invalid pin, got %d", invalid.Code)
	}
}

func TestVerifyGiftPinFunctionBudget(t *testing.T) {
	server := newTestServer(t)
	gift := server.createGift(t, map[string]any{"productType": "bracelet", "pin": "2468"})

	for attempt := 1; attempt <= 5; attempt++ {
		recorder := server.do(t, http.MethodPost, pin.PathVerifyGiftPin, pin.VerifyRequest{GiftID: gift.ID, Pin: "0000"}, nil)
		if recorder.Code != http.StatusOK {
			t.Fatalf("attempt %d: expected ok, got %d", attempt, recorder.Code)
		}
		var result pin.VerifyResult
		decode(t, recorder, &result)
		if result.Match || result.Gift != nil {
			t.Fatalf("attempt %d: expected a mismatch without data", attempt)
		}
	}
	limited := server.do(t, http.MethodPost, pin.PathVerifyGiftPin, pin.VerifyRequest{GiftID: gift.ID, Pin: "2468"}, nil)
	if limited.Code != http.StatusTooManyRequests {
		t.Fatalf("expected the function budget to be exhausted, got %d", limited.Code)
	}

	// The viewer budget is a separate bucket.
	viewer := server.do(t, http.MethodPost, "/v/"+gift.ID+"/unlock", map[string]string{"pin": "2468"}, nil)
	if viewer.Code != http.StatusOK {
		t.Fatalf("expected viewer unlock to be unaffected, got %d", viewer.Code)
	}
}

func TestVerifyGiftPinFunctionMatchReturnsData(t *testing.T) {
	server := newTestServer(t)
	gift := server.createGift(t, map[string]any{"productType": "bracelet", "recipientName": "Amina", "pin": "2468"})

	recorder := server.do(t, http.MethodPost, pin.PathVerifyGiftPin, pin.VerifyRequest{GiftID: gift.ID, Pin: "2468"}, nil)
	var result pin.VerifyResult
	decode(t, recorder, &result)
	if !result.Match || result.Gift == nil || result.Gift.RecipientName != "Amina" {
		t.Fatalf("unexpected verify result %s", recorder.Body.String())
	}
	if strings.Contains(recorder.Body.String(), "securityToken") {
		t.Fatalf("gift data must not carry capability tokens")
	}

	// Unknown ids never exhaust a budget because no bucket outlives the request.
	for attempt := 1; attempt <= 6; attempt++ {
		missing := server.do(t, http.MethodPost, pin.PathVerifyGiftPin, pin.VerifyRequest{GiftID: "unknown", Pin: "2468"}, nil)
		if missing.Code != http.StatusNotFound {
			t.Fatalf("attempt %d: expected not found, got %d", attempt, missing.Code)
		}
	}
}

func TestGetPublicGiftDataFunction(t *testing.T) {
	server := newTestServer(t)
	gift := server.createGift(t, map[string]any{"productType": "bracelet", "recipientName": "Amina"})

	recorder := server.do(t, http.MethodPost, pin.PathGetPublicGiftData, pin.ProjectionRequest{GiftID: gift.ID}, nil)
	var result pin.ProjectionResult
	decode(t, recorder, &result)
	if !result.Exists || !result.Locked || result.Data == nil || result.Data.HasPin {
		t.Fatalf("unexpected projection %s", recorder.Body.String())
	}

	absent := server.do(t, http.MethodPost, pin.PathGetPublicGiftData, pin.ProjectionRequest{GiftID: "unknown"}, nil)
	decode(t, absent, &result)
	if result.Exists {
		t.Fatalf("expected exists=false for an unknown gift")
	}
}

type streamRecorder struct {
	*httptest.ResponseRecorder
	mu      sync.Mutex
	flushed chan struct{}
	closed  chan bool
}

func newStreamRecorder() *streamRecorder {
	return &streamRecorder{
		ResponseRecorder: httptest.NewRecorder(),
		flushed:          make(chan struct{}, 16),
		closed:           make(chan bool, 1),
	}
}

func (r *streamRecorder) Write(data []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ResponseRecorder.Write(data)
}

func (r *streamRecorder) WriteString(data string) (int, error) {
	return r.Write([]byte(data))
}

func (r *streamRecorder) Flush() {
	r.mu.Lock()
	r.ResponseRecorder.Flush()
	r.mu.Unlock()
	select {
	case r.flushed <- struct{}{}:
	default:
	}
}

func (r *streamRecorder) CloseNotify() <-chan bool {
	return r.closed
}

func (r *streamRecorder) body() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ResponseRecorder.Body.String()
}

func TestEventStreamRelaysBusEvents(t *testing.T) {
	server := newTestServer(t)
	token := server.adminToken(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	request := httptest.NewRequest(http.MethodGet, "/admin/events", http.NoBody).WithContext(ctx)
	request.Header.Set("Authorization", "Bearer "+token)
	recorder := newStreamRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		server.handler.ServeHTTP(recorder, request)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for server.bus.SubscriberCount(events.AllGifts) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	server.bus.Publish(events.Event{Type: events.TypeGiftSealed, GiftID: "gift-1", Timestamp: time.Now()})

	timeout := time.After(2 * time.Second)
	for !strings.Contains(recorder.body(), "gift.sealed") {
		select {
		case <-recorder.flushed:
		case <-timeout:
			t.Fatalf("event never reached the stream, got %q", recorder.body())
		}
	}
	cancel()
	<-done

	body := recorder.body()
	if !strings.Contains(body, "event:gift.sealed") || !strings.Contains(body, `"gift_id":"gift-1"`) {
		t.Fatalf("unexpected stream body %q", body)
	}
	if recorder.Header().Get("Content-Type") != "text/event-stream" {
		t.Fatalf("unexpected content type %q", recorder.Header().Get("Content-Type"))
	}
	if server.bus.SubscriberCount(events.AllGifts) != 0 {
		t.Fatalf("expected the stream to unsubscribe on disconnect")
	}
}
