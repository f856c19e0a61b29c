package router

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lonestarx1/debatearena/internal/bus"
	"github.com/lonestarx1/debatearena/internal/store"
	"github.com/lonestarx1/debatearena/internal/wire"
)

const testToken = "a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f9"

func newTestRouter(t *testing.T) (*Router, *store.Memory, *httptest.Server) {
	t.Helper()
	mem := store.NewMemory()
	mem.SeedAgent(store.Agent{ID: "agent-1", DisplayName: "Bot One", ConnectionToken: testToken})

	r := New(bus.NewInProcess(), mem, nil, "replica-a")
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return r, mem, srv
}

func dialAgent(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/agent/" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestServeHTTPUnknownTokenClosesWithCode(t *testing.T) {
	_, _, srv := newTestRouter(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/agent/" + strings.Repeat("0", 64)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_, _, err = conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("expected close error, got %v", err)
	}
	if closeErr.Code != CloseUnknownToken {
		t.Errorf("close code = %d, want %d", closeErr.Code, CloseUnknownToken)
	}
}

func TestServeHTTPMalformedTokenClosesWithInvalidPathCode(t *testing.T) {
	_, _, srv := newTestRouter(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/agent/not-hex"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_, _, err = conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("expected close error, got %v", err)
	}
	if closeErr.Code != CloseInvalidPath {
		t.Errorf("close code = %d, want %d", closeErr.Code, CloseInvalidPath)
	}
}

func TestConnectReceivesWelcome(t *testing.T) {
	_, _, srv := newTestRouter(t)
	conn := dialAgent(t, srv, testToken)

	var msg wire.Connected
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read welcome: %v", err)
	}
	if msg.Type != wire.AgentConnected || msg.BotID != "agent-1" {
		t.Errorf("welcome = %+v, want connected/agent-1", msg)
	}
}

func TestSendRequestLocalRoundTrip(t *testing.T) {
	r, _, srv := newTestRouter(t)
	conn := dialAgent(t, srv, testToken)

	var welcome wire.Connected
	if err := conn.ReadJSON(&welcome); err != nil {
		t.Fatalf("read welcome: %v", err)
	}

	// Give attach() time to register the connection before SendRequest
	// looks it up.
	time.Sleep(20 * time.Millisecond)

	go func() {
		var req wire.DebateRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		conf := 0.8
		_ = conn.WriteJSON(wire.DebateResponse{
			Type:       wire.AgentDebateResponse,
			RequestID:  req.RequestID,
			Message:    "pro wins because of X",
			Confidence: &conf,
		})
	}()

	resp, err := r.SendRequest(context.Background(), "agent-1", wire.DebateRequest{
		Type:     wire.AgentDebateRequest,
		DebateID: "contest-1",
		Topic:    "cats vs dogs",
		Position: "pro",
	}, 2*time.Second)
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if resp.Message != "pro wins because of X" {
		t.Errorf("response message = %q", resp.Message)
	}
}

func TestSendRequestNotConnectedReturnsError(t *testing.T) {
	r, _, _ := newTestRouter(t)
	_, err := r.SendRequest(context.Background(), "ghost-agent", wire.DebateRequest{}, 50*time.Millisecond)
	if err != ErrNotConnected {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}

func TestSendRequestTimesOutWhenAgentNeverAnswers(t *testing.T) {
	r, _, srv := newTestRouter(t)
	conn := dialAgent(t, srv, testToken)
	var welcome wire.Connected
	_ = conn.ReadJSON(&welcome)
	time.Sleep(20 * time.Millisecond)

	_, err := r.SendRequest(context.Background(), "agent-1", wire.DebateRequest{}, 50*time.Millisecond)
	if err != ErrTimeout {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}

func TestValidateResponseRejectsEmptyMessage(t *testing.T) {
	if err := validateResponse(wire.DebateResponse{Message: "  "}); err == nil {
		t.Error("expected error for blank message")
	}
}

func TestValidateResponseRejectsConfidenceOutOfRange(t *testing.T) {
	bad := 1.5
	if err := validateResponse(wire.DebateResponse{Message: "ok", Confidence: &bad}); err == nil {
		t.Error("expected error for confidence > 1")
	}
}

func TestValidateResponseAcceptsValidPayload(t *testing.T) {
	ok := 0.5
	if err := validateResponse(wire.DebateResponse{Message: "a fine point", Confidence: &ok}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestReplacedConnectionClosesOldSocket(t *testing.T) {
	_, _, srv := newTestRouter(t)
	first := dialAgent(t, srv, testToken)
	var w1 wire.Connected
	if err := first.ReadJSON(&w1); err != nil {
		t.Fatalf("first welcome: %v", err)
	}

	second := dialAgent(t, srv, testToken)
	var w2 wire.Connected
	if err := second.ReadJSON(&w2); err != nil {
		t.Fatalf("second welcome: %v", err)
	}

	_, _, err := first.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("expected close error on replaced connection, got %v", err)
	}
	if closeErr.Code != CloseReplaced {
		t.Errorf("close code = %d, want %d", closeErr.Code, CloseReplaced)
	}
}

func TestNotifyCompleteSkipsDisconnectedAgentSilently(t *testing.T) {
	r, _, _ := newTestRouter(t)
	r.NotifyComplete("no-such-agent", wire.DebateComplete{Type: wire.AgentDebateComplete, DebateID: "x"})
}
