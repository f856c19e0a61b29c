// Package router is the Agent Connection Router (C4): it accepts
// long-lived agent websocket connections, authenticates them by
// opaque token, and brokers per-turn request/response exchanges across
// replicas via internal/bus (spec §4.4).
package router

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lonestarx1/debatearena/internal/bus"
	"github.com/lonestarx1/debatearena/internal/store"
	"github.com/lonestarx1/debatearena/internal/wire"
	"github.com/lonestarx1/debatearena/pkg/trace"
)

// Close codes for the agent socket (spec §4.4), taken from the private
// range above websocket.CloseNormalClosure.
const (
	CloseInvalidPath   = 4001
	CloseUnknownToken  = 4002
	CloseReplaced      = 4003
	heartbeatInterval  = 30 * time.Second
	connectedKeyTTL    = 120 * time.Second
	defaultPendingSize = 64
)

var tokenPath = regexp.MustCompile(`^[0-9a-f]{64}$`)

var (
	// ErrNotConnected means sendRequest could not locate the agent on
	// any replica (spec §4.4, step 3).
	ErrNotConnected = errors.New("router: agent not connected")
	// ErrTimeout means the request exceeded its deadline before a
	// response arrived.
	ErrTimeout = errors.New("router: request timed out")
	// ErrInvalidResponse means the agent's debate_response failed
	// schema validation (spec §4.4 "Response validation").
	ErrInvalidResponse = errors.New("router: invalid response")
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Directory resolves an opaque 64-hex token to an agent identity and
// display name. Implemented by internal/store.Gateway in production.
type Directory interface {
	GetAgent(ctx context.Context, agentID string) (store.Agent, bool, error)
	FindAgentByToken(ctx context.Context, token string) (store.Agent, bool, error)
}

// Router is the agent-facing websocket server.
type Router struct {
	bus       bus.Bus
	directory Directory
	tracer    trace.Tracer
	replicaID string

	mu      sync.Mutex
	conns   map[string]*agentConn // agentID -> local connection
	pending map[string]chan pendingResult
}

type agentConn struct {
	agentID string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

type pendingResult struct {
	response wire.DebateResponse
	err      error
}

// New creates a Router. replicaID identifies this process in
// key:agent_connected values.
func New(b bus.Bus, directory Directory, tracer trace.Tracer, replicaID string) *Router {
	if tracer == nil {
		tracer = trace.Noop{}
	}
	return &Router{
		bus:       b,
		directory: directory,
		tracer:    tracer,
		replicaID: replicaID,
		conns:     make(map[string]*agentConn),
		pending:   make(map[string]chan pendingResult),
	}
}

// Start subscribes this replica's bus inbox so that cross-replica
// requests (published by SendRequest when the target agent is
// connected elsewhere) reach a locally connected agent. It runs until
// ctx is cancelled.
func (r *Router) Start(ctx context.Context) error {
	ch, unsub, err := r.bus.Subscribe(ctx, bus.ReplicaInbox(r.replicaID), defaultPendingSize)
	if err != nil {
		return fmt.Errorf("router: subscribe replica inbox: %w", err)
	}
	go func() {
		defer unsub()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				r.deliverForwarded(msg.Payload)
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// forwardEnvelope is the cross-replica inbox payload: it names which
// locally connected agent a forwarded DebateRequest targets. It never
// reaches the agent socket itself — only req is written there.
type forwardEnvelope struct {
	AgentID string             `json:"agent_id"`
	Request wire.DebateRequest `json:"request"`
}

func (r *Router) deliverForwarded(payload []byte) {
	var env forwardEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return
	}

	r.mu.Lock()
	target, ok := r.conns[env.AgentID]
	r.mu.Unlock()
	if !ok {
		return
	}
	_ = r.writeJSON(target, env.Request)
}

// ServeHTTP upgrades a request whose path ends in a 64-hex token to a
// websocket, authenticates it, and runs its connection loop. Mount at
// a pattern like "/agent/".
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	token := lastPathSegment(req.URL.Path)
	if !tokenPath.MatchString(token) {
		conn, upErr := upgrader.Upgrade(w, req, nil)
		if upErr == nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(CloseInvalidPath, "invalid token path"),
				time.Now().Add(time.Second))
			conn.Close()
		}
		return
	}

	ctx := req.Context()
	agent, ok, err := r.directory.FindAgentByToken(ctx, token)
	if err != nil || !ok {
		conn, upErr := upgrader.Upgrade(w, req, nil)
		if upErr == nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(CloseUnknownToken, "unknown token"),
				time.Now().Add(time.Second))
			conn.Close()
		}
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}

	r.attach(ctx, agent, conn)
}

func lastPathSegment(path string) string {
	parts := strings.Split(strings.TrimRight(path, "/"), "/")
	return parts[len(parts)-1]
}

func (r *Router) attach(ctx context.Context, agent store.Agent, conn *websocket.Conn) {
	ac := &agentConn{agentID: agent.ID, conn: conn}

	r.mu.Lock()
	if old, exists := r.conns[agent.ID]; exists {
		old.writeMu.Lock()
		_ = old.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(CloseReplaced, "replaced by new connection"),
			time.Now().Add(time.Second))
		old.conn.Close()
		old.writeMu.Unlock()
	}
	r.conns[agent.ID] = ac
	r.mu.Unlock()

	_ = r.bus.SetKey(ctx, bus.AgentConnectedKey(agent.ID), r.replicaID, connectedKeyTTL)

	welcome := wire.NewConnected(agent.ID, agent.DisplayName)
	r.writeJSON(ac, welcome)

	go r.heartbeat(ac)
	r.readLoop(ac)
}

func (r *Router) heartbeat(ac *agentConn) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for range ticker.C {
		r.mu.Lock()
		current, ok := r.conns[ac.agentID]
		r.mu.Unlock()
		if !ok || current != ac {
			return
		}
		if err := r.writeJSON(ac, wire.NewPing()); err != nil {
			r.evict(ac)
			return
		}
		_ = r.bus.SetKey(context.Background(), bus.AgentConnectedKey(ac.agentID), r.replicaID, connectedKeyTTL)
	}
}

func (r *Router) readLoop(ac *agentConn) {
	defer r.evict(ac)
	for {
		_, data, err := ac.conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := wire.DecodeAgentInbound(data)
		if err != nil {
			continue
		}
		switch m := msg.(type) {
		case wire.Pong:
			_ = r.bus.SetKey(context.Background(), bus.AgentConnectedKey(ac.agentID), r.replicaID, connectedKeyTTL)
		case wire.DebateResponse:
			r.resolveLocal(m)
		}
	}
}

func (r *Router) evict(ac *agentConn) {
	r.mu.Lock()
	if current, ok := r.conns[ac.agentID]; ok && current == ac {
		delete(r.conns, ac.agentID)
	}
	r.mu.Unlock()
	ac.conn.Close()
}

func (r *Router) writeJSON(ac *agentConn, v any) error {
	ac.writeMu.Lock()
	defer ac.writeMu.Unlock()
	return ac.conn.WriteJSON(v)
}

// SendRequest implements the request/response correlation protocol
// (spec §4.4). It mints a request id, delivers the request locally or
// via the bus, and blocks until a response, timeout, or error.
func (r *Router) SendRequest(ctx context.Context, agentID string, req wire.DebateRequest, timeout time.Duration) (wire.DebateResponse, error) {
	ctx, span := r.tracer.StartSpan(ctx, "router.send_request")
	defer r.tracer.EndSpan(span)

	req.RequestID = newRequestID()
	span.SetAttribute("router.agent_id", agentID)
	span.SetAttribute("router.request_id", req.RequestID)

	r.mu.Lock()
	ac, local := r.conns[agentID]
	r.mu.Unlock()

	resultCh := make(chan pendingResult, 1)

	if local {
		r.registerPending(req.RequestID, resultCh)
		if err := r.writeJSON(ac, req); err != nil {
			r.clearPending(req.RequestID)
			span.SetAttribute("error.reason", "write_failed")
			span.SetError(err)
			return wire.DebateResponse{}, fmt.Errorf("router: write request: %w", err)
		}
	} else {
		owner, found, err := r.bus.GetKey(ctx, bus.AgentConnectedKey(agentID))
		if err != nil || !found {
			span.SetAttribute("error.reason", "not_connected")
			return wire.DebateResponse{}, ErrNotConnected
		}

		ch, unsub, err := r.bus.Subscribe(ctx, bus.AgentResponseChannel(req.RequestID), 1)
		if err != nil {
			span.SetAttribute("error.reason", "subscribe_failed")
			return wire.DebateResponse{}, fmt.Errorf("router: subscribe: %w", err)
		}
		defer unsub()

		payload, err := json.Marshal(forwardEnvelope{AgentID: agentID, Request: req})
		if err != nil {
			span.SetAttribute("error.reason", "marshal_failed")
			return wire.DebateResponse{}, fmt.Errorf("router: marshal forward envelope: %w", err)
		}
		if err := r.bus.Publish(ctx, bus.ReplicaInbox(owner), payload); err != nil {
			span.SetAttribute("error.reason", "publish_failed")
			return wire.DebateResponse{}, fmt.Errorf("router: publish to replica inbox: %w", err)
		}

		go func() {
			select {
			case msg := <-ch:
				resp, err := decodeResponsePayload(msg.Payload)
				resultCh <- pendingResult{response: resp, err: err}
			case <-ctx.Done():
			}
		}()
	}

	select {
	case res := <-resultCh:
		if local {
			r.clearPending(req.RequestID)
		}
		if res.err != nil {
			span.SetAttribute("error.reason", "invalid_response")
			span.SetError(res.err)
			return wire.DebateResponse{}, res.err
		}
		if err := validateResponse(res.response); err != nil {
			span.SetAttribute("error.reason", "schema_invalid")
			span.SetError(err)
			return wire.DebateResponse{}, err
		}
		return res.response, nil

	case <-time.After(timeout):
		if local {
			r.clearPending(req.RequestID)
		}
		span.SetAttribute("error.reason", "timeout")
		span.SetError(ErrTimeout)
		return wire.DebateResponse{}, ErrTimeout

	case <-ctx.Done():
		if local {
			r.clearPending(req.RequestID)
		}
		return wire.DebateResponse{}, ctx.Err()
	}
}

func (r *Router) registerPending(requestID string, ch chan pendingResult) {
	r.mu.Lock()
	r.pending[requestID] = ch
	r.mu.Unlock()
}

func (r *Router) clearPending(requestID string) {
	r.mu.Lock()
	delete(r.pending, requestID)
	r.mu.Unlock()
}

func (r *Router) resolveLocal(resp wire.DebateResponse) {
	r.mu.Lock()
	ch, ok := r.pending[resp.RequestID]
	if ok {
		delete(r.pending, resp.RequestID)
	}
	r.mu.Unlock()
	if ok {
		ch <- pendingResult{response: resp}
		return
	}

	// No local pending entry: this is a cross-replica request this
	// replica delivered to its agent. Forward the result back.
	payload, err := marshalResponse(resp)
	if err != nil {
		return
	}
	_ = r.bus.Publish(context.Background(), bus.AgentResponseChannel(resp.RequestID), payload)
}

// NotifyComplete sends a best-effort, fire-and-forget debate_complete
// notification to a locally connected agent (spec §4.4, "Notification
// side channel"). A disconnected agent is silently skipped.
func (r *Router) NotifyComplete(agentID string, msg wire.DebateComplete) {
	r.mu.Lock()
	ac, ok := r.conns[agentID]
	r.mu.Unlock()
	if !ok {
		return
	}
	_ = r.writeJSON(ac, msg)
}

func validateResponse(resp wire.DebateResponse) error {
	if strings.TrimSpace(resp.Message) == "" {
		return fmt.Errorf("%w: empty message", ErrInvalidResponse)
	}
	if len(resp.Message) > 8000 {
		return fmt.Errorf("%w: message too long", ErrInvalidResponse)
	}
	if resp.Confidence != nil && (*resp.Confidence < 0 || *resp.Confidence > 1) {
		return fmt.Errorf("%w: confidence out of [0,1]", ErrInvalidResponse)
	}
	return nil
}

func newRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic("router: crypto/rand read failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
