// Package spectator is the Spectator Broadcast Layer (C5): a
// viewer-facing websocket server that replays a contest's history on
// join, relays orchestrator events fan-out across the fleet, accepts
// votes, and aggregates a cross-replica spectator count (spec §4.5).
package spectator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/lonestarx1/debatearena/internal/bus"
	"github.com/lonestarx1/debatearena/internal/store"
	"github.com/lonestarx1/debatearena/internal/wire"
	"github.com/lonestarx1/debatearena/pkg/trace"
)

const (
	countPingInterval = 10 * time.Second
	countKeyTTL       = 60 * time.Second
	countPingKind     = "spectator_count_ping"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Gateway is the read-only slice of store.Gateway the replay path needs.
type Gateway interface {
	FindContest(ctx context.Context, contestID string) (store.Contest, bool, error)
	ListTurns(ctx context.Context, contestID string) ([]store.Turn, error)
}

// VoteAdmitter decides whether a spectator's vote is recorded. The
// contest state machine (internal/orchestrator) implements this,
// applying the fast-path-local / fallback-through-store rule of spec
// §4.1/§4.7.
type VoteAdmitter interface {
	AdmitVote(ctx context.Context, contestID string, roundIndex int, voterID string, choice store.Side) (store.VoteResult, error)
}

// Spectator is the viewer-facing websocket server.
type Spectator struct {
	bus       bus.Bus
	store     Gateway
	votes     VoteAdmitter
	tracer    trace.Tracer
	replicaID string

	mu    sync.Mutex
	rooms map[string]*room
}

type session struct {
	conn     *websocket.Conn
	writeMu  sync.Mutex
	mu       sync.Mutex
	debateID string
	voterID  string
}

type room struct {
	contestID string
	mu        sync.Mutex
	sessions  map[*session]struct{}
	peers     map[string]int // replicaID -> locally observed spectator count
	unsub     func()
	stop      chan struct{}
}

// New creates a Spectator server.
func New(b bus.Bus, store Gateway, votes VoteAdmitter, tracer trace.Tracer, replicaID string) *Spectator {
	if tracer == nil {
		tracer = trace.Noop{}
	}
	return &Spectator{
		bus:       b,
		store:     store,
		votes:     votes,
		tracer:    tracer,
		replicaID: replicaID,
		rooms:     make(map[string]*room),
	}
}

// ServeHTTP upgrades any request to a viewer websocket; spectator
// sockets carry no token, only an optional user_id on join_debate.
func (s *Spectator) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	sess := &session{conn: conn}
	s.readLoop(req.Context(), sess)
}

func (s *Spectator) readLoop(ctx context.Context, sess *session) {
	defer s.detach(sess)
	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := wire.DecodeSpectatorInbound(data)
		if err != nil {
			s.sendError(sess, wire.ErrCodeInvalidMessage, "unrecognized message")
			continue
		}
		switch m := msg.(type) {
		case wire.JoinDebate:
			s.joinDebate(ctx, sess, m.DebateID, m.UserID)
		case wire.LeaveDebate:
			s.detach(sess)
		case wire.SubmitVote:
			s.submitVote(ctx, sess, m)
		case wire.SpecPingMsg:
			s.send(sess, wire.EventPong, sess.currentDebateID(), struct{}{})
		}
	}
}

func (se *session) currentDebateID() string {
	se.mu.Lock()
	defer se.mu.Unlock()
	return se.debateID
}

func (s *Spectator) joinDebate(ctx context.Context, sess *session, debateID, userID string) {
	contest, ok, err := s.store.FindContest(ctx, debateID)
	if err != nil || !ok {
		s.sendError(sess, wire.ErrCodeInvalidDebateID, "no such debate")
		return
	}

	s.detach(sess)
	sess.mu.Lock()
	sess.debateID = debateID
	sess.voterID = userID
	sess.mu.Unlock()

	// Replay the catch-up snapshot before attaching to the live room, so
	// no live event can interleave with it (spec §8: the snapshot is
	// delivered "before any live event"). The snapshot always opens with
	// a synthetic debate_started regardless of the contest's current
	// status — debate_resumed is reserved for the orchestrator's own
	// recovery signal, not a join replay (spec §4.5).
	s.send(sess, wire.EventDebateStarted, debateID, wire.DebateStartedPayload{
		ProAgentID: contest.ProAgentID,
		ConAgentID: contest.ConAgentID,
		Topic:      contest.TopicRef,
		PresetID:   contest.PresetID,
	})

	turns, err := s.store.ListTurns(ctx, debateID)
	if err == nil {
		for _, t := range turns {
			s.send(sess, wire.EventBotMessage, debateID, wire.BotMessagePayload{
				RoundIndex: t.RoundIndex,
				Position:   string(t.Position),
				AgentID:    t.AgentID,
				Content:    t.Content,
			})
		}
	}

	r := s.attach(ctx, sess, debateID)
	s.publishLocalCount(r)
}

func (s *Spectator) attach(ctx context.Context, sess *session, contestID string) *room {
	s.mu.Lock()
	r, ok := s.rooms[contestID]
	if !ok {
		r = s.newRoom(ctx, contestID)
		s.rooms[contestID] = r
	}
	s.mu.Unlock()

	r.mu.Lock()
	r.sessions[sess] = struct{}{}
	r.mu.Unlock()
	return r
}

func (s *Spectator) newRoom(ctx context.Context, contestID string) *room {
	r := &room{
		contestID: contestID,
		sessions:  make(map[*session]struct{}),
		peers:     make(map[string]int),
		stop:      make(chan struct{}),
	}

	ch, unsub, err := s.bus.Subscribe(ctx, bus.ContestChannel(contestID), 32)
	if err == nil {
		r.unsub = unsub
		go s.relayLoop(r, ch)
	}
	go s.countLoop(r)
	return r
}

func (s *Spectator) relayLoop(r *room, ch <-chan bus.Message) {
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if kind := gjson.GetBytes(msg.Payload, "kind").String(); kind == countPingKind {
				s.observePeerCount(r, msg.Payload)
				continue
			}
			s.broadcastRaw(r, msg.Payload)
		case <-r.stop:
			return
		}
	}
}

type countPing struct {
	Kind      string `json:"kind"`
	ReplicaID string `json:"replica_id"`
	Count     int    `json:"count"`
}

func (s *Spectator) countLoop(r *room) {
	ticker := time.NewTicker(countPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.publishLocalCount(r)
		case <-r.stop:
			return
		}
	}
}

func (s *Spectator) publishLocalCount(r *room) {
	r.mu.Lock()
	local := len(r.sessions)
	r.mu.Unlock()

	r.mu.Lock()
	r.peers[s.replicaID] = local
	total := 0
	for _, c := range r.peers {
		total += c
	}
	r.mu.Unlock()

	ctx := context.Background()
	_ = s.bus.SetKey(ctx, bus.SpectatorCountKey(r.contestID, s.replicaID), fmt.Sprintf("%d", local), countKeyTTL)

	payload, err := json.Marshal(countPing{Kind: countPingKind, ReplicaID: s.replicaID, Count: local})
	if err == nil {
		_ = s.bus.Publish(ctx, bus.ContestChannel(r.contestID), payload)
	}

	s.broadcastCount(r, total)
}

func (s *Spectator) observePeerCount(r *room, payload []byte) {
	var p countPing
	if err := json.Unmarshal(payload, &p); err != nil || p.ReplicaID == "" {
		return
	}
	if p.ReplicaID == s.replicaID {
		// Our own ping, already accounted for synchronously in
		// publishLocalCount; skip to avoid a redundant broadcast race.
		return
	}
	r.mu.Lock()
	r.peers[p.ReplicaID] = p.Count
	total := 0
	for _, c := range r.peers {
		total += c
	}
	r.mu.Unlock()

	s.broadcastCount(r, total)
}

func (s *Spectator) broadcastCount(r *room, total int) {
	payload, err := wire.EncodeSpectatorEvent(wire.EventSpectatorCount, r.contestID, wire.SpectatorCountPayload{Count: total})
	if err != nil {
		return
	}
	s.broadcastRaw(r, payload)
}

func (s *Spectator) broadcastRaw(r *room, payload []byte) {
	r.mu.Lock()
	sessions := make([]*session, 0, len(r.sessions))
	for sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.mu.Unlock()

	for _, sess := range sessions {
		sess.writeMu.Lock()
		_ = sess.conn.WriteMessage(websocket.TextMessage, payload)
		sess.writeMu.Unlock()
	}
}

func (s *Spectator) detach(sess *session) {
	debateID := sess.currentDebateID()
	if debateID == "" {
		return
	}
	sess.mu.Lock()
	sess.debateID = ""
	sess.mu.Unlock()

	s.mu.Lock()
	r, ok := s.rooms[debateID]
	s.mu.Unlock()
	if !ok {
		return
	}

	r.mu.Lock()
	delete(r.sessions, sess)
	empty := len(r.sessions) == 0
	r.mu.Unlock()

	s.publishLocalCount(r)

	if empty {
		s.mu.Lock()
		delete(s.rooms, debateID)
		s.mu.Unlock()
		close(r.stop)
		if r.unsub != nil {
			r.unsub()
		}
		_ = s.bus.DeleteKey(context.Background(), bus.SpectatorCountKey(debateID, s.replicaID))
	}
}

func (s *Spectator) submitVote(ctx context.Context, sess *session, m wire.SubmitVote) {
	ctx, span := s.tracer.StartSpan(ctx, "spectator.submit_vote")
	defer s.tracer.EndSpan(span)

	debateID := sess.currentDebateID()
	if debateID == "" || debateID != m.DebateID {
		s.sendError(sess, wire.ErrCodeWrongDebate, "vote does not match joined debate")
		return
	}

	var choice store.Side
	switch m.Choice {
	case "pro":
		choice = store.SidePro
	case "con":
		choice = store.SideCon
	default:
		s.sendError(sess, wire.ErrCodeInvalidVote, "choice must be pro or con")
		return
	}

	voterID := sess.voterIDOrAnonymous()

	result, err := s.votes.AdmitVote(ctx, debateID, m.RoundIndex, voterID, choice)
	if err != nil {
		s.sendError(sess, wire.ErrCodeVoteFailed, err.Error())
		return
	}
	switch result {
	case store.VoteAlreadyCastDifferentChoice:
		s.sendError(sess, wire.ErrCodeInvalidVote, "already voted differently this round")
		return
	}

	s.send(sess, wire.EventVoteAccepted, debateID, wire.VoteAcceptedPayload{RoundIndex: m.RoundIndex})
}

// voterIDOrAnonymous derives a stable per-session identity for
// anonymous spectators so repeated votes from the same socket are
// still caught by CastVote's idempotency, rather than silently
// counted twice.
func (se *session) voterIDOrAnonymous() string {
	se.mu.Lock()
	defer se.mu.Unlock()
	if se.voterID != "" {
		return se.voterID
	}
	return fmt.Sprintf("anon:%p", se)
}

func (s *Spectator) send(sess *session, evType wire.SpectatorEventType, debateID string, payload any) {
	data, err := wire.EncodeSpectatorEvent(evType, debateID, payload)
	if err != nil {
		return
	}
	sess.writeMu.Lock()
	_ = sess.conn.WriteMessage(websocket.TextMessage, data)
	sess.writeMu.Unlock()
}

func (s *Spectator) sendError(sess *session, code wire.ErrorCode, message string) {
	data, err := json.Marshal(struct {
		Type    string         `json:"type"`
		Code    wire.ErrorCode `json:"code"`
		Message string         `json:"message"`
	}{Type: "error", Code: code, Message: message})
	if err != nil {
		return
	}
	sess.writeMu.Lock()
	_ = sess.conn.WriteMessage(websocket.TextMessage, data)
	sess.writeMu.Unlock()
}
