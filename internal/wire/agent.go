package wire

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// AgentMessageType is the closed set of envelope tags on the agent
// socket, both directions (spec §6, "Agent socket").
type AgentMessageType string

const (
	AgentConnected      AgentMessageType = "connected"
	AgentPing           AgentMessageType = "ping"
	AgentDebateRequest  AgentMessageType = "debate_request"
	AgentQueueJoined    AgentMessageType = "queue_joined"
	AgentQueueLeft      AgentMessageType = "queue_left"
	AgentQueueError     AgentMessageType = "queue_error"
	AgentDebateComplete AgentMessageType = "debate_complete"

	AgentPong           AgentMessageType = "pong"
	AgentDebateResponse AgentMessageType = "debate_response"
	AgentResponseChunk  AgentMessageType = "response_chunk"
	AgentQueueJoin      AgentMessageType = "queue_join"
	AgentQueueLeave     AgentMessageType = "queue_leave"
)

// WordLimit bounds a turn's word count (mirrors internal/config.WordLimit
// on the wire).
type WordLimit struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// CharLimit bounds a turn's character count.
type CharLimit struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// PriorMessage is one entry of a debate_request's messages_so_far.
type PriorMessage struct {
	RoundIndex int    `json:"round_index"`
	Position   string `json:"position"`
	Content    string `json:"content"`
}

// Connected is the Server->Agent welcome message sent after a
// successful token handshake.
type Connected struct {
	Type    AgentMessageType `json:"type"`
	BotID   string           `json:"bot_id"`
	BotName string           `json:"bot_name"`
}

// NewConnected builds a Connected envelope.
func NewConnected(botID, botName string) Connected {
	return Connected{Type: AgentConnected, BotID: botID, BotName: botName}
}

// Ping is the liveness probe the router sends every 30s.
type Ping struct {
	Type AgentMessageType `json:"type"`
}

// NewPing builds a Ping envelope.
func NewPing() Ping { return Ping{Type: AgentPing} }

// DebateRequest asks an agent to produce a turn.
type DebateRequest struct {
	Type                AgentMessageType `json:"type"`
	RequestID           string           `json:"request_id"`
	DebateID            string           `json:"debate_id"`
	Round               string           `json:"round"`
	Topic               string           `json:"topic"`
	Position            string           `json:"position"`
	OpponentLastMessage *string          `json:"opponent_last_message"`
	TimeLimitSeconds    int              `json:"time_limit_seconds"`
	WordLimit           WordLimit        `json:"word_limit"`
	CharLimit           CharLimit        `json:"char_limit"`
	MessagesSoFar       []PriorMessage   `json:"messages_so_far"`
}

// QueueJoined confirms matchmaker enqueue.
type QueueJoined struct {
	Type      AgentMessageType `json:"type"`
	QueueIDs  []string         `json:"queue_ids"`
	Stake     int              `json:"stake"`
	PresetIDs []string         `json:"preset_ids"`
}

// QueueLeft confirms matchmaker dequeue.
type QueueLeft struct {
	Type AgentMessageType `json:"type"`
}

// QueueError reports a rejected queue_join/queue_leave request.
type QueueError struct {
	Type  AgentMessageType `json:"type"`
	Error string           `json:"error"`
}

// DebateComplete is the fire-and-forget post-contest notification.
type DebateComplete struct {
	Type      AgentMessageType `json:"type"`
	DebateID  string           `json:"debate_id"`
	Won       *bool            `json:"won"`
	EloChange int              `json:"elo_change"`
}

// Pong answers a router Ping.
type Pong struct {
	Type AgentMessageType `json:"type"`
}

// DebateResponse is an agent's answer to a DebateRequest.
type DebateResponse struct {
	Type       AgentMessageType `json:"type"`
	RequestID  string           `json:"request_id"`
	Message    string           `json:"message"`
	Confidence *float64         `json:"confidence,omitempty"`
}

// ResponseChunk is a reserved streaming-token envelope, not yet consumed
// by the orchestrator (spec §6 marks it "reserved").
type ResponseChunk struct {
	Type      AgentMessageType `json:"type"`
	RequestID string           `json:"request_id"`
	Text      string           `json:"text"`
}

// QueueJoin requests matchmaker enqueue.
type QueueJoin struct {
	Type     AgentMessageType `json:"type"`
	Stake    int              `json:"stake"`
	PresetID string           `json:"preset_id"`
}

// QueueLeave requests matchmaker dequeue.
type QueueLeave struct {
	Type AgentMessageType `json:"type"`
}

// DecodeAgentInbound reads the "type" discriminator of an Agent->Server
// envelope via gjson (no full unmarshal) and dispatches to the matching
// typed struct. Unknown or missing types return ErrInvalidMessage.
func DecodeAgentInbound(data []byte) (any, error) {
	t := AgentMessageType(gjson.GetBytes(data, "type").String())
	switch t {
	case AgentPong:
		var m Pong
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("wire: decode pong: %w", err)
		}
		return m, nil
	case AgentDebateResponse:
		var m DebateResponse
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("wire: decode debate_response: %w", err)
		}
		return m, nil
	case AgentResponseChunk:
		var m ResponseChunk
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("wire: decode response_chunk: %w", err)
		}
		return m, nil
	case AgentQueueJoin:
		var m QueueJoin
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("wire: decode queue_join: %w", err)
		}
		return m, nil
	case AgentQueueLeave:
		var m QueueLeave
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("wire: decode queue_leave: %w", err)
		}
		return m, nil
	default:
		return nil, ErrInvalidMessage
	}
}
