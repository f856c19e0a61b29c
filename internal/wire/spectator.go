package wire

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// SpectatorInboundType is the closed set of Client->Server envelope tags
// on the spectator socket (spec §6).
type SpectatorInboundType string

const (
	SpecJoinDebate  SpectatorInboundType = "join_debate"
	SpecLeaveDebate SpectatorInboundType = "leave_debate"
	SpecSubmitVote  SpectatorInboundType = "submit_vote"
	SpecPing        SpectatorInboundType = "ping"
)

// JoinDebate attaches a viewer session to a contest.
type JoinDebate struct {
	Type     SpectatorInboundType `json:"type"`
	DebateID string               `json:"debate_id"`
	UserID   string               `json:"user_id,omitempty"`
}

// LeaveDebate detaches a viewer session from its current contest.
type LeaveDebate struct {
	Type SpectatorInboundType `json:"type"`
}

// SubmitVote casts a spectator vote for the current round.
type SubmitVote struct {
	Type       SpectatorInboundType `json:"type"`
	DebateID   string               `json:"debate_id"`
	RoundIndex int                  `json:"round_index"`
	Choice     string               `json:"choice"`
}

// SpecPingMsg is the spectator socket's keepalive ping.
type SpecPingMsg struct {
	Type SpectatorInboundType `json:"type"`
}

// DecodeSpectatorInbound reads the "type" discriminator via gjson and
// dispatches to the matching typed struct. Unknown or missing types
// return ErrInvalidMessage.
func DecodeSpectatorInbound(data []byte) (any, error) {
	t := SpectatorInboundType(gjson.GetBytes(data, "type").String())
	switch t {
	case SpecJoinDebate:
		var m JoinDebate
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("wire: decode join_debate: %w", err)
		}
		return m, nil
	case SpecLeaveDebate:
		var m LeaveDebate
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("wire: decode leave_debate: %w", err)
		}
		return m, nil
	case SpecSubmitVote:
		var m SubmitVote
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("wire: decode submit_vote: %w", err)
		}
		return m, nil
	case SpecPing:
		var m SpecPingMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("wire: decode ping: %w", err)
		}
		return m, nil
	default:
		return nil, ErrInvalidMessage
	}
}

// SpectatorEventType is the closed set of Server->Client envelope tags
// on the spectator socket (spec §6). Every event carries
// {type, debate_id, payload}.
type SpectatorEventType string

const (
	EventDebateStarted  SpectatorEventType = "debate_started"
	EventDebateResumed  SpectatorEventType = "debate_resumed"
	EventRoundStarted   SpectatorEventType = "round_started"
	EventBotTyping      SpectatorEventType = "bot_typing"
	EventBotMessage     SpectatorEventType = "bot_message"
	EventVotingStarted  SpectatorEventType = "voting_started"
	EventVoteUpdate     SpectatorEventType = "vote_update"
	EventRoundEnded     SpectatorEventType = "round_ended"
	EventDebateEnded    SpectatorEventType = "debate_ended"
	EventDebateForfeit  SpectatorEventType = "debate_forfeit"
	EventSpectatorCount SpectatorEventType = "spectator_count"
	EventVoteAccepted   SpectatorEventType = "vote_accepted"
	EventError          SpectatorEventType = "error"
	EventPong           SpectatorEventType = "pong"
)

// DebateStartedPayload backs both debate_started and debate_resumed.
type DebateStartedPayload struct {
	ProAgentID  string `json:"pro_agent_id"`
	ConAgentID  string `json:"con_agent_id"`
	Topic       string `json:"topic"`
	PresetID    string `json:"preset_id"`
	ResumePoint string `json:"resume_point,omitempty"`
}

// RoundStartedPayload announces a new round.
type RoundStartedPayload struct {
	RoundIndex int    `json:"round_index"`
	Name       string `json:"name"`
	Speaker    string `json:"speaker"`
}

// BotTypingPayload announces that a side is composing a turn.
type BotTypingPayload struct {
	RoundIndex int    `json:"round_index"`
	Position   string `json:"position"`
}

// BotMessagePayload carries a produced (or sentinel-failed) turn.
type BotMessagePayload struct {
	RoundIndex int    `json:"round_index"`
	Position   string `json:"position"`
	AgentID    string `json:"agent_id"`
	Content    string `json:"content"`
}

// VotingStartedPayload announces the opening of a round's vote window.
type VotingStartedPayload struct {
	RoundIndex        int `json:"round_index"`
	VoteWindowSeconds int `json:"vote_window_seconds"`
}

// VoteUpdatePayload is a coarse-cadence tally tick during voting.
type VoteUpdatePayload struct {
	RoundIndex int `json:"round_index"`
	ProVotes   int `json:"pro_votes"`
	ConVotes   int `json:"con_votes"`
}

// RoundEndedPayload reports one round's final tally and the cumulative
// overall score so far.
type RoundEndedPayload struct {
	RoundIndex     int    `json:"round_index"`
	ProVotes       int    `json:"pro_votes"`
	ConVotes       int    `json:"con_votes"`
	Winner         string `json:"winner"`
	OverallProWins int    `json:"overall_pro_wins"`
	OverallConWins int    `json:"overall_con_wins"`
}

// PayoutEntry is one bettor's settlement result.
type PayoutEntry struct {
	BettorID string `json:"bettor_id"`
	Side     string `json:"side"`
	Amount   int    `json:"amount"`
	Payout   int    `json:"payout"`
}

// DebateEndedPayload is the final aggregate outcome.
type DebateEndedPayload struct {
	Winner         string        `json:"winner"`
	OverallProWins int           `json:"overall_pro_wins"`
	OverallConWins int           `json:"overall_con_wins"`
	ProEloDelta    int           `json:"pro_elo_delta"`
	ConEloDelta    int           `json:"con_elo_delta"`
	Payouts        []PayoutEntry `json:"payouts"`
}

// DebateForfeitPayload replaces DebateEndedPayload when a side forfeits.
type DebateForfeitPayload struct {
	ForfeitedBy string        `json:"forfeited_by"`
	Winner      string        `json:"winner"`
	ProEloDelta int           `json:"pro_elo_delta"`
	ConEloDelta int           `json:"con_elo_delta"`
	Payouts     []PayoutEntry `json:"payouts"`
}

// SpectatorCountPayload carries the fleet-wide viewer count for a
// contest.
type SpectatorCountPayload struct {
	Count int `json:"count"`
}

// VoteAcceptedPayload confirms a submit_vote was recorded.
type VoteAcceptedPayload struct {
	RoundIndex int `json:"round_index"`
}

// EncodeSpectatorEvent builds a {type, debate_id, payload} envelope.
// The payload is marshaled once and spliced in via sjson.SetRawBytes so
// the outer envelope is never round-tripped through an intermediate Go
// struct with an `any` payload field.
func EncodeSpectatorEvent(evType SpectatorEventType, debateID string, payload any) ([]byte, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal payload for %s: %w", evType, err)
	}

	out, err := sjson.SetBytes([]byte("{}"), "type", string(evType))
	if err != nil {
		return nil, fmt.Errorf("wire: set type: %w", err)
	}
	out, err = sjson.SetBytes(out, "debate_id", debateID)
	if err != nil {
		return nil, fmt.Errorf("wire: set debate_id: %w", err)
	}
	out, err = sjson.SetRawBytes(out, "payload", payloadJSON)
	if err != nil {
		return nil, fmt.Errorf("wire: set payload: %w", err)
	}
	return out, nil
}
