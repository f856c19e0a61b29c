package wire

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeAgentInbound(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		wantErr bool
	}{
		{name: "pong", json: `{"type":"pong"}`},
		{name: "debate_response", json: `{"type":"debate_response","request_id":"r1","message":"hello","confidence":0.8}`},
		{name: "response_chunk", json: `{"type":"response_chunk","request_id":"r1","text":"partial"}`},
		{name: "queue_join", json: `{"type":"queue_join","stake":100,"preset_id":"classic"}`},
		{name: "queue_leave", json: `{"type":"queue_leave"}`},
		{name: "unknown type", json: `{"type":"bogus"}`, wantErr: true},
		{name: "missing type", json: `{}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeAgentInbound([]byte(tt.json))
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidMessage) {
					t.Fatalf("err = %v, want ErrInvalidMessage", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msg == nil {
				t.Fatal("expected non-nil message")
			}
		})
	}
}

func TestDecodeAgentInbound_DebateResponseFields(t *testing.T) {
	raw := `{"type":"debate_response","request_id":"r1","message":"hello","confidence":0.8}`
	msg, err := DecodeAgentInbound([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp, ok := msg.(DebateResponse)
	if !ok {
		t.Fatalf("type = %T, want DebateResponse", msg)
	}
	if resp.RequestID != "r1" || resp.Message != "hello" {
		t.Errorf("unexpected fields: %+v", resp)
	}
	if resp.Confidence == nil || *resp.Confidence != 0.8 {
		t.Errorf("confidence = %v, want 0.8", resp.Confidence)
	}
}

func TestDecodeSpectatorInbound(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		wantErr bool
	}{
		{name: "join_debate", json: `{"type":"join_debate","debate_id":"d1","user_id":"u1"}`},
		{name: "leave_debate", json: `{"type":"leave_debate"}`},
		{name: "submit_vote", json: `{"type":"submit_vote","debate_id":"d1","round_index":2,"choice":"pro"}`},
		{name: "ping", json: `{"type":"ping"}`},
		{name: "unknown type", json: `{"type":"nonsense"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeSpectatorInbound([]byte(tt.json))
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidMessage) {
					t.Fatalf("err = %v, want ErrInvalidMessage", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msg == nil {
				t.Fatal("expected non-nil message")
			}
		})
	}
}

func TestDecodeSpectatorInbound_SubmitVoteFields(t *testing.T) {
	raw := `{"type":"submit_vote","debate_id":"d1","round_index":2,"choice":"con"}`
	msg, err := DecodeSpectatorInbound([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	vote, ok := msg.(SubmitVote)
	if !ok {
		t.Fatalf("type = %T, want SubmitVote", msg)
	}
	if vote.DebateID != "d1" || vote.RoundIndex != 2 || vote.Choice != "con" {
		t.Errorf("unexpected fields: %+v", vote)
	}
}

func TestEncodeSpectatorEvent(t *testing.T) {
	payload := VoteUpdatePayload{RoundIndex: 1, ProVotes: 5, ConVotes: 3}
	data, err := EncodeSpectatorEvent(EventVoteUpdate, "debate-42", payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded struct {
		Type     string            `json:"type"`
		DebateID string            `json:"debate_id"`
		Payload  VoteUpdatePayload `json:"payload"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if decoded.Type != string(EventVoteUpdate) {
		t.Errorf("type = %q, want %q", decoded.Type, EventVoteUpdate)
	}
	if decoded.DebateID != "debate-42" {
		t.Errorf("debate_id = %q, want debate-42", decoded.DebateID)
	}
	if decoded.Payload.ProVotes != 5 || decoded.Payload.ConVotes != 3 {
		t.Errorf("payload = %+v, want pro=5 con=3", decoded.Payload)
	}
}

func TestEncodeSpectatorEvent_ErrorPayload(t *testing.T) {
	data, err := EncodeSpectatorEvent(EventError, "debate-1", ErrorPayload{
		Code:    ErrCodeWrongDebate,
		Message: "contest is in a different round",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded struct {
		Type    string       `json:"type"`
		Payload ErrorPayload `json:"payload"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Payload.Code != ErrCodeWrongDebate {
		t.Errorf("code = %q, want %q", decoded.Payload.Code, ErrCodeWrongDebate)
	}
}
