// Package wire defines the closed set of JSON message envelopes exchanged
// on the agent socket and spectator socket (spec §6), and the fast-path
// decoding that dispatches on the envelope's "type" discriminator before
// committing to a typed json.Unmarshal.
package wire

import "errors"

// ErrInvalidMessage is returned when an inbound envelope's "type"
// discriminator is missing or not a member of the closed set this
// package recognizes. Callers surface this as INVALID_MESSAGE.
var ErrInvalidMessage = errors.New("wire: invalid message")

// ErrorCode is the closed vocabulary of client-visible error codes
// (spec §7).
type ErrorCode string

const (
	ErrCodeInvalidMessage   ErrorCode = "INVALID_MESSAGE"
	ErrCodeInvalidDebateID  ErrorCode = "INVALID_DEBATE_ID"
	ErrCodeWrongDebate      ErrorCode = "WRONG_DEBATE"
	ErrCodeNotAuthenticated ErrorCode = "NOT_AUTHENTICATED"
	ErrCodeInvalidVote      ErrorCode = "INVALID_VOTE"
	ErrCodeVoteFailed       ErrorCode = "VOTE_FAILED"
	ErrCodeDebateCancelled  ErrorCode = "DEBATE_CANCELLED"
)

// ErrorPayload is the payload of an `error{code,message}` envelope sent
// to either socket kind.
type ErrorPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}
