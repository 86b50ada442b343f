package types

import (
	"errors"

	"github.com/DoyleJ11/marathon-draft/internal/draftapi"
	"github.com/DoyleJ11/marathon-draft/internal/engine"
)

// Client message types.
const (
	MsgSelectAthlete = "SelectAthlete"
	MsgRemoveAthlete = "RemoveAthlete"
	MsgUnlock        = "Unlock"
	MsgSubmit        = "Submit"
	MsgFocusSlot     = "FocusSlot"
)

// Server message types.
const (
	MsgStateSnapshot = "StateSnapshot"
	MsgError         = "Error"
)

type ClientMessage struct {
	Type      string `json:"type"`
	Slot      string `json:"slot,omitempty"`
	AthleteID int    `json:"athleteId,omitempty"`
}

type ServerMessage struct {
	Type    string        `json:"type"` // "StateSnapshot" | "Error"
	Version int           `json:"version,omitempty"`
	State   *engine.State `json:"state,omitempty"`
	Error   *ErrorBody    `json:"error,omitempty"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes beyond the engine's.
const (
	CodeBadRequest     = "bad_request"
	CodeUnknownAthlete = "unknown_athlete"
	CodeInternal       = "internal"
)

var codes = []struct {
	err  error
	code string
}{
	{engine.ErrInvalidSlot, "invalid_slot"},
	{engine.ErrGenderMismatch, "gender_mismatch"},
	{engine.ErrDuplicateAthlete, "duplicate_athlete"},
	{engine.ErrRosterLocked, "roster_locked"},
	{engine.ErrPermanentlyLocked, "permanently_locked"},
	{engine.ErrIncompleteRoster, "incomplete_roster"},
	{engine.ErrBudgetExceeded, "budget_exceeded"},
	{engine.ErrSubmitInFlight, "submit_in_flight"},
	{engine.ErrNotSubmitting, "not_submitting"},
	{engine.ErrUnsupportedCommand, "unsupported_command"},
	{draftapi.ErrSessionExpired, "session_expired"},
}

// ErrorCode classifies err for clients. Session expiry is checked before
// persistence failures so a refused token is never reported as retryable.
func ErrorCode(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	if draftapi.IsPersistence(err) {
		return "persistence_error"
	}
	return CodeInternal
}

func ErrorMessage(err error) ServerMessage {
	return ServerMessage{Type: MsgError, Error: &ErrorBody{Code: ErrorCode(err), Message: err.Error()}}
}

func Snapshot(version int, state engine.State) ServerMessage {
	return ServerMessage{Type: MsgStateSnapshot, Version: version, State: &state}
}
