package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/marathon-draft/internal/draftapi"
	"github.com/DoyleJ11/marathon-draft/internal/engine"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{engine.ErrGenderMismatch, "gender_mismatch"},
		{fmt.Errorf("select: %w", engine.ErrDuplicateAthlete), "duplicate_athlete"},
		{engine.ErrBudgetExceeded, "budget_exceeded"},
		{fmt.Errorf("save team: %w", draftapi.ErrSessionExpired), "session_expired"},
		{&draftapi.PersistenceError{Op: "save team", Status: 500}, "persistence_error"},
		{errors.New("boom"), CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCode(tt.err))
		})
	}
}

func TestServerMessageJSON(t *testing.T) {
	data, err := json.Marshal(ErrorMessage(engine.ErrRosterLocked))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"Error","error":{"code":"roster_locked","message":"roster is locked"}}`, string(data))

	data, err = json.Marshal(Snapshot(3, engine.NewEmptyState()))
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "StateSnapshot", decoded["type"])
	assert.EqualValues(t, 3, decoded["version"])
	assert.Contains(t, decoded["state"], "isLocked")
}
