package draftapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

type GameConfig struct {
	GameID string
	// RosterLockTime is nil when the game has no deadline.
	RosterLockTime *time.Time
}

// HasResults reports whether any scored results exist for the game.
func (c *Client) HasResults(ctx context.Context, gameID string) (bool, error) {
	resp, err := c.do(ctx, request{method: http.MethodGet, path: "/api/results", query: gameQuery{GameID: gameID}})
	if err != nil {
		return false, err
	}
	if resp.status == http.StatusNotFound {
		return false, nil
	}
	if !resp.ok() {
		return false, fmt.Errorf("fetching results: status %d: %s", resp.status, reason(resp.body))
	}

	var list []json.RawMessage
	if err := json.Unmarshal(resp.body, &list); err == nil {
		return len(list) > 0, nil
	}
	var body struct {
		HasResults *bool             `json:"hasResults"`
		Results    []json.RawMessage `json:"results"`
		Scored     []json.RawMessage `json:"scored"`
	}
	if err := json.Unmarshal(resp.body, &body); err != nil {
		c.log.Warn("unreadable results response", zap.Error(err))
		return false, nil
	}
	if body.HasResults != nil {
		return *body.HasResults, nil
	}
	return len(body.Results) > 0 || len(body.Scored) > 0, nil
}

// GameConfig fetches game settings. A missing or malformed lock time means
// no deadline.
func (c *Client) GameConfig(ctx context.Context, gameID string) (*GameConfig, error) {
	resp, err := c.do(ctx, request{method: http.MethodGet, path: "/api/game-state", query: gameQuery{GameID: gameID}})
	if err != nil {
		return nil, err
	}
	cfg := &GameConfig{GameID: gameID}
	if resp.status == http.StatusNotFound {
		return cfg, nil
	}
	if !resp.ok() {
		return nil, fmt.Errorf("fetching game state: status %d: %s", resp.status, reason(resp.body))
	}

	var body struct {
		RosterLockTime      *string `json:"rosterLockTime"`
		RosterLockTimeSnake *string `json:"roster_lock_time"`
	}
	if err := json.Unmarshal(resp.body, &body); err != nil {
		c.log.Warn("unreadable game state", zap.Error(err))
		return cfg, nil
	}
	raw := body.RosterLockTime
	if raw == nil {
		raw = body.RosterLockTimeSnake
	}
	if raw != nil && *raw != "" {
		if t, err := parseTime(*raw); err == nil {
			cfg.RosterLockTime = &t
		} else {
			c.log.Warn("ignoring malformed roster lock time", zap.String("value", *raw))
		}
	}
	return cfg, nil
}

type lockTimeBody struct {
	RosterLockTime *string `json:"rosterLockTime"`
}

// SetRosterLockTime sets or clears (nil) the game deadline. Commissioner only.
func (c *Client) SetRosterLockTime(ctx context.Context, gameID, token string, at *time.Time) error {
	var body lockTimeBody
	if at != nil {
		s := at.UTC().Format(time.RFC3339)
		body.RosterLockTime = &s
	}
	resp, err := c.do(ctx, request{method: http.MethodPut, path: "/api/game-state", query: gameQuery{GameID: gameID}, body: body, token: token})
	if err != nil {
		return &PersistenceError{Op: "set roster lock time", Err: err}
	}
	if resp.status == http.StatusUnauthorized || resp.status == http.StatusForbidden {
		return fmt.Errorf("set roster lock time: %w", ErrSessionExpired)
	}
	if !resp.ok() {
		return &PersistenceError{Op: "set roster lock time", Status: resp.status, Reason: reason(resp.body)}
	}
	return nil
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"}

func parseTime(s string) (time.Time, error) {
	var err error
	for _, layout := range timeLayouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}
