package draftapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/DoyleJ11/marathon-draft/internal/athlete"
	"github.com/DoyleJ11/marathon-draft/internal/engine"
)

// SavedTeam is a roster previously persisted for (gameId, playerCode).
type SavedTeam struct {
	Roster     []athlete.Athlete
	TotalSpent int
	TeamName   string
}

type rawTeam struct {
	Men        []map[string]any `json:"men"`
	Women      []map[string]any `json:"women"`
	TotalSpent json.Number      `json:"totalSpent"`
	TeamName   string           `json:"teamName"`
}

// FetchAthletes returns the catalog normalized into canonical athletes. The
// API answers either {"men": [...], "women": [...]} or a flat list.
func (c *Client) FetchAthletes(ctx context.Context) ([]athlete.Athlete, error) {
	resp, err := c.do(ctx, request{method: http.MethodGet, path: "/api/athletes"})
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, fmt.Errorf("fetching athletes: status %d: %s", resp.status, reason(resp.body))
	}

	var grouped struct {
		Men   []map[string]any `json:"men"`
		Women []map[string]any `json:"women"`
	}
	var flat []map[string]any
	if err := decode(resp.body, &grouped); err != nil {
		if err := decode(resp.body, &flat); err != nil {
			return nil, fmt.Errorf("parsing athletes: %w", err)
		}
	}

	var out []athlete.Athlete
	skipped := 0
	if flat != nil {
		list, n := athlete.NormalizeList(flat, "")
		out, skipped = list, n
	} else {
		men, n1 := athlete.NormalizeList(grouped.Men, athlete.GenderMen)
		women, n2 := athlete.NormalizeList(grouped.Women, athlete.GenderWomen)
		out, skipped = append(men, women...), n1+n2
	}
	if skipped > 0 {
		c.log.Warn("skipped malformed athletes", zap.Int("count", skipped))
	}
	return out, nil
}

// FetchTeam returns the saved roster, or nil when the player has none. A
// missing or unreadable entry is treated as no team.
func (c *Client) FetchTeam(ctx context.Context, gameID, playerCode string) (*SavedTeam, error) {
	resp, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/api/salary-cap-draft",
		query:  gameQuery{GameID: gameID, PlayerCode: playerCode},
	})
	if err != nil {
		return nil, err
	}
	if resp.status == http.StatusNotFound {
		return nil, nil
	}
	if !resp.ok() {
		return nil, fmt.Errorf("fetching team: status %d: %s", resp.status, reason(resp.body))
	}

	var byCode map[string]json.RawMessage
	if err := decode(resp.body, &byCode); err != nil {
		c.log.Warn("unreadable team response", zap.Error(err))
		return nil, nil
	}
	entry, ok := byCode[playerCode]
	if !ok || len(entry) == 0 || string(entry) == "null" {
		return nil, nil
	}

	var raw rawTeam
	if err := decode(entry, &raw); err != nil {
		c.log.Warn("unreadable team entry", zap.Error(err))
		return nil, nil
	}

	men, _ := athlete.NormalizeList(raw.Men, athlete.GenderMen)
	women, _ := athlete.NormalizeList(raw.Women, athlete.GenderWomen)
	if len(men)+len(women) == 0 {
		return nil, nil
	}
	total, _ := raw.TotalSpent.Int64()
	return &SavedTeam{
		Roster:     append(men, women...),
		TotalSpent: int(total),
		TeamName:   raw.TeamName,
	}, nil
}

type saveTeamBody struct {
	Team struct {
		Men   []athlete.Athlete `json:"men"`
		Women []athlete.Athlete `json:"women"`
	} `json:"team"`
	TotalSpent int    `json:"totalSpent"`
	TeamName   string `json:"teamName"`
}

// SaveTeam persists a submitted roster. A refused token yields
// ErrSessionExpired; everything else is a *PersistenceError.
func (c *Client) SaveTeam(ctx context.Context, gameID, playerCode, token string, team engine.PersistedTeam) error {
	var body saveTeamBody
	body.Team.Men = team.Men
	body.Team.Women = team.Women
	body.TotalSpent = team.TotalSpent
	body.TeamName = team.TeamName

	resp, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/api/salary-cap-draft",
		query:  gameQuery{GameID: gameID, PlayerCode: playerCode},
		body:   body,
		token:  token,
	})
	if err != nil {
		return &PersistenceError{Op: "save team", Err: err}
	}

	if resp.status == http.StatusUnauthorized || resp.status == http.StatusForbidden {
		return fmt.Errorf("save team: %w", ErrSessionExpired)
	}
	msg := reason(resp.body)
	if !resp.ok() {
		if expiredReason(msg) {
			return fmt.Errorf("save team: %w", ErrSessionExpired)
		}
		return &PersistenceError{Op: "save team", Status: resp.status, Reason: msg}
	}

	var result struct {
		Success *bool  `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(resp.body, &result); err != nil {
		// A 2xx without a JSON body still means the write landed.
		return nil
	}
	if result.Success != nil && !*result.Success {
		if expiredReason(result.Error) {
			return fmt.Errorf("save team: %w", ErrSessionExpired)
		}
		return &PersistenceError{Op: "save team", Status: resp.status, Reason: result.Error}
	}
	return nil
}

// IsPersistence reports whether err is a retryable API failure.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
