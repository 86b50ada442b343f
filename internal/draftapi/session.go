package draftapi

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Grant is what the API hands back when a session is created.
type Grant struct {
	Token       string
	DisplayName string
	PlayerCode  string
	// ExpiresAt is zero when the API did not say.
	ExpiresAt time.Time
}

type grantBody struct {
	Token        string `json:"token"`
	SessionToken string `json:"sessionToken"`
	DisplayName  string `json:"displayName"`
	PlayerCode   string `json:"playerCode"`
	ExpiresAt    string `json:"expiresAt"`
}

func (g grantBody) grant() Grant {
	out := Grant{Token: g.Token, DisplayName: g.DisplayName, PlayerCode: g.PlayerCode}
	if out.Token == "" {
		out.Token = g.SessionToken
	}
	if g.ExpiresAt != "" {
		if t, err := parseTime(g.ExpiresAt); err == nil {
			out.ExpiresAt = t
		}
	}
	return out
}

type createSessionBody struct {
	GameID      string `json:"gameId"`
	DisplayName string `json:"displayName"`
	SessionType string `json:"sessionType"`
}

// CreateTeamSession registers a team in a game and returns its session.
func (c *Client) CreateTeamSession(ctx context.Context, gameID, teamName string) (*Grant, error) {
	resp, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/api/session/create",
		body:   createSessionBody{GameID: gameID, DisplayName: teamName, SessionType: "player"},
	})
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, fmt.Errorf("creating session: status %d: %s", resp.status, reason(resp.body))
	}

	var body struct {
		Session *grantBody `json:"session"`
		grantBody
	}
	if err := decode(resp.body, &body); err != nil {
		return nil, fmt.Errorf("parsing session: %w", err)
	}
	g := body.grantBody.grant()
	if body.Session != nil {
		g = body.Session.grant()
	}
	if g.Token == "" {
		return nil, fmt.Errorf("creating session: response carried no token")
	}
	if g.DisplayName == "" {
		g.DisplayName = teamName
	}
	return &g, nil
}

type totpBody struct {
	GameID   string `json:"gameId"`
	TOTPCode string `json:"totpCode"`
}

// VerifyCommissioner exchanges a TOTP code for a commissioner session.
func (c *Client) VerifyCommissioner(ctx context.Context, gameID, code string) (*Grant, error) {
	resp, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/api/auth/totp/verify",
		body:   totpBody{GameID: gameID, TOTPCode: code},
	})
	if err != nil {
		return nil, err
	}
	if resp.status == http.StatusUnauthorized || resp.status == http.StatusForbidden {
		return nil, ErrInvalidCode
	}
	if !resp.ok() {
		return nil, fmt.Errorf("verifying code: status %d: %s", resp.status, reason(resp.body))
	}

	var body struct {
		Success *bool `json:"success"`
		grantBody
	}
	if err := decode(resp.body, &body); err != nil {
		return nil, fmt.Errorf("parsing verification: %w", err)
	}
	if body.Success != nil && !*body.Success {
		return nil, ErrInvalidCode
	}
	g := body.grant()
	if g.Token == "" {
		return nil, fmt.Errorf("verifying code: response carried no token")
	}
	if g.DisplayName == "" {
		g.DisplayName = "Commissioner"
	}
	return &g, nil
}
