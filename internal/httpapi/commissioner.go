package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/DoyleJ11/marathon-draft/internal/draftapi"
	"github.com/DoyleJ11/marathon-draft/internal/session"
	"github.com/DoyleJ11/marathon-draft/internal/types"
)

type ctxKey int

const commissionerKey ctxKey = iota

func commissionerFrom(ctx context.Context) session.Session {
	sess, _ := ctx.Value(commissionerKey).(session.Session)
	return sess
}

// RequireCommissioner admits requests from a browser holding a live
// commissioner session.
func (h *handlers) RequireCommissioner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := session.Owner(r)
		if owner == "" {
			writeError(w, http.StatusUnauthorized, "no_session", "commissioner login required")
			return
		}
		sess, err := h.Sessions.Load(r.Context(), owner, session.KindCommissioner)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "no_session", "commissioner login required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), commissionerKey, sess)))
	})
}

type loginRequest struct {
	GameID string `json:"gameId"`
	Code   string `json:"code"`
}

func (h *handlers) CommissionerLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(w, r, &req); err != nil || req.GameID == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, types.CodeBadRequest, "gameId and code are required")
		return
	}

	grant, err := h.Remote.VerifyCommissioner(r.Context(), req.GameID, strings.TrimSpace(req.Code))
	if errors.Is(err, draftapi.ErrInvalidCode) {
		writeError(w, http.StatusUnauthorized, "invalid_code", "invalid code")
		return
	}
	if err != nil {
		h.Log.Warn("commissioner verification failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "verification_failed", "could not verify code")
		return
	}

	owner := session.EnsureOwner(w, r)
	sess, err := h.Sessions.Save(r.Context(), owner, session.Session{
		Kind:        session.KindCommissioner,
		Token:       grant.Token,
		DisplayName: grant.DisplayName,
		GameID:      req.GameID,
		ExpiresAt:   grant.ExpiresAt,
	})
	if err != nil {
		h.Log.Error("storing commissioner session failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, types.CodeInternal, "could not store session")
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

type rosterLockRequest struct {
	// RosterLockTime is RFC 3339; null clears the deadline.
	RosterLockTime *string `json:"rosterLockTime"`
}

func (h *handlers) SetRosterLock(w http.ResponseWriter, r *http.Request) {
	sess := commissionerFrom(r.Context())

	var req rosterLockRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, types.CodeBadRequest, "invalid body")
		return
	}
	var at *time.Time
	if req.RosterLockTime != nil && *req.RosterLockTime != "" {
		t, err := time.Parse(time.RFC3339, *req.RosterLockTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, types.CodeBadRequest, "rosterLockTime must be RFC 3339")
			return
		}
		at = &t
	}

	err := h.Remote.SetRosterLockTime(r.Context(), sess.GameID, sess.Token, at)
	if errors.Is(err, draftapi.ErrSessionExpired) {
		_ = h.Sessions.Clear(r.Context(), session.Owner(r), session.KindCommissioner)
		writeError(w, http.StatusUnauthorized, "session_expired", "commissioner session expired")
		return
	}
	if err != nil {
		h.Log.Warn("setting roster lock time failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, types.ErrorCode(err), "could not update game")
		return
	}

	if err := h.Drafts.SetDeadline(r.Context(), sess.GameID, at); err != nil {
		h.Log.Warn("re-arming drafts failed", zap.Error(err))
	}
	h.Log.Info("roster lock time updated", zap.String("game_id", sess.GameID), zap.Timep("at", at))
	writeJSON(w, http.StatusOK, map[string]*time.Time{"rosterLockTime": at})
}

// RefreshResults locks every open draft of the game once results are in.
func (h *handlers) RefreshResults(w http.ResponseWriter, r *http.Request) {
	sess := commissionerFrom(r.Context())
	posted, err := h.Drafts.RefreshResults(r.Context(), sess.GameID)
	if err != nil {
		h.Log.Warn("checking results failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "results_unavailable", "could not check results")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"hasResults": posted})
}

// InviteQR renders the team join link for the commissioner's game.
func (h *handlers) InviteQR(w http.ResponseWriter, r *http.Request) {
	sess := commissionerFrom(r.Context())
	png, err := qrcode.Encode(h.inviteURL(sess.GameID), qrcode.Medium, 256)
	if err != nil {
		h.Log.Error("encoding invite QR failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, types.CodeInternal, "could not render QR code")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

func (h *handlers) inviteURL(gameID string) string {
	return strings.TrimRight(h.PublicURL, "/") + "/?game=" + url.QueryEscape(gameID)
}
