package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/marathon-draft/internal/athlete"
	"github.com/DoyleJ11/marathon-draft/internal/draftapi"
	"github.com/DoyleJ11/marathon-draft/internal/engine"
	"github.com/DoyleJ11/marathon-draft/internal/lobby"
	"github.com/DoyleJ11/marathon-draft/internal/session"
	"github.com/DoyleJ11/marathon-draft/internal/types"
)

// Drafts is the draft service as the HTTP layer sees it.
type Drafts interface {
	Open(ctx context.Context, sess session.Session) (*lobby.Lobby, error)
	Athletes(ctx context.Context) (*athlete.Index, error)
	SetDeadline(ctx context.Context, gameID string, at *time.Time) error
	RefreshResults(ctx context.Context, gameID string) (bool, error)
	Close(ctx context.Context, sess session.Session) error
}

// Remote is the part of the draft API that issues sessions and changes game
// settings.
type Remote interface {
	CreateTeamSession(ctx context.Context, gameID, teamName string) (*draftapi.Grant, error)
	VerifyCommissioner(ctx context.Context, gameID, code string) (*draftapi.Grant, error)
	SetRosterLockTime(ctx context.Context, gameID, token string, at *time.Time) error
}

type Sessions interface {
	Save(ctx context.Context, owner string, sess session.Session) (session.Session, error)
	Load(ctx context.Context, owner string, kind session.Kind) (session.Session, error)
	Clear(ctx context.Context, owner string, kind session.Kind) error
}

type Deps struct {
	Drafts    Drafts
	Remote    Remote
	Sessions  Sessions
	PublicURL string
	// AllowedOrigins are the cross-origin hosts allowed on /ws.
	AllowedOrigins []string
	Log            *zap.Logger
}

type handlers struct {
	Deps
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, types.ErrorBody{Code: code, Message: message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

type athletesResponse struct {
	Men   []athlete.Athlete `json:"men"`
	Women []athlete.Athlete `json:"women"`
}

// Athletes serves the catalog grouped by gender, optionally filtered by ?q=.
func (h *handlers) Athletes(w http.ResponseWriter, r *http.Request) {
	idx, err := h.Drafts.Athletes(r.Context())
	if err != nil {
		h.Log.Warn("athlete catalog unavailable", zap.Error(err))
		writeError(w, http.StatusBadGateway, "catalog_unavailable", "athlete catalog unavailable")
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	resp := athletesResponse{
		Men:   idx.Search(athlete.GenderMen, q),
		Women: idx.Search(athlete.GenderWomen, q),
	}
	writeJSON(w, http.StatusOK, resp)
}

type createSessionRequest struct {
	GameID   string `json:"gameId"`
	TeamName string `json:"teamName"`
}

func (h *handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, types.CodeBadRequest, "invalid body")
		return
	}
	req.GameID, req.TeamName = strings.TrimSpace(req.GameID), strings.TrimSpace(req.TeamName)
	if req.GameID == "" || req.TeamName == "" {
		writeError(w, http.StatusBadRequest, types.CodeBadRequest, "gameId and teamName are required")
		return
	}

	grant, err := h.Remote.CreateTeamSession(r.Context(), req.GameID, req.TeamName)
	if err != nil {
		h.Log.Warn("creating team session failed", zap.String("game_id", req.GameID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "session_failed", "could not create session")
		return
	}

	owner := session.EnsureOwner(w, r)
	if prev, err := h.Sessions.Load(r.Context(), owner, session.KindTeam); err == nil &&
		(prev.GameID != req.GameID || prev.PlayerCode != grant.PlayerCode) {
		h.closeDraft(r.Context(), prev)
	}
	sess, err := h.Sessions.Save(r.Context(), owner, session.Session{
		Kind:        session.KindTeam,
		Token:       grant.Token,
		DisplayName: grant.DisplayName,
		GameID:      req.GameID,
		PlayerCode:  grant.PlayerCode,
		ExpiresAt:   grant.ExpiresAt,
	})
	if err != nil {
		h.Log.Error("storing session failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, types.CodeInternal, "could not store session")
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (h *handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindParam(w, r)
	if !ok {
		return
	}
	sess, err := h.Sessions.Load(r.Context(), session.Owner(r), kind)
	if errors.Is(err, session.ErrNoSession) {
		writeError(w, http.StatusNotFound, "no_session", "no session")
		return
	}
	if err != nil {
		h.Log.Error("loading session failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, types.CodeInternal, "could not load session")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *handlers) ClearSession(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindParam(w, r)
	if !ok {
		return
	}
	if owner := session.Owner(r); owner != "" {
		if kind == session.KindTeam {
			if sess, err := h.Sessions.Load(r.Context(), owner, kind); err == nil {
				h.closeDraft(r.Context(), sess)
			}
		}
		if err := h.Sessions.Clear(r.Context(), owner, kind); err != nil {
			h.Log.Error("clearing session failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, types.CodeInternal, "could not clear session")
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// closeDraft drops the live lobby of a team session that is going away.
func (h *handlers) closeDraft(ctx context.Context, sess session.Session) {
	if err := h.Drafts.Close(ctx, sess); err != nil {
		h.Log.Warn("closing draft failed", zap.String("game_id", sess.GameID), zap.Error(err))
	}
}

type draftResponse struct {
	Version  int          `json:"version"`
	State    engine.State `json:"state"`
	Deadline *time.Time   `json:"rosterLockTime"`
	Budget   budgetView   `json:"budget"`
}

type budgetView struct {
	Cap         int  `json:"cap"`
	Remaining   int  `json:"remaining"`
	OverBudget  bool `json:"overBudget"`
	FilledSlots int  `json:"filledSlots"`
	CanSubmit   bool `json:"canSubmit"`
}

// OpenDraft opens the current team's draft and returns its state.
func (h *handlers) OpenDraft(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Sessions.Load(r.Context(), session.Owner(r), session.KindTeam)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "no_session", "sign in as a team first")
		return
	}
	lb, err := h.Drafts.Open(r.Context(), sess)
	if err != nil {
		h.Log.Warn("opening draft failed", zap.String("game_id", sess.GameID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "draft_unavailable", "could not open draft")
		return
	}

	reply := make(chan lobby.View, 1)
	select {
	case lb.Inbox() <- lobby.GetState{Reply: reply}:
	case <-lb.Done():
		writeError(w, http.StatusServiceUnavailable, "draft_closed", "draft closed")
		return
	}
	var v lobby.View
	select {
	case v = <-reply:
	case <-r.Context().Done():
		return
	}

	writeJSON(w, http.StatusOK, draftResponse{
		Version:  v.Version,
		State:    v.State,
		Deadline: v.Deadline,
		Budget: budgetView{
			Cap:         engine.SalaryCap,
			Remaining:   v.State.RemainingBudget(),
			OverBudget:  v.State.IsOverBudget(),
			FilledSlots: v.State.FilledSlotCount(),
			CanSubmit:   v.State.CanSubmit(),
		},
	})
}

func kindParam(w http.ResponseWriter, r *http.Request) (session.Kind, bool) {
	kind, err := session.ParseKind(urlParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusNotFound, types.CodeBadRequest, err.Error())
		return "", false
	}
	return kind, true
}
