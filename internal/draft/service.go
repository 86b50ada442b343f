// Package draft opens drafts: it builds a team's starting state from the
// remote APIs and hands it to a lobby in the hub.
package draft

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/DoyleJ11/marathon-draft/internal/athlete"
	"github.com/DoyleJ11/marathon-draft/internal/draftapi"
	"github.com/DoyleJ11/marathon-draft/internal/engine"
	"github.com/DoyleJ11/marathon-draft/internal/hub"
	"github.com/DoyleJ11/marathon-draft/internal/lobby"
	"github.com/DoyleJ11/marathon-draft/internal/session"
)

var ErrNotTeamSession = errors.New("draft requires a team session")

const (
	defaultCatalogTTL  = 10 * time.Minute
	defaultIdleTimeout = 30 * time.Minute
)

// API is the slice of the remote API a draft needs.
type API interface {
	lobby.TeamSaver
	FetchAthletes(ctx context.Context) ([]athlete.Athlete, error)
	FetchTeam(ctx context.Context, gameID, playerCode string) (*draftapi.SavedTeam, error)
	HasResults(ctx context.Context, gameID string) (bool, error)
	GameConfig(ctx context.Context, gameID string) (*draftapi.GameConfig, error)
}

type Service struct {
	api API
	hub *hub.Hub
	log *zap.Logger
	now func() time.Time

	CatalogTTL time.Duration
	// IdleTimeout is how long a lobby with no clients stays in the hub.
	IdleTimeout time.Duration

	mu        sync.Mutex
	index     *athlete.Index
	fetchedAt time.Time
	fetches   singleflight.Group
}

func NewService(api API, h *hub.Hub, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		api:         api,
		hub:         h,
		log:         log,
		now:         time.Now,
		CatalogTTL:  defaultCatalogTTL,
		IdleTimeout: defaultIdleTimeout,
	}
}

// Athletes returns the cached catalog, refetching once it is older than
// CatalogTTL. Concurrent callers share one fetch. A failed refresh serves
// the stale index when there is one.
func (s *Service) Athletes(ctx context.Context) (*athlete.Index, error) {
	s.mu.Lock()
	idx, fresh := s.index, s.index != nil && s.now().Sub(s.fetchedAt) < s.CatalogTTL
	s.mu.Unlock()
	if fresh {
		return idx, nil
	}

	v, err, _ := s.fetches.Do("athletes", func() (any, error) {
		list, err := s.api.FetchAthletes(ctx)
		if err != nil {
			return nil, err
		}
		next := athlete.NewIndex(list)
		s.mu.Lock()
		s.index, s.fetchedAt = next, s.now()
		s.mu.Unlock()
		s.log.Info("athlete catalog refreshed", zap.Int("count", next.Len()))
		return next, nil
	})
	if err != nil {
		if idx != nil {
			s.log.Warn("serving stale athlete catalog", zap.Error(err))
			return idx, nil
		}
		return nil, fmt.Errorf("loading athletes: %w", err)
	}
	return v.(*athlete.Index), nil
}

// Open returns the team's lobby, creating it from the persisted roster, the
// results state and the game's roster-lock time when none is live. A live
// lobby gets the fresh token and has its lock re-evaluated, since results or
// the lock time may have changed while it idled.
func (s *Service) Open(ctx context.Context, sess session.Session) (*lobby.Lobby, error) {
	if sess.Kind != session.KindTeam || sess.PlayerCode == "" {
		return nil, ErrNotTeamSession
	}
	key := hub.Key{GameID: sess.GameID, PlayerCode: sess.PlayerCode}

	if lb := s.lookup(ctx, key); lb != nil {
		st := s.fetchStatus(ctx, sess.GameID)
		s.send(ctx, lb, lobby.Rebind{Token: sess.Token})
		s.rearm(ctx, lb, st)
		return lb, nil
	}

	var (
		saved *draftapi.SavedTeam
		st    gameStatus
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		saved, err = s.api.FetchTeam(gctx, sess.GameID, sess.PlayerCode)
		return err
	})
	g.Go(func() error {
		st = s.fetchStatus(gctx, sess.GameID)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("loading saved team: %w", err)
	}

	state, teamName, err := s.initialState(ctx, sess, saved, st.hasResults, st.lockTime)
	if err != nil {
		return nil, err
	}

	reply := make(chan *lobby.Lobby, 1)
	cfg := lobby.Config{
		GameID:      sess.GameID,
		PlayerCode:  sess.PlayerCode,
		TeamName:    teamName,
		Token:       sess.Token,
		Saver:       s.api,
		Log:         s.log,
		Now:         s.now,
		IdleTimeout: s.IdleTimeout,
	}
	if err := s.sendHub(ctx, hub.EnsureLobby{Key: key, Config: cfg, State: state, Reply: reply}); err != nil {
		return nil, err
	}
	var lb *lobby.Lobby
	select {
	case lb = <-reply:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// Another Open may have won the race; its lobby still needs this token.
	s.send(ctx, lb, lobby.Rebind{Token: sess.Token})
	s.rearm(ctx, lb, st)
	return lb, nil
}

// gameStatus is what the Draft API says about a game's lock inputs.
type gameStatus struct {
	hasResults  bool
	lockTime    *time.Time
	configKnown bool
}

// fetchStatus fetches results and the roster-lock time concurrently. Failures
// are logged and treated as unknown.
func (s *Service) fetchStatus(ctx context.Context, gameID string) gameStatus {
	var st gameStatus
	var g errgroup.Group
	g.Go(func() error {
		ok, err := s.api.HasResults(ctx, gameID)
		if err != nil {
			s.log.Warn("results unavailable, assuming none", zap.String("game_id", gameID), zap.Error(err))
			return nil
		}
		st.hasResults = ok
		return nil
	})
	g.Go(func() error {
		cfg, err := s.api.GameConfig(ctx, gameID)
		if err != nil {
			s.log.Warn("game config unavailable, keeping deadline", zap.String("game_id", gameID), zap.Error(err))
			return nil
		}
		st.lockTime, st.configKnown = cfg.RosterLockTime, true
		return nil
	})
	_ = g.Wait()
	return st
}

// rearm pushes the game status into a lobby. An unknown config leaves the
// lobby's current deadline alone.
func (s *Service) rearm(ctx context.Context, lb *lobby.Lobby, st gameStatus) {
	if st.hasResults {
		s.send(ctx, lb, lobby.ResultsPosted{})
	}
	if st.configKnown {
		s.send(ctx, lb, lobby.ArmDeadline{At: st.lockTime})
	}
}

func (s *Service) initialState(ctx context.Context, sess session.Session, saved *draftapi.SavedTeam, hasResults bool, lockTime *time.Time) (engine.State, string, error) {
	state := engine.NewEmptyState()
	teamName := sess.DisplayName

	if saved != nil {
		if saved.TeamName != "" {
			teamName = saved.TeamName
		}
		roster := s.hydrate(ctx, saved.Roster)
		_, next, err := engine.Apply(state, engine.Command{Type: engine.CmdRestore, Roster: roster})
		if err != nil {
			return engine.State{}, "", fmt.Errorf("restoring roster: %w", err)
		}
		if next.FilledSlotCount() != len(roster) {
			s.log.Warn("saved roster did not fit", zap.Int("saved", len(roster)), zap.Int("seated", next.FilledSlotCount()))
		}
		state = next
	}

	_, next, err := engine.Apply(state, engine.Command{
		Type:       engine.CmdEvaluateLock,
		HasResults: hasResults,
		LockTime:   lockTime,
		At:         s.now(),
	})
	if err != nil {
		return engine.State{}, "", fmt.Errorf("evaluating lock: %w", err)
	}
	return next, teamName, nil
}

// hydrate replaces saved athletes with their current catalog entry so salary
// and rank reflect the catalog. Unknown ids keep the saved copy.
func (s *Service) hydrate(ctx context.Context, roster []athlete.Athlete) []athlete.Athlete {
	idx, err := s.Athletes(ctx)
	if err != nil {
		s.log.Warn("catalog unavailable, restoring saved athletes as-is", zap.Error(err))
		return roster
	}
	out := make([]athlete.Athlete, len(roster))
	for i, a := range roster {
		if cur, ok := idx.Get(a.ID); ok && cur.Gender == a.Gender {
			out[i] = cur
			continue
		}
		out[i] = a
	}
	return out
}

// Lookup returns the live lobby for a team session, or nil.
func (s *Service) Lookup(ctx context.Context, sess session.Session) *lobby.Lobby {
	return s.lookup(ctx, hub.Key{GameID: sess.GameID, PlayerCode: sess.PlayerCode})
}

func (s *Service) lookup(ctx context.Context, key hub.Key) *lobby.Lobby {
	reply := make(chan *lobby.Lobby, 1)
	if err := s.sendHub(ctx, hub.GetLobby{Key: key, Reply: reply}); err != nil {
		return nil
	}
	select {
	case lb := <-reply:
		return lb
	case <-ctx.Done():
		return nil
	}
}

// Close shuts the team's lobby down, e.g. when the team signs out. Clients
// still attached see their stream end.
func (s *Service) Close(ctx context.Context, sess session.Session) error {
	if sess.Kind != session.KindTeam || sess.PlayerCode == "" {
		return ErrNotTeamSession
	}
	return s.sendHub(ctx, hub.RemoveLobby{Key: hub.Key{GameID: sess.GameID, PlayerCode: sess.PlayerCode}})
}

// SetDeadline re-arms every open draft of a game after the commissioner
// moved the roster-lock time.
func (s *Service) SetDeadline(ctx context.Context, gameID string, at *time.Time) error {
	return s.sendHub(ctx, hub.SetDeadline{GameID: gameID, At: at})
}

// RefreshResults permanently locks every open draft of a game once results
// exist. It reports whether they did.
func (s *Service) RefreshResults(ctx context.Context, gameID string) (bool, error) {
	ok, err := s.api.HasResults(ctx, gameID)
	if err != nil || !ok {
		return false, err
	}
	return true, s.sendHub(ctx, hub.ResultsPosted{GameID: gameID})
}

func (s *Service) sendHub(ctx context.Context, msg hub.HubMsg) error {
	select {
	case s.hub.Inbox() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) send(ctx context.Context, lb *lobby.Lobby, msg lobby.Msg) {
	select {
	case lb.Inbox() <- msg:
	case <-lb.Done():
	case <-ctx.Done():
	}
}
