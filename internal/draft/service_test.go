package draft

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/marathon-draft/internal/athlete"
	"github.com/DoyleJ11/marathon-draft/internal/draftapi"
	"github.com/DoyleJ11/marathon-draft/internal/engine"
	"github.com/DoyleJ11/marathon-draft/internal/hub"
	"github.com/DoyleJ11/marathon-draft/internal/lobby"
	"github.com/DoyleJ11/marathon-draft/internal/session"
)

type fakeAPI struct {
	mu          sync.Mutex
	athletes    []athlete.Athlete
	athleteErr  error
	fetches     atomic.Int32
	team        *draftapi.SavedTeam
	teamErr     error
	hasResults  bool
	resultsErr  error
	lockTime    *time.Time
	configErr   error
	savedTokens []string
}

func (f *fakeAPI) FetchAthletes(context.Context) ([]athlete.Athlete, error) {
	f.fetches.Add(1)
	return f.athletes, f.athleteErr
}

func (f *fakeAPI) FetchTeam(context.Context, string, string) (*draftapi.SavedTeam, error) {
	return f.team, f.teamErr
}

func (f *fakeAPI) HasResults(context.Context, string) (bool, error) {
	return f.hasResults, f.resultsErr
}

func (f *fakeAPI) GameConfig(_ context.Context, gameID string) (*draftapi.GameConfig, error) {
	if f.configErr != nil {
		return nil, f.configErr
	}
	return &draftapi.GameConfig{GameID: gameID, RosterLockTime: f.lockTime}, nil
}

func (f *fakeAPI) SaveTeam(_ context.Context, _, _, token string, _ engine.PersistedTeam) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.savedTokens = append(f.savedTokens, token)
	return nil
}

var now = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func catalog() []athlete.Athlete {
	var out []athlete.Athlete
	for i := 1; i <= 4; i++ {
		out = append(out, athlete.Athlete{ID: i, Gender: athlete.GenderMen, Salary: 5000 + i*100})
		out = append(out, athlete.Athlete{ID: 10 + i, Gender: athlete.GenderWomen, Salary: 4000})
	}
	return out
}

func newTestService(t *testing.T, api *fakeAPI) *Service {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	s := NewService(api, hub.NewHub(ctx), nil)
	s.now = func() time.Time { return now }
	return s
}

func teamSession() session.Session {
	return session.Session{Kind: session.KindTeam, Token: "tok", DisplayName: "Fast Feet", GameID: "nyc2026", PlayerCode: "RUN42"}
}

func view(t *testing.T, lb *lobby.Lobby) lobby.View {
	t.Helper()
	reply := make(chan lobby.View, 1)
	lb.Inbox() <- lobby.GetState{Reply: reply}
	select {
	case v := <-reply:
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for lobby state")
		return lobby.View{}
	}
}

func TestOpen_EmptyWhenNoSavedTeam(t *testing.T) {
	s := newTestService(t, &fakeAPI{athletes: catalog()})

	lb, err := s.Open(context.Background(), teamSession())
	require.NoError(t, err)
	v := view(t, lb)
	assert.Equal(t, 0, v.State.FilledSlotCount())
	assert.False(t, v.State.Locked)
	assert.False(t, v.State.PermanentlyLocked)
}

func TestOpen_RestoresAndHydratesSavedTeam(t *testing.T) {
	saved := &draftapi.SavedTeam{TeamName: "Saved Name", Roster: []athlete.Athlete{
		{ID: 1, Gender: athlete.GenderMen},
		{ID: 2, Gender: athlete.GenderMen},
		{ID: 11, Gender: athlete.GenderWomen},
		{ID: 99, Gender: athlete.GenderWomen, Salary: 7000},
	}}
	s := newTestService(t, &fakeAPI{athletes: catalog(), team: saved})

	lb, err := s.Open(context.Background(), teamSession())
	require.NoError(t, err)
	v := view(t, lb)
	assert.Equal(t, 4, v.State.FilledSlotCount())
	assert.False(t, v.State.Locked, "partial roster is not soft-locked")
	assert.Equal(t, 5100+5200+4000+7000, v.State.TotalSpent, "catalog salary wins, unknown id keeps saved salary")
}

func TestOpen_CompleteSavedTeamStartsLocked(t *testing.T) {
	var roster []athlete.Athlete
	for _, a := range catalog() {
		if a.ID != 4 && a.ID != 14 {
			roster = append(roster, a)
		}
	}
	s := newTestService(t, &fakeAPI{athletes: catalog(), team: &draftapi.SavedTeam{Roster: roster}})

	lb, err := s.Open(context.Background(), teamSession())
	require.NoError(t, err)
	v := view(t, lb)
	assert.True(t, v.State.Locked)
	assert.False(t, v.State.PermanentlyLocked)
}

func TestOpen_PermanentLockFromResultsOrDeadline(t *testing.T) {
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	tests := []struct {
		name string
		api  *fakeAPI
		want bool
	}{
		{"results posted", &fakeAPI{hasResults: true}, true},
		{"deadline passed", &fakeAPI{lockTime: &past}, true},
		{"deadline ahead", &fakeAPI{lockTime: &future}, false},
		{"results unavailable", &fakeAPI{resultsErr: errors.New("down")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestService(t, tt.api)
			lb, err := s.Open(context.Background(), teamSession())
			require.NoError(t, err)
			v := view(t, lb)
			assert.Equal(t, tt.want, v.State.PermanentlyLocked)
		})
	}
}

func TestOpen_ArmsDeadline(t *testing.T) {
	future := now.Add(time.Hour)
	s := newTestService(t, &fakeAPI{lockTime: &future})

	lb, err := s.Open(context.Background(), teamSession())
	require.NoError(t, err)
	v := view(t, lb)
	require.NotNil(t, v.Deadline)
	assert.True(t, future.Equal(*v.Deadline))
}

func TestOpen_ReusesLobbyAndRebindsToken(t *testing.T) {
	api := &fakeAPI{}
	s := newTestService(t, api)
	sess := teamSession()

	first, err := s.Open(context.Background(), sess)
	require.NoError(t, err)
	sess.Token = "fresh"
	second, err := s.Open(context.Background(), sess)
	require.NoError(t, err)
	assert.Same(t, first, second)

	slots := []engine.SlotID{engine.SlotM1, engine.SlotM2, engine.SlotM3, engine.SlotW1, engine.SlotW2, engine.SlotW3}
	picks := []athlete.Athlete{catalog()[0], catalog()[2], catalog()[4], catalog()[1], catalog()[3], catalog()[5]}
	for i, slot := range slots {
		reply := make(chan error, 1)
		second.Inbox() <- lobby.FromClient{Cmd: engine.Command{Type: engine.CmdSelectAthlete, Slot: slot, Athlete: picks[i]}, Reply: reply}
		require.NoError(t, <-reply)
	}
	reply := make(chan error, 1)
	second.Inbox() <- lobby.Submit{Reply: reply}
	select {
	case err := <-reply:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("submit did not finish")
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, []string{"fresh"}, api.savedTokens)
}

func TestOpen_ReopenReevaluatesLock(t *testing.T) {
	t.Run("results posted since", func(t *testing.T) {
		api := &fakeAPI{}
		s := newTestService(t, api)
		first, err := s.Open(context.Background(), teamSession())
		require.NoError(t, err)
		require.False(t, view(t, first).State.PermanentlyLocked)

		api.hasResults = true
		second, err := s.Open(context.Background(), teamSession())
		require.NoError(t, err)
		assert.Same(t, first, second)
		assert.True(t, view(t, second).State.PermanentlyLocked)
	})

	t.Run("lock time moved into the past", func(t *testing.T) {
		future := now.Add(time.Hour)
		api := &fakeAPI{lockTime: &future}
		s := newTestService(t, api)
		lb, err := s.Open(context.Background(), teamSession())
		require.NoError(t, err)
		require.False(t, view(t, lb).State.PermanentlyLocked)

		past := now.Add(-time.Minute)
		api.lockTime = &past
		_, err = s.Open(context.Background(), teamSession())
		require.NoError(t, err)
		require.Eventually(t, func() bool { return view(t, lb).State.PermanentlyLocked }, time.Second, 10*time.Millisecond)
		assert.True(t, past.Equal(*view(t, lb).Deadline))
	})

	t.Run("config unavailable keeps deadline", func(t *testing.T) {
		future := now.Add(time.Hour)
		api := &fakeAPI{lockTime: &future}
		s := newTestService(t, api)
		lb, err := s.Open(context.Background(), teamSession())
		require.NoError(t, err)

		api.configErr = errors.New("down")
		_, err = s.Open(context.Background(), teamSession())
		require.NoError(t, err)
		v := view(t, lb)
		require.NotNil(t, v.Deadline)
		assert.True(t, future.Equal(*v.Deadline))
		assert.False(t, v.State.PermanentlyLocked)
	})
}

func TestClose_RemovesLobby(t *testing.T) {
	s := newTestService(t, &fakeAPI{})
	lb, err := s.Open(context.Background(), teamSession())
	require.NoError(t, err)

	require.NoError(t, s.Close(context.Background(), teamSession()))
	select {
	case <-lb.Done():
	case <-time.After(time.Second):
		t.Fatal("lobby still running after close")
	}
	assert.Nil(t, s.Lookup(context.Background(), teamSession()))

	reopened, err := s.Open(context.Background(), teamSession())
	require.NoError(t, err)
	assert.NotSame(t, lb, reopened)

	err = s.Close(context.Background(), session.Session{Kind: session.KindCommissioner, GameID: "nyc2026"})
	assert.ErrorIs(t, err, ErrNotTeamSession)
}

func TestOpen_IdleLobbyIsReplaced(t *testing.T) {
	s := newTestService(t, &fakeAPI{})
	s.IdleTimeout = 20 * time.Millisecond

	lb, err := s.Open(context.Background(), teamSession())
	require.NoError(t, err)
	select {
	case <-lb.Done():
	case <-time.After(time.Second):
		t.Fatal("idle lobby never closed")
	}

	next, err := s.Open(context.Background(), teamSession())
	require.NoError(t, err)
	assert.NotSame(t, lb, next)
}

func TestOpen_Rejects(t *testing.T) {
	s := newTestService(t, &fakeAPI{teamErr: errors.New("api down")})

	_, err := s.Open(context.Background(), session.Session{Kind: session.KindCommissioner, GameID: "g"})
	assert.ErrorIs(t, err, ErrNotTeamSession)

	_, err = s.Open(context.Background(), teamSession())
	assert.Error(t, err)
	assert.Nil(t, s.Lookup(context.Background(), teamSession()), "no lobby on failed open")
}

func TestAthletes_CachesAndServesStale(t *testing.T) {
	api := &fakeAPI{athletes: catalog()}
	s := newTestService(t, api)
	ctx := context.Background()

	idx, err := s.Athletes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, idx.Len())
	_, err = s.Athletes(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), api.fetches.Load())

	s.now = func() time.Time { return now.Add(time.Hour) }
	api.athleteErr = errors.New("down")
	idx, err = s.Athletes(ctx)
	require.NoError(t, err, "stale index served")
	assert.Equal(t, 8, idx.Len())
	assert.Equal(t, int32(2), api.fetches.Load())
}

func TestAthletes_ErrorWithoutCache(t *testing.T) {
	s := newTestService(t, &fakeAPI{athleteErr: errors.New("down")})
	_, err := s.Athletes(context.Background())
	assert.Error(t, err)
}

func TestRefreshResults(t *testing.T) {
	api := &fakeAPI{}
	s := newTestService(t, api)
	lb, err := s.Open(context.Background(), teamSession())
	require.NoError(t, err)

	posted, err := s.RefreshResults(context.Background(), "nyc2026")
	require.NoError(t, err)
	assert.False(t, posted)

	api.hasResults = true
	posted, err = s.RefreshResults(context.Background(), "nyc2026")
	require.NoError(t, err)
	assert.True(t, posted)

	require.Eventually(t, func() bool { return view(t, lb).State.PermanentlyLocked }, time.Second, 10*time.Millisecond)
}
