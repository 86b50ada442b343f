package lobby

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DoyleJ11/marathon-draft/internal/athlete"
	"github.com/DoyleJ11/marathon-draft/internal/engine"
)

// helper: receive one snapshot with a timeout so tests never hang
func recvSnapshot(t *testing.T, ch <-chan Snapshot, within time.Duration) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatalf("client outbox closed unexpectedly")
		}
		return snap
	case <-time.After(within):
		t.Fatalf("timed out waiting for snapshot")
		return Snapshot{} // unreachable
	}
}

func recvNoSnapshot(t *testing.T, ch <-chan Snapshot, within time.Duration) {
	t.Helper()
	select {
	case s, ok := <-ch:
		if !ok {
			// channel closed → that's fine; no further snapshots possible
			return
		}
		t.Fatalf("expected no snapshot within %v, but got: %+v", within, s)
	case <-time.After(within):
		// good: no snapshot
	}
}

func recvView(t *testing.T, ch <-chan View, within time.Duration) View {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(within):
		t.Fatalf("timed out waiting for view")
		return View{} // unreachable
	}
}

func recvErr(t *testing.T, ch <-chan error, within time.Duration) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(within):
		t.Fatalf("timed out waiting for reply")
		return nil
	}
}

// fakeSaver records calls and blocks until release is closed (if set).
type fakeSaver struct {
	mu      sync.Mutex
	calls   []engine.PersistedTeam
	tokens  []string
	err     error
	release chan struct{}
}

func (f *fakeSaver) SaveTeam(ctx context.Context, gameID, playerCode, token string, team engine.PersistedTeam) error {
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, team)
	f.tokens = append(f.tokens, token)
	return f.err
}

func (f *fakeSaver) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func fullRoster() engine.State {
	s := engine.NewEmptyState()
	salaries := []int{8000, 6000, 4000, 5000, 4000, 3000}
	for i, id := range engine.SlotOrder {
		g, _ := id.Gender()
		s.Slots[id] = athlete.Athlete{ID: i + 1, Gender: g, Salary: salaries[i]}
	}
	s.TotalSpent = 30000
	return s
}

func newTestLobby(t *testing.T, saver TeamSaver, initial engine.State) (*Lobby, chan Snapshot) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	l := NewLobby(ctx, Config{GameID: "nyc2026", PlayerCode: "RUNNER", TeamName: "Fast Feet", Token: "tok", Saver: saver}, initial)
	out := make(chan Snapshot, 8)
	l.Inbox() <- Join{ClientID: "c1", Outbox: out}
	first := recvSnapshot(t, out, 100*time.Millisecond)
	if first.Version != 0 {
		t.Fatalf("after join: want version=0, got %d", first.Version)
	}
	return l, out
}

func TestLobby_Select_BroadcastsSnapshotAndVersionIncrements(t *testing.T) {
	l, out := newTestLobby(t, &fakeSaver{}, engine.NewEmptyState())

	reply := make(chan error, 1)
	l.Inbox() <- FromClient{
		Cmd:   engine.Command{Type: engine.CmdSelectAthlete, Slot: engine.SlotM1, Athlete: athlete.Athlete{ID: 7, Gender: athlete.GenderMen, Salary: 9000}},
		Reply: reply,
	}
	if err := recvErr(t, reply, 100*time.Millisecond); err != nil {
		t.Fatalf("unexpected err %v", err)
	}

	next := recvSnapshot(t, out, 100*time.Millisecond)
	if next.Version != 1 {
		t.Fatalf("after select: want version=1, got %d", next.Version)
	}
	if next.State.Slots[engine.SlotM1].ID != 7 || next.State.TotalSpent != 9000 {
		t.Fatalf("after select: unexpected state %+v", next.State)
	}
}

func TestLobby_RejectedCommandRepliesAndDoesNotBroadcast(t *testing.T) {
	l, out := newTestLobby(t, &fakeSaver{}, engine.NewEmptyState())

	reply := make(chan error, 1)
	l.Inbox() <- FromClient{
		Cmd:   engine.Command{Type: engine.CmdSelectAthlete, Slot: engine.SlotW1, Athlete: athlete.Athlete{ID: 7, Gender: athlete.GenderMen}},
		Reply: reply,
	}
	if err := recvErr(t, reply, 100*time.Millisecond); !errors.Is(err, engine.ErrGenderMismatch) {
		t.Fatalf("want ErrGenderMismatch, got %v", err)
	}
	recvNoSnapshot(t, out, 50*time.Millisecond)
}

func TestLobby_DropSlowClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := NewLobby(ctx, Config{Saver: &fakeSaver{}}, engine.NewEmptyState())

	clientOut := make(chan Snapshot, 1)
	l.Inbox() <- Join{ClientID: "ch1", Outbox: clientOut}

	cmd := engine.Command{Type: engine.CmdSelectAthlete, Slot: engine.SlotM1, Athlete: athlete.Athlete{ID: 1, Gender: athlete.GenderMen}}
	l.Inbox() <- FromClient{Cmd: cmd}

	reply := make(chan View, 1)
	l.Inbox() <- GetState{Reply: reply}
	view := recvView(t, reply, 100*time.Millisecond)

	if view.NumClients != 0 {
		t.Fatalf("expected slow client to be dropped; NumClients=%d", view.NumClients)
	}
}

func TestLobby_SubmitLocksRoster(t *testing.T) {
	saver := &fakeSaver{}
	l, out := newTestLobby(t, saver, fullRoster())

	reply := make(chan error, 1)
	l.Inbox() <- Submit{Reply: reply}

	started := recvSnapshot(t, out, 100*time.Millisecond)
	if !started.State.Submitting {
		t.Fatalf("expected isSubmitting snapshot first")
	}
	if err := recvErr(t, reply, time.Second); err != nil {
		t.Fatalf("unexpected submit err %v", err)
	}
	done := recvSnapshot(t, out, 100*time.Millisecond)
	if !done.State.Locked || done.State.Submitting {
		t.Fatalf("expected locked idle roster, got %+v", done.State)
	}

	if saver.count() != 1 {
		t.Fatalf("want 1 save call, got %d", saver.count())
	}
	team := saver.calls[0]
	if len(team.Men) != 3 || len(team.Women) != 3 || team.TotalSpent != 30000 || team.TeamName != "Fast Feet" {
		t.Fatalf("unexpected persisted team %+v", team)
	}
	if team.Men[0].ID != 1 || team.Women[2].ID != 6 {
		t.Fatalf("persisted team out of slot order %+v", team)
	}
	if saver.tokens[0] != "tok" {
		t.Fatalf("token not passed through: %q", saver.tokens[0])
	}
}

func TestLobby_SecondSubmitRejectedWhileInFlight(t *testing.T) {
	saver := &fakeSaver{release: make(chan struct{})}
	l, out := newTestLobby(t, saver, fullRoster())

	first := make(chan error, 1)
	l.Inbox() <- Submit{Reply: first}
	_ = recvSnapshot(t, out, 100*time.Millisecond) // isSubmitting

	second := make(chan error, 1)
	l.Inbox() <- Submit{Reply: second}
	if err := recvErr(t, second, 100*time.Millisecond); !errors.Is(err, engine.ErrSubmitInFlight) {
		t.Fatalf("want ErrSubmitInFlight, got %v", err)
	}

	close(saver.release)
	if err := recvErr(t, first, time.Second); err != nil {
		t.Fatalf("unexpected err %v", err)
	}
	if saver.count() != 1 {
		t.Fatalf("want exactly 1 save call, got %d", saver.count())
	}
}

var errSessionExpired = errors.New("session expired")

func TestLobby_FailedSubmitLeavesRosterUnlocked(t *testing.T) {
	saver := &fakeSaver{err: errSessionExpired}
	l, out := newTestLobby(t, saver, fullRoster())

	reply := make(chan error, 1)
	l.Inbox() <- Submit{Reply: reply}
	if err := recvErr(t, reply, time.Second); !errors.Is(err, errSessionExpired) {
		t.Fatalf("want the saver error passed through, got %v", err)
	}
	_ = recvSnapshot(t, out, 100*time.Millisecond) // isSubmitting
	failed := recvSnapshot(t, out, 100*time.Millisecond)
	if failed.State.Locked || failed.State.Submitting {
		t.Fatalf("failed submit must leave roster unlocked: %+v", failed.State)
	}

	// Retry succeeds once the saver recovers.
	saver.mu.Lock()
	saver.err = nil
	saver.mu.Unlock()
	retry := make(chan error, 1)
	l.Inbox() <- Submit{Reply: retry}
	if err := recvErr(t, retry, time.Second); err != nil {
		t.Fatalf("retry: unexpected err %v", err)
	}
}

func TestLobby_DeadlineFires_PermanentlyLocks(t *testing.T) {
	l, out := newTestLobby(t, &fakeSaver{}, engine.NewEmptyState())

	at := time.Now().Add(50 * time.Millisecond)
	l.Inbox() <- ArmDeadline{At: &at}

	next := recvSnapshot(t, out, 500*time.Millisecond)
	if next.Version != 1 || !next.State.PermanentlyLocked {
		t.Fatalf("want version=1 permanently locked, got v%d %+v", next.Version, next.State)
	}

	reply := make(chan error, 1)
	l.Inbox() <- FromClient{Cmd: engine.Command{Type: engine.CmdUnlock}, Reply: reply}
	if err := recvErr(t, reply, 100*time.Millisecond); !errors.Is(err, engine.ErrPermanentlyLocked) {
		t.Fatalf("want ErrPermanentlyLocked, got %v", err)
	}
}

func TestLobby_RearmDropsStaleFires(t *testing.T) {
	l, out := newTestLobby(t, &fakeSaver{}, engine.NewEmptyState())

	soon := time.Now().Add(100 * time.Millisecond)
	l.Inbox() <- ArmDeadline{At: &soon}

	// Push the deadline out before the first timer fires.
	later := time.Now().Add(time.Hour)
	l.Inbox() <- ArmDeadline{At: &later}

	recvNoSnapshot(t, out, 300*time.Millisecond)

	reply := make(chan View, 1)
	l.Inbox() <- GetState{Reply: reply}
	view := recvView(t, reply, 100*time.Millisecond)
	if view.State.PermanentlyLocked {
		t.Fatalf("stale timer locked the roster")
	}
	if view.Deadline == nil || !view.Deadline.Equal(later) {
		t.Fatalf("deadline not updated: %v", view.Deadline)
	}
}

func TestLobby_ResultsPostedLocks(t *testing.T) {
	l, out := newTestLobby(t, &fakeSaver{}, engine.NewEmptyState())
	l.Inbox() <- ResultsPosted{}
	next := recvSnapshot(t, out, 100*time.Millisecond)
	if !next.State.PermanentlyLocked {
		t.Fatalf("expected permanent lock after results")
	}
}

func TestLobby_Shutdown_StopsTimer_NoFire(t *testing.T) {
	l, out := newTestLobby(t, &fakeSaver{}, engine.NewEmptyState())

	at := time.Now().Add(200 * time.Millisecond)
	l.Inbox() <- ArmDeadline{At: &at}
	l.Inbox() <- Shutdown{}

	// Now assert no *new* snapshot shows up (or channel is closed)
	recvNoSnapshot(t, out, 400*time.Millisecond)

	select {
	case <-l.Done():
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("lobby did not report done after shutdown")
	}
}

func TestLobby_RebindUsesNewToken(t *testing.T) {
	saver := &fakeSaver{}
	l, out := newTestLobby(t, saver, fullRoster())

	l.Inbox() <- Rebind{Token: "fresh"}
	reply := make(chan error, 1)
	l.Inbox() <- Submit{Reply: reply}
	recvSnapshot(t, out, 100*time.Millisecond)
	if err := recvErr(t, reply, time.Second); err != nil {
		t.Fatalf("unexpected submit err %v", err)
	}

	saver.mu.Lock()
	defer saver.mu.Unlock()
	if saver.tokens[0] != "fresh" {
		t.Fatalf("want rebound token, got %q", saver.tokens[0])
	}
	if saver.calls[0].TeamName != "Fast Feet" {
		t.Fatalf("empty team name must not overwrite, got %q", saver.calls[0].TeamName)
	}
}

func newIdleLobby(t *testing.T, saver TeamSaver, idle time.Duration) *Lobby {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewLobby(ctx, Config{GameID: "nyc2026", PlayerCode: "RUNNER", Token: "tok", Saver: saver, IdleTimeout: idle}, fullRoster())
}

func waitDone(t *testing.T, l *Lobby, within time.Duration) {
	t.Helper()
	select {
	case <-l.Done():
	case <-time.After(within):
		t.Fatalf("lobby still running after %v", within)
	}
}

func TestLobby_IdleWithoutClientsShutsDown(t *testing.T) {
	l := newIdleLobby(t, &fakeSaver{}, 50*time.Millisecond)
	waitDone(t, l, time.Second)
}

func TestLobby_ClientKeepsIdleLobbyOpen(t *testing.T) {
	l := newIdleLobby(t, &fakeSaver{}, 50*time.Millisecond)
	out := make(chan Snapshot, 8)
	l.Inbox() <- Join{ClientID: "c1", Outbox: out}
	recvSnapshot(t, out, 100*time.Millisecond)

	select {
	case <-l.Done():
		t.Fatalf("lobby closed while a client was attached")
	case <-time.After(150 * time.Millisecond):
	}

	l.Inbox() <- Leave{ClientID: "c1"}
	waitDone(t, l, time.Second)
}

func TestLobby_IdleWaitsForInFlightSubmit(t *testing.T) {
	saver := &fakeSaver{release: make(chan struct{})}
	l := newIdleLobby(t, saver, 50*time.Millisecond)

	reply := make(chan error, 1)
	l.Inbox() <- Submit{Reply: reply}

	select {
	case <-l.Done():
		t.Fatalf("lobby closed with a submit in flight")
	case <-time.After(150 * time.Millisecond):
	}

	close(saver.release)
	if err := recvErr(t, reply, time.Second); err != nil {
		t.Fatalf("unexpected submit err %v", err)
	}
	waitDone(t, l, time.Second)
}
