package hub

import (
	"context"
	"testing"
	"time"

	"github.com/DoyleJ11/marathon-draft/internal/engine"
	"github.com/DoyleJ11/marathon-draft/internal/lobby"
)

func ensure(t *testing.T, h *Hub, key Key) *lobby.Lobby {
	t.Helper()
	reply := make(chan *lobby.Lobby, 1)
	h.Inbox() <- EnsureLobby{Key: key, Config: lobby.Config{GameID: key.GameID, PlayerCode: key.PlayerCode}, State: engine.NewEmptyState(), Reply: reply}
	return <-reply
}

func view(t *testing.T, lb *lobby.Lobby) lobby.View {
	t.Helper()
	reply := make(chan lobby.View, 1)
	lb.Inbox() <- lobby.GetState{Reply: reply}
	select {
	case v := <-reply:
		return v
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("timed out waiting for view")
		return lobby.View{}
	}
}

func TestHub_Ensure_Get_SamePointer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHub(ctx)

	key := Key{GameID: "nyc2026", PlayerCode: "ZED123"}
	lb1 := ensure(t, h, key)
	lb2 := ensure(t, h, key)

	reply := make(chan *lobby.Lobby, 1)
	h.Inbox() <- GetLobby{Key: key, Reply: reply}
	lb3 := <-reply

	if lb1 == nil || lb1 != lb2 || lb2 != lb3 {
		t.Fatalf("expected same lobby pointer")
	}

	h.Inbox() <- GetLobby{Key: Key{GameID: "nyc2026", PlayerCode: "OTHER"}, Reply: reply}
	if <-reply != nil {
		t.Fatalf("expected nil for unknown key")
	}
}

func TestHub_SetDeadline_OnlyTargetsGame(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHub(ctx)

	inGame := ensure(t, h, Key{GameID: "boston", PlayerCode: "A"})
	other := ensure(t, h, Key{GameID: "berlin", PlayerCode: "A"})

	at := time.Now().Add(time.Hour)
	h.Inbox() <- SetDeadline{GameID: "boston", At: &at}

	deadline := time.Now().Add(time.Second)
	for view(t, inGame).Deadline == nil {
		if time.Now().After(deadline) {
			t.Fatalf("deadline never reached the boston lobby")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if view(t, other).Deadline != nil {
		t.Fatalf("berlin lobby should not have a deadline")
	}
}

func TestHub_ResultsPosted_LocksGame(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHub(ctx)

	lb := ensure(t, h, Key{GameID: "boston", PlayerCode: "A"})
	h.Inbox() <- ResultsPosted{GameID: "boston"}

	deadline := time.Now().Add(time.Second)
	for !view(t, lb).State.PermanentlyLocked {
		if time.Now().After(deadline) {
			t.Fatalf("lobby never locked")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHub_RemoveLobby_ShutsItDown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHub(ctx)

	key := Key{GameID: "boston", PlayerCode: "A"}
	lb := ensure(t, h, key)
	h.Inbox() <- RemoveLobby{Key: key}

	select {
	case <-lb.Done():
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("lobby not shut down")
	}

	count := make(chan int, 1)
	h.Inbox() <- CountLobbies{Reply: count}
	if n := <-count; n != 0 {
		t.Fatalf("want 0 lobbies, got %d", n)
	}
}

func countLobbies(t *testing.T, h *Hub) int {
	t.Helper()
	reply := make(chan int, 1)
	h.Inbox() <- CountLobbies{Reply: reply}
	select {
	case n := <-reply:
		return n
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("hub did not answer")
		return -1
	}
}

func TestHub_SweepForgetsIdleLobbies(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHub(ctx, 20*time.Millisecond)

	key := Key{GameID: "boston", PlayerCode: "A"}
	reply := make(chan *lobby.Lobby, 1)
	h.Inbox() <- EnsureLobby{
		Key:    key,
		Config: lobby.Config{GameID: key.GameID, PlayerCode: key.PlayerCode, IdleTimeout: 30 * time.Millisecond},
		State:  engine.NewEmptyState(),
		Reply:  reply,
	}
	lb := <-reply
	kept := ensure(t, h, Key{GameID: "boston", PlayerCode: "B"})

	select {
	case <-lb.Done():
	case <-time.After(time.Second):
		t.Fatalf("idle lobby never closed")
	}
	time.Sleep(50 * time.Millisecond)

	if n := countLobbies(t, h); n != 1 {
		t.Fatalf("want 1 live lobby, got %d", n)
	}

	// Messages for a game whose lobby is gone must not wedge the hub.
	at := time.Now().Add(time.Hour)
	h.Inbox() <- SetDeadline{GameID: "boston", At: &at}
	h.Inbox() <- GetLobby{Key: key, Reply: reply}
	if <-reply != nil {
		t.Fatalf("closed lobby still served")
	}
	if view(t, kept).Deadline == nil {
		t.Fatalf("live lobby missed the deadline")
	}
}

func TestHub_DeliverSkipsClosedLobby(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHub(ctx)

	key := Key{GameID: "boston", PlayerCode: "A"}
	lb := ensure(t, h, key)
	lb.Inbox() <- lobby.Shutdown{}
	<-lb.Done()

	h.Inbox() <- ResultsPosted{GameID: "boston"}
	if n := countLobbies(t, h); n != 0 {
		t.Fatalf("want 0 lobbies, got %d", n)
	}
}
