package hub

import (
	"context"
	"time"

	"github.com/DoyleJ11/marathon-draft/internal/engine"
	"github.com/DoyleJ11/marathon-draft/internal/lobby"
)

// Key identifies one player's draft in one game.
type Key struct {
	GameID     string
	PlayerCode string
}

type HubMsg interface{ isHubMsg() }

type GetLobby struct {
	Key   Key
	Reply chan *lobby.Lobby
}

// EnsureLobby returns the live lobby for Key or starts one from Config/State.
type EnsureLobby struct {
	Key    Key
	Config lobby.Config
	State  engine.State // only used if creation happens
	Reply  chan *lobby.Lobby
}

type RemoveLobby struct {
	Key Key
}

// SetDeadline re-arms the roster-lock timer of every lobby in a game.
type SetDeadline struct {
	GameID string
	At     *time.Time
}

// ResultsPosted permanently locks every lobby in a game.
type ResultsPosted struct {
	GameID string
}

// CountLobbies reports how many lobbies are live, for health output and tests.
type CountLobbies struct {
	Reply chan int
}

type ShutdownHub struct{}

func (GetLobby) isHubMsg()      {}
func (EnsureLobby) isHubMsg()   {}
func (RemoveLobby) isHubMsg()   {}
func (SetDeadline) isHubMsg()   {}
func (ResultsPosted) isHubMsg() {}
func (CountLobbies) isHubMsg()  {}
func (ShutdownHub) isHubMsg()   {}

// SweepInterval is how often lobbies that closed themselves are forgotten.
const SweepInterval = time.Minute

type Hub struct {
	inbox   chan HubMsg
	lobbies map[Key]*lobby.Lobby
	sweep   time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewHub(parent context.Context) *Hub {
	return newHub(parent, SweepInterval)
}

func newHub(parent context.Context, sweep time.Duration) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		lobbies: make(map[Key]*lobby.Lobby),
		sweep:   sweep,
		ctx:     ctx,
		cancel:  cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	ticker := time.NewTicker(h.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case <-ticker.C:
			h.prune()

		case m := <-h.inbox:
			switch msg := m.(type) {
			case GetLobby:
				msg.Reply <- h.live(msg.Key) // May be nil

			case EnsureLobby:
				if lb := h.live(msg.Key); lb != nil {
					msg.Reply <- lb
					break
				}
				lb := lobby.NewLobby(h.ctx, msg.Config, msg.State)
				h.lobbies[msg.Key] = lb
				msg.Reply <- lb

			case RemoveLobby:
				if lb := h.lobbies[msg.Key]; lb != nil {
					deliver(lb, lobby.Shutdown{})
					delete(h.lobbies, msg.Key)
				}

			case SetDeadline:
				for key, lb := range h.lobbies {
					if key.GameID == msg.GameID {
						deliver(lb, lobby.ArmDeadline{At: msg.At})
					}
				}

			case ResultsPosted:
				for key, lb := range h.lobbies {
					if key.GameID == msg.GameID {
						deliver(lb, lobby.ResultsPosted{})
					}
				}

			case CountLobbies:
				h.prune()
				msg.Reply <- len(h.lobbies)

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

// live drops a lobby that shut itself down since it was registered.
func (h *Hub) live(key Key) *lobby.Lobby {
	lb := h.lobbies[key]
	if lb == nil {
		return nil
	}
	select {
	case <-lb.Done():
		delete(h.lobbies, key)
		return nil
	default:
		return lb
	}
}

// prune forgets every lobby that has shut down, idle ones included.
func (h *Hub) prune() {
	for key := range h.lobbies {
		h.live(key)
	}
}

// deliver hands msg to lb unless it already shut down.
func deliver(lb *lobby.Lobby, msg lobby.Msg) {
	select {
	case lb.Inbox() <- msg:
	case <-lb.Done():
	}
}

func (h *Hub) shutdown() {
	for _, lb := range h.lobbies {
		deliver(lb, lobby.Shutdown{})
	}
	clear(h.lobbies)
	h.cancel()
}
