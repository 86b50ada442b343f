package lobby

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/marathon-draft/internal/engine"
)

// TeamSaver persists a submitted roster. Implemented by draftapi.Client.
type TeamSaver interface {
	SaveTeam(ctx context.Context, gameID, playerCode, token string, team engine.PersistedTeam) error
}

// Config carries the identity of one draft. Nothing here is read from globals.
type Config struct {
	GameID     string
	PlayerCode string
	TeamName   string
	Token      string
	Saver      TeamSaver
	Log        *zap.Logger
	// SubmitTimeout bounds one save call; zero means 30s.
	SubmitTimeout time.Duration
	// IdleTimeout shuts the lobby down once it has had no clients and no
	// submit in flight for this long. Zero keeps it until removed.
	IdleTimeout time.Duration
	Now         func() time.Time
}

type Msg interface{ isLobbyMsg() }

// FromClient applies one engine command. Reply, if set, receives the outcome.
type FromClient struct {
	Cmd   engine.Command
	Reply chan error
}

func (FromClient) isLobbyMsg() {}

// Submit starts the single in-flight save. Reply receives the final outcome
// once the Draft API answers, or an engine error right away.
type Submit struct {
	Reply chan error
}

func (Submit) isLobbyMsg() {}

type Join struct {
	ClientID string
	Outbox   chan Snapshot // where this client wants to receive snapshots
}

func (Join) isLobbyMsg() {}

type Leave struct{ ClientID string }

func (Leave) isLobbyMsg() {}

// Rebind swaps in a fresh session token, e.g. after the team signed in again.
// Empty fields are left alone.
type Rebind struct {
	Token    string
	TeamName string
}

func (Rebind) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

// ArmDeadline (re)schedules the roster-lock check. A nil At disarms it.
type ArmDeadline struct {
	At *time.Time
}

func (ArmDeadline) isLobbyMsg() {}

// ResultsPosted tells the lobby the race has scored results.
type ResultsPosted struct{}

func (ResultsPosted) isLobbyMsg() {}

type deadlineFired struct{ gen int }

func (deadlineFired) isLobbyMsg() {}

type idleFired struct{ gen int }

func (idleFired) isLobbyMsg() {}

type submitDone struct {
	err   error
	reply chan error
}

func (submitDone) isLobbyMsg() {}

type Snapshot struct {
	Version int
	State   engine.State
}

type View struct {
	Version    int
	NumClients int
	State      engine.State
	Deadline   *time.Time
}

type Lobby struct {
	cfg      Config
	inbox    chan Msg
	state    engine.State
	version  int
	clients  map[string]chan Snapshot
	deadline *time.Time
	timer    *time.Timer
	timerGen int
	idle     *time.Timer
	idleGen  int
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewLobby(parent context.Context, cfg Config, initial engine.State) *Lobby {
	ctx, cancel := context.WithCancel(parent)
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.SubmitTimeout == 0 {
		cfg.SubmitTimeout = 30 * time.Second
	}
	cfg.Log = cfg.Log.With(zap.String("game_id", cfg.GameID), zap.String("player_code", cfg.PlayerCode))

	l := &Lobby{
		cfg:     cfg,
		inbox:   make(chan Msg, 64), // Small buffer
		state:   initial.Clone(),
		clients: make(map[string]chan Snapshot),
		ctx:     ctx,
		cancel:  cancel,
	}

	l.armIdle()
	go l.loop()
	return l
}

func (l *Lobby) loop() {
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Join:
				// Register client + send current snapshot immediately
				l.clients[msg.ClientID] = msg.Outbox
				l.stopIdle()
				msg.Outbox <- Snapshot{Version: l.version, State: l.state.Clone()}

			case Leave:
				if ch, ok := l.clients[msg.ClientID]; ok {
					close(ch)
					delete(l.clients, msg.ClientID)
				}
				l.armIdle()

			case FromClient:
				err := l.apply(msg.Cmd)
				if err != nil {
					l.cfg.Log.Debug("command rejected", zap.String("command", string(msg.Cmd.Type)), zap.Error(err))
				}
				reply(msg.Reply, err)

			case Submit:
				l.startSubmit(msg.Reply)

			case submitDone:
				l.finishSubmit(msg)
				l.armIdle()

			case ArmDeadline:
				l.arm(msg.At)

			case Rebind:
				if msg.Token != "" {
					l.cfg.Token = msg.Token
				}
				if msg.TeamName != "" {
					l.cfg.TeamName = msg.TeamName
				}

			case deadlineFired:
				if msg.gen != l.timerGen {
					break // re-armed since; stale
				}
				l.timer = nil
				_ = l.apply(engine.Command{Type: engine.CmdEvaluateLock, LockTime: l.deadline, At: l.cfg.Now()})

			case idleFired:
				if msg.gen != l.idleGen {
					break // a client joined since
				}
				l.idle = nil
				if len(l.clients) > 0 || l.state.Submitting {
					break
				}
				l.cfg.Log.Info("idle lobby closed", zap.Duration("idle", l.cfg.IdleTimeout))
				l.shutdown()
				return

			case ResultsPosted:
				_ = l.apply(engine.Command{Type: engine.CmdEvaluateLock, HasResults: true, At: l.cfg.Now()})

			case GetState:
				msg.Reply <- View{
					Version:    l.version,
					NumClients: len(l.clients),
					State:      l.state.Clone(),
					Deadline:   l.deadline,
				}

			case Shutdown:
				l.shutdown()
				return
			}
		}
	}
}

// apply runs cmd through the engine and broadcasts when something changed.
func (l *Lobby) apply(cmd engine.Command) error {
	events, next, err := engine.Apply(l.state, cmd)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}
	l.state = next
	l.version++
	if engine.ContainsEvent(events, engine.EvtPermanentlyLocked) {
		l.cfg.Log.Info("roster permanently locked")
		l.stopTimer()
	}
	l.broadcast(Snapshot{Version: l.version, State: l.state.Clone()})
	return nil
}

func (l *Lobby) startSubmit(replyCh chan error) {
	if err := l.apply(engine.Command{Type: engine.CmdBeginSubmit}); err != nil {
		reply(replyCh, err)
		return
	}

	team := l.state.Team(l.cfg.TeamName)
	cfg := l.cfg
	go func() {
		// Not tied to l.ctx: a sent submit runs to completion.
		ctx, cancel := context.WithTimeout(context.Background(), cfg.SubmitTimeout)
		defer cancel()
		err := cfg.Saver.SaveTeam(ctx, cfg.GameID, cfg.PlayerCode, cfg.Token, team)
		select {
		case l.inbox <- submitDone{err: err, reply: replyCh}:
		case <-l.ctx.Done():
			reply(replyCh, err)
		}
	}()
}

func (l *Lobby) finishSubmit(msg submitDone) {
	if msg.err != nil {
		l.cfg.Log.Warn("team submit failed", zap.Error(msg.err))
		_ = l.apply(engine.Command{Type: engine.CmdSubmitFailed})
		reply(msg.reply, msg.err)
		return
	}
	l.cfg.Log.Info("team submitted", zap.Int("total_spent", l.state.TotalSpent))
	reply(msg.reply, l.apply(engine.Command{Type: engine.CmdSubmitSucceeded}))
}

func (l *Lobby) arm(at *time.Time) {
	l.stopTimer()
	l.deadline = at
	if at == nil || l.state.PermanentlyLocked {
		return
	}

	l.timerGen++
	gen := l.timerGen
	wait := at.Sub(l.cfg.Now())
	if wait < 0 {
		wait = 0
	}
	l.timer = time.AfterFunc(wait, func() {
		select {
		case l.inbox <- deadlineFired{gen: gen}:
		case <-l.ctx.Done():
		}
	})
}

func (l *Lobby) stopTimer() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.timerGen++
}

// armIdle starts the idle countdown when nothing holds the lobby open.
func (l *Lobby) armIdle() {
	if l.cfg.IdleTimeout <= 0 || len(l.clients) > 0 || l.state.Submitting || l.idle != nil {
		return
	}
	l.idleGen++
	gen := l.idleGen
	l.idle = time.AfterFunc(l.cfg.IdleTimeout, func() {
		select {
		case l.inbox <- idleFired{gen: gen}:
		case <-l.ctx.Done():
		}
	})
}

func (l *Lobby) stopIdle() {
	if l.idle != nil {
		l.idle.Stop()
		l.idle = nil
	}
	l.idleGen++
}

func (l *Lobby) shutdown() {
	l.stopTimer()
	l.stopIdle()
	for id, ch := range l.clients {
		close(ch) // Tell client no more snapshots
		delete(l.clients, id)
	}
	l.cancel()
}

func (l *Lobby) broadcast(snap Snapshot) {
	for id, ch := range l.clients {
		select {
		case ch <- snap:
			//ok
		default:
			// Client is slow/full - drop them.
			close(ch)
			delete(l.clients, id)
		}
	}
	l.armIdle()
}

func reply(ch chan error, err error) {
	if ch == nil {
		return
	}
	select {
	case ch <- err:
	default:
	}
}

// Expose the inbox so tests or WS layer can send messages.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

// Done is closed once the lobby has shut down.
func (l *Lobby) Done() <-chan struct{} { return l.ctx.Done() }
