package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/marathon-draft/internal/athlete"
	"github.com/DoyleJ11/marathon-draft/internal/engine"
	"github.com/DoyleJ11/marathon-draft/internal/lobby"
	"github.com/DoyleJ11/marathon-draft/internal/session"
	"github.com/DoyleJ11/marathon-draft/internal/types"
)

const (
	writeTimeout = 3 * time.Second
	idleTimeout  = 5 * time.Minute
	replyTimeout = time.Minute
)

var errUnknownAthlete = errors.New("unknown athlete")
var errBadMessage = errors.New("unknown message type")

// Drafts opens team lobbies and serves the athlete catalog.
type Drafts interface {
	Open(ctx context.Context, sess session.Session) (*lobby.Lobby, error)
	Athletes(ctx context.Context) (*athlete.Index, error)
}

// Sessions loads the browser's stored sessions.
type Sessions interface {
	Load(ctx context.Context, owner string, kind session.Kind) (session.Session, error)
}

// Handler upgrades team sessions to a draft stream. Cross-origin browsers are
// accepted only when their origin host matches one of originPatterns.
func Handler(drafts Drafts, sessions Sessions, originPatterns []string, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := session.Owner(r)
		if owner == "" {
			http.Error(w, "no session", http.StatusUnauthorized)
			return
		}
		sess, err := sessions.Load(r.Context(), owner, session.KindTeam)
		if err != nil {
			http.Error(w, "no session", http.StatusUnauthorized)
			return
		}

		lb, err := drafts.Open(r.Context(), sess)
		if err != nil {
			log.Warn("opening draft failed", zap.String("game_id", sess.GameID), zap.Error(err))
			http.Error(w, "draft unavailable", http.StatusBadGateway)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: originPatterns})
		if err != nil {
			log.Debug("websocket accept failed", zap.String("origin", r.Header.Get("Origin")), zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		c := &client{
			id:     uuid.NewString(),
			conn:   conn,
			lobby:  lb,
			drafts: drafts,
			log:    log.With(zap.String("game_id", sess.GameID), zap.String("player_code", sess.PlayerCode)),
		}
		c.run(r.Context())
	}
}

type client struct {
	id     string
	conn   *websocket.Conn
	lobby  *lobby.Lobby
	drafts Drafts
	log    *zap.Logger
}

func (c *client) run(ctx context.Context) {
	out := make(chan lobby.Snapshot, 8)
	if !c.send(ctx, lobby.Join{ClientID: c.id, Outbox: out}) {
		return
	}
	defer c.send(context.Background(), lobby.Leave{ClientID: c.id})

	// Writer goroutine
	writeCtx, writeCancel := context.WithCancel(ctx)
	defer writeCancel()
	go func() {
		for snap := range out {
			c.write(writeCtx, types.Snapshot(snap.Version, snap.State))
		}
		// Outbox closed: dropped as slow or the lobby shut down.
		c.conn.Close(websocket.StatusGoingAway, "draft closed")
	}()

	// Reader loop
	for {
		readCtx, cancel := context.WithTimeout(ctx, idleTimeout)
		_, data, err := c.conn.Read(readCtx)
		cancel()
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				c.log.Debug("websocket read ended", zap.Error(err))
			}
			return
		}

		var cm types.ClientMessage
		if err := json.Unmarshal(data, &cm); err != nil {
			c.write(ctx, types.ServerMessage{Type: types.MsgError, Error: &types.ErrorBody{Code: types.CodeBadRequest, Message: "bad json"}})
			continue
		}
		c.handle(ctx, cm)
	}
}

func (c *client) handle(ctx context.Context, cm types.ClientMessage) {
	if cm.Type == types.MsgSubmit {
		reply := make(chan error, 1)
		if !c.send(ctx, lobby.Submit{Reply: reply}) {
			return
		}
		// The save can take a while; keep reading meanwhile.
		go c.await(ctx, reply)
		return
	}

	cmd, err := c.toEngineCommand(ctx, cm)
	if err != nil {
		c.writeError(ctx, err)
		return
	}
	reply := make(chan error, 1)
	if !c.send(ctx, lobby.FromClient{Cmd: cmd, Reply: reply}) {
		return
	}
	c.await(ctx, reply)
}

func (c *client) await(ctx context.Context, reply <-chan error) {
	select {
	case err := <-reply:
		if err != nil {
			c.writeError(ctx, err)
		}
	case <-c.lobby.Done():
	case <-ctx.Done():
	case <-time.After(replyTimeout):
	}
}

func (c *client) toEngineCommand(ctx context.Context, m types.ClientMessage) (engine.Command, error) {
	slot := engine.SlotID(m.Slot)
	switch m.Type {
	case types.MsgSelectAthlete:
		idx, err := c.drafts.Athletes(ctx)
		if err != nil {
			return engine.Command{}, err
		}
		a, ok := idx.Get(m.AthleteID)
		if !ok {
			return engine.Command{}, errUnknownAthlete
		}
		return engine.Command{Type: engine.CmdSelectAthlete, Slot: slot, Athlete: a}, nil
	case types.MsgRemoveAthlete:
		return engine.Command{Type: engine.CmdRemoveAthlete, Slot: slot}, nil
	case types.MsgUnlock:
		return engine.Command{Type: engine.CmdUnlock}, nil
	case types.MsgFocusSlot:
		return engine.Command{Type: engine.CmdFocusSlot, Slot: slot}, nil
	default:
		return engine.Command{}, errBadMessage
	}
}

func (c *client) writeError(ctx context.Context, err error) {
	msg := types.ErrorMessage(err)
	switch {
	case errors.Is(err, errUnknownAthlete):
		msg.Error.Code = types.CodeUnknownAthlete
	case errors.Is(err, errBadMessage):
		msg.Error.Code = types.CodeBadRequest
	}
	c.write(ctx, msg)
}

func (c *client) write(ctx context.Context, msg types.ServerMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("encoding server message", zap.Error(err))
		return
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = c.conn.Write(wctx, websocket.MessageText, payload)
}

// send delivers msg unless the lobby is gone.
func (c *client) send(ctx context.Context, msg lobby.Msg) bool {
	select {
	case c.lobby.Inbox() <- msg:
		return true
	case <-c.lobby.Done():
		return false
	case <-ctx.Done():
		return false
	}
}
