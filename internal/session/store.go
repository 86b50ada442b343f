// Package session keeps team and commissioner sessions across reloads. One
// browser holds at most one session of each kind.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

var (
	ErrNoSession   = errors.New("no session")
	ErrUnknownKind = errors.New("unknown session kind")
)

type Kind string

const (
	KindTeam         Kind = "team"
	KindCommissioner Kind = "commissioner"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindTeam, KindCommissioner:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

type Session struct {
	Kind        Kind      `json:"kind"`
	Token       string    `json:"-"`
	DisplayName string    `json:"displayName"`
	GameID      string    `json:"gameId"`
	PlayerCode  string    `json:"playerCode,omitempty"`
	ExpiresAt   time.Time `json:"expiresAt"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Store struct {
	db     *sql.DB
	sealer *Sealer
	log    *zap.Logger
	now    func() time.Time
}

// Open opens (and migrates) the sqlite database at path. ":memory:" works.
func Open(path string, sealer *Sealer, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, sealer: sealer, log: log, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating session store: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS sessions (
		owner TEXT NOT NULL,
		kind TEXT NOT NULL,
		token TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		game_id TEXT NOT NULL,
		player_code TEXT NOT NULL DEFAULT '',
		expires_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (owner, kind)
	)`)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save replaces owner's session of the same kind. A zero ExpiresAt is
// resolved before writing; the stored record is returned.
func (s *Store) Save(ctx context.Context, owner string, sess Session) (Session, error) {
	if _, err := ParseKind(string(sess.Kind)); err != nil {
		return Session{}, err
	}
	if sess.Token == "" || sess.GameID == "" {
		return Session{}, errors.New("session needs a token and a game id")
	}

	now := s.now()
	sess.CreatedAt = now.UTC().Truncate(time.Second)
	sess.ExpiresAt = expiryFor(sess, now).UTC().Truncate(time.Second)

	sealed, err := s.sealer.Seal(sess.Token)
	if err != nil {
		return Session{}, fmt.Errorf("sealing token: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (owner, kind, token, display_name, game_id, player_code, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner, kind) DO UPDATE SET
			token = excluded.token,
			display_name = excluded.display_name,
			game_id = excluded.game_id,
			player_code = excluded.player_code,
			expires_at = excluded.expires_at,
			created_at = excluded.created_at`,
		owner, string(sess.Kind), sealed, sess.DisplayName, sess.GameID, sess.PlayerCode,
		sess.ExpiresAt.Unix(), sess.CreatedAt.Unix())
	if err != nil {
		return Session{}, fmt.Errorf("saving session: %w", err)
	}
	return sess, nil
}

// Load returns owner's live session of kind. Expired or unreadable records
// are removed and reported as ErrNoSession.
func (s *Store) Load(ctx context.Context, owner string, kind Kind) (Session, error) {
	var (
		sealed           string
		expires, created int64
		sess             = Session{Kind: kind}
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT token, display_name, game_id, player_code, expires_at, created_at
		FROM sessions WHERE owner = ? AND kind = ?`, owner, string(kind)).
		Scan(&sealed, &sess.DisplayName, &sess.GameID, &sess.PlayerCode, &expires, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNoSession
	}
	if err != nil {
		return Session{}, fmt.Errorf("loading session: %w", err)
	}

	sess.ExpiresAt = time.Unix(expires, 0).UTC()
	sess.CreatedAt = time.Unix(created, 0).UTC()
	if !s.now().Before(sess.ExpiresAt) {
		s.log.Info("session expired", zap.String("kind", string(kind)), zap.String("game_id", sess.GameID))
		s.clearQuietly(ctx, owner, kind)
		return Session{}, ErrNoSession
	}

	sess.Token, err = s.sealer.Open(sealed)
	if err != nil {
		s.log.Warn("dropping unreadable session", zap.String("kind", string(kind)), zap.Error(err))
		s.clearQuietly(ctx, owner, kind)
		return Session{}, ErrNoSession
	}
	return sess, nil
}

func (s *Store) Clear(ctx context.Context, owner string, kind Kind) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE owner = ? AND kind = ?`, owner, string(kind))
	if err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	return nil
}

func (s *Store) clearQuietly(ctx context.Context, owner string, kind Kind) {
	if err := s.Clear(ctx, owner, kind); err != nil {
		s.log.Warn("clearing session failed", zap.Error(err))
	}
}

// Purge deletes every expired record and returns how many went.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("purging sessions: %w", err)
	}
	return res.RowsAffected()
}
