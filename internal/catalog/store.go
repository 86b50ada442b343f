package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// TopN is how deep the rankings are tracked per gender.
const TopN = 100

type Store struct {
	db  *gorm.DB
	log *zap.Logger
	now func() time.Time
}

// Open connects to Postgres. Writes are individual statements, so gorm's
// implicit transaction per write is switched off.
func Open(dsn string, log *zap.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to catalog database: %w", err)
	}
	return NewStore(db, log), nil
}

func NewStore(db *gorm.DB, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, log: log, now: time.Now}
}

func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&Record{}, &ProgressionRecord{}, &RaceResultRecord{})
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Snapshot returns the stored hash and rank of every tracked athlete of a
// gender, keyed by World Athletics id.
func (s *Store) Snapshot(ctx context.Context, gender string) (map[string]Existing, error) {
	var rows []Existing
	err := s.db.WithContext(ctx).
		Model(&Record{}).
		Select("world_athletics_id", "data_hash", "marathon_rank").
		Where("gender = ?", gender).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("loading %s snapshot: %w", gender, err)
	}

	out := make(map[string]Existing, len(rows))
	for _, r := range rows {
		out[r.WorldAthleticsID] = r
	}
	return out, nil
}

// Upsert writes e unless the stored row already has the same hash and rank.
// It reports whether a row was written.
func (s *Store) Upsert(ctx context.Context, e Entry) (bool, error) {
	rec := e.record(e.Hash(), s.now().UTC())

	var written bool
	op := func() error {
		res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "world_athletics_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "country", "gender", "date_of_birth", "ranking_points", "marathon_rank",
				"personal_best", "season_best", "headshot_url", "world_athletics_profile_url",
				"age", "data_hash", "ranking_source", "last_fetched_at", "last_seen_at", "updated_at",
			}),
			Where: clause.Where{Exprs: []clause.Expression{clause.Expr{
				SQL: `"athletes"."data_hash" IS DISTINCT FROM excluded."data_hash" OR "athletes"."marathon_rank" IS DISTINCT FROM excluded."marathon_rank"`,
			}}},
		}).Create(&rec)
		if res.Error != nil {
			if transient(res.Error) {
				return res.Error
			}
			return backoff.Permanent(res.Error)
		}
		written = res.RowsAffected > 0
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return false, fmt.Errorf("upserting athlete %s: %w", e.WorldAthleticsID, err)
	}
	return written, nil
}

func (s *Store) droppedScope(gender string, keep []string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Model(&Record{}).
			Where("gender = ? AND ranking_source = ?", gender, RankingSource).
			Where("last_seen_at IS NOT NULL AND marathon_rank IS NOT NULL AND marathon_rank <= ?", TopN).
			Where("world_athletics_id NOT IN ?", keep)
	}
}

// MarkDropped clears last_seen_at for athletes of gender that are no longer
// in keep. An empty keep list is refused so a failed scrape cannot drop the
// whole catalog.
func (s *Store) MarkDropped(ctx context.Context, gender string, keep []string) (int64, error) {
	if len(keep) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Scopes(s.droppedScope(gender, keep)).
		Updates(map[string]any{"last_seen_at": nil, "updated_at": s.now().UTC()})
	if res.Error != nil {
		return 0, fmt.Errorf("marking dropped %s athletes: %w", gender, res.Error)
	}
	return res.RowsAffected, nil
}

// CountDropped is MarkDropped without the write.
func (s *Store) CountDropped(ctx context.Context, gender string, keep []string) (int64, error) {
	if len(keep) == 0 {
		return 0, nil
	}
	var n int64
	if err := s.db.WithContext(ctx).Scopes(s.droppedScope(gender, keep)).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting dropped %s athletes: %w", gender, err)
	}
	return n, nil
}

// Tracked is a catalog athlete that can be looked up on World Athletics.
type Tracked struct {
	ID               uint
	Name             string
	WorldAthleticsID string
	Gender           string
	ProfileURL       string
}

// Tracked lists athletes with a World Athletics id in row order, starting at
// row startFrom. A zero limit lists all.
func (s *Store) Tracked(ctx context.Context, startFrom uint, limit int) ([]Tracked, error) {
	q := s.db.WithContext(ctx).
		Model(&Record{}).
		Select("id", "name", "world_athletics_id", "gender", "world_athletics_profile_url AS profile_url").
		Where("world_athletics_id IS NOT NULL AND world_athletics_id <> ''")
	if startFrom > 0 {
		q = q.Where("id >= ?", startFrom)
	}
	q = q.Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []Tracked
	if err := q.Scan(&out).Error; err != nil {
		return nil, fmt.Errorf("listing tracked athletes: %w", err)
	}
	return out, nil
}

// ProgressCounts reports how many progression rows and race results are
// stored for an athlete.
func (s *Store) ProgressCounts(ctx context.Context, athleteID uint) (progression, results int64, err error) {
	db := s.db.WithContext(ctx)
	if err := db.Model(&ProgressionRecord{}).Where("athlete_id = ?", athleteID).Count(&progression).Error; err != nil {
		return 0, 0, fmt.Errorf("counting progression: %w", err)
	}
	if err := db.Model(&RaceResultRecord{}).Where("athlete_id = ?", athleteID).Count(&results).Error; err != nil {
		return 0, 0, fmt.Errorf("counting race results: %w", err)
	}
	return progression, results, nil
}

// SaveProgression upserts the page's season bests and race results for an
// athlete in one transaction.
func (s *Store) SaveProgression(ctx context.Context, athleteID uint, page *AthletePage) (progression, results int, err error) {
	prog := progressionRecords(athleteID, page)
	races := raceResultRecords(athleteID, page)
	if len(prog) == 0 && len(races) == 0 {
		return 0, 0, nil
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(prog) > 0 {
			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "athlete_id"}, {Name: "discipline"}, {Name: "season"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"event_id", "main_event", "mark", "venue", "competition_date", "competition", "result_score", "updated_at",
				}),
			}).Create(&prog).Error
			if err != nil {
				return fmt.Errorf("saving progression: %w", err)
			}
		}
		if len(races) > 0 {
			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "athlete_id"}, {Name: "discipline"}, {Name: "race_date"}, {Name: "competition"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"year", "event_id", "competition_id", "venue", "country", "place", "mark",
					"result_score", "category", "race", "wind", "not_legal", "remark", "updated_at",
				}),
			}).Create(&races).Error
			if err != nil {
				return fmt.Errorf("saving race results: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return len(prog), len(races), nil
}

// Unidentified is a catalog athlete without a World Athletics id.
type Unidentified struct {
	ID      uint
	Name    string
	Country string
	Gender  string
}

func (s *Store) MissingIDs(ctx context.Context, limit int) ([]Unidentified, error) {
	q := s.db.WithContext(ctx).
		Model(&Record{}).
		Select("id", "name", "country", "gender").
		Where("world_athletics_id IS NULL OR world_athletics_id = ''").
		Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []Unidentified
	if err := q.Scan(&out).Error; err != nil {
		return nil, fmt.Errorf("listing athletes without ids: %w", err)
	}
	return out, nil
}

// SetWorldAthleticsID records the id found for a catalog row.
func (s *Store) SetWorldAthleticsID(ctx context.Context, athleteID uint, waID string) error {
	res := s.db.WithContext(ctx).
		Model(&Record{}).
		Where("id = ?", athleteID).
		Updates(map[string]any{"world_athletics_id": waID, "updated_at": s.now().UTC()})
	if res.Error != nil {
		return fmt.Errorf("setting World Athletics id: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("athlete %d not found", athleteID)
	}
	return nil
}

// transient reports Postgres errors worth retrying: serialization failures,
// deadlocks and connection exceptions.
func transient(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01":
		return true
	}
	return len(pgErr.Code) == 5 && pgErr.Code[:2] == "08"
}
