package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/marathon-draft/internal/athlete"
)

const maxConcurrent = 4

// Source is where ranked entries come from.
type Source interface {
	FetchRankings(ctx context.Context, gender athlete.Gender, limit int) ([]Entry, error)
	Enrich(ctx context.Context, e *Entry) error
}

// Sink is where the catalog is written.
type Sink interface {
	Snapshot(ctx context.Context, gender string) (map[string]Existing, error)
	Upsert(ctx context.Context, e Entry) (bool, error)
	MarkDropped(ctx context.Context, gender string, keep []string) (int64, error)
	CountDropped(ctx context.Context, gender string, keep []string) (int64, error)
}

type Options struct {
	Limit          int
	DryRun         bool
	SkipEnrichment bool
}

type Stats struct {
	Start       time.Time     `json:"startTime"`
	Duration    time.Duration `json:"duration"`
	Candidates  int           `json:"candidatesFound"`
	New         int           `json:"newAthletes"`
	Updated     int           `json:"updatedAthletes"`
	Unchanged   int           `json:"unchangedAthletes"`
	Dropped     int64         `json:"droppedAthletes"`
	FetchErrors int           `json:"fetchErrors"`
	DBErrors    int           `json:"dbErrors"`
}

func (s Stats) Success() bool {
	return s.FetchErrors == 0 && s.DBErrors == 0
}

type Syncer struct {
	source Source
	sink   Sink
	log    *zap.Logger
}

func NewSyncer(source Source, sink Sink, log *zap.Logger) *Syncer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Syncer{source: source, sink: sink, log: log}
}

var genders = []athlete.Gender{athlete.GenderMen, athlete.GenderWomen}

// Run scrapes both genders, enriches, and writes the delta. Per-athlete
// failures are counted and returned together; the run continues past them.
func (s *Syncer) Run(ctx context.Context, opts Options) (stats Stats, err error) {
	if opts.Limit <= 0 {
		opts.Limit = TopN
	}
	stats.Start = time.Now()
	defer func() { stats.Duration = time.Since(stats.Start) }()

	ranked := make([][]Entry, len(genders))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)
	for i, gender := range genders {
		g.Go(func() error {
			entries, err := s.source.FetchRankings(gctx, gender, opts.Limit)
			if err != nil {
				return err
			}
			ranked[i] = entries
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		stats.FetchErrors++
		return stats, fmt.Errorf("fetching rankings: %w", err)
	}

	var errs error
	if !opts.SkipEnrichment {
		errs = multierr.Append(errs, s.enrich(ctx, ranked, &stats))
	}

	for i, gender := range genders {
		entries := ranked[i]
		stats.Candidates += len(entries)

		existing, err := s.sink.Snapshot(ctx, string(gender))
		if err != nil {
			stats.DBErrors++
			errs = multierr.Append(errs, err)
			continue
		}
		delta := Detect(entries, existing)
		stats.Unchanged += len(delta.Unchanged)
		s.log.Info("change detection",
			zap.String("gender", string(gender)),
			zap.Int("new", len(delta.New)),
			zap.Int("changed", len(delta.Changed)),
			zap.Int("unchanged", len(delta.Unchanged)))

		keep := make([]string, 0, len(entries))
		for _, e := range entries {
			if e.WorldAthleticsID != "" {
				keep = append(keep, e.WorldAthleticsID)
			}
		}

		if opts.DryRun {
			stats.New += len(delta.New)
			stats.Updated += len(delta.Changed)
			for _, e := range delta.Writes() {
				s.log.Info("would upsert", zap.String("name", e.Name), zap.String("id", e.WorldAthleticsID), zap.Int("rank", e.Rank))
			}
			n, err := s.sink.CountDropped(ctx, string(gender), keep)
			if err != nil {
				stats.DBErrors++
				errs = multierr.Append(errs, err)
			}
			stats.Dropped += n
			continue
		}

		isNew := make(map[string]bool, len(delta.New))
		for _, e := range delta.New {
			isNew[e.WorldAthleticsID] = true
		}
		for _, e := range delta.Writes() {
			written, err := s.sink.Upsert(ctx, e)
			if err != nil {
				stats.DBErrors++
				errs = multierr.Append(errs, err)
				continue
			}
			switch {
			case !written:
				stats.Unchanged++
			case isNew[e.WorldAthleticsID]:
				stats.New++
			default:
				stats.Updated++
			}
		}

		n, err := s.sink.MarkDropped(ctx, string(gender), keep)
		if err != nil {
			stats.DBErrors++
			errs = multierr.Append(errs, err)
		}
		stats.Dropped += n
	}

	s.log.Info("sync complete",
		zap.Int("candidates", stats.Candidates),
		zap.Int("new", stats.New),
		zap.Int("updated", stats.Updated),
		zap.Int("unchanged", stats.Unchanged),
		zap.Int64("dropped", stats.Dropped),
		zap.Bool("dry_run", opts.DryRun))
	return stats, errs
}

// enrich fetches profile pages with bounded concurrency. A failed profile
// keeps its ranking data.
func (s *Syncer) enrich(ctx context.Context, ranked [][]Entry, stats *Stats) error {
	var (
		mu   sync.Mutex
		errs error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)
	for i := range ranked {
		for j := range ranked[i] {
			e := &ranked[i][j]
			g.Go(func() error {
				if err := s.source.Enrich(gctx, e); err != nil {
					s.log.Warn("profile fetch failed", zap.String("id", e.WorldAthleticsID), zap.Error(err))
					mu.Lock()
					stats.FetchErrors++
					errs = multierr.Append(errs, fmt.Errorf("athlete %s: %w", e.WorldAthleticsID, err))
					mu.Unlock()
				}
				return nil
			})
		}
	}
	_ = g.Wait()
	return errs
}
