package catalog

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// DefaultBackfillDelay is waited between athletes.
const DefaultBackfillDelay = 5 * time.Second

// PageSource loads athlete profile pages.
type PageSource interface {
	FetchAthletePage(ctx context.Context, ref string, opts PageOptions) (*AthletePage, error)
}

// ProgressionSink is where progression and race results are written.
type ProgressionSink interface {
	Tracked(ctx context.Context, startFrom uint, limit int) ([]Tracked, error)
	ProgressCounts(ctx context.Context, athleteID uint) (progression, results int64, err error)
	SaveProgression(ctx context.Context, athleteID uint, page *AthletePage) (progression, results int, err error)
}

type BackfillOptions struct {
	Limit int
	// StartFrom resumes at this catalog row id.
	StartFrom    uint
	DryRun       bool
	SkipExisting bool
	Delay        time.Duration
	Page         PageOptions
}

type BackfillStats struct {
	Total       int `json:"athletes"`
	Processed   int `json:"processed"`
	Succeeded   int `json:"successful"`
	Failed      int `json:"failed"`
	Skipped     int `json:"skipped"`
	Progression int `json:"progressionRecords"`
	Results     int `json:"raceResults"`
}

func (s BackfillStats) Success() bool {
	return s.Failed == 0
}

// Backfiller walks catalog athletes that have a World Athletics id and
// stores their progression and current-year race results.
type Backfiller struct {
	source PageSource
	sink   ProgressionSink
	log    *zap.Logger
}

func NewBackfiller(source PageSource, sink ProgressionSink, log *zap.Logger) *Backfiller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Backfiller{source: source, sink: sink, log: log}
}

func (b *Backfiller) Run(ctx context.Context, opts BackfillOptions) (BackfillStats, error) {
	var stats BackfillStats
	athletes, err := b.sink.Tracked(ctx, opts.StartFrom, opts.Limit)
	if err != nil {
		return stats, fmt.Errorf("listing athletes: %w", err)
	}
	stats.Total = len(athletes)
	b.log.Info("backfilling progression", zap.Int("athletes", len(athletes)), zap.Uint("start_from", opts.StartFrom), zap.Bool("dry_run", opts.DryRun))

	var errs error
	fetched := false
	for _, a := range athletes {
		log := b.log.With(zap.Uint("athlete_id", a.ID), zap.String("wa_id", a.WorldAthleticsID))

		progression, results, err := b.sink.ProgressCounts(ctx, a.ID)
		if err != nil {
			stats.Processed++
			stats.Failed++
			errs = multierr.Append(errs, fmt.Errorf("counting data for %s: %w", a.WorldAthleticsID, err))
			continue
		}
		if opts.SkipExisting && (progression > 0 || results > 0) {
			stats.Skipped++
			log.Debug("already has progression", zap.Int64("progression", progression), zap.Int64("results", results))
			continue
		}

		if fetched {
			if err := pause(ctx, opts.Delay); err != nil {
				return stats, multierr.Append(errs, err)
			}
		}
		fetched = true
		stats.Processed++

		ref := a.ProfileURL
		if ref == "" {
			ref = a.WorldAthleticsID
		}
		page, err := b.source.FetchAthletePage(ctx, ref, opts.Page)
		if err != nil {
			stats.Failed++
			errs = multierr.Append(errs, fmt.Errorf("fetching %s: %w", a.WorldAthleticsID, err))
			log.Warn("fetching profile failed", zap.Error(err))
			continue
		}

		if opts.DryRun {
			stats.Succeeded++
			stats.Progression += len(progressionRecords(a.ID, page))
			stats.Results += len(raceResultRecords(a.ID, page))
			log.Info("would save progression", zap.Int("events", len(page.Progression)), zap.Int("results", len(page.Results)))
			continue
		}
		savedProgression, savedResults, err := b.sink.SaveProgression(ctx, a.ID, page)
		if err != nil {
			stats.Failed++
			errs = multierr.Append(errs, fmt.Errorf("saving %s: %w", a.WorldAthleticsID, err))
			continue
		}
		stats.Succeeded++
		stats.Progression += savedProgression
		stats.Results += savedResults
		log.Info("saved progression", zap.Int("progression", savedProgression), zap.Int("results", savedResults))
	}
	return stats, errs
}
