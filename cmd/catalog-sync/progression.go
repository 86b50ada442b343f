package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/DoyleJ11/marathon-draft/internal/catalog"
)

type progressionFlags struct {
	athleteID    string
	startFrom    uint
	limit        int
	skipExisting bool
	delay        time.Duration
	disciplines  []string
	years        []int
}

func newProgressionCmd(root *flags) *cobra.Command {
	var f progressionFlags
	cmd := &cobra.Command{
		Use:   "progression",
		Short: "Backfill season-best progression and race results",
		Long: `Fetches the profile page of every catalog athlete that has a World
Athletics id and stores their season-best progression and the race
results shown for the current year. With --athlete-id, fetches one
athlete and prints the extracted data without touching the database.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProgression(cmd, root, f)
		},
	}

	cmd.Flags().StringVar(&f.athleteID, "athlete-id", "", "Fetch a single World Athletics id and print it")
	cmd.Flags().UintVar(&f.startFrom, "start-from", 0, "Resume from this catalog athlete id")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "Maximum athletes to process (0 = all)")
	cmd.Flags().BoolVar(&f.skipExisting, "skip-existing", false, "Skip athletes that already have progression data")
	cmd.Flags().DurationVar(&f.delay, "delay", catalog.DefaultBackfillDelay, "Pause between profile fetches")
	cmd.Flags().StringSliceVar(&f.disciplines, "disciplines", catalog.DefaultDisciplines, "Disciplines to keep (empty keeps all)")
	cmd.Flags().IntSliceVar(&f.years, "years", nil, "Race result years to keep (default all)")
	return cmd
}

func (f progressionFlags) pageOptions() catalog.PageOptions {
	var disciplines []string
	for _, d := range f.disciplines {
		if d = strings.TrimSpace(d); d != "" {
			disciplines = append(disciplines, d)
		}
	}
	return catalog.PageOptions{Disciplines: disciplines, Years: f.years}
}

func runProgression(cmd *cobra.Command, root *flags, f progressionFlags) error {
	if f.limit < 0 {
		return fmt.Errorf("invalid --limit %d", f.limit)
	}
	if f.delay < 0 {
		return fmt.Errorf("invalid --delay %s", f.delay)
	}
	log, err := newLogger(root)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	scraper := catalog.NewScraper(log.Named("scraper"))
	if id := strings.TrimSpace(f.athleteID); id != "" {
		page, err := scraper.FetchAthletePage(cmd.Context(), id, f.pageOptions())
		if err != nil {
			return fmt.Errorf("fetching athlete %s: %w", id, err)
		}
		return printJSON(cmd.OutOrStdout(), page)
	}

	dsn, err := resolveDSN(root)
	if err != nil {
		return err
	}
	store, err := openStore(dsn, root, log)
	if err != nil {
		return err
	}
	defer store.Close()

	stats, runErr := catalog.NewBackfiller(scraper, store, log).Run(cmd.Context(), catalog.BackfillOptions{
		Limit:        f.limit,
		StartFrom:    f.startFrom,
		DryRun:       root.dryRun,
		SkipExisting: f.skipExisting,
		Delay:        f.delay,
		Page:         f.pageOptions(),
	})
	if err := printJSON(cmd.OutOrStdout(), backfillReport{BackfillStats: stats, DryRun: root.dryRun, Success: stats.Success()}); err != nil {
		return err
	}
	if runErr != nil {
		log.Warn("backfill completed with errors", zap.Error(runErr))
	}
	if err := cmd.Context().Err(); err != nil {
		return err
	}
	if !stats.Success() {
		return errPartial
	}
	return nil
}

type backfillReport struct {
	catalog.BackfillStats
	DryRun  bool `json:"dryRun"`
	Success bool `json:"success"`
}
