package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/DoyleJ11/marathon-draft/internal/catalog"
)

// defaultSearchDelay is waited between athlete searches.
const defaultSearchDelay = 2 * time.Second

func newEnrichIDsCmd(root *flags) *cobra.Command {
	var (
		limit int
		delay time.Duration
	)
	cmd := &cobra.Command{
		Use:   "enrich-ids",
		Short: "Find World Athletics ids for catalog athletes that lack one",
		Long: `Searches World Athletics by name for every catalog athlete without an
id and records the closest hit when its name similarity is above the
match threshold. With --dry-run, only reports the matches.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return fmt.Errorf("invalid --limit %d", limit)
			}
			return runEnrichIDs(cmd, root, catalog.IDOptions{Limit: limit, DryRun: root.dryRun, Delay: delay})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum athletes to look up (0 = all)")
	cmd.Flags().DurationVar(&delay, "delay", defaultSearchDelay, "Pause between searches")
	return cmd
}

func runEnrichIDs(cmd *cobra.Command, root *flags, opts catalog.IDOptions) error {
	dsn, err := resolveDSN(root)
	if err != nil {
		return err
	}
	log, err := newLogger(root)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	store, err := openStore(dsn, root, log)
	if err != nil {
		return err
	}
	defer store.Close()

	enricher := catalog.NewIDEnricher(catalog.NewScraper(log.Named("scraper")), store, log)
	stats, runErr := enricher.Run(cmd.Context(), opts)
	if err := printJSON(cmd.OutOrStdout(), idReport{IDStats: stats, DryRun: opts.DryRun, Success: stats.Success()}); err != nil {
		return err
	}
	if runErr != nil {
		log.Warn("id enrichment completed with errors", zap.Error(runErr))
	}
	if err := cmd.Context().Err(); err != nil {
		return err
	}
	if !stats.Success() {
		return errPartial
	}
	return nil
}

type idReport struct {
	catalog.IDStats
	DryRun  bool `json:"dryRun"`
	Success bool `json:"success"`
}
