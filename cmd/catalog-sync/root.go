package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/DoyleJ11/marathon-draft/internal/catalog"
	"github.com/DoyleJ11/marathon-draft/internal/logging"
)

var errPartial = errors.New("sync finished with errors")

type flags struct {
	databaseURL    string
	limit          int
	dryRun         bool
	skipEnrichment bool
	verbose        bool
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "catalog-sync",
		Short: "Sync the top marathon world rankings into the athlete catalog",
		Long: `Scrapes the World Athletics marathon rankings for men and women,
enriches each athlete from their profile page, and upserts only the
athletes whose data changed. Athletes who fell out of the top list are
marked dropped. Prints run statistics as JSON.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, f)
		},
	}

	cmd.PersistentFlags().StringVar(&f.databaseURL, "database-url", "", "Postgres DSN (or env: DATABASE_URL)")
	cmd.PersistentFlags().BoolVar(&f.dryRun, "dry-run", false, "Report what would change without writing")
	cmd.PersistentFlags().BoolVar(&f.verbose, "verbose", false, "Enable debug logging")
	cmd.Flags().IntVar(&f.limit, "limit", catalog.TopN, "Athletes per gender")
	cmd.Flags().BoolVar(&f.skipEnrichment, "skip-enrichment", false, "Skip profile page fetches")

	cmd.AddCommand(newProgressionCmd(&f), newEnrichIDsCmd(&f))
	return cmd
}

// resolveDSN loads .env and returns the database URL from the flag or the
// environment.
func resolveDSN(f *flags) (string, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("loading .env: %w", err)
	}
	dsn := strings.TrimSpace(f.databaseURL)
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
	if dsn == "" {
		return "", errors.New("--database-url or DATABASE_URL is required")
	}
	return dsn, nil
}

func newLogger(f *flags) (*zap.Logger, error) {
	level := "warn"
	if f.verbose {
		level = "debug"
	}
	return logging.New(level)
}

// openStore connects to the catalog and migrates it unless this is a dry run.
func openStore(dsn string, f *flags, log *zap.Logger) (*catalog.Store, error) {
	store, err := catalog.Open(dsn, log.Named("store"))
	if err != nil {
		return nil, err
	}
	if !f.dryRun {
		if err := store.Migrate(); err != nil {
			store.Close()
			return nil, fmt.Errorf("migrating: %w", err)
		}
	}
	return store, nil
}

func runSync(cmd *cobra.Command, f flags) error {
	dsn, err := resolveDSN(&f)
	if err != nil {
		return err
	}
	if f.limit <= 0 {
		return fmt.Errorf("invalid --limit %d", f.limit)
	}

	log, err := newLogger(&f)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	store, err := openStore(dsn, &f, log)
	if err != nil {
		return err
	}
	defer store.Close()

	syncer := catalog.NewSyncer(catalog.NewScraper(log.Named("scraper")), store, log)
	stats, runErr := syncer.Run(cmd.Context(), catalog.Options{
		Limit:          f.limit,
		DryRun:         f.dryRun,
		SkipEnrichment: f.skipEnrichment,
	})
	if err := printStats(cmd.OutOrStdout(), stats, f.dryRun); err != nil {
		return err
	}

	if runErr != nil {
		log.Warn("sync completed with errors", zap.Error(runErr))
	}
	if !stats.Success() {
		return errPartial
	}
	return nil
}

type report struct {
	catalog.Stats
	DryRun  bool `json:"dryRun"`
	Success bool `json:"success"`
}

func printStats(w io.Writer, stats catalog.Stats, dryRun bool) error {
	return printJSON(w, report{Stats: stats, DryRun: dryRun, Success: stats.Success()})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
