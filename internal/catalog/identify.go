package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/go-querystring/query"
	"github.com/pmezard/go-difflib/difflib"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// MatchThreshold is the name similarity a search hit must exceed to be
// taken as the athlete.
const MatchThreshold = 0.70

// Candidate is one athlete link on the search results page.
type Candidate struct {
	WorldAthleticsID string
	Name             string
	ProfileURL       string
}

type searchQuery struct {
	Q string `url:"q"`
}

// SearchAthletes runs the site's athlete search. A missing results page is
// an empty result.
func (s *Scraper) SearchAthletes(ctx context.Context, name string) ([]Candidate, error) {
	q, err := query.Values(searchQuery{Q: name})
	if err != nil {
		return nil, err
	}
	u := fmt.Sprintf("%s/athletes/search?%s", s.baseURL, q.Encode())

	var out []Candidate
	err = s.get(ctx, u, func(r io.Reader) error {
		var perr error
		out, perr = parseSearch(r, s.baseURL)
		return perr
	})
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	return out, err
}

func parseSearch(r io.Reader, base string) ([]Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}
	var out []Candidate
	doc.Find("[data-athlete-id]").Each(func(_ int, sel *goquery.Selection) {
		id := strings.TrimLeft(strings.TrimSpace(sel.AttrOr("data-athlete-id", "")), "0")
		if id == "" {
			return
		}
		c := Candidate{WorldAthleticsID: id, Name: collapse(sel.Text())}
		if href := strings.TrimSpace(sel.AttrOr("href", "")); href != "" {
			c.ProfileURL = resolve(base, href)
		} else {
			c.ProfileURL = fmt.Sprintf("%s/athletes/%s", base, id)
		}
		out = append(out, c)
	})
	return out, nil
}

// similarity is the case-insensitive matching-blocks ratio of two names,
// 1.0 for identical.
func similarity(a, b string) float64 {
	return difflib.NewMatcher(chars(strings.ToLower(a)), chars(strings.ToLower(b))).Ratio()
}

func chars(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

// BestMatch picks the candidate whose name is closest to name. ok is false
// unless that candidate clears MatchThreshold.
func BestMatch(name string, candidates []Candidate) (best Candidate, score float64, ok bool) {
	for _, c := range candidates {
		if sc := similarity(name, c.Name); sc > score {
			best, score = c, sc
		}
	}
	return best, score, score > MatchThreshold
}

// Searcher finds athletes on World Athletics by name.
type Searcher interface {
	SearchAthletes(ctx context.Context, name string) ([]Candidate, error)
}

// IDSink lists catalog athletes without a World Athletics id and records
// the ids found for them.
type IDSink interface {
	MissingIDs(ctx context.Context, limit int) ([]Unidentified, error)
	SetWorldAthleticsID(ctx context.Context, athleteID uint, waID string) error
}

type IDOptions struct {
	Limit  int
	DryRun bool
	// Delay is waited between searches.
	Delay time.Duration
}

type IDStats struct {
	Processed int `json:"processed"`
	Found     int `json:"found"`
	NotFound  int `json:"notFound"`
	Updated   int `json:"updated"`
	Errors    int `json:"errors"`
}

func (s IDStats) Success() bool {
	return s.Errors == 0
}

// IDEnricher searches World Athletics for catalog athletes that have no id.
type IDEnricher struct {
	search Searcher
	sink   IDSink
	log    *zap.Logger
}

func NewIDEnricher(search Searcher, sink IDSink, log *zap.Logger) *IDEnricher {
	if log == nil {
		log = zap.NewNop()
	}
	return &IDEnricher{search: search, sink: sink, log: log}
}

// Run looks up each unidentified athlete in turn. Failed searches and
// updates are counted and returned together.
func (e *IDEnricher) Run(ctx context.Context, opts IDOptions) (IDStats, error) {
	var stats IDStats
	athletes, err := e.sink.MissingIDs(ctx, opts.Limit)
	if err != nil {
		return stats, fmt.Errorf("listing athletes without ids: %w", err)
	}
	e.log.Info("athletes without World Athletics id", zap.Int("count", len(athletes)))

	var errs error
	for i, a := range athletes {
		if i > 0 {
			if err := pause(ctx, opts.Delay); err != nil {
				return stats, multierr.Append(errs, err)
			}
		}
		stats.Processed++
		log := e.log.With(zap.Uint("athlete_id", a.ID), zap.String("name", a.Name))

		candidates, err := e.search.SearchAthletes(ctx, a.Name)
		if err != nil {
			stats.Errors++
			errs = multierr.Append(errs, fmt.Errorf("searching %q: %w", a.Name, err))
			continue
		}
		match, score, ok := BestMatch(a.Name, candidates)
		if !ok {
			stats.NotFound++
			log.Info("no confident match", zap.Float64("best", score))
			continue
		}
		stats.Found++

		if opts.DryRun {
			log.Info("would set World Athletics id", zap.String("wa_id", match.WorldAthleticsID), zap.Float64("similarity", score))
			stats.Updated++
			continue
		}
		if err := e.sink.SetWorldAthleticsID(ctx, a.ID, match.WorldAthleticsID); err != nil {
			stats.Errors++
			errs = multierr.Append(errs, fmt.Errorf("updating %q: %w", a.Name, err))
			continue
		}
		stats.Updated++
		log.Info("set World Athletics id", zap.String("wa_id", match.WorldAthleticsID), zap.Float64("similarity", score))
	}
	return stats, errs
}
