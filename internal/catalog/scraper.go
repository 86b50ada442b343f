package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-querystring/query"
	"go.uber.org/zap"

	"github.com/DoyleJ11/marathon-draft/internal/athlete"
)

const (
	BaseURL     = "https://worldathletics.org"
	HeadshotURL = "https://media.aws.iaaf.org/athletes/%s.jpg"
	UserAgent   = "marathon-draft-catalog/1.0"
	Timeout     = 30 * time.Second

	pageSize    = 100
	maxAttempts = 5
)

var errNotFound = errors.New("page not found")

type Scraper struct {
	client  *http.Client
	baseURL string
	log     *zap.Logger
	// PageDelay is slept between consecutive ranking pages.
	PageDelay  time.Duration
	newBackOff func() backoff.BackOff
	now        func() time.Time
}

func NewScraper(log *zap.Logger) *Scraper {
	return newScraper(BaseURL, &http.Client{Timeout: Timeout}, log)
}

func newScraper(baseURL string, client *http.Client, log *zap.Logger) *Scraper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scraper{
		client:    client,
		baseURL:   strings.TrimRight(baseURL, "/"),
		log:       log,
		PageDelay: 2 * time.Second,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 2 * time.Second
			b.Multiplier = 2
			b.RandomizationFactor = 0
			b.MaxElapsedTime = 0
			return backoff.WithMaxRetries(b, maxAttempts-1)
		},
		now: time.Now,
	}
}

type rankingQuery struct {
	RegionType     string `url:"regionType"`
	Page           int    `url:"page"`
	RankDate       string `url:"rankDate"`
	LimitByCountry int    `url:"limitByCountry"`
}

// RankDate is the most recent Tuesday on or before t; rankings publish weekly
// on Tuesdays.
func RankDate(t time.Time) string {
	back := (int(t.Weekday()) - int(time.Tuesday) + 7) % 7
	return t.AddDate(0, 0, -back).Format("2006-01-02")
}

// FetchRankings walks ranking pages until limit entries are collected or a
// page comes back empty.
func (s *Scraper) FetchRankings(ctx context.Context, gender athlete.Gender, limit int) ([]Entry, error) {
	rankDate := RankDate(s.now())
	maxPages := limit/pageSize + 2

	var out []Entry
	for page := 1; page <= maxPages && len(out) < limit; page++ {
		if page > 1 {
			if err := pause(ctx, s.PageDelay); err != nil {
				return out, err
			}
		}

		q, err := query.Values(rankingQuery{RegionType: "world", Page: page, RankDate: rankDate})
		if err != nil {
			return nil, err
		}
		u := fmt.Sprintf("%s/world-rankings/marathon/%s?%s", s.baseURL, gender, q.Encode())

		var entries []Entry
		err = s.get(ctx, u, func(r io.Reader) error {
			var perr error
			entries, perr = parseRankings(r, gender, s.baseURL)
			return perr
		})
		if err != nil {
			return out, fmt.Errorf("%s rankings page %d: %w", gender, page, err)
		}
		if len(entries) == 0 {
			s.log.Debug("empty rankings page", zap.String("gender", string(gender)), zap.Int("page", page))
			break
		}
		out = append(out, entries...)
	}

	if len(out) > limit {
		out = out[:limit]
	}
	s.log.Info("scraped rankings", zap.String("gender", string(gender)), zap.Int("count", len(out)), zap.String("rank_date", rankDate))
	return out, nil
}

// Enrich fills profile fields from the athlete's page. The headshot URL is
// derived from the id even when the page is unusable.
func (s *Scraper) Enrich(ctx context.Context, e *Entry) error {
	if e.WorldAthleticsID != "" && e.HeadshotURL == "" {
		e.HeadshotURL = fmt.Sprintf(HeadshotURL, e.WorldAthleticsID)
	}
	if e.ProfileURL == "" {
		e.ProfileURL = profileURL(s.baseURL, *e)
	}
	if e.ProfileURL == "" {
		return nil
	}
	return s.get(ctx, e.ProfileURL, func(r io.Reader) error {
		return parseProfile(r, e)
	})
}

// get fetches u with retries and hands the body to parse. 4xx answers other
// than 429 are not retried.
func (s *Scraper) get(ctx context.Context, u string, parse func(io.Reader) error) error {
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", UserAgent)

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(errNotFound)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(fmt.Errorf("unexpected status code: %d", resp.StatusCode))
		}
		if err := parse(resp.Body); err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	notify := func(err error, wait time.Duration) {
		s.log.Warn("fetch failed, retrying", zap.String("url", u), zap.Duration("wait", wait), zap.Error(err))
	}
	return backoff.RetryNotify(op, backoff.WithContext(s.newBackOff(), ctx), notify)
}

// parseRankings reads rows of the ranking table. Each row carries the
// profile path in data-athlete-url, e.g. /athletes/kenya/eliud-kipchoge-14208194.
func parseRankings(r io.Reader, gender athlete.Gender, base string) ([]Entry, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}

	var out []Entry
	doc.Find("table tr[data-athlete-url]").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 5 {
			return
		}
		text := func(i int) string {
			return strings.TrimSpace(cells.Eq(i).Text())
		}

		rank, err := strconv.Atoi(text(0))
		if err != nil {
			return
		}

		path, _ := row.Attr("data-athlete-url")
		e := Entry{
			WorldAthleticsID: athleteID(path),
			Gender:           gender,
			Rank:             rank,
			Name:             collapse(text(1)),
			DateOfBirth:      text(2),
			RankingPoints:    text(4),
		}
		if fields := strings.Fields(text(3)); len(fields) > 0 {
			e.Country = fields[0]
		}
		if path != "" {
			e.ProfileURL = resolve(base, path)
		}
		out = append(out, e)
	})
	return out, nil
}

// athleteID is the last all-digit dash-separated token of at least seven
// digits in the final path segment.
func athleteID(path string) string {
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[i+1:]
	}
	parts := strings.Split(path, "-")
	for i := len(parts) - 1; i >= 0; i-- {
		if len(parts[i]) >= 7 && allDigits(parts[i]) {
			return parts[i]
		}
	}
	return ""
}

// profileURL rebuilds /athletes/{country}/{name-slug}-{id} for rows that
// came without a link.
func profileURL(base string, e Entry) string {
	if e.WorldAthleticsID == "" || e.Name == "" || e.Country == "" {
		return ""
	}
	slug := strings.Join(strings.Fields(athlete.Fold(e.Name)), "-")
	return fmt.Sprintf("%s/athletes/%s/%s-%s", base, strings.ToLower(e.Country), slug, e.WorldAthleticsID)
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func resolve(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

type nextData struct {
	Props struct {
		PageProps struct {
			Competitor *competitor `json:"competitor"`
		} `json:"pageProps"`
	} `json:"props"`
}

type competitor struct {
	BasicData struct {
		BirthDate string `json:"birthDate"`
	} `json:"basicData"`
	PersonalBests struct {
		Results []mark `json:"results"`
	} `json:"personalBests"`
	SeasonBests struct {
		Results []mark `json:"results"`
	} `json:"seasonBests"`
}

type mark struct {
	Discipline string `json:"discipline"`
	Mark       string `json:"mark"`
}

func marathonMark(marks []mark) string {
	for _, m := range marks {
		if m.Discipline == "Marathon" {
			return m.Mark
		}
	}
	return ""
}

func nextDataScript(doc *goquery.Document) string {
	return strings.TrimSpace(doc.Find("script#__NEXT_DATA__").First().Text())
}

// pause waits d unless ctx ends first.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// parseProfile reads the Next.js page data embedded in a profile page.
// Pages without it leave e untouched.
func parseProfile(r io.Reader, e *Entry) error {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return fmt.Errorf("parsing HTML: %w", err)
	}
	raw := nextDataScript(doc)
	if raw == "" {
		return nil
	}

	var nd nextData
	if err := json.Unmarshal([]byte(raw), &nd); err != nil {
		return fmt.Errorf("parsing profile data: %w", err)
	}
	c := nd.Props.PageProps.Competitor
	if c == nil {
		return nil
	}

	if pb := marathonMark(c.PersonalBests.Results); pb != "" {
		e.PersonalBest = pb
	}
	if sb := marathonMark(c.SeasonBests.Results); sb != "" {
		e.SeasonBest = sb
	}
	if c.BasicData.BirthDate != "" {
		e.DateOfBirth = c.BasicData.BirthDate
		if born, err := time.Parse("2006-01-02", c.BasicData.BirthDate); err == nil {
			age := ageOn(born, time.Now())
			e.Age = &age
		}
	}
	return nil
}

func ageOn(born, at time.Time) int {
	age := at.Year() - born.Year()
	if at.Month() < born.Month() || (at.Month() == born.Month() && at.Day() < born.Day()) {
		age--
	}
	return age
}
