package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultDisciplines are the events progression is collected for.
var DefaultDisciplines = []string{"Marathon", "Half Marathon"}

// SeasonBest is one season's best mark in a discipline.
type SeasonBest struct {
	Season      string `json:"season"`
	Mark        string `json:"mark"`
	Venue       string `json:"venue,omitempty"`
	Date        string `json:"date,omitempty"`
	Competition string `json:"competition,omitempty"`
	ResultScore *int   `json:"resultScore,omitempty"`
}

type Progression struct {
	Discipline string       `json:"discipline"`
	EventID    string       `json:"eventId,omitempty"`
	MainEvent  bool         `json:"mainEvent"`
	Seasons    []SeasonBest `json:"seasons"`
}

// RaceResult is one race from the profile's results-by-year table. Profile
// pages only carry a single year of results.
type RaceResult struct {
	Year          int    `json:"year"`
	Discipline    string `json:"discipline"`
	EventID       string `json:"eventId,omitempty"`
	Date          string `json:"date"`
	Competition   string `json:"competition"`
	CompetitionID string `json:"competitionId,omitempty"`
	Venue         string `json:"venue,omitempty"`
	Country       string `json:"country,omitempty"`
	Place         string `json:"place,omitempty"`
	Mark          string `json:"mark"`
	ResultScore   *int   `json:"resultScore,omitempty"`
	Category      string `json:"category,omitempty"`
	Race          string `json:"race,omitempty"`
	Wind          string `json:"wind,omitempty"`
	NotLegal      bool   `json:"notLegal"`
	Remark        string `json:"remark,omitempty"`
}

// AthletePage is what one profile page yields beyond the ranking row.
type AthletePage struct {
	WorldAthleticsID string        `json:"worldAthleticsId"`
	GivenName        string        `json:"givenName"`
	FamilyName       string        `json:"familyName"`
	CountryCode      string        `json:"countryCode"`
	CountryName      string        `json:"countryName"`
	BirthDate        string        `json:"birthDate,omitempty"`
	Male             bool          `json:"male"`
	Progression      []Progression `json:"progression"`
	Results          []RaceResult  `json:"raceResults"`
}

// PageOptions narrows what is kept from a profile page. An empty
// Disciplines keeps every event; an empty Years keeps results of any year.
type PageOptions struct {
	Disciplines []string
	Years       []int
}

func (o PageOptions) wantDiscipline(d string) bool {
	return len(o.Disciplines) == 0 || slices.Contains(o.Disciplines, d)
}

func (o PageOptions) wantYear(y int) bool {
	return len(o.Years) == 0 || slices.Contains(o.Years, y)
}

// looseString takes a JSON string, number or null. The site is not
// consistent about which one ids and places are.
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	switch {
	case string(b) == "null":
		*s = ""
	case len(b) > 0 && b[0] == '"':
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = looseString(v)
	default:
		*s = looseString(b)
	}
	return nil
}

type pageData struct {
	Props struct {
		PageProps struct {
			Competitor *pageCompetitor `json:"competitor"`
		} `json:"pageProps"`
	} `json:"props"`
}

type pageCompetitor struct {
	ID        looseString `json:"_id"`
	BasicData struct {
		GivenName       string `json:"givenName"`
		FamilyName      string `json:"familyName"`
		CountryCode     string `json:"countryCode"`
		CountryFullName string `json:"countryFullName"`
		BirthDate       string `json:"birthDate"`
		Male            bool   `json:"male"`
	} `json:"basicData"`
	Progression []struct {
		Discipline string      `json:"discipline"`
		EventID    looseString `json:"eventId"`
		MainEvent  bool        `json:"mainEvent"`
		Results    []struct {
			Season      looseString `json:"season"`
			Mark        string      `json:"mark"`
			Venue       string      `json:"venue"`
			Date        string      `json:"date"`
			Competition string      `json:"competition"`
			ResultScore *float64    `json:"resultScore"`
		} `json:"results"`
	} `json:"progressionOfSeasonsBests"`
	ResultsByYear struct {
		Parameters struct {
			Year looseString `json:"resultsByYear"`
		} `json:"parameters"`
		ResultsByEvent []struct {
			Discipline string      `json:"discipline"`
			EventID    looseString `json:"eventId"`
			Results    []struct {
				Date          string      `json:"date"`
				Competition   string      `json:"competition"`
				CompetitionID looseString `json:"competitionId"`
				Venue         string      `json:"venue"`
				Country       string      `json:"country"`
				Place         looseString `json:"place"`
				Mark          string      `json:"mark"`
				ResultScore   *float64    `json:"resultScore"`
				Category      string      `json:"category"`
				Race          string      `json:"race"`
				Wind          looseString `json:"wind"`
				NotLegal      bool        `json:"notLegal"`
				Remark        string      `json:"remark"`
			} `json:"results"`
		} `json:"resultsByEvent"`
	} `json:"resultsByYear"`
}

var errNoPageData = errors.New("profile page has no athlete data")

// FetchAthletePage loads a profile page. ref is either a profile URL or a
// bare World Athletics id.
func (s *Scraper) FetchAthletePage(ctx context.Context, ref string, opts PageOptions) (*AthletePage, error) {
	u := ref
	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		u = fmt.Sprintf("%s/athletes/_/%s", s.baseURL, ref)
	}
	var page *AthletePage
	err := s.get(ctx, u, func(r io.Reader) error {
		var perr error
		page, perr = parseAthletePage(r, opts)
		return perr
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

func parseAthletePage(r io.Reader, opts PageOptions) (*AthletePage, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}
	raw := nextDataScript(doc)
	if raw == "" {
		return nil, errNoPageData
	}
	var pd pageData
	if err := json.Unmarshal([]byte(raw), &pd); err != nil {
		return nil, fmt.Errorf("parsing profile data: %w", err)
	}
	c := pd.Props.PageProps.Competitor
	if c == nil {
		return nil, errNoPageData
	}

	page := &AthletePage{
		WorldAthleticsID: strings.TrimLeft(string(c.ID), "0"),
		GivenName:        c.BasicData.GivenName,
		FamilyName:       c.BasicData.FamilyName,
		CountryCode:      c.BasicData.CountryCode,
		CountryName:      c.BasicData.CountryFullName,
		BirthDate:        c.BasicData.BirthDate,
		Male:             c.BasicData.Male,
	}

	for _, ev := range c.Progression {
		if !opts.wantDiscipline(ev.Discipline) {
			continue
		}
		p := Progression{Discipline: ev.Discipline, EventID: string(ev.EventID), MainEvent: ev.MainEvent}
		for _, res := range ev.Results {
			if res.Season == "" || res.Mark == "" {
				continue
			}
			p.Seasons = append(p.Seasons, SeasonBest{
				Season:      string(res.Season),
				Mark:        res.Mark,
				Venue:       res.Venue,
				Date:        res.Date,
				Competition: res.Competition,
				ResultScore: score(res.ResultScore),
			})
		}
		slices.SortFunc(p.Seasons, func(a, b SeasonBest) int { return strings.Compare(a.Season, b.Season) })
		page.Progression = append(page.Progression, p)
	}

	year, _ := strconv.Atoi(string(c.ResultsByYear.Parameters.Year))
	if !opts.wantYear(year) {
		return page, nil
	}
	for _, ev := range c.ResultsByYear.ResultsByEvent {
		if !opts.wantDiscipline(ev.Discipline) {
			continue
		}
		for _, res := range ev.Results {
			page.Results = append(page.Results, RaceResult{
				Year:          year,
				Discipline:    ev.Discipline,
				EventID:       string(ev.EventID),
				Date:          res.Date,
				Competition:   res.Competition,
				CompetitionID: string(res.CompetitionID),
				Venue:         res.Venue,
				Country:       res.Country,
				Place:         strings.TrimSpace(string(res.Place)),
				Mark:          res.Mark,
				ResultScore:   score(res.ResultScore),
				Category:      res.Category,
				Race:          res.Race,
				Wind:          string(res.Wind),
				NotLegal:      res.NotLegal,
				Remark:        res.Remark,
			})
		}
	}
	return page, nil
}

func score(f *float64) *int {
	if f == nil {
		return nil
	}
	n := int(math.Round(*f))
	return &n
}
