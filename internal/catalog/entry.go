// Package catalog keeps the marathon athlete catalog in step with the World
// Athletics rankings: it scrapes the ranking tables, enriches athletes from
// their profile pages and writes only the rows that changed.
package catalog

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/DoyleJ11/marathon-draft/internal/athlete"
)

const RankingSource = "world_marathon"

// Entry is one ranked athlete as scraped, optionally enriched from the
// profile page.
type Entry struct {
	WorldAthleticsID string
	Gender           athlete.Gender
	Rank             int
	Name             string
	Country          string
	DateOfBirth      string
	RankingPoints    string
	ProfileURL       string

	PersonalBest string
	SeasonBest   string
	HeadshotURL  string
	Age          *int
}

// Hash is the hex SHA-256 of the canonical JSON of the fields whose change
// warrants a write: sorted keys, no whitespace, non-ASCII escaped as \uXXXX
// and null for missing values. Rank and points move every week and are
// compared separately. sponsor is never scraped and stays null.
func (e Entry) Hash() string {
	fields := map[string]any{
		"id":           nullable(e.WorldAthleticsID),
		"name":         nullable(e.Name),
		"gender":       nullable(string(e.Gender)),
		"country":      nullable(e.Country),
		"dob":          nullable(e.DateOfBirth),
		"personalBest": nullable(e.PersonalBest),
		"seasonBest":   nullable(e.SeasonBest),
		"headshotUrl":  nullable(e.HeadshotURL),
		"sponsor":      nil,
		"age":          nil,
	}
	if e.Age != nil {
		fields["age"] = *e.Age
	}
	sum := sha256.Sum256(canonicalJSON(fields))
	return hex.EncodeToString(sum[:])
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// canonicalJSON encodes v compactly with map keys sorted and every non-ASCII
// rune written as a \u escape, surrogate pairs above the BMP.
func canonicalJSON(v any) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
	raw := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))

	out := make([]byte, 0, len(raw))
	for _, r := range string(raw) {
		switch {
		case r < utf8.RuneSelf:
			out = append(out, byte(r))
		case r > 0xFFFF:
			hi, lo := utf16.EncodeRune(r)
			out = fmt.Appendf(out, "\\u%04x\\u%04x", hi, lo)
		default:
			out = fmt.Appendf(out, "\\u%04x", r)
		}
	}
	return out
}

func (e Entry) record(hash string, now time.Time) Record {
	rank := e.Rank
	return Record{
		WorldAthleticsID: e.WorldAthleticsID,
		Name:             e.Name,
		Country:          e.Country,
		Gender:           string(e.Gender),
		DateOfBirth:      e.DateOfBirth,
		RankingPoints:    e.RankingPoints,
		MarathonRank:     &rank,
		PersonalBest:     e.PersonalBest,
		SeasonBest:       e.SeasonBest,
		HeadshotURL:      e.HeadshotURL,
		ProfileURL:       e.ProfileURL,
		Age:              e.Age,
		DataHash:         hash,
		RankingSource:    RankingSource,
		LastFetchedAt:    &now,
		LastSeenAt:       &now,
	}
}

// Existing is the stored state delta detection compares against.
type Existing struct {
	WorldAthleticsID string
	DataHash         string
	MarathonRank     *int
}

type Delta struct {
	New       []Entry
	Changed   []Entry
	Unchanged []Entry
}

// Detect sorts entries into new, changed and unchanged. An entry changed when
// its hash or its rank differs from what is stored.
func Detect(entries []Entry, existing map[string]Existing) Delta {
	var d Delta
	for _, e := range entries {
		if e.WorldAthleticsID == "" {
			continue
		}
		prev, ok := existing[e.WorldAthleticsID]
		switch {
		case !ok:
			d.New = append(d.New, e)
		case prev.DataHash != e.Hash() || prev.MarathonRank == nil || *prev.MarathonRank != e.Rank:
			d.Changed = append(d.Changed, e)
		default:
			d.Unchanged = append(d.Unchanged, e)
		}
	}
	return d
}

func (d Delta) Writes() []Entry {
	out := make([]Entry, 0, len(d.New)+len(d.Changed))
	out = append(out, d.New...)
	return append(out, d.Changed...)
}
