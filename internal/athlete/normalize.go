package athlete

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var ErrMissingID = errors.New("athlete has no id")
var ErrUnknownGender = errors.New("athlete gender unknown")

// Field spellings seen in API responses, in order of preference.
var (
	idKeys       = []string{"id", "athleteId", "athlete_id"}
	nameKeys     = []string{"name", "fullName", "full_name"}
	countryKeys  = []string{"country", "countryCode", "country_code"}
	genderKeys   = []string{"gender", "sex"}
	pbKeys       = []string{"pb", "personalBest", "personal_best"}
	salaryKeys   = []string{"salary", "price"}
	rankKeys     = []string{"rank", "marathonRank", "marathon_rank", "worldRanking", "world_ranking", "overallRank", "overall_rank"}
	headshotKeys = []string{"headshotUrl", "headshot_url", "headshot", "photoUrl", "photo_url"}
)

// Normalize turns one loosely-typed catalog entry into the canonical Athlete.
// fallback is used when the entry carries no gender of its own, e.g. when the
// response is already grouped into men and women.
func Normalize(raw map[string]any, fallback Gender) (Athlete, error) {
	id, ok := intField(raw, idKeys...)
	if !ok || id <= 0 {
		return Athlete{}, ErrMissingID
	}

	a := Athlete{
		ID:           id,
		Name:         strings.TrimSpace(stringField(raw, nameKeys...)),
		Country:      strings.ToUpper(strings.TrimSpace(stringField(raw, countryKeys...))),
		PersonalBest: strings.TrimSpace(stringField(raw, pbKeys...)),
		HeadshotURL:  strings.TrimSpace(stringField(raw, headshotKeys...)),
	}

	if g, ok := ParseGender(stringField(raw, genderKeys...)); ok {
		a.Gender = g
	} else if fallback != "" {
		a.Gender = fallback
	} else {
		return Athlete{}, fmt.Errorf("athlete %d: %w", id, ErrUnknownGender)
	}

	if salary, ok := intField(raw, salaryKeys...); ok && salary > 0 {
		a.Salary = salary
	}
	if rank, ok := intField(raw, rankKeys...); ok && rank > 0 {
		a.Rank = &rank
	}
	return a, nil
}

// NormalizeList normalizes every entry, skipping the ones that cannot be used.
// The number of skipped entries is returned so callers can log it.
func NormalizeList(raws []map[string]any, fallback Gender) ([]Athlete, int) {
	out := make([]Athlete, 0, len(raws))
	skipped := 0
	for _, raw := range raws {
		a, err := Normalize(raw, fallback)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, a)
	}
	return out, skipped
}

func lookup(raw map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func stringField(raw map[string]any, keys ...string) string {
	v, ok := lookup(raw, keys...)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case map[string]any:
		// {"code": "KEN", "name": "Kenya"} and {"time": "2:01:09"} shapes
		return stringField(t, "code", "time", "mark", "value")
	default:
		return ""
	}
}

func intField(raw map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case json.Number:
			if n, err := t.Int64(); err == nil {
				return int(n), true
			}
			if f, err := t.Float64(); err == nil {
				return int(math.Round(f)), true
			}
		case float64:
			return int(math.Round(t)), true
		case int:
			return t, true
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}
