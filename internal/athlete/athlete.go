package athlete

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultSalary is what an athlete costs when the catalog carries no salary.
const DefaultSalary = 5000

type Gender string

const (
	GenderMen   Gender = "men"
	GenderWomen Gender = "women"
)

// ParseGender accepts the spellings seen across API responses and scraped pages.
func ParseGender(s string) (Gender, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "men", "man", "m", "male":
		return GenderMen, true
	case "women", "woman", "w", "f", "female":
		return GenderWomen, true
	default:
		return "", false
	}
}

type Athlete struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	Country      string `json:"country"`
	Gender       Gender `json:"gender"`
	PersonalBest string `json:"pb,omitempty"`
	Salary       int    `json:"salary,omitempty"`
	Rank         *int   `json:"rank,omitempty"`
	HeadshotURL  string `json:"headshotUrl,omitempty"`
}

// Cost is the only way salary is read for budget math.
func (a Athlete) Cost() int {
	if a.Salary <= 0 {
		return DefaultSalary
	}
	return a.Salary
}

var foldChain = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fold lowercases s and strips diacritics so "Sifan Hassan" matches "sifan hassán".
func Fold(s string) string {
	out, _, err := transform.String(foldChain, s)
	if err != nil {
		out = s
	}
	return cases.Fold().String(strings.TrimSpace(out))
}
