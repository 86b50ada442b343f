package athlete

import (
	"sort"
	"strings"
)

// Index is an immutable lookup over a fetched catalog.
type Index struct {
	byID  map[int]Athlete
	men   []Athlete
	women []Athlete
}

func NewIndex(list []Athlete) *Index {
	idx := &Index{byID: make(map[int]Athlete, len(list))}
	for _, a := range list {
		if _, dup := idx.byID[a.ID]; dup {
			continue
		}
		idx.byID[a.ID] = a
		switch a.Gender {
		case GenderMen:
			idx.men = append(idx.men, a)
		case GenderWomen:
			idx.women = append(idx.women, a)
		}
	}
	sortByRank(idx.men)
	sortByRank(idx.women)
	return idx
}

func (i *Index) Get(id int) (Athlete, bool) {
	if i == nil {
		return Athlete{}, false
	}
	a, ok := i.byID[id]
	return a, ok
}

func (i *Index) Len() int {
	if i == nil {
		return 0
	}
	return len(i.byID)
}

func (i *Index) ByGender(g Gender) []Athlete {
	if i == nil {
		return nil
	}
	if g == GenderMen {
		return i.men
	}
	return i.women
}

// Search filters one gender by a diacritic-insensitive name or country match.
func (i *Index) Search(g Gender, query string) []Athlete {
	q := Fold(query)
	if q == "" {
		return i.ByGender(g)
	}
	var out []Athlete
	for _, a := range i.ByGender(g) {
		if strings.Contains(Fold(a.Name), q) || strings.EqualFold(a.Country, q) {
			out = append(out, a)
		}
	}
	return out
}

// Unranked athletes sort last, ties by salary descending.
func sortByRank(list []Athlete) {
	sort.SliceStable(list, func(a, b int) bool {
		ra, rb := list[a].Rank, list[b].Rank
		switch {
		case ra != nil && rb != nil && *ra != *rb:
			return *ra < *rb
		case ra != nil && rb == nil:
			return true
		case ra == nil && rb != nil:
			return false
		}
		return list[a].Cost() > list[b].Cost()
	})
}
