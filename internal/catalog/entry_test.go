package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func entry(id string, rank int) Entry {
	return Entry{WorldAthleticsID: id, Rank: rank, Name: "Runner " + id, Country: "KEN", Gender: "men"}
}

func TestHash_IgnoresRankAndPoints(t *testing.T) {
	a := entry("14000001", 1)
	b := a
	b.Rank = 9
	b.RankingPoints = "1200"
	assert.Equal(t, a.Hash(), b.Hash())
	assert.Len(t, a.Hash(), 64)

	c := a
	c.PersonalBest = "2:03:00"
	assert.NotEqual(t, a.Hash(), c.Hash())
}

func TestDetect(t *testing.T) {
	same := entry("1000001", 1)
	moved := entry("1000002", 2)
	edited := entry("1000003", 3)
	fresh := entry("1000004", 4)
	noID := entry("", 5)

	rank := func(n int) *int { return &n }
	editedBefore := edited
	editedBefore.SeasonBest = "2:10:00"

	existing := map[string]Existing{
		same.WorldAthleticsID:   {WorldAthleticsID: same.WorldAthleticsID, DataHash: same.Hash(), MarathonRank: rank(1)},
		moved.WorldAthleticsID:  {WorldAthleticsID: moved.WorldAthleticsID, DataHash: moved.Hash(), MarathonRank: rank(7)},
		edited.WorldAthleticsID: {WorldAthleticsID: edited.WorldAthleticsID, DataHash: editedBefore.Hash(), MarathonRank: rank(3)},
	}

	d := Detect([]Entry{same, moved, edited, fresh, noID}, existing)
	assert.Equal(t, []Entry{fresh}, d.New)
	assert.Equal(t, []Entry{moved, edited}, d.Changed)
	assert.Equal(t, []Entry{same}, d.Unchanged)
	assert.Equal(t, []Entry{fresh, moved, edited}, d.Writes())
}

func TestDetect_UnrankedRowChanges(t *testing.T) {
	e := entry("1000001", 1)
	d := Detect([]Entry{e}, map[string]Existing{e.WorldAthleticsID: {DataHash: e.Hash()}})
	assert.Len(t, d.Changed, 1)
}

func TestHash_CanonicalEncoding(t *testing.T) {
	age := 41
	kipchoge := Entry{
		WorldAthleticsID: "14208194",
		Name:             "Eliud KIPCHOGE",
		Gender:           "men",
		Country:          "KEN",
		DateOfBirth:      "05 NOV 1984",
		PersonalBest:     "2:01:09",
		HeadshotURL:      "https://media.aws.iaaf.org/athletes/14208194.jpg",
		Age:              &age,
	}
	assert.Equal(t, "1e36bf7376e4e692f59cdbecf3f77ec013ee24e2470192179e9ef910f93926fd", kipchoge.Hash())

	// Non-ASCII is escaped, HTML characters are not, missing fields are null.
	sparse := Entry{WorldAthleticsID: "14500001", Name: "Tigist ASSEFA & Sörenson <b>", Gender: "women", Country: "ETH"}
	assert.Equal(t, "731b39d8bc851a8fa7e8d5594a58977eae855cf01cea8764a536641afadd619e", sparse.Hash())
}

func TestCanonicalJSON_EscapesAstralRunes(t *testing.T) {
	assert.Equal(t, `{"a":"\ud83c\udfc3","b":null}`, string(canonicalJSON(map[string]any{"b": nil, "a": "🏃"})))
}
