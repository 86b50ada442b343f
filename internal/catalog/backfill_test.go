package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePages struct {
	pages map[string]*AthletePage
	refs  []string
	opts  PageOptions
}

func (f *fakePages) FetchAthletePage(_ context.Context, ref string, opts PageOptions) (*AthletePage, error) {
	f.refs = append(f.refs, ref)
	f.opts = opts
	p, ok := f.pages[ref]
	if !ok {
		return nil, errNotFound
	}
	return p, nil
}

type fakeProgressionSink struct {
	tracked   []Tracked
	startFrom uint
	limit     int
	counts    map[uint][2]int64
	saved     map[uint]*AthletePage
	saveErr   error
}

func (f *fakeProgressionSink) Tracked(_ context.Context, startFrom uint, limit int) ([]Tracked, error) {
	f.startFrom, f.limit = startFrom, limit
	var out []Tracked
	for _, a := range f.tracked {
		if a.ID >= startFrom {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeProgressionSink) ProgressCounts(_ context.Context, athleteID uint) (int64, int64, error) {
	c := f.counts[athleteID]
	return c[0], c[1], nil
}

func (f *fakeProgressionSink) SaveProgression(_ context.Context, athleteID uint, page *AthletePage) (int, int, error) {
	if f.saveErr != nil {
		return 0, 0, f.saveErr
	}
	if f.saved == nil {
		f.saved = map[uint]*AthletePage{}
	}
	f.saved[athleteID] = page
	return len(progressionRecords(athleteID, page)), len(page.Results), nil
}

func samplePage(id string) *AthletePage {
	return &AthletePage{
		WorldAthleticsID: id,
		Progression: []Progression{{Discipline: "Marathon", Seasons: []SeasonBest{
			{Season: "2023", Mark: "2:02:42"},
			{Season: "2024", Mark: "2:03:10"},
		}}},
		Results: []RaceResult{{Year: 2025, Discipline: "Marathon", Date: "27 APR 2025", Competition: "London", Mark: "2:05:25"}},
	}
}

func backfillFixture() (*fakePages, *fakeProgressionSink) {
	pages := &fakePages{pages: map[string]*AthletePage{
		"https://worldathletics.org/athletes/kenya/eliud-kipchoge-14208194": samplePage("14208194"),
		"14466925": samplePage("14466925"),
	}}
	sink := &fakeProgressionSink{
		tracked: []Tracked{
			{ID: 1, WorldAthleticsID: "14208194", ProfileURL: "https://worldathletics.org/athletes/kenya/eliud-kipchoge-14208194"},
			{ID: 2, WorldAthleticsID: "14466925"},
			{ID: 3, WorldAthleticsID: "14999999"},
		},
		counts: map[uint][2]int64{},
	}
	return pages, sink
}

func TestBackfiller_Run(t *testing.T) {
	pages, sink := backfillFixture()
	opts := BackfillOptions{Limit: 50, Page: PageOptions{Disciplines: DefaultDisciplines, Years: []int{2025}}}

	stats, err := NewBackfiller(pages, sink, nil).Run(context.Background(), opts)
	require.Error(t, err, "the missing page fails its athlete")
	assert.ErrorIs(t, err, errNotFound)

	assert.Equal(t, BackfillStats{Total: 3, Processed: 3, Succeeded: 2, Failed: 1, Progression: 4, Results: 2}, stats)
	assert.False(t, stats.Success())
	assert.Equal(t, 50, sink.limit)
	assert.Equal(t, opts.Page, pages.opts)
	assert.Equal(t, []string{
		"https://worldathletics.org/athletes/kenya/eliud-kipchoge-14208194",
		"14466925",
		"14999999",
	}, pages.refs, "profile URL preferred, id otherwise")
	assert.Len(t, sink.saved, 2)
}

func TestBackfiller_StartFromAndSkipExisting(t *testing.T) {
	pages, sink := backfillFixture()
	sink.counts[2] = [2]int64{5, 0}

	stats, err := NewBackfiller(pages, sink, nil).Run(context.Background(), BackfillOptions{StartFrom: 2, SkipExisting: true})
	require.Error(t, err)
	assert.Equal(t, uint(2), sink.startFrom)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, []string{"14999999"}, pages.refs)
}

func TestBackfiller_ExistingDataRefetchedWithoutSkip(t *testing.T) {
	pages, sink := backfillFixture()
	sink.tracked = sink.tracked[:2]
	sink.counts[1] = [2]int64{3, 1}

	stats, err := NewBackfiller(pages, sink, nil).Run(context.Background(), BackfillOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Succeeded)
	assert.Zero(t, stats.Skipped)
	assert.True(t, stats.Success())
}

func TestBackfiller_DryRunWritesNothing(t *testing.T) {
	pages, sink := backfillFixture()
	sink.tracked = sink.tracked[:2]

	stats, err := NewBackfiller(pages, sink, nil).Run(context.Background(), BackfillOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Succeeded)
	assert.Equal(t, 4, stats.Progression)
	assert.Equal(t, 2, stats.Results)
	assert.Nil(t, sink.saved)
}

func TestBackfiller_SaveFailureCounted(t *testing.T) {
	pages, sink := backfillFixture()
	sink.tracked = sink.tracked[:1]
	sink.saveErr = errors.New("deadlock detected")

	stats, err := NewBackfiller(pages, sink, nil).Run(context.Background(), BackfillOptions{})
	require.Error(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Zero(t, stats.Succeeded)
}
