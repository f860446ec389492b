package autoselect

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/inteldesk/pkg/intel"
)

var t0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func delivery(id string, importance int, createdAt time.Time) intel.OpenIntelDelivery {
	return intel.OpenIntelDelivery{
		Delivery: intel.Delivery{ID: id, IntelID: "intel-" + id, RecipientEntryID: "entry-1"},
		Intel: intel.IntelSummary{
			ID:          "intel-" + id,
			CreatedAt:   createdAt,
			OperationID: "op-1",
			Importance:  importance,
			IsValid:     true,
		},
	}
}

func TestSelectNext_Empty(t *testing.T) {
	s := NewSelector()
	_, ok := s.SelectNext(nil)
	assert.False(t, ok)
	assert.Empty(t, s.History())
}

func TestSelectNext_UrgentOverride(t *testing.T) {
	s := NewSelector()
	list := []intel.OpenIntelDelivery{
		delivery("d1", 500, t0),
		delivery("d2", 5000, t0.Add(time.Minute)),
	}

	got, ok := s.SelectNext(list)
	require.True(t, ok)
	assert.Equal(t, "d2", got.ID())
	if diff := cmp.Diff([]Strategy{ByImportance}, s.History()); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
}

// The creation-age comparator is b.CreatedAt - a.CreatedAt, so equal
// importance resolves to the newer delivery.
func TestSelectNext_TieBreaksNewestFirst(t *testing.T) {
	s := NewSelector()
	list := []intel.OpenIntelDelivery{
		delivery("d1", 500, t0),
		delivery("d2", 500, t0.Add(time.Minute)),
	}

	d, ok := s.Decide(list)
	require.True(t, ok)
	assert.Equal(t, ByImportance, d.Strategy)
	assert.False(t, d.Urgent)
	assert.Equal(t, "d2", d.Delivery.ID())
}

func TestSelectNext_RotationPattern(t *testing.T) {
	s := NewSelector()
	list := []intel.OpenIntelDelivery{
		delivery("important", 900, t0),
		delivery("newest", 100, t0.Add(time.Hour)),
	}

	var picked []string
	for i := 0; i < 6; i++ {
		d, ok := s.SelectNext(list)
		require.True(t, ok)
		picked = append(picked, d.ID())
	}

	assert.Equal(t, []string{"important", "important", "newest", "important", "important", "newest"}, picked)
	want := []Strategy{ByCreationAge, ByImportance, ByImportance, ByCreationAge, ByImportance, ByImportance}
	if diff := cmp.Diff(want, s.History()); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
}

func TestSelectNext_UrgentDecisionsCountTowardsRotation(t *testing.T) {
	s := NewSelector()
	urgent := []intel.OpenIntelDelivery{delivery("u", 1000, t0), delivery("n", 10, t0.Add(time.Hour))}
	calm := []intel.OpenIntelDelivery{delivery("a", 300, t0), delivery("b", 10, t0.Add(time.Hour))}

	for i := 0; i < 3; i++ {
		d, ok := s.SelectNext(urgent)
		require.True(t, ok)
		assert.Equal(t, "u", d.ID())
	}
	// Two recorded ByImportance decisions exhaust its budget.
	d, ok := s.Decide(calm)
	require.True(t, ok)
	assert.Equal(t, ByCreationAge, d.Strategy)
	assert.Equal(t, "b", d.Delivery.ID())
}

func TestSelectNext_NoStrategyMoreThanTwiceInThree(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := NewSelector()

	for i := 0; i < 60; i++ {
		var list []intel.OpenIntelDelivery
		n := 1 + rng.Intn(6)
		for j := 0; j < n; j++ {
			list = append(list, delivery(fmt.Sprintf("d%d", j), rng.Intn(intel.MinPrio1Importance), t0.Add(time.Duration(rng.Intn(600))*time.Second)))
		}
		_, ok := s.SelectNext(list)
		require.True(t, ok)
	}

	history := s.History()
	require.Len(t, history, HistoryLimit)
	for i := 0; i+3 <= len(history); i++ {
		counts := map[Strategy]int{}
		for _, st := range history[i : i+3] {
			counts[st]++
		}
		for st, n := range counts {
			assert.LessOrEqual(t, n, 2, "window %d uses %s %d times", i, st, n)
		}
	}
}

func TestSelectNext_UrgentAlwaysReturnsMaxImportance(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	s := NewSelector()

	for i := 0; i < 200; i++ {
		n := 1 + rng.Intn(8)
		list := make([]intel.OpenIntelDelivery, 0, n+1)
		list = append(list, delivery("urgent", intel.MinPrio1Importance+rng.Intn(2000), t0))
		for j := 0; j < n; j++ {
			list = append(list, delivery(fmt.Sprintf("d%d", j), rng.Intn(3000), t0.Add(time.Duration(j)*time.Second)))
		}
		rng.Shuffle(len(list), func(a, b int) { list[a], list[b] = list[b], list[a] })

		top := 0
		for _, d := range list {
			if d.Intel.Importance > top {
				top = d.Intel.Importance
			}
		}

		got, ok := s.SelectNext(list)
		require.True(t, ok)
		assert.Equal(t, top, got.Intel.Importance)
	}
}

func TestSelector_HistoryCapped(t *testing.T) {
	s := NewSelector()
	list := []intel.OpenIntelDelivery{delivery("d1", 10, t0)}
	for i := 0; i < HistoryLimit+10; i++ {
		s.SelectNext(list)
	}
	assert.Len(t, s.History(), HistoryLimit)

	s.Reset()
	assert.Empty(t, s.History())
}

func TestRank_ChosenStrategyThenTiebreaks(t *testing.T) {
	list := []intel.OpenIntelDelivery{
		delivery("old-low", 100, t0),
		delivery("new-high", 700, t0.Add(2*time.Minute)),
		delivery("mid-high", 700, t0.Add(time.Minute)),
		delivery("new-low", 100, t0.Add(2*time.Minute)),
	}

	ids := func(ds []intel.OpenIntelDelivery) []string {
		out := make([]string, len(ds))
		for i, d := range ds {
			out[i] = d.ID()
		}
		return out
	}

	assert.Equal(t, []string{"new-high", "mid-high", "new-low", "old-low"}, ids(Rank(list, ByImportance)))
	assert.Equal(t, []string{"new-high", "new-low", "mid-high", "old-low"}, ids(Rank(list, ByCreationAge)))
	assert.Equal(t, "old-low", list[0].ID(), "input left untouched")
}

func TestSortedBy_StableForTies(t *testing.T) {
	items := []intel.OpenIntelDelivery{
		delivery("a", 100, t0),
		delivery("b", 300, t0),
		delivery("c", 100, t0),
	}
	sorted := SortedBy(items, func(d intel.OpenIntelDelivery) intel.OpenIntelDelivery { return d }, CompareByImportance)
	got := []string{sorted[0].ID(), sorted[1].ID(), sorted[2].ID()}
	assert.Equal(t, []string{"b", "a", "c"}, got)
}

func TestRotate(t *testing.T) {
	tests := []struct {
		name    string
		history []Strategy
		want    Strategy
	}{
		{"empty", nil, ByImportance},
		{"one importance", []Strategy{ByImportance}, ByImportance},
		{"two importance", []Strategy{ByImportance, ByImportance}, ByCreationAge},
		{"age newest", []Strategy{ByCreationAge, ByImportance, ByImportance}, ByImportance},
		{"importance after age", []Strategy{ByImportance, ByCreationAge}, ByImportance},
		{"age only", []Strategy{ByCreationAge}, ByImportance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rotate(tt.history))
		})
	}
}
