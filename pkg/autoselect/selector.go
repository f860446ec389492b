// Package autoselect decides which open delivery an operator should handle
// next, rotating between importance-first and age-first ordering so neither
// kind of delivery starves.
package autoselect

import (
	"slices"
	"sync"

	"github.com/odvcencio/inteldesk/pkg/intel"
	"github.com/odvcencio/inteldesk/pkg/telemetry"
)

// HistoryLimit caps the number of remembered decisions.
const HistoryLimit = 50

// Strategy is an ordering used to pick the next delivery.
type Strategy int

const (
	ByImportance Strategy = iota
	ByCreationAge
)

func (s Strategy) String() string {
	switch s {
	case ByImportance:
		return "by_importance"
	case ByCreationAge:
		return "by_creation_age"
	default:
		return "unknown"
	}
}

// Comparator orders two deliveries; negative sorts a first.
type Comparator func(a, b intel.OpenIntelDelivery) int

// CompareByImportance sorts higher importance first.
func CompareByImportance(a, b intel.OpenIntelDelivery) int {
	switch {
	case a.Intel.Importance > b.Intel.Importance:
		return -1
	case a.Intel.Importance < b.Intel.Importance:
		return 1
	default:
		return 0
	}
}

// CompareByCreationAge computes b.CreatedAt - a.CreatedAt, which sorts the
// newest intel first. Callers relying on "oldest first" get the opposite.
func CompareByCreationAge(a, b intel.OpenIntelDelivery) int {
	return b.Intel.CreatedAt.Compare(a.Intel.CreatedAt)
}

// Comparator returns the ordering for s.
func (s Strategy) Comparator() Comparator {
	if s == ByCreationAge {
		return CompareByCreationAge
	}
	return CompareByImportance
}

// Chain combines comparators; later ones break ties of earlier ones.
func Chain(cmps ...Comparator) Comparator {
	return func(a, b intel.OpenIntelDelivery) int {
		for _, cmp := range cmps {
			if c := cmp(a, b); c != 0 {
				return c
			}
		}
		return 0
	}
}

// Rank returns a copy of deliveries ordered by s, then by importance, then by
// creation age. Equal deliveries keep their input order.
func Rank(deliveries []intel.OpenIntelDelivery, s Strategy) []intel.OpenIntelDelivery {
	ranked := slices.Clone(deliveries)
	slices.SortStableFunc(ranked, Chain(s.Comparator(), CompareByImportance, CompareByCreationAge))
	return ranked
}

// SortedBy returns a stably sorted copy of items, projecting each to its
// delivery for comparison.
func SortedBy[T any](items []T, project func(T) intel.OpenIntelDelivery, cmp Comparator) []T {
	sorted := slices.Clone(items)
	slices.SortStableFunc(sorted, func(a, b T) int {
		return cmp(project(a), project(b))
	})
	return sorted
}

// Decision describes one selection.
type Decision struct {
	Delivery intel.OpenIntelDelivery
	Strategy Strategy
	Urgent   bool
}

// Selector picks deliveries and remembers which strategy it used.
type Selector struct {
	mu      sync.Mutex
	history []Strategy // newest first
}

// NewSelector returns a Selector with empty history.
func NewSelector() *Selector {
	return &Selector{}
}

// SelectNext returns the delivery to present next, or false for an empty
// list.
func (s *Selector) SelectNext(deliveries []intel.OpenIntelDelivery) (intel.OpenIntelDelivery, bool) {
	d, ok := s.Decide(deliveries)
	return d.Delivery, ok
}

// Decide is SelectNext with the reasoning attached.
func (s *Selector) Decide(deliveries []intel.OpenIntelDelivery) (Decision, bool) {
	if len(deliveries) == 0 {
		return Decision{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	urgent := slices.ContainsFunc(deliveries, func(d intel.OpenIntelDelivery) bool {
		return intel.IsUrgent(d.Intel.Importance)
	})
	strategy := ByImportance
	if !urgent {
		strategy = rotate(s.history)
	}
	s.record(strategy)
	telemetry.AutoSelections.WithLabelValues(strategy.String()).Inc()

	return Decision{
		Delivery: Rank(deliveries, strategy)[0],
		Strategy: strategy,
		Urgent:   urgent,
	}, true
}

// History returns the remembered strategies, newest first.
func (s *Selector) History() []Strategy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

// Reset forgets all decisions.
func (s *Selector) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}

func (s *Selector) record(strategy Strategy) {
	s.history = slices.Insert(s.history, 0, strategy)
	if len(s.history) > HistoryLimit {
		s.history = s.history[:HistoryLimit]
	}
}

// rotate walks history newest-first, charging each past use against its
// strategy's budget. The first point at which a single strategy still has
// budget decides; an undecided walk falls back to ByImportance.
func rotate(history []Strategy) Strategy {
	budget := map[Strategy]int{ByImportance: 2, ByCreationAge: 1}
	chosen := ByImportance
	for _, used := range history {
		if _, ok := budget[used]; !ok {
			continue
		}
		budget[used]--

		var remaining []Strategy
		for _, candidate := range []Strategy{ByImportance, ByCreationAge} {
			if budget[candidate] > 0 {
				remaining = append(remaining, candidate)
			}
		}
		if len(remaining) == 1 {
			chosen = remaining[0]
			break
		}
		if len(remaining) == 0 {
			break
		}
	}
	return chosen
}
