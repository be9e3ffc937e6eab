// Package partition splits the code-search space into sub-queries small enough
// to be fully enumerated under the search API's fixed result cap.
package partition

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// ErrInvalidGates is returned when a gate table leaves gaps or overlaps.
var ErrInvalidGates = errors.New("invalid popularity gates")

// Gate is an inclusive popularity-score range. A nil Max means unbounded.
type Gate struct {
	Min   int
	Max   *int
	Label string
}

// Bounded returns a closed gate [min, max].
func Bounded(min, max int, label string) Gate {
	return Gate{Min: min, Max: &max, Label: label}
}

// AtLeast returns an open-ended gate [min, ∞).
func AtLeast(min int, label string) Gate {
	return Gate{Min: min, Label: label}
}

// Unbounded reports whether the gate has no upper limit.
func (g Gate) Unbounded() bool {
	return g.Max == nil
}

// Contains reports whether score falls inside the gate.
func (g Gate) Contains(score int) bool {
	if score < g.Min {
		return false
	}
	return g.Max == nil || score <= *g.Max
}

// Below reports whether every score in the gate is below min.
func (g Gate) Below(min int) bool {
	return g.Max != nil && *g.Max < min
}

// Qualifier renders the gate as a search qualifier.
func (g Gate) Qualifier() string {
	switch {
	case g.Max == nil:
		return "stars:>=" + strconv.Itoa(g.Min)
	case *g.Max == g.Min:
		return "stars:" + strconv.Itoa(g.Min)
	default:
		return fmt.Sprintf("stars:%d..%d", g.Min, *g.Max)
	}
}

func (g Gate) String() string {
	if g.Label != "" {
		return g.Label
	}
	return g.Qualifier()
}

// DefaultGates covers [0, ∞) from most to least popular.
func DefaultGates() []Gate {
	return []Gate{
		AtLeast(1000, "1000+"),
		Bounded(100, 999, "100-999"),
		Bounded(10, 99, "10-99"),
		Bounded(1, 9, "1-9"),
		Bounded(0, 0, "0"),
	}
}

// DefaultPatterns are the filenames searched for by default.
func DefaultPatterns() []string {
	return []string{
		"openapi.json",
		"openapi.yaml",
		"openapi.yml",
		"swagger.json",
		"swagger.yaml",
	}
}

// ValidateGates checks that gates are contiguous, non-overlapping and cover [0, ∞).
// Gates may be given in any order.
func ValidateGates(gates []Gate) error {
	if len(gates) == 0 {
		return fmt.Errorf("%w: no gates", ErrInvalidGates)
	}

	sorted := make([]Gate, len(gates))
	copy(sorted, gates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Min < sorted[j].Min })

	if sorted[0].Min != 0 {
		return fmt.Errorf("%w: lowest gate starts at %d, want 0", ErrInvalidGates, sorted[0].Min)
	}

	for i, g := range sorted {
		if g.Max != nil && *g.Max < g.Min {
			return fmt.Errorf("%w: gate %s has max below min", ErrInvalidGates, g)
		}
		last := i == len(sorted)-1
		if g.Max == nil {
			if !last {
				return fmt.Errorf("%w: unbounded gate %s is not the highest", ErrInvalidGates, g)
			}
			continue
		}
		if last {
			return fmt.Errorf("%w: highest gate %s is bounded", ErrInvalidGates, g)
		}
		if next := sorted[i+1].Min; next != *g.Max+1 {
			return fmt.Errorf("%w: gate %s ends at %d but next gate starts at %d", ErrInvalidGates, g, *g.Max, next)
		}
	}
	return nil
}

// Query is one bounded sub-query: a filename pattern restricted to a gate.
type Query struct {
	Pattern string
	Gate    Gate
}

// String renders the full search query.
func (q Query) String() string {
	return "filename:" + q.Pattern + " " + q.Gate.Qualifier()
}

// Partition returns the ordered sub-queries for patterns × gates, skipping gates
// that lie entirely below minScore. Gates keep their given order within each pattern.
func Partition(patterns []string, gates []Gate, minScore int) []Query {
	queries := make([]Query, 0, len(patterns)*len(gates))
	for _, p := range patterns {
		for _, g := range gates {
			if g.Below(minScore) {
				continue
			}
			queries = append(queries, Query{Pattern: p, Gate: g})
		}
	}
	return queries
}
