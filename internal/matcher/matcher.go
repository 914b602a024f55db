// Package matcher decides which enrolled identity, if any, a query embedding belongs to.
package matcher

import (
	"fmt"

	"github.com/andresmejia3/rollcall/internal/types"
)

// DefaultThreshold is the maximum Euclidean distance accepted as the same person.
// Lower is stricter.
const DefaultThreshold = 0.5

// Policy picks the winner when several enrolled embeddings are within the threshold.
type Policy string

const (
	// FirstMatch accepts the first entry under threshold in enumeration order,
	// even when a later entry is closer.
	FirstMatch Policy = "first"
	// Nearest accepts the closest entry under threshold; ties go to the earlier entry.
	Nearest Policy = "nearest"
)

// ParsePolicy validates a configured policy name. Empty means FirstMatch.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", FirstMatch:
		return FirstMatch, nil
	case Nearest:
		return Nearest, nil
	}
	return "", fmt.Errorf("unknown match policy %q (want %q or %q)", s, FirstMatch, Nearest)
}

// Kind is the matcher's verdict.
type Kind int

const (
	NoMatch Kind = iota
	Matched
)

func (k Kind) String() string {
	if k == Matched {
		return "matched"
	}
	return "no_match"
}

// Outcome is the result of one Match call.
// Distance and Index describe the winning entry and are zero for NoMatch.
type Outcome struct {
	Kind       Kind
	IdentityID string
	Distance   float64
	Index      int
}

// Matcher is a configured threshold and policy.
type Matcher struct {
	threshold float64
	policy    Policy
}

// New validates the threshold and policy.
func New(threshold float64, policy Policy) (*Matcher, error) {
	if threshold <= 0 {
		return nil, fmt.Errorf("match threshold must be > 0, got %f", threshold)
	}
	if _, err := ParsePolicy(string(policy)); err != nil {
		return nil, err
	}
	if policy == "" {
		policy = FirstMatch
	}
	return &Matcher{threshold: threshold, policy: policy}, nil
}

func (m *Matcher) Threshold() float64 { return m.threshold }
func (m *Matcher) Policy() Policy     { return m.policy }

// Match compares query against every entry of the population.
func (m *Matcher) Match(query types.Vector, pop *Population) Outcome {
	if m.policy == Nearest {
		return matchNearest(query, pop, m.threshold)
	}
	return Match(query, pop, m.threshold)
}

// Match is the first-match-wins decision: entries are visited in the population's
// enumeration order and the first one with distance <= threshold is returned.
func Match(query types.Vector, pop *Population, threshold float64) Outcome {
	if pop == nil {
		return Outcome{Kind: NoMatch}
	}
	for i, e := range pop.entries {
		d, ok := Distance(query, e.Vec)
		if ok && d <= threshold {
			return Outcome{Kind: Matched, IdentityID: e.IdentityID, Distance: d, Index: i}
		}
	}
	return Outcome{Kind: NoMatch}
}

func matchNearest(query types.Vector, pop *Population, threshold float64) Outcome {
	best := Outcome{Kind: NoMatch}
	if pop == nil {
		return best
	}
	for i, e := range pop.entries {
		d, ok := Distance(query, e.Vec)
		if !ok || d > threshold {
			continue
		}
		if best.Kind == NoMatch || d < best.Distance {
			best = Outcome{Kind: Matched, IdentityID: e.IdentityID, Distance: d, Index: i}
		}
	}
	return best
}
