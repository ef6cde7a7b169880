package stations

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/breatheroute/aqfusion/pkg/geo"
)

// DefaultDropTokens are removed from names before comparing them.
var DefaultDropTokens = []string{"new delhi", "delhi", "india"}

// Candidate is a station a name can resolve to.
type Candidate struct {
	ID       string
	Name     string
	Location *geo.Point
}

// Method records how a match was found.
type Method string

const (
	MethodText    Method = "text"
	MethodNearest Method = "nearest"
)

// Match is a resolved station.
type Match struct {
	// Index is the position of Candidate in the list passed to Match.
	Index      int       `json:"-"`
	Candidate  Candidate `json:"candidate"`
	Method     Method    `json:"method"`
	DistanceKm float64   `json:"distanceKm,omitempty"`
}

// MatcherConfig holds configuration for the matcher.
type MatcherConfig struct {
	// DropTokens are city and country words ignored when comparing names
	// (default: DefaultDropTokens).
	DropTokens []string
}

// Matcher resolves free-text station names.
type Matcher struct {
	drop [][]string
}

// NewMatcher creates a matcher.
func NewMatcher(cfg MatcherConfig) *Matcher {
	tokens := cfg.DropTokens
	if len(tokens) == 0 {
		tokens = DefaultDropTokens
	}
	m := &Matcher{}
	for _, t := range tokens {
		if words := strings.Fields(clean(t)); len(words) > 0 {
			m.drop = append(m.drop, words)
		}
	}
	sort.SliceStable(m.drop, func(i, j int) bool { return len(m.drop[i]) > len(m.drop[j]) })
	return m
}

// Normalize lowercases name, replaces punctuation with spaces, removes the
// drop tokens and collapses whitespace.
func (m *Matcher) Normalize(name string) string {
	words := strings.Fields(clean(name))
	out := words[:0]
	for i := 0; i < len(words); {
		if n := m.dropAt(words[i:]); n > 0 {
			i += n
			continue
		}
		out = append(out, words[i])
		i++
	}
	return strings.Join(out, " ")
}

// dropAt returns the length of the drop token that prefixes words, or 0.
// Tokens are kept longest first so "new delhi" wins over "delhi".
func (m *Matcher) dropAt(words []string) int {
	for _, tok := range m.drop {
		if len(tok) > len(words) {
			continue
		}
		hit := true
		for j, w := range tok {
			if words[j] != w {
				hit = false
				break
			}
		}
		if hit {
			return len(tok)
		}
	}
	return 0
}

func clean(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
}

// Match resolves target against candidates. A textual match (either name
// containing the other after normalization, or the raw candidate name
// containing the target) wins, preferring the longest normalized candidate
// name; ties go to the earlier candidate. Otherwise, when ref is given, the
// nearest candidate with a location is returned. ok is false when neither
// applies.
func (m *Matcher) Match(target string, ref *geo.Point, candidates []Candidate) (Match, bool) {
	normTarget := m.Normalize(target)
	lowerTarget := strings.ToLower(strings.TrimSpace(target))

	best, bestLen := -1, -1
	if normTarget != "" {
		for i, c := range candidates {
			normName := m.Normalize(c.Name)
			hit := (normName != "" && strings.Contains(normName, normTarget)) ||
				(normName != "" && strings.Contains(normTarget, normName)) ||
				strings.Contains(strings.ToLower(c.Name), lowerTarget)
			if hit && len(normName) > bestLen {
				best, bestLen = i, len(normName)
			}
		}
	}
	if best >= 0 {
		return Match{Index: best, Candidate: candidates[best], Method: MethodText}, true
	}

	if ref == nil {
		return Match{}, false
	}
	nearest, nearestKm := -1, math.Inf(1)
	for i, c := range candidates {
		if c.Location == nil {
			continue
		}
		if d := geo.HaversineKm(*ref, *c.Location); d < nearestKm {
			nearest, nearestKm = i, d
		}
	}
	if nearest < 0 {
		return Match{}, false
	}
	return Match{Index: nearest, Candidate: candidates[nearest], Method: MethodNearest, DistanceKm: nearestKm}, true
}
