package agent

import (
	"regexp"
	"strings"
)

// PredicateScore is the fixed score of a matching predicate rule. It
// outranks any realistic pattern combination and short-circuits scoring.
const PredicateScore = 1000

// MatchRule decides whether an agent claims a user input during routing. A
// rule is either a predicate over the normalized input text or a list of
// string and regexp patterns scored additively:
//
//   - a string pattern contained in the input scores its word count
//   - a matching regexp scores 2
//
// The zero value never matches.
type MatchRule struct {
	predicate func(input string) bool
	patterns  []string
	regexes   []*regexp.Regexp
}

// MatchPredicate builds a rule from a predicate over the normalized input.
func MatchPredicate(fn func(input string) bool) MatchRule {
	return MatchRule{predicate: fn}
}

// MatchPatterns builds a rule from literal substring patterns.
func MatchPatterns(patterns ...string) MatchRule {
	rule := MatchRule{}
	for _, p := range patterns {
		rule.patterns = append(rule.patterns, strings.ToLower(p))
	}
	return rule
}

// WithRegexps returns a copy of the rule extended with compiled expressions.
// Invalid expressions are dropped; routing must not panic on configuration.
func (r MatchRule) WithRegexps(exprs ...string) MatchRule {
	for _, expr := range exprs {
		if re, err := regexp.Compile(expr); err == nil {
			r.regexes = append(r.regexes, re)
		}
	}
	return r
}

// IsZero reports whether the rule can never match.
func (r MatchRule) IsZero() bool {
	return r.predicate == nil && len(r.patterns) == 0 && len(r.regexes) == 0
}

// Score rates the normalized input against the rule. A predicate match
// returns PredicateScore immediately.
func (r MatchRule) Score(input string) int {
	if r.predicate != nil {
		if r.predicate(input) {
			return PredicateScore
		}
		return 0
	}
	score := 0
	for _, p := range r.patterns {
		if p != "" && strings.Contains(input, p) {
			score += len(strings.Fields(p))
		}
	}
	for _, re := range r.regexes {
		if re.MatchString(input) {
			score += 2
		}
	}
	return score
}
