// Package scorer implements the deterministic rule-based risk scorer.
package scorer

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/tradewatch/sentinel/internal/pipeline"
)

// Scoring weights. The scorer does not model uncertainty, so confidence is a
// constant.
const (
	categoryWeight    = 0.40
	patternWeight     = 0.50
	weaponFloor       = 0.70
	directWeaponFloor = 0.80
	transactionBonus  = 0.30
	violenceBonus     = 0.40
	ruleConfidence    = 0.90
)

// Scorer matches cleaned text against a compiled lexicon. Score is total,
// deterministic, and side-effect-free; a Scorer is safe for concurrent use.
type Scorer struct {
	categories       map[string][]string
	categoryNames    []string
	directWeapons    []string
	patterns         []*regexp.Regexp
	transactionTerms []string
}

// New compiles a Scorer from the lexicon.
func New(lex Lexicon) (*Scorer, error) {
	if len(lex.Categories) == 0 {
		return nil, fmt.Errorf("lexicon defines no categories")
	}
	s := &Scorer{
		categories:       lex.Categories,
		directWeapons:    lex.DirectWeapons,
		transactionTerms: lex.TransactionTerms,
	}
	for name := range lex.Categories {
		s.categoryNames = append(s.categoryNames, name)
	}
	// Category iteration order must not affect output ordering.
	sort.Strings(s.categoryNames)
	for _, raw := range lex.IntentPatterns {
		re, err := regexp.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("compile intent pattern %q: %w", raw, err)
		}
		s.patterns = append(s.patterns, re)
	}
	return s, nil
}

// Score maps item text to a rule-based risk analysis. Identical input always
// yields an identical result.
func (s *Scorer) Score(text string) pipeline.RiskAnalysis {
	cleaned := Clean(text)
	padded := " " + cleaned + " "

	var (
		score    float64
		flags    []string
		keywords []string
		patterns []string
	)

	hasWeapon := false
	hasViolence := false
	for _, name := range s.categoryNames {
		var found []string
		for _, kw := range s.categories[name] {
			if containsTerm(padded, kw) {
				found = append(found, kw)
				score += categoryWeight
				flags = append(flags, fmt.Sprintf("HIGH RISK: %s keyword %q", name, kw))
			}
		}
		if len(found) == 0 {
			continue
		}
		keywords = append(keywords, fmt.Sprintf("%s: %s", name, strings.Join(found, ", ")))
		switch name {
		case CategoryFirearms, CategoryExplosives:
			hasWeapon = true
		case CategoryViolence:
			hasViolence = true
		}
	}

	for _, re := range s.patterns {
		for _, match := range re.FindAllString(cleaned, -1) {
			patterns = append(patterns, match)
			score += patternWeight
			flags = append(flags, fmt.Sprintf("HIGH RISK: intent pattern %q", match))
		}
	}

	hasTransaction := false
	for _, term := range s.transactionTerms {
		if containsTerm(padded, term) {
			hasTransaction = true
			break
		}
	}

	if hasWeapon && hasTransaction {
		score += transactionBonus
		flags = append(flags, "CRITICAL: weapon + transaction intent")
	}
	if hasWeapon && hasViolence {
		score += violenceBonus
		flags = append(flags, "CRITICAL: weapon + violence intent")
	}

	if hasWeapon && score < weaponFloor {
		score = weaponFloor
	}
	for _, weapon := range s.directWeapons {
		if containsTerm(padded, weapon) {
			if score < directWeaponFloor {
				score = directWeaponFloor
			}
			flags = append(flags, fmt.Sprintf("HIGH RISK: direct weapon reference %q", weapon))
			break
		}
	}

	if score > 1.0 {
		score = 1.0
	}

	return pipeline.RiskAnalysis{
		Score:           score,
		Confidence:      ruleConfidence,
		Flags:           flags,
		MatchedKeywords: keywords,
		MatchedPatterns: patterns,
		WeaponMatch:     hasWeapon,
	}
}

// Clean lowercases the text, deletes punctuation, and collapses whitespace
// so keyword and pattern matching sees a normalized token stream. Deleting
// (rather than spacing out) punctuation keeps obfuscated spellings like
// "ak-47" matching their lexicon form.
func Clean(text string) string {
	lowered := strings.ToLower(text)
	var b strings.Builder
	b.Grow(len(lowered))
	lastSpace := true
	for _, r := range lowered {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// containsTerm matches term on word boundaries within space-padded text.
// Multi-word terms match as phrases.
func containsTerm(padded, term string) bool {
	return strings.Contains(padded, " "+term+" ")
}
