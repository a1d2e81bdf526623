// Package classifier matches loaded documents to statement-type rules.
package classifier

import (
	"fmt"
	"strings"

	"github.com/cloudflare/ahocorasick"
	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/plugin"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/repository"
)

// TermSeparator joins the terms of a search expression.
const TermSeparator = "&&"

// Reason classifies a ClassificationError.
type Reason int

const (
	NoMatch Reason = iota + 1
	Ambiguous
)

func (r Reason) String() string {
	switch r {
	case NoMatch:
		return "no matching rule"
	case Ambiguous:
		return "ambiguous rules"
	default:
		return "unknown"
	}
}

// ClassificationError is returned when a document does not map to exactly one
// rule. For Ambiguous, Candidates holds every matching rule. For NoMatch it
// holds near misses: rules with some terms present or whose company resembles
// the filename.
type ClassificationError struct {
	Reason     Reason
	Filename   string
	Extension  string
	Candidates []repository.StatementTypeRule
}

func (e *ClassificationError) Error() string {
	msg := fmt.Sprintf("classify %s (%s): %s", e.Filename, e.Extension, e.Reason)
	if len(e.Candidates) == 0 {
		return msg
	}
	labels := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		labels[i] = fmt.Sprintf("%s [%s]", c.Label(), c.Identifier)
	}
	if e.Reason == Ambiguous {
		return msg + ": " + strings.Join(labels, ", ")
	}
	return msg + "; near: " + strings.Join(labels, ", ")
}

// Is matches a ClassificationError with the same reason.
func (e *ClassificationError) Is(target error) bool {
	t, ok := target.(*ClassificationError)
	return ok && t.Reason == e.Reason && t.Filename == ""
}

var (
	ErrNoMatch   = &ClassificationError{Reason: NoMatch}
	ErrAmbiguous = &ClassificationError{Reason: Ambiguous}
)

// SplitTerms returns the lowercase, trimmed, non-empty terms of a search expression.
func SplitTerms(expr string) []string {
	var terms []string
	for _, t := range strings.Split(expr, TermSeparator) {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			terms = append(terms, t)
		}
	}
	return terms
}

// Classifier is an immutable matcher over one rule set. All terms of all
// rules are compiled into a single Aho-Corasick automaton so a document is
// scanned once regardless of how many rules exist.
type Classifier struct {
	rules    []repository.StatementTypeRule
	terms    [][]int // pattern indexes per rule
	patterns []string
	matcher  *ahocorasick.Matcher
}

// New builds a classifier. Rules without any term never match.
func New(rules []repository.StatementTypeRule) *Classifier {
	c := &Classifier{
		rules: append([]repository.StatementTypeRule(nil), rules...),
		terms: make([][]int, len(rules)),
	}

	patternToIndex := make(map[string]int)
	for i, rule := range c.rules {
		for _, term := range SplitTerms(rule.SearchExpression) {
			idx, ok := patternToIndex[term]
			if !ok {
				idx = len(c.patterns)
				patternToIndex[term] = idx
				c.patterns = append(c.patterns, term)
			}
			c.terms[i] = append(c.terms[i], idx)
		}
	}

	if len(c.patterns) > 0 {
		c.matcher = ahocorasick.NewStringMatcher(c.patterns)
	}
	return c
}

// Rules returns the rule set the classifier was built from.
func (c *Classifier) Rules() []repository.StatementTypeRule {
	return append([]repository.StatementTypeRule(nil), c.rules...)
}

// Classify returns the single rule whose extension equals the document's and
// whose every term occurs in the document text, case-insensitively.
func (c *Classifier) Classify(doc *plugin.Document) (*repository.StatementTypeRule, error) {
	hits := c.hits(doc.Text)

	var matched, near []repository.StatementTypeRule
	for i, rule := range c.rules {
		if rule.Extension != doc.Extension || len(c.terms[i]) == 0 {
			continue
		}
		found := 0
		for _, idx := range c.terms[i] {
			if hits[idx] {
				found++
			}
		}
		switch {
		case found == len(c.terms[i]):
			matched = append(matched, rule)
		case found > 0 || companyInFilename(rule.Company, doc.Filename):
			near = append(near, rule)
		}
	}

	switch len(matched) {
	case 1:
		rule := matched[0]
		return &rule, nil
	case 0:
		return nil, &ClassificationError{Reason: NoMatch, Filename: doc.Filename, Extension: doc.Extension, Candidates: near}
	default:
		return nil, &ClassificationError{Reason: Ambiguous, Filename: doc.Filename, Extension: doc.Extension, Candidates: matched}
	}
}

func (c *Classifier) hits(text string) []bool {
	hits := make([]bool, len(c.patterns))
	if c.matcher == nil || text == "" {
		return hits
	}
	for _, idx := range c.matcher.MatchThreadSafe([]byte(strings.ToLower(text))) {
		if idx >= 0 && idx < len(hits) {
			hits[idx] = true
		}
	}
	return hits
}

func companyInFilename(company, filename string) bool {
	company = strings.ReplaceAll(strings.TrimSpace(company), " ", "")
	if company == "" || filename == "" {
		return false
	}
	return fuzzy.MatchNormalizedFold(company, filename)
}
