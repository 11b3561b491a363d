package imageguard

import (
	"fmt"
	"regexp"
)

// RuleCategory classifies a pattern rule.
type RuleCategory string

const (
	CategoryScript    RuleCategory = "script"
	CategoryMarkup    RuleCategory = "markup"
	CategoryURI       RuleCategory = "uri"
	CategoryHandler   RuleCategory = "event-handler"
	CategoryInjection RuleCategory = "sql"
)

// Rule is a named, compiled detection pattern.
type Rule struct {
	Name     string
	Category RuleCategory
	Pattern  *regexp.Regexp
}

// RuleSpec is the uncompiled form of a Rule, as found in rule files.
type RuleSpec struct {
	Name     string       `yaml:"name"`
	Category RuleCategory `yaml:"category"`
	Pattern  string       `yaml:"pattern"`
}

// Compile builds a case-insensitive Rule.
func (s RuleSpec) Compile() (Rule, error) {
	if s.Pattern == "" {
		return Rule{}, fmt.Errorf("rule %q has an empty pattern", s.Name)
	}
	re, err := regexp.Compile("(?i)" + s.Pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("rule %q: %w", s.Name, err)
	}
	name := s.Name
	if name == "" {
		name = s.Pattern
	}
	return Rule{Name: name, Category: s.Category, Pattern: re}, nil
}

var builtinThreatRules = []RuleSpec{
	{Name: "script-tag", Category: CategoryScript, Pattern: `<script[^>]*>`},
	{Name: "javascript-uri", Category: CategoryURI, Pattern: `javascript:`},
	{Name: "vbscript-uri", Category: CategoryURI, Pattern: `vbscript:`},
	{Name: "html-data-uri", Category: CategoryURI, Pattern: `data:text/html`},
	{Name: "onload-handler", Category: CategoryHandler, Pattern: `onload\s*=`},
	{Name: "onerror-handler", Category: CategoryHandler, Pattern: `onerror\s*=`},
	{Name: "onclick-handler", Category: CategoryHandler, Pattern: `onclick\s*=`},
	{Name: "onmouseover-handler", Category: CategoryHandler, Pattern: `onmouseover\s*=`},
	{Name: "eval-call", Category: CategoryScript, Pattern: `eval\s*\(`},
	{Name: "alert-call", Category: CategoryScript, Pattern: `alert\s*\(`},
	{Name: "confirm-call", Category: CategoryScript, Pattern: `confirm\s*\(`},
	{Name: "prompt-call", Category: CategoryScript, Pattern: `prompt\s*\(`},
	{Name: "document-access", Category: CategoryScript, Pattern: `document\.`},
	{Name: "window-access", Category: CategoryScript, Pattern: `window\.`},
	{Name: "css-expression", Category: CategoryScript, Pattern: `expression\s*\(`},
	{Name: "iframe-tag", Category: CategoryMarkup, Pattern: `<iframe[^>]*>`},
	{Name: "object-tag", Category: CategoryMarkup, Pattern: `<object[^>]*>`},
	{Name: "embed-tag", Category: CategoryMarkup, Pattern: `<embed[^>]*>`},
	{Name: "link-tag", Category: CategoryMarkup, Pattern: `<link[^>]*>`},
	{Name: "meta-tag", Category: CategoryMarkup, Pattern: `<meta[^>]*>`},
}

var builtinInjectionRules = []RuleSpec{
	{Name: "sql-statement", Category: CategoryInjection, Pattern: `\b(SELECT\b.+\bFROM\b|INSERT\s+INTO\b|UPDATE\b.+\bSET\b|DELETE\s+FROM\b|DROP\s+(TABLE|DATABASE)\b|CREATE\s+(TABLE|DATABASE)\b|ALTER\s+TABLE\b|EXEC(UTE)?\s*\(|UNION(\s+ALL)?\s+SELECT\b)`},
	{Name: "sql-tautology", Category: CategoryInjection, Pattern: `\b(OR|AND)\s+\d+\s*=\s*\d+`},
	{Name: "sql-quote-tautology", Category: CategoryInjection, Pattern: "('|\"|`).*\\b(OR|AND)\\b.*(=|LIKE)"},
	{Name: "sql-stacked-query", Category: CategoryInjection, Pattern: `(;|\||&).*\b(DROP|DELETE|INSERT|UPDATE)\b`},
}

// base64Candidate matches runs long enough to smuggle a payload.
var base64Candidate = regexp.MustCompile(`[A-Za-z0-9+/]{20,}={0,2}`)

// PatternSet is an immutable collection of compiled detection rules. A single
// set is shared by every validation that uses it.
type PatternSet struct {
	threats   []Rule
	injection []Rule
}

// NewPatternSet compiles the built-in rules plus any extras. Extras extend the
// built-ins; they can never remove one.
func NewPatternSet(extraThreats, extraInjection []RuleSpec) (*PatternSet, error) {
	threats, err := compileRules(builtinThreatRules, extraThreats)
	if err != nil {
		return nil, err
	}
	injection, err := compileRules(builtinInjectionRules, extraInjection)
	if err != nil {
		return nil, err
	}
	return &PatternSet{threats: threats, injection: injection}, nil
}

// DefaultPatternSet returns the built-in rules.
func DefaultPatternSet() *PatternSet {
	return defaultPatterns
}

var defaultPatterns = mustPatternSet()

func mustPatternSet() *PatternSet {
	ps, err := NewPatternSet(nil, nil)
	if err != nil {
		panic(err)
	}
	return ps
}

func compileRules(groups ...[]RuleSpec) ([]Rule, error) {
	var rules []Rule
	for _, group := range groups {
		for _, rs := range group {
			rule, err := rs.Compile()
			if err != nil {
				return nil, err
			}
			rules = append(rules, rule)
		}
	}
	return rules, nil
}

// MatchThreat returns the first threat rule matching s.
func (p *PatternSet) MatchThreat(s string) (Rule, bool) {
	return firstMatch(p.threats, s)
}

// MatchInjection returns the first injection rule matching s.
func (p *PatternSet) MatchInjection(s string) (Rule, bool) {
	return firstMatch(p.injection, s)
}

// Threats returns the number of threat rules, for diagnostics.
func (p *PatternSet) Threats() int { return len(p.threats) }

// Injections returns the number of injection rules, for diagnostics.
func (p *PatternSet) Injections() int { return len(p.injection) }

func firstMatch(rules []Rule, s string) (Rule, bool) {
	for _, rule := range rules {
		if rule.Pattern.MatchString(s) {
			return rule, true
		}
	}
	return Rule{}, false
}
