package threat

import "regexp"

// PatternFamily groups related attack signatures. Families are checked in
// order and every matching pattern is reported, so diagnostics show the full
// shape of a hostile payload rather than the first hit.
type PatternFamily string

const (
	FamilySQLKeyword  PatternFamily = "sql_keyword"
	FamilySQLComment  PatternFamily = "sql_comment"
	FamilySQLBoolean  PatternFamily = "sql_boolean"
	FamilyMarkup      PatternFamily = "markup_injection"
	FamilyScriptEvent PatternFamily = "script_event"
)

// SQL reports whether matches from this family indicate injection against the
// database rather than the page.
func (f PatternFamily) SQL() bool {
	switch f {
	case FamilySQLKeyword, FamilySQLComment, FamilySQLBoolean:
		return true
	}
	return false
}

// pattern is one named, compiled signature.
type pattern struct {
	Name   string
	Family PatternFamily
	Regex  *regexp.Regexp
}

// defaultPatterns is the ordered signature set. Order is part of the detector
// contract: MatchedPatterns always comes back in this order, which keeps
// classification deterministic and diffable across runs.
var defaultPatterns = []pattern{
	{
		Name:   "sql_control_keywords",
		Family: FamilySQLKeyword,
		Regex:  regexp.MustCompile(`(?i)\b(union\s+(all\s+)?select|select\s+.+\s+from|insert\s+into|update\s+\w+\s+set|delete\s+from|drop\s+(table|database)|alter\s+table|truncate\s+table|exec(ute)?\s*\()`),
	},
	{
		Name:   "sql_comment_terminator",
		Family: FamilySQLComment,
		// Bare "--" shows up in ordinary prose, so the terminator must follow
		// a quote or number the way it does when closing off an injection.
		Regex:  regexp.MustCompile(`(?i)(['\d]\s*--|/\*|\*/|;\s*(select|insert|update|delete|drop)\b)`),
	},
	{
		Name:   "sql_boolean_injection",
		Family: FamilySQLBoolean,
		Regex:  regexp.MustCompile(`(?i)('\s*(or|and)\s+('?\d+'?\s*=\s*'?\d+'?|true|'[^']*'\s*=\s*'[^']*')|\b(or|and)\s+\d+\s*=\s*\d+\b)`),
	},
	{
		Name:   "markup_injection",
		Family: FamilyMarkup,
		Regex:  regexp.MustCompile(`(?i)(<\s*script|<\s*iframe|<\s*object|<\s*embed|javascript\s*:|vbscript\s*:|data\s*:\s*text/html)`),
	},
	{
		Name:   "script_event_handler",
		Family: FamilyScriptEvent,
		Regex:  regexp.MustCompile(`(?i)\bon(load|error|click|mouseover|focus|submit)\s*=`),
	},
}
