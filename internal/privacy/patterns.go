package privacy

import (
	"log/slog"
	"regexp"
	"strings"
)

// Level selects which pattern subset is applied before egress.
type Level int

const (
	LevelOff Level = iota
	LevelBasic
	LevelStandard
	LevelStrict
)

// ParseLevel maps a config string to a Level. Unknown values fall back to
// standard, the default for any remote provider.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "off":
		return LevelOff
	case "basic":
		return LevelBasic
	case "strict":
		return LevelStrict
	default:
		return LevelStandard
	}
}

func (l Level) String() string {
	switch l {
	case LevelOff:
		return "off"
	case LevelBasic:
		return "basic"
	case LevelStrict:
		return "strict"
	default:
		return "standard"
	}
}

// pattern is one redaction rule. precheck is a cheap substring gate that
// skips the regex on text that cannot match; empty means always run.
type pattern struct {
	kind     string // placeholder label, e.g. "EMAIL"
	minLevel Level
	precheck string
	source   string
	re       *regexp.Regexp
	broken   bool // compile failed; pattern is skipped
}

// Patterns are ordered most-specific first so an SSN is not half-consumed
// by the looser phone or ZIP rules.
var patterns = []*pattern{
	{kind: "EMAIL", minLevel: LevelBasic, precheck: "@",
		source: `[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`},
	{kind: "SSN", minLevel: LevelBasic, precheck: "-",
		source: `\b\d{3}-\d{2}-\d{4}\b`},
	{kind: "CARD", minLevel: LevelBasic,
		source: `\b\d{4}[- ]?\d{4}[- ]?\d{4}[- ]?\d{4}\b`},
	{kind: "PHONE", minLevel: LevelBasic,
		source: `\b(?:\+?1[-. ]?)?\(?\d{3}\)?[-. ]?\d{3}[-. ]?\d{4}\b`},
	{kind: "MRN", minLevel: LevelStandard, precheck: "mrn",
		source: `(?i)\bmrn\s*[:#]?\s*\d{5,10}\b`},
	{kind: "ROUTING", minLevel: LevelStandard, precheck: "routing",
		source: `(?i)\brouting\s*(?:#|no\.?|number)?\s*[:#]?\s*\d{9}\b`},
	{kind: "ACCOUNT", minLevel: LevelStandard, precheck: "acc",
		source: `(?i)\b(?:account|acct)\s*(?:#|no\.?|number)?\s*[:#]?\s*\d{6,17}\b`},
	{kind: "IP", minLevel: LevelStandard, precheck: ".",
		source: `\b(?:\d{1,3}\.){3}\d{1,3}\b`},
	{kind: "ADDRESS", minLevel: LevelStandard,
		source: `\b\d{1,5}\s+(?:[A-Z][a-z]+\s)*[A-Z][a-z]+\s(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Drive|Dr|Lane|Ln|Court|Ct|Place|Pl|Way)\b\.?`},
	{kind: "ZIP", minLevel: LevelStandard,
		source: `\b\d{5}(?:-\d{4})?\b`},
	{kind: "NAME", minLevel: LevelStrict,
		source: `\b[A-Z][a-z]+ [A-Z][a-z]+\b`},
}

// compiled reports whether the pattern regex is usable, compiling it on
// first use. A compile failure logs once and disables the pattern; filter
// misconfiguration never blocks a request.
func (p *pattern) compiled() bool {
	if p.broken {
		return false
	}
	if p.re != nil {
		return true
	}
	re, err := regexp.Compile(p.source)
	if err != nil {
		slog.Warn("privacy pattern failed to compile, skipping",
			"kind", p.kind, "error", err)
		p.broken = true
		return false
	}
	p.re = re
	return true
}

func (p *pattern) applies(text string, level Level) bool {
	if level < p.minLevel {
		return false
	}
	if p.precheck != "" && !strings.Contains(strings.ToLower(text), p.precheck) {
		return false
	}
	return p.compiled()
}
