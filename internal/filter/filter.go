// Package filter decides whether chat text is admissible, on the
// ingress path before persistence and on the egress path after
// generation. Matching is done against a blocklist with normalisation
// that defeats spacing and leetspeak evasion; any internal failure
// blocks the text.
package filter

import (
	"bufio"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/pkg/errors"
)

// Filter is the admissibility check used by the coordinator and the
// transport send path. The boolean is false when the text is blocked.
type Filter interface {
	FilterInput(s string) (string, bool)
	FilterOutput(s string) (string, bool)
}

// leetMap holds the fixed substitutions applied after separator
// stripping. Separators are removed first, so '|' rarely survives to
// this stage.
var leetMap = map[rune]rune{
	'0': 'o',
	'1': 'i',
	'3': 'e',
	'4': 'a',
	'5': 's',
	'7': 't',
	'8': 'b',
	'@': 'a',
	'$': 's',
	'|': 'l',
}

// injectionPatterns are egress-only rejections: prompt-injection
// artifacts must never reach chat.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+previous\s+instructions`),
	regexp.MustCompile(`(?i)system\s*:`),
	regexp.MustCompile(`(?i)assistant\s*:`),
	regexp.MustCompile(`(?i)user\s*:`),
	regexp.MustCompile(`(?i)prompt\s*:`),
	regexp.MustCompile(`<\|.*?\|>`),
}

// impersonationPattern catches generated output that opens like
// another user speaking ("@name: ..." or "name: ...").
var impersonationPattern = regexp.MustCompile(`^\s*@?\w+\s*:`)

type rule struct {
	lowered    string // original rule, lowercased
	normalized string // evasion-normalised form
}

// ContentFilter matches inputs against a newline-delimited blocklist
// file. Safe for concurrent use; Reload swaps the rule set atomically.
type ContentFilter struct {
	mu     sync.RWMutex
	rules  []rule
	path   string
	logger *slog.Logger
}

// New loads the blocklist from path. A missing file logs a warning and
// yields an empty rule set rather than failing startup.
func New(path string, logger *slog.Logger) *ContentFilter {
	if logger == nil {
		logger = slog.Default()
	}
	f := &ContentFilter{path: path, logger: logger}
	if err := f.Reload(); err != nil {
		logger.Warn("blocked words file not loaded", "path", path, "error", err)
	}
	return f
}

// Reload re-reads the blocklist file. Comment lines (#) and blanks are
// ignored.
func (f *ContentFilter) Reload() error {
	file, err := os.Open(f.path)
	if err != nil {
		return errors.Wrapf(err, "failed to open blocked words file %s", f.path)
	}
	defer file.Close()

	var rules []rule
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lowered := strings.ToLower(line)
		normalized := Normalize(lowered)
		if normalized == "" {
			continue
		}
		rules = append(rules, rule{lowered: lowered, normalized: normalized})
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "failed to read blocked words file")
	}

	f.mu.Lock()
	f.rules = rules
	f.mu.Unlock()
	f.logger.Info("blocked words loaded", "path", f.path, "rules", len(rules))
	return nil
}

// RuleCount reports the number of loaded rules.
func (f *ContentFilter) RuleCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.rules)
}

// Normalize computes the evasion-resistant form of text: lowercase,
// separator characters stripped, leetspeak substituted, everything
// outside a-z dropped. "b4d w0rd" and "badword" normalise equally.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if isSeparator(r) {
			continue
		}
		if sub, ok := leetMap[r]; ok {
			r = sub
		}
		if r >= 'a' && r <= 'z' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isSeparator(r rune) bool {
	if unicode.IsSpace(r) {
		return true
	}
	switch r {
	case '.', '_', '-', '*', '+', '=', '|', '\\', '/', '<', '>':
		return true
	}
	return false
}

// FilterInput checks an incoming chat message. Blocked messages must
// not be stored. Empty strings pass through.
func (f *ContentFilter) FilterInput(s string) (out string, ok bool) {
	// Fail closed: a panic anywhere in matching blocks the text.
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("input filter panicked, blocking", "panic", r)
			out, ok = "", false
		}
	}()

	if s == "" {
		return s, true
	}
	if f.matchesBlocklist(s) {
		f.logger.Warn("input blocked by content filter", "length", len(s))
		return "", false
	}
	if hasEvasionShape(s) {
		f.logger.Warn("input blocked by evasion heuristics", "length", len(s))
		return "", false
	}
	return s, true
}

// FilterOutput checks generated text before it is sent. On top of the
// blocklist it rejects prompt-injection artifacts and impersonation
// openings. Empty strings pass through.
func (f *ContentFilter) FilterOutput(s string) (out string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("output filter panicked, blocking", "panic", r)
			out, ok = "", false
		}
	}()

	if s == "" {
		return s, true
	}
	if f.matchesBlocklist(s) {
		f.logger.Warn("output blocked by content filter", "length", len(s))
		return "", false
	}
	if hasEvasionShape(s) {
		f.logger.Warn("output blocked by evasion heuristics", "length", len(s))
		return "", false
	}
	for _, p := range injectionPatterns {
		if p.MatchString(s) {
			f.logger.Warn("output blocked by injection guard")
			return "", false
		}
	}
	if impersonationPattern.MatchString(s) {
		f.logger.Warn("output blocked by impersonation guard")
		return "", false
	}
	return s, true
}

// matchesBlocklist reports whether any rule hits the lowered input
// with word-boundary semantics, or its normalised form by containment.
// Normalisation collapses the separators that carried the boundaries,
// so "this is b4dw0rd here" becomes "thisisbadwordhere" and only a
// containment check can still see the rule; "badger" stays clean
// against a "bad" rule because the lowered scan keeps its boundaries.
func (f *ContentFilter) matchesBlocklist(s string) bool {
	lowered := strings.ToLower(s)
	normalized := Normalize(s)

	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, r := range f.rules {
		if containsBounded(lowered, r.lowered) || strings.Contains(normalized, r.normalized) {
			return true
		}
	}
	return false
}

// containsBounded reports whether needle occurs in haystack with
// non-word characters (or string edges) on both sides. This is the
// lookaround boundary from the rule set expressed as an index scan,
// which also covers multi-word rules.
func containsBounded(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	for from := 0; ; {
		i := strings.Index(haystack[from:], needle)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(needle)
		beforeOK := start == 0 || !isWordByte(haystack[start-1])
		afterOK := end == len(haystack) || !isWordByte(haystack[end])
		if beforeOK && afterOK {
			return true
		}
		from = start + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9')
}

// hasEvasionShape applies the two structural heuristics: mostly
// alternating case on longer strings, and symbol-heavy strings.
func hasEvasionShape(s string) bool {
	runes := []rune(s)

	if len(runes) > 6 {
		alternating := 0
		for i := 0; i < len(runes)-1; i++ {
			if unicode.IsLower(runes[i]) != unicode.IsLower(runes[i+1]) {
				alternating++
			}
		}
		if float64(alternating) > float64(len(runes))*0.8 {
			return true
		}
	}

	symbols := 0
	for _, r := range runes {
		if !isWordRune(r) && !unicode.IsSpace(r) {
			symbols++
		}
	}
	if len(runes) > 0 && float64(symbols)/float64(len(runes)) > 0.6 {
		return true
	}
	return false
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Noop passes everything through. Used when the content filter is
// disabled by configuration.
type Noop struct{}

func (Noop) FilterInput(s string) (string, bool)  { return s, true }
func (Noop) FilterOutput(s string) (string, bool) { return s, true }
