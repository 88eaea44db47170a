// Package router matches request paths against an ordered set of prefix rules
// and dispatches to the matched handler.
package router

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/dashgate/dashgate/telemetry"
)

// MatchKind controls how a rule's prefix is applied.
type MatchKind int

const (
	// MatchPrefixStop matches a literal prefix and, once matched, is never
	// overridden by any plain prefix rule.
	MatchPrefixStop MatchKind = iota

	// MatchPrefix matches a plain prefix; among plain rules the longest
	// prefix wins.
	MatchPrefix
)

// String returns the config-file spelling of the match kind.
func (k MatchKind) String() string {
	switch k {
	case MatchPrefixStop:
		return "prefix-stop"
	case MatchPrefix:
		return "prefix"
	default:
		return "unknown"
	}
}

// ErrNoFallback is returned by New when no catch-all "/" plain prefix rule
// is present. The fallback guarantees every rooted request path matches
// exactly one rule.
var ErrNoFallback = errors.New(`router: missing catch-all "/" rule`)

// Rule binds a path prefix to a handler.
type Rule struct {
	Name    string
	Prefix  string
	Kind    MatchKind
	Handler http.Handler
}

// Table is an immutable routing table. Prefix-stop rules are consulted
// before plain prefix rules; within each kind the longest prefix wins.
type Table struct {
	stop  []Rule // sorted longest prefix first
	plain []Rule // sorted longest prefix first
}

// New validates the rules and builds a table. A "/" plain prefix rule is
// mandatory so the table always produces a match.
func New(rules []Rule) (*Table, error) {
	t := &Table{}
	fallback := false
	for i, r := range rules {
		if !strings.HasPrefix(r.Prefix, "/") {
			return nil, fmt.Errorf("router: rule %d (%s): prefix %q must start with /", i, r.Name, r.Prefix)
		}
		if r.Handler == nil {
			return nil, fmt.Errorf("router: rule %d (%s): nil handler", i, r.Name)
		}
		switch r.Kind {
		case MatchPrefixStop:
			t.stop = append(t.stop, r)
		case MatchPrefix:
			if r.Prefix == "/" {
				fallback = true
			}
			t.plain = append(t.plain, r)
		default:
			return nil, fmt.Errorf("router: rule %d (%s): unknown match kind %d", i, r.Name, r.Kind)
		}
	}
	if !fallback {
		return nil, ErrNoFallback
	}
	byLength := func(rules []Rule) func(i, j int) bool {
		return func(i, j int) bool { return len(rules[i].Prefix) > len(rules[j].Prefix) }
	}
	sort.SliceStable(t.stop, byLength(t.stop))
	sort.SliceStable(t.plain, byLength(t.plain))
	return t, nil
}

// Match returns the single best rule for the path: the longest matching
// prefix-stop rule if any, otherwise the longest matching plain prefix rule.
// The mandatory "/" fallback guarantees a match for any rooted path; Match
// returns nil only for paths that do not start with "/".
func (t *Table) Match(path string) *Rule {
	if r := match(t.stop, path); r != nil {
		return r
	}
	return match(t.plain, path)
}

func match(rules []Rule, path string) *Rule {
	for i := range rules {
		if strings.HasPrefix(path, rules[i].Prefix) {
			return &rules[i]
		}
	}
	return nil
}

// ServeHTTP dispatches the request to the matched rule's handler.
func (t *Table) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rule := t.Match(r.URL.Path)
	if rule == nil {
		// Unreachable for rooted paths; fail closed for anything else.
		http.NotFound(w, r)
		return
	}
	telemetry.SetRoute(r, rule.Name)
	rule.Handler.ServeHTTP(w, r)
}
