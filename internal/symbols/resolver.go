package symbols

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNotResolved means no tradable instrument matched the provider symbol
var ErrNotResolved = errors.New("symbol could not be resolved to a tradable instrument")

// Mode selects which resolution strategies run
type Mode string

const (
	ModeStrictExact Mode = "strict-exact"
	ModeManualList  Mode = "manual-list"
	ModeMetalsAlias Mode = "metals-alias"
	ModePrefixMatch Mode = "prefix-match"
	ModeSuffixStrip Mode = "suffix-strip"
	ModeAuto        Mode = "auto-fallback" // all strategies, in priority order
)

// prefixLen is how many normalized characters the prefix strategy compares
const prefixLen = 6

// metalAliases maps bullion codes between vendor naming schemes. Checked in
// both directions so either convention can appear on the provider side.
var metalAliases = map[string]string{
	"GOLD":   "XAUUSD",
	"SILVER": "XAGUSD",
	"XAUUSD": "GOLD",
	"XAGUSD": "SILVER",
}

// Resolver maps provider instrument identifiers to tradable venue symbols.
// Resolution is deterministic for a given mode and instrument universe.
type Resolver struct {
	mode     Mode
	aliases  map[string]string // provider symbol -> venue symbol, upper-cased
	universe map[string]string // upper-cased symbol -> venue symbol
	sorted   []string          // venue symbols, sorted, for stable iteration
}

// NewResolver builds a resolver over the given tradable instrument universe.
// Manual aliases are optional and only consulted in manual-list and auto
// modes.
func NewResolver(mode Mode, tradable []string, manualAliases map[string]string) *Resolver {
	r := &Resolver{
		mode:     mode,
		aliases:  make(map[string]string, len(manualAliases)),
		universe: make(map[string]string, len(tradable)),
	}
	for from, to := range manualAliases {
		r.aliases[strings.ToUpper(from)] = to
	}
	for _, s := range tradable {
		r.universe[strings.ToUpper(s)] = s
	}
	r.sorted = make([]string, 0, len(tradable))
	r.sorted = append(r.sorted, tradable...)
	sort.Strings(r.sorted)
	return r
}

// Resolve returns the tradable venue symbol for a provider identifier, or
// ErrNotResolved when no strategy produces a match.
func (r *Resolver) Resolve(provider string) (string, error) {
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return "", fmt.Errorf("empty provider symbol: %w", ErrNotResolved)
	}

	type strategy func(string) (string, bool)
	var ladder []strategy

	switch r.mode {
	case ModeStrictExact:
		ladder = []strategy{r.exact}
	case ModeManualList:
		ladder = []strategy{r.exact, r.manual}
	case ModeMetalsAlias:
		ladder = []strategy{r.exact, r.metals}
	case ModePrefixMatch:
		ladder = []strategy{r.exact, r.prefix}
	case ModeSuffixStrip:
		ladder = []strategy{r.exact, r.suffixStrip}
	default: // auto-fallback
		ladder = []strategy{r.exact, r.manual, r.metals, r.prefix, r.suffixStrip}
	}

	for _, try := range ladder {
		if symbol, ok := try(provider); ok {
			return symbol, nil
		}
	}
	return "", fmt.Errorf("no match for %q: %w", provider, ErrNotResolved)
}

// exact is a case-insensitive match against the tradable universe
func (r *Resolver) exact(provider string) (string, bool) {
	s, ok := r.universe[strings.ToUpper(provider)]
	return s, ok
}

// manual consults the configured alias table, then requires the target to be
// tradable
func (r *Resolver) manual(provider string) (string, bool) {
	target, ok := r.aliases[strings.ToUpper(provider)]
	if !ok {
		return "", false
	}
	return r.exact(target)
}

// metals tries the fixed bullion alias set
func (r *Resolver) metals(provider string) (string, bool) {
	target, ok := metalAliases[strings.ToUpper(provider)]
	if !ok {
		return "", false
	}
	return r.exact(target)
}

// prefix compares the first prefixLen normalized alphanumeric characters
// against every tradable instrument, taking the first match in sorted order
func (r *Resolver) prefix(provider string) (string, bool) {
	want := normalize(provider)
	if len(want) < prefixLen {
		return "", false
	}
	want = want[:prefixLen]
	for _, candidate := range r.sorted {
		got := normalize(candidate)
		if len(got) >= prefixLen && got[:prefixLen] == want {
			return candidate, true
		}
	}
	return "", false
}

// suffixStrip drops anything after a separator character and retries exact
// matching, so "EURUSD.raw" or "EURUSD_pro" can land on "EURUSD"
func (r *Resolver) suffixStrip(provider string) (string, bool) {
	cut := strings.IndexAny(provider, "._-#!")
	if cut <= 0 {
		return "", false
	}
	return r.exact(provider[:cut])
}

// normalize upper-cases and keeps only alphanumerics
func normalize(s string) string {
	var b strings.Builder
	for _, c := range strings.ToUpper(s) {
		if (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			b.WriteRune(c)
		}
	}
	return b.String()
}
