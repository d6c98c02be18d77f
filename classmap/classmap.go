// Package classmap translates the volatile class vocabulary of upstream result
// pages into a small set of stable names used by the rewrite stages and the
// proxy's static stylesheet.
package classmap

import (
	"sort"
	"strconv"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// Stable class names.
const (
	ResultA      = "ZINbbc"
	ResultB      = "luh4td"
	MobileResult = "ezO2md"
	MainTab      = "KP7LCb"
	ImagesTab    = "n692Zd"
	Footer       = "TuS8Ad"
	Line         = "BsXmcf"
	Scroller     = "idg8be"
)

// DefaultAliases lists the volatile names currently observed for each stable name.
func DefaultAliases() map[string][]string {
	return map[string][]string{
		ResultA: {"Gx5Zad"},
		ResultB: {"fP1Qef"},
	}
}

// Map is an immutable stable/volatile lookup table. Safe for concurrent use.
type Map struct {
	toStable map[string]string
	aliases  map[string][]string
	sel      cascadia.Matcher
}

// Default returns a Map built from DefaultAliases.
func Default() *Map {
	return New(DefaultAliases())
}

// New builds a Map from stable name to volatile aliases. The input is copied.
// An alias claimed by two stable names resolves to the lexically first one.
func New(aliases map[string][]string) *Map {
	m := &Map{
		toStable: make(map[string]string),
		aliases:  make(map[string][]string, len(aliases)),
	}
	stables := make([]string, 0, len(aliases))
	for stable := range aliases {
		stables = append(stables, stable)
	}
	sort.Strings(stables)

	var sels []string
	for _, stable := range stables {
		for _, alias := range aliases[stable] {
			alias = strings.TrimSpace(alias)
			if alias == "" || alias == stable {
				continue
			}
			if _, taken := m.toStable[alias]; taken {
				continue
			}
			m.toStable[alias] = stable
			m.aliases[stable] = append(m.aliases[stable], alias)
			sels = append(sels, "[class~="+strconv.Quote(alias)+"]")
		}
	}
	if len(sels) > 0 {
		if sel, err := cascadia.ParseGroup(strings.Join(sels, ",")); err == nil {
			m.sel = sel
		} else {
			m.sel = cascadia.MustCompile("[class]")
		}
	}
	return m
}

// Stable returns the stable name for a volatile class, if one is known.
func (m *Map) Stable(volatile string) (string, bool) {
	s, ok := m.toStable[volatile]
	return s, ok
}

// Aliases returns a copy of the volatile names recognised for stable.
func (m *Map) Aliases(stable string) []string {
	return append([]string(nil), m.aliases[stable]...)
}

// CanonicalizeClass rewrites one class attribute value. Alias tokens become
// their stable name, other tokens keep their order, and a stable name is
// never emitted twice.
func (m *Map) CanonicalizeClass(attr string) string {
	fields := strings.Fields(attr)
	if len(fields) == 0 {
		return attr
	}
	changed := false
	seen := make(map[string]bool, len(fields))
	out := fields[:0:0]
	for _, tok := range fields {
		if stable, ok := m.toStable[tok]; ok {
			tok = stable
			changed = true
		}
		if _, isStable := m.aliases[tok]; isStable {
			if seen[tok] {
				changed = true
				continue
			}
			seen[tok] = true
		}
		out = append(out, tok)
	}
	if !changed {
		return attr
	}
	return strings.Join(out, " ")
}

// Canonicalize rewrites class attributes under root in place. It never fails;
// a tree without aliased elements is left untouched.
func (m *Map) Canonicalize(root *html.Node) int {
	if root == nil || m.sel == nil {
		return 0
	}
	n := 0
	for _, el := range cascadia.QueryAll(root, m.sel) {
		for i := range el.Attr {
			if el.Attr[i].Namespace != "" || el.Attr[i].Key != "class" {
				continue
			}
			if v := m.CanonicalizeClass(el.Attr[i].Val); v != el.Attr[i].Val {
				el.Attr[i].Val = v
				n++
			}
		}
	}
	return n
}
