package rewrite

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/text/cases"

	"searchveil/shield"
)

// Document is the per-call state of one pipeline run. Stages never detach
// nodes directly: they mark them with Remove and the pipeline compacts the
// tree between stages, so a traversal in progress never sees a node vanish.
type Document struct {
	Root *html.Node
	// Main is the primary results container, nil on non-result pages.
	Main *html.Node
	Ctx  Context

	p      *Pipeline
	codec  *shield.Codec
	query  *goquery.Document
	fold   cases.Caser
	log    *zap.Logger
	marked map[*html.Node]bool
	order  []*html.Node
	av     map[string]bool

	blockTitle *regexp.Regexp
	blockURL   *regexp.Regexp

	stats Stats
}

func newDocument(p *Pipeline, root *html.Node, ctx Context, key []byte) *Document {
	d := &Document{
		Root:   root,
		Ctx:    ctx,
		p:      p,
		codec:  shield.NewCodec(key),
		query:  goquery.NewDocumentFromNode(root),
		fold:   cases.Fold(),
		log:    p.logger,
		marked: make(map[*html.Node]bool),
		av:     make(map[string]bool),
	}
	d.Main = first(d.query.Find("div#main"))
	d.blockTitle = d.compile("block_title", ctx.Config.BlockTitle)
	d.blockURL = d.compile("block_url", ctx.Config.BlockURL)
	return d
}

func (d *Document) compile(name, expr string) *regexp.Regexp {
	if expr == "" {
		return nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		d.log.Debug("ignoring invalid block expression", zap.String("setting", name), zap.Error(err))
		return nil
	}
	return re
}

// Vocab returns the active vocabulary.
func (d *Document) Vocab() *Vocabulary { return d.p.vocab }

// Remove marks n for deletion at the end of the current stage.
func (d *Document) Remove(n *html.Node) {
	if n == nil || d.marked[n] {
		return
	}
	d.marked[n] = true
	d.order = append(d.order, n)
}

// Gone reports whether n or one of its ancestors is marked or already detached.
func (d *Document) Gone(n *html.Node) bool {
	for c := n; c != nil; c = c.Parent {
		if d.marked[c] {
			return true
		}
		if c.Parent == nil && c != d.Root {
			return true
		}
	}
	return false
}

// sweep detaches marked nodes. Nodes inside an already marked subtree go with
// their ancestor.
func (d *Document) sweep() int {
	n := 0
	for _, node := range d.order {
		under := false
		for a := node.Parent; a != nil; a = a.Parent {
			if d.marked[a] {
				under = true
				break
			}
		}
		if !under && node.Parent != nil {
			node.Parent.RemoveChild(node)
			n++
		}
	}
	d.marked = make(map[*html.Node]bool)
	d.order = d.order[:0]
	d.stats.Removed += n
	return n
}

// Find returns live elements matching sel anywhere in the document.
func (d *Document) Find(sel string) []*html.Node {
	return d.live(d.query.Find(sel).Nodes)
}

// FindIn returns live descendants of n matching sel.
func (d *Document) FindIn(n *html.Node, sel string) []*html.Node {
	if n == nil {
		return nil
	}
	return d.live(goquery.NewDocumentFromNode(n).Find(sel).Nodes)
}

func (d *Document) live(nodes []*html.Node) []*html.Node {
	out := nodes[:0]
	for _, n := range nodes {
		if !d.Gone(n) {
			out = append(out, n)
		}
	}
	return out
}

// results returns the result containers: element children of the main container.
func (d *Document) results() []*html.Node {
	if d.Main == nil {
		return nil
	}
	var out []*html.Node
	for c := d.Main.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Div && !d.Gone(c) {
			out = append(out, c)
		}
	}
	return out
}

// scope is the main container when present, otherwise the body or root.
func (d *Document) scope() *html.Node {
	if d.Main != nil {
		return d.Main
	}
	if b := first(d.query.Find("body")); b != nil {
		return b
	}
	return d.Root
}

func (d *Document) shield(plain string) (string, bool) {
	tok, err := d.codec.Shield(plain)
	if err != nil {
		d.log.Warn("shield failed", zap.Error(err))
		return "", false
	}
	return tok, true
}

// elementURL relinks src through the proxy element endpoint.
func (d *Document) elementURL(src, mime, attr string) (string, bool) {
	tok, ok := d.shield(src)
	if !ok {
		return "", false
	}
	d.stats.Shielded++
	u := d.Ctx.root() + "/element?url=" + tok + "&type=" + url.QueryEscape(mime)
	if attr != "" && attr != "src" {
		u += "&attr=" + url.QueryEscape(attr)
	}
	return u, true
}

func (d *Document) isRelinked(src string) bool {
	return strings.Contains(src, "/element?url="+shield.Prefix)
}

func (d *Document) foldEq(a, b string) bool {
	return d.fold.String(a) == d.fold.String(b)
}

// DOM helpers.

func first(s *goquery.Selection) *html.Node {
	if s.Length() == 0 {
		return nil
	}
	return s.Nodes[0]
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func attrOr(n *html.Node, key, def string) string {
	if v, ok := attr(n, key); ok {
		return v
	}
	return def
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Namespace == "" && n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func delAttr(n *html.Node, key string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			continue
		}
		out = append(out, a)
	}
	n.Attr = out
}

func classes(n *html.Node) []string {
	return strings.Fields(attrOr(n, "class", ""))
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range classes(n) {
		if c == class {
			return true
		}
	}
	return false
}

func addClass(n *html.Node, class string) {
	if hasClass(n, class) {
		return
	}
	cs := append(classes(n), class)
	setAttr(n, "class", strings.Join(cs, " "))
}

func isTag(n *html.Node, a atom.Atom) bool {
	return n != nil && n.Type == html.ElementNode && n.DataAtom == a
}

// textOf concatenates the text of every descendant text node.
func textOf(n *html.Node) string {
	if n == nil {
		return ""
	}
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		for ; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				b.WriteString(c.Data)
			}
			walk(c.FirstChild)
		}
	}
	walk(n.FirstChild)
	return b.String()
}

// textNodes returns the descendant text nodes of n in document order.
func textNodes(n *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		for ; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				out = append(out, c)
			}
			walk(c.FirstChild)
		}
	}
	if n != nil {
		walk(n.FirstChild)
	}
	return out
}

// singleText returns the only child of n when that child is a text node.
func singleText(n *html.Node) (*html.Node, bool) {
	c := n.FirstChild
	if c == nil || c.NextSibling != nil || c.Type != html.TextNode {
		return nil, false
	}
	return c, true
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func element(a atom.Atom, attrs ...html.Attribute) *html.Node {
	return &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String(), Attr: attrs}
}

func text(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

func insertAfter(ref, n *html.Node) {
	if ref.Parent == nil {
		return
	}
	ref.Parent.InsertBefore(n, ref.NextSibling)
}
