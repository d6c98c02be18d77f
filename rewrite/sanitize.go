package rewrite

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

type escapedScriptStage struct{}

func (escapedScriptStage) Name() string { return "escaped-script" }

// Apply handles divs whose only child is text that is itself serialized
// markup. Embedded script and iframe tags are stripped and the remainder is
// kept as text.
func (escapedScriptStage) Apply(d *Document) {
	for _, div := range d.FindIn(d.scope(), "div") {
		t, ok := singleText(div)
		if !ok {
			continue
		}
		raw := html.UnescapeString(t.Data)
		if !strings.Contains(raw, "<") {
			continue
		}
		if out, changed := stripEmbedded(raw); changed {
			t.Data = out
		}
	}
}

func stripEmbedded(raw string) (string, bool) {
	ctx := element(atom.Div)
	nodes, err := html.ParseFragment(strings.NewReader(raw), ctx)
	if err != nil {
		return "", false
	}
	changed := false
	var strip func(*html.Node)
	strip = func(n *html.Node) {
		for c := n.FirstChild; c != nil; {
			next := c.NextSibling
			if isTag(c, atom.Script) || isTag(c, atom.Iframe) {
				n.RemoveChild(c)
				changed = true
			} else {
				strip(c)
			}
			c = next
		}
	}
	var buf bytes.Buffer
	for _, n := range nodes {
		if isTag(n, atom.Script) || isTag(n, atom.Iframe) {
			changed = true
			continue
		}
		strip(n)
		if err := html.Render(&buf, n); err != nil {
			return "", false
		}
	}
	return buf.String(), changed
}

type staleMetadataStage struct{}

func (staleMetadataStage) Name() string { return "stale-metadata" }

func (staleMetadataStage) Apply(d *Document) {
	d.removePostedDates()
	d.removeDeclarations()
	d.removeFooterBoilerplate()
}

func (d *Document) removePostedDates() {
	v := d.Vocab()
	for _, t := range textNodes(d.Root) {
		if containsAny(t.Data, v.PostedMarkers) && d.removable(t.Parent) {
			d.Remove(t.Parent)
		}
	}
	for _, class := range v.PostedClasses {
		for _, n := range d.Find("." + class) {
			d.Remove(n)
		}
	}
	markers := append(append([]string{}, v.PostedMarkers...), v.DurationMarkers...)
	for _, span := range d.Find("span[style]") {
		if containsAny(attrOr(span, "style", ""), v.GrayStyles) && containsAny(textOf(span), markers) {
			d.Remove(span)
		}
	}
}

func (d *Document) removeDeclarations() {
	v := d.Vocab()
	for c := d.Root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.DoctypeNode {
			continue
		}
		decl := c.Data
		if pub, ok := attr(c, "public"); ok && pub != "" {
			decl += ` PUBLIC "` + pub + `"`
		}
		if sys, ok := attr(c, "system"); ok && sys != "" {
			decl += ` "` + sys + `"`
		}
		if containsAny(decl, v.DoctypePatterns) {
			d.Remove(c)
		}
	}
	for _, t := range textNodes(d.Root) {
		if containsAny(strings.TrimSpace(t.Data), v.DoctypePatterns) {
			d.Remove(t)
		}
	}
	for _, n := range d.Find("div, span, p") {
		t := strings.TrimSpace(textOf(n))
		if containsAny(t, v.DoctypePatterns) && runeLen(t) < 200 {
			d.Remove(n)
		}
	}
}

// removeFooterBoilerplate drops short legal and location blurbs. The length
// and indicator checks keep genuine results that mention the same words.
func (d *Document) removeFooterBoilerplate() {
	v := d.Vocab()
	for _, div := range d.Find("div") {
		t := strings.ToLower(strings.TrimSpace(textOf(div)))
		if !containsAny(t, v.FooterKeywords) || runeLen(t) >= 200 {
			continue
		}
		if containsAny(t, v.ResultIndicators) || underHeader(div) || !d.removable(div) {
			continue
		}
		d.Remove(div)
	}
	for _, a := range d.Find("a") {
		if !containsAny(strings.ToLower(textOf(a)), v.LegalLinkWords) {
			continue
		}
		parent := a.Parent
		pt := strings.TrimSpace(textOf(parent))
		if runeLen(pt) < 100 && !containsAny(strings.ToLower(pt), v.ResultIndicators) && d.removable(parent) {
			d.Remove(parent)
		} else {
			d.Remove(a)
		}
	}
}

// removable guards the document skeleton and the main container.
func (d *Document) removable(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode || n == d.Main {
		return false
	}
	switch n.DataAtom {
	case atom.Html, atom.Head, atom.Body:
		return false
	}
	return true
}

func underHeader(n *html.Node) bool {
	for a := n.Parent; a != nil; a = a.Parent {
		for _, c := range classes(a) {
			if strings.Contains(strings.ToLower(c), "header") {
				return true
			}
		}
	}
	return false
}
