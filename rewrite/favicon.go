package rewrite

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"searchveil/classmap"
)

const (
	FaviconClass    = "site-favicon"
	HasFaviconClass = "has-favicon"
	faviconDepth    = 10
)

type faviconStage struct{}

func (faviconStage) Name() string { return "favicons" }

func (faviconStage) Apply(d *Document) {
	if !d.Ctx.Config.Favicons {
		return
	}
	for _, a := range d.Find("a[href]") {
		d.addFavicon(a)
	}
}

func (d *Document) addFavicon(a *html.Node) {
	if a.Parent == nil {
		return
	}
	dest := d.destination(attrOr(a, "href", ""))
	if !strings.HasPrefix(dest, "http") || containsAny(dest, d.Vocab().UnsupportedPages) {
		return
	}
	if prev := prevElement(a); prev != nil && isTag(prev, atom.Img) && hasClass(prev, FaviconClass) {
		return
	}
	if runeLen(strings.TrimSpace(textOf(a))) < 3 {
		return
	}
	u, err := url.Parse(dest)
	if err != nil || u.Host == "" {
		return
	}

	target := a.Parent
	depth := 0
	for cur := a.Parent; cur != nil && cur.Type == html.ElementNode && depth < faviconDepth; cur = cur.Parent {
		if hasClass(cur, HasFaviconClass) {
			return
		}
		if isResultContainer(cur) {
			target = cur
			break
		}
		depth++
	}

	src, ok := d.elementURL(u.Scheme+"://"+u.Host+"/favicon.ico", "image/x-icon", "")
	if !ok {
		return
	}
	img := element(atom.Img,
		html.Attribute{Key: "class", Val: FaviconClass},
		html.Attribute{Key: "src", Val: src},
		html.Attribute{Key: "alt", Val: ""},
	)
	a.Parent.InsertBefore(img, a)
	addClass(target, HasFaviconClass)
}

func isResultContainer(n *html.Node) bool {
	for _, c := range classes(n) {
		if c == classmap.ResultA || c == classmap.MobileResult || strings.Contains(strings.ToLower(c), "result") {
			return true
		}
	}
	return false
}

func prevElement(n *html.Node) *html.Node {
	for c := n.PrevSibling; c != nil; c = c.PrevSibling {
		if c.Type == html.ElementNode {
			return c
		}
		if c.Type == html.TextNode && strings.TrimSpace(c.Data) != "" {
			return nil
		}
	}
	return nil
}
