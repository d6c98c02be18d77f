package rewrite

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// WindowOptions tunes RelinkWindow.
type WindowOptions struct {
	// NoJS drops scripts instead of relinking them and marks window links.
	NoJS bool
}

var windowSourceAttrs = []string{"src", "href", "srcset", "data-srcset", "data-src"}

// RelinkWindow prepares an arbitrary third-party page for the anonymous view:
// root-relative references are made absolute against pageURL, scripts, images
// and stylesheets go through the element endpoint, every anchor opens in the
// anonymous view and iframes are dropped.
func (p *Pipeline) RelinkWindow(root *html.Node, pageURL string, ctx Context, key []byte, opts WindowOptions) Stats {
	ctx.PageURL = pageURL
	d := newDocument(p, root, ctx, key)

	if u, err := url.Parse(pageURL); err == nil && u.Host != "" {
		hostURL := u.Scheme + "://" + u.Host
		for _, n := range d.Find("*") {
			for _, name := range windowSourceAttrs {
				v, ok := attr(n, name)
				if ok && strings.HasPrefix(v, "/") && !strings.HasPrefix(v, "//") {
					setAttr(n, name, hostURL+v)
				}
			}
		}
	}

	for _, s := range d.Find("script[src]") {
		if opts.NoJS {
			d.Remove(s)
			continue
		}
		d.relinkAttr(s, "src", "application/javascript")
	}
	for _, img := range d.Find("img") {
		for _, name := range []string{"src", "data-src", "data-srcset", "srcset"} {
			if _, ok := attr(img, name); ok {
				d.relinkAttr(img, name, "image/png")
			}
		}
	}
	for _, link := range d.Find("link[href]") {
		d.relinkAttr(link, "href", "text/css")
	}

	suffix := ""
	if opts.NoJS {
		suffix = "&nojs=1"
	}
	for _, a := range d.Find("a[href]") {
		href := strings.TrimSpace(attrOr(a, "href", ""))
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			continue
		}
		tok, ok := d.shield(d.absolute(href))
		if !ok {
			delAttr(a, "href")
			continue
		}
		setAttr(a, "href", ctx.endpoint("window")+"?location="+tok+suffix)
		setAttr(a, "rel", LinkRel)
	}

	for _, f := range d.Find("iframe") {
		d.Remove(f)
	}
	d.sweep()
	d.stats.Stages = []string{"window"}
	return d.stats
}

// FirstLink returns the first absolute outbound link of a sanitized page.
func FirstLink(root *html.Node) (string, bool) {
	var found string
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.Data == "a" && !hasClass(c, AnonViewClass) {
				if href, ok := attr(c, "href"); ok && strings.HasPrefix(href, "http") {
					found = href
					return true
				}
			}
			if walk(c) {
				return true
			}
		}
		return false
	}
	if root == nil {
		return "", false
	}
	return found, walk(root)
}
