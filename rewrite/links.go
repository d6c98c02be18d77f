package rewrite

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"searchveil/classmap"
)

// AnonViewClass marks the alternate view link inserted after a result.
const AnonViewClass = "anon-view"

type anchorStage struct{}

func (anchorStage) Name() string { return "anchors" }

func (anchorStage) Apply(d *Document) {
	for _, a := range d.Find("a[href]") {
		d.relinkAnchor(a)
	}
}

func (d *Document) relinkAnchor(a *html.Node) {
	v := d.Vocab()
	href := attrOr(a, "href", "")

	target := ""
	if strings.Contains(href, "/url?q=") {
		target = extractQ(href)
	} else if u, err := url.Parse(href); err == nil {
		target = u.Host
	}
	if target != "" && containsAny(target, v.UnsupportedPages) {
		setAttr(a, "href", target)
		if containsAny(target, v.UnsupportedResultPages) {
			for p := a.Parent; p != nil; p = p.Parent {
				if hasClass(p, classmap.ResultA) {
					d.Remove(p)
					break
				}
			}
		} else {
			for p := a.Parent; p != nil; p = p.Parent {
				if isTag(p, atom.Footer) || hasClass(p, classmap.Footer) {
					d.Remove(a)
					break
				}
			}
		}
		if d.Gone(a) {
			return
		}
		href = target
	}

	if v.UpstreamOrigin != "" {
		href = strings.ReplaceAll(href, v.UpstreamOrigin, "")
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return
	}
	q := extractQ(href)
	relative := parsed.Host == ""

	switch {
	case strings.HasPrefix(q, "/") && !strings.Contains(d.Ctx.Query, q) && !strings.Contains(href, "spell=1"):
		setAttr(a, "href", v.UpstreamHome+q)
	case v.SignInURL != "" && strings.HasPrefix(q, v.SignInURL):
		d.Remove(a)
		return
	case relative && parsed.Path == "/search" && parsed.Query().Has("q"):
		d.relinkSearch(a, href, q, parsed.Query())
	case relative && parsed.Path == "/url" && q != "":
		dest := d.filterLinkArgs(q)
		setAttr(a, "href", dest)
		if d.Ctx.Config.AnonView {
			if u, err := url.Parse(dest); err == nil && u.Host != "" && !d.av[u.Host] {
				d.av[u.Host] = true
				d.appendAnonView(a, dest)
			}
		}
	default:
		switch {
		case v.MapsURL != "" && strings.HasPrefix(href, v.MapsURL):
			setAttr(a, "href", d.mapURL(href))
		case strings.HasPrefix(href, "/?") || strings.HasPrefix(href, "/search?") || strings.HasPrefix(href, "/imgres?"):
			setAttr(a, "href", href[1:])
		case strings.HasPrefix(href, "/intl/"):
			// terms of service, kept as is
		case strings.HasPrefix(href, "/preferences"):
			d.Remove(a)
			return
		default:
			setAttr(a, "href", href)
		}
	}

	if d.Ctx.Config.NewTab {
		final := attrOr(a, "href", "")
		if strings.HasPrefix(final, "http") || strings.HasPrefix(final, "imgres?") {
			setAttr(a, "target", "_blank")
		}
	}
}

// relinkSearch rebuilds an upstream search link as a proxy search link with a
// shielded query. Only allow-listed parameters survive.
func (d *Document) relinkSearch(a *html.Node, href, q string, params url.Values) {
	if strings.Contains(href, "li:1") {
		q = `"` + q + `"`
	}
	tok, ok := d.shield(q)
	if !ok {
		d.Remove(a)
		return
	}
	var b strings.Builder
	b.WriteString("search?q=")
	b.WriteString(tok)
	for _, p := range d.Vocab().ForwardParams {
		if !params.Has(p) {
			continue
		}
		b.WriteString("&" + p + "=" + url.QueryEscape(params.Get(p)))
	}
	setAttr(a, "href", b.String())
}

func (d *Document) appendAnonView(a *html.Node, dest string) {
	tok, ok := d.shield(dest)
	if !ok {
		return
	}
	av := element(atom.A,
		html.Attribute{Key: "class", Val: AnonViewClass},
		html.Attribute{Key: "href", Val: d.Ctx.endpoint("window") + "?location=" + tok},
	)
	av.AppendChild(text(d.Vocab().AnonViewLabel))
	insertAfter(a, av)
}

// mapURL reduces a maps link to its location argument.
func (d *Document) mapURL(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	q := u.Query()
	for _, arg := range d.Vocab().MapsArgs {
		if v := q.Get(arg); v != "" {
			return d.Vocab().MapsURL + "?q=" + url.QueryEscape(v)
		}
	}
	return href
}

// filterLinkArgs drops tracking parameters from link and keeps the order of
// the rest.
func (d *Document) filterLinkArgs(link string) string {
	u, err := url.Parse(link)
	if err != nil || u.RawQuery == "" {
		return link
	}
	var kept []string
	for _, pair := range strings.Split(u.RawQuery, "&") {
		if pair == "" {
			continue
		}
		key := pair
		if i := strings.IndexByte(pair, '='); i >= 0 {
			key = pair[:i]
		}
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}
		if d.isTrackingParam(key) {
			continue
		}
		kept = append(kept, pair)
	}
	u.RawQuery = strings.Join(kept, "&")
	u.ForceQuery = false
	return u.String()
}

func (d *Document) isTrackingParam(key string) bool {
	v := d.Vocab()
	for _, p := range v.TrackingParams {
		if key == p {
			return true
		}
	}
	for _, p := range v.TrackingPrefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// extractQ returns the q parameter of href, or "" when it has none.
func extractQ(href string) string {
	if !strings.Contains(href, "?q=") && !strings.Contains(href, "&q=") {
		return ""
	}
	raw := href
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[i+1:]
	}
	if i := strings.IndexByte(raw, '#'); i >= 0 {
		raw = raw[:i]
	}
	vals, _ := url.ParseQuery(raw)
	return vals.Get("q")
}
