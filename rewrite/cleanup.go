package rewrite

import (
	"net/url"
	"strings"

	"golang.org/x/net/html/atom"

	"searchveil/prefs"
)

// LinkRel is set on every anchor of a sanitized page.
const LinkRel = "nofollow noopener noreferrer"

const mobileLogoStyle = "display:flex; justify-content:center; align-items:center; color:#685e79; font-size:18px; "

type cleanupStage struct{}

func (cleanupStage) Name() string { return "cleanup" }

func (cleanupStage) Apply(d *Document) {
	cfg := d.Ctx.Config
	if form := d.Find("form"); len(form) > 0 {
		method := "POST"
		if cfg.GetOnly {
			method = "GET"
		}
		setAttr(form[0], "method", method)
		setAttr(form[0], "action", "search")
	}

	for _, n := range d.Find("script, button, svg") {
		d.Remove(n)
	}

	if footer := d.Find("footer"); len(footer) > 0 {
		for c := footer[0].FirstChild; c != nil; c = c.NextSibling {
			if isTag(c, atom.Div) && len(d.FindIn(c, "a[href]")) > 3 {
				d.Remove(c)
			}
		}
		if cfg.Preferences != "" {
			param := "&" + prefs.ParamName + "="
			for _, a := range d.FindIn(footer[0], "a[href]") {
				href := attrOr(a, "href", "")
				if !strings.Contains(href, param) {
					setAttr(a, "href", href+param+url.QueryEscape(cfg.Preferences))
				}
			}
		}
	}

	if header := d.Find("header"); len(header) > 0 {
		d.Remove(header[0])
	}

	if d.Ctx.Mobile {
		if logo := d.Find("a.l"); len(logo) > 0 {
			setAttr(logo[0], "style", mobileLogoStyle)
		}
	}

	if host := d.Vocab().MapsHost; host != "" {
		for _, a := range d.Find("a[href]") {
			if !strings.Contains(attrOr(a, "href", ""), host) {
				continue
			}
			for _, c := range d.FindIn(a, "img, svg, i, span") {
				if strings.TrimSpace(textOf(c)) == "" {
					d.Remove(c)
				}
			}
		}
	}

	d.stripSiteFilters()

	for _, a := range d.Find("a[href]") {
		href := attrOr(a, "href", "")
		if p := d.Ctx.ForwardParams; p != "" && strings.HasPrefix(href, "search?") && !strings.HasSuffix(href, p) {
			setAttr(a, "href", href+p)
		}
		setAttr(a, "rel", LinkRel)
	}
}

// stripSiteFilters removes the -site: filters added upstream for blocked
// sites from visible text.
func (d *Document) stripSiteFilters() {
	sites := d.Ctx.Config.BlockedSites()
	if len(sites) == 0 {
		return
	}
	body := d.Find("body")
	if len(body) == 0 {
		return
	}
	for _, t := range textNodes(body[0]) {
		if !strings.Contains(t.Data, "-site:") {
			continue
		}
		s := t.Data
		for _, site := range sites {
			s = strings.ReplaceAll(s, " -site:"+site, "")
			s = strings.ReplaceAll(s, "-site:"+site, "")
		}
		t.Data = s
	}
}
