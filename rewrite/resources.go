package rewrite

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

type resourceStage struct{}

func (resourceStage) Name() string { return "resources" }

func (resourceStage) Apply(d *Document) {
	for _, img := range d.Find("img[src]") {
		if d.relinkAttr(img, "src", "image/png") {
			delAttr(img, "srcset")
		}
	}
	for _, audio := range d.Find("audio[src]") {
		d.relinkAttr(audio, "src", "audio/mpeg")
		setAttr(audio, "controls", "")
	}
	for _, link := range d.Find("link[href]") {
		rel := strings.ToLower(attrOr(link, "rel", ""))
		switch {
		case strings.Contains(rel, "stylesheet"):
			d.relinkAttr(link, "href", "text/css")
		case strings.Contains(rel, "icon"):
			d.relinkAttr(link, "href", "image/x-icon")
		}
	}
}

// relinkAttr rewrites the reference held in attribute name of n. Branding is
// swapped for proxy assets, upstream static images for a placeholder, and any
// other remote source goes through the element endpoint. It reports whether
// the attribute now points at the element endpoint.
func (d *Document) relinkAttr(n *html.Node, name, mime string) bool {
	v := d.Vocab()
	raw, ok := attr(n, name)
	if !ok {
		return false
	}
	src := strings.TrimSpace(raw)
	if i := strings.IndexByte(src, ' '); i >= 0 {
		src = src[:i]
	}
	switch {
	case src == "":
		return false
	case d.isRelinked(src):
		return true
	case strings.HasPrefix(src, "data:"):
		return false
	case src == v.ProxyLogo || src == v.ProxyIcon:
		return false
	case strings.HasPrefix(src, "//"):
		src = "https:" + src
	}

	switch {
	case v.LogoURL != "" && strings.HasPrefix(src, v.LogoURL):
		setAttr(n, name, v.ProxyLogo)
		return false
	case v.MobileLogoURL != "" && strings.HasPrefix(src, v.MobileLogoURL):
		setAttr(n, name, v.ProxyIcon)
		if p := n.Parent; isTag(p, atom.A) {
			setAttr(p, "href", "home")
		}
		return false
	case (v.ImageHostPrefix != "" && strings.HasPrefix(src, v.ImageHostPrefix)) ||
		(v.StaticHost != "" && strings.Contains(src, v.StaticHost)):
		setAttr(n, name, v.Placeholder)
		return false
	}

	src = d.absolute(src)
	relinked, ok := d.elementURL(src, mime, name)
	if !ok {
		delAttr(n, name)
		return false
	}
	setAttr(n, name, relinked)
	return true
}

// absolute resolves ref against the page URL when one is known.
func (d *Document) absolute(ref string) string {
	if d.Ctx.PageURL == "" {
		return ref
	}
	base, err := url.Parse(d.Ctx.PageURL)
	if err != nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

type styleStage struct{}

func (styleStage) Name() string { return "inline-style" }

func (styleStage) Apply(d *Document) {
	for _, style := range d.Find("style") {
		src := textOf(style)
		out := d.relinkCSS(src, false)
		if out == src {
			continue
		}
		for c := style.FirstChild; c != nil; {
			next := c.NextSibling
			style.RemoveChild(c)
			c = next
		}
		style.AppendChild(text(out))
	}
	for _, n := range d.Find("[style]") {
		src := attrOr(n, "style", "")
		if !strings.Contains(strings.ToLower(src), "url(") {
			continue
		}
		if out := d.relinkCSS(src, true); out != src {
			setAttr(n, "style", out)
		}
	}
}

var (
	cssURLPattern    = regexp.MustCompile(`(?i)url\(\s*(['"]?)([^'")]+?)(['"]?)\s*\)`)
	cssImportPattern = regexp.MustCompile(`(?i)(@import\s+)(['"])([^'"]+)(['"])`)
)

// relinkCSS rewrites every non-data url() and @import target through the
// element endpoint. References are collected from the parsed stylesheet; a
// stylesheet the parser rejects falls back to a plain pattern scan.
func (d *Document) relinkCSS(src string, inline bool) string {
	refs := collectCSSRefs(src, inline)
	if len(refs) == 0 {
		refs = nil
	}
	relink := func(ref string) (string, bool) {
		ref = strings.TrimSpace(ref)
		if ref == "" || strings.HasPrefix(strings.ToLower(ref), "data:") || d.isRelinked(ref) {
			return "", false
		}
		if refs != nil && !refs[ref] {
			return "", false
		}
		if strings.HasPrefix(ref, "//") {
			ref = "https:" + ref
		}
		return d.elementURL(d.absolute(ref), "image/png", "")
	}

	out := cssURLPattern.ReplaceAllStringFunc(src, func(m string) string {
		sub := cssURLPattern.FindStringSubmatch(m)
		if u, ok := relink(sub[2]); ok {
			return "url(" + sub[1] + u + sub[3] + ")"
		}
		return m
	})
	return cssImportPattern.ReplaceAllStringFunc(out, func(m string) string {
		sub := cssImportPattern.FindStringSubmatch(m)
		if u, ok := relink(sub[3]); ok {
			return sub[1] + sub[2] + u + sub[4]
		}
		return m
	})
}

// collectCSSRefs returns the url() and @import targets of a stylesheet or a
// declaration list, or nil when the text does not parse.
func collectCSSRefs(src string, inline bool) map[string]bool {
	refs := make(map[string]bool)
	addValue := func(v string) {
		for _, m := range cssURLPattern.FindAllStringSubmatch(v, -1) {
			refs[strings.TrimSpace(m[2])] = true
		}
	}
	if inline {
		decls, err := parser.ParseDeclarations(src)
		if err != nil {
			return nil
		}
		for _, decl := range decls {
			if decl != nil {
				addValue(decl.Value)
			}
		}
		return refs
	}

	sheet, err := parser.Parse(src)
	if err != nil {
		return nil
	}
	var walk func([]*css.Rule)
	walk = func(rules []*css.Rule) {
		for _, r := range rules {
			if r == nil {
				continue
			}
			if r.Kind == css.AtRule && strings.EqualFold(r.Name, "@import") {
				if target := importTarget(r.Prelude); target != "" {
					refs[target] = true
				}
			}
			for _, decl := range r.Declarations {
				if decl != nil {
					addValue(decl.Value)
				}
			}
			walk(r.Rules)
		}
	}
	walk(sheet.Rules)
	return refs
}

func importTarget(prelude string) string {
	s := strings.TrimSpace(prelude)
	if m := cssURLPattern.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[2])
	}
	if len(s) > 1 && (s[0] == '"' || s[0] == '\'') {
		if end := strings.IndexByte(s[1:], s[0]); end >= 0 {
			return s[1 : end+1]
		}
	}
	return ""
}
