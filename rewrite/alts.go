package rewrite

import (
	"net/url"
	"strings"
)

type siteAltStage struct{}

func (siteAltStage) Name() string { return "site-alts" }

func (siteAltStage) Apply(d *Document) {
	if !d.Ctx.Config.Alts || len(d.Vocab().SiteAlts) == 0 {
		return
	}
	for _, div := range d.Find("div") {
		t, ok := singleText(div)
		if !ok || len(strings.Fields(t.Data)) != 1 {
			continue
		}
		t.Data = d.swapHosts(t.Data)
	}
	for _, a := range d.Find("a[href]") {
		if hasClass(a, AnonViewClass) {
			continue
		}
		setAttr(a, "href", d.siteAlt(attrOr(a, "href", "")))
		for _, t := range textNodes(a) {
			t.Data = d.swapHosts(t.Data)
		}
	}
}

// siteAlt points an absolute link at the alternative for its host.
func (d *Document) siteAlt(link string) string {
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return link
	}
	host := strings.ToLower(u.Hostname())
	for _, alt := range d.Vocab().SiteAlts {
		if alt.Alt == "" || !hostMatches(host, alt.Site) {
			continue
		}
		out := "https://" + strings.TrimSuffix(alt.Alt, "/") + u.EscapedPath()
		if u.RawQuery != "" {
			out += "?" + u.RawQuery
		}
		if u.Fragment != "" {
			out += "#" + u.EscapedFragment()
		}
		return out
	}
	return link
}

func hostMatches(host, site string) bool {
	return host == site || strings.HasSuffix(host, "."+site)
}

// swapHosts replaces host names in display text. A match must cover a whole
// host name, so philomedium.com is left alone while blog.medium.com is not.
func (d *Document) swapHosts(s string) string {
	for _, alt := range d.Vocab().SiteAlts {
		if alt.Alt == "" || !strings.Contains(s, alt.Site) {
			continue
		}
		s = replaceHost(s, alt.Site, alt.Alt)
	}
	return s
}

func replaceHost(s, site, alt string) string {
	var b strings.Builder
	i := 0
	for {
		j := strings.Index(s[i:], site)
		if j < 0 {
			b.WriteString(s[i:])
			return b.String()
		}
		start, end := i+j, i+j+len(site)
		left := start
		for left > i && isHostByte(s[left-1]) {
			left--
		}
		host := s[left:end]
		rightOK := end == len(s) || !isLabelByte(s[end])
		if rightOK && hostMatches(strings.ToLower(host), site) {
			b.WriteString(s[i:left])
			b.WriteString(alt)
		} else {
			b.WriteString(s[i:end])
		}
		i = end
	}
}

func isLabelByte(c byte) bool {
	return c == '-' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isHostByte(c byte) bool { return c == '.' || isLabelByte(c) }
