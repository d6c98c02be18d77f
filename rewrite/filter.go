package rewrite

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"searchveil/classmap"
)

type adStage struct{}

func (adStage) Name() string { return "ads" }

// Apply drops whole result containers holding an ad marker span.
func (adStage) Apply(d *Document) {
	for _, res := range d.results() {
		for _, span := range d.FindIn(res, "span") {
			if d.isAdMarker(textOf(span)) {
				d.Remove(res)
				break
			}
		}
	}
}

func (d *Document) isAdMarker(s string) bool {
	v := d.Vocab()
	if v.AdGlyph != "" && strings.Contains(s, v.AdGlyph) {
		return true
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	for _, m := range v.AdMarkers {
		if d.foldEq(s, m) {
			return true
		}
	}
	return false
}

type mediaStage struct{}

func (mediaStage) Name() string { return "media" }

func (mediaStage) Apply(d *Document) {
	v := d.Vocab()
	if v.MediaHeading == "" || v.MediaAffordance == "" {
		return
	}
	for _, div := range d.Find("div." + classmap.MobileResult) {
		t := textOf(div)
		if strings.Contains(t, v.MediaHeading) && strings.Contains(t, v.MediaAffordance) {
			d.Remove(div)
		}
	}

	// Innermost qualifying div only.
	var hits []*html.Node
	qualifies := make(map[*html.Node]bool)
	for _, div := range d.Find("div") {
		t := strings.TrimSpace(textOf(div))
		if !strings.HasPrefix(t, v.MediaHeading) || !strings.Contains(t, v.MediaAffordance) {
			continue
		}
		if len(d.FindIn(div, "img")) <= v.MediaMinImages {
			continue
		}
		hits = append(hits, div)
		qualifies[div] = true
	}
	outer := make(map[*html.Node]bool)
	for _, n := range hits {
		for a := n.Parent; a != nil; a = a.Parent {
			if qualifies[a] {
				outer[a] = true
			}
		}
	}
	for _, n := range hits {
		if !outer[n] {
			d.Remove(n)
		}
	}
}

type blockStage struct{}

func (blockStage) Name() string { return "block-list" }

func (blockStage) Apply(d *Document) {
	if d.blockTitle == nil && d.blockURL == nil {
		return
	}
	for _, res := range d.results() {
		if d.blockedResult(res) {
			d.Remove(res)
		}
	}
}

func (d *Document) blockedResult(res *html.Node) bool {
	if d.blockTitle != nil {
		for _, h := range d.FindIn(res, "h3") {
			if d.blockTitle.MatchString(textOf(h)) {
				return true
			}
		}
	}
	if d.blockURL != nil {
		for _, a := range d.FindIn(res, "a[href]") {
			u, err := url.Parse(d.destination(attrOr(a, "href", "")))
			if err != nil || u.Host == "" {
				continue
			}
			if d.blockURL.MatchString(u.Host) {
				return true
			}
		}
	}
	return false
}

// destination unwraps an upstream redirect link to its target.
func (d *Document) destination(href string) string {
	if strings.Contains(href, "/url?q=") {
		if q := extractQ(href); q != "" {
			return q
		}
	}
	return href
}

type tabStage struct{}

func (tabStage) Name() string { return "tabs" }

func (tabStage) Apply(d *Document) {
	if d.Main != nil {
		for _, div := range d.FindIn(d.Main, "div."+classmap.MainTab) {
			d.Remove(div)
		}
		return
	}
	for _, div := range d.Find("div." + classmap.ImagesTab) {
		d.Remove(div)
	}
}
