package rewrite

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// CollapsedClass marks the disclosure wrapper created for long sections.
const CollapsedClass = "collapsed-section"

type collapseStage struct{}

func (collapseStage) Name() string { return "collapse" }

// Apply folds result groups with many child divs into a details element. A
// group is the first div child of any element under the main container.
func (collapseStage) Apply(d *Document) {
	if d.Main == nil {
		return
	}
	v := d.Vocab()
	minimal := d.Ctx.Config.Minimal
	for _, res := range d.FindIn(d.Main, "*") {
		if d.Gone(res) || isTag(res, atom.Details) || hasCollapsedChild(res) {
			continue
		}
		group := firstChildDiv(res)
		if group == nil {
			continue
		}
		children := childDivs(group)
		if len(children) == 0 {
			continue
		}
		if minimal && (d.hasMinimalSection(children) || d.hasPlatformBlurb(children)) {
			d.Remove(res)
			continue
		}
		if len(children) < v.ResultChildLimit {
			continue
		}
		d.collapse(group, children, minimal)
	}
}

func (d *Document) hasMinimalSection(children []*html.Node) bool {
	for _, c := range children {
		for _, span := range d.FindIn(c, "span") {
			t := strings.TrimSpace(textOf(span))
			for _, name := range d.Vocab().MinimalSections {
				if t == name {
					return true
				}
			}
		}
	}
	return false
}

func (d *Document) hasPlatformBlurb(children []*html.Node) bool {
	for _, c := range children {
		if containsAny(textOf(c), d.Vocab().PlatformBlurbs) {
			return true
		}
	}
	return false
}

// collapse takes the first text-bearing child as the summary label and wraps
// the group. In minimal mode the group is dropped instead.
func (d *Document) collapse(group *html.Node, children []*html.Node, minimal bool) {
	label := d.Vocab().CollapsedLabel
	var subtitle string
	for _, c := range children {
		var parts []string
		for _, t := range textNodes(c) {
			if s := strings.TrimSpace(t.Data); s != "" {
				parts = append(parts, s)
			}
		}
		if len(parts) == 0 {
			continue
		}
		label = parts[0]
		if len(parts) > 1 {
			subtitle = strings.Join(parts[1:], " ")
		}
		d.Remove(c)
		break
	}

	if minimal {
		d.Remove(group)
		return
	}

	details := element(atom.Details, html.Attribute{Key: "class", Val: CollapsedClass})
	summary := element(atom.Summary)
	summary.AppendChild(text(label))
	if subtitle != "" {
		span := element(atom.Span)
		span.AppendChild(text(" (" + subtitle + ")"))
		summary.AppendChild(span)
	}
	details.AppendChild(summary)

	parent := group.Parent
	parent.InsertBefore(details, group)
	parent.RemoveChild(group)
	details.AppendChild(group)
}

func firstChildDiv(n *html.Node) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if isTag(c, atom.Div) {
			return c
		}
	}
	return nil
}

// hasCollapsedChild reports whether n already holds a collapsed group.
func hasCollapsedChild(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if isTag(c, atom.Details) && hasClass(c, CollapsedClass) {
			return true
		}
	}
	return false
}

func childDivs(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if isTag(c, atom.Div) {
			out = append(out, c)
		}
	}
	return out
}
