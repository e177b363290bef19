// Package view builds the element trees the state machine renders.
//
// Trees are golang.org/x/net/html nodes. HTML and SVG build elements, Text
// builds text nodes, and Markdown converts a Markdown source into a fragment.
// The machine treats trees as opaque values and hands them to a Renderer.
package view

import (
	"maps"
	"slices"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/tailored-agentic-units/appstate/state"
)

// Attrs are element attributes. Rendering order is sorted by name.
type Attrs map[string]string

// HTML builds an HTML element with the given attributes and children.
func HTML(tag string, attrs Attrs, children ...*html.Node) *html.Node {
	n := &html.Node{
		Type:     html.ElementNode,
		Data:     tag,
		DataAtom: atom.Lookup([]byte(tag)),
		Attr:     attributes(attrs),
	}
	appendChildren(n, children)
	return n
}

// SVG builds an element in the SVG namespace.
func SVG(tag string, attrs Attrs, children ...*html.Node) *html.Node {
	n := &html.Node{
		Type:      html.ElementNode,
		Data:      tag,
		Namespace: "svg",
		Attr:      attributes(attrs),
	}
	appendChildren(n, children)
	return n
}

// Text builds a text node. The text is escaped on render.
func Text(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

// Fragment groups nodes under a div element.
func Fragment(children ...*html.Node) *html.Node {
	return HTML("div", nil, children...)
}

func attributes(attrs Attrs) []html.Attribute {
	if len(attrs) == 0 {
		return nil
	}
	out := make([]html.Attribute, 0, len(attrs))
	for _, k := range slices.Sorted(maps.Keys(attrs)) {
		out = append(out, html.Attribute{Key: k, Val: attrs[k]})
	}
	return out
}

// appendChildren skips nil children. A child already attached elsewhere is
// copied so the tree it belongs to is left intact.
func appendChildren(parent *html.Node, children []*html.Node) {
	for _, c := range children {
		if c == nil {
			continue
		}
		if c.Parent != nil {
			c = Clone(c)
		}
		parent.AppendChild(c)
	}
}

// Clone returns a deep copy of n, detached from any parent.
func Clone(n *html.Node) *html.Node {
	if n == nil {
		return nil
	}
	out := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      slices.Clone(n.Attr),
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out.AppendChild(Clone(c))
	}
	return out
}

// Content returns a copy of the routed sub-tree held by s, or nil when the
// active route has no view. The snapshot's own tree is never attached to the
// caller's.
func Content(s state.State) *html.Node {
	n, _ := s.Content.(*html.Node)
	return Clone(n)
}
