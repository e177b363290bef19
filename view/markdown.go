package view

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// Markdown converts src into a div element holding the rendered fragment.
func Markdown(src string) (*html.Node, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(src), &buf); err != nil {
		return nil, fmt.Errorf("convert markdown: %w", err)
	}

	context := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := html.ParseFragment(&buf, context)
	if err != nil {
		return nil, fmt.Errorf("parse markdown output: %w", err)
	}

	return Fragment(nodes...), nil
}
