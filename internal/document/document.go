// Package document parses HTML into a queryable tree. Parsing never fails on
// malformed markup and queries never fail on unmatched or invalid selectors.
package document

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// Kind identifies the query language of a Selector.
type Kind int

// Supported selector languages.
const (
	KindCSS Kind = iota
	KindXPath
)

// Selector is an opaque structural query.
type Selector struct {
	kind Kind
	expr string
}

// CSS builds a CSS selector.
func CSS(expr string) Selector {
	return Selector{kind: KindCSS, expr: strings.TrimSpace(expr)}
}

// XPath builds an XPath selector.
func XPath(expr string) Selector {
	return Selector{kind: KindXPath, expr: strings.TrimSpace(expr)}
}

// ParseSelector interprets raw as an XPath expression when it carries the
// "xpath:" prefix or starts with "/" or "(", and as CSS otherwise ("css:"
// prefix optional).
func ParseSelector(raw string) Selector {
	raw = strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(raw, "xpath:"):
		return XPath(strings.TrimPrefix(raw, "xpath:"))
	case strings.HasPrefix(raw, "css:"):
		return CSS(strings.TrimPrefix(raw, "css:"))
	case strings.HasPrefix(raw, "/"), strings.HasPrefix(raw, "("):
		return XPath(raw)
	default:
		return CSS(raw)
	}
}

// Kind returns the selector language.
func (s Selector) Kind() Kind { return s.kind }

func (s Selector) String() string {
	if s.kind == KindXPath {
		return "xpath:" + s.expr
	}
	return "css:" + s.expr
}

// Document is a parsed HTML tree.
type Document struct {
	root *html.Node
	doc  *goquery.Document
}

// Parse builds a best-effort tree from text.
func Parse(text string) *Document {
	root, err := html.Parse(strings.NewReader(text))
	if err != nil {
		root = &html.Node{Type: html.DocumentNode}
	}
	return &Document{root: root, doc: goquery.NewDocumentFromNode(root)}
}

// ParseBytes is Parse for a response body.
func ParseBytes(body []byte) *Document {
	return Parse(string(body))
}

// Query evaluates sel and returns the matched nodes in document order.
func (d *Document) Query(sel Selector) []Node {
	if d == nil || sel.expr == "" {
		return nil
	}
	var nodes []*html.Node
	switch sel.kind {
	case KindXPath:
		found, err := htmlquery.QueryAll(d.root, sel.expr)
		if err != nil {
			return nil
		}
		nodes = found
	default:
		nodes = d.doc.Find(sel.expr).Nodes
	}
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, Node{n: n})
	}
	return out
}

// First returns the first match of sel.
func (d *Document) First(sel Selector) (Node, bool) {
	nodes := d.Query(sel)
	if len(nodes) == 0 {
		return Node{}, false
	}
	return nodes[0], true
}

// Node is one element (or text/attribute node) of a Document.
type Node struct {
	n *html.Node
}

// Text returns the concatenated text content of the node.
func (n Node) Text() string {
	if n.n == nil {
		return ""
	}
	if n.n.Type == html.TextNode {
		return n.n.Data
	}
	return goquery.NewDocumentFromNode(n.n).Text()
}

// OwnText returns the text that precedes the node's first child element or
// comment. ok is false when there is none.
func (n Node) OwnText() (text string, ok bool) {
	if n.n == nil {
		return "", false
	}
	if n.n.Type == html.TextNode {
		return n.n.Data, n.n.Data != ""
	}
	var b strings.Builder
	for c := n.n.FirstChild; c != nil && c.Type == html.TextNode; c = c.NextSibling {
		b.WriteString(c.Data)
	}
	return b.String(), b.Len() > 0
}

// Attr returns the value of the named attribute.
func (n Node) Attr(name string) (string, bool) {
	if n.n == nil {
		return "", false
	}
	for _, a := range n.n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}
