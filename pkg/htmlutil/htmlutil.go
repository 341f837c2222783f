package htmlutil

import (
	"bytes"
	"errors"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// ErrMissingHref is returned when an anchor has no href attribute.
var ErrMissingHref = errors.New("anchor is missing href")

// GetText concatenates every text node under node.
func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

// FirstText returns the first text node under node in document order that
// is not only whitespace, or false if there is none.
func FirstText(node *html.Node) (string, bool) {
	if node == nil {
		return "", false
	}
	if node.Type == html.TextNode {
		return node.Data, strings.TrimSpace(node.Data) != ""
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		text, ok := FirstText(child)
		if ok {
			return text, true
		}
	}
	return "", false
}

var innerWhitespace = regexp.MustCompile(`\s\s+`)

// Normalize removes non-printable characters, trims and collapses whitespace.
func Normalize(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, s)
	s = strings.TrimSpace(s)
	return innerWhitespace.ReplaceAllString(s, " ")
}

type Anchor struct {
	Name string
	Href string
}

// GetAnchors reads the text and href of every node in sel, in document order.
// The href is kept exactly as it appears in the markup.
func GetAnchors(sel *goquery.Selection) ([]Anchor, error) {
	anchors := make([]Anchor, 0, len(sel.Nodes))
	for _, n := range sel.Nodes {
		href, ok := attr(n, "href")
		if !ok {
			return nil, ErrMissingHref
		}
		anchors = append(anchors, Anchor{
			Name: Normalize(GetText(n)),
			Href: href,
		})
	}
	return anchors, nil
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}
