// Package textutil cleans catalog text before it is spoken or drawn.
package textutil

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// PlainText strips markup from catalog text. Ruby annotations, citations,
// scripts and styles are dropped; line breaks become spaces.
func PlainText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return collapse(s)
	}
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return collapse(s)
	}
	var b strings.Builder
	traverse(doc, &b)
	return collapse(b.String())
}

func traverse(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		switch n.DataAtom {
		case atom.Sup, atom.Style, atom.Script, atom.Rt, atom.Rp:
			return
		case atom.Br, atom.P, atom.Div, atom.Li:
			b.WriteString(" ")
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		traverse(c, b)
	}
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// WordWrap breaks text into lines of at most width runes. Words longer than
// width, as in scripts written without spaces, are split.
func WordWrap(text string, width int) []string {
	if width <= 0 {
		return []string{text}
	}

	var lines []string
	var cur strings.Builder
	curLen := 0
	flush := func() {
		if curLen > 0 {
			lines = append(lines, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, word := range strings.Fields(text) {
		for utf8.RuneCountInString(word) > width {
			flush()
			head, tail := splitRunes(word, width)
			lines = append(lines, head)
			word = tail
		}
		n := utf8.RuneCountInString(word)
		if curLen > 0 && curLen+1+n > width {
			flush()
		}
		if curLen > 0 {
			cur.WriteByte(' ')
			curLen++
		}
		cur.WriteString(word)
		curLen += n
	}
	flush()
	return lines
}

func splitRunes(s string, n int) (string, string) {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos], s[pos:]
		}
		i++
	}
	return s, ""
}
