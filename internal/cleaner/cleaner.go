// Package cleaner turns raw HTML into the plain text that gets embedded.
package cleaner

import (
	"bytes"
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/text/unicode/norm"
)

// skipped elements contribute no text, nor do their descendants.
var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
}

// Clean extracts the visible text of an HTML document. Text nodes are
// joined with a single space, runs of whitespace collapse to one space and
// the result is trimmed and NFKC-normalised. Malformed markup is handled
// the way a browser would; Clean never fails.
func Clean(raw []byte) string {
	z := html.NewTokenizer(bytes.NewReader(raw))

	var (
		b     strings.Builder
		depth int // nesting inside skipped elements
	)
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return finish(b.String())
		case html.StartTagToken:
			name, _ := z.TagName()
			if skipped[atom.Lookup(name)] {
				depth++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if skipped[atom.Lookup(name)] && depth > 0 {
				depth--
			}
		case html.TextToken:
			if depth == 0 {
				b.Write(z.Text())
				b.WriteByte(' ')
			}
		}
	}
}

// String is Clean for a string document.
func String(raw string) string {
	return Clean([]byte(raw))
}

// NFKC runs before collapse: U+00A8 decomposes to a space plus U+0308.
func finish(s string) string {
	return collapse(norm.NFKC.String(s))
}

// collapse replaces every run of Unicode whitespace with one ASCII space
// and trims both ends.
func collapse(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}
