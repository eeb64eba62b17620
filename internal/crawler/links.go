package crawler

import (
	"bytes"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ExtractLinks returns the canonical absolute http(s) targets of every
// <a href> in body, resolved against pageURL or a <base href>. Order is
// document order with duplicates removed.
func ExtractLinks(pageURL string, body []byte) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	var (
		links   []string
		seen    = map[string]bool{}
		baseSet bool
	)
	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return links
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if !hasAttr {
				continue
			}
			a := atom.Lookup(name)
			if a != atom.A && a != atom.Base {
				continue
			}
			href, ok := attr(z, "href")
			if !ok {
				continue
			}
			if a == atom.Base {
				if !baseSet {
					if b, err := base.Parse(href); err == nil {
						base, baseSet = b, true
					}
				}
				continue
			}
			if l, ok := resolve(base, href); ok && !seen[l] {
				seen[l] = true
				links = append(links, l)
			}
		}
	}
}

func attr(z *html.Tokenizer, key string) (string, bool) {
	for {
		k, v, more := z.TagAttr()
		if string(k) == key {
			return strings.TrimSpace(string(v)), true
		}
		if !more {
			return "", false
		}
	}
}

func resolve(base *url.URL, href string) (string, bool) {
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	u, err := base.Parse(href)
	if err != nil {
		return "", false
	}
	c, err := Canonicalize(u.String())
	if err != nil {
		return "", false
	}
	return c, true
}
