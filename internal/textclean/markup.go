package textclean

import (
	"strings"

	"golang.org/x/net/html"
)

// StripMarkup returns the visible text of an HTML document. Text inside
// script and style elements is dropped; text nodes are joined with single
// spaces. Input without markup is returned as-is apart from entity decoding.
func StripMarkup(doc string) string {
	z := html.NewTokenizer(strings.NewReader(doc))

	var (
		buf  strings.Builder
		skip int
	)
	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF; a strings.Reader has no other failure mode.
			return buf.String()
		case html.StartTagToken:
			if hidden(z) {
				skip++
			}
		case html.EndTagToken:
			if hidden(z) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			text := strings.TrimSpace(string(z.Text()))
			if text != "" {
				if buf.Len() > 0 {
					buf.WriteByte(' ')
				}
				buf.WriteString(text)
			}
		}
	}
}

func hidden(z *html.Tokenizer) bool {
	name, _ := z.TagName()
	switch string(name) {
	case "script", "style", "noscript":
		return true
	}
	return false
}
