// Package textclean turns raw Congressional Record text into normalized
// speech bodies.
package textclean

import (
	"regexp"
	"strings"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)

	// Header artifacts, applied in order.
	volumeBannerRe = regexp.MustCompile(`(?i)\[?Congressional Record,? Volume \d+.*?\]`)
	chamberTagRe   = regexp.MustCompile(`(?i)\[(Senate|House|Extensions of Remarks|Daily Digest)\]`)
	pageTagRe      = regexp.MustCompile(`(?i)\[?Pages? [HSE]?\d+(-[HSE]?\d+)?\]?`)
	dateParenRe    = regexp.MustCompile(`\([A-Z][a-z]+, [A-Z][a-z]+ \d{1,2}, \d{4}\)`)

	footerRe = regexp.MustCompile(`(?i)From the Congressional Record Online.*?(?:\[www\.)?gpo\.gov\]?`)

	leadingJunkRe   = regexp.MustCompile(`^[\s\]\)]+`)
	doubleBracketRe = regexp.MustCompile(`\]\s*\]`)
)

// Normalize strips Congressional Record boilerplate from raw text and
// collapses whitespace. It never fails and Normalize(Normalize(x)) equals
// Normalize(x).
func Normalize(raw string) string {
	s := collapse(raw)
	if s == "" {
		return ""
	}

	// Removal can expose new matches (a banner split by a page tag, for
	// example), so run the rules to a fixed point. Every changing pass
	// shortens the text.
	for {
		next := pass(s)
		if next == s {
			return s
		}
		s = next
	}
}

func pass(s string) string {
	s = volumeBannerRe.ReplaceAllString(s, "")
	s = chamberTagRe.ReplaceAllString(s, "")
	s = pageTagRe.ReplaceAllString(s, "")
	s = dateParenRe.ReplaceAllString(s, "")
	s = footerRe.ReplaceAllString(s, "")

	s = leadingJunkRe.ReplaceAllString(s, "")
	s = doubleBracketRe.ReplaceAllString(s, "")
	return collapse(s)
}

func collapse(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}
