package compliance

import (
	"regexp"
	"strings"
)

var (
	h1Pattern = regexp.MustCompile(`(?m)^# (.+)`)
	h2Pattern = regexp.MustCompile(`(?m)^## (.+)`)

	// Anything but letters, digits, underscore, whitespace and hyphen
	anchorStrip  = regexp.MustCompile(`[^\p{L}\p{N}_\s\p{Z}-]`)
	anchorSpaces = regexp.MustCompile(`[\s\p{Z}]+`)
)

// Heading is a level-1 or level-2 Markdown heading found in a document
type Heading struct {
	Text   string
	Level  int
	Offset int
}

// Anchor converts heading text to its link fragment: lowercased, stripped of
// punctuation, whitespace runs replaced by a hyphen. Accented letters survive.
func Anchor(heading string) string {
	a := strings.ToLower(heading)
	a = anchorStrip.ReplaceAllString(a, "")
	return anchorSpaces.ReplaceAllString(a, "-")
}

// Headings returns the # and ## headings of doc in document order
func Headings(doc string) []Heading {
	h1 := collect(doc, h1Pattern, 1)
	h2 := collect(doc, h2Pattern, 2)

	merged := make([]Heading, 0, len(h1)+len(h2))
	i, j := 0, 0
	for i < len(h1) || j < len(h2) {
		switch {
		case i == len(h1):
			merged = append(merged, h2[j:]...)
			j = len(h2)
		case j == len(h2):
			merged = append(merged, h1[i:]...)
			i = len(h1)
		case h1[i].Offset < h2[j].Offset:
			merged = append(merged, h1[i])
			i++
		default:
			merged = append(merged, h2[j])
			j++
		}
	}
	return merged
}

func collect(doc string, pattern *regexp.Regexp, level int) []Heading {
	var out []Heading
	for _, m := range pattern.FindAllStringSubmatchIndex(doc, -1) {
		out = append(out, Heading{
			Text:   strings.TrimRight(doc[m[2]:m[3]], "\r"),
			Level:  level,
			Offset: m[0],
		})
	}
	return out
}

// TableOfContents renders a bullet index of the # and ## headings of doc
func TableOfContents(doc string) string {
	var b strings.Builder
	b.WriteString("# Table of Contents\n\n")
	for _, h := range Headings(doc) {
		if h.Level == 2 {
			b.WriteString("  ")
		}
		b.WriteString("- [")
		b.WriteString(h.Text)
		b.WriteString("](#")
		b.WriteString(Anchor(h.Text))
		b.WriteString(")\n")
	}
	return b.String()
}
