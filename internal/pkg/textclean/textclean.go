package textclean

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	pageNumberRe = regexp.MustCompile(`Page \d+ of \d+`)
	markdownRe   = regexp.MustCompile(`\*\*|__|~~|` + "```")
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Document normalizes raw document text before chunking: page-number
// artifacts and markdown markers are removed, control characters stripped,
// per-line whitespace trimmed, and runs of blank lines collapsed to one.
// Cleaning never fails on content; an all-noise input simply comes out empty.
func Document(text string) string {
	text = pageNumberRe.ReplaceAllString(text, "")
	text = markdownRe.ReplaceAllString(text, "")
	text = stripControl(text)

	lines := strings.Split(text, "\n")
	cleaned := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if !blank {
				cleaned = append(cleaned, line)
			}
			blank = true
			continue
		}
		cleaned = append(cleaned, line)
		blank = false
	}
	return strings.TrimSpace(strings.Join(cleaned, "\n"))
}

// Query normalizes a search query: control characters and punctuation go,
// letters, digits and whitespace stay, runs of whitespace collapse to one
// space. Letter categories are preserved so accented text survives intact.
func Query(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || r == '_' {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(b.String(), " "))
}

func stripControl(text string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)
}
