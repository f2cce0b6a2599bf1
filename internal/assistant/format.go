package assistant

import (
	"regexp"
	"strings"
)

var (
	boldRe   = regexp.MustCompile(`\*\*(.*?)\*\*`)
	bulletRe = regexp.MustCompile(`(^|\n)[ \t]*[*-][ \t]+`)
	italicRe = regexp.MustCompile(`\*(.*?)\*`)
	blanksRe = regexp.MustCompile(`\n{3,}`)
)

// FormatReply flattens the model's markdown habits into plain text the
// portal renders verbatim: bold and italics markers removed, list
// bullets turned into dashes, runs of blank lines collapsed.
func FormatReply(text string) string {
	t := boldRe.ReplaceAllString(text, "$1")
	t = bulletRe.ReplaceAllString(t, "$1– ")
	t = italicRe.ReplaceAllString(t, "$1")
	t = blanksRe.ReplaceAllString(t, "\n\n")
	return strings.TrimSpace(t)
}
