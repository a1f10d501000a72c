// Package util holds small terminal helpers shared by the CLI and the review.
package util

import (
	"fmt"

	"github.com/charmbracelet/x/ansi"
)

// MakeHyperlink wraps text in an OSC 8 hyperlink to url. Terminals without
// support print text alone. An empty text shows the url itself.
func MakeHyperlink(url, text string) string {
	if text == "" {
		text = url
	}
	return fmt.Sprintf("\033]8;;%s\a%s\033]8;;\a", url, text)
}

// TruncateText cuts s to maxWidth terminal cells, ending in "…" when cut.
func TruncateText(s string, maxWidth int) string {
	if maxWidth <= 0 || ansi.StringWidth(s) <= maxWidth {
		return s
	}
	return ansi.Truncate(s, maxWidth, "…")
}
