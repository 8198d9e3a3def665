package tui

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"
)

// wrapLines splits content into display lines wrapped at width columns,
// counting east-asian-wide runes as two columns — the same rule
// display.py applied via unicodedata.east_asian_width.
func wrapLines(content string, width int) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		if line == "" {
			out = append(out, " ")
			continue
		}
		runes := []rune(line)
		for len(runes) > 0 {
			sum := 0
			cut := len(runes)
			for i, r := range runes {
				sum += runewidth.RuneWidth(r)
				if sum > width {
					cut = i
					break
				}
			}
			if sum > width {
				out = append(out, string(runes[:cut]))
				runes = runes[cut:]
			} else {
				out = append(out, string(runes))
				break
			}
		}
	}
	return out
}

func formatHeader(page, maxPage, offset, numLines int) string {
	return fmt.Sprintf("Page %d / %d, Offset %d / %d", page, maxPage, offset, numLines)
}
