// Package textextract turns HTML response bodies into readable plain text.
package textextract

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

const ErrFailedToParseDOM = "failed to parse DOM"

// Elements whose text content is never readable prose.
const selectorNonContent = "script, style, noscript, template, head"

var (
	spaceRun   = regexp.MustCompile(`[ \t]+`)
	newlineRun = regexp.MustCompile(`\n{3,}`)

	sanitizer = bluemonday.UGCPolicy()
)

// PlainText extracts the readable text of an HTML document: scripts, styles
// and markup stripped, whitespace collapsed, block elements separated by
// newlines.
func PlainText(body io.Reader) (string, error) {
	dom, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return "", fmt.Errorf("%s: %w", ErrFailedToParseDOM, err)
	}

	dom.Find(selectorNonContent).Remove()

	// Block-level boundaries become newlines so the flattened text keeps
	// paragraph structure.
	dom.Find("p, div, br, li, tr, h1, h2, h3, h4, h5, h6, article, section").
		Each(func(_ int, s *goquery.Selection) {
			s.AppendHtml("\n")
		})

	text := dom.Text()
	text = spaceRun.ReplaceAllString(text, " ")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")
	text = newlineRun.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text), nil
}

// Sanitize removes scripts, styles, event handlers and other dangerous
// markup from an HTML fragment. Formatting tags survive, so the result is
// still HTML, safe to embed.
func Sanitize(fragment string) string {
	return strings.TrimSpace(sanitizer.Sanitize(fragment))
}
