package publish

import (
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const baseLayout = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title></title>
<style>
body { font-family: sans-serif; max-width: 900px; margin: 0 auto; padding: 1em; }
section.station { margin-bottom: 2em; }
p.range, footer { color: #666; font-size: 0.9em; }
</style>
</head>
<body>
<h1></h1>
<main></main>
<footer>Generated <time></time></footer>
</body>
</html>`

// ComposeIndex assembles the rendered station sections into a complete page
func ComposeIndex(title string, sections []string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(baseLayout))
	if err != nil {
		return "", fmt.Errorf("failed to parse base layout: %w", err)
	}

	doc.Find("head title").SetText(title)
	doc.Find("body h1").SetText(title)

	content := doc.Find("main")
	for _, section := range sections {
		content.AppendHtml(section)
	}

	now := time.Now().UTC()
	doc.Find("footer time").
		SetAttr("datetime", now.Format(time.RFC3339)).
		SetText(now.Format("2006-01-02 15:04 MST"))

	html, err := doc.Html()
	if err != nil {
		return "", fmt.Errorf("failed to serialize page: %w", err)
	}
	return html, nil
}
