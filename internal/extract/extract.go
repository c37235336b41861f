// Package extract turns raw HTML into structured text content.
package extract

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/scrapeworks/harvester/internal/scrape"
)

var (
	cookieSentence = regexp.MustCompile(`(?i)(?:^|(?:\s))[^.!?]*\bcookies?\b[^.!?]*(?:[.!?]+|$)`)
	whitespaceRun  = regexp.MustCompile(`\s+`)
)

// Boilerplate lines that add noise without content. Matched
// case-insensitively as substrings of a sentence.
var unwantedPhrases = []string{
	"javascript has been disabled",
	"enable js",
	"enable javascript",
}

// Parser implements scrape.Extractor. Parsing is best-effort: malformed
// HTML degrades to whatever could be read, never to an error.
type Parser struct{}

// New returns a Parser.
func New() *Parser {
	return &Parser{}
}

var _ scrape.Extractor = (*Parser)(nil)

// Parse extracts the page title, header-led sections, and cleaned body
// text from rawHTML.
func (Parser) Parse(url string, rawHTML []byte) scrape.Content {
	content := scrape.Content{URL: url}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(rawHTML))
	if err != nil {
		return content
	}

	doc.Find("script, style, noscript").Remove()

	content.Title = strings.TrimSpace(doc.Find("title").First().Text())

	doc.Find("h1, h2, h3").Each(func(_ int, header *goquery.Selection) {
		section := sectionText(header)
		if section != "" {
			content.Sections = append(content.Sections, section)
		}
	})

	content.Text = cleanText(doc.Find("body").Text())
	return content
}

// sectionText joins a header with the sibling text that follows it, up to
// the next header.
func sectionText(header *goquery.Selection) string {
	title := normalize(header.Text())
	if title == "" {
		return ""
	}
	var parts []string
	for sib := header.Next(); sib.Length() > 0; sib = sib.Next() {
		if node := goquery.NodeName(sib); node == "h1" || node == "h2" || node == "h3" {
			break
		}
		if text := normalize(sib.Text()); text != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return title + ": " + strings.Join(parts, " ")
}

func cleanText(text string) string {
	text = cookieSentence.ReplaceAllString(text, " ")
	sentences := strings.FieldsFunc(text, func(r rune) bool {
		return r == '\n'
	})
	var kept []string
	for _, sentence := range sentences {
		sentence = normalize(sentence)
		if sentence == "" || isUnwanted(sentence) {
			continue
		}
		kept = append(kept, sentence)
	}
	return strings.Join(kept, "\n")
}

func isUnwanted(sentence string) bool {
	lower := strings.ToLower(sentence)
	for _, phrase := range unwantedPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}
