package notify

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var excessiveNewlines = regexp.MustCompile(`\n{3,}`)

// htmlToMarkdown applies a fixed, non-recursive set of structural rewrites to
// the body container and extracts the residual text. Inline images are
// expected to have been rewritten already.
func htmlToMarkdown(body *goquery.Selection) string {
	body.Find("p").Each(func(_ int, s *goquery.Selection) {
		s.BeforeHtml("\n")
		s.AfterHtml("\n")
	})

	body.Find("br").Each(func(_ int, s *goquery.Selection) {
		s.ReplaceWithHtml("\n")
	})

	body.Find("strong,b").Each(func(_ int, s *goquery.Selection) {
		replaceWithMarkdown(s, "**"+s.Text()+"**")
	})

	body.Find("em,i").Each(func(_ int, s *goquery.Selection) {
		replaceWithMarkdown(s, "*"+s.Text()+"*")
	})

	body.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		text := strings.TrimSpace(s.Text())
		if text != "" {
			replaceWithMarkdown(s, fmt.Sprintf("[%s](%s)", text, href))
		} else {
			replaceWithMarkdown(s, href)
		}
	})

	for level := 1; level <= 6; level++ {
		marker := strings.Repeat("#", level)
		body.Find(fmt.Sprintf("h%d", level)).Each(func(_ int, s *goquery.Selection) {
			replaceWithMarkdown(s, fmt.Sprintf("\n%s %s\n", marker, strings.TrimSpace(s.Text())))
		})
	}

	body.Find("ul").Each(func(_ int, ul *goquery.Selection) {
		ul.ChildrenFiltered("li").Each(func(_ int, li *goquery.Selection) {
			replaceWithMarkdown(li, "- "+strings.TrimSpace(li.Text())+"\n")
		})
	})

	body.Find("ol").Each(func(_ int, ol *goquery.Selection) {
		ol.ChildrenFiltered("li").Each(func(i int, li *goquery.Selection) {
			replaceWithMarkdown(li, fmt.Sprintf("%d. %s\n", i+1, strings.TrimSpace(li.Text())))
		})
	})

	text := body.Text()
	text = excessiveNewlines.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}

// replaceWithMarkdown swaps a node for a text node carrying the given
// markdown. The markdown is HTML-escaped on insertion and unescapes back on
// text extraction.
func replaceWithMarkdown(s *goquery.Selection, md string) {
	s.ReplaceWithHtml(html.EscapeString(md))
}
