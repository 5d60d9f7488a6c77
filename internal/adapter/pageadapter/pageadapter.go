// Package pageadapter turns fetched portal pages into typed entities. The
// portal publishes no schema, so classification is driven by the structural
// and textual patterns of the injected vocabulary table.
package pageadapter

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/shihuaidexianyu/PKU-Get/internal/common"
	"github.com/shihuaidexianyu/PKU-Get/internal/config"
	"github.com/shihuaidexianyu/PKU-Get/internal/entity"
	"github.com/shihuaidexianyu/PKU-Get/internal/util"
)

const (
	selectorCourseMenu       = "ul#courseMenuPalette_contents"
	selectorContentList      = "ul#content_listContainer"
	selectorContentListAlt   = "div.container-fluid ul.listElement"
	selectorAnnouncementList = "ul#announcementList, div#announcementList"
	selectorAnnouncementMsg  = `div[id^="announcementMsg_"]`
	selectorAnnouncementAlt  = "div.vtbegenerated"

	defaultDatePattern = `(\d{4})年(\d{1,2})月(\d{1,2})日`
)

// ContentPage is one classified content-area page.
type ContentPage struct {
	Nodes       []entity.ContentNode
	NextPageURL string
}

// Announcement is one item extracted from an announcement list page. Body is
// nil when no content container was found.
type Announcement struct {
	Title   string
	Meta    string
	DateStr string
	Body    *goquery.Selection
}

type PageAdapter struct {
	vocab  *config.Vocabulary
	dateRe *regexp.Regexp
	log    *slog.Logger
}

func New(vocab *config.Vocabulary, log *slog.Logger) *PageAdapter {
	a := &PageAdapter{
		vocab: vocab,
		log:   log.With(slog.String("item", "PageAdapter")),
	}

	re, err := regexp.Compile(vocab.DatePattern)
	if err != nil {
		a.log.Error("Invalid date pattern, using default",
			slog.String("pattern", vocab.DatePattern), slog.Any("error", err))
		re = regexp.MustCompile(defaultDatePattern)
	}
	a.dateRe = re

	return a
}

// ParseMenu extracts every content area from a course menu page. Anchors,
// javascript pseudo-links and empty targets are discarded silently.
func (a *PageAdapter) ParseMenu(r io.Reader, base *url.URL) ([]entity.ContentArea, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("cannot parse menu page: %w", err)
	}

	menu := doc.Find(selectorCourseMenu)
	if menu.Length() == 0 {
		return nil, common.ErrCourseMenuNotFound
	}

	var areas []entity.ContentArea
	menu.Find("a").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !usableHref(href) || !ok {
			return
		}

		areas = append(areas, entity.ContentArea{
			Name: strings.TrimSpace(s.Text()),
			URL:  resolveURL(base, href),
		})
	})

	return areas, nil
}

// IsAnnouncementArea reports whether an area name marks an announcement
// section; such areas are routed to the converter instead of the crawl path.
func (a *PageAdapter) IsAnnouncementArea(name string) bool {
	for _, kw := range a.vocab.AnnouncementKeywords {
		if strings.Contains(name, kw) {
			return true
		}
	}

	return false
}

// ParseContentPage classifies the links of one content-area page into typed
// nodes and finds the pagination link, if any. Kind is decided here, before
// any fetch of the target.
func (a *PageAdapter) ParseContentPage(r io.Reader, base *url.URL) (*ContentPage, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("cannot parse content page: %w", err)
	}

	page := &ContentPage{}

	list := doc.Find(selectorContentList)
	if list.Length() == 0 {
		list = doc.Find(selectorContentListAlt)
	}
	if list.Length() == 0 {
		return nil, common.ErrContentListNotFound
	}

	sourceURL := base.String()
	list.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if !usableHref(href) {
			return
		}

		text := strings.TrimSpace(s.Text())
		node := entity.ContentNode{
			DisplayName:   text,
			TargetURL:     resolveURL(base, href),
			SourcePageURL: sourceURL,
		}

		switch {
		case a.isFolder(s, href):
			node.Kind = entity.NodeFolder
		case a.isFile(href, text):
			node.Kind = entity.NodeFile
		default:
			return // unclassifiable, not a failure
		}

		page.Nodes = append(page.Nodes, node)
	})

	next := doc.Find(fmt.Sprintf("a[title=%q]", a.vocab.NextPageLabel)).First()
	if href, ok := next.Attr("href"); ok && usableHref(href) {
		page.NextPageURL = resolveURL(base, href)
	}

	return page, nil
}

// isFolder: known list-contents endpoints first, then a folder marker on the
// containing list item (CSS class or folder icon), in that order.
func (a *PageAdapter) isFolder(s *goquery.Selection, href string) bool {
	for _, ep := range a.vocab.FolderEndpoints {
		if strings.Contains(href, ep) {
			return true
		}
	}

	li := s.Closest("li")
	if li.Length() == 0 {
		return false
	}
	if li.HasClass("folder") {
		return true
	}
	if src, ok := li.Find("img").First().Attr("src"); ok && strings.Contains(strings.ToLower(src), "folder") {
		return true
	}

	return false
}

// isFile: any match qualifies.
func (a *PageAdapter) isFile(href, text string) bool {
	for _, marker := range a.vocab.FilePathMarkers {
		if strings.Contains(href, marker) {
			return true
		}
	}

	hrefPath := href
	if q := strings.IndexByte(hrefPath, '?'); q >= 0 {
		hrefPath = hrefPath[:q]
	}
	if util.HasKnownExtension(hrefPath) {
		return true
	}

	if text != "" && util.HasKnownExtension(text) {
		return true
	}

	for _, marker := range a.vocab.DownloadMarkers {
		if strings.Contains(href, marker) {
			return true
		}
	}

	return false
}

// SuggestedFileName derives a local file name from a file node: link text
// first, then the tail of a known file-serving path, then the URL tail, then
// a timestamp fallback.
func (a *PageAdapter) SuggestedFileName(displayName, targetURL string) string {
	if name := strings.TrimSpace(displayName); name != "" {
		return util.SanitizeName(name)
	}

	for _, marker := range a.vocab.FilePathMarkers {
		idx := strings.Index(targetURL, marker)
		if idx < 0 {
			continue
		}
		if tail := urlTail(targetURL[idx+len(marker):]); tail != "" {
			return util.SanitizeName(tail)
		}
	}

	if tail := urlTail(targetURL); tail != "" {
		return util.SanitizeName(tail)
	}

	return fmt.Sprintf("download_%d", time.Now().UnixMilli())
}

// ParseAnnouncements extracts title, metadata, publish date and body
// container per announcement item.
func (a *PageAdapter) ParseAnnouncements(r io.Reader, base *url.URL) ([]Announcement, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("cannot parse announcement page: %w", err)
	}

	container := doc.Find(selectorAnnouncementList).First()
	if container.Length() == 0 {
		return nil, common.ErrAnnouncementListNotFound
	}

	var items []Announcement
	container.ChildrenFiltered("li").Each(func(_ int, item *goquery.Selection) {
		title := strings.TrimSpace(item.Find("h3").First().Text())
		if title == "" {
			title = strings.TrimSpace(item.Find("div.item_header").First().Text())
		}
		if title == "" {
			title = "Untitled"
		}

		meta := strings.Join(strings.Fields(item.Find("div.details").First().Text()), " ")

		body := item.Find(selectorAnnouncementMsg).First()
		if body.Length() == 0 {
			body = item.Find(selectorAnnouncementAlt).First()
		}

		ann := Announcement{
			Title:   title,
			Meta:    meta,
			DateStr: a.extractDate(meta),
		}
		if body.Length() > 0 {
			ann.Body = body
		}

		items = append(items, ann)
	})

	return items, nil
}

// extractDate pulls a YYYY-MM-DD date out of a localized metadata line,
// falling back to the current date when unparseable.
func (a *PageAdapter) extractDate(meta string) string {
	m := a.dateRe.FindStringSubmatch(meta)
	if len(m) < 4 {
		return time.Now().Format("2006-01-02")
	}

	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])

	return fmt.Sprintf("%04d-%02d-%02d", year, month, day)
}

func usableHref(href string) bool {
	return href != "" && !strings.HasPrefix(href, "#") && !strings.HasPrefix(href, "javascript:")
}

func resolveURL(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}

	return base.ResolveReference(ref).String()
}

func urlTail(s string) string {
	if q := strings.IndexByte(s, '?'); q >= 0 {
		s = s[:q]
	}
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		s = s[i+1:]
	}
	if s == "" {
		return ""
	}

	if dec, err := url.PathUnescape(s); err == nil {
		return dec
	}

	return s
}
