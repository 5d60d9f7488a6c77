// Package notify converts announcement list pages into self-contained
// Markdown documents with locally extracted images. Re-runs are idempotent:
// an item whose output file already exists is skipped without diffing.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"gopkg.in/yaml.v2"

	"github.com/shihuaidexianyu/PKU-Get/internal/adapter/pageadapter"
	"github.com/shihuaidexianyu/PKU-Get/internal/common"
	"github.com/shihuaidexianyu/PKU-Get/internal/config"
	"github.com/shihuaidexianyu/PKU-Get/internal/entity"
	"github.com/shihuaidexianyu/PKU-Get/internal/util"
)

const (
	assetsDirName   = "assets"
	defaultImageExt = ".jpg"
	noContentText   = "[Could not extract content]"
)

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type Parser interface {
	ParseAnnouncements(r io.Reader, base *url.URL) ([]pageadapter.Announcement, error)
}

type FS interface {
	EnsureDir(path string) error
	Exists(path string) bool
	WriteFile(path string, data []byte) error
}

type Tracker interface {
	Record(outcome entity.FileOutcome)
	NotificationNew()
}

// Frontmatter indexes a saved notification for downstream tooling.
type Frontmatter struct {
	Title  string `yaml:"title"`
	Date   string `yaml:"date"`
	Source string `yaml:"source"`
}

type Converter struct {
	client  HTTPClient
	parser  Parser
	fs      FS
	cfg     *config.SyncConfig
	tracker Tracker
	log     *slog.Logger
}

func NewConverter(client HTTPClient, parser Parser, fs FS, cfg *config.SyncConfig, tracker Tracker, log *slog.Logger) *Converter {
	return &Converter{
		client:  client,
		parser:  parser,
		fs:      fs,
		cfg:     cfg,
		tracker: tracker,
		log:     log.With(slog.String("item", "Converter")),
	}
}

// Process fetches one announcement area and writes each item as
// {date}_{sanitizedTitle}.md under localDir, images under assets/. Failure of
// one item is isolated; it does not stop subsequent items.
func (c *Converter) Process(ctx context.Context, scope *entity.CourseScope, areaURL, localDir string) error {
	base, items, err := c.fetchAnnouncements(ctx, areaURL)
	if err != nil {
		return fmt.Errorf("cannot fetch announcements: %w", err)
	}

	if len(items) == 0 {
		c.log.Info("No announcements found", slog.String("url", areaURL))
		return nil
	}

	if err := c.fs.EnsureDir(localDir); err != nil {
		return err
	}
	assetsDir := filepath.Join(localDir, assetsDirName)
	if err := c.fs.EnsureDir(assetsDir); err != nil {
		return err
	}

	saved := 0
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}

		if c.processItem(ctx, scope, base, item, localDir, assetsDir) {
			saved++
		}
	}

	if saved > 0 {
		c.log.Info("Saved notifications", slog.Int("count", saved), slog.String("course", scope.CourseName))
	}

	return nil
}

func (c *Converter) processItem(ctx context.Context, scope *entity.CourseScope, base *url.URL, item pageadapter.Announcement, localDir, assetsDir string) bool {
	safeTitle := util.SanitizeName(item.Title)
	filename := fmt.Sprintf("%s_%s.md", item.DateStr, safeTitle)
	path := filepath.Join(localDir, filename)
	relName := filepath.ToSlash(filepath.Join(filepath.Base(localDir), filename))

	if c.fs.Exists(path) {
		c.log.Info("Notification already exists", slog.String("name", filename))
		c.record(scope, entity.FileOutcome{
			Status: entity.StatusSkipped,
			Name:   relName,
			Reason: "already_exists",
		})
		return false
	}

	body := noContentText
	if item.Body != nil {
		prefix := fmt.Sprintf("%s_%s", item.DateStr, safeTitle)
		c.extractImages(ctx, item, base, assetsDir, prefix)
		body = htmlToMarkdown(item.Body)
	}

	content, err := composeMarkdown(item, base, body)
	if err != nil {
		c.log.Error("Cannot compose notification", slog.String("name", filename), slog.Any("error", err))
		return false
	}

	if err := c.fs.WriteFile(path, content); err != nil {
		c.log.Error("Cannot save notification", slog.String("name", filename), slog.Any("error", err))
		c.record(scope, entity.FileOutcome{
			Status:    entity.StatusFailed,
			Name:      relName,
			Error:     err.Error(),
			ErrorType: common.Classify(err),
		})
		return false
	}

	c.record(scope, entity.FileOutcome{
		Status: entity.StatusDownloaded,
		Name:   relName,
		Size:   int64(len(content)),
	})
	c.tracker.NotificationNew()

	return true
}

// extractImages downloads every inline image of the item body into assetsDir
// and rewrites the reference to a relative Markdown image link. A failed
// image keeps its original remote URL rather than aborting the item.
func (c *Converter) extractImages(ctx context.Context, item pageadapter.Announcement, base *url.URL, assetsDir, prefix string) {
	index := 0

	item.Body.Find("img").Each(func(_ int, img *goquery.Selection) {
		src, ok := img.Attr("src")
		if !ok || src == "" {
			return
		}

		imgURL := src
		if ref, err := url.Parse(strings.TrimSpace(src)); err == nil {
			imgURL = base.ResolveReference(ref).String()
		}
		alt := img.AttrOr("alt", "image")

		data, contentType, err := c.fetchImage(ctx, imgURL)
		if err != nil {
			c.log.Warn("Cannot download image", slog.String("url", imgURL), slog.Any("error", err))
			replaceWithMarkdown(img, fmt.Sprintf("![%s](%s)", alt, imgURL))
			return
		}

		ext := util.ExtensionForMIME(contentType)
		if ext == "" {
			ext = util.ExistingExtension(urlPath(imgURL))
		}
		if ext == "" {
			ext = defaultImageExt
		}

		name := fmt.Sprintf("%s_img%d%s", prefix, index, ext)
		if err := c.fs.WriteFile(filepath.Join(assetsDir, name), data); err != nil {
			c.log.Warn("Cannot save image", slog.String("name", name), slog.Any("error", err))
			replaceWithMarkdown(img, fmt.Sprintf("![%s](%s)", alt, imgURL))
			return
		}

		replaceWithMarkdown(img, fmt.Sprintf("![%s](%s/%s)", alt, assetsDirName, name))
		index++
	})
}

func (c *Converter) fetchAnnouncements(ctx context.Context, areaURL string) (*url.URL, []pageadapter.Announcement, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.PageTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, areaURL, nil)
	if err != nil {
		return nil, nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, nil, &common.StatusError{Code: resp.StatusCode}
	}

	items, err := c.parser.ParseAnnouncements(resp.Body, resp.Request.URL)
	if err != nil {
		return nil, nil, err
	}

	return resp.Request.URL, items, nil
}

func (c *Converter) fetchImage(ctx context.Context, imgURL string) ([]byte, string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.PageTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, imgURL, nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, "", &common.StatusError{Code: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}

	return data, resp.Header.Get("Content-Type"), nil
}

func (c *Converter) record(scope *entity.CourseScope, outcome entity.FileOutcome) {
	outcome.Course = scope.CourseName
	outcome.CourseID = scope.CourseID
	c.tracker.Record(outcome)
}

// composeMarkdown assembles frontmatter, title heading, metadata blockquote
// and the converted body.
func composeMarkdown(item pageadapter.Announcement, base *url.URL, body string) ([]byte, error) {
	fm, err := yaml.Marshal(Frontmatter{
		Title:  item.Title,
		Date:   item.DateStr,
		Source: base.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("cannot marshal frontmatter: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(fm)
	buf.WriteString("---\n\n")
	buf.WriteString("# " + item.Title + "\n\n")
	if item.Meta != "" {
		buf.WriteString("> " + item.Meta + "\n\n")
	}
	buf.WriteString(body)
	buf.WriteString("\n")

	return buf.Bytes(), nil
}

func urlPath(rawURL string) string {
	if q := strings.IndexByte(rawURL, '?'); q >= 0 {
		rawURL = rawURL[:q]
	}

	return rawURL
}
