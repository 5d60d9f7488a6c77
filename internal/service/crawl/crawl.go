// Package crawl walks the content areas of one course: depth-first folder
// recursion, pagination, and handoff of file nodes to the download pool. The
// crawl itself is sequential; only leaf downloads within one page run in
// parallel.
package crawl

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"time"

	"github.com/shihuaidexianyu/PKU-Get/internal/adapter/pageadapter"
	"github.com/shihuaidexianyu/PKU-Get/internal/common"
	"github.com/shihuaidexianyu/PKU-Get/internal/config"
	"github.com/shihuaidexianyu/PKU-Get/internal/entity"
	"github.com/shihuaidexianyu/PKU-Get/internal/util"
)

const unnamedFolder = "Unnamed_Folder"

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type Parser interface {
	ParseContentPage(r io.Reader, base *url.URL) (*pageadapter.ContentPage, error)
	SuggestedFileName(displayName, targetURL string) string
}

type Downloads interface {
	Run(ctx context.Context, scope *entity.CourseScope, tasks []entity.DownloadTask)
}

type FS interface {
	EnsureDir(path string) error
}

// VisitSet guards one course's crawl against cyclic or duplicate folder
// links. Keys are hashes of the canonicalized URL. It is owned by a single
// crawl routine; no locking needed.
type VisitSet struct {
	seen map[string]struct{}
}

func NewVisitSet() *VisitSet {
	return &VisitSet{seen: make(map[string]struct{})}
}

// Add marks rawURL visited and reports whether it was new.
func (v *VisitSet) Add(rawURL string) bool {
	key := canonicalKey(rawURL)
	if _, exists := v.seen[key]; exists {
		return false
	}
	v.seen[key] = struct{}{}

	return true
}

func canonicalKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return util.GetIDFromString(&rawURL)
	}

	u.Fragment = ""
	u.RawQuery = u.Query().Encode() // sorted keys
	canonical := u.String()

	return util.GetIDFromString(&canonical)
}

type Crawler struct {
	client HTTPClient
	parser Parser
	pool   Downloads
	fs     FS
	cfg    *config.SyncConfig
	log    *slog.Logger
}

func NewCrawler(client HTTPClient, parser Parser, pool Downloads, fs FS, cfg *config.SyncConfig, log *slog.Logger) *Crawler {
	return &Crawler{
		client: client,
		parser: parser,
		pool:   pool,
		fs:     fs,
		cfg:    cfg,
		log:    log.With(slog.String("item", "Crawler")),
	}
}

// CrawlArea processes one content area (or folder subtree) into localDir,
// following pagination and recursing into unvisited folders. Network or parse
// failure terminates only this area's traversal; it is logged, not escalated.
func (c *Crawler) CrawlArea(ctx context.Context, scope *entity.CourseScope, areaURL, localDir string, visited *VisitSet) {
	current := areaURL

	for current != "" {
		if ctx.Err() != nil {
			return
		}

		page, err := c.fetchPage(ctx, current)
		if err != nil {
			c.log.Error("Cannot process content page",
				slog.String("url", current),
				slog.String("kind", common.Classify(err)),
				slog.Any("error", err))
			return
		}

		var tasks []entity.DownloadTask
		var folders []entity.ContentNode
		for _, node := range page.Nodes {
			switch node.Kind {
			case entity.NodeFolder:
				folders = append(folders, node)
			case entity.NodeFile:
				tasks = append(tasks, entity.DownloadTask{
					RemoteURL:     node.TargetURL,
					SuggestedName: c.parser.SuggestedFileName(node.DisplayName, node.TargetURL),
					LocalDir:      localDir,
				})
			}
		}

		// Leaf downloads of this page run on the pool and are fully drained
		// before the crawl advances.
		c.pool.Run(ctx, scope, tasks)

		for _, folder := range folders {
			if !visited.Add(folder.TargetURL) {
				continue
			}

			name := folder.DisplayName
			if name == "" {
				name = unnamedFolder
			}
			dir := filepath.Join(localDir, util.SanitizeName(name))
			if err := c.fs.EnsureDir(dir); err != nil {
				c.log.Error("Cannot create folder", slog.String("path", dir), slog.Any("error", err))
				continue
			}

			c.CrawlArea(ctx, scope, folder.TargetURL, dir, visited)
		}

		next := page.NextPageURL
		if next == "" || next == current {
			return
		}
		current = next

		// Politeness delay between successive pagination fetches.
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.PageDelay()):
		}
	}
}

// fetchPage fetches and classifies one page, using the final post-redirect
// URL as the base for link resolution.
func (c *Crawler) fetchPage(ctx context.Context, pageURL string) (*pageadapter.ContentPage, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.PageTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("cannot build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cannot fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &common.StatusError{Code: resp.StatusCode}
	}

	page, err := c.parser.ParseContentPage(resp.Body, resp.Request.URL)
	if err != nil {
		return nil, fmt.Errorf("cannot classify page: %w", err)
	}

	return page, nil
}
