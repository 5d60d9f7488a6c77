package crawl

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shihuaidexianyu/PKU-Get/internal/adapter/fsadapter"
	"github.com/shihuaidexianyu/PKU-Get/internal/adapter/pageadapter"
	"github.com/shihuaidexianyu/PKU-Get/internal/config"
	"github.com/shihuaidexianyu/PKU-Get/internal/entity"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// taskSink stands in for the download pool and records every handed-off batch.
type taskSink struct {
	mu   sync.Mutex
	runs [][]entity.DownloadTask
}

func (s *taskSink) Run(_ context.Context, _ *entity.CourseScope, tasks []entity.DownloadTask) {
	if len(tasks) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs = append(s.runs, tasks)
}

func (s *taskSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var names []string
	for _, run := range s.runs {
		for _, task := range run {
			names = append(names, task.SuggestedName)
		}
	}

	return names
}

func newTestCrawler(memFS afero.Fs) (*Crawler, *taskSink) {
	cfg := &config.SyncConfig{PageTimeoutSec: 5, PageDelayMS: 1}
	sink := &taskSink{}
	parser := pageadapter.New(&config.Default().Vocabulary, testLogger())
	c := NewCrawler(http.DefaultClient, parser, sink, fsadapter.NewFSAdapterWithFS(memFS, testLogger()), cfg, testLogger())

	return c, sink
}

func contentList(items string) string {
	return fmt.Sprintf(`<html><body><ul id="content_listContainer">%s</ul></body></html>`, items)
}

func TestCrawlAreaRecursesAndBreaksCycles(t *testing.T) {
	fetches := make(map[string]int)
	var mu sync.Mutex

	mux := http.NewServeMux()
	mux.HandleFunc("/webapps/blackboard/content/listContent.jsp", func(w http.ResponseWriter, r *http.Request) {
		contentID := r.URL.Query().Get("content_id")

		mu.Lock()
		fetches[contentID]++
		mu.Unlock()

		switch contentID {
		case "_1_1":
			io.WriteString(w, contentList(
				`<li><a href="/bbcswebdav/pid-1/report.pdf">report.pdf</a></li>
				 <li class="folder"><a href="/webapps/blackboard/content/listContent.jsp?content_id=_2_1">第一章</a></li>`))
		case "_2_1":
			// The folder links back to itself; the visit set must stop the loop.
			io.WriteString(w, contentList(
				`<li><a href="/bbcswebdav/pid-2/notes.pdf">notes.pdf</a></li>
				 <li class="folder"><a href="/webapps/blackboard/content/listContent.jsp?content_id=_2_1">第一章</a></li>`))
		default:
			http.NotFound(w, r)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	memFS := afero.NewMemMapFs()
	c, sink := newTestCrawler(memFS)

	scope := &entity.CourseScope{CourseID: "_42_1", CourseName: "课程", CourseDir: "/course"}
	c.CrawlArea(context.Background(), scope, srv.URL+"/webapps/blackboard/content/listContent.jsp?content_id=_1_1", "/course", NewVisitSet())

	assert.ElementsMatch(t, []string{"report.pdf", "notes.pdf"}, sink.names())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, fetches["_1_1"])
	assert.Equal(t, 1, fetches["_2_1"], "self-linking folder fetched exactly once")

	exists, _ := afero.DirExists(memFS, "/course/第一章")
	assert.True(t, exists, "folder mirrored locally")
}

func TestCrawlAreaFollowsPagination(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/webapps/blackboard/content/listContent.jsp", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			io.WriteString(w, contentList(`<li><a href="/bbcswebdav/b.pdf">b.pdf</a></li>`))
			return
		}

		io.WriteString(w, `<html><body>
			<ul id="content_listContainer"><li><a href="/bbcswebdav/a.pdf">a.pdf</a></li></ul>
			<a title="下一页" href="?content_id=_1_1&page=2">›</a>
			</body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, sink := newTestCrawler(afero.NewMemMapFs())

	scope := &entity.CourseScope{CourseID: "_42_1", CourseName: "课程", CourseDir: "/course"}
	c.CrawlArea(context.Background(), scope, srv.URL+"/webapps/blackboard/content/listContent.jsp?content_id=_1_1", "/course", NewVisitSet())

	// The first page's batch is drained before the crawl advances, so order is
	// deterministic.
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, sink.names())
}

func TestCrawlAreaSurvivesUnparseablePage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "<html><body><p>session expired</p></body></html>")
	}))
	defer srv.Close()

	c, sink := newTestCrawler(afero.NewMemMapFs())

	scope := &entity.CourseScope{CourseID: "_42_1", CourseName: "课程", CourseDir: "/course"}
	c.CrawlArea(context.Background(), scope, srv.URL+"/area", "/course", NewVisitSet())

	assert.Empty(t, sink.names())
}

func TestCrawlAreaStopsOnCancelledContext(t *testing.T) {
	var fetched bool
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		fetched = true
	}))
	defer srv.Close()

	c, sink := newTestCrawler(afero.NewMemMapFs())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	scope := &entity.CourseScope{CourseID: "_42_1", CourseName: "课程", CourseDir: "/course"}
	c.CrawlArea(ctx, scope, srv.URL+"/area", "/course", NewVisitSet())

	assert.False(t, fetched)
	assert.Empty(t, sink.names())
}

func TestVisitSetCanonicalizes(t *testing.T) {
	v := NewVisitSet()

	require.True(t, v.Add("https://x/list?b=2&a=1"))
	assert.False(t, v.Add("https://x/list?a=1&b=2"), "query order must not matter")
	assert.False(t, v.Add("https://x/list?b=2&a=1#frag"), "fragment must not matter")
	assert.True(t, v.Add("https://x/list?a=1&b=3"))
}
