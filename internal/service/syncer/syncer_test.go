package syncer

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shihuaidexianyu/PKU-Get/internal/adapter/fsadapter"
	"github.com/shihuaidexianyu/PKU-Get/internal/adapter/pageadapter"
	"github.com/shihuaidexianyu/PKU-Get/internal/common"
	"github.com/shihuaidexianyu/PKU-Get/internal/config"
	"github.com/shihuaidexianyu/PKU-Get/internal/entity"
	"github.com/shihuaidexianyu/PKU-Get/internal/service/crawl"
	"github.com/shihuaidexianyu/PKU-Get/internal/service/download"
	"github.com/shihuaidexianyu/PKU-Get/internal/service/notify"
	"github.com/shihuaidexianyu/PKU-Get/internal/service/track"
	"github.com/shihuaidexianyu/PKU-Get/internal/storage/report"
)

const (
	menuPage = `<html><body>
<ul id="courseMenuPalette_contents">
	<li><a href="/webapps/blackboard/content/listContent.jsp?content_id=_1_1">教学内容</a></li>
	<li><a href="/announce">课程公告</a></li>
	<li><a href="#">工具</a></li>
</ul>
</body></html>`

	contentPage = `<html><body>
<ul id="content_listContainer">
	<li><a href="/bbcswebdav/pid-1/report.pdf">report.pdf</a></li>
	<li><a href="/bbcswebdav/pid-2/broken.pdf">broken.pdf</a></li>
</ul>
</body></html>`

	announcePage = `<html><body>
<ul id="announcementList">
	<li>
		<h3>考试通知</h3>
		<div class="details">发布时间: 2025年11月15日 星期六</div>
		<div id="announcementMsg_1"><p>下周考试</p></div>
	</li>
</ul>
</body></html>`
)

var pdfBytes = []byte("%PDF-1.4 report body")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newPortal serves one course: a menu, one content area with a good and a
// missing file, and one announcement area.
func newPortal() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/menu", func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, menuPage)
	})
	mux.HandleFunc("/webapps/blackboard/content/listContent.jsp", func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, contentPage)
	})
	mux.HandleFunc("/announce", func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, announcePage)
	})
	mux.HandleFunc("/bbcswebdav/pid-1/report.pdf", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Length", strconv.Itoa(len(pdfBytes)))
		if r.Method == http.MethodHead {
			return
		}
		w.Write(pdfBytes)
	})

	return httptest.NewServer(mux)
}

func newTestService(memFS afero.Fs) *Service {
	log := testLogger()
	cfg := &config.SyncConfig{
		DownloadDir:         "/dl",
		ReportsDir:          "/reports",
		Overwrite:           config.OverwriteNever,
		ConcurrentDownloads: 2,
		ProbeTimeoutSec:     5,
		DownloadTimeoutSec:  5,
		PageTimeoutSec:      5,
		PageDelayMS:         1,
	}

	fs := fsadapter.NewFSAdapterWithFS(memFS, log)
	parser := pageadapter.New(&config.Default().Vocabulary, log)

	tracker := track.New(nil, 0, log)
	tracker.Start()

	pool := download.NewDownloader(http.DefaultClient, fs, cfg, tracker, log)
	crawler := crawl.NewCrawler(http.DefaultClient, parser, pool, fs, cfg, log)
	converter := notify.NewConverter(http.DefaultClient, parser, fs, cfg, tracker, log)
	reports := report.NewStorage(fs, cfg.ReportsDir, log)

	return New(http.DefaultClient, parser, crawler, converter, tracker, reports, fs, cfg, log)
}

func TestRunSyncsCourseEndToEnd(t *testing.T) {
	srv := newPortal()
	defer srv.Close()

	memFS := afero.NewMemMapFs()
	svc := newTestService(memFS)

	rep := svc.Run(context.Background(), []entity.Course{{
		ID:            "_42_1",
		Name:          "算法设计",
		StartURL:      srv.URL + "/menu",
		SelectedAreas: []string{"教学内容", "课程公告"},
	}})
	require.NotNil(t, rep)

	// One file downloaded, one notification saved, one file 404ed.
	assert.Equal(t, entity.ReportPartialFailure, rep.Status)
	assert.Equal(t, 2, rep.Summary.Downloaded)
	assert.Equal(t, 1, rep.Summary.Failed)
	assert.Equal(t, 1, rep.Summary.NotificationsNew)

	got, err := afero.ReadFile(memFS, "/dl/算法设计/教学内容/report.pdf")
	require.NoError(t, err)
	assert.Equal(t, pdfBytes, got)

	exists, _ := afero.Exists(memFS, "/dl/算法设计/Notifications/2025-11-15_考试通知.md")
	assert.True(t, exists)

	// The persisted report must match what Run returned.
	data, err := afero.ReadFile(memFS, "/reports/"+rep.SyncID+".json")
	require.NoError(t, err)

	var saved entity.SyncReport
	require.NoError(t, json.Unmarshal(data, &saved))
	assert.Equal(t, rep.SyncID, saved.SyncID)
	assert.Equal(t, rep.Status, saved.Status)
	assert.Equal(t, rep.Summary, saved.Summary)
}

func TestRunFlattenMergesAreasIntoCourseRoot(t *testing.T) {
	srv := newPortal()
	defer srv.Close()

	memFS := afero.NewMemMapFs()
	svc := newTestService(memFS)

	svc.Run(context.Background(), []entity.Course{{
		ID:            "_42_1",
		Name:          "算法设计",
		StartURL:      srv.URL + "/menu",
		SelectedAreas: []string{"教学内容"},
		Flatten:       true,
	}})

	exists, _ := afero.Exists(memFS, "/dl/算法设计/report.pdf")
	assert.True(t, exists, "flatten puts files directly under the course root")
}

func TestRunSkipsCoursesWithoutSelection(t *testing.T) {
	srv := newPortal()
	defer srv.Close()

	memFS := afero.NewMemMapFs()
	svc := newTestService(memFS)

	rep := svc.Run(context.Background(), []entity.Course{
		{ID: "_1_1", Name: "未选", StartURL: srv.URL + "/menu"},
		{ID: "_2_1", Name: "无地址", SelectedAreas: []string{"教学内容"}},
	})

	assert.Equal(t, entity.ReportSuccess, rep.Status)
	assert.Equal(t, entity.Summary{}, rep.Summary)

	exists, _ := afero.DirExists(memFS, "/dl/未选")
	assert.False(t, exists, "skipped course leaves no directory")
}

func TestRunAlwaysPersistsReport(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // menu unreachable

	memFS := afero.NewMemMapFs()
	svc := newTestService(memFS)

	rep := svc.Run(context.Background(), []entity.Course{{
		ID:            "_42_1",
		Name:          "算法设计",
		StartURL:      srv.URL + "/menu",
		SelectedAreas: []string{"教学内容"},
	}})
	require.NotNil(t, rep)

	exists, _ := afero.Exists(memFS, "/reports/"+rep.SyncID+".json")
	assert.True(t, exists, "report persisted even when every course fails")
}

func TestFetchAreasRejectsErrorPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, "<html><body>session expired</body></html>")
	}))
	defer srv.Close()

	svc := newTestService(afero.NewMemMapFs())

	_, err := svc.fetchAreas(context.Background(), srv.URL+"/menu")
	require.Error(t, err)
	assert.Equal(t, common.KindNetwork, common.Classify(err), "an error page is a network failure, not a parse failure")
}

func TestFetchAreasConcurrent(t *testing.T) {
	srv := newPortal()
	defer srv.Close()

	memFS := afero.NewMemMapFs()
	svc := newTestService(memFS)

	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()

	areas := svc.FetchAreas(context.Background(), []entity.Course{
		{ID: "_1_1", StartURL: srv.URL + "/menu"},
		{ID: "_2_1", StartURL: dead.URL + "/menu"},
	})

	require.Len(t, areas, 2)
	assert.Len(t, areas["_1_1"], 2, "anchor-only menu entries discarded")
	assert.Empty(t, areas["_2_1"])
}
