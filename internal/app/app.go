package app

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"os"

	"github.com/shihuaidexianyu/PKU-Get/internal/adapter/fsadapter"
	"github.com/shihuaidexianyu/PKU-Get/internal/adapter/pageadapter"
	"github.com/shihuaidexianyu/PKU-Get/internal/config"
	"github.com/shihuaidexianyu/PKU-Get/internal/entity"
	"github.com/shihuaidexianyu/PKU-Get/internal/service/crawl"
	"github.com/shihuaidexianyu/PKU-Get/internal/service/download"
	"github.com/shihuaidexianyu/PKU-Get/internal/service/notify"
	"github.com/shihuaidexianyu/PKU-Get/internal/service/syncer"
	"github.com/shihuaidexianyu/PKU-Get/internal/service/track"
	"github.com/shihuaidexianyu/PKU-Get/internal/storage/report"
)

// App wires the sync engine together. The HTTP client must already carry an
// authenticated portal session; acquiring one is the login collaborator's
// job.
type App struct {
	cfgPath  string
	client   *http.Client
	observer track.Observer
}

func New(cfgPath string, client *http.Client, observer track.Observer) *App {
	return &App{
		cfgPath:  cfgPath,
		client:   client,
		observer: observer,
	}
}

// Run executes one sync over the resolved course list and returns the
// finalized report.
func (a *App) Run(ctx context.Context, courses []entity.Course) *entity.SyncReport {
	cfg := config.MustLoad(a.cfgPath)

	lo := &slog.HandlerOptions{}
	switch cfg.LogLevel {
	case config.LogLevelInfo:
		lo.Level = slog.LevelInfo
	case config.LogLevelWarn:
		lo.Level = slog.LevelWarn
	case config.LogLevelError:
		lo.Level = slog.LevelError
	case config.LogLevelDebug:
		lo.Level = slog.LevelDebug
	default:
		panic("unknown log level")
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, lo))

	client := a.client
	if client == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			panic(err)
		}
		client = &http.Client{Jar: jar}
	}

	fsa := fsadapter.NewFSAdapter(log)
	parser := pageadapter.New(&cfg.Vocabulary, log)

	tracker := track.New(a.observer, track.DefaultInterval, log)
	tracker.Start()

	downloader := download.NewDownloader(client, fsa, &cfg.Sync, tracker, log)
	crawler := crawl.NewCrawler(client, parser, downloader, fsa, &cfg.Sync, log)
	converter := notify.NewConverter(client, parser, fsa, &cfg.Sync, tracker, log)
	reports := report.NewStorage(fsa, cfg.Sync.ReportsDir, log)

	svc := syncer.New(client, parser, crawler, converter, tracker, reports, fsa, &cfg.Sync, log)

	return svc.Run(ctx, courses)
}
