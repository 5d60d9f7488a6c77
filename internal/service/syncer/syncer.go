// Package syncer orchestrates a sync run: course by course, area by area,
// routing announcement areas to the converter and everything else to the
// crawler. The report is finalized and persisted even when a course blows up
// partway through.
package syncer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"sync"

	"github.com/shihuaidexianyu/PKU-Get/internal/common"
	"github.com/shihuaidexianyu/PKU-Get/internal/config"
	"github.com/shihuaidexianyu/PKU-Get/internal/entity"
	"github.com/shihuaidexianyu/PKU-Get/internal/service/crawl"
	"github.com/shihuaidexianyu/PKU-Get/internal/util"
)

const (
	notificationsDirName = "Notifications"
	areaFetchWorkers     = 10
)

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type Parser interface {
	ParseMenu(r io.Reader, base *url.URL) ([]entity.ContentArea, error)
	IsAnnouncementArea(name string) bool
}

type Crawler interface {
	CrawlArea(ctx context.Context, scope *entity.CourseScope, areaURL, localDir string, visited *crawl.VisitSet)
}

type Notifier interface {
	Process(ctx context.Context, scope *entity.CourseScope, areaURL, localDir string) error
}

type Tracker interface {
	SetPhase(phase entity.Phase)
	BeginCourse(index, total int, name string)
	Finalize() *entity.SyncReport
}

type Reports interface {
	Save(rep *entity.SyncReport) (string, error)
}

type FS interface {
	EnsureDir(path string) error
}

type Service struct {
	client  HTTPClient
	parser  Parser
	crawler Crawler
	notify  Notifier
	tracker Tracker
	reports Reports
	fs      FS
	cfg     *config.SyncConfig
	log     *slog.Logger
}

func New(client HTTPClient, parser Parser, crawler Crawler, notify Notifier, tracker Tracker, reports Reports, fs FS, cfg *config.SyncConfig, log *slog.Logger) *Service {
	return &Service{
		client:  client,
		parser:  parser,
		crawler: crawler,
		notify:  notify,
		tracker: tracker,
		reports: reports,
		fs:      fs,
		cfg:     cfg,
		log:     log.With(slog.String("item", "SyncService")),
	}
}

// Run synchronizes the given courses in order. Cancellation is cooperative:
// no new course starts after ctx is done, in-flight work finishes naturally.
// The report is always finalized and persisted, whatever happens inside the
// course loop.
func (s *Service) Run(ctx context.Context, courses []entity.Course) (rep *entity.SyncReport) {
	s.tracker.SetPhase(entity.PhaseDownloading)

	defer func() {
		s.tracker.SetPhase(entity.PhaseComplete)
		rep = s.tracker.Finalize()
		if _, err := s.reports.Save(rep); err != nil {
			s.log.Error("Cannot save sync report", slog.Any("error", err))
		}
	}()

	for i, course := range courses {
		if ctx.Err() != nil {
			s.log.Info("Sync interrupted", slog.Int("courses_done", i))
			break
		}

		s.syncCourse(ctx, i, len(courses), course)
	}

	return rep
}

func (s *Service) syncCourse(ctx context.Context, index, total int, course entity.Course) {
	rawName := course.Alias
	if rawName == "" {
		rawName = course.Name
	}
	if rawName == "" {
		rawName = fmt.Sprintf("Course_%s", course.ID)
	}
	name := util.SanitizeName(rawName)
	log := s.log.With(slog.String("course", name))

	s.tracker.BeginCourse(index+1, total, name)

	if course.StartURL == "" {
		log.Warn("Course has no start URL, skipping")
		return
	}
	if len(course.SelectedAreas) == 0 {
		log.Info("No areas selected, skipping course")
		return
	}

	dir := filepath.Join(s.cfg.DownloadDir, name)
	if err := s.fs.EnsureDir(dir); err != nil {
		log.Error("Cannot create course directory", slog.Any("error", err))
		return
	}

	areas, err := s.fetchAreas(ctx, course.StartURL)
	if err != nil {
		log.Error("Cannot enumerate content areas", slog.Any("error", err))
		return
	}

	selected := selectAreas(areas, course.SelectedAreas)
	if len(selected) == 0 {
		log.Warn("No matching content areas for selection")
		return
	}

	scope := &entity.CourseScope{
		CourseID:   course.ID,
		CourseName: name,
		CourseDir:  dir,
	}
	visited := crawl.NewVisitSet()

	for _, area := range selected {
		if ctx.Err() != nil {
			return
		}

		areaName := util.SanitizeName(area.Name)
		log.Info("Processing area", slog.String("area", areaName))

		if s.parser.IsAnnouncementArea(areaName) {
			notifyDir := filepath.Join(dir, notificationsDirName)
			if err := s.notify.Process(ctx, scope, area.URL, notifyDir); err != nil {
				log.Error("Cannot process notifications", slog.String("area", areaName), slog.Any("error", err))
			}
			continue
		}

		areaDir := dir
		if !course.Flatten {
			areaDir = filepath.Join(dir, areaName)
			if err := s.fs.EnsureDir(areaDir); err != nil {
				log.Error("Cannot create area directory", slog.Any("error", err))
				continue
			}
		}

		s.crawler.CrawlArea(ctx, scope, area.URL, areaDir, visited)
	}
}

// FetchAreas discovers the content areas of every course concurrently, for
// collaborators that present selectable tabs. Per-course failure yields an
// empty list for that course only.
func (s *Service) FetchAreas(ctx context.Context, courses []entity.Course) map[string][]entity.ContentArea {
	in := make(chan entity.Course, len(courses))
	for _, course := range courses {
		in <- course
	}
	close(in)

	type result struct {
		id    string
		areas []entity.ContentArea
	}
	out := make(chan result, len(courses))

	workers := areaFetchWorkers
	if len(courses) < workers {
		workers = len(courses)
	}

	var wg sync.WaitGroup
	wg.Add(workers)
	for n := 0; n < workers; n++ {
		go func() {
			defer wg.Done()

			for course := range in {
				areas, err := s.fetchAreas(ctx, course.StartURL)
				if err != nil {
					s.log.Error("Cannot fetch course areas",
						slog.String("course_id", course.ID), slog.Any("error", err))
					areas = nil
				}
				out <- result{id: course.ID, areas: areas}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	areas := make(map[string][]entity.ContentArea, len(courses))
	for r := range out {
		areas[r.id] = r.areas
	}

	return areas
}

func (s *Service) fetchAreas(ctx context.Context, startURL string) ([]entity.ContentArea, error) {
	if startURL == "" {
		return nil, fmt.Errorf("course has no start URL")
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.PageTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, startURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cannot fetch course menu: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &common.StatusError{Code: resp.StatusCode}
	}

	areas, err := s.parser.ParseMenu(resp.Body, resp.Request.URL)
	if err != nil {
		return nil, fmt.Errorf("cannot parse course menu: %w", err)
	}

	return areas, nil
}

func selectAreas(areas []entity.ContentArea, names []string) []entity.ContentArea {
	want := make(map[string]struct{}, len(names))
	for _, name := range names {
		want[name] = struct{}{}
	}

	var selected []entity.ContentArea
	for _, area := range areas {
		if _, ok := want[area.Name]; ok {
			selected = append(selected, area)
		}
	}

	return selected
}
