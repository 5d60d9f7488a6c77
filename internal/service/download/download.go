// Package download runs the bounded worker pool that turns DownloadTasks into
// exactly one FileOutcome each. Failures are isolated per task and never
// abort sibling downloads.
package download

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"

	"github.com/shihuaidexianyu/PKU-Get/internal/common"
	"github.com/shihuaidexianyu/PKU-Get/internal/config"
	"github.com/shihuaidexianyu/PKU-Get/internal/entity"
	"github.com/shihuaidexianyu/PKU-Get/internal/util"
)

const (
	sniffChunkSize = 8192
	copyChunkSize  = 32 * 1024

	ReasonAlreadyExists = "already_exists"
	ReasonSameSize      = "same_size"
)

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type FS interface {
	EnsureDir(path string) error
	Exists(path string) bool
	Size(path string) (int64, bool)
	Create(path string) (io.WriteCloser, error)
	RemoveIfEmpty(path string)
}

type Tracker interface {
	Record(outcome entity.FileOutcome)
	FileStarted(name string, size int64)
	FileProgress(done, total int64)
	FileDone()
}

type Downloader struct {
	client  HTTPClient
	fs      FS
	cfg     *config.SyncConfig
	tracker Tracker
	log     *slog.Logger
}

func NewDownloader(client HTTPClient, fs FS, cfg *config.SyncConfig, tracker Tracker, log *slog.Logger) *Downloader {
	return &Downloader{
		client:  client,
		fs:      fs,
		cfg:     cfg,
		tracker: tracker,
		log:     log.With(slog.String("item", "Downloader")),
	}
}

// Run drains the tasks of one content-area page through the worker pool.
// It returns after every task has produced its outcome.
func (d *Downloader) Run(ctx context.Context, scope *entity.CourseScope, tasks []entity.DownloadTask) {
	if len(tasks) == 0 {
		return
	}

	in := make(chan entity.DownloadTask, len(tasks))
	for _, task := range tasks {
		in <- task
	}
	close(in)

	workers := d.cfg.ConcurrentDownloads
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	wg.Add(workers)
	for n := 0; n < workers; n++ {
		go d.worker(ctx, n, scope, in, &wg)
	}

	wg.Wait()
}

func (d *Downloader) worker(ctx context.Context, n int, scope *entity.CourseScope, in chan entity.DownloadTask, wg *sync.WaitGroup) {
	defer wg.Done()

	log := d.log.With(slog.Int("worker_id", n))
	for task := range in {
		d.process(ctx, log, scope, task)
	}
}

func (d *Downloader) process(ctx context.Context, log *slog.Logger, scope *entity.CourseScope, task entity.DownloadTask) {
	// Metadata probe; its failure is tolerated.
	remoteSize, headCT := d.probe(ctx, task.RemoteURL)
	d.tracker.FileStarted(task.SuggestedName, remoteSize)

	baseName := util.SanitizeName(task.SuggestedName)
	existingExt := util.ExistingExtension(baseName)

	tentative := baseName
	if existingExt == "" {
		if ext := util.ExtensionForMIME(headCT); ext != "" {
			tentative += ext
		}
	}
	path := filepath.Join(task.LocalDir, tentative)

	if skipped, outcome := d.overwriteDecision(path, remoteSize); skipped {
		log.Info("Skip existing file", slog.String("path", path), slog.String("reason", outcome.Reason))
		d.finish(scope, task, outcome)
		return
	}

	outcome := d.fetch(ctx, log, scope, task, path, existingExt == "")
	d.finish(scope, task, outcome)
}

// overwriteDecision applies the run's overwrite mode against the existing
// local file at path. Mode always skips the check entirely.
func (d *Downloader) overwriteDecision(path string, remoteSize int64) (bool, entity.FileOutcome) {
	if d.cfg.Overwrite == config.OverwriteAlways || !d.fs.Exists(path) {
		return false, entity.FileOutcome{}
	}

	switch d.cfg.Overwrite {
	case config.OverwriteNever:
		return true, entity.FileOutcome{
			Status: entity.StatusSkipped,
			Name:   path,
			Reason: ReasonAlreadyExists,
		}
	case config.OverwriteSize:
		if remoteSize > -1 {
			if size, ok := d.fs.Size(path); ok && size == remoteSize {
				return true, entity.FileOutcome{
					Status: entity.StatusSkipped,
					Name:   path,
					Size:   remoteSize,
					Reason: ReasonSameSize,
				}
			}
		}
	}

	return false, entity.FileOutcome{}
}

func (d *Downloader) fetch(ctx context.Context, log *slog.Logger, scope *entity.CourseScope, task entity.DownloadTask, path string, refineExt bool) entity.FileOutcome {
	if err := d.fs.EnsureDir(task.LocalDir); err != nil {
		return failedOutcome(path, task.RemoteURL, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, d.cfg.DownloadTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, task.RemoteURL, nil)
	if err != nil {
		return failedOutcome(path, task.RemoteURL, err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return failedOutcome(path, task.RemoteURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return failedOutcome(path, task.RemoteURL, &common.StatusError{Code: resp.StatusCode})
	}

	if headerName := util.FilenameFromHeaders(resp.Header.Get("Content-Disposition")); headerName != "" {
		path = filepath.Join(task.LocalDir, util.SanitizeName(headerName))
	}

	total := resp.ContentLength
	d.tracker.FileProgress(0, total)

	// First chunk is read into memory to sniff content before committing to
	// a final name.
	buf := make([]byte, sniffChunkSize)
	n, err := io.ReadFull(resp.Body, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return failedOutcome(path, task.RemoteURL, err)
	}
	head := buf[:n]

	// Extension refinement happens only when the original suggested name had
	// no plausible extension.
	if refineExt {
		if ext, source, ok := util.ChooseExtension(filepath.Base(path), resp.Header.Get("Content-Type"), head); ok {
			log.Debug("Inferred extension",
				slog.String("name", filepath.Base(path)),
				slog.String("ext", ext),
				slog.String("source", string(source)))

			base := filepath.Base(path)
			refined := filepath.Join(task.LocalDir, util.SanitizeName(strings.TrimSuffix(base, filepath.Ext(base))+ext))

			if d.fs.Exists(refined) && total > -1 {
				if size, ok := d.fs.Size(refined); ok && size == total {
					return entity.FileOutcome{
						Status: entity.StatusSkipped,
						Name:   refined,
						Size:   total,
						Reason: ReasonSameSize,
					}
				}
			}

			path = refined
		}
	}

	written, err := d.stream(resp.Body, path, head, total)
	if err != nil {
		d.fs.RemoveIfEmpty(path)
		return failedOutcome(path, task.RemoteURL, err)
	}

	log.Info("Downloaded", slog.String("path", path), slog.Int64("size", written))

	return entity.FileOutcome{
		Status: entity.StatusDownloaded,
		Name:   path,
		Size:   written,
		URL:    task.RemoteURL,
	}
}

// stream writes the sniffed head plus the rest of the body to path, updating
// fractional progress as bytes arrive when the total size is known.
func (d *Downloader) stream(body io.Reader, path string, head []byte, total int64) (int64, error) {
	f, err := d.fs.Create(path)
	if err != nil {
		return 0, err
	}

	var written int64
	if len(head) > 0 {
		if _, err := f.Write(head); err != nil {
			f.Close()
			return 0, err
		}
		written = int64(len(head))
		d.tracker.FileProgress(written, total)
	}

	buf := make([]byte, copyChunkSize)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				f.Close()
				return written, werr
			}
			written += int64(n)
			d.tracker.FileProgress(written, total)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			f.Close()
			return written, rerr
		}
	}

	if err := f.Close(); err != nil {
		return written, err
	}

	return written, nil
}

// probe issues a HEAD request with a short timeout for the expected size and
// Content-Type. Failure yields unknowns (size -1).
func (d *Downloader) probe(ctx context.Context, url string) (int64, string) {
	reqCtx, cancel := context.WithTimeout(ctx, d.cfg.ProbeTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, url, nil)
	if err != nil {
		return -1, ""
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return -1, ""
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return -1, ""
	}

	return resp.ContentLength, resp.Header.Get("Content-Type")
}

// finish attributes the outcome to the course and records it.
func (d *Downloader) finish(scope *entity.CourseScope, task entity.DownloadTask, outcome entity.FileOutcome) {
	outcome.Name = relativeName(scope.CourseDir, outcome.Name)
	outcome.Course = scope.CourseName
	outcome.CourseID = scope.CourseID

	if outcome.Status == entity.StatusFailed {
		d.log.Warn("Download failed",
			slog.String("name", outcome.Name),
			slog.String("url", task.RemoteURL),
			slog.String("error_type", outcome.ErrorType),
			slog.String("error", outcome.Error))
	}

	d.tracker.Record(outcome)
	d.tracker.FileDone()
}

func failedOutcome(path, url string, err error) entity.FileOutcome {
	return entity.FileOutcome{
		Status:    entity.StatusFailed,
		Name:      path,
		URL:       url,
		Error:     err.Error(),
		ErrorType: common.Classify(err),
	}
}

// relativeName records paths relative to the course root with forward
// slashes, so nested folders stay readable in the report.
func relativeName(courseDir, path string) string {
	if courseDir == "" || path == "" {
		return filepath.Base(path)
	}

	rel, err := filepath.Rel(courseDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.Base(path)
	}

	return filepath.ToSlash(rel)
}
