// Package track aggregates per-file outcomes and progress updates from the
// crawl routine and the download workers. All mutation flows through a single
// event channel consumed by one goroutine, so pool workers never share
// counters.
package track

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shihuaidexianyu/PKU-Get/internal/entity"
)

// DefaultInterval is the minimum spacing between observer emissions;
// bursts from the download loop are coalesced into the latest snapshot.
const DefaultInterval = 100 * time.Millisecond

const eventBuffer = 64

// Observer receives throttled progress snapshots for live display.
type Observer func(entity.SyncProgress)

type recordEvent struct{ outcome entity.FileOutcome }

type fileStartedEvent struct {
	name string
	size int64
}

type fileProgressEvent struct{ done, total int64 }

type fileDoneEvent struct{}

type notificationEvent struct{}

type phaseEvent struct{ phase entity.Phase }

type courseEvent struct {
	index, total int
	name         string
}

type Tracker struct {
	events   chan any
	done     chan struct{}
	obs      Observer
	interval time.Duration
	log      *slog.Logger

	mu       sync.Mutex
	progress entity.SyncProgress
	files    map[entity.FileStatus][]entity.FileOutcome
	summary  entity.Summary
	lastEmit time.Time

	syncID    string
	startedAt time.Time
}

func New(obs Observer, interval time.Duration, log *slog.Logger) *Tracker {
	now := time.Now()

	return &Tracker{
		events:   make(chan any, eventBuffer),
		done:     make(chan struct{}),
		obs:      obs,
		interval: interval,
		log:      log.With(slog.String("item", "Tracker")),
		progress: entity.SyncProgress{Phase: entity.PhaseIdle},
		files: map[entity.FileStatus][]entity.FileOutcome{
			entity.StatusDownloaded: {},
			entity.StatusSkipped:    {},
			entity.StatusFailed:     {},
		},
		syncID:    fmt.Sprintf("%s_%s", now.Format("2006-01-02_150405"), uuid.NewString()[:8]),
		startedAt: now,
	}
}

func (t *Tracker) Start() {
	go t.loop()
}

func (t *Tracker) SyncID() string {
	return t.syncID
}

// Record appends one immutable outcome. Safe to call from pool workers.
func (t *Tracker) Record(outcome entity.FileOutcome) {
	t.events <- recordEvent{outcome: outcome}
}

func (t *Tracker) SetPhase(phase entity.Phase) {
	t.events <- phaseEvent{phase: phase}
}

func (t *Tracker) BeginCourse(index, total int, name string) {
	t.events <- courseEvent{index: index, total: total, name: name}
}

func (t *Tracker) FileStarted(name string, size int64) {
	t.events <- fileStartedEvent{name: name, size: size}
}

func (t *Tracker) FileProgress(done, total int64) {
	t.events <- fileProgressEvent{done: done, total: total}
}

func (t *Tracker) FileDone() {
	t.events <- fileDoneEvent{}
}

func (t *Tracker) NotificationNew() {
	t.events <- notificationEvent{}
}

// Snapshot returns the latest progress state.
func (t *Tracker) Snapshot() entity.SyncProgress {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.progress
}

// Finalize drains pending events and assembles the report. Must be called
// after all producers have stopped; the tracker accepts no events afterwards.
func (t *Tracker) Finalize() *entity.SyncReport {
	close(t.events)
	<-t.done

	t.mu.Lock()
	snapshot := t.progress

	finished := time.Now()
	status := entity.ReportSuccess
	if t.summary.Failed > 0 {
		status = entity.ReportPartialFailure
	}

	rep := &entity.SyncReport{
		SyncID:          t.syncID,
		StartedAt:       t.startedAt.Format("2006-01-02 15:04:05"),
		FinishedAt:      finished.Format("2006-01-02 15:04:05"),
		DurationSeconds: int(finished.Sub(t.startedAt).Seconds()),
		Status:          status,
		Files:           t.files,
		Summary:         t.summary,
	}
	t.mu.Unlock()

	// The observer runs outside the lock, like maybeEmit, so it may call
	// Snapshot.
	if t.obs != nil {
		t.obs(snapshot)
	}

	return rep
}

func (t *Tracker) loop() {
	defer close(t.done)

	for ev := range t.events {
		t.mu.Lock()
		force := t.apply(ev)
		t.mu.Unlock()

		t.maybeEmit(force)
	}
}

// apply mutates the snapshot under t.mu and reports whether the change must
// bypass throttling.
func (t *Tracker) apply(ev any) bool {
	switch e := ev.(type) {
	case recordEvent:
		t.files[e.outcome.Status] = append(t.files[e.outcome.Status], e.outcome)
		switch e.outcome.Status {
		case entity.StatusDownloaded:
			t.summary.Downloaded++
		case entity.StatusSkipped:
			t.summary.Skipped++
		case entity.StatusFailed:
			t.summary.Failed++
		}
		t.progress.Summary = t.summary
	case fileStartedEvent:
		t.progress.FileName = e.name
		t.progress.FileSize = e.size
		t.progress.FileDownloaded = 0
		t.progress.FileFraction = 0
		t.progress.CourseFilesTotal++
	case fileProgressEvent:
		t.progress.FileDownloaded = e.done
		if e.total > 0 {
			t.progress.FileSize = e.total
			t.progress.FileFraction = float64(e.done) / float64(e.total)
		}
	case fileDoneEvent:
		t.progress.CourseFilesDone++
	case notificationEvent:
		t.summary.NotificationsNew++
		t.progress.Summary = t.summary
	case phaseEvent:
		t.progress.Phase = e.phase
		return true
	case courseEvent:
		t.progress.CourseIndex = e.index
		t.progress.TotalCourses = e.total
		t.progress.CourseName = e.name
		t.progress.CourseFilesTotal = 0
		t.progress.CourseFilesDone = 0
		return true
	}

	return false
}

func (t *Tracker) maybeEmit(force bool) {
	if t.obs == nil {
		return
	}

	t.mu.Lock()
	if !force && t.interval > 0 && time.Since(t.lastEmit) < t.interval {
		t.mu.Unlock()
		return
	}
	t.lastEmit = time.Now()
	snapshot := t.progress
	t.mu.Unlock()

	t.obs(snapshot)
}
