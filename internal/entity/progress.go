package entity

type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseDownloading Phase = "downloading"
	PhaseComplete    Phase = "complete"
)

// SyncProgress is a single-writer snapshot of the run state. Consumers only
// ever see the latest snapshot; there is no queued history.
type SyncProgress struct {
	Phase            Phase
	TotalCourses     int
	CourseIndex      int
	CourseName       string
	CourseFilesTotal int
	CourseFilesDone  int
	FileName         string
	FileSize         int64
	FileDownloaded   int64
	FileFraction     float64
	Summary          Summary
}
