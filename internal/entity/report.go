package entity

type FileStatus string

const (
	StatusDownloaded FileStatus = "downloaded"
	StatusSkipped    FileStatus = "skipped"
	StatusFailed     FileStatus = "failed"
)

const (
	ReportSuccess        = "success"
	ReportPartialFailure = "partial_failure"
)

// FileOutcome is the final, immutable record of one file within a run.
// Name is the path relative to the course root, with forward slashes.
type FileOutcome struct {
	Status    FileStatus `json:"-"`
	Name      string     `json:"name"`
	Course    string     `json:"course"`
	CourseID  string     `json:"course_id"`
	Size      int64      `json:"size,omitempty"`
	URL       string     `json:"url,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	Error     string     `json:"error,omitempty"`
	ErrorType string     `json:"error_type,omitempty"`
}

type Summary struct {
	Downloaded       int `json:"downloaded"`
	Skipped          int `json:"skipped"`
	Failed           int `json:"failed"`
	NotificationsNew int `json:"notifications_new"`
}

// SyncReport is the durable per-run record, written exactly once at run end.
type SyncReport struct {
	SyncID          string                       `json:"sync_id"`
	StartedAt       string                       `json:"started_at"`
	FinishedAt      string                       `json:"finished_at"`
	DurationSeconds int                          `json:"duration_seconds"`
	Status          string                       `json:"status"`
	Files           map[FileStatus][]FileOutcome `json:"files"`
	Summary         Summary                      `json:"summary"`
}
