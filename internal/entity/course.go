package entity

// Course is one course to synchronize. It is built by the course-resolution
// collaborator (selection, alias and flatten are already decided) and is
// read-only during a sync run.
type Course struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Alias         string   `json:"alias,omitempty"` // preferred local folder name
	StartURL      string   `json:"url"`
	SelectedAreas []string `json:"selected_tabs"` // empty means the course is skipped
	Flatten       bool     `json:"flatten"`       // merge area content into the course root
}

// ContentArea is a named menu entry of a course whose page lists files,
// folders and/or pagination links.
type ContentArea struct {
	Name string
	URL  string
}

// CourseScope carries the identity and local root of the course currently
// being synced; outcomes are recorded relative to it.
type CourseScope struct {
	CourseID   string
	CourseName string
	CourseDir  string
}
