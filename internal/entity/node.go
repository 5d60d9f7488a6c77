package entity

type NodeKind int

const (
	NodeFile NodeKind = iota
	NodeFolder
	NodePagination
	NodeAnnouncement
)

func (k NodeKind) String() string {
	return [...]string{"File", "Folder", "Pagination", "Announcement"}[k]
}

// ContentNode is one discovered entity on a portal page. Kind is decided once,
// from static heuristics, before any fetch of the target.
type ContentNode struct {
	Kind          NodeKind
	DisplayName   string
	TargetURL     string
	SourcePageURL string
}

// DownloadTask is produced by the crawler and consumed exactly once by the
// downloader.
type DownloadTask struct {
	RemoteURL     string
	SuggestedName string
	LocalDir      string
}
