// Package report persists the per-run sync report. A report is written
// exactly once at run end and addressable by its syncID.
package report

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/shihuaidexianyu/PKU-Get/internal/entity"
)

type FS interface {
	EnsureDir(path string) error
	WriteFile(path string, data []byte) error
}

type Storage struct {
	fs  FS
	dir string
	log *slog.Logger
}

func NewStorage(fs FS, dir string, log *slog.Logger) *Storage {
	return &Storage{
		fs:  fs,
		dir: dir,
		log: log.With(slog.String("item", "ReportStorage")),
	}
}

// Save writes the report as <dir>/<syncID>.json and returns its path.
func (s *Storage) Save(rep *entity.SyncReport) (string, error) {
	if err := s.fs.EnsureDir(s.dir); err != nil {
		return "", fmt.Errorf("cannot create reports directory: %w", err)
	}

	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", fmt.Errorf("cannot marshal report: %w", err)
	}

	path := filepath.Join(s.dir, rep.SyncID+".json")
	if err := s.fs.WriteFile(path, data); err != nil {
		return "", fmt.Errorf("cannot save report: %w", err)
	}

	s.log.Info("Sync report saved", slog.String("path", path))

	return path, nil
}
