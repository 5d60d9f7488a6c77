package fsadapter

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/afero"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// FSAdapter is the only path to the local mirror; everything goes through
// afero so tests can run on a memory-backed filesystem.
type FSAdapter struct {
	fs  afero.Fs
	log *slog.Logger
}

func NewFSAdapter(log *slog.Logger) *FSAdapter {
	return NewFSAdapterWithFS(afero.NewOsFs(), log)
}

func NewFSAdapterWithFS(fs afero.Fs, log *slog.Logger) *FSAdapter {
	return &FSAdapter{
		fs:  fs,
		log: log.With(slog.String("item", "FSAdapter")),
	}
}

func (a *FSAdapter) EnsureDir(path string) error {
	if err := a.fs.MkdirAll(path, dirPerm); err != nil {
		return fmt.Errorf("cannot create directory %s: %w", path, err)
	}

	return nil
}

func (a *FSAdapter) Exists(path string) bool {
	if path == "" {
		return false
	}

	_, err := a.fs.Stat(path)
	if err == nil {
		return true
	}
	if os.IsNotExist(err) {
		return false
	}

	return false
}

// Size returns the byte length of path and whether it could be determined.
func (a *FSAdapter) Size(path string) (int64, bool) {
	stat, err := a.fs.Stat(path)
	if err != nil {
		return 0, false
	}

	return stat.Size(), true
}

func (a *FSAdapter) Create(path string) (io.WriteCloser, error) {
	f, err := a.fs.Create(path)
	if err != nil {
		return nil, fmt.Errorf("cannot create file %s: %w", path, err)
	}

	return f, nil
}

func (a *FSAdapter) WriteFile(path string, data []byte) error {
	if err := afero.WriteFile(a.fs, path, data, filePerm); err != nil {
		return fmt.Errorf("cannot write file %s: %w", path, err)
	}

	return nil
}

// RemoveIfEmpty deletes path if it exists with zero length. A failed download
// must not leave an empty artifact that a later size check mistakes for
// synced content.
func (a *FSAdapter) RemoveIfEmpty(path string) {
	stat, err := a.fs.Stat(path)
	if err != nil || stat.Size() != 0 {
		return
	}

	if err := a.fs.Remove(path); err != nil {
		a.log.Error("Cannot remove empty file", slog.String("path", path), slog.Any("error", err))
	}
}
