package sandbox

import (
	"os"
)

// FileSystem defines the file system operations the local runtime needs for
// its scratch directories
type FileSystem interface {
	MkdirTemp(dir, pattern string) (string, error)
	RemoveAll(path string) error
}

// RealFileSystem implements FileSystem using actual file system operations
type RealFileSystem struct{}

func (RealFileSystem) MkdirTemp(dir, pattern string) (string, error) {
	return os.MkdirTemp(dir, pattern)
}

func (RealFileSystem) RemoveAll(path string) error {
	return os.RemoveAll(path)
}
