package tree

import (
	"io/fs"
	"os"

	"github.com/lucasnoah/skillctl/internal/backup"
)

// FS is the file system surface the Applier uses. Every path it receives is
// absolute, so a wrapper can see exactly which files an apply touches.
type FS interface {
	Lstat(name string) (fs.FileInfo, error)
	ReadDir(name string) ([]fs.DirEntry, error)
	// Copy copies a file or directory tree; dst must not exist.
	Copy(src, dst string) error
	Rename(oldpath, newpath string) error
	RemoveAll(name string) error
}

// OSFS is FS on the host file system.
type OSFS struct{}

func (OSFS) Lstat(name string) (fs.FileInfo, error)      { return os.Lstat(name) }
func (OSFS) ReadDir(name string) ([]fs.DirEntry, error) { return os.ReadDir(name) }
func (OSFS) Copy(src, dst string) error                 { return backup.CopyPath(src, dst) }
func (OSFS) Rename(oldpath, newpath string) error       { return os.Rename(oldpath, newpath) }
func (OSFS) RemoveAll(name string) error                { return os.RemoveAll(name) }
