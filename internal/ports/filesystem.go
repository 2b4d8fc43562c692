package ports

import "os"

// FileSystem provides the file operations used to place, read and remove
// plugin directories and state files.
type FileSystem interface {
	ReadFile(path string) ([]byte, error)
	// WriteFileAtomic writes through a temporary sibling file and a rename.
	WriteFileAtomic(path string, data []byte, perm os.FileMode) error
	Exists(path string) bool
	IsDir(path string) bool
	IsSymlink(path string) (isLink bool, target string)
	MkdirAll(path string, perm os.FileMode) error
	RemoveAll(path string) error
	// CopyDir copies src into dst, dereferencing symlinks. Entries whose
	// slash-separated path relative to src makes skip return true are omitted.
	CopyDir(src, dst string, skip func(rel string) bool) error
	// LinkDir creates a directory symlink at link pointing to target.
	LinkDir(target, link string) error
}
