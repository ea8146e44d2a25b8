//go:build windows

package report

import "os"

// openFileNoFollow opens a file for writing.
// On Windows, O_NOFOLLOW is not available; Write checks for a symlink first.
func openFileNoFollow(path string, flag int, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(path, flag, perm)
}
