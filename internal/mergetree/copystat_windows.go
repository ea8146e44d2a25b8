//go:build windows

package mergetree

import "os"

// copyDirStat copies what it can of the source directory's mode and times.
// Windows rejects setting times on directories in several configurations;
// those failures are not merge failures.
func copyDirStat(dst string, info os.FileInfo) error {
	_ = copyStat(dst, info)
	return nil
}
