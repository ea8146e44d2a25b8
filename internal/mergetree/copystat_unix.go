//go:build !windows

package mergetree

import "os"

// copyDirStat copies the source directory's mode and times onto dst.
func copyDirStat(dst string, info os.FileInfo) error {
	return copyStat(dst, info)
}
