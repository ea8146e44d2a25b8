//go:build !linux && !darwin

package mergetree

import (
	"os"
	"time"
)

// accessTime falls back to the modification time where the platform's
// stat structure isn't inspected.
func accessTime(info os.FileInfo) time.Time {
	return info.ModTime()
}
