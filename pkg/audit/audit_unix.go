//go:build !windows

package audit

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"golang.org/x/sys/unix"
)

func checkDiskSpace(path string) error {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		if err := unix.Statfs(filepath.Dir(path), &st); err != nil {
			slog.Warn("failed to check disk space for audit", "path", path, "error", err)
			return nil
		}
	}

	available := uint64(st.Bavail) * uint64(st.Bsize)
	if available < MinDiskSpace {
		return fmt.Errorf("audit: insufficient disk space: %d bytes available, need %d", available, MinDiskSpace)
	}
	return nil
}
