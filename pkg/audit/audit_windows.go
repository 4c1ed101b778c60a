//go:build windows

package audit

import (
	"fmt"
	"log/slog"

	"golang.org/x/sys/windows"
)

func checkDiskSpace(path string) error {
	dir, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil
	}
	var available, total, free uint64
	if err := windows.GetDiskFreeSpaceEx(dir, &available, &total, &free); err != nil {
		slog.Warn("failed to check disk space for audit", "path", path, "error", err)
		return nil
	}
	if available < MinDiskSpace {
		return fmt.Errorf("audit: insufficient disk space: %d bytes available, need %d", available, MinDiskSpace)
	}
	return nil
}
