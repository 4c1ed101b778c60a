//go:build windows

package config

import (
	"errors"
	"fmt"
	"os"
)

func openConfigFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("config: failed to open file: %w", err)
	}
	return f, nil
}

// checkFileSecurity is a no-op on Windows, where access is governed by
// ACLs rather than mode bits.
func checkFileSecurity(_ os.FileInfo) error {
	return nil
}
