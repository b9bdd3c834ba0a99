//go:build windows

package storage

import (
	"fmt"

	"golang.org/x/sys/windows"
)

func diskUsage(dir string) (Usage, error) {
	path, err := windows.UTF16PtrFromString(dir)
	if err != nil {
		return Usage{}, err
	}

	var avail, total, free uint64
	if err := windows.GetDiskFreeSpaceEx(path, &avail, &total, &free); err != nil {
		return Usage{}, fmt.Errorf("GetDiskFreeSpaceEx %s: %w", dir, err)
	}

	return Usage{Total: total, Used: total - free, Free: avail}, nil
}
