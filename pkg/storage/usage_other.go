//go:build !linux && !darwin && !freebsd && !windows

package storage

import "errors"

func diskUsage(string) (Usage, error) {
	return Usage{}, errors.New("disk usage not supported on this platform, configure storage.quota_bytes")
}
