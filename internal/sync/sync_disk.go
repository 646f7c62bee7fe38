package sync

import (
	"github.com/shirou/gopsutil/v4/disk"
)

// FreeSpaceFunc reports the bytes available on the volume holding path.
type FreeSpaceFunc func(path string) (uint64, error)

func diskFree(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}
