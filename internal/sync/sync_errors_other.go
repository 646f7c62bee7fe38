//go:build !unix && !windows

package sync

func isDiskFull(error) bool    { return false }
func isLocked(error) bool      { return false }
func isPathTooLong(error) bool { return false }
