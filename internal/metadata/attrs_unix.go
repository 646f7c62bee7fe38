//go:build unix

package metadata

import (
	"io/fs"
	"syscall"
)

// AttributesFromInfo captures permission bits and ownership.
func AttributesFromInfo(info fs.FileInfo) Attributes {
	mode := uint32(info.Mode().Perm())
	attrs := Attributes{UnixMode: &mode}

	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		uid, gid := uint32(st.Uid), uint32(st.Gid)
		attrs.UnixUID = &uid
		attrs.UnixGID = &gid
	}
	return attrs
}
