//go:build !unix && !windows

package metadata

import "io/fs"

func AttributesFromInfo(info fs.FileInfo) Attributes {
	return Attributes{}
}
