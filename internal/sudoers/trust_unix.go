//go:build !windows

package sudoers

import (
	"io/fs"
	"syscall"
)

// ownedByTrustedUID reports whether info's owning uid is 0, the only
// uid the loader trusts to own policy files and include directories.
func ownedByTrustedUID(info fs.FileInfo) bool {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return false
	}
	return st.Uid == 0
}
