//go:build unix

package fileutil

import (
	"io/fs"
	"syscall"
)

func ownedBy(info fs.FileInfo, uid, gid int) bool {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return false
	}
	return int(st.Uid) == uid && int(st.Gid) == gid
}
