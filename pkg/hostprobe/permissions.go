package hostprobe

import (
	"io/fs"
	"syscall"
)

// writableBy reports whether a process with the given effective uid/gid
// would be permitted to write to the file described by info. Root (euid
// 0) can always write regardless of mode bits. os.FileInfo.Sys() always
// concretely returns *syscall.Stat_t (golang.org/x/sys/unix.Stat_t has the
// same layout but is a distinct type the assertion below would never
// match), so this stays on the standard library's syscall package.
func writableBy(info fs.FileInfo, euid, egid int) bool {
	if euid == 0 {
		return true
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return info.Mode().Perm()&0o222 != 0
	}
	mode := info.Mode()
	switch {
	case int(stat.Uid) == euid:
		return mode.Perm()&0o200 != 0
	case int(stat.Gid) == egid:
		return mode.Perm()&0o020 != 0
	default:
		return mode.Perm()&0o002 != 0
	}
}
