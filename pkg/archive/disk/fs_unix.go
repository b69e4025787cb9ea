//go:build unix

package disk

import (
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// lchtimes sets the times of name without following it when it is a
// symlink.
func lchtimes(root *os.Root, name string, mtime time.Time) error {
	dir, err := root.Open(filepath.Dir(name))
	if err != nil {
		return err
	}
	defer dir.Close()
	ts := unix.NsecToTimespec(mtime.UnixNano())
	return unix.UtimesNanoAt(int(dir.Fd()), filepath.Base(name), []unix.Timespec{ts, ts}, unix.AT_SYMLINK_NOFOLLOW)
}

// deviceID returns the id of the device holding name.
func deviceID(name string) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Lstat(name, &st); err != nil {
		return 0, err
	}
	return uint64(st.Dev), nil //nolint:unconvert
}
