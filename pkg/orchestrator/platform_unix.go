//go:build unix && !darwin

package orchestrator

import "golang.org/x/sys/unix"

// osVersion returns the kernel release.
func osVersion() string {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return ""
	}
	return unix.ByteSliceToString(u.Release[:])
}
