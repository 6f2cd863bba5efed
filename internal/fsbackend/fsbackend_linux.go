//go:build linux

package fsbackend

import "syscall"

// atimeFromStatT extracts the access time from a Linux syscall.Stat_t,
// whose timestamp field is named Atim.
func atimeFromStatT(st *syscall.Stat_t) uint32 {
	return uint32(st.Atim.Sec)
}
