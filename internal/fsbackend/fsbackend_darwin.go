//go:build darwin

package fsbackend

import "syscall"

// atimeFromStatT extracts the access time from a Darwin syscall.Stat_t,
// whose timestamp field is named Atimespec rather than Linux's Atim.
func atimeFromStatT(st *syscall.Stat_t) uint32 {
	return uint32(st.Atimespec.Sec)
}
