//go:build linux || darwin

package fsbackend

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/richardjennings/gosftp"
)

// attrsFromFileInfo fills in the UID/GID pair from the platform-specific
// syscall.Stat_t, alongside the portable size/mode/mtime fields. Grounded
// on pkg/sftp's os.FileInfo-to-wire-attrs translation (present throughout
// the retrieval pack's DefaultFSBackend).
func attrsFromFileInfo(info os.FileInfo) gosftp.Attributes {
	size := uint64(info.Size())
	mode := gosftp.FileModeFromOS(info.Mode())
	mtime := uint32(info.ModTime().Unix())
	atime := mtime

	attrs := gosftp.Attributes{
		Size:        &size,
		Permissions: &mode,
		ATime:       &atime,
		MTime:       &mtime,
	}
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		uid, gid := st.Uid, st.Gid
		attrs.UID = &uid
		attrs.GID = &gid
		at := atimeFromStatT(st)
		attrs.ATime = &at
	}
	return attrs
}

// statvfs answers the statvfs@openssh.com extension with the fields
// OpenSSH's SFTP client expects, grounded on pkg/sftp's
// RespondToExtendedPacketStatVFS / statvfsFromStatfst.
func (fs *FS) statvfs(payload []byte) ([]byte, error) {
	path, err := decodeSinglePath(payload)
	if err != nil {
		return nil, err
	}
	full, rerr := fs.resolve(path)
	if rerr != nil {
		return nil, rerr
	}

	var st unix.Statfs_t
	if err := unix.Statfs(full, &st); err != nil {
		return nil, translateErr(err)
	}

	buf := make([]byte, 0, 8*11)
	appendUint64 := func(v uint64) { buf = appendBE64(buf, v) }
	appendUint64(uint64(st.Bsize))                   // f_bsize
	appendUint64(uint64(st.Frsize))                  // f_frsize
	appendUint64(st.Blocks)                           // f_blocks
	appendUint64(st.Bfree)                            // f_bfree
	appendUint64(st.Bavail)                           // f_bavail
	appendUint64(st.Files)                            // f_files
	appendUint64(st.Ffree)                            // f_ffree
	appendUint64(st.Ffree)                            // f_favail (best effort)
	appendUint64(uint64(st.Fsid.Val[0]))               // f_fsid
	appendUint64(uint64(st.Flags))                     // f_flag
	appendUint64(uint64(st.Namelen))                   // f_namemax
	return buf, nil
}

func appendBE64(b []byte, v uint64) []byte {
	var tmp [8]byte
	for i := 7; i >= 0; i-- {
		tmp[i] = byte(v)
		v >>= 8
	}
	return append(b, tmp[:]...)
}

func decodeSinglePath(payload []byte) (string, error) {
	if len(payload) < 4 {
		return "", gosftp.NewHandlerFailure(gosftp.StatusBadMessage, nil)
	}
	n := uint32(payload[0])<<24 | uint32(payload[1])<<16 | uint32(payload[2])<<8 | uint32(payload[3])
	if uint32(len(payload)-4) < n {
		return "", gosftp.NewHandlerFailure(gosftp.StatusBadMessage, nil)
	}
	return string(payload[4 : 4+n]), nil
}
