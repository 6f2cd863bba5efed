package gosftp

import "os"

// FileMode mirrors the POSIX mode bits carried in an Attributes.Permissions
// field. It is a distinct type from os.FileMode because the wire encoding
// packs the Unix S_IF* type bits directly into the low 16 bits, which does
// not line up with the Go standard library's own FileMode bit layout.
type FileMode uint32

const (
	ModeType    FileMode = 0xF000
	ModeSocket  FileMode = 0xC000
	ModeLink    FileMode = 0xA000
	ModeRegular FileMode = 0x8000
	ModeBlock   FileMode = 0x6000
	ModeDir     FileMode = 0x4000
	ModeChar    FileMode = 0x2000
	ModeFIFO    FileMode = 0x1000
)

// String renders the ten-character "ls -l" mode column used in a NAME
// record's LongName field (spec.md section 6): a type character followed by
// three rwx triplets for owner/group/other.
func (m FileMode) String() string {
	b := make([]byte, 10)
	switch m & ModeType {
	case ModeDir:
		b[0] = 'd'
	case ModeLink:
		b[0] = 'l'
	case ModeSocket:
		b[0] = 's'
	case ModeBlock:
		b[0] = 'b'
	case ModeChar:
		b[0] = 'c'
	case ModeFIFO:
		b[0] = 'p'
	case ModeRegular:
		b[0] = '-'
	default:
		b[0] = '?'
	}

	const rwx = "rwxrwxrwx"
	for i, c := range rwx {
		if m&(1<<uint(9-1-i)) != 0 {
			b[i+1] = byte(c)
		} else {
			b[i+1] = '-'
		}
	}
	return string(b)
}

func (m FileMode) IsDir() bool     { return (m & ModeType) == ModeDir }
func (m FileMode) IsRegular() bool { return (m & ModeType) == ModeRegular }
func (m FileMode) IsSymlink() bool { return (m & ModeType) == ModeLink }
func (m FileMode) Perm() FileMode  { return m &^ ModeType }

// FileModeFromOS translates an os.FileMode (as returned by a Backend built
// on the local filesystem) into the wire FileMode, preserving the
// permission bits and the directory/symlink type bits the protocol cares
// about.
func FileModeFromOS(m os.FileMode) FileMode {
	var out FileMode
	switch {
	case m&os.ModeSymlink != 0:
		out = ModeLink
	case m&os.ModeDir != 0:
		out = ModeDir
	case m&os.ModeSocket != 0:
		out = ModeSocket
	case m&os.ModeDevice != 0 && m&os.ModeCharDevice != 0:
		out = ModeChar
	case m&os.ModeDevice != 0:
		out = ModeBlock
	case m&os.ModeNamedPipe != 0:
		out = ModeFIFO
	default:
		out = ModeRegular
	}
	return out | FileMode(m.Perm())
}
