package gosftp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAttributesEncodeDecodeEmpty(t *testing.T) {
	a := &Attributes{}
	buf := newMarshalBuffer(0)
	a.encode(buf)

	got, err := decodeAttributes(newBuffer(buf.Bytes()))
	require.NoError(t, err)
	require.Nil(t, got.Size)
	require.Nil(t, got.Permissions)
}

func TestAttributesEncodeDecodeFull(t *testing.T) {
	size := uint64(42)
	uid, gid := uint32(1000), uint32(1000)
	mode := ModeRegular | 0o644
	atime, mtime := uint32(1000), uint32(2000)

	a := &Attributes{
		Size:        &size,
		UID:         &uid,
		GID:         &gid,
		Permissions: &mode,
		ATime:       &atime,
		MTime:       &mtime,
		Extended:    map[string]string{"foo": "bar"},
	}
	buf := newMarshalBuffer(0)
	a.encode(buf)

	got, err := decodeAttributes(newBuffer(buf.Bytes()))
	require.NoError(t, err)
	require.EqualValues(t, size, *got.Size)
	require.EqualValues(t, uid, *got.UID)
	require.EqualValues(t, gid, *got.GID)
	require.Equal(t, mode, *got.Permissions)
	require.EqualValues(t, atime, *got.ATime)
	require.EqualValues(t, mtime, *got.MTime)
	require.Equal(t, "bar", got.Extended["foo"])
}

func TestAttributesFlagsOnlyPairedFields(t *testing.T) {
	uid := uint32(1)
	a := &Attributes{UID: &uid} // GID missing: pair incomplete
	require.Equal(t, uint32(0), a.flags())
}

func TestFileModeString(t *testing.T) {
	mode := ModeDir | 0o755
	require.Equal(t, "drwxr-xr-x", mode.String())

	mode = ModeRegular | 0o644
	require.Equal(t, "-rw-r--r--", mode.String())
}

func TestNameEntryRoundTrip(t *testing.T) {
	size := uint64(10)
	n := &NameEntry{Name: "a.txt", LongName: "-rw-r--r-- a.txt", Attrs: Attributes{Size: &size}}
	buf := newMarshalBuffer(0)
	n.encode(buf)

	got, err := decodeNameEntry(newBuffer(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, n.Name, got.Name)
	require.Equal(t, n.LongName, got.LongName)
	require.EqualValues(t, size, *got.Attrs.Size)
}
