package gosftp

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	closed bool
}

func (f *fakeStream) ReadAt(p []byte, off int64) (int, error)  { return 0, io.EOF }
func (f *fakeStream) WriteAt(p []byte, off int64) (int, error) { return len(p), nil }
func (f *fakeStream) Close() error                             { f.closed = true; return nil }

type fakeDirIterator struct {
	pages  [][]NameEntry
	closed bool
}

func (it *fakeDirIterator) Next(ctx context.Context, n int) ([]NameEntry, error) {
	if len(it.pages) == 0 {
		return nil, nil
	}
	page := it.pages[0]
	it.pages = it.pages[1:]
	return page, nil
}

func (it *fakeDirIterator) Close() error { it.closed = true; return nil }

func TestTableAddAndRequireFileStream(t *testing.T) {
	tbl := NewTable(2)
	s := &fakeStream{}
	h, err := tbl.AddFile("/a", s)
	require.NoError(t, err)
	require.Equal(t, 1, tbl.Len())

	got, err := tbl.RequireFileStream(h)
	require.NoError(t, err)
	require.Same(t, s, got)
}

func TestTableCapacityExhaustedClosesStream(t *testing.T) {
	tbl := NewTable(1)
	_, err := tbl.AddFile("/a", &fakeStream{})
	require.NoError(t, err)

	s2 := &fakeStream{}
	_, err = tbl.AddFile("/b", s2)
	require.ErrorIs(t, err, ErrHandleTableFull)
	require.True(t, s2.closed)
}

func TestTableRemoveClosesStream(t *testing.T) {
	tbl := NewTable(2)
	s := &fakeStream{}
	h, _ := tbl.AddFile("/a", s)

	require.True(t, tbl.Remove(h))
	require.True(t, s.closed)
	require.False(t, tbl.Remove(h)) // already gone
}

func TestTableRequireFileStreamWrongKind(t *testing.T) {
	tbl := NewTable(2)
	h, _ := tbl.AddDir("/dir", func(ctx context.Context) (DirIterator, error) {
		return &fakeDirIterator{}, nil
	})
	_, err := tbl.RequireFileStream(h)
	var hf *HandlerFailure
	require.ErrorAs(t, err, &hf)
	require.Equal(t, StatusNoSuchFile, hf.Status)
}

func TestTableReadDirPageLazyAndEOF(t *testing.T) {
	tbl := NewTable(2)
	built := false
	h, err := tbl.AddDir("/dir", func(ctx context.Context) (DirIterator, error) {
		built = true
		return &fakeDirIterator{pages: [][]NameEntry{{{Name: "a"}, {Name: "b"}}}}, nil
	})
	require.NoError(t, err)
	require.False(t, built)

	entries, err := tbl.ReadDirPage(context.Background(), h, 128)
	require.NoError(t, err)
	require.True(t, built)
	require.Len(t, entries, 2)

	_, err = tbl.ReadDirPage(context.Background(), h, 128)
	require.ErrorIs(t, err, io.EOF)
}

func TestTableCloseAllClosesEverything(t *testing.T) {
	tbl := NewTable(4)
	s1, s2 := &fakeStream{}, &fakeStream{}
	_, _ = tbl.AddFile("/a", s1)
	_, _ = tbl.AddFile("/b", s2)

	tbl.CloseAll()
	require.True(t, s1.closed)
	require.True(t, s2.closed)
	require.Equal(t, 0, tbl.Len())
}
