package gosftp

import (
	"context"
	"io"
	"sync"

	"github.com/google/uuid"
)

// DefaultHandleTableCapacity is the maximum number of concurrently open
// handles a Table enforces unless overridden (spec.md section 4.3).
const DefaultHandleTableCapacity = 16

// DefaultReadDirPageSize bounds how many NameEntry records one READDIR
// response carries (spec.md section 4.3).
const DefaultReadDirPageSize = 128

// FileStream is the capability an open-file handle entry exposes to the
// server engine's READ/WRITE/FSTAT/FSETSTAT handlers. A Backend's Open
// method returns a FileStream, which the Table stores in the handle's entry
// (the backend's own file type, such as *os.File, can satisfy it directly).
type FileStream interface {
	io.ReaderAt
	io.WriterAt
	Close() error
}

// DirIterator is the lazy sequence a directory handle entry wraps. Next
// returns up to n entries and reports whether the iterator is exhausted,
// matching the "deferred iterator" design in spec.md section 4.3: the
// backend supplies a factory that is invoked lazily, on first READDIR.
type DirIterator interface {
	// Next returns at most n more entries. When it returns fewer than n
	// entries with err == nil, the sequence is not necessarily exhausted;
	// the server keeps calling Next until it gets zero entries.
	Next(ctx context.Context, n int) ([]NameEntry, error)
	Close() error
}

// DirIteratorFactory is the deferred constructor a Backend's Opendir/handle
// entry supplies; it runs on the handle's first READDIR, and runs again on a
// later READDIR only if it returned an error.
type DirIteratorFactory func(ctx context.Context) (DirIterator, error)

type fileEntry struct {
	path   string
	stream FileStream
}

type dirEntry struct {
	path    string
	factory DirIteratorFactory
	mu      sync.Mutex
	iter    DirIterator // populated lazily on first READDIR
	started bool
}

// Table is the server-side handle table from spec.md section 4.3: an
// opaque-handle-bytes-to-open-entry registry with bounded capacity and
// deterministic cleanup. It is safe for concurrent use even though the
// server engine's own dispatch loop never calls it concurrently with
// itself — the exception is CloseAll racing a final in-flight handler
// during teardown.
type Table struct {
	capacity int

	mu      sync.RWMutex
	entries map[string]any // *fileEntry or *dirEntry
}

// NewTable constructs a handle table with the given capacity. A capacity of
// 0 selects DefaultHandleTableCapacity.
func NewTable(capacity int) *Table {
	if capacity <= 0 {
		capacity = DefaultHandleTableCapacity
	}
	return &Table{capacity: capacity, entries: make(map[string]any)}
}

func newHandleBytes() string {
	id := uuid.New()
	b, _ := id.MarshalBinary() // uuid.UUID.MarshalBinary never errors
	return string(b)
}

func (t *Table) addLocked(entry any) (string, error) {
	if len(t.entries) >= t.capacity {
		return "", ErrHandleTableFull
	}
	handle := newHandleBytes()
	for { // collision is astronomically unlikely, but keep the invariant honest
		if _, exists := t.entries[handle]; !exists {
			break
		}
		handle = newHandleBytes()
	}
	t.entries[handle] = entry
	return handle, nil
}

// AddFile registers an open file stream and returns its handle. On overflow
// the stream is closed before returning ErrHandleTableFull, per spec.md
// section 4.3: "on failure the entry must be finalized/closed."
func (t *Table) AddFile(path string, stream FileStream) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, err := t.addLocked(&fileEntry{path: path, stream: stream})
	if err != nil {
		_ = stream.Close()
		return "", err
	}
	return h, nil
}

// AddDir registers a directory handle with its deferred iterator factory.
func (t *Table) AddDir(path string, factory DirIteratorFactory) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.addLocked(&dirEntry{path: path, factory: factory})
}

// Remove finalizes and removes the entry for handle, reporting whether it
// was present.
func (t *Table) Remove(handle string) bool {
	t.mu.Lock()
	entry, ok := t.entries[handle]
	if ok {
		delete(t.entries, handle)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	closeEntry(entry)
	return true
}

// RequireFileStream looks up handle and type-checks it as an open file,
// raising StatusNoSuchFile if the handle is absent or is a directory
// handle (spec.md section 4.3).
func (t *Table) RequireFileStream(handle string) (FileStream, error) {
	t.mu.RLock()
	entry, ok := t.entries[handle]
	t.mu.RUnlock()
	if !ok {
		return nil, ErrNoSuchFile(nil)
	}
	f, ok := entry.(*fileEntry)
	if !ok {
		return nil, ErrNoSuchFile(nil)
	}
	return f.stream, nil
}

// requireDirEntry looks up handle and type-checks it as an open directory.
func (t *Table) requireDirEntry(handle string) (*dirEntry, error) {
	t.mu.RLock()
	entry, ok := t.entries[handle]
	t.mu.RUnlock()
	if !ok {
		return nil, ErrNoSuchFile(nil)
	}
	d, ok := entry.(*dirEntry)
	if !ok {
		return nil, ErrNoSuchFile(nil)
	}
	return d, nil
}

// ReadDirPage returns up to pageSize entries from handle's directory
// iterator, constructing the iterator on first use (spec.md section 4.3).
// It reports io.EOF once the iterator is exhausted.
func (t *Table) ReadDirPage(ctx context.Context, handle string, pageSize int) ([]NameEntry, error) {
	d, err := t.requireDirEntry(handle)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started {
		iter, err := d.factory(ctx)
		if err != nil {
			return nil, err
		}
		d.iter = iter
		d.started = true
	}

	entries, err := d.iter.Next(ctx, pageSize)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, io.EOF
	}
	return entries, nil
}

// CloseAll finalizes every open entry, for use on engine teardown (spec.md
// section 3, "Lifecycles").
func (t *Table) CloseAll() {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[string]any)
	t.mu.Unlock()

	for _, entry := range entries {
		closeEntry(entry)
	}
}

// Len reports the number of currently open handles. Exposed for tests and
// metrics, not part of the protocol.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

func closeEntry(entry any) {
	switch e := entry.(type) {
	case *fileEntry:
		_ = e.stream.Close()
	case *dirEntry:
		e.mu.Lock()
		if e.iter != nil {
			_ = e.iter.Close()
		}
		e.mu.Unlock()
	}
}
