package gosftp

import (
	"context"
	"io"
	"strings"
	"sync"
)

// memBackend is a minimal in-memory Backend used only by this package's own
// tests, exercising the server engine without touching a real filesystem.
type memBackend struct {
	UnsupportedExtensions

	mu    sync.Mutex
	files map[string]*memFile
	dirs  map[string]bool
}

type memFile struct {
	data  []byte
	attrs Attributes
}

func newMemBackend() *memBackend {
	return &memBackend{
		files: make(map[string]*memFile),
		dirs:  map[string]bool{"/": true},
	}
}

func (b *memBackend) Init(ctx context.Context, clientVersion uint32, clientExtensions Extensions) (Extensions, error) {
	return Extensions{}, nil
}

type memFileHandle struct {
	mu   *sync.Mutex
	file *memFile
}

func (h *memFileHandle) ReadAt(p []byte, off int64) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if off >= int64(len(h.file.data)) {
		return 0, io.EOF
	}
	n := copy(p, h.file.data[off:])
	var err error
	if off+int64(n) >= int64(len(h.file.data)) {
		err = io.EOF
	}
	return n, err
}

func (h *memFileHandle) WriteAt(p []byte, off int64) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	end := off + int64(len(p))
	if end > int64(len(h.file.data)) {
		grown := make([]byte, end)
		copy(grown, h.file.data)
		h.file.data = grown
	}
	copy(h.file.data[off:], p)
	return len(p), nil
}

func (h *memFileHandle) Close() error { return nil }

func (b *memBackend) Open(ctx context.Context, path string, flags uint32, attrs Attributes) (FileStream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.files[path]
	if !ok {
		if flags&sshFxfCreat == 0 {
			return nil, ErrNoSuchFile(nil)
		}
		f = &memFile{}
		b.files[path] = f
	}
	return &memFileHandle{mu: &b.mu, file: f}, nil
}

func (b *memBackend) statPath(path string) (Attributes, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dirs[path] {
		mode := ModeDir | 0o755
		return Attributes{Permissions: &mode}, nil
	}
	f, ok := b.files[path]
	if !ok {
		return Attributes{}, ErrNoSuchFile(nil)
	}
	size := uint64(len(f.data))
	out := f.attrs
	out.Size = &size
	return out, nil
}

func (b *memBackend) Lstat(ctx context.Context, path string) (Attributes, error) { return b.statPath(path) }
func (b *memBackend) Stat(ctx context.Context, path string) (Attributes, error)  { return b.statPath(path) }

func (b *memBackend) Fstat(ctx context.Context, stream FileStream) (Attributes, error) {
	h := stream.(*memFileHandle)
	b.mu.Lock()
	defer b.mu.Unlock()
	size := uint64(len(h.file.data))
	out := h.file.attrs
	out.Size = &size
	return out, nil
}

func (b *memBackend) Setstat(ctx context.Context, path string, attrs Attributes) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.files[path]
	if !ok {
		return ErrNoSuchFile(nil)
	}
	mergeAttrs(&f.attrs, attrs)
	return nil
}

func (b *memBackend) Fsetstat(ctx context.Context, stream FileStream, attrs Attributes) error {
	h := stream.(*memFileHandle)
	b.mu.Lock()
	defer b.mu.Unlock()
	mergeAttrs(&h.file.attrs, attrs)
	return nil
}

func mergeAttrs(dst *Attributes, src Attributes) {
	if src.ATime != nil {
		dst.ATime = src.ATime
	}
	if src.MTime != nil {
		dst.MTime = src.MTime
	}
	if src.Permissions != nil {
		dst.Permissions = src.Permissions
	}
	if src.UID != nil {
		dst.UID = src.UID
	}
	if src.GID != nil {
		dst.GID = src.GID
	}
}

type memDirIterator struct {
	entries []NameEntry
	done    bool
}

func (it *memDirIterator) Next(ctx context.Context, n int) ([]NameEntry, error) {
	if it.done {
		return nil, nil
	}
	it.done = true
	return it.entries, nil
}

func (it *memDirIterator) Close() error { return nil }

func (b *memBackend) Opendir(ctx context.Context, path string) (DirIteratorFactory, error) {
	b.mu.Lock()
	if !b.dirs[path] {
		b.mu.Unlock()
		return nil, ErrNoSuchFile(nil)
	}
	prefix := path
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	var entries []NameEntry
	for p := range b.files {
		if strings.HasPrefix(p, prefix) && !strings.Contains(p[len(prefix):], "/") {
			name := p[len(prefix):]
			entries = append(entries, NameEntry{Name: name, LongName: name})
		}
	}
	b.mu.Unlock()
	return func(ctx context.Context) (DirIterator, error) {
		return &memDirIterator{entries: entries}, nil
	}, nil
}

func (b *memBackend) Remove(ctx context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.files[path]; !ok {
		return ErrNoSuchFile(nil)
	}
	delete(b.files, path)
	return nil
}

func (b *memBackend) Mkdir(ctx context.Context, path string, attrs Attributes) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dirs[path] = true
	return nil
}

func (b *memBackend) Rmdir(ctx context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.dirs, path)
	return nil
}

func (b *memBackend) Realpath(ctx context.Context, path string) (string, error) {
	if path == "" || path == "." {
		return "/", nil
	}
	return path, nil
}

func (b *memBackend) Rename(ctx context.Context, oldPath, newPath string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.files[oldPath]
	if !ok {
		return ErrNoSuchFile(nil)
	}
	b.files[newPath] = f
	delete(b.files, oldPath)
	return nil
}

func (b *memBackend) Readlink(ctx context.Context, path string) (string, error) {
	return "", ErrNoSuchFile(nil)
}

func (b *memBackend) Symlink(ctx context.Context, linkPath, targetPath string) error {
	return NewHandlerFailure(StatusOpUnsupported, nil)
}
