// Package fsbackend implements gosftp.Backend against a directory on the
// local filesystem, the way pkg/sftp's DefaultFSBackend answers requests
// with plain os.* calls. It is the "external collaborator" SPEC_FULL.md
// section 1 describes: enough of a real backend that the engine is
// exercisable end-to-end without a network daemon in front of it.
package fsbackend

import (
	"context"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/richardjennings/gosftp"
)

// decodeRenamePayload reads the two length-prefixed path strings that make
// up posix-rename@openssh.com's request body, independent of gosftp's
// internal wire codec (this package only ever sees the already-demuxed
// extension payload, per gosftp.Backend.Extended).
func decodeRenamePayload(payload []byte) (oldPath, newPath string, err error) {
	readString := func(b []byte) (string, []byte, error) {
		if len(b) < 4 {
			return "", nil, errors.New("fsbackend: truncated extension payload")
		}
		n := binary.BigEndian.Uint32(b)
		b = b[4:]
		if uint32(len(b)) < n {
			return "", nil, errors.New("fsbackend: truncated extension payload")
		}
		return string(b[:n]), b[n:], nil
	}
	rest := payload
	oldPath, rest, err = readString(rest)
	if err != nil {
		return "", "", err
	}
	newPath, _, err = readString(rest)
	if err != nil {
		return "", "", err
	}
	return oldPath, newPath, nil
}

// FS is a gosftp.Backend rooted at a host directory. Every path in a
// request is cleaned as an absolute path and then joined to Root, so ".."
// components cannot climb above Root: "/../etc" names Root/etc. Symbolic
// links inside Root are followed by the underlying os calls and are not
// checked. This is the backend's own policy choice — spec.md section 6 leaves traversal
// mitigation entirely up to the backend.
type FS struct {
	Root string
}

// New returns a Backend rooted at root. Init creates the directory if it
// does not exist yet.
func New(root string) *FS {
	return &FS{Root: filepath.Clean(root)}
}

func (fs *FS) resolve(reqPath string) (string, error) {
	if reqPath == "" {
		reqPath = "/"
	}
	clean := filepath.Clean("/" + reqPath)
	full := filepath.Join(fs.Root, clean)
	if rel, err := filepath.Rel(fs.Root, full); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", gosftp.NewHandlerFailure(gosftp.StatusPermissionDenied, nil)
	}
	return full, nil
}

func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if os.IsNotExist(err) {
		return gosftp.ErrNoSuchFile(err)
	}
	if os.IsPermission(err) {
		return gosftp.NewHandlerFailure(gosftp.StatusPermissionDenied, err)
	}
	var hf *gosftp.HandlerFailure
	if errors.As(err, &hf) {
		return err
	}
	return gosftp.NewHandlerFailure(gosftp.StatusFailure, err)
}

// Init advertises the two extensions FS implements.
func (fs *FS) Init(ctx context.Context, clientVersion uint32, clientExtensions gosftp.Extensions) (gosftp.Extensions, error) {
	if err := os.MkdirAll(fs.Root, 0o755); err != nil {
		return nil, errors.Wrap(err, "fsbackend: preparing root")
	}
	return gosftp.Extensions{
		"posix-rename@openssh.com": "1",
		"statvfs@openssh.com":      "2",
	}, nil
}

// translatePflags maps spec.md section 6's access flags onto os.OpenFile
// flags, grounded directly on pkg/sftp's DefaultFSBackend.RespondToOpenPacket.
func translatePflags(flags uint32) (int, error) {
	const (
		read   = 0x00000001
		write  = 0x00000002
		append_ = 0x00000004
		creat  = 0x00000008
		trunc  = 0x00000010
		excl   = 0x00000020
	)
	var osFlags int
	switch {
	case flags&read != 0 && flags&write != 0:
		osFlags |= os.O_RDWR
	case flags&write != 0:
		osFlags |= os.O_WRONLY
	case flags&read != 0:
		osFlags |= os.O_RDONLY
	default:
		return 0, gosftp.NewHandlerFailure(gosftp.StatusBadMessage, nil)
	}
	if flags&append_ != 0 {
		osFlags |= os.O_APPEND
	}
	if flags&creat != 0 {
		osFlags |= os.O_CREATE
	}
	if flags&trunc != 0 {
		osFlags |= os.O_TRUNC
	}
	if flags&excl != 0 {
		osFlags |= os.O_EXCL
	}
	return osFlags, nil
}

// Open implements gosftp.Backend. An *os.File already satisfies
// gosftp.FileStream (ReadAt/WriteAt/Close), so it is returned directly.
func (fs *FS) Open(ctx context.Context, path string, flags uint32, attrs gosftp.Attributes) (gosftp.FileStream, error) {
	full, err := fs.resolve(path)
	if err != nil {
		return nil, err
	}
	osFlags, err := translatePflags(flags)
	if err != nil {
		return nil, err
	}
	perm := os.FileMode(0o644)
	if attrs.Permissions != nil {
		perm = os.FileMode(attrs.Permissions.Perm())
	}
	f, err := os.OpenFile(full, osFlags, perm)
	if err != nil {
		return nil, translateErr(err)
	}
	return f, nil
}

func (fs *FS) Lstat(ctx context.Context, path string) (gosftp.Attributes, error) {
	full, err := fs.resolve(path)
	if err != nil {
		return gosftp.Attributes{}, err
	}
	info, err := os.Lstat(full)
	if err != nil {
		return gosftp.Attributes{}, translateErr(err)
	}
	return attrsFromFileInfo(info), nil
}

func (fs *FS) Stat(ctx context.Context, path string) (gosftp.Attributes, error) {
	full, err := fs.resolve(path)
	if err != nil {
		return gosftp.Attributes{}, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return gosftp.Attributes{}, translateErr(err)
	}
	return attrsFromFileInfo(info), nil
}

func (fs *FS) Fstat(ctx context.Context, stream gosftp.FileStream) (gosftp.Attributes, error) {
	f, ok := stream.(*os.File)
	if !ok {
		return gosftp.Attributes{}, gosftp.NewHandlerFailure(gosftp.StatusFailure, nil)
	}
	info, err := f.Stat()
	if err != nil {
		return gosftp.Attributes{}, translateErr(err)
	}
	return attrsFromFileInfo(info), nil
}

// Setstat applies each attribute present in attrs in the order spec.md
// section 6's table lists them, grounded on DefaultFSBackend.RespondToSetstatPacket.
func (fs *FS) Setstat(ctx context.Context, path string, attrs gosftp.Attributes) error {
	full, err := fs.resolve(path)
	if err != nil {
		return err
	}
	return applyAttrs(full, attrs, os.Truncate, os.Chmod, os.Chtimes, os.Chown)
}

func (fs *FS) Fsetstat(ctx context.Context, stream gosftp.FileStream, attrs gosftp.Attributes) error {
	f, ok := stream.(*os.File)
	if !ok {
		return gosftp.NewHandlerFailure(gosftp.StatusFailure, nil)
	}
	return applyAttrs(f.Name(), attrs,
		func(_ string, size int64) error { return f.Truncate(size) },
		func(_ string, mode os.FileMode) error { return f.Chmod(mode) },
		os.Chtimes,
		func(_ string, uid, gid int) error { return f.Chown(uid, gid) },
	)
}

func applyAttrs(
	name string,
	attrs gosftp.Attributes,
	truncate func(string, int64) error,
	chmod func(string, os.FileMode) error,
	chtimes func(string, time.Time, time.Time) error,
	chown func(string, int, int) error,
) error {
	if attrs.Size != nil {
		if err := truncate(name, int64(*attrs.Size)); err != nil {
			return translateErr(err)
		}
	}
	if attrs.Permissions != nil {
		if err := chmod(name, os.FileMode(attrs.Permissions.Perm())); err != nil {
			return translateErr(err)
		}
	}
	if attrs.ATime != nil && attrs.MTime != nil {
		at := time.Unix(int64(*attrs.ATime), 0)
		mt := time.Unix(int64(*attrs.MTime), 0)
		if err := chtimes(name, at, mt); err != nil {
			return translateErr(err)
		}
	}
	if attrs.UID != nil && attrs.GID != nil {
		if err := chown(name, int(*attrs.UID), int(*attrs.GID)); err != nil {
			return translateErr(err)
		}
	}
	return nil
}

// dirIterator adapts *os.File's Readdir into gosftp.DirIterator.
type dirIterator struct {
	dir     *os.File
	dirPath string
}

func (it *dirIterator) Next(ctx context.Context, n int) ([]gosftp.NameEntry, error) {
	infos, err := it.dir.Readdir(n)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, translateErr(err)
	}
	entries := make([]gosftp.NameEntry, len(infos))
	for i, info := range infos {
		attrs := attrsFromFileInfo(info)
		entries[i] = gosftp.NameEntry{
			Name:     info.Name(),
			LongName: gosftp.FormatLongName(info.Name(), attrs),
			Attrs:    attrs,
		}
	}
	return entries, nil
}

func (it *dirIterator) Close() error { return it.dir.Close() }

func (fs *FS) Opendir(ctx context.Context, path string) (gosftp.DirIteratorFactory, error) {
	full, err := fs.resolve(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return nil, translateErr(err)
	}
	if !info.IsDir() {
		return nil, gosftp.NewHandlerFailure(gosftp.StatusFailure, errors.New("fsbackend: not a directory"))
	}
	return func(ctx context.Context) (gosftp.DirIterator, error) {
		dir, err := os.Open(full)
		if err != nil {
			return nil, translateErr(err)
		}
		return &dirIterator{dir: dir, dirPath: full}, nil
	}, nil
}

func (fs *FS) Remove(ctx context.Context, path string) error {
	full, err := fs.resolve(path)
	if err != nil {
		return err
	}
	return translateErr(os.Remove(full))
}

func (fs *FS) Mkdir(ctx context.Context, path string, attrs gosftp.Attributes) error {
	full, err := fs.resolve(path)
	if err != nil {
		return err
	}
	perm := os.FileMode(0o755)
	if attrs.Permissions != nil {
		perm = os.FileMode(attrs.Permissions.Perm())
	}
	return translateErr(os.Mkdir(full, perm))
}

func (fs *FS) Rmdir(ctx context.Context, path string) error {
	full, err := fs.resolve(path)
	if err != nil {
		return err
	}
	return translateErr(os.Remove(full))
}

func (fs *FS) Realpath(ctx context.Context, path string) (string, error) {
	full, err := fs.resolve(path)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(fs.Root, full)
	if err != nil {
		return "", translateErr(err)
	}
	if rel == "." {
		return "/", nil
	}
	return "/" + filepath.ToSlash(rel), nil
}

func (fs *FS) Rename(ctx context.Context, oldPath, newPath string) error {
	oldFull, err := fs.resolve(oldPath)
	if err != nil {
		return err
	}
	newFull, err := fs.resolve(newPath)
	if err != nil {
		return err
	}
	if _, err := os.Stat(newFull); err == nil {
		return gosftp.NewHandlerFailure(gosftp.StatusFailure, errors.New("fsbackend: destination exists"))
	}
	return translateErr(os.Rename(oldFull, newFull))
}

func (fs *FS) Readlink(ctx context.Context, path string) (string, error) {
	full, err := fs.resolve(path)
	if err != nil {
		return "", err
	}
	target, err := os.Readlink(full)
	if err != nil {
		return "", translateErr(err)
	}
	return target, nil
}

func (fs *FS) Symlink(ctx context.Context, linkPath, targetPath string) error {
	full, err := fs.resolve(linkPath)
	if err != nil {
		return err
	}
	return translateErr(os.Symlink(targetPath, full))
}

// Extended services posix-rename@openssh.com and statvfs@openssh.com;
// anything else reports StatusOpUnsupported.
func (fs *FS) Extended(ctx context.Context, requestID uint32, requestName string, payload []byte) ([]byte, error) {
	switch requestName {
	case "posix-rename@openssh.com":
		return nil, fs.posixRename(payload)
	case "statvfs@openssh.com":
		return fs.statvfs(payload)
	default:
		return nil, gosftp.NewHandlerFailure(gosftp.StatusOpUnsupported, nil)
	}
}

func (fs *FS) posixRename(payload []byte) error {
	oldPath, newPath, err := decodeRenamePayload(payload)
	if err != nil {
		return err
	}
	oldFull, err := fs.resolve(oldPath)
	if err != nil {
		return err
	}
	newFull, err := fs.resolve(newPath)
	if err != nil {
		return err
	}
	// Unlike Rename, posix-rename@openssh.com overwrites an existing
	// destination, matching POSIX rename(2) semantics (spec.md section 4.2).
	return translateErr(os.Rename(oldFull, newFull))
}
