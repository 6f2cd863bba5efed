package gosftp

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
)

// DirHandle is the client-side handle returned by Client.OpenDir. It pages
// through a directory listing one READDIR round trip at a time.
type DirHandle struct {
	client *Client
	handle string
	path   string

	mu     sync.Mutex
	closed bool
}

// Name reports the path DirHandle was opened with.
func (h *DirHandle) Name() string { return h.path }

// ReadDir returns the next page of entries. It returns io.EOF once the
// listing is exhausted, matching spec.md section 4.2's EOF-terminated
// paging contract.
func (h *DirHandle) ReadDir(ctx context.Context) ([]NameEntry, error) {
	entries, err := h.client.readdir(ctx, h.handle)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == StatusEOF {
			return nil, io.EOF
		}
		return nil, err
	}
	return entries, nil
}

// Close issues CLOSE on the directory handle. Safe to call more than once.
func (h *DirHandle) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()
	return h.client.closeHandle(ctx, h.handle)
}

// DirWalk is a one-entry-at-a-time iterator over a directory, built on top
// of DirHandle's paging. It guarantees the underlying handle is closed once
// the walk completes, fails, or its context is canceled — grounded on the
// "every handle closed on completion/cancellation/failure" contract in
// spec.md section 4.3, and shaped after pkg/sftp's own Walker.
type DirWalk struct {
	client *Client
	dir    *DirHandle

	page []NameEntry
	idx  int
	cur  NameEntry
	err  error
	done bool
}

// NewDirWalk opens path and returns a walker over its entries.
func NewDirWalk(ctx context.Context, client *Client, path string) (*DirWalk, error) {
	dir, err := client.OpenDir(ctx, path)
	if err != nil {
		return nil, err
	}
	return &DirWalk{client: client, dir: dir}, nil
}

// Next advances to the next entry, fetching a new page from the server
// when the buffered page is exhausted. It returns false when the walk is
// complete (check Err to distinguish clean completion from failure); once
// Next returns false the directory handle has already been closed.
func (w *DirWalk) Next(ctx context.Context) bool {
	if w.done {
		return false
	}
	for w.idx >= len(w.page) {
		page, err := w.dir.ReadDir(ctx)
		if err == io.EOF {
			w.finish(ctx, nil)
			return false
		}
		if err != nil {
			w.finish(ctx, err)
			return false
		}
		w.page = page
		w.idx = 0
		if len(page) == 0 {
			// A server may legally answer a page with zero entries without
			// yet signaling EOF; keep paging rather than treating it as done.
			continue
		}
	}
	w.cur = w.page[w.idx]
	w.idx++
	return true
}

func (w *DirWalk) finish(ctx context.Context, err error) {
	w.done = true
	w.err = err
	_ = w.dir.Close(ctx)
}

// Entry returns the entry Next just advanced to.
func (w *DirWalk) Entry() NameEntry { return w.cur }

// Err returns the error that ended the walk, or nil on clean completion.
func (w *DirWalk) Err() error { return w.err }

// Close abandons the walk early, closing the underlying directory handle.
func (w *DirWalk) Close(ctx context.Context) error {
	if w.done {
		return nil
	}
	w.done = true
	return w.dir.Close(ctx)
}
