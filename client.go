package gosftp

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/semaphore"
)

// Client is the client-side half of the engine (spec.md section 4.1): a
// single writer-lock-serialized send path paired with a single-consumer
// read loop that demultiplexes responses into a pending-request map keyed
// by request_id. Grounded on pkg/sftp's clientConn/conn pair: an inflight
// map, a monotonic request_id counter, and a dedicated receive goroutine
// that owns every read from the wire.
type Client struct {
	r  io.Reader
	w  io.Writer
	fw *frameWriter

	sshSession io.Closer // non-nil only when constructed via Dial

	writeLock *semaphore.Weighted // weight 1: serializes concurrent send paths
	nextID    atomic.Uint32

	mu       sync.Mutex
	pending  map[uint32]chan responseEnvelope
	disposed bool
	closeErr error
	done     chan struct{}

	maxPacketLength uint32
	logger          *slog.Logger

	protocolVersion uint32
	extensions      Extensions
}

// responseEnvelope is what the receive loop hands to a waiting caller: the
// response's tag and its body past the common (tag, request_id) header.
type responseEnvelope struct {
	tag     fxpType
	payload []byte
	err     error
}

// requestBody is satisfied by every *Request type in packet.go.
type requestBody interface {
	encodeBody(buf *buffer)
}

// ClientOption configures a Client at construction time.
type ClientOption func(*Client)

// WithClientLogger sets the structured logger used for receive-loop
// diagnostics. The default discards logs.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithClientMaxPacketLength overrides DefaultMaxPacketLength for incoming
// frames.
func WithClientMaxPacketLength(n uint32) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxPacketLength = n
		}
	}
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var first error
	for _, c := range m {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Dial opens an SSH connection, starts the sftp subsystem on it, and
// performs the INIT/VERSION handshake. Grounded on the teacher's
// Client.NewSession (client.go): NewSession, RequestSubsystem("sftp"),
// StdinPipe/StdoutPipe, wired here directly into NewClientOnConn instead of
// a separate Session type.
func Dial(ctx context.Context, network, addr string, config *ssh.ClientConfig, opts ...ClientOption) (*Client, error) {
	conn, err := ssh.Dial(network, addr, config)
	if err != nil {
		return nil, errors.Wrap(err, "gosftp: ssh dial")
	}
	session, err := conn.NewSession()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "gosftp: opening ssh session")
	}
	if err := session.RequestSubsystem("sftp"); err != nil {
		_ = session.Close()
		_ = conn.Close()
		return nil, errors.Wrap(err, "gosftp: requesting sftp subsystem")
	}
	w, err := session.StdinPipe()
	if err != nil {
		_ = session.Close()
		_ = conn.Close()
		return nil, err
	}
	r, err := session.StdoutPipe()
	if err != nil {
		_ = session.Close()
		_ = conn.Close()
		return nil, err
	}

	c, err := newClientOnConn(ctx, r, w, opts...)
	if err != nil {
		_ = session.Close()
		_ = conn.Close()
		return nil, err
	}
	c.sshSession = multiCloser{session, conn}
	return c, nil
}

// NewClientOnConn wraps an already-established duplex byte stream (for
// tests, a net.Pipe or io.Pipe pair; in production, anything that looks
// like a transport) and performs the INIT/VERSION handshake over it.
func NewClientOnConn(ctx context.Context, r io.Reader, w io.Writer, opts ...ClientOption) (*Client, error) {
	return newClientOnConn(ctx, r, w, opts...)
}

func newClientOnConn(ctx context.Context, r io.Reader, w io.Writer, opts ...ClientOption) (*Client, error) {
	c := &Client{
		r:               r,
		w:               w,
		fw:              newFrameWriter(w, DefaultMaxEncodedPayload),
		writeLock:       semaphore.NewWeighted(1),
		pending:         make(map[uint32]chan responseEnvelope),
		done:            make(chan struct{}),
		maxPacketLength: DefaultMaxPacketLength,
		logger:          slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(c)
	}

	if err := c.handshake(ctx); err != nil {
		return nil, err
	}
	go c.recvLoop()
	return c, nil
}

func (c *Client) handshake(ctx context.Context) error {
	if err := c.writeLock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.writeLock.Release(1)

	if err := encodeInit(c.fw, ProtocolVersion, nil); err != nil {
		return err
	}
	tag, payload, err := readFrame(c.r, c.maxPacketLength)
	if err != nil {
		return err
	}
	if tag != fxpVersion {
		return protocolViolation("expected VERSION, got %s", tag)
	}
	v, err := decodeVersionBody(newBuffer(payload))
	if err != nil {
		return err
	}
	negotiated := v.Version
	if negotiated > ProtocolVersion {
		negotiated = ProtocolVersion
	}
	c.protocolVersion = negotiated
	c.extensions = v.Extensions
	return nil
}

// ProtocolVersion reports the version negotiated during the handshake.
func (c *Client) ProtocolVersion() uint32 { return c.protocolVersion }

// Extensions reports the extensions the server advertised in VERSION.
func (c *Client) Extensions() Extensions { return c.extensions }

// recvLoop is the single consumer of c.r; it owns every read from the wire
// for the lifetime of the client, per spec.md section 4.1.
func (c *Client) recvLoop() {
	for {
		tag, payload, err := readFrame(c.r, c.maxPacketLength)
		if err != nil {
			c.teardown(err)
			return
		}
		if len(payload) < 4 {
			c.teardown(protocolViolation("response shorter than a request_id"))
			return
		}
		buf := newBuffer(payload)
		id, err := buf.ConsumeUint32()
		if err != nil {
			c.teardown(err)
			return
		}

		c.mu.Lock()
		ch, ok := c.pending[id]
		if ok {
			delete(c.pending, id)
		}
		c.mu.Unlock()

		if !ok {
			c.logger.Warn("gosftp: response for unknown request id", "id", id, "tag", tag.String())
			continue
		}
		ch <- responseEnvelope{tag: tag, payload: buf.Bytes()[buf.off:]}
	}
}

// teardown fails every outstanding request and marks the client disposed,
// per spec.md section 3's "Lifecycles".
func (c *Client) teardown(cause error) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	if cause == io.EOF {
		cause = ErrDisposed
	}
	c.closeErr = cause
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- responseEnvelope{err: ErrDisposed}
	}
	close(c.done)
}

// Wait blocks until the client's receive loop has torn down (the remote
// peer closed the connection, or a protocol violation occurred), or until
// ctx is canceled. It returns the reason the engine disposed.
func (c *Client) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.closeErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close terminates the underlying transport (and, if the client was built
// via Dial, the SSH session and connection beneath it), unblocking the
// receive loop and failing every outstanding request. For a client built
// with NewClientOnConn, the writer and the reader are each closed if they
// implement io.Closer.
func (c *Client) Close() error {
	var err error
	if closer, ok := c.w.(io.Closer); ok {
		err = closer.Close()
	}
	if c.sshSession != nil {
		if e := c.sshSession.Close(); err == nil {
			err = e
		}
	} else if rc, ok := c.r.(io.Closer); ok {
		_ = rc.Close()
	}
	return err
}

// roundTrip sends one request and waits for its correlated response,
// honoring ctx cancellation on both the send and the wait.
func (c *Client) roundTrip(ctx context.Context, tag fxpType, body requestBody) (responseEnvelope, error) {
	c.mu.Lock()
	if c.disposed {
		err := c.closeErr
		c.mu.Unlock()
		return responseEnvelope{}, err
	}
	id := c.nextID.Add(1)
	ch := make(chan responseEnvelope, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.send(ctx, tag, id, body); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return responseEnvelope{}, err
	}

	select {
	case env := <-ch:
		if env.err != nil {
			return responseEnvelope{}, env.err
		}
		return env, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return responseEnvelope{}, ctx.Err()
	}
}

func (c *Client) send(ctx context.Context, tag fxpType, id uint32, body requestBody) error {
	if err := c.writeLock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.writeLock.Release(1)

	buf := newMarshalBuffer(64)
	buf.AppendUint32(id)
	body.encodeBody(buf)
	return c.fw.flush(tag, buf.Bytes())
}

// statusErr converts a STATUS payload into either nil (OK) or a *StatusError.
func statusErr(payload []byte) error {
	sr, err := decodeStatusResponse(newBuffer(payload))
	if err != nil {
		return err
	}
	if sr.Code == StatusOK {
		return nil
	}
	return &StatusError{Code: sr.Code, Msg: sr.Message, Lang: sr.Lang}
}

func (c *Client) expectStatus(ctx context.Context, tag fxpType, body requestBody) error {
	env, err := c.roundTrip(ctx, tag, body)
	if err != nil {
		return err
	}
	if env.tag != fxpStatus {
		return &UnexpectedResponseError{Want: fxpStatus, Got: env.tag}
	}
	return statusErr(env.payload)
}

// --- high-level operations (spec.md section 4.1) ---

// Open issues OPEN and wraps the resulting handle in a *RemoteFile.
func (c *Client) Open(ctx context.Context, path string, flags uint32, attrs Attributes) (*RemoteFile, error) {
	env, err := c.roundTrip(ctx, fxpOpen, &openRequest{Path: path, PFlags: flags, Attrs: attrs})
	if err != nil {
		return nil, err
	}
	switch env.tag {
	case fxpHandle:
		hr, err := decodeHandleResponse(newBuffer(env.payload))
		if err != nil {
			return nil, err
		}
		return &RemoteFile{client: c, handle: hr.Handle, path: path}, nil
	case fxpStatus:
		return nil, statusErr(env.payload)
	default:
		return nil, &UnexpectedResponseError{Want: fxpHandle, Got: env.tag}
	}
}

func (c *Client) closeHandle(ctx context.Context, handle string) error {
	return c.expectStatus(ctx, fxpClose, &closeRequest{Handle: handle})
}

// readAt issues one READ and translates a STATUS=EOF response into io.EOF:
// end-of-file is a stream condition callers expect to see via io.EOF, not
// as a *StatusError they have to special-case.
func (c *Client) readAt(ctx context.Context, handle string, offset uint64, length uint32) ([]byte, error) {
	env, err := c.roundTrip(ctx, fxpRead, &readRequest{Handle: handle, Offset: offset, Len: length})
	if err != nil {
		return nil, err
	}
	switch env.tag {
	case fxpData:
		dr, err := decodeDataResponse(newBuffer(env.payload))
		if err != nil {
			return nil, err
		}
		return dr.Data, nil
	case fxpStatus:
		if serr := statusErr(env.payload); serr != nil {
			if se, ok := serr.(*StatusError); ok && se.Code == StatusEOF {
				return nil, io.EOF
			}
			return nil, serr
		}
		return nil, nil
	default:
		return nil, &UnexpectedResponseError{Want: fxpData, Got: env.tag}
	}
}

func (c *Client) writeAt(ctx context.Context, handle string, offset uint64, data []byte) error {
	return c.expectStatus(ctx, fxpWrite, &writeRequest{Handle: handle, Offset: offset, Data: data})
}

// OpenDir issues OPENDIR and returns a *DirHandle the caller pages through
// with ReadDir.
func (c *Client) OpenDir(ctx context.Context, path string) (*DirHandle, error) {
	env, err := c.roundTrip(ctx, fxpOpendir, &pathRequest{Path: path})
	if err != nil {
		return nil, err
	}
	switch env.tag {
	case fxpHandle:
		hr, err := decodeHandleResponse(newBuffer(env.payload))
		if err != nil {
			return nil, err
		}
		return &DirHandle{client: c, handle: hr.Handle, path: path}, nil
	case fxpStatus:
		return nil, statusErr(env.payload)
	default:
		return nil, &UnexpectedResponseError{Want: fxpHandle, Got: env.tag}
	}
}

func (c *Client) readdir(ctx context.Context, handle string) ([]NameEntry, error) {
	env, err := c.roundTrip(ctx, fxpReaddir, &handleRequest{Handle: handle})
	if err != nil {
		return nil, err
	}
	switch env.tag {
	case fxpName:
		nr, err := decodeNameResponse(newBuffer(env.payload))
		if err != nil {
			return nil, err
		}
		return nr.Entries, nil
	case fxpStatus:
		return nil, statusErr(env.payload)
	default:
		return nil, &UnexpectedResponseError{Want: fxpName, Got: env.tag}
	}
}

// ReadDir drains a directory entirely into one slice, closing the handle
// when done. For large directories prefer DirHandle/DirWalk directly.
func (c *Client) ReadDir(ctx context.Context, path string) ([]NameEntry, error) {
	h, err := c.OpenDir(ctx, path)
	if err != nil {
		return nil, err
	}
	defer h.Close(ctx)

	var out []NameEntry
	for {
		page, err := h.ReadDir(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, page...)
	}
}

// Remove issues REMOVE.
func (c *Client) Remove(ctx context.Context, path string) error {
	return c.expectStatus(ctx, fxpRemove, &pathRequest{Path: path})
}

// Mkdir issues MKDIR.
func (c *Client) Mkdir(ctx context.Context, path string, attrs Attributes) error {
	return c.expectStatus(ctx, fxpMkdir, &mkdirRequest{Path: path, Attrs: attrs})
}

// RemoveDir issues RMDIR.
func (c *Client) RemoveDir(ctx context.Context, path string) error {
	return c.expectStatus(ctx, fxpRmdir, &pathRequest{Path: path})
}

func (c *Client) statRequest(ctx context.Context, tag fxpType, path string) (Attributes, error) {
	env, err := c.roundTrip(ctx, tag, &pathRequest{Path: path})
	if err != nil {
		return Attributes{}, err
	}
	switch env.tag {
	case fxpAttrs:
		ar, err := decodeAttrsResponse(newBuffer(env.payload))
		if err != nil {
			return Attributes{}, err
		}
		return ar.Attrs, nil
	case fxpStatus:
		return Attributes{}, statusErr(env.payload)
	default:
		return Attributes{}, &UnexpectedResponseError{Want: fxpAttrs, Got: env.tag}
	}
}

// Stat issues STAT (follows symlinks).
func (c *Client) Stat(ctx context.Context, path string) (Attributes, error) {
	return c.statRequest(ctx, fxpStat, path)
}

// Lstat issues LSTAT (does not follow symlinks).
func (c *Client) Lstat(ctx context.Context, path string) (Attributes, error) {
	return c.statRequest(ctx, fxpLstat, path)
}

// SetStat issues SETSTAT.
func (c *Client) SetStat(ctx context.Context, path string, attrs Attributes) error {
	return c.expectStatus(ctx, fxpSetstat, &setstatRequest{Path: path, Attrs: attrs})
}

// Rename issues RENAME.
func (c *Client) Rename(ctx context.Context, oldPath, newPath string) error {
	return c.expectStatus(ctx, fxpRename, &renameRequest{OldPath: oldPath, NewPath: newPath})
}

// PosixRename issues the posix-rename@openssh.com extension, which
// overwrites newPath if it already exists. Returns ErrStatusOpUnsupported
// if the server did not advertise the extension.
func (c *Client) PosixRename(ctx context.Context, oldPath, newPath string) error {
	if _, ok := c.extensions[extensionPosixRename]; !ok {
		return ErrStatusOpUnsupported
	}
	return c.expectStatus(ctx, fxpExtended, &extendedRequest{
		ExtensionName: extensionPosixRename,
		Payload:       encodePosixRenamePayload(oldPath, newPath),
	})
}

// ReadLink issues READLINK.
func (c *Client) ReadLink(ctx context.Context, path string) (string, error) {
	env, err := c.roundTrip(ctx, fxpReadlink, &pathRequest{Path: path})
	if err != nil {
		return "", err
	}
	return c.firstName(env)
}

// RealPath issues REALPATH.
func (c *Client) RealPath(ctx context.Context, path string) (string, error) {
	env, err := c.roundTrip(ctx, fxpRealpath, &pathRequest{Path: path})
	if err != nil {
		return "", err
	}
	return c.firstName(env)
}

func (c *Client) firstName(env responseEnvelope) (string, error) {
	switch env.tag {
	case fxpName:
		nr, err := decodeNameResponse(newBuffer(env.payload))
		if err != nil {
			return "", err
		}
		if len(nr.Entries) == 0 {
			return "", protocolViolation("NAME response with zero entries")
		}
		return nr.Entries[0].Name, nil
	case fxpStatus:
		return "", statusErr(env.payload)
	default:
		return "", &UnexpectedResponseError{Want: fxpName, Got: env.tag}
	}
}

// Symlink issues SYMLINK.
func (c *Client) Symlink(ctx context.Context, linkPath, targetPath string) error {
	return c.expectStatus(ctx, fxpSymlink, &symlinkRequest{LinkPath: linkPath, TargetPath: targetPath})
}

// Extended issues an EXTENDED request by name and returns the raw
// EXTENDED_REPLY payload, or nil if the server answered with STATUS OK.
func (c *Client) Extended(ctx context.Context, name string, payload []byte) ([]byte, error) {
	env, err := c.roundTrip(ctx, fxpExtended, &extendedRequest{ExtensionName: name, Payload: payload})
	if err != nil {
		return nil, err
	}
	switch env.tag {
	case fxpExtendedReply:
		return env.payload, nil
	case fxpStatus:
		return nil, statusErr(env.payload)
	default:
		return nil, &UnexpectedResponseError{Want: fxpExtendedReply, Got: env.tag}
	}
}
