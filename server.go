package gosftp

import (
	"context"
	"io"
	"log/slog"

	"github.com/pkg/errors"
)

// ProtocolVersion is the highest SFTP version this engine speaks (spec.md
// section 1, "Non-goals": versions beyond 3 are negotiated down to this).
const ProtocolVersion = 3

// Server is the server-side half of the engine described in spec.md
// section 4.5: it reads frames, dispatches by request type, invokes a
// Backend, builds responses, paginates directory listings, and manages
// version negotiation.
type Server struct {
	r  io.Reader
	fw *frameWriter

	backend Backend
	handles *Table
	logger  *slog.Logger

	readOnly        bool
	maxPacketLength uint32
	readDirPageSize int

	protocolVersion uint32
}

// ServerOption configures a Server at construction time, grounded on the
// functional-options idiom pkg/sftp uses for its own Server constructor.
type ServerOption func(*Server)

// WithLogger sets the structured logger the server uses for unexpected
// backend failures. The default discards logs.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithHandleTableCapacity overrides DefaultHandleTableCapacity.
func WithHandleTableCapacity(n int) ServerOption {
	return func(s *Server) { s.handles = NewTable(n) }
}

// WithReadDirPageSize overrides DefaultReadDirPageSize.
func WithReadDirPageSize(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.readDirPageSize = n
		}
	}
}

// WithMaxPacketLength overrides DefaultMaxPacketLength.
func WithMaxPacketLength(n uint32) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxPacketLength = n
		}
	}
}

// ReadOnly rejects any request that would mutate backend state with
// StatusPermissionDenied, without invoking the backend at all.
func ReadOnly() ServerOption {
	return func(s *Server) { s.readOnly = true }
}

// NewServer constructs a Server reading from r and writing to w, serving
// requests via backend. A subsequent call to Serve is required to begin
// processing (spec.md section 4.5).
func NewServer(r io.Reader, w io.Writer, backend Backend, opts ...ServerOption) *Server {
	s := &Server{
		r:               r,
		fw:              newFrameWriter(w, DefaultMaxEncodedPayload),
		backend:         backend,
		handles:         NewTable(DefaultHandleTableCapacity),
		logger:          slog.New(slog.DiscardHandler),
		maxPacketLength: DefaultMaxPacketLength,
		readDirPageSize: DefaultReadDirPageSize,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Serve runs the AwaitingInit -> Serving -> Terminated state machine from
// spec.md section 4.5 until the stream ends, an unrecoverable error occurs,
// or ctx is canceled. On return every open handle has been finalized and,
// if the backend implements Finalizer, the backend has been closed.
func (s *Server) Serve(ctx context.Context) error {
	defer s.handles.CloseAll()
	defer func() {
		if f, ok := s.backend.(Finalizer); ok {
			_ = f.Close()
		}
	}()

	if err := s.awaitInit(ctx); err != nil {
		return err
	}
	return s.serveLoop(ctx)
}

func (s *Server) awaitInit(ctx context.Context) error {
	tag, payload, err := readFrame(s.r, s.maxPacketLength)
	if err != nil {
		if err == io.EOF {
			return protocolViolation("stream closed before INIT")
		}
		return err
	}
	if tag != fxpInit {
		return protocolViolation("expected INIT, got %s", tag)
	}
	init, err := decodeInitBody(newBuffer(payload))
	if err != nil {
		return err
	}

	negotiated := init.Version
	if negotiated > ProtocolVersion {
		negotiated = ProtocolVersion
	}
	s.protocolVersion = negotiated

	serverExt, err := s.backend.Init(ctx, init.Version, init.Extensions)
	if err != nil {
		return errors.Wrap(err, "backend Init")
	}
	return encodeVersion(s.fw, negotiated, serverExt)
}

func (s *Server) serveLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		tag, payload, err := readFrame(s.r, s.maxPacketLength)
		if err != nil {
			if err == io.EOF {
				return nil // graceful termination, spec.md section 4.5
			}
			return err
		}
		if tag == fxpInit {
			return protocolViolation("INIT received twice")
		}

		buf := newBuffer(payload)
		id, err := buf.ConsumeUint32()
		if err != nil {
			return err
		}

		if s.readOnly && isMutatingRequest(tag, payload) {
			if err := s.sendStatus(id, NewHandlerFailure(StatusPermissionDenied, nil)); err != nil {
				return err
			}
			continue
		}

		if err := s.dispatch(ctx, id, tag, buf); err != nil {
			return err
		}
	}
}

// knownReadOnlyExtensions lists extension names that never mutate backend
// state, so a ReadOnly server still services them.
var knownReadOnlyExtensions = map[string]bool{
	"statvfs@openssh.com": true,
}

func isMutatingRequest(tag fxpType, payload []byte) bool {
	switch tag {
	case fxpWrite, fxpSetstat, fxpFsetstat, fxpRemove, fxpMkdir, fxpRmdir, fxpRename, fxpSymlink:
		return true
	case fxpOpen:
		// payload is id(4) || path || pflags(4) || attrs...; peek just the
		// pflags: an OPEN is read-only only when it carries none of the
		// WRITE, CREAT, TRUNC, APPEND or EXCL flags.
		buf := newBuffer(payload)
		if _, err := buf.ConsumeUint32(); err != nil { // id
			return true
		}
		if _, err := buf.ConsumeString(); err != nil { // path
			return true
		}
		flags, err := buf.ConsumeUint32()
		if err != nil {
			return true
		}
		return flags&(sshFxfWrite|sshFxfCreat|sshFxfTrunc|sshFxfAppend|sshFxfExcl) != 0
	case fxpExtended:
		buf := newBuffer(payload)
		if _, err := buf.ConsumeUint32(); err != nil { // id
			return true
		}
		name, err := buf.ConsumeString()
		if err != nil {
			return true
		}
		return !knownReadOnlyExtensions[name]
	default:
		return false
	}
}

func classifyError(err error) (StatusCode, string) {
	if err == nil {
		return StatusOK, ""
	}
	var hf *HandlerFailure
	if errors.As(err, &hf) {
		return hf.Status, hf.Message
	}
	if err == io.EOF {
		return StatusEOF, ""
	}
	return StatusFailure, err.Error()
}

func (s *Server) sendStatus(id uint32, err error) error {
	code, msg := classifyError(err)
	if code == StatusFailure && !isHandlerFailure(err) {
		s.logger.Error("unexpected backend failure", "error", err)
	}
	return encodeStatusResponse(s.fw, id, s.protocolVersion, code, msg, "")
}

func isHandlerFailure(err error) bool {
	var hf *HandlerFailure
	return errors.As(err, &hf)
}

func (s *Server) sendHandle(id uint32, handle string) error {
	return encodeHandleResponse(s.fw, id, handle)
}

func (s *Server) sendData(id uint32, data []byte) error {
	return encodeDataResponse(s.fw, id, data)
}

func (s *Server) sendName(id uint32, entries []NameEntry) error {
	return encodeNameResponse(s.fw, id, entries)
}

func (s *Server) sendAttrs(id uint32, attrs Attributes) error {
	return encodeAttrsResponse(s.fw, id, attrs)
}

func (s *Server) sendExtendedReply(id uint32, payload []byte) error {
	buf := newMarshalBuffer(8 + len(payload))
	buf.AppendUint32(id)
	buf.data = append(buf.data, payload...)
	return s.fw.flush(fxpExtendedReply, buf.Bytes())
}

// dispatch decodes the variant-specific body for tag and invokes the
// matching handler. Its return value is always either nil or a fatal
// (framing/I/O) error: backend-level failures are already converted into a
// sent STATUS response before dispatch returns.
func (s *Server) dispatch(ctx context.Context, id uint32, tag fxpType, buf *buffer) error {
	switch tag {
	case fxpOpen:
		return s.handleOpen(ctx, id, buf)
	case fxpClose:
		return s.handleClose(ctx, id, buf)
	case fxpRead:
		return s.handleRead(ctx, id, buf)
	case fxpWrite:
		return s.handleWrite(ctx, id, buf)
	case fxpLstat:
		return s.handleStatPath(ctx, id, buf, s.backend.Lstat)
	case fxpStat:
		return s.handleStatPath(ctx, id, buf, s.backend.Stat)
	case fxpFstat:
		return s.handleFstat(ctx, id, buf)
	case fxpSetstat:
		return s.handleSetstat(ctx, id, buf)
	case fxpFsetstat:
		return s.handleFsetstat(ctx, id, buf)
	case fxpOpendir:
		return s.handleOpendir(ctx, id, buf)
	case fxpReaddir:
		return s.handleReaddir(ctx, id, buf)
	case fxpRemove:
		return s.handleRemove(ctx, id, buf)
	case fxpMkdir:
		return s.handleMkdir(ctx, id, buf)
	case fxpRmdir:
		return s.handleRmdir(ctx, id, buf)
	case fxpRealpath:
		return s.handleRealpath(ctx, id, buf)
	case fxpRename:
		return s.handleRename(ctx, id, buf)
	case fxpReadlink:
		return s.handleReadlink(ctx, id, buf)
	case fxpSymlink:
		return s.handleSymlink(ctx, id, buf)
	case fxpExtended:
		return s.handleExtended(ctx, id, buf)
	default:
		return s.sendStatus(id, NewHandlerFailure(StatusOpUnsupported, nil))
	}
}

func (s *Server) handleOpen(ctx context.Context, id uint32, buf *buffer) error {
	req, err := decodeOpenRequest(buf)
	if err != nil {
		return err
	}
	stream, err := s.backend.Open(ctx, req.Path, req.PFlags, req.Attrs)
	if err != nil {
		return s.sendStatus(id, err)
	}
	handle, err := s.handles.AddFile(req.Path, stream)
	if err != nil {
		return s.sendStatus(id, NewHandlerFailure(StatusFailure, err))
	}
	return s.sendHandle(id, handle)
}

func (s *Server) handleClose(ctx context.Context, id uint32, buf *buffer) error {
	req, err := decodeHandleRequest(buf)
	if err != nil {
		return err
	}
	if !s.handles.Remove(req.Handle) {
		return s.sendStatus(id, ErrNoSuchFile(nil))
	}
	return s.sendStatus(id, nil)
}

func (s *Server) handleRead(ctx context.Context, id uint32, buf *buffer) error {
	req, err := decodeReadRequest(buf)
	if err != nil {
		return err
	}
	stream, err := s.handles.RequireFileStream(req.Handle)
	if err != nil {
		return s.sendStatus(id, err)
	}
	length := req.Len
	if length > DefaultMaxDataLength {
		length = DefaultMaxDataLength
	}
	data := make([]byte, length)
	n, rerr := stream.ReadAt(data, int64(req.Offset))
	if rerr != nil && (rerr != io.EOF || n == 0) {
		if rerr == io.EOF {
			return s.sendStatus(id, NewHandlerFailure(StatusEOF, nil))
		}
		return s.sendStatus(id, err2Failure(rerr))
	}
	return s.sendData(id, data[:n])
}

func (s *Server) handleWrite(ctx context.Context, id uint32, buf *buffer) error {
	req, err := decodeWriteRequest(buf)
	if err != nil {
		return err
	}
	stream, err := s.handles.RequireFileStream(req.Handle)
	if err != nil {
		return s.sendStatus(id, err)
	}
	_, werr := stream.WriteAt(req.Data, int64(req.Offset))
	return s.sendStatus(id, err2Failure(werr))
}

func (s *Server) handleStatPath(ctx context.Context, id uint32, buf *buffer, fn func(context.Context, string) (Attributes, error)) error {
	req, err := decodePathRequest(buf)
	if err != nil {
		return err
	}
	attrs, ferr := fn(ctx, req.Path)
	if ferr != nil {
		return s.sendStatus(id, ferr)
	}
	return s.sendAttrs(id, attrs)
}

func (s *Server) handleFstat(ctx context.Context, id uint32, buf *buffer) error {
	req, err := decodeHandleRequest(buf)
	if err != nil {
		return err
	}
	stream, err := s.handles.RequireFileStream(req.Handle)
	if err != nil {
		return s.sendStatus(id, err)
	}
	attrs, ferr := s.backend.Fstat(ctx, stream)
	if ferr != nil {
		return s.sendStatus(id, ferr)
	}
	return s.sendAttrs(id, attrs)
}

func (s *Server) handleSetstat(ctx context.Context, id uint32, buf *buffer) error {
	req, err := decodeSetstatRequest(buf)
	if err != nil {
		return err
	}
	return s.sendStatus(id, s.backend.Setstat(ctx, req.Path, req.Attrs))
}

func (s *Server) handleFsetstat(ctx context.Context, id uint32, buf *buffer) error {
	req, err := decodeFsetstatRequest(buf)
	if err != nil {
		return err
	}
	stream, err := s.handles.RequireFileStream(req.Handle)
	if err != nil {
		return s.sendStatus(id, err)
	}
	return s.sendStatus(id, s.backend.Fsetstat(ctx, stream, req.Attrs))
}

func (s *Server) handleOpendir(ctx context.Context, id uint32, buf *buffer) error {
	req, err := decodePathRequest(buf)
	if err != nil {
		return err
	}
	factory, ferr := s.backend.Opendir(ctx, req.Path)
	if ferr != nil {
		return s.sendStatus(id, ferr)
	}
	handle, herr := s.handles.AddDir(req.Path, factory)
	if herr != nil {
		return s.sendStatus(id, NewHandlerFailure(StatusFailure, herr))
	}
	return s.sendHandle(id, handle)
}

func (s *Server) handleReaddir(ctx context.Context, id uint32, buf *buffer) error {
	req, err := decodeHandleRequest(buf)
	if err != nil {
		return err
	}
	entries, rerr := s.handles.ReadDirPage(ctx, req.Handle, s.readDirPageSize)
	if rerr != nil {
		if rerr == io.EOF {
			return s.sendStatus(id, NewHandlerFailure(StatusEOF, nil))
		}
		return s.sendStatus(id, rerr)
	}
	return s.sendName(id, entries)
}

func (s *Server) handleRemove(ctx context.Context, id uint32, buf *buffer) error {
	req, err := decodePathRequest(buf)
	if err != nil {
		return err
	}
	return s.sendStatus(id, s.backend.Remove(ctx, req.Path))
}

func (s *Server) handleMkdir(ctx context.Context, id uint32, buf *buffer) error {
	req, err := decodeMkdirRequest(buf)
	if err != nil {
		return err
	}
	return s.sendStatus(id, s.backend.Mkdir(ctx, req.Path, req.Attrs))
}

func (s *Server) handleRmdir(ctx context.Context, id uint32, buf *buffer) error {
	req, err := decodePathRequest(buf)
	if err != nil {
		return err
	}
	return s.sendStatus(id, s.backend.Rmdir(ctx, req.Path))
}

func (s *Server) handleRealpath(ctx context.Context, id uint32, buf *buffer) error {
	req, err := decodePathRequest(buf)
	if err != nil {
		return err
	}
	path := req.Path
	if path == "" || path == "." {
		path = "/"
	}
	resolved, rerr := s.backend.Realpath(ctx, path)
	if rerr != nil {
		return s.sendStatus(id, rerr)
	}
	return s.sendName(id, []NameEntry{{Name: resolved, LongName: resolved}})
}

func (s *Server) handleRename(ctx context.Context, id uint32, buf *buffer) error {
	req, err := decodeRenameRequest(buf)
	if err != nil {
		return err
	}
	return s.sendStatus(id, s.backend.Rename(ctx, req.OldPath, req.NewPath))
}

func (s *Server) handleReadlink(ctx context.Context, id uint32, buf *buffer) error {
	req, err := decodePathRequest(buf)
	if err != nil {
		return err
	}
	target, rerr := s.backend.Readlink(ctx, req.Path)
	if rerr != nil {
		return s.sendStatus(id, rerr)
	}
	return s.sendName(id, []NameEntry{{Name: target, LongName: target}})
}

func (s *Server) handleSymlink(ctx context.Context, id uint32, buf *buffer) error {
	req, err := decodeSymlinkRequest(buf)
	if err != nil {
		return err
	}
	return s.sendStatus(id, s.backend.Symlink(ctx, req.LinkPath, req.TargetPath))
}

func (s *Server) handleExtended(ctx context.Context, id uint32, buf *buffer) error {
	req, err := decodeExtendedRequest(buf)
	if err != nil {
		return err
	}
	payload, rerr := s.backend.Extended(ctx, id, req.ExtensionName, req.Payload)
	if rerr != nil {
		return s.sendStatus(id, rerr)
	}
	if payload == nil {
		return s.sendStatus(id, nil)
	}
	return s.sendExtendedReply(id, payload)
}

// err2Failure wraps a plain (non-HandlerFailure) backend error in a
// StatusFailure HandlerFailure, so that even a plain io.EOF is answered as
// FAILURE. Because the result is a HandlerFailure, sendStatus does not log
// it as an unexpected failure.
func err2Failure(err error) error {
	if err == nil {
		return nil
	}
	if isHandlerFailure(err) {
		return err
	}
	return NewHandlerFailure(StatusFailure, err)
}
