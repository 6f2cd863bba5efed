package gosftp

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// fxpType is the SSH_FXP_* message tag that occupies the first payload byte
// of every frame (spec.md section 6).
type fxpType uint8

const (
	fxpInit          fxpType = 1
	fxpVersion       fxpType = 2
	fxpOpen          fxpType = 3
	fxpClose         fxpType = 4
	fxpRead          fxpType = 5
	fxpWrite         fxpType = 6
	fxpLstat         fxpType = 7
	fxpFstat         fxpType = 8
	fxpSetstat       fxpType = 9
	fxpFsetstat      fxpType = 10
	fxpOpendir       fxpType = 11
	fxpReaddir       fxpType = 12
	fxpRemove        fxpType = 13
	fxpMkdir         fxpType = 14
	fxpRmdir         fxpType = 15
	fxpRealpath      fxpType = 16
	fxpStat          fxpType = 17
	fxpRename        fxpType = 18
	fxpReadlink      fxpType = 19
	fxpSymlink       fxpType = 20
	fxpStatus        fxpType = 101
	fxpHandle        fxpType = 102
	fxpData          fxpType = 103
	fxpName          fxpType = 104
	fxpAttrs         fxpType = 105
	fxpExtended      fxpType = 200
	fxpExtendedReply fxpType = 201
)

func (t fxpType) String() string {
	switch t {
	case fxpInit:
		return "SSH_FXP_INIT"
	case fxpVersion:
		return "SSH_FXP_VERSION"
	case fxpOpen:
		return "SSH_FXP_OPEN"
	case fxpClose:
		return "SSH_FXP_CLOSE"
	case fxpRead:
		return "SSH_FXP_READ"
	case fxpWrite:
		return "SSH_FXP_WRITE"
	case fxpLstat:
		return "SSH_FXP_LSTAT"
	case fxpFstat:
		return "SSH_FXP_FSTAT"
	case fxpSetstat:
		return "SSH_FXP_SETSTAT"
	case fxpFsetstat:
		return "SSH_FXP_FSETSTAT"
	case fxpOpendir:
		return "SSH_FXP_OPENDIR"
	case fxpReaddir:
		return "SSH_FXP_READDIR"
	case fxpRemove:
		return "SSH_FXP_REMOVE"
	case fxpMkdir:
		return "SSH_FXP_MKDIR"
	case fxpRmdir:
		return "SSH_FXP_RMDIR"
	case fxpRealpath:
		return "SSH_FXP_REALPATH"
	case fxpStat:
		return "SSH_FXP_STAT"
	case fxpRename:
		return "SSH_FXP_RENAME"
	case fxpReadlink:
		return "SSH_FXP_READLINK"
	case fxpSymlink:
		return "SSH_FXP_SYMLINK"
	case fxpStatus:
		return "SSH_FXP_STATUS"
	case fxpHandle:
		return "SSH_FXP_HANDLE"
	case fxpData:
		return "SSH_FXP_DATA"
	case fxpName:
		return "SSH_FXP_NAME"
	case fxpAttrs:
		return "SSH_FXP_ATTRS"
	case fxpExtended:
		return "SSH_FXP_EXTENDED"
	case fxpExtendedReply:
		return "SSH_FXP_EXTENDED_REPLY"
	default:
		return "SSH_FXP_UNKNOWN"
	}
}

// Open pflags, spec.md section 6.
const (
	sshFxfRead  uint32 = 0x00000001
	sshFxfWrite uint32 = 0x00000002
	sshFxfAppend uint32 = 0x00000004
	sshFxfCreat uint32 = 0x00000008
	sshFxfTrunc uint32 = 0x00000010
	sshFxfExcl  uint32 = 0x00000020
)

// Attribute flag masks, spec.md section 3.
const (
	attrSize        uint32 = 0x00000001
	attrUIDGID      uint32 = 0x00000002
	attrPermissions uint32 = 0x00000004
	attrACModTime   uint32 = 0x00000008
	attrExtended    uint32 = 0x80000000
)

const (
	// DefaultMaxPacketLength bounds an incoming frame's declared length,
	// per draft-ietf-secsh-filexfer-02 section 3.
	DefaultMaxPacketLength uint32 = 34000

	// DefaultMaxDataLength bounds how much payload one READ/WRITE round
	// trip moves, independent of MaxPacketLength.
	DefaultMaxDataLength uint32 = 32768

	// DefaultMaxEncodedPayload is the writer's default maximum buffered
	// payload size (spec.md section 4.1).
	DefaultMaxEncodedPayload = 1 << 20
)

// buffer is the wire codec's primitive reader/writer. It is used both to
// build outgoing payloads (via the Append* methods) and to consume incoming
// ones (via the Consume* methods); the two roles never overlap on the same
// value. Modeled on the split reader/writer Buffer abstraction used by
// pkg/sftp's internal wire-encoding package.
type buffer struct {
	data []byte
	off  int
}

func newBuffer(data []byte) *buffer {
	return &buffer{data: data}
}

func newMarshalBuffer(sizeHint int) *buffer {
	return &buffer{data: make([]byte, 0, sizeHint)}
}

func (b *buffer) Bytes() []byte { return b.data }

func (b *buffer) remaining() int { return len(b.data) - b.off }

// --- consuming (decode) side ---

func (b *buffer) ConsumeUint8() (uint8, error) {
	if b.remaining() < 1 {
		return 0, ErrShortPacket
	}
	v := b.data[b.off]
	b.off++
	return v, nil
}

func (b *buffer) ConsumeUint32() (uint32, error) {
	if b.remaining() < 4 {
		return 0, ErrShortPacket
	}
	v := binary.BigEndian.Uint32(b.data[b.off:])
	b.off += 4
	return v, nil
}

func (b *buffer) ConsumeUint64() (uint64, error) {
	if b.remaining() < 8 {
		return 0, ErrShortPacket
	}
	v := binary.BigEndian.Uint64(b.data[b.off:])
	b.off += 8
	return v, nil
}

// ConsumeBytes consumes and returns a length-prefixed binary blob. The
// returned slice aliases the underlying buffer; callers that retain it past
// the lifetime of the frame must copy it.
func (b *buffer) ConsumeBytes() ([]byte, error) {
	n, err := b.ConsumeUint32()
	if err != nil {
		return nil, err
	}
	if b.remaining() < int(n) {
		return nil, ErrShortPacket
	}
	v := b.data[b.off : b.off+int(n)]
	b.off += int(n)
	return v, nil
}

// ConsumeString consumes a length-prefixed UTF-8 string. Embedded zero
// bytes are not treated as terminators (spec.md section 4.1).
func (b *buffer) ConsumeString() (string, error) {
	v, err := b.ConsumeBytes()
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// --- appending (encode) side ---

func (b *buffer) AppendUint8(v uint8) {
	b.data = append(b.data, v)
}

func (b *buffer) AppendUint32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.data = append(b.data, tmp[:]...)
}

func (b *buffer) AppendUint64(v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	b.data = append(b.data, tmp[:]...)
}

func (b *buffer) AppendBytes(v []byte) {
	b.AppendUint32(uint32(len(v)))
	b.data = append(b.data, v...)
}

func (b *buffer) AppendString(v string) {
	b.AppendBytes([]byte(v))
}

// readFrame reads one length-prefixed message from r. It returns io.EOF
// unmodified when the stream ends cleanly before any byte of a new frame's
// length prefix is read (the "graceful termination" case in spec.md section
// 4.5); any other short read is reported as a wrapped io.ErrUnexpectedEOF,
// per the exact-read requirement in spec.md section 4.1.
func readFrame(r io.Reader, maxLen uint32) (fxpType, []byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return 0, nil, io.EOF
		}
		return 0, nil, errors.Wrap(err, "gosftp: reading frame length")
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length < 1 {
		return 0, nil, ErrShortPacket
	}
	if length > maxLen {
		return 0, nil, ErrLongPacket
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return 0, nil, errors.Wrap(err, "gosftp: reading frame payload")
	}
	return fxpType(payload[0]), payload[1:], nil
}

// frameWriter buffers one message's payload and flushes it as a single
// length-prefixed frame. It performs no locking itself; callers serialize
// concurrent flushes externally (spec.md section 5).
type frameWriter struct {
	w          io.Writer
	maxPayload int
}

func newFrameWriter(w io.Writer, maxPayload int) *frameWriter {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxEncodedPayload
	}
	return &frameWriter{w: w, maxPayload: maxPayload}
}

// flush writes length || tag || body as one frame. The length field covers
// tag+body, matching the "byte[length-1] data payload" framing in spec.md
// section 6. The whole frame is built in one contiguous slice and written
// with a single Write call so the frame is never observably split, as
// spec.md section 4.1 requires.
func (fw *frameWriter) flush(tag fxpType, body []byte) error {
	if len(body)+1 > fw.maxPayload {
		return errors.Errorf("gosftp: encoded payload of %d bytes exceeds maximum of %d", len(body)+1, fw.maxPayload)
	}
	frame := make([]byte, 4+1+len(body))
	binary.BigEndian.PutUint32(frame[0:4], uint32(1+len(body)))
	frame[4] = byte(tag)
	copy(frame[5:], body)
	_, err := fw.w.Write(frame)
	return errors.Wrap(err, "gosftp: writing frame")
}
