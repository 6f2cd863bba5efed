package gosftp

import (
	"fmt"
	"strconv"
	"time"
)

// This file implements the message model from spec.md section 4.2: a
// tagged-union representation of every request and response variant, each
// knowing its own wire tag and how to encode/decode its body after the
// common (tag, request_id) header. Decoding is generic at the frame level
// (readFrame gives the tag and the raw body); a per-tag decoder then reads
// the variant-specific remainder.

// ExtensionPair is one (name, value) entry of an Extensions set exchanged
// during INIT/VERSION (spec.md section 3).
type ExtensionPair struct {
	Name string
	Data string
}

// Extensions is the vendor-extension mapping from spec.md section 3.
type Extensions map[string]string

func encodeExtensionPairs(buf *buffer, ext Extensions) {
	for name, data := range ext {
		buf.AppendString(name)
		buf.AppendString(data)
	}
}

// decodeExtensionPairs reads (name, value) string pairs until the buffer is
// exhausted, per spec.md section 4.5's INIT handling.
func decodeExtensionPairs(buf *buffer) (Extensions, error) {
	ext := Extensions{}
	for buf.remaining() > 0 {
		name, err := buf.ConsumeString()
		if err != nil {
			return nil, err
		}
		data, err := buf.ConsumeString()
		if err != nil {
			return nil, err
		}
		ext[name] = data
	}
	return ext, nil
}

// --- INIT / VERSION: the only two message types without a request_id ---

type initMessage struct {
	Version    uint32
	Extensions Extensions
}

func encodeInit(fw *frameWriter, version uint32, ext Extensions) error {
	buf := newMarshalBuffer(16)
	buf.AppendUint32(version)
	encodeExtensionPairs(buf, ext)
	return fw.flush(fxpInit, buf.Bytes())
}

func decodeInitBody(buf *buffer) (*initMessage, error) {
	version, err := buf.ConsumeUint32()
	if err != nil {
		return nil, err
	}
	ext, err := decodeExtensionPairs(buf)
	if err != nil {
		return nil, err
	}
	return &initMessage{Version: version, Extensions: ext}, nil
}

func encodeVersion(fw *frameWriter, version uint32, ext Extensions) error {
	buf := newMarshalBuffer(16)
	buf.AppendUint32(version)
	encodeExtensionPairs(buf, ext)
	return fw.flush(fxpVersion, buf.Bytes())
}

func decodeVersionBody(buf *buffer) (*initMessage, error) {
	return decodeInitBody(buf)
}

// --- requests: client -> server ---

type openRequest struct {
	Path   string
	PFlags uint32
	Attrs  Attributes
}

func (r *openRequest) encodeBody(buf *buffer) {
	buf.AppendString(r.Path)
	buf.AppendUint32(r.PFlags)
	r.Attrs.encode(buf)
}

func decodeOpenRequest(buf *buffer) (*openRequest, error) {
	path, err := buf.ConsumeString()
	if err != nil {
		return nil, err
	}
	flags, err := buf.ConsumeUint32()
	if err != nil {
		return nil, err
	}
	attrs, err := decodeAttributes(buf)
	if err != nil {
		return nil, err
	}
	return &openRequest{Path: path, PFlags: flags, Attrs: *attrs}, nil
}

type closeRequest struct{ Handle string }

func (r *closeRequest) encodeBody(buf *buffer) { buf.AppendString(r.Handle) }

func decodeCloseRequest(buf *buffer) (*closeRequest, error) {
	h, err := buf.ConsumeString()
	if err != nil {
		return nil, err
	}
	return &closeRequest{Handle: h}, nil
}

type readRequest struct {
	Handle string
	Offset uint64
	Len    uint32
}

func (r *readRequest) encodeBody(buf *buffer) {
	buf.AppendString(r.Handle)
	buf.AppendUint64(r.Offset)
	buf.AppendUint32(r.Len)
}

func decodeReadRequest(buf *buffer) (*readRequest, error) {
	h, err := buf.ConsumeString()
	if err != nil {
		return nil, err
	}
	off, err := buf.ConsumeUint64()
	if err != nil {
		return nil, err
	}
	length, err := buf.ConsumeUint32()
	if err != nil {
		return nil, err
	}
	return &readRequest{Handle: h, Offset: off, Len: length}, nil
}

type writeRequest struct {
	Handle string
	Offset uint64
	Data   []byte
}

func (r *writeRequest) encodeBody(buf *buffer) {
	buf.AppendString(r.Handle)
	buf.AppendUint64(r.Offset)
	buf.AppendBytes(r.Data)
}

func decodeWriteRequest(buf *buffer) (*writeRequest, error) {
	h, err := buf.ConsumeString()
	if err != nil {
		return nil, err
	}
	off, err := buf.ConsumeUint64()
	if err != nil {
		return nil, err
	}
	data, err := buf.ConsumeBytes()
	if err != nil {
		return nil, err
	}
	// Copy: data aliases the frame's payload slice, which the caller may
	// reuse once the handler returns.
	cp := make([]byte, len(data))
	copy(cp, data)
	return &writeRequest{Handle: h, Offset: off, Data: cp}, nil
}

type pathRequest struct{ Path string }

func (r *pathRequest) encodeBody(buf *buffer) { buf.AppendString(r.Path) }

func decodePathRequest(buf *buffer) (*pathRequest, error) {
	p, err := buf.ConsumeString()
	if err != nil {
		return nil, err
	}
	return &pathRequest{Path: p}, nil
}

type handleRequest struct{ Handle string }

func (r *handleRequest) encodeBody(buf *buffer) { buf.AppendString(r.Handle) }

func decodeHandleRequest(buf *buffer) (*handleRequest, error) {
	h, err := buf.ConsumeString()
	if err != nil {
		return nil, err
	}
	return &handleRequest{Handle: h}, nil
}

type setstatRequest struct {
	Path  string
	Attrs Attributes
}

func (r *setstatRequest) encodeBody(buf *buffer) {
	buf.AppendString(r.Path)
	r.Attrs.encode(buf)
}

func decodeSetstatRequest(buf *buffer) (*setstatRequest, error) {
	path, err := buf.ConsumeString()
	if err != nil {
		return nil, err
	}
	attrs, err := decodeAttributes(buf)
	if err != nil {
		return nil, err
	}
	return &setstatRequest{Path: path, Attrs: *attrs}, nil
}

type fsetstatRequest struct {
	Handle string
	Attrs  Attributes
}

func (r *fsetstatRequest) encodeBody(buf *buffer) {
	buf.AppendString(r.Handle)
	r.Attrs.encode(buf)
}

func decodeFsetstatRequest(buf *buffer) (*fsetstatRequest, error) {
	h, err := buf.ConsumeString()
	if err != nil {
		return nil, err
	}
	attrs, err := decodeAttributes(buf)
	if err != nil {
		return nil, err
	}
	return &fsetstatRequest{Handle: h, Attrs: *attrs}, nil
}

type mkdirRequest struct {
	Path  string
	Attrs Attributes
}

func (r *mkdirRequest) encodeBody(buf *buffer) {
	buf.AppendString(r.Path)
	r.Attrs.encode(buf)
}

func decodeMkdirRequest(buf *buffer) (*mkdirRequest, error) {
	path, err := buf.ConsumeString()
	if err != nil {
		return nil, err
	}
	attrs, err := decodeAttributes(buf)
	if err != nil {
		return nil, err
	}
	return &mkdirRequest{Path: path, Attrs: *attrs}, nil
}

type renameRequest struct {
	OldPath string
	NewPath string
}

func (r *renameRequest) encodeBody(buf *buffer) {
	buf.AppendString(r.OldPath)
	buf.AppendString(r.NewPath)
}

func decodeRenameRequest(buf *buffer) (*renameRequest, error) {
	o, err := buf.ConsumeString()
	if err != nil {
		return nil, err
	}
	n, err := buf.ConsumeString()
	if err != nil {
		return nil, err
	}
	return &renameRequest{OldPath: o, NewPath: n}, nil
}

// symlinkRequest models LinkPath/TargetPath in application terms. The wire
// order is intentionally reversed from the draft text to match widely
// deployed clients (spec.md section 4.5 / section 9): the server reads
// TargetPath first, then LinkPath.
type symlinkRequest struct {
	LinkPath   string
	TargetPath string
}

func (r *symlinkRequest) encodeBody(buf *buffer) {
	buf.AppendString(r.TargetPath)
	buf.AppendString(r.LinkPath)
}

func decodeSymlinkRequest(buf *buffer) (*symlinkRequest, error) {
	target, err := buf.ConsumeString()
	if err != nil {
		return nil, err
	}
	link, err := buf.ConsumeString()
	if err != nil {
		return nil, err
	}
	return &symlinkRequest{LinkPath: link, TargetPath: target}, nil
}

// extendedRequest carries a vendor extension's name plus its uninterpreted
// remaining payload (spec.md section 4.4's `extended` backend method).
type extendedRequest struct {
	ExtensionName string
	Payload       []byte
}

func (r *extendedRequest) encodeBody(buf *buffer) {
	buf.AppendString(r.ExtensionName)
	buf.data = append(buf.data, r.Payload...)
}

func decodeExtendedRequest(buf *buffer) (*extendedRequest, error) {
	name, err := buf.ConsumeString()
	if err != nil {
		return nil, err
	}
	rest := buf.data[buf.off:]
	cp := make([]byte, len(rest))
	copy(cp, rest)
	return &extendedRequest{ExtensionName: name, Payload: cp}, nil
}

// --- responses: server -> client ---

type statusResponse struct {
	Code    StatusCode
	Message string
	Lang    string
}

func encodeStatusResponse(fw *frameWriter, id uint32, protocolVersion uint32, code StatusCode, message, lang string) error {
	buf := newMarshalBuffer(32)
	buf.AppendUint32(id)
	buf.AppendUint32(uint32(code))
	if protocolVersion >= 3 {
		if message == "" {
			message = code.String()
		}
		buf.AppendString(message)
		buf.AppendString(lang)
	}
	return fw.flush(fxpStatus, buf.Bytes())
}

func decodeStatusResponse(buf *buffer) (*statusResponse, error) {
	code, err := buf.ConsumeUint32()
	if err != nil {
		return nil, err
	}
	sr := &statusResponse{Code: StatusCode(code)}
	if buf.remaining() > 0 {
		msg, err := buf.ConsumeString()
		if err != nil {
			return nil, err
		}
		sr.Message = msg
	}
	if buf.remaining() > 0 {
		lang, err := buf.ConsumeString()
		if err != nil {
			return nil, err
		}
		sr.Lang = lang
	}
	return sr, nil
}

type handleResponse struct{ Handle string }

func encodeHandleResponse(fw *frameWriter, id uint32, handle string) error {
	buf := newMarshalBuffer(32)
	buf.AppendUint32(id)
	buf.AppendString(handle)
	return fw.flush(fxpHandle, buf.Bytes())
}

func decodeHandleResponse(buf *buffer) (*handleResponse, error) {
	h, err := buf.ConsumeString()
	if err != nil {
		return nil, err
	}
	return &handleResponse{Handle: h}, nil
}

type dataResponse struct{ Data []byte }

func encodeDataResponse(fw *frameWriter, id uint32, data []byte) error {
	buf := newMarshalBuffer(16 + len(data))
	buf.AppendUint32(id)
	buf.AppendBytes(data)
	return fw.flush(fxpData, buf.Bytes())
}

func decodeDataResponse(buf *buffer) (*dataResponse, error) {
	d, err := buf.ConsumeBytes()
	if err != nil {
		return nil, err
	}
	cp := make([]byte, len(d))
	copy(cp, d)
	return &dataResponse{Data: cp}, nil
}

type nameResponse struct{ Entries []NameEntry }

func encodeNameResponse(fw *frameWriter, id uint32, entries []NameEntry) error {
	buf := newMarshalBuffer(64)
	buf.AppendUint32(id)
	buf.AppendUint32(uint32(len(entries)))
	for i := range entries {
		entries[i].encode(buf)
	}
	return fw.flush(fxpName, buf.Bytes())
}

func decodeNameResponse(buf *buffer) (*nameResponse, error) {
	count, err := buf.ConsumeUint32()
	if err != nil {
		return nil, err
	}
	entries := make([]NameEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		e, err := decodeNameEntry(buf)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return &nameResponse{Entries: entries}, nil
}

type attrsResponse struct{ Attrs Attributes }

func encodeAttrsResponse(fw *frameWriter, id uint32, attrs Attributes) error {
	buf := newMarshalBuffer(32)
	buf.AppendUint32(id)
	attrs.encode(buf)
	return fw.flush(fxpAttrs, buf.Bytes())
}

func decodeAttrsResponse(buf *buffer) (*attrsResponse, error) {
	attrs, err := decodeAttributes(buf)
	if err != nil {
		return nil, err
	}
	return &attrsResponse{Attrs: *attrs}, nil
}

// FormatLongName renders the human-readable "ls -l" line used in a NAME
// record, per the format given in spec.md section 6. Unknown fields (link
// count has no wire representation) render as "?".
func FormatLongName(name string, attrs Attributes) string {
	perms := "?---------"
	if attrs.Permissions != nil {
		perms = attrs.Permissions.String()
	}

	user, group := "?", "?"
	if attrs.UID != nil {
		user = strconv.FormatUint(uint64(*attrs.UID), 10)
	}
	if attrs.GID != nil {
		group = strconv.FormatUint(uint64(*attrs.GID), 10)
	}

	size := "?"
	if attrs.Size != nil {
		size = strconv.FormatUint(*attrs.Size, 10)
	}

	when := "??? ?? ??:??"
	if attrs.MTime != nil {
		when = time.Unix(int64(*attrs.MTime), 0).UTC().Format("Jan _2 15:04")
	}

	return fmt.Sprintf("%s %3s %-8s %-8s %8s %s %s", perms, "?", user, group, size, when, name)
}
