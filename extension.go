package gosftp

// This file implements the one extension the core ships a typed wrapper
// for: posix-rename@openssh.com (spec.md section 4.2). Every other vendor
// extension is opaque bytes handled entirely by Backend.Extended. This one
// gets a request type and payload encoder so Client.PosixRename does not
// hand-roll the wire format; the reply is a plain STATUS. The reference
// fsbackend decodes the payload with its own helper, since these types are
// unexported.

const extensionPosixRename = "posix-rename@openssh.com"

// posixRenameRequest is the body of an EXTENDED request named
// posix-rename@openssh.com: rename oldPath to newPath, overwriting newPath
// if it already exists (unlike plain RENAME, which OpenSSH's draft leaves
// unspecified on collision).
type posixRenameRequest struct {
	OldPath string
	NewPath string
}

// encodePosixRenamePayload builds the extension-specific payload that
// follows the extension name in an EXTENDED request (spec.md section 4.2).
func encodePosixRenamePayload(oldPath, newPath string) []byte {
	buf := newMarshalBuffer(8 + len(oldPath) + len(newPath))
	buf.AppendString(oldPath)
	buf.AppendString(newPath)
	return buf.Bytes()
}

func decodePosixRenameRequest(payload []byte) (*posixRenameRequest, error) {
	buf := newBuffer(payload)
	oldPath, err := buf.ConsumeString()
	if err != nil {
		return nil, err
	}
	newPath, err := buf.ConsumeString()
	if err != nil {
		return nil, err
	}
	return &posixRenameRequest{OldPath: oldPath, NewPath: newPath}, nil
}
