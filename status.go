package gosftp

// StatusCode is the SSH_FX_* status code carried by a STATUS response, per
// draft-ietf-secsh-filexfer-02 section 7.
type StatusCode uint32

const (
	StatusOK StatusCode = iota
	StatusEOF
	StatusNoSuchFile
	StatusPermissionDenied
	StatusFailure
	StatusBadMessage
	StatusNoConnection
	StatusConnectionLost
	StatusOpUnsupported
)

// String returns the canonical message for the default-messages table in
// section 6 of the spec. Servers use this when a handler failure carries no
// explicit message.
func (c StatusCode) String() string {
	switch c {
	case StatusOK:
		return "Success"
	case StatusEOF:
		return "End of file"
	case StatusNoSuchFile:
		return "No such file"
	case StatusPermissionDenied:
		return "Permission denied"
	case StatusFailure:
		return "Failure"
	case StatusBadMessage:
		return "Bad message"
	case StatusNoConnection:
		return "No connection"
	case StatusConnectionLost:
		return "Connection lost"
	case StatusOpUnsupported:
		return "Operation unsupported"
	default:
		return "Unknown error"
	}
}

// StatusError is the client-visible error produced from a non-OK STATUS
// response. It is comparable with errors.Is against the well-known sentinel
// errors below, mirroring how the long-lived pkg/sftp client surfaces
// per-code failures to callers.
type StatusError struct {
	Code StatusCode
	Msg  string
	Lang string
}

func (e *StatusError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return e.Code.String()
}

// Is allows errors.Is(err, gosftp.ErrStatusNoSuchFile) to match any StatusError
// carrying the corresponding code, without requiring callers to type-assert.
func (e *StatusError) Is(target error) bool {
	sentinel, ok := target.(*StatusError)
	if !ok {
		return false
	}
	return e.Code == sentinel.Code
}

// Well-known sentinels for errors.Is matching. Only Code is compared (see
// StatusError.Is), so the Msg/Lang fields here are never inspected.
var (
	ErrStatusEOF               = &StatusError{Code: StatusEOF}
	ErrStatusNoSuchFile        = &StatusError{Code: StatusNoSuchFile}
	ErrStatusPermissionDenied  = &StatusError{Code: StatusPermissionDenied}
	ErrStatusFailure           = &StatusError{Code: StatusFailure}
	ErrStatusBadMessage        = &StatusError{Code: StatusBadMessage}
	ErrStatusNoConnection      = &StatusError{Code: StatusNoConnection}
	ErrStatusConnectionLost    = &StatusError{Code: StatusConnectionLost}
	ErrStatusOpUnsupported     = &StatusError{Code: StatusOpUnsupported}
)
