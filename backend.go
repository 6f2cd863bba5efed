package gosftp

import "context"

// Backend is the pluggable capability set the server engine invokes to
// fulfill each request (spec.md section 4.4). Every method accepts a
// context for cancellation. A Backend signals a specific protocol outcome
// by returning a *HandlerFailure; any other error is treated by the server
// as unexpected and becomes StatusFailure.
type Backend interface {
	// Init is called once, after version negotiation, with the client's
	// requested extensions; it returns the extensions the server will
	// advertise back in the VERSION response.
	Init(ctx context.Context, clientVersion uint32, clientExtensions Extensions) (Extensions, error)

	Open(ctx context.Context, path string, flags uint32, attrs Attributes) (FileStream, error)
	Lstat(ctx context.Context, path string) (Attributes, error)
	Fstat(ctx context.Context, stream FileStream) (Attributes, error)
	Setstat(ctx context.Context, path string, attrs Attributes) error
	Fsetstat(ctx context.Context, stream FileStream, attrs Attributes) error

	Opendir(ctx context.Context, path string) (DirIteratorFactory, error)

	Remove(ctx context.Context, path string) error
	Mkdir(ctx context.Context, path string, attrs Attributes) error
	Rmdir(ctx context.Context, path string) error
	Realpath(ctx context.Context, path string) (string, error)
	Stat(ctx context.Context, path string) (Attributes, error)
	Rename(ctx context.Context, oldPath, newPath string) error
	Readlink(ctx context.Context, path string) (string, error)
	Symlink(ctx context.Context, linkPath, targetPath string) error

	// Extended services a vendor extension request. A nil payload return
	// with a nil error means "respond with STATUS OK"; a non-nil payload
	// means "respond with an EXTENDED_REPLY carrying this payload verbatim".
	Extended(ctx context.Context, requestID uint32, requestName string, payload []byte) ([]byte, error)
}

// Finalizer is optionally implemented by a Backend that owns a resource
// (a database handle, a connection pool) which must be released when the
// server engine tears down (spec.md section 5, "Shared-resource policy").
type Finalizer interface {
	Close() error
}

// UnsupportedExtensions is embedded by Backend implementations that do not
// implement any vendor extension; its Extended method always reports
// StatusOpUnsupported, matching the default behavior spec.md section 4.4
// mandates.
type UnsupportedExtensions struct{}

func (UnsupportedExtensions) Extended(ctx context.Context, requestID uint32, requestName string, payload []byte) ([]byte, error) {
	return nil, NewHandlerFailure(StatusOpUnsupported, nil)
}
