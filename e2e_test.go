package gosftp

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newEnginePair turns two unidirectional net.Pipe connections into the (reader,
// writer) pair Server/Client expect, since a single net.Pipe() connection
// is itself full-duplex but this keeps the two ends trivially named.
func newEnginePair(t *testing.T, backend Backend) (*Client, *Server) {
	t.Helper()
	clientToServer, serverFromClient := net.Pipe()
	serverToClient, clientFromServer := net.Pipe()

	srv := NewServer(serverFromClient, serverToClient, backend)
	go func() {
		_ = srv.Serve(context.Background())
	}()

	cli, err := NewClientOnConn(context.Background(), clientFromServer, clientToServer)
	require.NoError(t, err)

	t.Cleanup(func() { _ = cli.Close() })
	return cli, srv
}

func TestE2EInitHandshake(t *testing.T) {
	cli, _ := newEnginePair(t, newMemBackend())
	require.EqualValues(t, ProtocolVersion, cli.ProtocolVersion())
}

func TestE2EReadAFile(t *testing.T) {
	backend := newMemBackend()
	backend.files["/greeting.txt"] = &memFile{data: []byte("hello, sftp")}
	cli, _ := newEnginePair(t, backend)

	ctx := context.Background()
	f, err := cli.Open(ctx, "/greeting.txt", sshFxfRead, Attributes{})
	require.NoError(t, err)
	defer f.Close(ctx)

	buf := make([]byte, 64)
	n, err := f.ReadAt(ctx, buf, 0)
	require.True(t, err == nil || err == io.EOF)
	require.Equal(t, "hello, sftp", string(buf[:n]))
}

func TestE2EListADirectory(t *testing.T) {
	backend := newMemBackend()
	backend.files["/dir/a.txt"] = &memFile{data: []byte("a")}
	backend.files["/dir/b.txt"] = &memFile{data: []byte("bb")}
	backend.dirs["/dir"] = true
	cli, _ := newEnginePair(t, backend)

	ctx := context.Background()
	entries, err := cli.ReadDir(ctx, "/dir")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = true
	}
	require.True(t, names["a.txt"])
	require.True(t, names["b.txt"])
}

func TestE2ESetAndReadBackTimes(t *testing.T) {
	backend := newMemBackend()
	backend.files["/stamped.txt"] = &memFile{data: []byte("x")}
	cli, _ := newEnginePair(t, backend)

	ctx := context.Background()
	atime, mtime := uint32(1_700_000_000), uint32(1_700_000_500)
	err := cli.SetStat(ctx, "/stamped.txt", Attributes{ATime: &atime, MTime: &mtime})
	require.NoError(t, err)

	attrs, err := cli.Stat(ctx, "/stamped.txt")
	require.NoError(t, err)
	require.EqualValues(t, atime, *attrs.ATime)
	require.EqualValues(t, mtime, *attrs.MTime)
}

func TestE2EUnsupportedExtension(t *testing.T) {
	cli, _ := newEnginePair(t, newMemBackend())

	ctx := context.Background()
	_, err := cli.Extended(ctx, "made-up-extension@example.com", nil)
	require.ErrorIs(t, err, ErrStatusOpUnsupported)
}

func TestE2ECancellation(t *testing.T) {
	cli, _ := newEnginePair(t, newMemBackend())

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	_, err := cli.Stat(ctx, "/anything")
	require.Error(t, err)
}

func TestE2EReadOnlyRejectsMutation(t *testing.T) {
	clientToServer, serverFromClient := net.Pipe()
	serverToClient, clientFromServer := net.Pipe()

	srv := NewServer(serverFromClient, serverToClient, newMemBackend(), ReadOnly())
	go func() { _ = srv.Serve(context.Background()) }()

	cli, err := NewClientOnConn(context.Background(), clientFromServer, clientToServer)
	require.NoError(t, err)
	defer cli.Close()

	ctx := context.Background()
	err = cli.Mkdir(ctx, "/newdir", Attributes{})
	require.Error(t, err)
}
