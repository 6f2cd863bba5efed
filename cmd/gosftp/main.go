// Command gosftp is a small CLI client over the gosftp client engine,
// grounded on the teacher's own key-file SSH auth (ssh.go): load a private
// key, dial, and drive the resulting session.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh"

	"github.com/richardjennings/gosftp"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	flagUser string
	flagHost string
	flagPort int
	flagKey  string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{Use: "gosftp"}
	root.PersistentFlags().StringVar(&flagUser, "user", "", "ssh user")
	root.PersistentFlags().StringVar(&flagHost, "host", "localhost", "ssh host")
	root.PersistentFlags().IntVar(&flagPort, "port", 22, "ssh port")
	root.PersistentFlags().StringVar(&flagKey, "identity", "", "path to a private key")
	root.AddCommand(newLsCmd(), newGetCmd(), newPutCmd())
	return root
}

// dial loads a private key and opens a client engine, generalizing the
// teacher's ssh.go Dial helper to build an *ssh.ClientConfig for
// gosftp.Dial instead of returning a bare *ssh.Client.
func dial(ctx context.Context) (*gosftp.Client, error) {
	b, err := os.ReadFile(flagKey)
	if err != nil {
		return nil, err
	}
	signer, err := ssh.ParsePrivateKey(b)
	if err != nil {
		return nil, err
	}
	config := &ssh.ClientConfig{
		User: flagUser,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeysCallback(func() ([]ssh.Signer, error) {
				return []ssh.Signer{signer}, nil
			}),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // TODO: accept a known_hosts path
	}
	addr := fmt.Sprintf("%s:%d", flagHost, flagPort)
	return gosftp.Dial(ctx, "tcp", addr, config)
}

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:  "ls <path>",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			entries, err := c.ReadDir(ctx, args[0])
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Println(e.LongName)
			}
			return nil
		},
	}
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:  "get <remote> <local>",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			remote, err := c.Open(ctx, args[0], 0x00000001 /* read */, gosftp.Attributes{})
			if err != nil {
				return err
			}
			defer remote.Close(ctx)

			local, err := os.Create(args[1])
			if err != nil {
				return err
			}
			defer local.Close()

			buf := make([]byte, 32*1024)
			for {
				n, err := remote.Read(ctx, buf)
				if n > 0 {
					if _, werr := local.Write(buf[:n]); werr != nil {
						return werr
					}
				}
				if err == io.EOF {
					return nil
				}
				if err != nil {
					return err
				}
			}
		},
	}
}

func newPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:  "put <local> <remote>",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			local, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer local.Close()

			const writeCreatTrunc = 0x00000002 | 0x00000008 | 0x00000010
			remote, err := c.Open(ctx, args[1], writeCreatTrunc, gosftp.Attributes{})
			if err != nil {
				return err
			}
			defer remote.Close(ctx)

			buf := make([]byte, 32*1024)
			for {
				n, rerr := local.Read(buf)
				if n > 0 {
					if _, werr := remote.Write(ctx, buf[:n]); werr != nil {
						return werr
					}
				}
				if rerr == io.EOF {
					return nil
				}
				if rerr != nil {
					return rerr
				}
			}
		},
	}
}
