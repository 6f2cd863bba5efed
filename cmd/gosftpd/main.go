// Command gosftpd is an SSH subsystem host for the gosftp server engine. It
// is meant to be wired in as the "sftp" Subsystem in an sshd_config, the
// same role OpenSSH's internal sftp-server fills: on each invocation, stdin
// and stdout are already the channel's byte stream, and the process serves
// exactly one client for its lifetime (spec.md section 5's "one engine, one
// byte-stream pair" scope).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/richardjennings/gosftp"
	"github.com/richardjennings/gosftp/internal/fsbackend"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gosftpd",
		Short: "Serve one SFTP session over stdin/stdout",
		RunE:  run,
	}
	cmd.Flags().String("root", ".", "directory to serve")
	cmd.Flags().Int("handle-capacity", gosftp.DefaultHandleTableCapacity, "maximum concurrently open handles")
	cmd.Flags().Bool("read-only", false, "reject any request that would mutate the backend")
	cmd.Flags().String("log-level", "info", "debug, info, warn, or error")
	_ = viper.BindPFlags(cmd.Flags())
	viper.SetEnvPrefix("gosftpd")
	viper.AutomaticEnv()
	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(viper.GetString("log-level")),
	}))

	backend := fsbackend.New(viper.GetString("root"))

	opts := []gosftp.ServerOption{
		gosftp.WithLogger(logger),
		gosftp.WithHandleTableCapacity(viper.GetInt("handle-capacity")),
	}
	if viper.GetBool("read-only") {
		opts = append(opts, gosftp.ReadOnly())
	}

	srv := gosftp.NewServer(os.Stdin, os.Stdout, backend, opts...)

	logger.Info("gosftpd: session starting", "root", viper.GetString("root"))
	err := srv.Serve(context.Background())
	logger.Info("gosftpd: session ended", "error", err)
	return err
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
