// Package gosftp implements the SFTP version 3 wire protocol
// (draft-ietf-secsh-filexfer-02) as a pair of transport-agnostic engines: a
// Server that answers requests against a pluggable Backend, and a Client
// that issues them over any duplex byte stream. Neither engine owns a
// transport; callers wire either one onto an SSH subsystem channel, a
// net.Pipe in tests, or anything else that looks like io.Reader plus
// io.Writer.
package gosftp
