package cmdserver

import (
	"bytes"
	"errors"
	"fmt"
)

var (
	// ErrHgNotFound is returned when no hg executable can be located.
	ErrHgNotFound = errors.New("cmdserver: hg executable not found")

	// ErrNotRepository is returned when the configured path does not
	// contain a Mercurial repository.
	ErrNotRepository = errors.New("cmdserver: not a Mercurial repository")

	// ErrAlreadyConnected is returned by Connect when the server is
	// already running.
	ErrAlreadyConnected = errors.New("cmdserver: already connected")

	// ErrClosed is returned when the client is used after Close.
	ErrClosed = errors.New("cmdserver: client is closed")
)

// ProtocolError reports a violation of the command server protocol.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "cmdserver: protocol error: " + e.Reason
}

// CapabilityError reports a server that lacks a required capability.
type CapabilityError struct {
	Capability string
}

func (e *CapabilityError) Error() string {
	return "cmdserver: server does not support " + e.Capability
}

// ChannelError reports unexpected data on a required channel.
type ChannelError struct {
	Channel byte
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("cmdserver: unexpected data on required channel %q", e.Channel)
}

// CommandError is returned when a command finishes with a non-zero
// status. Stdout and Stderr hold whatever the command produced.
type CommandError struct {
	Args   []string
	Code   int
	Stdout []byte
	Stderr []byte
}

func (e *CommandError) Error() string {
	verb := ""
	if len(e.Args) > 0 {
		verb = " " + e.Args[0]
	}
	msg := string(bytes.TrimSpace(e.Stderr))
	if msg == "" {
		msg = fmt.Sprintf("exit status %d", e.Code)
	}
	return fmt.Sprintf("cmdserver: hg%s: %s", verb, msg)
}

// PipeError is returned when a directly spawned hg process fails.
type PipeError struct {
	Code   int
	Stderr []byte
}

func (e *PipeError) Error() string {
	msg := string(bytes.TrimSpace(e.Stderr))
	if msg == "" {
		msg = fmt.Sprintf("hg exited with status %d", e.Code)
	}
	return "cmdserver: " + msg
}
