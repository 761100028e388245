// Package cmdserver implements a client for the Mercurial command
// server protocol (hg serve --cmdserver pipe).
package cmdserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-hg/hg/internal"
)

type Options struct {
	// Path is the repository root, the directory that contains ".hg".
	// Default is the current working directory.
	Path string

	// HgPath is the hg executable to run.
	// Default is to search PATH.
	HgPath string

	// Encoding is the character encoding the server is asked to use,
	// passed via HGENCODING.
	// Default is utf-8.
	Encoding string

	// Configs holds extra key=value configuration pairs passed to the
	// server as --config flags.
	Configs []string

	inited bool
}

func (opt *Options) Init() {
	if opt.inited {
		return
	}
	opt.inited = true

	if opt.Path == "" {
		opt.Path, _ = os.Getwd()
	}
	if opt.Encoding == "" {
		opt.Encoding = "utf-8"
	}
}

func (opt *Options) env() []string {
	return append(os.Environ(), "HGPLAIN=1", "HGENCODING="+opt.Encoding)
}

// Command describes one command server invocation. Prompt, when set,
// answers line input requests with the requested maximum size and the
// output produced so far. Input, when set, answers bulk data requests.
// An absent callback answers with an empty block, which the server
// treats as end of input.
type Command struct {
	Args   []string
	Prompt func(size int, out []byte) string
	Input  func(size int) []byte
}

// Client talks to a Mercurial command server over pipes. The zero
// value is not usable; construct with New. A Client is safe for
// concurrent use; commands are serialized over the single server
// connection.
type Client struct {
	opt *Options

	mu       sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stdout   *bufio.Reader
	stderr   *stderrSink
	caps     []string
	encoding string
	closed   bool
}

// New creates a Client for the repository described by opt. The
// server process is not started until the first command.
func New(opt *Options) (*Client, error) {
	if opt == nil {
		opt = &Options{}
	}
	opt.Init()

	if opt.HgPath == "" {
		hgPath, err := exec.LookPath("hg")
		if err != nil {
			return nil, ErrHgNotFound
		}
		opt.HgPath = hgPath
	}
	if _, err := os.Stat(filepath.Join(opt.Path, ".hg")); err != nil {
		return nil, ErrNotRepository
	}

	return &Client{opt: opt}, nil
}

// Connect starts the server process eagerly. Commands connect on
// demand, so calling Connect is optional.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.cmd != nil {
		return ErrAlreadyConnected
	}
	return c.connect(ctx)
}

func (c *Client) connect(ctx context.Context) error {
	args := []string{
		"serve", "--cmdserver", "pipe",
		"--config", "ui.interactive=True",
		"-R", c.opt.Path,
	}
	for _, cfg := range c.opt.Configs {
		args = append(args, "--config", cfg)
	}

	cmd := exec.Command(c.opt.HgPath, args...)
	cmd.Dir = c.opt.Path
	cmd.Env = c.opt.env()
	sink := &stderrSink{}
	cmd.Stderr = sink

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	c.cmd = cmd
	c.stdin = stdin
	c.stdout = bufio.NewReader(stdout)
	c.stderr = sink

	done := make(chan struct{})
	proc := cmd.Process
	go func() {
		select {
		case <-done:
		case <-ctx.Done():
			_ = proc.Kill()
		}
	}()
	err = c.readHello()
	close(done)

	if ctx.Err() != nil {
		_ = c.teardownLocked()
		return ctx.Err()
	}
	if err != nil {
		if werr := c.teardownLocked(); werr != nil {
			var exitErr *exec.ExitError
			if errors.As(werr, &exitErr) {
				return &PipeError{Code: exitErr.ExitCode(), Stderr: sink.bytes()}
			}
		}
		return err
	}
	return nil
}

func (c *Client) readHello() error {
	f, err := readFrame(c.stdout)
	if err != nil {
		return err
	}
	if f.ch != 'o' {
		return &ProtocolError{Reason: "expected a hello message"}
	}
	caps, encoding, err := parseHello(f.data)
	if err != nil {
		return err
	}
	c.caps = caps
	c.encoding = encoding
	return nil
}

// RunCommand executes one hg command over the server and returns its
// stdout. A non-zero exit status is reported as *CommandError.
func (c *Client) RunCommand(ctx context.Context, args ...string) ([]byte, error) {
	return c.Run(ctx, &Command{Args: args})
}

// Run executes cmd over the server. On cancellation the server is
// killed to unblock the pipe and the client reconnects on the next
// command.
func (c *Client) Run(ctx context.Context, cmd *Command) ([]byte, error) {
	if len(cmd.Args) == 0 {
		return nil, errors.New("cmdserver: empty command")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.cmd == nil {
		if err := c.connect(ctx); err != nil {
			return nil, err
		}
	}

	done := make(chan struct{})
	proc := c.cmd.Process
	go func() {
		select {
		case <-done:
		case <-ctx.Done():
			_ = proc.Kill()
		}
	}()
	out, err := c.run(cmd)
	close(done)

	if ctx.Err() != nil {
		_ = c.teardownLocked()
		return nil, ctx.Err()
	}
	if err != nil {
		var cmdErr *CommandError
		if !errors.As(err, &cmdErr) {
			_ = c.teardownLocked()
		}
		return nil, err
	}
	return out, nil
}

func (c *Client) run(cmd *Command) ([]byte, error) {
	if _, err := c.stdin.Write([]byte("runcommand\n")); err != nil {
		return nil, err
	}
	if err := c.writeBlock([]byte(strings.Join(cmd.Args, "\x00"))); err != nil {
		return nil, err
	}

	var out, errOut bytes.Buffer
	for {
		f, err := readFrame(c.stdout)
		if err != nil {
			return nil, err
		}
		switch f.ch {
		case 'o':
			out.Write(f.data)
		case 'e':
			errOut.Write(f.data)
		case 'd':
			internal.Logger.Printf("%s", bytes.TrimRight(f.data, "\n"))
		case 'r':
			if len(f.data) != 4 {
				return nil, &ProtocolError{Reason: "bad result frame"}
			}
			code := int(int32(binary.BigEndian.Uint32(f.data)))
			if code != 0 {
				return nil, &CommandError{
					Args:   cmd.Args,
					Code:   code,
					Stdout: out.Bytes(),
					Stderr: errOut.Bytes(),
				}
			}
			return out.Bytes(), nil
		case 'L':
			var line string
			if cmd.Prompt != nil {
				line = cmd.Prompt(f.size, out.Bytes())
			}
			if err := c.writeBlock([]byte(line)); err != nil {
				return nil, err
			}
		case 'I':
			var data []byte
			if cmd.Input != nil {
				data = cmd.Input(f.size)
			}
			if err := c.writeBlock(data); err != nil {
				return nil, err
			}
		default:
			if f.ch >= 'A' && f.ch <= 'Z' {
				return nil, &ChannelError{Channel: f.ch}
			}
		}
	}
}

// Close shuts the server down and reaps the process. The client
// cannot be used afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.teardownLocked()
}

func (c *Client) teardownLocked() error {
	if c.cmd == nil {
		return nil
	}
	if c.stdin != nil {
		_ = c.stdin.Close()
	}
	err := c.cmd.Wait()
	c.cmd = nil
	c.stdin = nil
	c.stdout = nil
	c.stderr = nil
	return err
}

// Encoding returns the encoding announced by the server, or the
// configured one before the first connection.
func (c *Client) Encoding() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.encoding != "" {
		return c.encoding
	}
	return c.opt.Encoding
}

// Capabilities returns the capability list from the server hello. It
// is empty before the first connection.
func (c *Client) Capabilities() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	caps := make([]string, len(c.caps))
	copy(caps, c.caps)
	return caps
}

// RunOneShot runs a single hg command directly, without a command
// server. It serves commands that must run outside a repository,
// such as init and clone. A non-zero exit status is reported as
// *CommandError.
func RunOneShot(ctx context.Context, opt *Options, args ...string) ([]byte, error) {
	if opt == nil {
		opt = &Options{}
	}
	opt.Init()

	hgPath := opt.HgPath
	if hgPath == "" {
		path, err := exec.LookPath("hg")
		if err != nil {
			return nil, ErrHgNotFound
		}
		hgPath = path
	}

	cmd := exec.CommandContext(ctx, hgPath, args...)
	cmd.Env = opt.env()
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &CommandError{
				Args:   args,
				Code:   exitErr.ExitCode(),
				Stdout: out.Bytes(),
				Stderr: errOut.Bytes(),
			}
		}
		return nil, err
	}
	return out.Bytes(), nil
}

// stderrSink keeps the tail of the server's own stderr, which only
// carries text when the process fails outside the protocol.
type stderrSink struct {
	mu   sync.Mutex
	tail []byte
}

func (s *stderrSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	s.tail = append(s.tail, p...)
	if len(s.tail) > 4096 {
		s.tail = s.tail[len(s.tail)-4096:]
	}
	s.mu.Unlock()
	return len(p), nil
}

func (s *stderrSink) bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.tail...)
}
