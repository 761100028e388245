package cmdserver

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"log"
	"os"
	"strings"
	"testing"

	"github.com/go-hg/hg/internal"
)

func TestMain(m *testing.M) {
	internal.Logger = log.New(io.Discard, "", 0)
	os.Exit(m.Run())
}

func buildFrame(ch byte, payload []byte) []byte {
	b := make([]byte, 5+len(payload))
	b[0] = ch
	binary.BigEndian.PutUint32(b[1:5], uint32(len(payload)))
	copy(b[5:], payload)
	return b
}

func TestReadFrame(t *testing.T) {
	var in bytes.Buffer
	in.Write(buildFrame('o', []byte("hello")))
	in.Write([]byte{'I', 0, 0, 16, 0})
	r := bufio.NewReader(&in)

	f, err := readFrame(r)
	if err != nil {
		t.Fatalf("readFrame failed: %s", err)
	}
	if f.ch != 'o' || string(f.data) != "hello" {
		t.Errorf("frame = %q %q", f.ch, f.data)
	}

	f, err = readFrame(r)
	if err != nil {
		t.Fatalf("readFrame failed: %s", err)
	}
	if f.ch != 'I' || f.size != 4096 || f.data != nil {
		t.Errorf("frame = %q size=%d data=%v", f.ch, f.size, f.data)
	}

	_, err = readFrame(r)
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Errorf("err at EOF = %v, want ProtocolError", err)
	}
}

func TestReadFrameTruncated(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("o\x00\x00\x00\x10shor"))
	_, err := readFrame(r)
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Errorf("err = %v, want ProtocolError", err)
	}
}

func TestParseHello(t *testing.T) {
	caps, encoding, err := parseHello([]byte("capabilities: getencoding runcommand\nencoding: UTF-8\npid: 42"))
	if err != nil {
		t.Fatalf("parseHello failed: %s", err)
	}
	if len(caps) != 2 || caps[1] != "runcommand" {
		t.Errorf("caps = %v", caps)
	}
	if encoding != "UTF-8" {
		t.Errorf("encoding = %q", encoding)
	}
}

func TestParseHelloErrors(t *testing.T) {
	var capErr *CapabilityError
	_, _, err := parseHello([]byte("capabilities: getencoding\nencoding: UTF-8"))
	if !errors.As(err, &capErr) {
		t.Errorf("missing runcommand: err = %v, want CapabilityError", err)
	}

	var protoErr *ProtocolError
	for _, hello := range []string{
		"encoding: UTF-8",
		"capabilities: runcommand",
		"no colon here",
	} {
		if _, _, err := parseHello([]byte(hello)); !errors.As(err, &protoErr) {
			t.Errorf("%q: err = %v, want ProtocolError", hello, err)
		}
	}
}

// newFakeClient wires a Client to an in-process server script over
// pipes, standing in for a spawned hg process.
func newFakeClient(serve func(r *bufio.Reader, w io.Writer)) *Client {
	clientIn, serverOut := io.Pipe()
	serverIn, clientOut := io.Pipe()

	c := &Client{
		opt:      &Options{Encoding: "utf-8"},
		stdin:    clientOut,
		stdout:   bufio.NewReader(clientIn),
		encoding: "UTF-8",
	}

	go func() {
		defer serverOut.Close()
		serve(bufio.NewReader(serverIn), serverOut)
	}()
	return c
}

func readCommand(t *testing.T, r *bufio.Reader) []string {
	t.Helper()
	intro := make([]byte, len("runcommand\n"))
	if _, err := io.ReadFull(r, intro); err != nil {
		t.Errorf("reading command intro: %s", err)
		return nil
	}
	if string(intro) != "runcommand\n" {
		t.Errorf("command intro = %q", intro)
	}
	block := readBlock(t, r)
	if block == nil {
		return nil
	}
	return strings.Split(string(block), "\x00")
}

func readBlock(t *testing.T, r *bufio.Reader) []byte {
	t.Helper()
	var head [4]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		t.Errorf("reading block length: %s", err)
		return nil
	}
	block := make([]byte, binary.BigEndian.Uint32(head[:]))
	if _, err := io.ReadFull(r, block); err != nil {
		t.Errorf("reading block: %s", err)
		return nil
	}
	return block
}

func writeFrame(w io.Writer, ch byte, payload []byte) {
	_, _ = w.Write(buildFrame(ch, payload))
}

func writeInputRequest(w io.Writer, ch byte, size uint32) {
	var head [5]byte
	head[0] = ch
	binary.BigEndian.PutUint32(head[1:], size)
	_, _ = w.Write(head[:])
}

func writeResult(w io.Writer, code int32) {
	var data [4]byte
	binary.BigEndian.PutUint32(data[:], uint32(code))
	writeFrame(w, 'r', data[:])
}

func TestRunDispatch(t *testing.T) {
	c := newFakeClient(func(r *bufio.Reader, w io.Writer) {
		args := readCommand(t, r)
		if len(args) != 3 || args[0] != "log" || args[2] != "2" {
			t.Errorf("server got args %v", args)
		}
		writeFrame(w, 'o', []byte("line 1\n"))
		writeFrame(w, 'd', []byte("debug noise\n"))
		writeFrame(w, 'e', []byte("a warning\n"))
		writeFrame(w, 'o', []byte("line 2\n"))
		writeResult(w, 0)
	})

	out, err := c.run(&Command{Args: []string{"log", "-l", "2"}})
	if err != nil {
		t.Fatalf("run failed: %s", err)
	}
	if string(out) != "line 1\nline 2\n" {
		t.Errorf("out = %q", out)
	}
}

func TestRunCommandError(t *testing.T) {
	c := newFakeClient(func(r *bufio.Reader, w io.Writer) {
		readCommand(t, r)
		writeFrame(w, 'e', []byte("abort: unknown revision 'zzz'!\n"))
		writeResult(w, 255)
	})

	_, err := c.run(&Command{Args: []string{"log", "-r", "zzz"}})
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("err = %v, want CommandError", err)
	}
	if cmdErr.Code != 255 {
		t.Errorf("Code = %d, want 255", cmdErr.Code)
	}
	if !bytes.Contains(cmdErr.Stderr, []byte("unknown revision")) {
		t.Errorf("Stderr = %q", cmdErr.Stderr)
	}
	if !strings.Contains(cmdErr.Error(), "abort:") {
		t.Errorf("Error() = %q", cmdErr.Error())
	}
}

func TestRunPromptAndInput(t *testing.T) {
	c := newFakeClient(func(r *bufio.Reader, w io.Writer) {
		readCommand(t, r)

		writeInputRequest(w, 'L', 4096)
		if reply := readBlock(t, r); string(reply) != "yes\n" {
			t.Errorf("prompt reply = %q", reply)
		}

		// No Input callback: the client must answer with an empty
		// block.
		writeInputRequest(w, 'I', 1024)
		if reply := readBlock(t, r); len(reply) != 0 {
			t.Errorf("input reply = %q", reply)
		}

		writeFrame(w, 'o', []byte("done\n"))
		writeResult(w, 0)
	})

	out, err := c.run(&Command{
		Args: []string{"commit"},
		Prompt: func(size int, sofar []byte) string {
			return "yes\n"
		},
	})
	if err != nil {
		t.Fatalf("run failed: %s", err)
	}
	if string(out) != "done\n" {
		t.Errorf("out = %q", out)
	}
}

func TestRunChannelError(t *testing.T) {
	c := newFakeClient(func(r *bufio.Reader, w io.Writer) {
		readCommand(t, r)
		writeFrame(w, 'X', []byte("mystery"))
	})

	_, err := c.run(&Command{Args: []string{"log"}})
	var chErr *ChannelError
	if !errors.As(err, &chErr) {
		t.Fatalf("err = %v, want ChannelError", err)
	}
	if chErr.Channel != 'X' {
		t.Errorf("Channel = %q", chErr.Channel)
	}
}

func TestRunIgnoresUnknownOptionalChannel(t *testing.T) {
	c := newFakeClient(func(r *bufio.Reader, w io.Writer) {
		readCommand(t, r)
		writeFrame(w, 'x', []byte("mystery"))
		writeFrame(w, 'o', []byte("ok"))
		writeResult(w, 0)
	})

	out, err := c.run(&Command{Args: []string{"log"}})
	if err != nil {
		t.Fatalf("run failed: %s", err)
	}
	if string(out) != "ok" {
		t.Errorf("out = %q", out)
	}
}

func TestRunBadResultFrame(t *testing.T) {
	c := newFakeClient(func(r *bufio.Reader, w io.Writer) {
		readCommand(t, r)
		writeFrame(w, 'r', []byte{0, 1})
	})

	_, err := c.run(&Command{Args: []string{"log"}})
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("err = %v, want ProtocolError", err)
	}
}
