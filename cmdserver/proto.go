package cmdserver

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// frame is one server message: a channel byte and a big-endian uint32.
// Output channels carry that many payload bytes; input channels ('I',
// 'L') carry no payload, the number is the requested input size.
type frame struct {
	ch   byte
	data []byte
	size int
}

func readFrame(r *bufio.Reader) (frame, error) {
	var head [5]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return frame{}, &ProtocolError{Reason: "server closed the channel"}
		}
		return frame{}, err
	}

	f := frame{ch: head[0]}
	size := binary.BigEndian.Uint32(head[1:])
	if f.ch == 'I' || f.ch == 'L' {
		f.size = int(size)
		return f, nil
	}

	f.data = make([]byte, size)
	if _, err := io.ReadFull(r, f.data); err != nil {
		return frame{}, &ProtocolError{Reason: "truncated frame"}
	}
	return f, nil
}

// writeBlock sends one length-prefixed block to the server. An empty
// block signals end of input.
func (c *Client) writeBlock(data []byte) error {
	var head [4]byte
	binary.BigEndian.PutUint32(head[:], uint32(len(data)))
	if _, err := c.stdin.Write(head[:]); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	_, err := c.stdin.Write(data)
	return err
}

// parseHello reads the key: value lines of the server hello and
// returns the capability list and the server encoding.
func parseHello(data []byte) ([]string, string, error) {
	info := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			return nil, "", &ProtocolError{Reason: fmt.Sprintf("malformed hello line %q", line)}
		}
		info[strings.ToLower(strings.TrimSpace(parts[0]))] = strings.TrimSpace(parts[1])
	}

	caps := strings.Fields(info["capabilities"])
	if len(caps) == 0 {
		return nil, "", &ProtocolError{Reason: "hello message missing capabilities"}
	}
	supported := false
	for _, c := range caps {
		if c == "runcommand" {
			supported = true
			break
		}
	}
	if !supported {
		return nil, "", &CapabilityError{Capability: "runcommand"}
	}

	encoding := info["encoding"]
	if encoding == "" {
		return nil, "", &ProtocolError{Reason: "hello message missing encoding"}
	}
	return caps, encoding, nil
}
