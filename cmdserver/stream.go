package cmdserver

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
)

// StreamFile spawns a one-shot `hg cat` and streams the contents of
// name at the given revision; rev may be empty for the working
// directory parent. A failure to open the file surfaces here as
// *PipeError rather than on the first Read.
func (c *Client) StreamFile(ctx context.Context, name, rev string) (io.ReadCloser, error) {
	args := []string{"-R", c.opt.Path, "cat"}
	if rev != "" {
		args = append(args, "-r", rev)
	}
	args = append(args, name)

	cmd := exec.CommandContext(ctx, c.opt.HgPath, args...)
	cmd.Dir = c.opt.Path
	cmd.Env = c.opt.env()
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	f := &pipeFile{cmd: cmd, out: stdout, stderr: &stderr}
	if err := f.prime(); err != nil {
		return nil, err
	}
	return f, nil
}

// pipeFile adapts a one-shot hg process to io.ReadCloser. One byte is
// read eagerly so that an open error is reported by StreamFile.
type pipeFile struct {
	cmd    *exec.Cmd
	out    io.ReadCloser
	stderr *bytes.Buffer

	buf    byte
	have   bool
	waited bool
	err    error
}

func (f *pipeFile) prime() error {
	var b [1]byte
	for {
		n, err := f.out.Read(b[:])
		if n == 1 {
			f.buf = b[0]
			f.have = true
			return nil
		}
		if err == io.EOF {
			return f.reap()
		}
		if err != nil {
			_ = f.reap()
			return err
		}
	}
}

// reap waits for the process once and converts a non-zero exit into
// *PipeError carrying the collected stderr.
func (f *pipeFile) reap() error {
	if f.waited {
		return f.err
	}
	f.waited = true
	if err := f.cmd.Wait(); err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		f.err = &PipeError{Code: code, Stderr: f.stderr.Bytes()}
	}
	return f.err
}

func (f *pipeFile) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if f.have {
		p[0] = f.buf
		f.have = false
		n, err := f.out.Read(p[1:])
		if err == io.EOF {
			err = nil
		}
		return n + 1, err
	}
	if f.waited {
		if f.err != nil {
			return 0, f.err
		}
		return 0, io.EOF
	}

	n, err := f.out.Read(p)
	if err == io.EOF {
		if rerr := f.reap(); rerr != nil {
			return n, rerr
		}
	}
	return n, err
}

func (f *pipeFile) Close() error {
	if f.waited {
		return f.err
	}
	// Abandoned before EOF: closing the pipe may kill hg mid-write,
	// so its exit status carries no information.
	_ = f.out.Close()
	f.waited = true
	_ = f.cmd.Wait()
	return nil
}
