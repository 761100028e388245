// Package diff parses patches in unified, context, and git extended
// formats, including the git binary patches produced by `hg diff --git`.
package diff

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBadBinaryHunk reports a corrupt git binary patch.
	ErrBadBinaryHunk = errors.New("diff: corrupt binary patch")

	// ErrBadDelta reports a corrupt git binary delta stream.
	ErrBadDelta = errors.New("diff: bad delta")
)

// Kind classifies what happened to a file.
type Kind int

const (
	Modify Kind = iota
	Add
	Delete
	Rename
	Copy
)

func (k Kind) String() string {
	switch k {
	case Add:
		return "add"
	case Delete:
		return "delete"
	case Rename:
		return "rename"
	case Copy:
		return "copy"
	default:
		return "modify"
	}
}

// Change describes one changed file within a patch.
type Change struct {
	Kind   Kind
	Source string
	Dest   string

	// File modes from the git extended header, as octal values.
	OldMode uint32
	NewMode uint32

	Similarity    int
	Dissimilarity int

	Binary bool
	Hunks  []Hunk
}

// String renders the change as unified-style text.
func (c *Change) String() string {
	src := c.Source
	dst := c.Dest
	switch c.Kind {
	case Add:
		src = ""
	case Delete:
		dst = ""
	}
	if src == "" {
		src = "/dev/null"
	}
	if dst == "" {
		dst = "/dev/null"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "--- %s\n+++ %s", src, dst)
	for _, h := range c.Hunks {
		b.WriteByte('\n')
		b.WriteString(h.String())
	}
	return b.String()
}

// Hunk is one block of changes within a Change, either a *TextHunk or a
// *BinaryHunk.
type Hunk interface {
	fmt.Stringer

	// Binary reports whether the hunk carries a binary payload.
	Binary() bool
}

// Line is one body line of a text hunk. Op is ' ', '+', or '-'. Text
// carries no line terminator.
type Line struct {
	Op   byte
	Text string
}

// TextHunk is a block of text changes. Counts follow the unified hunk
// header convention.
type TextHunk struct {
	StartA, LenA int
	StartB, LenB int
	Lines        []Line

	// NoNewline is set when the hunk ended with a
	// "\ No newline at end of file" marker.
	NoNewline bool
}

func (h *TextHunk) Binary() bool { return false }

func (h *TextHunk) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "@@ -%d,%d +%d,%d @@", h.StartA, h.LenA, h.StartB, h.LenB)
	for _, l := range h.Lines {
		b.WriteByte('\n')
		b.WriteByte(l.Op)
		b.WriteString(l.Text)
	}
	if h.NoNewline {
		b.WriteString("\n\\ No newline at end of file")
	}
	return b.String()
}

// BinaryMethod names the encoding of a binary hunk.
type BinaryMethod string

const (
	Literal BinaryMethod = "literal"
	Delta   BinaryMethod = "delta"
)

// BinaryHunk is one payload of a git binary patch, already inflated.
// Size is the length stated on the method line: the inflated payload
// length, which for a literal hunk is also the post-image size. The
// second hunk of a binary patch, when present, is the reverse patch.
type BinaryHunk struct {
	Method  BinaryMethod
	Size    int64
	Data    []byte
	Reverse bool
}

func (h *BinaryHunk) Binary() bool { return true }

func (h *BinaryHunk) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "binary hunk type=%s len=%d", h.Method, h.Size)
	if h.Reverse {
		b.WriteString(" (reverse)")
	}
	switch h.Method {
	case Literal:
		for off := 0; off < len(h.Data); off += 16 {
			end := off + 16
			if end > len(h.Data) {
				end = len(h.Data)
			}
			b.WriteByte('\n')
			b.WriteString(dumpRow(int64(off), h.Data[off:end]))
		}
	case Delta:
		h.dumpDelta(&b)
	default:
		b.WriteString("\n<unknown method>")
	}
	return b.String()
}

func (h *BinaryHunk) dumpDelta(b *strings.Builder) {
	_, dstLen, rest, err := deltaSizes(h.Data)
	if err != nil {
		fmt.Fprintf(b, "\n%s", err)
		return
	}
	ops, err := deltaOps(rest)
	if err != nil {
		fmt.Fprintf(b, "\n%s", err)
		return
	}

	todo := dstLen
	for _, op := range ops {
		if todo < op.Size {
			b.WriteString("\nbad delta - incorrect length")
			return
		}
		todo -= op.Size
		b.WriteByte('\n')
		if op.Data == nil {
			fmt.Fprintf(b, "%08x: copy %d bytes from source at %08x",
				op.Offset, op.Size, op.SrcOffset)
		} else {
			b.WriteString(dumpRow(op.Offset, op.Data))
		}
	}
}

func dumpRow(off int64, chunk []byte) string {
	hexed := make([]string, len(chunk))
	printable := make([]byte, len(chunk))
	for i, c := range chunk {
		hexed[i] = fmt.Sprintf("%02x", c)
		if c < ' ' || c > '~' {
			printable[i] = '.'
		} else {
			printable[i] = c
		}
	}
	return fmt.Sprintf("%08x: %-47s  %s", off, strings.Join(hexed, " "), printable)
}
