package diff_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/go-hg/hg/diff"
)

func varint(v int) []byte {
	var b []byte
	for {
		c := byte(v & 0x7F)
		v >>= 7
		if v == 0 {
			return append(b, c)
		}
		b = append(b, c|0x80)
	}
}

func deltaStream(srcLen, dstLen int, ops ...[]byte) []byte {
	stream := append(varint(srcLen), varint(dstLen)...)
	for _, op := range ops {
		stream = append(stream, op...)
	}
	return stream
}

func deltaHunk(stream []byte) *diff.BinaryHunk {
	return &diff.BinaryHunk{Method: diff.Delta, Size: int64(len(stream)), Data: stream}
}

func insertOp(data string) []byte {
	return append([]byte{byte(len(data))}, data...)
}

func TestDeltaApply(t *testing.T) {
	base := []byte("the quick brown fox jumps over the lazy dog")
	stream := deltaStream(len(base), 13,
		[]byte{0x91, 0x04, 0x05}, // copy "quick"
		insertOp(" red "),
		[]byte{0x91, 0x10, 0x03}, // copy "fox"
	)
	h := deltaHunk(stream)

	out, err := h.Apply(base)
	if err != nil {
		t.Fatalf("Apply failed: %s", err)
	}
	if got := string(out); got != "quick red fox" {
		t.Errorf("Apply = %q, want %q", got, "quick red fox")
	}

	ops, err := h.Ops()
	if err != nil {
		t.Fatalf("Ops failed: %s", err)
	}
	if len(ops) != 3 {
		t.Fatalf("got %d ops, want 3", len(ops))
	}
	if op := ops[0]; op.Offset != 0 || op.SrcOffset != 4 || op.Size != 5 || op.Data != nil {
		t.Errorf("ops[0] = %+v", op)
	}
	if op := ops[1]; op.Offset != 5 || op.Size != 5 || string(op.Data) != " red " {
		t.Errorf("ops[1] = %+v", op)
	}
	if op := ops[2]; op.Offset != 10 || op.SrcOffset != 16 || op.Size != 3 || op.Data != nil {
		t.Errorf("ops[2] = %+v", op)
	}
}

func TestDeltaCopyDefaultSize(t *testing.T) {
	base := make([]byte, 0x10000)
	for i := range base {
		base[i] = byte(i)
	}
	// A copy op without size bytes copies 64KiB.
	h := deltaHunk(deltaStream(len(base), len(base), []byte{0x80}))

	out, err := h.Apply(base)
	if err != nil {
		t.Fatalf("Apply failed: %s", err)
	}
	if !bytes.Equal(out, base) {
		t.Error("Apply did not copy the whole base")
	}
}

func TestDeltaErrors(t *testing.T) {
	tests := []struct {
		name   string
		base   []byte
		stream []byte
	}{
		{"opcode zero", []byte("a"), deltaStream(1, 1, []byte{0x00})},
		{"truncated insert", nil, deltaStream(0, 5, []byte{0x05, 'a', 'b'})},
		{"truncated copy", nil, deltaStream(0, 5, []byte{0x91, 0x04})},
		{"truncated header", nil, []byte{0x80}},
		{"base length", []byte("abc"), deltaStream(10, 1, insertOp("a"))},
		{"result length", nil, deltaStream(0, 5, insertOp("a"))},
		{"copy beyond source", []byte("abcd"), deltaStream(4, 10, []byte{0x91, 0x02, 0x0A})},
	}
	for _, tt := range tests {
		_, err := deltaHunk(tt.stream).Apply(tt.base)
		if !errors.Is(err, diff.ErrBadDelta) {
			t.Errorf("%s: err = %v, want ErrBadDelta", tt.name, err)
		}
	}
}

func TestDeltaSizeMismatch(t *testing.T) {
	h := deltaHunk(deltaStream(0, 0))
	h.Size++
	_, err := h.Apply(nil)
	if !errors.Is(err, diff.ErrBadBinaryHunk) {
		t.Errorf("err = %v, want ErrBadBinaryHunk", err)
	}
}

func TestLiteralSizeMismatch(t *testing.T) {
	h := &diff.BinaryHunk{Method: diff.Literal, Size: 5, Data: []byte("abc")}
	_, err := h.Apply(nil)
	if !errors.Is(err, diff.ErrBadBinaryHunk) {
		t.Errorf("err = %v, want ErrBadBinaryHunk", err)
	}
}

func TestOpsOnLiteral(t *testing.T) {
	h := &diff.BinaryHunk{Method: diff.Literal, Data: []byte("abc")}
	if _, err := h.Ops(); err == nil {
		t.Error("Ops on a literal hunk did not fail")
	}
}

func TestDeltaString(t *testing.T) {
	base := []byte("the quick brown fox jumps over the lazy dog")
	stream := deltaStream(len(base), 13,
		[]byte{0x91, 0x04, 0x05},
		insertOp(" red "),
		[]byte{0x91, 0x10, 0x03},
	)
	s := deltaHunk(stream).String()
	if !strings.HasPrefix(s, "binary hunk type=delta len=") {
		t.Errorf("String() = %q", s)
	}
	if !strings.Contains(s, "00000000: copy 5 bytes from source at 00000004") {
		t.Errorf("String() missing first copy: %q", s)
	}
	if !strings.Contains(s, "00000005: 20 72 65 64 20") {
		t.Errorf("String() missing insert dump: %q", s)
	}
	if !strings.Contains(s, "0000000a: copy 3 bytes from source at 00000010") {
		t.Errorf("String() missing second copy: %q", s)
	}

	bad := deltaHunk(deltaStream(0, 2, insertOp("abc")))
	if s := bad.String(); !strings.Contains(s, "bad delta - incorrect length") {
		t.Errorf("String() = %q, want incorrect length notice", s)
	}
}
