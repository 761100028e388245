package diff

import (
	"fmt"
	"math/bits"
)

// DeltaOp is one instruction of a git binary delta. A copy from the
// base file has SrcOffset and Size set and nil Data; an insert carries
// the literal bytes in Data. Offset is the instruction's position in
// the patched result.
type DeltaOp struct {
	Offset    int64
	SrcOffset int64
	Size      int64
	Data      []byte
}

// Ops decodes the instruction stream of a delta hunk.
func (h *BinaryHunk) Ops() ([]DeltaOp, error) {
	if h.Method != Delta {
		return nil, fmt.Errorf("diff: %s hunk has no delta ops", h.Method)
	}
	_, _, rest, err := deltaSizes(h.Data)
	if err != nil {
		return nil, err
	}
	return deltaOps(rest)
}

// Apply patches base with the hunk. A literal hunk ignores base and
// yields the stored payload. A delta hunk replays its instruction
// stream against base; the source and result lengths declared by the
// delta are enforced.
func (h *BinaryHunk) Apply(base []byte) ([]byte, error) {
	switch h.Method {
	case Literal:
		if int64(len(h.Data)) != h.Size {
			return nil, fmt.Errorf("%w: literal is %d bytes, want %d",
				ErrBadBinaryHunk, len(h.Data), h.Size)
		}
		out := make([]byte, len(h.Data))
		copy(out, h.Data)
		return out, nil
	case Delta:
	default:
		return nil, fmt.Errorf("diff: cannot apply %s hunk", h.Method)
	}

	if int64(len(h.Data)) != h.Size {
		return nil, fmt.Errorf("%w: delta is %d bytes, want %d",
			ErrBadBinaryHunk, len(h.Data), h.Size)
	}
	srcLen, dstLen, rest, err := deltaSizes(h.Data)
	if err != nil {
		return nil, err
	}
	if int64(len(base)) != srcLen {
		return nil, fmt.Errorf("%w: base is %d bytes, delta expects %d",
			ErrBadDelta, len(base), srcLen)
	}
	ops, err := deltaOps(rest)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, dstLen)
	for _, op := range ops {
		if op.Data != nil {
			out = append(out, op.Data...)
			continue
		}
		end := op.SrcOffset + op.Size
		if end > int64(len(base)) {
			return nil, fmt.Errorf("%w: copy beyond source", ErrBadDelta)
		}
		out = append(out, base[op.SrcOffset:end]...)
	}
	if int64(len(out)) != dstLen {
		return nil, fmt.Errorf("%w: result is %d bytes, want %d",
			ErrBadDelta, len(out), dstLen)
	}
	return out, nil
}

// deltaSizes reads the little-endian base-128 source and result
// lengths that prefix a delta stream.
func deltaSizes(data []byte) (srcLen, dstLen int64, rest []byte, err error) {
	srcLen, rest, err = deltaVarint(data)
	if err != nil {
		return 0, 0, nil, err
	}
	dstLen, rest, err = deltaVarint(rest)
	if err != nil {
		return 0, 0, nil, err
	}
	return srcLen, dstLen, rest, nil
}

func deltaVarint(data []byte) (int64, []byte, error) {
	var v uint64
	var shift uint
	for i := 0; i < len(data); i++ {
		c := data[i]
		v |= uint64(c&0x7F) << shift
		if c&0x80 == 0 {
			return int64(v), data[i+1:], nil
		}
		shift += 7
	}
	return 0, nil, fmt.Errorf("%w: truncated", ErrBadDelta)
}

func deltaOps(delta []byte) ([]DeltaOp, error) {
	var (
		ops    []DeltaOp
		offset int64
	)
	for ptr := 0; ptr < len(delta); {
		cmd := delta[ptr]
		ptr++
		switch {
		case cmd&0x80 != 0:
			// Copy from the base file. The low bits select which
			// offset and size bytes follow.
			if ptr+bits.OnesCount8(cmd&0x7F) > len(delta) {
				return nil, fmt.Errorf("%w: truncated", ErrBadDelta)
			}
			var srcOffset, size int64
			if cmd&0x01 != 0 {
				srcOffset = int64(delta[ptr])
				ptr++
			}
			if cmd&0x02 != 0 {
				srcOffset |= int64(delta[ptr]) << 8
				ptr++
			}
			if cmd&0x04 != 0 {
				srcOffset |= int64(delta[ptr]) << 16
				ptr++
			}
			if cmd&0x08 != 0 {
				srcOffset |= int64(delta[ptr]) << 24
				ptr++
			}
			if cmd&0x10 != 0 {
				size = int64(delta[ptr])
				ptr++
			}
			if cmd&0x20 != 0 {
				size |= int64(delta[ptr]) << 8
				ptr++
			}
			if cmd&0x40 != 0 {
				size |= int64(delta[ptr]) << 16
				ptr++
			}
			if size == 0 {
				size = 0x10000
			}
			ops = append(ops, DeltaOp{Offset: offset, SrcOffset: srcOffset, Size: size})
			offset += size
		case cmd != 0:
			// Insert the next cmd bytes from the delta itself.
			n := int(cmd)
			if ptr+n > len(delta) {
				return nil, fmt.Errorf("%w: truncated", ErrBadDelta)
			}
			ops = append(ops, DeltaOp{Offset: offset, Size: int64(n), Data: delta[ptr : ptr+n]})
			ptr += n
			offset += int64(n)
		default:
			return nil, fmt.Errorf("%w: unknown opcode 0x00", ErrBadDelta)
		}
	}
	return ops, nil
}
