// Package base85 implements the radix-85 binary-to-text encoding used by
// Mercurial and git to embed binary data in text-only streams.
//
// Every group of 4 input bytes becomes 5 characters from an 85-symbol
// alphabet. A final partial group encodes to the minimal number of
// characters unless padding is requested, in which case every group emits
// all 5.
package base85

import (
	"errors"
	"fmt"

	"github.com/go-hg/hg/internal"
)

const alphabet = "0123456789" +
	"ABCDEFGHIJKLMNOPQRSTUVWXYZ" +
	"abcdefghijklmnopqrstuvwxyz" +
	"!#$%&()*+-;<=>?@^_`{|}~"

// Largest word 4 digits may reach: maxWord4*85 == 0xFFFFFFFF exactly.
const maxWord4 = 0x03030303

var de85 [256]int8

func init() {
	for i := range de85 {
		de85[i] = -1
	}
	for i := 0; i < len(alphabet); i++ {
		de85[alphabet[i]] = int8(i)
	}
}

var (
	// ErrInvalidByte reports an input byte outside the 85-symbol alphabet.
	ErrInvalidByte = errors.New("base85: invalid byte")

	// ErrOverflow reports a 5-digit group that does not fit in 32 bits.
	ErrOverflow = errors.New("base85: group overflows 32 bits")
)

// DecodeError is returned by Decode and DecodeString. It wraps
// ErrInvalidByte or ErrOverflow and records the input offset at which
// decoding stopped.
type DecodeError struct {
	Offset int
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s at offset %d", e.Err, e.Offset)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// EncodedLen returns the length of an encoding of n source bytes.
// With pad the final partial group emits all 5 characters; without it
// the encoding is truncated to the minimal length.
func EncodedLen(n int, pad bool) int {
	if pad {
		return (n + 3) / 4 * 5
	}
	return (n*5 + 3) / 4
}

// DecodedLen returns the number of bytes decoded from n source characters.
func DecodedLen(n int) int {
	return n * 4 / 5
}

// Encode encodes src into exactly EncodedLen(len(src), pad) bytes of dst
// and returns the number of bytes written. Encoding never fails.
func Encode(dst, src []byte, pad bool) int {
	max := EncodedLen(len(src), pad)
	pos := 0
	for i := 0; i < len(src); i += 4 {
		var word uint32
		for j := 0; j < 4 && i+j < len(src); j++ {
			word |= uint32(src[i+j]) << (24 - 8*j)
		}

		var group [5]byte
		for j := 4; j >= 0; j-- {
			group[j] = alphabet[word%85]
			word /= 85
		}
		for j := 0; j < 5 && pos < max; j++ {
			dst[pos] = group[j]
			pos++
		}
	}
	return pos
}

// EncodeToString returns the encoding of src.
func EncodeToString(src []byte, pad bool) string {
	dst := make([]byte, EncodedLen(len(src), pad))
	Encode(dst, src, pad)
	return internal.BytesToString(dst)
}

// Decode decodes src and returns the decoded bytes, DecodedLen(len(src))
// of them. It fails with a *DecodeError on the first byte outside the
// alphabet and on any 5-digit group exceeding the 32-bit range; no
// partial result is returned.
func Decode(src []byte) ([]byte, error) {
	dst := make([]byte, DecodedLen(len(src)))
	pos := 0
	for i := 0; i < len(src); i += 5 {
		group := len(src) - i
		if group > 5 {
			group = 5
		}

		var word uint32
		for j := 0; j < 5; j++ {
			word *= 85
			if j < group {
				v := de85[src[i+j]]
				if v < 0 {
					return nil, &DecodeError{Offset: i + j, Err: ErrInvalidByte}
				}
				d := uint32(v)
				if j == 4 && word > 0xFFFFFFFF-d {
					return nil, &DecodeError{Offset: i + j, Err: ErrOverflow}
				}
				word += d
			}
			if j == 3 && word > maxWord4 {
				off := i + j
				if group <= j {
					off = i + group - 1
				}
				return nil, &DecodeError{Offset: off, Err: ErrOverflow}
			}
		}

		// A short final group carries fewer digits than the word has
		// bytes. Round the reconstructed value up to undo the encoder's
		// truncation before splitting it. A word too large to absorb the
		// round-up cannot come from an encoder.
		rem := len(dst) - pos
		if rem > 4 {
			rem = 4
		}
		if rem >= 1 && rem < 4 {
			round := uint32(0xFFFFFF >> ((rem - 1) * 8))
			if word > 0xFFFFFFFF-round {
				return nil, &DecodeError{Offset: i + group - 1, Err: ErrOverflow}
			}
			word += round
		}
		for j := 0; j < 4 && pos < len(dst); j++ {
			dst[pos] = byte(word >> (24 - 8*j))
			pos++
		}
	}
	return dst, nil
}

// DecodeString decodes the base85 string s.
func DecodeString(s string) ([]byte, error) {
	return Decode(internal.StringToBytes(s))
}
