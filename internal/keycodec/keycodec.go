// Package keycodec implements an order-preserving tuple encoding for
// composite index keys.
//
// The encoding guarantees two properties the index layer depends on:
//
//  1. Byte-lexicographic order of encoded tuples equals element-wise order
//     of the original tuples.
//  2. The encoding of a tuple prefix is a byte prefix of the encoding of
//     any tuple extending it, which makes partial-key range scans a plain
//     prefix scan.
package keycodec

import (
	"encoding/binary"
	"math"
	"time"
)

// Type tags. Each element is preceded by its tag so tuples whose fields
// have different kinds still order deterministically per position.
const (
	tagAbsent byte = 0x01
	tagString byte = 0x02
	tagInt    byte = 0x03
	tagFloat  byte = 0x04
	tagFalse  byte = 0x05
	tagTrue   byte = 0x06
	tagTime   byte = 0x07
)

// Strings escape embedded 0x00 bytes as 0x00 0xFF and end with the pair
// 0x00 0x01. The second terminator byte is below any escaped content
// byte, so a string sorts before every extension of it, and above no
// escape pair, so no encoding is a byte prefix of another string's.
const (
	escape     byte = 0x00
	escaped    byte = 0xFF
	terminator byte = 0x01
)

const signBit = uint64(1) << 63

// AppendAbsent encodes a missing (optional) field value. It sorts before
// every present value of any kind.
func AppendAbsent(b []byte) []byte {
	return append(b, tagAbsent)
}

// AppendString encodes s with 0x00 bytes escaped as 0x00 0xFF and a
// 0x00 0x01 terminator, so "a" sorts before "ab" and the encoding of a
// string is never a byte prefix of a longer string's encoding.
func AppendString(b []byte, s string) []byte {
	b = append(b, tagString)
	for i := 0; i < len(s); i++ {
		c := s[i]
		b = append(b, c)
		if c == escape {
			b = append(b, escaped)
		}
	}
	return append(b, escape, terminator)
}

// AppendInt encodes v as 8 big-endian bytes with the sign bit flipped, so
// negative values sort before positive ones.
func AppendInt(b []byte, v int64) []byte {
	b = append(b, tagInt)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v)^signBit)
	return append(b, buf[:]...)
}

// AppendFloat encodes f in the standard order-preserving IEEE-754 form:
// flip the sign bit for non-negative values, flip all bits for negative
// ones. NaN is mapped to the largest encoding.
func AppendFloat(b []byte, f float64) []byte {
	b = append(b, tagFloat)
	bits := math.Float64bits(f)
	if math.IsNaN(f) {
		bits = math.MaxUint64
	} else if bits&signBit != 0 {
		bits = ^bits
	} else {
		bits |= signBit
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], bits)
	return append(b, buf[:]...)
}

// AppendBool encodes false before true using the tag byte alone.
func AppendBool(b []byte, v bool) []byte {
	if v {
		return append(b, tagTrue)
	}
	return append(b, tagFalse)
}

// AppendTime encodes t as UTC nanoseconds since the Unix epoch.
func AppendTime(b []byte, t time.Time) []byte {
	b = append(b, tagTime)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(t.UTC().UnixNano())^signBit)
	return append(b, buf[:]...)
}
