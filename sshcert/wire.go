package sshcert

import (
	"encoding/binary"
	"errors"
	"math/big"
)

var errShortRead = errors.New("short read")

func appendUint32(b []byte, v uint32) []byte {
	return binary.BigEndian.AppendUint32(b, v)
}

func appendUint64(b []byte, v uint64) []byte {
	return binary.BigEndian.AppendUint64(b, v)
}

// appendString appends s as a uint32 length-prefixed string.
func appendString(b, s []byte) []byte {
	b = appendUint32(b, uint32(len(s)))
	return append(b, s...)
}

// appendMpint appends n in the SSH mpint encoding: minimal big-endian bytes
// with a single zero byte prepended when the top bit of the first significant
// byte is set. n must not be negative.
func appendMpint(b []byte, n *big.Int) []byte {
	if n == nil || n.Sign() == 0 {
		return appendUint32(b, 0)
	}
	bytes := n.Bytes()
	if bytes[0]&0x80 != 0 {
		b = appendUint32(b, uint32(len(bytes)+1))
		b = append(b, 0)
		return append(b, bytes...)
	}
	return appendString(b, bytes)
}

func readUint32(in []byte) (uint32, []byte, error) {
	if len(in) < 4 {
		return 0, nil, errShortRead
	}
	return binary.BigEndian.Uint32(in), in[4:], nil
}

func readUint64(in []byte) (uint64, []byte, error) {
	if len(in) < 8 {
		return 0, nil, errShortRead
	}
	return binary.BigEndian.Uint64(in), in[8:], nil
}

func readString(in []byte) ([]byte, []byte, error) {
	length, rest, err := readUint32(in)
	if err != nil {
		return nil, nil, err
	}
	if uint64(length) > uint64(len(rest)) {
		return nil, nil, errShortRead
	}
	return rest[:length], rest[length:], nil
}

// readMpint reads an SSH mpint. Certificates never carry negative values, so
// a set sign bit is rejected.
func readMpint(in []byte) (*big.Int, []byte, error) {
	s, rest, err := readString(in)
	if err != nil {
		return nil, nil, err
	}
	if len(s) > 0 && s[0]&0x80 != 0 {
		return nil, nil, errors.New("negative mpint")
	}
	return new(big.Int).SetBytes(s), rest, nil
}
