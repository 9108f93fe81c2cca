package sshcert

import (
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	casn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// Signature is the decoded signature field of a certificate: an algorithm
// name plus an algorithm-specific blob. For ECDSA signing keys the blob holds
// the r and s components as two mpints.
type Signature struct {
	Format string
	Blob   []byte
}

// NewSignature builds a certificate signature for an ECDSA signing key from
// the raw signature components.
func NewSignature(format string, r, s *big.Int) *Signature {
	blob := appendMpint(nil, r)
	blob = appendMpint(blob, s)
	return &Signature{Format: format, Blob: blob}
}

// Marshal returns the signature in wire form: format name and blob, each
// length prefixed.
func (s *Signature) Marshal() []byte {
	b := appendString(nil, []byte(s.Format))
	return appendString(b, s.Blob)
}

func parseSignature(in []byte) (*Signature, error) {
	format, rest, err := readString(in)
	if err != nil {
		return nil, decodingErrf("truncated signature format")
	}
	blob, rest, err := readString(rest)
	if err != nil {
		return nil, decodingErrf("truncated signature blob")
	}
	if len(rest) != 0 {
		return nil, decodingErrf("%d trailing bytes after signature blob", len(rest))
	}
	return &Signature{Format: string(format), Blob: blob}, nil
}

// ParseDERSignature extracts the (r, s) components from a DER-encoded ECDSA
// signature, the form every cloud signing API hands back. Anything other
// than an ASN.1 sequence of exactly two non-negative integers is rejected.
func ParseDERSignature(der []byte) (r, s *big.Int, err error) {
	var inner cryptobyte.String
	input := cryptobyte.String(der)
	r, s = new(big.Int), new(big.Int)
	if !input.ReadASN1(&inner, casn1.SEQUENCE) ||
		!input.Empty() ||
		!inner.ReadASN1Integer(r) ||
		!inner.ReadASN1Integer(s) ||
		!inner.Empty() {
		return nil, nil, &MalformedSignatureError{Reason: "not an ASN.1 sequence of two integers"}
	}
	if r.Sign() < 0 || s.Sign() < 0 {
		return nil, nil, &MalformedSignatureError{Reason: "negative signature component"}
	}
	return r, s, nil
}
