// Package backend abstracts the cloud key-management services that hold the
// CA signing key. A backend never exposes the private key; it reports the
// public half and signs pre-computed digests on request.
package backend

import (
	"context"
	"crypto"

	"golang.org/x/crypto/ssh"
)

// SigningBackend is the capability every cloud key service adapter provides.
// SignDigest is handed the digest of the certificate bytes, already computed
// with DigestAlgorithm, and returns an ASN.1 DER-encoded ECDSA signature.
// Implementations make one remote call per SignDigest invocation and honor
// ctx cancellation.
type SigningBackend interface {
	PublicKey() ssh.PublicKey
	DigestAlgorithm() crypto.Hash
	SignDigest(ctx context.Context, digest []byte) ([]byte, error)
}

// HashForKey returns the digest algorithm paired with an ECDSA CA key:
// SHA-256 for P-256, SHA-384 for P-384 and SHA-512 for P-521. Other key
// types cannot act as a CA here.
func HashForKey(pub ssh.PublicKey) (crypto.Hash, error) {
	switch pub.Type() {
	case ssh.KeyAlgoECDSA256:
		return crypto.SHA256, nil
	case ssh.KeyAlgoECDSA384:
		return crypto.SHA384, nil
	case ssh.KeyAlgoECDSA521:
		return crypto.SHA512, nil
	}
	return 0, &UnsupportedKeyError{Algorithm: pub.Type()}
}
