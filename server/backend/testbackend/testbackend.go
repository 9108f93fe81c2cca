// Package testbackend is an in-memory implementation of
// backend.SigningBackend for tests.
package testbackend

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"sync/atomic"

	"golang.org/x/crypto/ssh"

	"github.com/jasonrig/cloudca/server/backend"
)

// Backend signs with a locally generated ECDSA key, standing in for a cloud
// key service. Set Err to make SignDigest fail.
type Backend struct {
	Key  *ecdsa.PrivateKey
	Err  error
	pub  ssh.PublicKey
	hash crypto.Hash

	signCalls int64
}

var _ backend.SigningBackend = (*Backend)(nil)

// New generates a fresh key on the given curve.
func New(curve elliptic.Curve) (*Backend, error) {
	key, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		return nil, err
	}
	pub, err := ssh.NewPublicKey(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	hash, err := backend.HashForKey(pub)
	if err != nil {
		return nil, err
	}
	return &Backend{Key: key, pub: pub, hash: hash}, nil
}

func (b *Backend) PublicKey() ssh.PublicKey {
	return b.pub
}

func (b *Backend) DigestAlgorithm() crypto.Hash {
	return b.hash
}

func (b *Backend) SignDigest(ctx context.Context, digest []byte) ([]byte, error) {
	atomic.AddInt64(&b.signCalls, 1)
	if b.Err != nil {
		return nil, b.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ecdsa.SignASN1(rand.Reader, b.Key, digest)
}

// SignCalls reports how many times SignDigest has been invoked.
func (b *Backend) SignCalls() int64 {
	return atomic.LoadInt64(&b.signCalls)
}
