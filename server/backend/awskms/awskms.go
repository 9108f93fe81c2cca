// Package awskms signs certificates with an asymmetric AWS KMS key.
package awskms

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	"errors"
	"fmt"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"golang.org/x/crypto/ssh"

	"github.com/jasonrig/cloudca/server/backend"
)

const provider = "awskms"

// Backend holds a KMS client bound to a single ECDSA signing key. The public
// key is fetched once at construction; only SignDigest talks to KMS after
// that.
type Backend struct {
	client *kms.Client
	keyID  string
	pub    ssh.PublicKey
	algo   types.SigningAlgorithmSpec
	hash   crypto.Hash
}

var _ backend.SigningBackend = (*Backend)(nil)

// New fetches the public half of keyID and verifies it is an ECDSA key that
// KMS will sign digests for. keyID accepts anything the KMS API does: a key
// id, an ARN or an alias.
func New(ctx context.Context, cfg aws.Config, keyID string) (*Backend, error) {
	client := kms.NewFromConfig(cfg)
	resp, err := client.GetPublicKey(ctx, &kms.GetPublicKeyInput{
		KeyId: aws.String(keyID),
	})
	if err != nil {
		return nil, classify(keyID, err)
	}

	decoded, err := x509.ParsePKIXPublicKey(resp.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("parsing KMS public key: %w", err)
	}
	ecPub, ok := decoded.(*ecdsa.PublicKey)
	if !ok {
		return nil, &backend.UnsupportedKeyError{Algorithm: string(resp.KeySpec)}
	}

	algo, hash, err := signingAlgorithmForCurve(ecPub.Curve)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(resp.SigningAlgorithms, algo) {
		return nil, fmt.Errorf("kms key %s does not offer %s, got %v", keyID, algo, resp.SigningAlgorithms)
	}

	pub, err := ssh.NewPublicKey(ecPub)
	if err != nil {
		return nil, err
	}
	return &Backend{
		client: client,
		keyID:  keyID,
		pub:    pub,
		algo:   algo,
		hash:   hash,
	}, nil
}

// PublicKey returns the CA public key.
func (b *Backend) PublicKey() ssh.PublicKey {
	return b.pub
}

// DigestAlgorithm returns the hash the key's curve pairs with.
func (b *Backend) DigestAlgorithm() crypto.Hash {
	return b.hash
}

// SignDigest asks KMS to sign the digest and returns the DER signature
// unchanged.
func (b *Backend) SignDigest(ctx context.Context, digest []byte) ([]byte, error) {
	resp, err := b.client.Sign(ctx, &kms.SignInput{
		KeyId:            aws.String(b.keyID),
		Message:          digest,
		MessageType:      types.MessageTypeDigest,
		SigningAlgorithm: b.algo,
	})
	if err != nil {
		return nil, classify(b.keyID, err)
	}
	return resp.Signature, nil
}

func signingAlgorithmForCurve(curve elliptic.Curve) (types.SigningAlgorithmSpec, crypto.Hash, error) {
	switch curve {
	case elliptic.P256():
		return types.SigningAlgorithmSpecEcdsaSha256, crypto.SHA256, nil
	case elliptic.P384():
		return types.SigningAlgorithmSpecEcdsaSha384, crypto.SHA384, nil
	case elliptic.P521():
		return types.SigningAlgorithmSpecEcdsaSha512, crypto.SHA512, nil
	}
	return "", 0, &backend.UnsupportedKeyError{Algorithm: curve.Params().Name}
}

// classify maps KMS API errors onto the shared backend error types. A
// missing or disabled key is permanent; everything else is reported as the
// service being unavailable.
func classify(keyID string, err error) error {
	var notFound *types.NotFoundException
	var disabled *types.DisabledException
	var invalidState *types.KMSInvalidStateException
	if errors.As(err, &notFound) || errors.As(err, &disabled) || errors.As(err, &invalidState) {
		return &backend.KeyNotFoundError{Provider: provider, KeyID: keyID, Err: err}
	}
	return &backend.UnavailableError{Provider: provider, Err: err}
}
