// Package gcpkms signs certificates with a Google Cloud KMS key version.
package gcpkms

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/crypto/ssh"
	cloudkms "google.golang.org/api/cloudkms/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/jasonrig/cloudca/server/backend"
)

const provider = "gcpkms"

// Algorithms a key version must use. Cloud KMS offers no P-521 elliptic
// signing algorithm and secp256k1 has no SSH key format, so the set is
// exactly these two.
const (
	algoP256 = "EC_SIGN_P256_SHA256"
	algoP384 = "EC_SIGN_P384_SHA384"
)

// Backend signs with one crypto key version, addressed by its full resource
// name: projects/*/locations/*/keyRings/*/cryptoKeys/*/cryptoKeyVersions/*.
type Backend struct {
	service *cloudkms.Service
	name    string
	pub     ssh.PublicKey
	hash    crypto.Hash
}

var _ backend.SigningBackend = (*Backend)(nil)

// New fetches the PEM public key of the key version and checks its
// algorithm against the supported set.
func New(ctx context.Context, name string, opts ...option.ClientOption) (*Backend, error) {
	service, err := cloudkms.NewService(ctx, opts...)
	if err != nil {
		return nil, &backend.UnavailableError{Provider: provider, Err: err}
	}

	versions := service.Projects.Locations.KeyRings.CryptoKeys.CryptoKeyVersions
	resp, err := versions.GetPublicKey(name).Context(ctx).Do()
	if err != nil {
		return nil, classify(name, err)
	}

	hash, err := hashForAlgorithm(resp.Algorithm)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode([]byte(resp.Pem))
	if block == nil {
		return nil, fmt.Errorf("cloud kms returned no PEM block for %s", name)
	}
	decoded, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing cloud kms public key: %w", err)
	}
	ecPub, ok := decoded.(*ecdsa.PublicKey)
	if !ok {
		return nil, &backend.UnsupportedKeyError{Algorithm: resp.Algorithm}
	}
	pub, err := ssh.NewPublicKey(ecPub)
	if err != nil {
		return nil, err
	}

	return &Backend{
		service: service,
		name:    name,
		pub:     pub,
		hash:    hash,
	}, nil
}

// PublicKey returns the CA public key.
func (b *Backend) PublicKey() ssh.PublicKey {
	return b.pub
}

// DigestAlgorithm returns the hash named by the key version's algorithm.
func (b *Backend) DigestAlgorithm() crypto.Hash {
	return b.hash
}

// SignDigest submits the digest under the field matching the key's hash and
// returns the decoded DER signature.
func (b *Backend) SignDigest(ctx context.Context, digest []byte) ([]byte, error) {
	req := &cloudkms.AsymmetricSignRequest{Digest: &cloudkms.Digest{}}
	encoded := base64.StdEncoding.EncodeToString(digest)
	switch b.hash {
	case crypto.SHA256:
		req.Digest.Sha256 = encoded
	case crypto.SHA384:
		req.Digest.Sha384 = encoded
	default:
		return nil, &backend.UnsupportedKeyError{Algorithm: b.hash.String()}
	}

	versions := b.service.Projects.Locations.KeyRings.CryptoKeys.CryptoKeyVersions
	resp, err := versions.AsymmetricSign(b.name, req).Context(ctx).Do()
	if err != nil {
		return nil, classify(b.name, err)
	}
	return base64.StdEncoding.DecodeString(resp.Signature)
}

func hashForAlgorithm(algo string) (crypto.Hash, error) {
	switch algo {
	case algoP256:
		return crypto.SHA256, nil
	case algoP384:
		return crypto.SHA384, nil
	}
	return 0, &backend.UnsupportedKeyError{Algorithm: algo}
}

func classify(name string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
		return &backend.KeyNotFoundError{Provider: provider, KeyID: name, Err: err}
	}
	return &backend.UnavailableError{Provider: provider, Err: err}
}
