// Package azurekv signs certificates with an elliptic-curve key held in
// Azure Key Vault or a Managed HSM.
package azurekv

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azkeys"
	"golang.org/x/crypto/ssh"

	"github.com/jasonrig/cloudca/server/backend"
)

const provider = "azurekv"

// Backend signs with a named key version in one vault. An empty version
// selects the latest.
type Backend struct {
	client     *azkeys.Client
	keyName    string
	keyVersion string
	pub        ssh.PublicKey
	algo       azkeys.SignatureAlgorithm
	hash       crypto.Hash
}

var _ backend.SigningBackend = (*Backend)(nil)

// New reads the key's JSON Web Key representation from the vault and builds
// the SSH public key from its curve point. A nil cred falls back to the
// default Azure credential chain.
func New(ctx context.Context, vaultURL, keyName, keyVersion string, cred azcore.TokenCredential) (*Backend, error) {
	if cred == nil {
		var err error
		cred, err = azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, &backend.UnavailableError{Provider: provider, Err: err}
		}
	}
	client, err := azkeys.NewClient(vaultURL, cred, nil)
	if err != nil {
		return nil, &backend.UnavailableError{Provider: provider, Err: err}
	}

	resp, err := client.GetKey(ctx, keyName, keyVersion, nil)
	if err != nil {
		return nil, classify(keyName, err)
	}
	key := resp.Key
	if key == nil || key.Kty == nil {
		return nil, fmt.Errorf("key vault returned no key material for %s", keyName)
	}
	if *key.Kty != azkeys.KeyTypeEC && *key.Kty != azkeys.KeyTypeECHSM {
		return nil, &backend.UnsupportedKeyError{Algorithm: string(*key.Kty)}
	}
	if key.Crv == nil {
		return nil, fmt.Errorf("key vault key %s has no curve name", keyName)
	}

	curve, algo, hash, err := curveParameters(*key.Crv)
	if err != nil {
		return nil, err
	}
	ecPub := ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(key.X),
		Y:     new(big.Int).SetBytes(key.Y),
	}
	pub, err := ssh.NewPublicKey(&ecPub)
	if err != nil {
		return nil, err
	}

	return &Backend{
		client:     client,
		keyName:    keyName,
		keyVersion: keyVersion,
		pub:        pub,
		algo:       algo,
		hash:       hash,
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

// SignDigest signs the digest with the vault key. Key Vault hands back the
// raw r||s concatenation, which is re-encoded as DER so every backend
// returns the same signature shape.
func (b *Backend) SignDigest(ctx context.Context, digest []byte) ([]byte, error) {
	resp, err := b.client.Sign(ctx, b.keyName, b.keyVersion, azkeys.SignParameters{
		Algorithm: &b.algo,
		Value:     digest,
	}, nil)
	if err != nil {
		return nil, classify(b.keyName, err)
	}
	return rawToDER(resp.Result)
}

func curveParameters(crv azkeys.CurveName) (elliptic.Curve, azkeys.SignatureAlgorithm, crypto.Hash, error) {
	switch crv {
	case azkeys.CurveNameP256:
		return elliptic.P256(), azkeys.SignatureAlgorithmES256, crypto.SHA256, nil
	case azkeys.CurveNameP384:
		return elliptic.P384(), azkeys.SignatureAlgorithmES384, crypto.SHA384, nil
	case azkeys.CurveNameP521:
		return elliptic.P521(), azkeys.SignatureAlgorithmES512, crypto.SHA512, nil
	}
	return nil, "", 0, &backend.UnsupportedKeyError{Algorithm: string(crv)}
}

// rawToDER converts a fixed-width r||s signature, split at the midpoint,
// into the DER sequence the rest of the signing path expects.
func rawToDER(raw []byte) ([]byte, error) {
	if len(raw) == 0 || len(raw)%2 != 0 {
		return nil, fmt.Errorf("key vault signature has odd length %d", len(raw))
	}
	half := len(raw) / 2
	sig := struct{ R, S *big.Int }{
		R: new(big.Int).SetBytes(raw[:half]),
		S: new(big.Int).SetBytes(raw[half:]),
	}
	return asn1.Marshal(sig)
}

func classify(keyName string, err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
		return &backend.KeyNotFoundError{Provider: provider, KeyID: keyName, Err: err}
	}
	return &backend.UnavailableError{Provider: provider, Err: err}
}
