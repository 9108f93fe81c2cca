package client

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/mikesmitty/edkey"
	"golang.org/x/crypto/ssh"
)

// Key is a private key.
type Key interface{}

type options struct {
	keytype string
	size    int
}

// Option is a key generation option.
type Option func(*options)

// KeyType sets the type of the generated key: "rsa", "ecdsa" or "ed25519".
func KeyType(keytype string) Option {
	return func(o *options) {
		o.keytype = keytype
	}
}

// KeySize sets the size of the generated key in bits. Ignored for ed25519
// keys.
func KeySize(size int) Option {
	return func(o *options) {
		o.size = size
	}
}

// GenerateKey generates a ssh key-pair according to the given options. The
// default is a 2048 bit RSA key.
func GenerateKey(opts ...Option) (Key, ssh.PublicKey, error) {
	config := &options{
		keytype: "rsa",
	}
	for _, o := range opts {
		o(config)
	}
	switch config.keytype {
	case "rsa":
		if config.size == 0 {
			config.size = 2048
		}
		return generateRSAKey(config.size)
	case "ecdsa":
		if config.size == 0 {
			config.size = 256
		}
		return generateECDSAKey(config.size)
	case "ed25519":
		return generateED25519Key()
	}
	return nil, nil, fmt.Errorf("unsupported key type %s. Valid choices are rsa|ecdsa|ed25519", config.keytype)
}

func generateED25519Key() (Key, ssh.PublicKey, error) {
	p, k, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	pub, err := ssh.NewPublicKey(p)
	if err != nil {
		return nil, nil, err
	}
	return &k, pub, nil
}

func generateRSAKey(bits int) (Key, ssh.PublicKey, error) {
	k, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, nil, err
	}
	pub, err := ssh.NewPublicKey(&k.PublicKey)
	if err != nil {
		return nil, nil, err
	}
	return k, pub, nil
}

func generateECDSAKey(bits int) (Key, ssh.PublicKey, error) {
	var curve elliptic.Curve
	switch bits {
	case 256:
		curve = elliptic.P256()
	case 384:
		curve = elliptic.P384()
	case 521:
		curve = elliptic.P521()
	default:
		return nil, nil, fmt.Errorf("unsupported key size. Valid sizes are '256', '384', '521'")
	}
	k, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	pub, err := ssh.NewPublicKey(&k.PublicKey)
	if err != nil {
		return nil, nil, err
	}
	return k, pub, nil
}

func pemBlockForKey(priv Key) (*pem.Block, error) {
	switch k := priv.(type) {
	case *rsa.PrivateKey:
		return &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(k)}, nil
	case *ecdsa.PrivateKey:
		b, err := x509.MarshalECPrivateKey(k)
		if err != nil {
			return nil, err
		}
		return &pem.Block{Type: "EC PRIVATE KEY", Bytes: b}, nil
	case *ed25519.PrivateKey:
		return &pem.Block{Type: "OPENSSH PRIVATE KEY", Bytes: edkey.MarshalED25519PrivateKey(*k)}, nil
	}
	return nil, fmt.Errorf("unsupported key type %T", priv)
}
