package signer

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"time"

	// Hash registrations for every digest a backend can name.
	_ "crypto/sha256"
	_ "crypto/sha512"

	"golang.org/x/crypto/ssh"

	"github.com/jasonrig/cloudca/lib"
	"github.com/jasonrig/cloudca/server/backend"
	"github.com/jasonrig/cloudca/server/config"
	"github.com/jasonrig/cloudca/sshcert"
)

// KeySigner does the work of signing an ssh public key with the CA key. The
// private key never leaves the cloud provider: KeySigner serializes the
// certificate, digests it and sends only the digest out for signing.
type KeySigner struct {
	ca          backend.SigningBackend
	validity    time.Duration
	principals  []string
	permissions map[string]string
}

// New creates a new KeySigner from the supplied configuration and signing
// backend.
func New(conf *config.CA, ca backend.SigningBackend) (*KeySigner, error) {
	validity, err := time.ParseDuration(conf.MaxAge)
	if err != nil {
		return nil, fmt.Errorf("error parsing duration '%s': %v", conf.MaxAge, err)
	}
	if _, err := backend.HashForKey(ca.PublicKey()); err != nil {
		return nil, err
	}
	return &KeySigner{
		ca:          ca,
		validity:    validity,
		principals:  conf.AdditionalPrincipals,
		permissions: makeperms(conf.Permissions),
	}, nil
}

// SignRequest returns a signed certificate for the public key in the
// request. Requested lifetimes are clamped to the configured maximum, and a
// zero ValidAfter starts the validity window five minutes in the past to
// absorb clock skew.
func (s *KeySigner) SignRequest(ctx context.Context, req *lib.SignRequest) (*sshcert.Certificate, error) {
	pubkey, _, _, _, err := ssh.ParseAuthorizedKey([]byte(req.Key))
	if err != nil {
		return nil, &lib.ValidationError{Reason: fmt.Sprintf("unparseable public key: %v", err)}
	}
	if !sshcert.SupportedKeyAlgo(pubkey.Type()) {
		return nil, &lib.UnsupportedKeyError{Algorithm: pubkey.Type()}
	}
	certType, err := parseCertType(req.CertType)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	validAfter := now.Add(-5 * time.Minute)
	if !req.ValidAfter.IsZero() {
		validAfter = req.ValidAfter.UTC()
	}
	expires := now.Add(s.validity)
	validUntil := req.ValidUntil.UTC()
	if validUntil.IsZero() || validUntil.After(expires) {
		validUntil = expires
	}
	if !validUntil.After(validAfter) {
		return nil, &lib.ValidationError{Reason: fmt.Sprintf("certificate would expire at %s before becoming valid at %s", validUntil, validAfter)}
	}

	principals := append([]string{}, req.Principals...)
	if certType == sshcert.UserCert {
		principals = append(principals, s.principals...)
	}
	extensions := req.Extensions
	if len(extensions) == 0 && certType == sshcert.UserCert {
		extensions = s.permissions
	}

	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}

	cert := &sshcert.Certificate{
		Nonce:           nonce,
		Key:             pubkey,
		Serial:          serial,
		CertType:        certType,
		KeyID:           keyID(req, principals, now),
		ValidPrincipals: principals,
		ValidAfter:      uint64(validAfter.Unix()),
		ValidBefore:     uint64(validUntil.Unix()),
		CriticalOptions: req.CriticalOptions,
		Extensions:      extensions,
		SignatureKey:    s.ca.PublicKey(),
	}

	tbs, err := cert.BytesForSigning()
	if err != nil {
		// The certificate is built from the request, so anything the
		// encoder rejects at this point is a request problem.
		var encErr *sshcert.EncodingError
		if errors.As(err, &encErr) {
			return nil, &lib.ValidationError{Reason: encErr.Reason}
		}
		return nil, err
	}
	h := s.ca.DigestAlgorithm().New()
	h.Write(tbs)
	der, err := s.ca.SignDigest(ctx, h.Sum(nil))
	if err != nil {
		return nil, err
	}
	r, sv, err := sshcert.ParseDERSignature(der)
	if err != nil {
		return nil, err
	}
	cert.Signature = sshcert.NewSignature(s.ca.PublicKey().Type(), r, sv)

	log.Printf("Issued cert %s principals: %s fp: %s valid until: %s\n",
		cert.KeyID, cert.ValidPrincipals, ssh.FingerprintSHA256(pubkey), validUntil)
	return cert, nil
}

// PublicKey returns the CA public key.
func (s *KeySigner) PublicKey() ssh.PublicKey {
	return s.ca.PublicKey()
}

// Ready reports whether the signer is able to issue certificates. The check
// is local only; nothing is sent to the backend.
func (s *KeySigner) Ready(ctx context.Context) error {
	if s.ca == nil || s.ca.PublicKey() == nil {
		return errors.New("no signing backend")
	}
	return nil
}

func parseCertType(t string) (uint32, error) {
	switch t {
	case "", lib.CertTypeUser:
		return sshcert.UserCert, nil
	case lib.CertTypeHost:
		return sshcert.HostCert, nil
	}
	return 0, &lib.ValidationError{Reason: fmt.Sprintf("unknown certificate type %q", t)}
}

func keyID(req *lib.SignRequest, principals []string, now time.Time) string {
	if req.KeyID != "" {
		return req.KeyID
	}
	name := "unrestricted"
	if len(principals) > 0 {
		name = principals[0]
	}
	return fmt.Sprintf("%s_%d", name, now.Unix())
}

func makeperms(perms []string) map[string]string {
	if len(perms) > 0 {
		m := make(map[string]string)
		for _, p := range perms {
			m[p] = ""
		}
		return m
	}
	return map[string]string{
		"permit-X11-forwarding":   "",
		"permit-agent-forwarding": "",
		"permit-port-forwarding":  "",
		"permit-pty":              "",
		"permit-user-rc":          "",
	}
}

func randomSerial() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}
