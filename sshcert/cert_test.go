package sshcert

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func testECDSAKey(t *testing.T, curve elliptic.Curve) (*ecdsa.PrivateKey, ssh.PublicKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(curve, rand.Reader)
	require.NoError(t, err)
	pub, err := ssh.NewPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return key, pub
}

// signTestCert signs the certificate with the given ECDSA CA key the same
// way the signing service does: digest the signing bytes, produce a DER
// signature, convert it to the wire form.
func signTestCert(t *testing.T, cert *Certificate, caKey *ecdsa.PrivateKey, caPub ssh.PublicKey) {
	t.Helper()
	cert.SignatureKey = caPub
	tbs, err := cert.BytesForSigning()
	require.NoError(t, err)
	digest := sha256.Sum256(tbs)
	der, err := ecdsa.SignASN1(rand.Reader, caKey, digest[:])
	require.NoError(t, err)
	r, s, err := ParseDERSignature(der)
	require.NoError(t, err)
	cert.Signature = NewSignature(caPub.Type(), r, s)
}

func TestMarshalMatchesReferenceImplementation(t *testing.T) {
	_, subject := testECDSAKey(t, elliptic.P256())
	_, caPub := testECDSAKey(t, elliptic.P256())

	nonce := bytes.Repeat([]byte{0x42}, 32)
	sig := NewSignature(caPub.Type(), big.NewInt(0x01020304), big.NewInt(0x8090a0b0))

	cert := &Certificate{
		Nonce:           nonce,
		Key:             subject,
		Serial:          12345,
		CertType:        UserCert,
		KeyID:           "alice_1700000000",
		ValidPrincipals: []string{"alice", "admin"},
		ValidAfter:      1700000000,
		ValidBefore:     1700003600,
		CriticalOptions: map[string]string{
			OptionForceCommand:  "/usr/bin/true",
			OptionSourceAddress: "10.0.0.0/8",
		},
		Extensions:   PermitAll(),
		SignatureKey: caPub,
		Signature:    sig,
	}

	ref := &ssh.Certificate{
		Nonce:           nonce,
		Key:             subject,
		Serial:          12345,
		CertType:        ssh.UserCert,
		KeyId:           "alice_1700000000",
		ValidPrincipals: []string{"alice", "admin"},
		ValidAfter:      1700000000,
		ValidBefore:     1700003600,
		Permissions: ssh.Permissions{
			CriticalOptions: map[string]string{
				OptionForceCommand:  "/usr/bin/true",
				OptionSourceAddress: "10.0.0.0/8",
			},
			Extensions: PermitAll(),
		},
		SignatureKey: caPub,
		Signature:    &ssh.Signature{Format: sig.Format, Blob: sig.Blob},
	}

	got, err := cert.Marshal()
	require.NoError(t, err)
	assert.Equal(t, ref.Marshal(), got)
}

func TestSignedCertificateVerifies(t *testing.T) {
	caKey, caPub := testECDSAKey(t, elliptic.P256())
	_, subject := testECDSAKey(t, elliptic.P256())

	cert := &Certificate{
		Nonce:           bytes.Repeat([]byte{0x01}, 32),
		Key:             subject,
		Serial:          1,
		CertType:        UserCert,
		KeyID:           "alice",
		ValidPrincipals: []string{"alice"},
		ValidAfter:      uint64(time.Now().Add(-time.Minute).Unix()),
		ValidBefore:     uint64(time.Now().Add(time.Hour).Unix()),
		Extensions:      PermitAll(),
	}
	signTestCert(t, cert, caKey, caPub)

	blob, err := cert.Marshal()
	require.NoError(t, err)

	pub, err := ssh.ParsePublicKey(blob)
	require.NoError(t, err)
	parsed, ok := pub.(*ssh.Certificate)
	require.True(t, ok, "marshaled bytes should parse as a certificate")

	assert.Equal(t, caPub.Marshal(), parsed.SignatureKey.Marshal())
	checker := ssh.CertChecker{}
	if err := checker.CheckCert("alice", parsed); err != nil {
		t.Errorf("certificate failed verification: %v", err)
	}
	if err := checker.CheckCert("mallory", parsed); err == nil {
		t.Error("certificate verified for a principal it was not issued to")
	}
}

func TestMarshalIsSigningBytesPlusSignature(t *testing.T) {
	caKey, caPub := testECDSAKey(t, elliptic.P384())
	_, subject := testECDSAKey(t, elliptic.P384())

	cert := &Certificate{
		Nonce:       bytes.Repeat([]byte{0x02}, 32),
		Key:         subject,
		CertType:    HostCert,
		KeyID:       "host.example.com",
		ValidAfter:  1700000000,
		ValidBefore: 1700003600,
	}
	signTestCert(t, cert, caKey, caPub)

	tbs, err := cert.BytesForSigning()
	require.NoError(t, err)
	blob, err := cert.Marshal()
	require.NoError(t, err)

	want := appendString(tbs, cert.Signature.Marshal())
	assert.Equal(t, want, blob)
}

func TestRoundTripSubjectKeyTypes(t *testing.T) {
	caKey, caPub := testECDSAKey(t, elliptic.P256())

	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	rsaPub, err := ssh.NewPublicKey(&rsaKey.PublicKey)
	require.NoError(t, err)

	edPub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	edSSH, err := ssh.NewPublicKey(edPub)
	require.NoError(t, err)

	_, p256 := testECDSAKey(t, elliptic.P256())
	_, p384 := testECDSAKey(t, elliptic.P384())
	_, p521 := testECDSAKey(t, elliptic.P521())

	for _, subject := range []ssh.PublicKey{rsaPub, edSSH, p256, p384, p521} {
		cert := &Certificate{
			Nonce:           bytes.Repeat([]byte{0x03}, 32),
			Key:             subject,
			Serial:          99,
			CertType:        UserCert,
			KeyID:           "round-trip",
			ValidPrincipals: []string{"alice"},
			ValidAfter:      1700000000,
			ValidBefore:     ValidForever,
			CriticalOptions: map[string]string{OptionSourceAddress: "192.0.2.0/24"},
			Extensions:      map[string]string{ExtPermitPTY: ""},
		}
		signTestCert(t, cert, caKey, caPub)

		blob, err := cert.Marshal()
		require.NoError(t, err, subject.Type())

		got, err := Parse(blob)
		require.NoError(t, err, subject.Type())
		assert.Equal(t, cert.Nonce, got.Nonce, subject.Type())
		assert.Equal(t, subject.Marshal(), got.Key.Marshal(), subject.Type())
		assert.Equal(t, cert.Serial, got.Serial)
		assert.Equal(t, cert.CertType, got.CertType)
		assert.Equal(t, cert.KeyID, got.KeyID)
		assert.Equal(t, cert.ValidPrincipals, got.ValidPrincipals)
		assert.Equal(t, cert.ValidAfter, got.ValidAfter)
		assert.Equal(t, cert.ValidBefore, got.ValidBefore)
		assert.Equal(t, cert.CriticalOptions, got.CriticalOptions)
		assert.Equal(t, cert.Extensions, got.Extensions)
		assert.Equal(t, caPub.Marshal(), got.SignatureKey.Marshal())
		assert.Equal(t, cert.Signature, got.Signature)

		reblob, err := got.Marshal()
		require.NoError(t, err)
		assert.Equal(t, blob, reblob, "re-encoding should be byte identical")
	}
}

func TestEmptyPrincipalsValidForAnyPrincipal(t *testing.T) {
	caKey, caPub := testECDSAKey(t, elliptic.P256())
	_, subject := testECDSAKey(t, elliptic.P256())

	cert := &Certificate{
		Nonce:       bytes.Repeat([]byte{0x04}, 32),
		Key:         subject,
		CertType:    UserCert,
		KeyID:       "wildcard",
		ValidAfter:  uint64(time.Now().Add(-time.Minute).Unix()),
		ValidBefore: uint64(time.Now().Add(time.Hour).Unix()),
	}
	signTestCert(t, cert, caKey, caPub)

	blob, err := cert.Marshal()
	require.NoError(t, err)
	pub, err := ssh.ParsePublicKey(blob)
	require.NoError(t, err)
	parsed := pub.(*ssh.Certificate)

	checker := ssh.CertChecker{}
	for _, principal := range []string{"alice", "root", "nobody"} {
		if err := checker.CheckCert(principal, parsed); err != nil {
			t.Errorf("principal %s rejected by empty-principal certificate: %v", principal, err)
		}
	}
}

// A signature whose r component has its top bit set must gain exactly one
// leading zero byte in the wire encoding, and the certificate must still
// verify. ECDSA produces such an r for roughly half of all signatures, so a
// few attempts are enough to hit one.
func TestHighBitSignatureComponent(t *testing.T) {
	caKey, caPub := testECDSAKey(t, elliptic.P256())
	_, subject := testECDSAKey(t, elliptic.P256())

	for attempt := 0; attempt < 100; attempt++ {
		cert := &Certificate{
			Nonce:           bytes.Repeat([]byte{0x0a}, 32),
			Key:             subject,
			CertType:        UserCert,
			KeyID:           "high-bit",
			ValidPrincipals: []string{"alice"},
			ValidAfter:      uint64(time.Now().Add(-time.Minute).Unix()),
			ValidBefore:     uint64(time.Now().Add(time.Hour).Unix()),
		}
		signTestCert(t, cert, caKey, caPub)

		rBytes, _, err := readString(cert.Signature.Blob)
		require.NoError(t, err)
		require.NotEmpty(t, rBytes)
		if rBytes[0] != 0 {
			continue
		}
		require.True(t, len(rBytes) > 1 && rBytes[1]&0x80 != 0,
			"a leading zero byte is only legal when the next byte has its top bit set")

		blob, err := cert.Marshal()
		require.NoError(t, err)
		pub, err := ssh.ParsePublicKey(blob)
		require.NoError(t, err)
		checker := ssh.CertChecker{}
		assert.NoError(t, checker.CheckCert("alice", pub.(*ssh.Certificate)))
		return
	}
	t.Fatal("no signature with a high-bit r component in 100 attempts")
}

// Flipping any byte of the signed portion must break verification: the
// signature covers every byte before the signature field exactly once.
func TestCorruptedBytesRejected(t *testing.T) {
	caKey, caPub := testECDSAKey(t, elliptic.P256())
	_, subject := testECDSAKey(t, elliptic.P256())

	cert := &Certificate{
		Nonce:           bytes.Repeat([]byte{0x0b}, 32),
		Key:             subject,
		CertType:        UserCert,
		KeyID:           "tamper",
		ValidPrincipals: []string{"alice"},
		ValidAfter:      uint64(time.Now().Add(-time.Minute).Unix()),
		ValidBefore:     uint64(time.Now().Add(time.Hour).Unix()),
	}
	signTestCert(t, cert, caKey, caPub)

	blob, err := cert.Marshal()
	require.NoError(t, err)
	tbs, err := cert.BytesForSigning()
	require.NoError(t, err)

	checker := ssh.CertChecker{}
	for i := 0; i < len(tbs); i++ {
		mutated := append([]byte(nil), blob...)
		mutated[i] ^= 0x01
		pub, err := ssh.ParsePublicKey(mutated)
		if err != nil {
			continue // corrupted framing, rejected even earlier
		}
		parsed, ok := pub.(*ssh.Certificate)
		if !ok {
			continue
		}
		if err := checker.CheckCert("alice", parsed); err == nil {
			t.Fatalf("certificate with byte %d corrupted passed verification", i)
		}
	}
}

func TestValidate(t *testing.T) {
	_, subject := testECDSAKey(t, elliptic.P256())

	valid := func() *Certificate {
		return &Certificate{
			Key:             subject,
			CertType:        UserCert,
			KeyID:           "k",
			ValidPrincipals: []string{"alice"},
			ValidAfter:      100,
			ValidBefore:     200,
		}
	}

	tests := []struct {
		name   string
		mutate func(*Certificate)
	}{
		{"no subject key", func(c *Certificate) { c.Key = nil }},
		{"unsupported key type", func(c *Certificate) { c.Key = fakeKey{} }},
		{"zero cert type", func(c *Certificate) { c.CertType = 0 }},
		{"unknown cert type", func(c *Certificate) { c.CertType = 3 }},
		{"window start after end", func(c *Certificate) { c.ValidAfter, c.ValidBefore = 200, 100 }},
		{"window start equals end", func(c *Certificate) { c.ValidAfter, c.ValidBefore = 100, 100 }},
		{"empty principal", func(c *Certificate) { c.ValidPrincipals = []string{""} }},
		{"oversized principal", func(c *Certificate) {
			c.ValidPrincipals = []string{strings.Repeat("a", MaxPrincipalLen+1)}
		}},
		{"too many principals", func(c *Certificate) {
			c.ValidPrincipals = make([]string, MaxPrincipals+1)
			for i := range c.ValidPrincipals {
				c.ValidPrincipals[i] = "p"
			}
		}},
		{"oversized key id", func(c *Certificate) { c.KeyID = strings.Repeat("k", MaxKeyIDLen+1) }},
		{"empty option name", func(c *Certificate) { c.CriticalOptions = map[string]string{"": "x"} }},
		{"oversized option value", func(c *Certificate) {
			c.CriticalOptions = map[string]string{OptionForceCommand: strings.Repeat("x", MaxOptionLen+1)}
		}},
		{"oversized extension name", func(c *Certificate) {
			c.Extensions = map[string]string{strings.Repeat("e", MaxOptionLen+1): ""}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			var encErr *EncodingError
			assert.ErrorAs(t, err, &encErr)
		})
	}

	assert.NoError(t, valid().Validate())

	unbounded := valid()
	unbounded.ValidAfter = 0
	unbounded.ValidBefore = ValidForever
	assert.NoError(t, unbounded.Validate(), "unbounded window should be accepted")
}

func TestBytesForSigningRequiresNonceAndCA(t *testing.T) {
	_, subject := testECDSAKey(t, elliptic.P256())
	_, caPub := testECDSAKey(t, elliptic.P256())

	cert := &Certificate{
		Key:         subject,
		CertType:    UserCert,
		ValidAfter:  100,
		ValidBefore: 200,
	}
	_, err := cert.BytesForSigning()
	var encErr *EncodingError
	require.ErrorAs(t, err, &encErr)

	cert.Nonce = bytes.Repeat([]byte{0x05}, 32)
	_, err = cert.BytesForSigning()
	require.ErrorAs(t, err, &encErr, "missing signature key")

	cert.SignatureKey = caPub
	_, err = cert.BytesForSigning()
	assert.NoError(t, err)

	_, err = cert.Marshal()
	require.ErrorAs(t, err, &encErr, "missing signature")
}

func TestParseRejectsTruncation(t *testing.T) {
	caKey, caPub := testECDSAKey(t, elliptic.P256())
	_, subject := testECDSAKey(t, elliptic.P256())

	cert := &Certificate{
		Nonce:           bytes.Repeat([]byte{0x06}, 32),
		Key:             subject,
		CertType:        UserCert,
		KeyID:           "truncation",
		ValidPrincipals: []string{"alice"},
		ValidAfter:      100,
		ValidBefore:     200,
		Extensions:      PermitAll(),
	}
	signTestCert(t, cert, caKey, caPub)
	blob, err := cert.Marshal()
	require.NoError(t, err)

	for i := 0; i < len(blob); i++ {
		_, err := Parse(blob[:i])
		if err == nil {
			t.Fatalf("truncation at %d bytes parsed successfully", i)
		}
		var decErr *DecodingError
		if !assert.ErrorAs(t, err, &decErr, "truncation at %d", i) {
			break
		}
	}
}

func TestParseRejectsTrailingBytes(t *testing.T) {
	caKey, caPub := testECDSAKey(t, elliptic.P256())
	_, subject := testECDSAKey(t, elliptic.P256())

	cert := &Certificate{
		Nonce:       bytes.Repeat([]byte{0x07}, 32),
		Key:         subject,
		CertType:    UserCert,
		ValidAfter:  100,
		ValidBefore: 200,
	}
	signTestCert(t, cert, caKey, caPub)
	blob, err := cert.Marshal()
	require.NoError(t, err)

	_, err = Parse(append(blob, 0x00))
	var decErr *DecodingError
	assert.ErrorAs(t, err, &decErr)
}

func TestParseRejectsUnknownAlgorithm(t *testing.T) {
	blob := appendString(nil, []byte("ssh-dss-cert-v01@openssh.com"))
	_, err := Parse(blob)
	var decErr *DecodingError
	require.ErrorAs(t, err, &decErr)
	assert.Contains(t, err.Error(), "unknown certificate algorithm")
}

func TestParseRejectsBadCertType(t *testing.T) {
	caKey, caPub := testECDSAKey(t, elliptic.P256())
	_, subject := testECDSAKey(t, elliptic.P256())

	cert := &Certificate{
		Nonce:       bytes.Repeat([]byte{0x08}, 32),
		Key:         subject,
		CertType:    UserCert,
		ValidAfter:  100,
		ValidBefore: 200,
	}
	signTestCert(t, cert, caKey, caPub)
	blob, err := cert.Marshal()
	require.NoError(t, err)

	// The type tag sits right after the nonce and inline key fields; find it
	// by re-encoding with the other tag and diffing is overkill, so flip it
	// through the model instead.
	cert.CertType = 7
	_, err = cert.Marshal()
	var encErr *EncodingError
	require.ErrorAs(t, err, &encErr)

	// And mutated wire bytes: locate the serial+type region by parsing the
	// prefix manually.
	prefix := len(appendString(nil, []byte(cert.Type()))) // algorithm name
	_, rest, err := readString(blob[prefix:])             // nonce
	require.NoError(t, err)
	off := len(blob) - len(rest)
	_, rest, err = readString(blob[off:]) // curve name
	require.NoError(t, err)
	off = len(blob) - len(rest)
	_, rest, err = readString(blob[off:]) // point
	require.NoError(t, err)
	off = len(blob) - len(rest) + 8 // skip serial
	mutated := append([]byte(nil), blob...)
	mutated[off+3] = 9
	_, err = Parse(mutated)
	var decErr *DecodingError
	assert.ErrorAs(t, err, &decErr)
}

func TestAuthorizedKey(t *testing.T) {
	caKey, caPub := testECDSAKey(t, elliptic.P256())
	_, subject := testECDSAKey(t, elliptic.P256())

	cert := &Certificate{
		Nonce:       bytes.Repeat([]byte{0x09}, 32),
		Key:         subject,
		CertType:    UserCert,
		KeyID:       "alice",
		ValidAfter:  100,
		ValidBefore: 200,
	}
	signTestCert(t, cert, caKey, caPub)

	line, err := cert.AuthorizedKey("alice@example.com")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, ssh.CertAlgoECDSA256v01+" "), line)
	assert.True(t, strings.HasSuffix(line, " alice@example.com"), line)

	pub, comment, _, _, err := ssh.ParseAuthorizedKey([]byte(line))
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", comment)
	_, ok := pub.(*ssh.Certificate)
	assert.True(t, ok)

	// Default comment is a timestamp.
	line, err = cert.AuthorizedKey("")
	require.NoError(t, err)
	fields := strings.Fields(line)
	require.Len(t, fields, 3)
	_, err = time.Parse(time.RFC3339, fields[2])
	assert.NoError(t, err)
}

func TestTupleWireFormat(t *testing.T) {
	// Empty value: the data field is a zero-length string, four zero bytes.
	b := marshalTuples(map[string]string{"permit-pty": ""})
	want := appendString(nil, []byte("permit-pty"))
	want = appendString(want, nil)
	assert.Equal(t, want, b)

	// Non-empty value: the data field wraps the value in a nested string.
	b = marshalTuples(map[string]string{"force-command": "id"})
	want = appendString(nil, []byte("force-command"))
	want = appendString(want, appendString(nil, []byte("id")))
	assert.Equal(t, want, b)

	// Names are emitted in lexical order regardless of map iteration.
	b = marshalTuples(map[string]string{"b": "", "a": "", "c": ""})
	names, err := parseNamesAndData(t, b)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, names)

	// Parsing accepts tuples in any order.
	unsorted := appendString(nil, []byte("zz"))
	unsorted = appendString(unsorted, nil)
	unsorted = appendString(unsorted, []byte("aa"))
	unsorted = appendString(unsorted, appendString(nil, []byte("v")))
	tups, err := parseTuples(unsorted)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"zz": "", "aa": "v"}, tups)

	// Data that is not a single nested string is rejected.
	bad := appendString(nil, []byte("opt"))
	bad = appendString(bad, []byte{0xff})
	_, err = parseTuples(bad)
	assert.Error(t, err)

	double := appendString(nil, []byte("opt"))
	inner := appendString(nil, []byte("one"))
	inner = appendString(inner, []byte("two"))
	double = appendString(double, inner)
	_, err = parseTuples(double)
	assert.Error(t, err)
}

func parseNamesAndData(t *testing.T, in []byte) ([]string, error) {
	t.Helper()
	var names []string
	for len(in) > 0 {
		name, rest, err := readString(in)
		if err != nil {
			return nil, err
		}
		_, rest, err = readString(rest)
		if err != nil {
			return nil, err
		}
		names = append(names, string(name))
		in = rest
	}
	return names, nil
}

// fakeKey satisfies ssh.PublicKey with an algorithm no certificate can be
// issued for.
type fakeKey struct{}

func (fakeKey) Type() string                        { return "ssh-dss" }
func (fakeKey) Marshal() []byte                     { return appendString(nil, []byte("ssh-dss")) }
func (fakeKey) Verify([]byte, *ssh.Signature) error { return nil }
