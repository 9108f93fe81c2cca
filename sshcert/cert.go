// Package sshcert implements the OpenSSH certificate wire format: an
// in-memory certificate model, its byte-exact encoding, and the inverse
// parser. The layout follows PROTOCOL.certkeys from the OpenSSH
// distribution, so output is accepted verbatim by stock ssh and sshd.
package sshcert

import (
	"encoding/base64"
	"math"
	"sort"
	"time"

	"golang.org/x/crypto/ssh"
)

// Certificate types.
const (
	UserCert = 1
	HostCert = 2
)

// Critical options understood by OpenSSH.
const (
	OptionForceCommand  = "force-command"
	OptionSourceAddress = "source-address"
)

// Standard certificate extensions.
const (
	ExtNoTouchRequired       = "no-touch-required"
	ExtPermitX11Forwarding   = "permit-X11-forwarding"
	ExtPermitAgentForwarding = "permit-agent-forwarding"
	ExtPermitPortForwarding  = "permit-port-forwarding"
	ExtPermitPTY             = "permit-pty"
	ExtPermitUserRC          = "permit-user-rc"
)

// ValidForever is the ValidBefore value of a certificate with no expiry.
const ValidForever = uint64(math.MaxUint64)

// Field limits enforced at encode time. MaxPrincipals matches the limit
// compiled into OpenSSH; the string caps bound the remaining variable-length
// fields.
const (
	MaxPrincipals   = 256
	MaxPrincipalLen = 1024
	MaxKeyIDLen     = 1024
	MaxOptionLen    = 1024
)

// PermitAll returns the extension set granting every standard permission.
func PermitAll() map[string]string {
	return map[string]string{
		ExtNoTouchRequired:       "",
		ExtPermitX11Forwarding:   "",
		ExtPermitAgentForwarding: "",
		ExtPermitPortForwarding:  "",
		ExtPermitPTY:             "",
		ExtPermitUserRC:          "",
	}
}

// Certificate holds every field of an OpenSSH certificate in wire order. An
// empty ValidPrincipals list means the certificate is valid for any
// principal. A zero value is not encodable: at minimum Key, SignatureKey,
// Nonce, CertType and the validity window must be populated.
type Certificate struct {
	Nonce           []byte
	Key             ssh.PublicKey
	Serial          uint64
	CertType        uint32
	KeyID           string
	ValidPrincipals []string
	ValidAfter      uint64
	ValidBefore     uint64
	CriticalOptions map[string]string
	Extensions      map[string]string
	Reserved        []byte
	SignatureKey    ssh.PublicKey
	Signature       *Signature
}

var certAlgoByKeyAlgo = map[string]string{
	ssh.KeyAlgoRSA:      ssh.CertAlgoRSAv01,
	ssh.KeyAlgoED25519:  ssh.CertAlgoED25519v01,
	ssh.KeyAlgoECDSA256: ssh.CertAlgoECDSA256v01,
	ssh.KeyAlgoECDSA384: ssh.CertAlgoECDSA384v01,
	ssh.KeyAlgoECDSA521: ssh.CertAlgoECDSA521v01,
}

var keyAlgoByCertAlgo = map[string]string{
	ssh.CertAlgoRSAv01:      ssh.KeyAlgoRSA,
	ssh.CertAlgoED25519v01:  ssh.KeyAlgoED25519,
	ssh.CertAlgoECDSA256v01: ssh.KeyAlgoECDSA256,
	ssh.CertAlgoECDSA384v01: ssh.KeyAlgoECDSA384,
	ssh.CertAlgoECDSA521v01: ssh.KeyAlgoECDSA521,
}

// keyFieldCounts is the number of wire strings making up the public parts of
// each supported key algorithm. Certificates embed the key material inline
// without the algorithm name, so the parser needs to know where it ends.
var keyFieldCounts = map[string]int{
	ssh.KeyAlgoRSA:      2, // mpint e, mpint n
	ssh.KeyAlgoED25519:  1, // string key
	ssh.KeyAlgoECDSA256: 2, // string curve, string point
	ssh.KeyAlgoECDSA384: 2,
	ssh.KeyAlgoECDSA521: 2,
}

// SupportedKeyAlgo reports whether certificates can be issued for subject
// keys of the named algorithm.
func SupportedKeyAlgo(algo string) bool {
	_, ok := certAlgoByKeyAlgo[algo]
	return ok
}

// Type returns the certificate algorithm name derived from the subject key,
// e.g. "ecdsa-sha2-nistp256-cert-v01@openssh.com" for a P-256 key.
func (c *Certificate) Type() string {
	return certAlgoByKeyAlgo[c.Key.Type()]
}

// Validate checks the constraints that make a certificate encodable: a
// supported subject key, a known certificate type, a non-empty validity
// window and principal, key id and option strings within the wire limits.
// The unbounded window (ValidAfter 0, ValidBefore ValidForever) is valid.
func (c *Certificate) Validate() error {
	if c.Key == nil {
		return encodingErrf("subject public key not set")
	}
	if !SupportedKeyAlgo(c.Key.Type()) {
		return encodingErrf("cannot issue a certificate for key type %s", c.Key.Type())
	}
	if c.CertType != UserCert && c.CertType != HostCert {
		return encodingErrf("unknown certificate type %d", c.CertType)
	}
	if c.ValidAfter >= c.ValidBefore {
		return encodingErrf("empty validity window: valid after %d, valid before %d", c.ValidAfter, c.ValidBefore)
	}
	if len(c.KeyID) > MaxKeyIDLen {
		return encodingErrf("key id exceeds %d bytes", MaxKeyIDLen)
	}
	if len(c.ValidPrincipals) > MaxPrincipals {
		return encodingErrf("%d principals exceeds the maximum of %d", len(c.ValidPrincipals), MaxPrincipals)
	}
	for _, p := range c.ValidPrincipals {
		if p == "" {
			return encodingErrf("empty principal name")
		}
		if len(p) > MaxPrincipalLen {
			return encodingErrf("principal exceeds %d bytes", MaxPrincipalLen)
		}
	}
	if err := validateTuples("critical option", c.CriticalOptions); err != nil {
		return err
	}
	return validateTuples("extension", c.Extensions)
}

func validateTuples(kind string, tups map[string]string) error {
	for name, value := range tups {
		if name == "" {
			return encodingErrf("empty %s name", kind)
		}
		if len(name) > MaxOptionLen {
			return encodingErrf("%s name exceeds %d bytes", kind, MaxOptionLen)
		}
		if len(value) > MaxOptionLen {
			return encodingErrf("%s %q value exceeds %d bytes", kind, name, MaxOptionLen)
		}
	}
	return nil
}

// BytesForSigning serializes every field up to and including the signature
// key. These exact bytes are what the CA digests and signs; Marshal appends
// the signature field to them unchanged.
func (c *Certificate) BytesForSigning() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if len(c.Nonce) == 0 {
		return nil, encodingErrf("nonce not set")
	}
	if c.SignatureKey == nil {
		return nil, encodingErrf("signature key not set")
	}
	keyFields, err := publicKeyFields(c.Key)
	if err != nil {
		return nil, err
	}

	b := appendString(nil, []byte(c.Type()))
	b = appendString(b, c.Nonce)
	b = append(b, keyFields...)
	b = appendUint64(b, c.Serial)
	b = appendUint32(b, c.CertType)
	b = appendString(b, []byte(c.KeyID))
	b = appendString(b, marshalNames(c.ValidPrincipals))
	b = appendUint64(b, c.ValidAfter)
	b = appendUint64(b, c.ValidBefore)
	b = appendString(b, marshalTuples(c.CriticalOptions))
	b = appendString(b, marshalTuples(c.Extensions))
	b = appendString(b, c.Reserved)
	b = appendString(b, c.SignatureKey.Marshal())
	return b, nil
}

// Marshal returns the complete certificate blob: the signed prefix followed
// by the length-prefixed signature.
func (c *Certificate) Marshal() ([]byte, error) {
	b, err := c.BytesForSigning()
	if err != nil {
		return nil, err
	}
	if c.Signature == nil {
		return nil, encodingErrf("signature not set")
	}
	return appendString(b, c.Signature.Marshal()), nil
}

// AuthorizedKey renders the certificate as a single authorized_keys line. An
// empty comment defaults to the current time in RFC 3339 form.
func (c *Certificate) AuthorizedKey(comment string) (string, error) {
	blob, err := c.Marshal()
	if err != nil {
		return "", err
	}
	if comment == "" {
		comment = time.Now().UTC().Format(time.RFC3339)
	}
	return c.Type() + " " + base64.StdEncoding.EncodeToString(blob) + " " + comment, nil
}

// Parse decodes a certificate blob produced by Marshal or by OpenSSH. The
// whole input must be consumed; trailing bytes are an error.
func Parse(data []byte) (*Certificate, error) {
	algo, rest, err := readString(data)
	if err != nil {
		return nil, decodingErrf("truncated certificate algorithm")
	}
	keyAlgo, ok := keyAlgoByCertAlgo[string(algo)]
	if !ok {
		return nil, decodingErrf("unknown certificate algorithm %q", algo)
	}

	c := &Certificate{}
	if c.Nonce, rest, err = readString(rest); err != nil {
		return nil, decodingErrf("truncated nonce")
	}
	if c.Key, rest, err = parseInlineKey(keyAlgo, rest); err != nil {
		return nil, err
	}
	if c.Serial, rest, err = readUint64(rest); err != nil {
		return nil, decodingErrf("truncated serial")
	}
	if c.CertType, rest, err = readUint32(rest); err != nil {
		return nil, decodingErrf("truncated certificate type")
	}
	if c.CertType != UserCert && c.CertType != HostCert {
		return nil, decodingErrf("unknown certificate type %d", c.CertType)
	}
	var field []byte
	if field, rest, err = readString(rest); err != nil {
		return nil, decodingErrf("truncated key id")
	}
	c.KeyID = string(field)
	if field, rest, err = readString(rest); err != nil {
		return nil, decodingErrf("truncated principal list")
	}
	if c.ValidPrincipals, err = parseNames(field); err != nil {
		return nil, err
	}
	if c.ValidAfter, rest, err = readUint64(rest); err != nil {
		return nil, decodingErrf("truncated valid-after time")
	}
	if c.ValidBefore, rest, err = readUint64(rest); err != nil {
		return nil, decodingErrf("truncated valid-before time")
	}
	if field, rest, err = readString(rest); err != nil {
		return nil, decodingErrf("truncated critical options")
	}
	if c.CriticalOptions, err = parseTuples(field); err != nil {
		return nil, err
	}
	if field, rest, err = readString(rest); err != nil {
		return nil, decodingErrf("truncated extensions")
	}
	if c.Extensions, err = parseTuples(field); err != nil {
		return nil, err
	}
	if field, rest, err = readString(rest); err != nil {
		return nil, decodingErrf("truncated reserved field")
	}
	if len(field) > 0 {
		c.Reserved = field
	}
	if field, rest, err = readString(rest); err != nil {
		return nil, decodingErrf("truncated signature key")
	}
	if c.SignatureKey, err = ssh.ParsePublicKey(field); err != nil {
		return nil, decodingErrf("signature key: %v", err)
	}
	if field, rest, err = readString(rest); err != nil {
		return nil, decodingErrf("truncated signature")
	}
	if c.Signature, err = parseSignature(field); err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, decodingErrf("%d trailing bytes after signature", len(rest))
	}
	return c, nil
}

// publicKeyFields returns the wire encoding of a public key with the leading
// algorithm name stripped.
func publicKeyFields(key ssh.PublicKey) ([]byte, error) {
	_, rest, err := readString(key.Marshal())
	if err != nil {
		return nil, encodingErrf("malformed public key blob for %s", key.Type())
	}
	return rest, nil
}

// parseInlineKey rebuilds the subject public key from the inline key fields
// by prepending the algorithm name and handing the blob to the ssh package.
func parseInlineKey(keyAlgo string, in []byte) (ssh.PublicKey, []byte, error) {
	rest := in
	var err error
	for i := 0; i < keyFieldCounts[keyAlgo]; i++ {
		if _, rest, err = readString(rest); err != nil {
			return nil, nil, decodingErrf("truncated %s key material", keyAlgo)
		}
	}
	blob := appendString(nil, []byte(keyAlgo))
	blob = append(blob, in[:len(in)-len(rest)]...)
	key, err := ssh.ParsePublicKey(blob)
	if err != nil {
		return nil, nil, decodingErrf("%s key material: %v", keyAlgo, err)
	}
	return key, rest, nil
}

func marshalNames(names []string) []byte {
	var b []byte
	for _, n := range names {
		b = appendString(b, []byte(n))
	}
	return b
}

func parseNames(in []byte) ([]string, error) {
	var names []string
	for len(in) > 0 {
		n, rest, err := readString(in)
		if err != nil {
			return nil, decodingErrf("truncated principal name")
		}
		names = append(names, string(n))
		in = rest
	}
	return names, nil
}

// marshalTuples encodes critical options or extensions sorted by name. A
// tuple's data field is empty for an empty value and a single nested string
// otherwise; OpenSSH rejects certificates that get the nesting wrong.
func marshalTuples(tups map[string]string) []byte {
	names := make([]string, 0, len(tups))
	for name := range tups {
		names = append(names, name)
	}
	sort.Strings(names)

	var b []byte
	for _, name := range names {
		b = appendString(b, []byte(name))
		if value := tups[name]; value != "" {
			b = appendString(b, appendString(nil, []byte(value)))
		} else {
			b = appendString(b, nil)
		}
	}
	return b
}

func parseTuples(in []byte) (map[string]string, error) {
	if len(in) == 0 {
		return nil, nil
	}
	tups := make(map[string]string)
	for len(in) > 0 {
		name, rest, err := readString(in)
		if err != nil {
			return nil, decodingErrf("truncated option name")
		}
		data, rest, err := readString(rest)
		if err != nil {
			return nil, decodingErrf("truncated data for option %q", name)
		}
		var value []byte
		if len(data) > 0 {
			var inner []byte
			inner, data, err = readString(data)
			if err != nil || len(data) != 0 {
				return nil, decodingErrf("option %q: data is not a single nested string", name)
			}
			value = inner
		}
		tups[string(name)] = string(value)
		in = rest
	}
	return tups, nil
}
