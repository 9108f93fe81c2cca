package sshcert

import "fmt"

// EncodingError reports a certificate whose fields cannot be serialized.
type EncodingError struct {
	Reason string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("certificate encoding: %s", e.Reason)
}

func encodingErrf(format string, args ...interface{}) error {
	return &EncodingError{Reason: fmt.Sprintf(format, args...)}
}

// DecodingError reports a byte stream that is not a well-formed certificate.
type DecodingError struct {
	Reason string
}

func (e *DecodingError) Error() string {
	return fmt.Sprintf("certificate decoding: %s", e.Reason)
}

func decodingErrf(format string, args ...interface{}) error {
	return &DecodingError{Reason: fmt.Sprintf(format, args...)}
}

// MalformedSignatureError reports signature bytes from a signing backend that
// do not decode as an ECDSA signature.
type MalformedSignatureError struct {
	Reason string
}

func (e *MalformedSignatureError) Error() string {
	return fmt.Sprintf("malformed signature: %s", e.Reason)
}
