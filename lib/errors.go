package lib

import "fmt"

// ValidationError rejects a signing request before any signing work
// happens.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid sign request: " + e.Reason
}

// UnsupportedKeyError rejects a public key whose algorithm has no
// certificate format.
type UnsupportedKeyError struct {
	Algorithm string
}

func (e *UnsupportedKeyError) Error() string {
	return fmt.Sprintf("no certificate format for keys of type %s", e.Algorithm)
}
