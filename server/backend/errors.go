package backend

import "fmt"

// UnsupportedKeyError reports a CA key whose algorithm cannot sign SSH
// certificates, e.g. an RSA or symmetric KMS key.
type UnsupportedKeyError struct {
	Algorithm string
}

func (e *UnsupportedKeyError) Error() string {
	return fmt.Sprintf("unsupported CA key algorithm %q", e.Algorithm)
}

// KeyNotFoundError reports a signing key that the provider says does not
// exist or is disabled.
type KeyNotFoundError struct {
	Provider string
	KeyID    string
	Err      error
}

func (e *KeyNotFoundError) Error() string {
	return fmt.Sprintf("%s: signing key %q not found or disabled: %v", e.Provider, e.KeyID, e.Err)
}

func (e *KeyNotFoundError) Unwrap() error {
	return e.Err
}

// UnavailableError reports a provider that could not be reached or returned
// a transport-level failure.
type UnavailableError struct {
	Provider string
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: signing backend unavailable: %v", e.Provider, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}
