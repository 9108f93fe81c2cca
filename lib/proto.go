// Package lib holds the types exchanged between the signing service and its
// clients.
package lib

import "time"

// Certificate types accepted in SignRequest.CertType. An empty CertType is
// treated as a user certificate.
const (
	CertTypeUser = "user"
	CertTypeHost = "host"
)

// SignRequest represents a signing request sent to the server. Zero-valued
// ValidAfter and ValidUntil leave the validity window to server policy.
type SignRequest struct {
	Key             string            `json:"key"`
	Principals      []string          `json:"principals"`
	CertType        string            `json:"cert_type"`
	KeyID           string            `json:"key_id"`
	ValidAfter      time.Time         `json:"valid_after"`
	ValidUntil      time.Time         `json:"valid_until"`
	CriticalOptions map[string]string `json:"critical_options"`
	Extensions      map[string]string `json:"extensions"`
	Version         string            `json:"version"`
}

// SignResponse is sent by the server.
// `Status' is "ok" or "error".
// `Response' contains the signed certificate in authorized_keys form when
// the request succeeded; `Error' is set otherwise.
type SignResponse struct {
	Status   string     `json:"status"`
	Response string     `json:"response"`
	Error    *SignError `json:"error,omitempty"`
	Version  string     `json:"version"`
}

// SignError tells the client why a request was rejected or failed.
type SignError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes carried in SignError.Code.
const (
	CodeValidation         = "validation_error"
	CodeUnsupportedKey     = "unsupported_key"
	CodeUnauthorized       = "unauthorized"
	CodeKeyNotFound        = "key_not_found"
	CodeBackendUnavailable = "backend_unavailable"
	CodeSigningError       = "signing_error"
)
