package lib

import (
	"strings"

	"golang.org/x/crypto/ssh"
)

// GetPublicKey marshals an ssh public key or certificate to a single
// authorized_keys line without the trailing newline.
func GetPublicKey(pub ssh.PublicKey) string {
	return strings.TrimSuffix(string(ssh.MarshalAuthorizedKey(pub)), "\n")
}
