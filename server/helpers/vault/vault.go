// Package vault wraps the Hashicorp Vault API for the small set of
// operations the CA needs: resolving config values like the auth token and
// cloud signing credentials, and backing the /vault/ well-known filesystem.
package vault

import (
	"fmt"
	"strings"

	"github.com/hashicorp/vault/api"
)

// Client reads secrets from a vault server.
type Client struct {
	vault *api.Client
}

// NewClient returns a Client authenticated with the given token.
func NewClient(address, token string) (*Client, error) {
	client, err := api.NewClient(&api.Config{
		Address: address,
	})
	if err != nil {
		return nil, err
	}
	client.SetToken(token)
	return &Client{
		vault: client,
	}, nil
}

// splitSecretPath turns a name of the form `/vault/secret/ssh-ca/token`
// into the secret path `secret/ssh-ca` and the key `token`.
func splitSecretPath(name string) (path, key string) {
	name = strings.TrimPrefix(name, "/vault/")
	i := strings.LastIndex(name, "/")
	if i < 0 {
		return name, ""
	}
	return name[:i], name[i+1:]
}

// Read returns the secret stored at a `/vault/path/key` location. If the
// requested key cannot be read the original string is returned along with
// an error.
func (c *Client) Read(value string) (string, error) {
	p, k := splitSecretPath(value)
	data, err := c.vault.Logical().Read(p)
	if err != nil {
		return value, err
	}
	if data == nil {
		return value, fmt.Errorf("no such key %s", k)
	}
	secret, ok := data.Data[k].(string)
	if !ok {
		return value, fmt.Errorf("no such key %s", k)
	}
	return secret, nil
}

// Delete removes the secret at the `/vault/path/key` location.
func (c *Client) Delete(value string) error {
	p, _ := splitSecretPath(value)
	_, err := c.vault.Logical().Delete(p)
	return err
}
