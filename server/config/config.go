package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/hcl"

	"github.com/jasonrig/cloudca/server/helpers/vault"
)

// Config holds the final server configuration.
type Config struct {
	Server *Server `hcl:"server"`
	CA     *CA     `hcl:"ca"`
	AWS    *AWS    `hcl:"aws"`
	Azure  *Azure  `hcl:"azure"`
	GCP    *GCP    `hcl:"gcp"`
	Vault  *Vault  `hcl:"vault"`
}

// Server holds the configuration specific to the web server.
type Server struct {
	UseTLS                bool   `hcl:"use_tls"`
	TLSKey                string `hcl:"tls_key"`
	TLSCert               string `hcl:"tls_cert"`
	LetsEncryptServername string `hcl:"letsencrypt_servername"`
	LetsEncryptCache      string `hcl:"letsencrypt_cachedir"`
	Addr                  string `hcl:"address"`
	Port                  int    `hcl:"port"`
	User                  string `hcl:"user"`
	AuthToken             string `hcl:"auth_token"`
	HTTPLogFile           string `hcl:"http_logfile"`
	ShutdownTimeout       string `hcl:"shutdown_timeout"`
}

// CA holds the signing policy and names the cloud provider that holds the
// signing key: "awskms", "azurekv" or "gcpkms".
type CA struct {
	Provider             string   `hcl:"provider"`
	AdditionalPrincipals []string `hcl:"additional_principals"`
	MaxAge               string   `hcl:"max_age"`
	Permissions          []string `hcl:"permissions"`
}

// AWS holds Amazon AWS configuration: the KMS key to sign with and,
// optionally, static credentials. Credentials can also be supplied through
// the usual SDK methods.
type AWS struct {
	Region    string `hcl:"region"`
	AccessKey string `hcl:"access_key"`
	SecretKey string `hcl:"secret_key"`
	KeyID     string `hcl:"key_id"`
}

// Azure holds Azure Key Vault configuration. An empty KeyVersion selects
// the latest version of the key.
type Azure struct {
	VaultURL   string `hcl:"vault_url"`
	KeyName    string `hcl:"key_name"`
	KeyVersion string `hcl:"key_version"`
}

// GCP holds Google Cloud KMS configuration. Key is the full resource name
// of a crypto key version.
type GCP struct {
	Key             string `hcl:"key"`
	CredentialsFile string `hcl:"credentials_file"`
}

// Vault holds Hashicorp Vault configuration.
type Vault struct {
	Address string `hcl:"address"`
	Token   string `hcl:"token"`
}

func verifyConfig(c *Config) error {
	var err error
	if c.Server == nil {
		err = multierror.Append(err, errors.New("missing server config section"))
	}
	if c.CA == nil {
		err = multierror.Append(err, errors.New("missing ca config section"))
		return err
	}
	switch c.CA.Provider {
	case "awskms":
		if c.AWS == nil || c.AWS.KeyID == "" {
			err = multierror.Append(err, errors.New("ca provider awskms needs aws.key_id"))
		}
	case "azurekv":
		if c.Azure == nil || c.Azure.VaultURL == "" || c.Azure.KeyName == "" {
			err = multierror.Append(err, errors.New("ca provider azurekv needs azure.vault_url and azure.key_name"))
		}
	case "gcpkms":
		if c.GCP == nil || c.GCP.Key == "" {
			err = multierror.Append(err, errors.New("ca provider gcpkms needs gcp.key"))
		}
	default:
		err = multierror.Append(err, fmt.Errorf("unknown ca provider %q", c.CA.Provider))
	}
	return err
}

func setFromEnvironment(c *Config) {
	port, err := strconv.Atoi(os.Getenv("PORT"))
	if err == nil {
		c.Server.Port = port
	}
	if os.Getenv("AUTH_TOKEN") != "" {
		c.Server.AuthToken = os.Getenv("AUTH_TOKEN")
	}
}

func setFromVault(c *Config) error {
	if c.Vault == nil || c.Vault.Token == "" || c.Vault.Address == "" {
		return nil
	}
	v, err := vault.NewClient(c.Vault.Address, c.Vault.Token)
	if err != nil {
		return fmt.Errorf("vault error: %w", err)
	}
	var errs *multierror.Error
	get := func(value string) string {
		if strings.HasPrefix(value, "/vault/") {
			s, err := v.Read(value)
			if err != nil {
				errs = multierror.Append(errs, err)
			}
			return s
		}
		return value
	}
	if c.Server != nil {
		c.Server.AuthToken = get(c.Server.AuthToken)
	}
	if c.AWS != nil {
		c.AWS.AccessKey = get(c.AWS.AccessKey)
		c.AWS.SecretKey = get(c.AWS.SecretKey)
	}
	return errs.ErrorOrNil()
}

// ReadConfig parses a hcl configuration file into a Config struct.
func ReadConfig(f string) (*Config, error) {
	config := &Config{}
	bs, err := os.ReadFile(f)
	if err != nil {
		return nil, fmt.Errorf("unable to read config from file %s: %w", f, err)
	}
	if err := hcl.Unmarshal(bs, config); err != nil {
		return nil, fmt.Errorf("error parsing config: %v", err)
	}
	if err := setFromVault(config); err != nil {
		return nil, err
	}
	if config.Server != nil {
		setFromEnvironment(config)
	}
	if err := verifyConfig(config); err != nil {
		return nil, fmt.Errorf("unable to verify config: %w", err)
	}
	return config, nil
}
