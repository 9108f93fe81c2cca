package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var (
	parsedConfig = &Config{
		Server: &Server{
			UseTLS:          true,
			TLSKey:          "server.key",
			TLSCert:         "server.crt",
			Addr:            "127.0.0.1",
			Port:            443,
			User:            "nobody",
			AuthToken:       "supersecret",
			HTTPLogFile:     "cloudcad.log",
			ShutdownTimeout: "5s",
		},
		CA: &CA{
			Provider:             "gcpkms",
			AdditionalPrincipals: []string{"ec2-user", "ubuntu"},
			MaxAge:               "720h",
			Permissions:          []string{"permit-pty", "permit-X11-forwarding", "permit-port-forwarding", "permit-user-rc"},
		},
		AWS: &AWS{
			Region:    "us-east-1",
			AccessKey: "abcdef",
			SecretKey: "omg123",
			KeyID:     "alias/ssh-ca",
		},
		Azure: &Azure{
			VaultURL: "https://sshca.vault.azure.net/",
			KeyName:  "ssh-ca",
		},
		GCP: &GCP{
			Key:             "projects/demo/locations/global/keyRings/ssh/cryptoKeys/ca/cryptoKeyVersions/1",
			CredentialsFile: "service-account.json",
		},
		Vault: &Vault{
			Address: "https://vault:8200",
			Token:   "abc-def-456-789",
		},
	}
)

func TestConfigParser(t *testing.T) {
	c, err := ReadConfig("testdata/test.config")
	if err != nil {
		t.Error(err)
	}
	assert.Equal(t, parsedConfig, c)
}

func TestConfigVerify(t *testing.T) {
	_, err := ReadConfig("testdata/empty.config")
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "missing server config section")
		assert.Contains(t, err.Error(), "missing ca config section")
	}
}

func TestConfigProviderRequirements(t *testing.T) {
	for _, tt := range []struct {
		conf *Config
		want string
	}{
		{&Config{Server: &Server{}, CA: &CA{Provider: "awskms"}}, "aws.key_id"},
		{&Config{Server: &Server{}, CA: &CA{Provider: "azurekv"}, Azure: &Azure{VaultURL: "https://v"}}, "azure.vault_url and azure.key_name"},
		{&Config{Server: &Server{}, CA: &CA{Provider: "gcpkms"}, GCP: &GCP{}}, "gcp.key"},
		{&Config{Server: &Server{}, CA: &CA{Provider: "localfile"}}, "unknown ca provider"},
	} {
		err := verifyConfig(tt.conf)
		if assert.Error(t, err, tt.conf.CA.Provider) {
			assert.Contains(t, err.Error(), tt.want)
		}
	}
}

func TestConfigProviderComplete(t *testing.T) {
	for _, conf := range []*Config{
		{Server: &Server{}, CA: &CA{Provider: "awskms"}, AWS: &AWS{KeyID: "alias/ssh-ca"}},
		{Server: &Server{}, CA: &CA{Provider: "azurekv"}, Azure: &Azure{VaultURL: "https://v", KeyName: "ca"}},
		{Server: &Server{}, CA: &CA{Provider: "gcpkms"}, GCP: &GCP{Key: "projects/demo/locations/global/keyRings/ssh/cryptoKeys/ca/cryptoKeyVersions/1"}},
	} {
		assert.NoError(t, verifyConfig(conf), conf.CA.Provider)
	}
}

func TestConfigFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "5000")
	t.Setenv("AUTH_TOKEN", "envtoken")
	c, err := ReadConfig("testdata/test.config")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 5000, c.Server.Port)
	assert.Equal(t, "envtoken", c.Server.AuthToken)
}
