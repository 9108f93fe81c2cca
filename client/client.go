package client

import (
	"bytes"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/jasonrig/cloudca/lib"
)

// SavePublicFiles installs the public part of the cert and key.
func SavePublicFiles(prefix string, cert *ssh.Certificate, pub ssh.PublicKey) error {
	if prefix == "" {
		return nil
	}
	pubTxt := ssh.MarshalAuthorizedKey(pub)
	certPubTxt := []byte(cert.Type() + " " + base64.StdEncoding.EncodeToString(cert.Marshal()))

	_prefix := prefix + "/id_" + cert.KeyId

	if err := os.WriteFile(_prefix+".pub", pubTxt, 0644); err != nil {
		return err
	}
	err := os.WriteFile(_prefix+"-cert.pub", certPubTxt, 0644)

	return err
}

// SavePrivateFiles installs the private part of the key.
func SavePrivateFiles(prefix string, cert *ssh.Certificate, key Key) error {
	if prefix == "" {
		return nil
	}
	_prefix := prefix + "/id_" + cert.KeyId
	pemBlock, err := pemBlockForKey(key)
	if err != nil {
		return err
	}
	err = os.WriteFile(_prefix, pem.EncodeToMemory(pemBlock), 0600)
	return err
}

// InstallCert adds the private key and signed certificate to the ssh agent.
func InstallCert(a agent.Agent, cert *ssh.Certificate, key Key) error {
	t := time.Unix(int64(cert.ValidBefore), 0)
	lifetime := time.Until(t).Seconds()
	comment := fmt.Sprintf("%s [Expires %s]", cert.KeyId, t)
	pubcert := agent.AddedKey{
		PrivateKey:   key,
		Certificate:  cert,
		Comment:      comment,
		LifetimeSecs: uint32(lifetime),
	}
	if err := a.Add(pubcert); err != nil {
		return fmt.Errorf("unable to add cert to ssh agent: %w", err)
	}
	privkey := agent.AddedKey{
		PrivateKey:   key,
		Comment:      comment,
		LifetimeSecs: uint32(lifetime),
	}
	if err := a.Add(privkey); err != nil {
		return fmt.Errorf("unable to add private key to ssh agent: %w", err)
	}
	return nil
}

// send the signing request to the CA.
func send(s []byte, token, ca string, validateTLSCertificate bool) (*lib.SignResponse, error) {
	client := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: !validateTLSCertificate},
		},
		Timeout: 30 * time.Second,
	}
	u, err := url.Parse(ca)
	if err != nil {
		return nil, fmt.Errorf("unable to parse CA url: %w", err)
	}
	u.Path = path.Join(u.Path, "/sign")
	req, err := http.NewRequest("POST", u.String(), bytes.NewReader(s))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Add("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	// Error responses carry a SignResponse too, so decode regardless of
	// the status code.
	signResponse := &lib.SignResponse{}
	if err := json.NewDecoder(resp.Body).Decode(signResponse); err != nil {
		return nil, fmt.Errorf("unable to decode server response (%s): %w", resp.Status, err)
	}
	return signResponse, nil
}

// Sign sends the public key to the CA to be signed.
func Sign(pub ssh.PublicKey, token string, conf *Config) (*ssh.Certificate, error) {
	validity, err := time.ParseDuration(conf.Validity)
	if err != nil {
		return nil, err
	}
	s, err := json.Marshal(&lib.SignRequest{
		Key:        lib.GetPublicKey(pub),
		Principals: conf.Principals,
		CertType:   conf.CertType,
		KeyID:      conf.KeyID,
		ValidUntil: time.Now().Add(validity),
		Version:    lib.Version,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create sign request: %w", err)
	}
	resp, err := send(s, token, conf.CA, conf.ValidateTLSCertificate)
	if err != nil {
		return nil, fmt.Errorf("error sending request to CA: %w", err)
	}
	if resp.Status != "ok" {
		if resp.Error != nil {
			return nil, fmt.Errorf("bad response from CA: %s: %s", resp.Error.Code, resp.Error.Message)
		}
		return nil, fmt.Errorf("bad response from CA: %s", resp.Status)
	}
	k, _, _, _, err := ssh.ParseAuthorizedKey([]byte(resp.Response))
	if err != nil {
		return nil, fmt.Errorf("unable to parse response: %w", err)
	}
	cert, ok := k.(*ssh.Certificate)
	if !ok {
		return nil, errors.New("did not receive a valid certificate from server")
	}
	return cert, nil
}
