package main

import (
	"fmt"
	"log"
	"net"
	"os"
	"os/user"
	"path"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/crypto/ssh/agent"

	"github.com/jasonrig/cloudca/client"
	"github.com/jasonrig/cloudca/lib"
)

var (
	u, _    = user.Current()
	cfg     = pflag.String("config", path.Join(u.HomeDir, ".cloudca.conf"), "Path to config file")
	_       = pflag.String("ca", "http://localhost:10000", "CA server")
	_       = pflag.String("auth_token", "", "Token used to authenticate with the CA")
	_       = pflag.Int("key_size", 0, "Size of key to generate. Ignored for ed25519 keys. (default 2048 for rsa keys, 256 for ecdsa keys)")
	_       = pflag.Duration("validity", time.Hour*24, "Key lifetime. May be overridden by the CA at signing time")
	_       = pflag.String("key_type", "", "Type of private key to generate - rsa, ecdsa or ed25519. (default \"rsa\")")
	_       = pflag.String("cert_type", "", "Type of certificate to request - user or host. (default \"user\")")
	_       = pflag.String("key_id", "", "Key ID to request (optional, assigned by the CA when empty)")
	_       = pflag.StringSlice("principals", nil, "Principals to request")
	_       = pflag.String("public_file_prefix", "", "Prefix for filename for public key and cert (optional, no default)")
	version = pflag.Bool("version", false, "Print version and exit")
)

func main() {
	pflag.Parse()
	if *version {
		fmt.Printf("%s\n", lib.Version)
		os.Exit(0)
	}
	log.SetPrefix("cloudca: ")
	log.SetFlags(0)

	c, err := client.ReadConfig(*cfg)
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	fmt.Println("Generating new key pair")
	priv, pub, err := client.GenerateKey(client.KeyType(c.Keytype), client.KeySize(c.Keysize))
	if err != nil {
		log.Fatalln("Error generating key pair: ", err)
	}

	cert, err := client.Sign(pub, c.AuthToken, c)
	if err != nil {
		log.Fatalln(err)
	}
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		conn, err := net.Dial("unix", sock)
		if err != nil {
			log.Fatalf("Error connecting to agent: %v", err)
		}
		defer conn.Close()
		a := agent.NewClient(conn)
		if err := client.InstallCert(a, cert, priv); err != nil {
			log.Fatalln(err)
		}
		fmt.Println("Credentials added.")
	}
	if err := client.SavePublicFiles(c.PublicFilePrefix, cert, pub); err != nil {
		log.Fatalln(err)
	}
	if err := client.SavePrivateFiles(c.PublicFilePrefix, cert, priv); err != nil {
		log.Fatalln(err)
	}
}
