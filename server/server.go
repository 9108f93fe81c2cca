package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	wkfscache "github.com/nsheridan/autocert-wkfs-cache"
	"github.com/sid77/drop"
	"go4.org/wkfs"
	"golang.org/x/crypto/acme/autocert"
	"golang.org/x/crypto/ssh"
	"google.golang.org/api/option"

	"github.com/jasonrig/cloudca/lib"
	"github.com/jasonrig/cloudca/server/backend"
	"github.com/jasonrig/cloudca/server/backend/awskms"
	"github.com/jasonrig/cloudca/server/backend/azurekv"
	"github.com/jasonrig/cloudca/server/backend/gcpkms"
	"github.com/jasonrig/cloudca/server/config"
	"github.com/jasonrig/cloudca/server/metrics"
	"github.com/jasonrig/cloudca/server/signer"
)

func loadCerts(certFile, keyFile string) (tls.Certificate, error) {
	key, err := wkfs.ReadFile(keyFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("error reading TLS private key: %w", err)
	}
	cert, err := wkfs.ReadFile(certFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("error reading TLS certificate: %w", err)
	}
	return tls.X509KeyPair(cert, key)
}

// newBackend builds the signing backend named in the ca section.
func newBackend(ctx context.Context, conf *config.Config) (backend.SigningBackend, error) {
	switch conf.CA.Provider {
	case "awskms":
		var opts []func(*awsconfig.LoadOptions) error
		if conf.AWS.Region != "" {
			opts = append(opts, awsconfig.WithRegion(conf.AWS.Region))
		}
		if conf.AWS.AccessKey != "" && conf.AWS.SecretKey != "" {
			opts = append(opts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(conf.AWS.AccessKey, conf.AWS.SecretKey, "")))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, err
		}
		return awskms.New(ctx, cfg, conf.AWS.KeyID)
	case "azurekv":
		return azurekv.New(ctx, conf.Azure.VaultURL, conf.Azure.KeyName, conf.Azure.KeyVersion, nil)
	case "gcpkms":
		var opts []option.ClientOption
		if conf.GCP.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(conf.GCP.CredentialsFile))
		}
		return gcpkms.New(ctx, conf.GCP.Key, opts...)
	}
	return nil, fmt.Errorf("unknown ca provider %q", conf.CA.Provider)
}

// Run the server. The returned http.Server is already serving; stop it with
// Shutdown.
func Run(ctx context.Context, conf *config.Config) *http.Server {
	var err error

	laddr := fmt.Sprintf("%s:%d", conf.Server.Addr, conf.Server.Port)
	l, err := net.Listen("tcp", laddr)
	if err != nil {
		log.Fatalf("unable to listen on %s: %v", laddr, err)
	}

	tlsConfig := &tls.Config{}
	if conf.Server.UseTLS {
		if conf.Server.LetsEncryptServername != "" {
			m := autocert.Manager{
				Prompt:     autocert.AcceptTOS,
				HostPolicy: autocert.HostWhitelist(conf.Server.LetsEncryptServername),
			}
			if conf.Server.LetsEncryptCache != "" {
				m.Cache = wkfscache.Cache(conf.Server.LetsEncryptCache)
			}
			tlsConfig = m.TLSConfig()
		} else {
			if conf.Server.TLSCert == "" || conf.Server.TLSKey == "" {
				log.Fatal("TLS cert or key not specified in config")
			}
			tlsConfig.Certificates = make([]tls.Certificate, 1)
			tlsConfig.Certificates[0], err = loadCerts(conf.Server.TLSCert, conf.Server.TLSKey)
			if err != nil {
				log.Fatalf("unable to create TLS listener: %v", err)
			}
		}
		l = tls.NewListener(l, tlsConfig)
	}

	if conf.Server.User != "" {
		log.Print("Dropping privileges...")
		if err := drop.DropPrivileges(conf.Server.User); err != nil {
			log.Fatalf("unable to drop privileges: %v", err)
		}
	}

	// Unprivileged section
	metrics.Register()

	ca, err := newBackend(ctx, conf)
	if err != nil {
		log.Fatalf("unable to use ca provider '%s': %v", conf.CA.Provider, err)
	}
	log.Printf("CA key (%s): %s %s", conf.CA.Provider, ca.PublicKey().Type(), ssh.FingerprintSHA256(ca.PublicKey()))

	keysigner, err := signer.New(conf.CA, ca)
	if err != nil {
		log.Fatal(err)
	}

	app := &application{
		keysigner: keysigner,
		authtoken: conf.Server.AuthToken,
		provider:  conf.CA.Provider,
		router:    mux.NewRouter(),
	}

	logfile := os.Stderr
	if conf.Server.HTTPLogFile != "" {
		logfile, err = os.OpenFile(conf.Server.HTTPLogFile, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0640)
		if err != nil {
			log.Printf("error opening log: %v. logging to stderr", err)
			logfile = os.Stderr
		}
	}

	app.routes()
	app.router.Use(mwVersion)
	app.router.Use(handlers.CompressHandler)
	app.router.Use(handlers.RecoveryHandler())
	r := handlers.LoggingHandler(logfile, app.router)
	s := &http.Server{
		Handler:      r,
		ReadTimeout:  20 * time.Second,
		WriteTimeout: 20 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Printf("Starting server on %s", laddr)
	go func() {
		if err := s.Serve(l); err != nil && err != http.ErrServerClosed {
			log.Print(err)
		}
	}()
	return s
}

// mwVersion is middleware to add a X-Cloudca-Version header to the response.
func mwVersion(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Cloudca-Version", lib.Version)
		next.ServeHTTP(w, r)
	})
}
