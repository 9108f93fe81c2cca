package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jasonrig/cloudca/lib"
	"github.com/jasonrig/cloudca/server"
	"github.com/jasonrig/cloudca/server/config"
	"github.com/jasonrig/cloudca/server/wkfs/vaultfs"
	"github.com/nsheridan/wkfs/s3"
)

var (
	cfg     = flag.String("config_file", "cloudcad.conf", "Path to configuration file.")
	version = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()
	if *version {
		fmt.Printf("%s\n", lib.Version)
		os.Exit(0)
	}
	conf, err := config.ReadConfig(*cfg)
	if err != nil {
		log.Fatal(err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	// Register well-known filesystems.
	if conf.AWS == nil {
		conf.AWS = &config.AWS{}
	}
	s3.Register(&s3.Options{
		Region:    conf.AWS.Region,
		AccessKey: conf.AWS.AccessKey,
		SecretKey: conf.AWS.SecretKey,
	})
	vaultfs.Register(conf.Vault)

	s := server.Run(context.Background(), conf)
	<-sig
	log.Print("shutting down...")
	gracePeriod := 30 * time.Second
	if conf.Server.ShutdownTimeout != "" {
		d, err := time.ParseDuration(conf.Server.ShutdownTimeout)
		if err != nil {
			log.Printf("Unable to parse shutdown_timeout value %s: %v", conf.Server.ShutdownTimeout, err)
		} else {
			gracePeriod = d
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), gracePeriod)
	defer cancel()
	s.Shutdown(ctx)
}
