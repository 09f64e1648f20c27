// Parley - interactive UDP chat client
//
// Parley joins a parleyd server, keeps the session alive with
// heartbeats, and turns typed commands into chat traffic. Chat output
// goes to stdout; log lines go to stderr.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/parley-project/parley/internal/client"
	"github.com/parley-project/parley/internal/config"
	"github.com/parley-project/parley/internal/util"
)

func main() {
	var (
		serverHost = flag.String("server", "127.0.0.1", "server host or IP")
		serverPort = flag.Int("port", config.DefaultRendezvousPort, "server rendezvous port")
		name       = flag.String("name", "", "username (required)")
		heartbeat  = flag.Duration("heartbeat", time.Duration(config.DefaultHeartbeatIntervalMS)*time.Millisecond, "heartbeat interval")
		verbose    = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	level := zerolog.WarnLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	util.InitConsoleLogger(level)

	if err := client.ValidateName(*name); err != nil {
		fmt.Fprintf(os.Stderr, "invalid -name: %v\n", err)
		flag.Usage()
		os.Exit(2)
	}

	ips, err := net.LookupIP(*serverHost)
	if err != nil || len(ips) == 0 {
		log.Fatal().Err(err).Str("host", *serverHost).Msg("cannot resolve server host")
	}
	var serverIP net.IP
	for _, ip := range ips {
		if ip4 := ip.To4(); ip4 != nil {
			serverIP = ip4
			break
		}
	}
	if serverIP == nil {
		log.Fatal().Str("host", *serverHost).Msg("server host has no IPv4 address")
	}
	server := &net.UDPAddr{IP: serverIP, Port: *serverPort}

	c := client.New(*name, server, *heartbeat, os.Stdout)

	ctx := context.Background()
	if err := c.Join(ctx); err != nil {
		if errors.Is(err, client.ErrNameTaken) {
			fmt.Fprintf(os.Stderr, "the name %q is already taken, pick another\n", *name)
			os.Exit(1)
		}
		log.Fatal().Err(err).Msg("failed to join server")
	}

	fmt.Printf("joined %s as %s (type /help for commands)\n", server, *name)

	if err := c.Run(ctx, os.Stdin); err != nil {
		log.Fatal().Err(err).Msg("session ended with error")
	}
	fmt.Println("bye")
}
