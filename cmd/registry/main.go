// Command registry runs the standalone registry server.
//
// Usage: registry [port] [debug|test|debugtest]
//
// The default port is 8000. "debug" raises log verbosity, "test"
// pre-registers two demo services, "debugtest" does both. The process exits
// non-zero on bind failure.
package main

import (
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v2"

	"lite-rpc/registry"
)

const defaultPort = 8000

func main() {
	app := &cli.App{
		Name:      "registry",
		Usage:     "standalone service registry for lite-rpc",
		ArgsUsage: "[port] [debug|test|debugtest]",
		Action:    run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Error("registry failed", "err", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	port := defaultPort
	if c.Args().Len() > 0 {
		p, err := strconv.Atoi(c.Args().Get(0))
		if err != nil {
			log.Warn("invalid port argument, using default", "arg", c.Args().Get(0), "port", defaultPort)
		} else {
			port = p
		}
	}

	mode := strings.ToLower(c.Args().Get(1))
	debug := strings.Contains(mode, "debug")
	test := strings.Contains(mode, "test")
	if debug {
		log.SetLevel(log.DebugLevel)
	}

	srv := registry.NewRegistryServer(port, debug)
	if err := srv.Start(); err != nil {
		return err
	}
	if test {
		srv.RegisterTestServices()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	srv.Shutdown()
	return nil
}
