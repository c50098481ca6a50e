// Command anvil-daemon is the long-running Anvil control-plane process: it
// bootstraps the peer pool, holds the advisory lock as needed, claims and
// drives jobs, runs the drift detector/resync engine/archiver on their
// schedules, and serves the read-only admin HTTP surface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/anvil-ha/anvil/internal/anvilconf"
	"github.com/anvil-ha/anvil/internal/app"
	"github.com/anvil-ha/anvil/internal/envconfig"
)

func main() {
	hostType := flag.String("host-type", "node", "this host's role: node, dashboard, or dr")
	flag.Parse()

	env, err := envconfig.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: loading environment config: %v\n", err)
		os.Exit(1)
	}

	acFile, err := anvilconf.Load(env.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: loading %s: %v\n", env.ConfigPath, err)
		os.Exit(1)
	}

	hostUUID, ok := acFile.Get("host::uuid")
	if !ok || hostUUID == "" {
		hostUUID = uuid.NewString()
		acFile.Set("host::uuid", hostUUID)
		if err := acFile.Save(); err != nil {
			fmt.Fprintf(os.Stderr, "error: persisting generated host::uuid: %v\n", err)
			os.Exit(1)
		}
	}

	hostname, err := os.Hostname()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: reading hostname: %v\n", err)
		os.Exit(1)
	}

	id := app.Identity{
		HostUUID: hostUUID,
		Hostname: hostname,
		HostType: *hostType,
		HostKey:  acFile.GetDefault("host::key", ""),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx, env, id); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		var fatal *app.FatalError
		if errors.As(err, &fatal) {
			os.Exit(fatal.ExitCode)
		}
		os.Exit(1)
	}
}
