// Command mailserver boots the restinmail server: resolve config,
// bind listeners, open stores, construct the shared core, and hand off
// to the housekeeper scheduler.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/caasmo/restinmail/internal/housekeeper"
	"github.com/caasmo/restinmail/internal/manager"
)

func main() {
	configFlag := flag.String("config", "", "path to config.toml")
	initDir := flag.String("init", "", "scaffold a new config tree at this directory and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [--config=<path>] | --init <dir>\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *initDir != "" {
		if err := manager.Quickstart(*initDir); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := manager.ConfigPathArgs{
		ConfigFlag: *configFlag,
		EnvVar:     os.Getenv("CONFIG_PATH"),
	}

	result, err := manager.Boot(ctx, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "boot failed: %v\n", err)
		os.Exit(1)
	}

	logger := result.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	logger.Info("boot complete", "config_version", result.Core.Version())

	acmeRuntimes := make(map[string]housekeeper.AcmeRuntime, len(result.AcmeRuntimes))
	for id, rt := range result.AcmeRuntimes {
		acmeRuntimes[id] = rt
	}

	var sessions housekeeper.SessionCache
	if snap := result.Core.Load(); snap != nil {
		sessions = snap.Caches
	}

	sched := housekeeper.New(housekeeper.Deps{
		Core:       result.Core,
		Logger:     logger,
		Acme:       acmeRuntimes,
		PurgeStore: &manager.RegistryPurger{Core: result.Core},
		Sessions:   sessions,
	})

	go sched.Run(ctx)

	<-ctx.Done()
	logger.Info("shutting down")
}
