// Command appspawn is the spawner daemon. The same binary serves as the
// warm and cold child of the daemon.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/criyle/go-appspawn/config"
	"github.com/criyle/go-appspawn/daemon"
	"github.com/criyle/go-appspawn/modules"
	"github.com/criyle/go-appspawn/watchdog"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// cold start children use a fixed positional command line
	if len(os.Args) > 1 && os.Args[1] == "-mode" {
		return runCold(os.Args[1:])
	}

	var (
		modeName   string
		configPath string
	)
	flagSet := pflag.NewFlagSet("appspawn", pflag.ContinueOnError)
	flagSet.StringVarP(&modeName, "mode", "m", daemon.ModeAppSpawn.String(), "appspawn, nwebspawn or appspawn_child")
	flagSet.StringVarP(&configPath, "config", "c", "", "configuration file (yaml or jsonc)")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	mode, err := daemon.ParseMode(modeName)
	if err != nil {
		return err
	}
	switch {
	case mode == daemon.ModeChild:
		// the configuration comes with the payload
		m := daemon.New(mode, config.Default())
		if err := modules.Install(m); err != nil {
			return err
		}
		return m.RunChild(nil)
	case !mode.IsServer():
		return fmt.Errorf("mode %v needs the cold start command line", mode)
	}
	return serve(mode, configPath)
}

func runCold(args []string) error {
	cold, err := daemon.ParseColdArgs(args)
	if err != nil {
		return err
	}
	m := daemon.New(cold.Mode, config.Default())
	if err := modules.Install(m); err != nil {
		return err
	}
	return m.RunChild(cold)
}

func serve(mode daemon.Mode, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := cfg.Log.NewLogger()

	opts := []daemon.Option{daemon.WithLogger(logger)}
	if mode == daemon.ModeAppSpawn && cfg.Watchdog.Enabled {
		opts = append(opts, daemon.WithWatchdog(watchdog.New(cfg.Watchdog.Files, logger)))
	}
	m := daemon.New(mode, cfg, opts...)
	if configPath != "" {
		m.HelperArgs = []string{"--config", configPath}
	}
	if err := modules.Install(m); err != nil {
		return err
	}
	if err := m.Listen(); err != nil {
		return err
	}
	logger.Info("serving", "socket", m.SocketPath(), "pid", os.Getpid())
	return m.Run(context.Background())
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `appspawn spawns application processes on request.

Usage: appspawn [flags]

Flags:
`)
	flagSet.PrintDefaults()
}
