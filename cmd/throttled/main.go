// Command throttled is a throttling reverse proxy driven by a YAML policy file.
package main

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/jassus213/throttle/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" default:"1" help:"Start the throttling proxy."`
	Validate ValidateCmd `cmd:"" help:"Validate configuration file."`

	Config   string `short:"c" env:"THROTTLE_CONFIG" help:"Path to config file." type:"path"`
	EnvFile  string `name:"env-file" help:"Extra .env file to load." type:"path"`
	LogLevel string `env:"THROTTLE_LOG_LEVEL" help:"Override log level (debug, info, warn, error)."`
}

func (c *CLI) load() (*config.Config, error) {
	if err := config.LoadDotEnv(c.Config, c.EnvFile); err != nil {
		return nil, err
	}
	cfg, err := config.LoadFile(c.Config)
	if err != nil {
		return nil, err
	}
	if c.LogLevel != "" {
		cfg.Log.Level = c.LogLevel
	}
	return cfg, nil
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("throttled version %s\n", version)
	return nil
}

// ValidateCmd loads the configuration and builds every policy without serving.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := cli.load()
	if err != nil {
		return err
	}
	rt, err := config.Build(context.Background(), cfg, config.BuildOptions{})
	if err != nil {
		return err
	}
	defer rt.Close()

	for _, p := range cfg.Policies {
		state := "enabled"
		if p.Disabled {
			state = "disabled"
		}
		fmt.Printf("policy %-12s %d per %s by %s (%s)\n", p.Name, p.Limit, p.Window, p.Key, state)
	}
	fmt.Println("configuration is valid")
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("throttled"),
		kong.Description("Fixed window request throttling in front of an HTTP service."),
		kong.UsageOnError(),
	)
	if err := ctx.Run(&cli); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
