package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
)

var cli struct {
	Config string `help:"Path to YAML configuration file." type:"path" env:"WALLCHARGE_CONFIG"`
	Debug  bool   `help:"Enable wire-level debug logging of upstream traffic."`

	Serve    serveCmd    `cmd:"" default:"1" help:"Run the HTTP server."`
	Register registerCmd `cmd:"" help:"Perform one-time Fleet API partner registration."`
	Secret   secretCmd   `cmd:"" help:"Store the OAuth client secret in the OS credential store."`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("wallcharge"),
		kong.Description("Per-device cost attribution for Tesla Wall Connector charging."),
		kong.UsageOnError(),
	)
	if err := ctx.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
