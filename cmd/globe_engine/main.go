package main

import (
	"fmt"

	"github.com/alecthomas/kong"
)

// BuildDate and Version can be set at build time via ldflags
var (
	Version   = "0.1.0"
	BuildDate = "unknown"

	AppName = "globe_engine"
)

// CLI is the command line of the engine binary.
type CLI struct {
	ConfigDir string           `help:"Directory containing ${config_file}." default:"." type:"path" short:"c"`
	Version   kong.VersionFlag `help:"Print version and exit."`

	Run  RunCmd  `cmd:"" default:"withargs" help:"Run the engine."`
	Seed SeedCmd `cmd:"" help:"Publish records from a JSON file to the configured storage backend."`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name(AppName),
		kong.Description("Real-time geospatial message globe engine."),
		kong.UsageOnError(),
		kong.Vars{
			"version":     fmt.Sprintf("%s (%s)", Version, BuildDate),
			"config_file": "globe_engine.cfg.json",
		},
	)
	ctx.FatalIfErrorf(ctx.Run(&cli))
}
