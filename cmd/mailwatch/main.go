// Command mailwatch observes fetch runs on a mailpulse server.
package main

import (
	"github.com/alecthomas/kong"
)

var Version = "dev"

type CLI struct {
	Globals

	TUI   TUICmd   `cmd:"" name:"tui" default:"1" help:"Interactive terminal view (default)"`
	Plain PlainCmd `cmd:"" help:"Trigger a fetch run and print rows with a progress bar"`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("mailwatch"),
		kong.Description("Watch mailpulse fetch runs as they happen."),
		kong.Vars{"version": Version},
	)
	err := ctx.Run(&cli.Globals)
	ctx.FatalIfErrorf(err)
}
