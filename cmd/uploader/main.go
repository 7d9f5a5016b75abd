// Command uploader browses the remote workspace hierarchy, deploys model
// artifacts and datasets, and inspects the local audit trail.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/subcommands"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")

	subcommands.Register(&workspacesCmd{}, "browse")
	subcommands.Register(&projectsCmd{}, "browse")
	subcommands.Register(&versionsCmd{}, "browse")

	subcommands.Register(newDeployCmd(os.Stdin), "upload")
	subcommands.Register(&datasetCmd{}, "upload")

	subcommands.Register(&historyCmd{}, "audit")
	subcommands.Register(&showCmd{}, "audit")
	subcommands.Register(&statsCmd{}, "audit")
	subcommands.Register(&eventsCmd{}, "audit")
	subcommands.Register(&watchCmd{}, "audit")

	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	os.Exit(int(subcommands.Execute(ctx)))
}
