package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/google/subcommands"

	"model-uploader/internal/bootstrap"
)

type outputFlag struct {
	format string
}

func (o *outputFlag) register(f *flag.FlagSet) {
	f.StringVar(&o.format, "o", formatTable, "output format: table, json or yaml")
}

func (o *outputFlag) printer() (printer, error) {
	p := printer{format: o.format, w: os.Stdout}
	if err := p.validate(); err != nil {
		return p, fmt.Errorf("%w: %v", errUsage, err)
	}
	return p, nil
}

// ============================================================================
// workspaces
// ============================================================================

type workspacesCmd struct {
	out outputFlag
}

func (*workspacesCmd) Name() string     { return "workspaces" }
func (*workspacesCmd) Synopsis() string { return "list workspaces visible to the API key" }
func (*workspacesCmd) Usage() string {
	return "workspaces [-o format]\n"
}
func (c *workspacesCmd) SetFlags(f *flag.FlagSet) { c.out.register(f) }

func (c *workspacesCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	p, err := c.out.printer()
	if err != nil {
		return exitStatus(err)
	}
	return run(ctx, func(app *bootstrap.App) error {
		items, err := app.Hierarchy.ListWorkspaces(ctx)
		if err != nil {
			return err
		}
		return p.print(items, func(tw *tabwriter.Writer) {
			fmt.Fprintln(tw, "ID\tNAME")
			for _, w := range items {
				fmt.Fprintf(tw, "%s\t%s\n", w.ID, w.Name)
			}
		})
	})
}

// ============================================================================
// projects
// ============================================================================

type projectsCmd struct {
	out outputFlag
}

func (*projectsCmd) Name() string     { return "projects" }
func (*projectsCmd) Synopsis() string { return "list the projects of a workspace" }
func (*projectsCmd) Usage() string {
	return "projects [-o format] <workspace>\n"
}
func (c *projectsCmd) SetFlags(f *flag.FlagSet) { c.out.register(f) }

func (c *projectsCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	p, err := c.out.printer()
	if err != nil {
		return exitStatus(err)
	}
	return run(ctx, func(app *bootstrap.App) error {
		items, err := app.Hierarchy.ListProjects(ctx, f.Arg(0))
		if err != nil {
			return err
		}
		return p.print(items, func(tw *tabwriter.Writer) {
			fmt.Fprintln(tw, "ID\tNAME\tTYPE")
			for _, pr := range items {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", pr.ID, pr.Name, orDash(pr.Type))
			}
		})
	})
}

// ============================================================================
// versions
// ============================================================================

type versionsCmd struct {
	out outputFlag
}

func (*versionsCmd) Name() string     { return "versions" }
func (*versionsCmd) Synopsis() string { return "list the versions of a project, newest first" }
func (*versionsCmd) Usage() string {
	return "versions [-o format] <workspace> <project>\n"
}
func (c *versionsCmd) SetFlags(f *flag.FlagSet) { c.out.register(f) }

func (c *versionsCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 2 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	p, err := c.out.printer()
	if err != nil {
		return exitStatus(err)
	}
	return run(ctx, func(app *bootstrap.App) error {
		items, err := app.Hierarchy.ListVersions(ctx, f.Arg(0), f.Arg(1))
		if err != nil {
			return err
		}
		return p.print(items, func(tw *tabwriter.Writer) {
			fmt.Fprintln(tw, "ID\tNAME\tTRAINED")
			for _, v := range items {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", v.ID, orDash(v.Name), strconv.FormatBool(v.Trained))
			}
		})
	})
}
